package clinic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	redisclient "github.com/hackgods/clinic-booking/internal/redis"
)

const (
	EventAppointmentRequested = "APPOINTMENT_REQUESTED"
	EventAppointmentApproved  = "APPOINTMENT_APPROVED"
	EventAppointmentRejected  = "APPOINTMENT_REJECTED"
	EventAttachmentAdded      = "ATTACHMENT_ADDED"
	EventAttachmentRemoved    = "ATTACHMENT_REMOVED"
)

var (
	ErrValidation      = errors.New("validation failed")
	ErrForbidden       = errors.New("forbidden")
	ErrSlotBeingBooked = errors.New("slot is currently being booked, please retry")
)

// Publisher receives every event after it is written to the event log.
type Publisher interface {
	Publish(ev EventLog)
}

// FileRemover deletes a stored upload by its stored name.
type FileRemover interface {
	Remove(name string) error
}

type Options struct {
	// ReleaseSlotOnReject makes a rejected appointment's slot bookable again.
	ReleaseSlotOnReject bool

	Files     FileRemover
	Publisher Publisher
	Now       func() time.Time
}

type Service struct {
	repo   Repository
	locker redisclient.Locker
	log    *zap.Logger
	opts   Options
}

// NewService wires the workflow. locker may be nil, the conditional update in
// the store is what prevents double booking.
func NewService(repo Repository, locker redisclient.Locker, logger *zap.Logger, opts Options) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		repo:   repo,
		locker: locker,
		log:    logger,
		opts:   opts,
	}
}

func (s *Service) now() time.Time {
	return Stamp(s.opts.Now())
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// RequestAppointment claims the open slot at (doctorID, at) for userID.
// Concurrent callers for the same slot get exactly one success, the others
// see ErrSlotUnavailable or ErrSlotBeingBooked.
func (s *Service) RequestAppointment(ctx context.Context, userID, doctorID uuid.UUID, at time.Time, reason string) (*Appointment, error) {
	if doctorID == uuid.Nil {
		return nil, invalid("doctor_id is required")
	}
	if at.IsZero() {
		return nil, invalid("datetime is required")
	}
	at = Stamp(at)

	if _, err := s.repo.GetDoctorByID(ctx, doctorID); err != nil {
		if errors.Is(err, ErrDoctorNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load doctor: %w", err)
	}

	var (
		created *Appointment
		claimed bool
	)
	claim := func(ctx context.Context) error {
		claimed = true
		appt, err := s.repo.ClaimSlot(ctx, Appointment{
			ID:        uuid.New(),
			UserID:    userID,
			DoctorID:  doctorID,
			StartsAt:  at,
			Reason:    strings.TrimSpace(reason),
			CreatedAt: s.now(),
		})
		if err != nil {
			return err
		}
		created = appt
		return nil
	}

	var err error
	if s.locker != nil {
		err = s.locker.WithSlotLock(ctx, redisclient.SlotKey(doctorID, at), claim)
		if err != nil && !claimed && !errors.Is(err, redisclient.ErrLockNotAcquired) {
			// lock backend down, the conditional update still guards the slot
			s.log.Warn("slot lock unavailable, claiming without it",
				zap.Stringer("doctor_id", doctorID),
				zap.Time("datetime", at),
				zap.Error(err),
			)
			err = claim(ctx)
		}
	} else {
		err = claim(ctx)
	}
	if err != nil {
		switch {
		case errors.Is(err, redisclient.ErrLockNotAcquired):
			return nil, ErrSlotBeingBooked
		case errors.Is(err, ErrSlotUnavailable):
			return nil, err
		}
		return nil, fmt.Errorf("request appointment: %w", err)
	}

	s.logEvent(ctx, &created.ID, EventAppointmentRequested, map[string]any{
		"user_id":   userID.String(),
		"doctor_id": doctorID.String(),
		"datetime":  created.StartsAt,
		"place":     created.Place,
	})

	return created, nil
}

// Approve moves a requested appointment to approved.
func (s *Service) Approve(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	updated, err := s.repo.FinalizeAppointment(ctx, id, StatusApproved, nil, false, s.now())
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) || errors.Is(err, ErrAppointmentFinalized) {
			return nil, err
		}
		return nil, fmt.Errorf("approve appointment: %w", err)
	}

	s.logEvent(ctx, &updated.ID, EventAppointmentApproved, map[string]any{})
	return updated, nil
}

// Reject moves a requested appointment to rejected, keeping reason when set.
func (s *Service) Reject(ctx context.Context, id uuid.UUID, reason string) (*Appointment, error) {
	var stored *string
	if r := strings.TrimSpace(reason); r != "" {
		stored = &r
	}

	updated, err := s.repo.FinalizeAppointment(ctx, id, StatusRejected, stored, s.opts.ReleaseSlotOnReject, s.now())
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) || errors.Is(err, ErrAppointmentFinalized) {
			return nil, err
		}
		return nil, fmt.Errorf("reject appointment: %w", err)
	}

	payload := map[string]any{"slot_released": s.opts.ReleaseSlotOnReject && updated.SlotID != nil}
	if stored != nil {
		payload["reason"] = *stored
	}
	s.logEvent(ctx, &updated.ID, EventAppointmentRejected, payload)
	return updated, nil
}

// ListAppointmentsForUser returns the caller's appointments with attachments.
func (s *Service) ListAppointmentsForUser(ctx context.Context, userID uuid.UUID) ([]AppointmentDetail, error) {
	return s.listAppointments(ctx, &userID)
}

// ListAllAppointments is the operator view over every appointment.
func (s *Service) ListAllAppointments(ctx context.Context) ([]AppointmentDetail, error) {
	return s.listAppointments(ctx, nil)
}

func (s *Service) listAppointments(ctx context.Context, userID *uuid.UUID) ([]AppointmentDetail, error) {
	appts, err := s.repo.ListAppointments(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	atts, err := s.repo.ListAttachments(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}

	byAppt := make(map[uuid.UUID][]Attachment, len(appts))
	for _, at := range atts {
		byAppt[at.AppointmentID] = append(byAppt[at.AppointmentID], at)
	}
	for i := range appts {
		appts[i].Attachments = byAppt[appts[i].ID]
	}
	return appts, nil
}

// RecentEvents returns the latest event log entries, newest first.
func (s *Service) RecentEvents(ctx context.Context, limit int) ([]EventLog, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 200 {
		limit = 200
	}
	events, err := s.repo.ListEvents(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return events, nil
}

// logEvent never fails the caller, a lost audit row is only logged.
func (s *Service) logEvent(ctx context.Context, appointmentID *uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Warn("marshal event payload", zap.String("event", eventType), zap.Error(err))
		data = nil
	}

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: appointmentID,
		Payload:       data,
		CreatedAt:     s.now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.log.Error("insert event log",
			zap.String("event", eventType),
			zap.Stringer("appointment_id", appointmentID),
			zap.Error(err),
		)
	}

	if s.opts.Publisher != nil {
		s.opts.Publisher.Publish(ev)
	}
}
