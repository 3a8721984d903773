package clinic

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ListOpenSlots returns doctors that have at least one unbooked slot strictly
// in the future, with only those slots. Doctors are ordered by name and
// slots by time.
func (s *Service) ListOpenSlots(ctx context.Context) ([]DoctorSlots, error) {
	now := s.now()
	return s.directory(ctx, SlotFilter{OpenAfter: &now}, true)
}

// ListDoctors is the operator view: every doctor with every slot, booked and
// past ones included.
func (s *Service) ListDoctors(ctx context.Context) ([]DoctorSlots, error) {
	return s.directory(ctx, SlotFilter{}, false)
}

func (s *Service) directory(ctx context.Context, f SlotFilter, skipEmpty bool) ([]DoctorSlots, error) {
	doctors, err := s.repo.ListDoctors(ctx)
	if err != nil {
		return nil, fmt.Errorf("list doctors: %w", err)
	}
	slots, err := s.repo.ListSlots(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}

	byDoctor := make(map[uuid.UUID][]Slot, len(doctors))
	for _, slot := range slots {
		byDoctor[slot.DoctorID] = append(byDoctor[slot.DoctorID], slot)
	}

	result := make([]DoctorSlots, 0, len(doctors))
	for _, d := range doctors {
		ds := byDoctor[d.ID]
		if skipEmpty && len(ds) == 0 {
			continue
		}
		if ds == nil {
			ds = []Slot{}
		}
		result = append(result, DoctorSlots{Doctor: d, Slots: ds})
	}
	return result, nil
}

func (s *Service) CreateDoctor(ctx context.Context, name, specialty string) (*Doctor, error) {
	name = strings.TrimSpace(name)
	specialty = strings.TrimSpace(specialty)
	if name == "" || specialty == "" {
		return nil, invalid("name and specialty are required")
	}

	d, err := s.repo.CreateDoctor(ctx, Doctor{
		ID:        uuid.New(),
		Name:      name,
		Specialty: specialty,
		CreatedAt: s.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("create doctor: %w", err)
	}
	return d, nil
}

// AddSlot publishes an unbooked slot. A second slot for the same doctor and
// instant is refused with ErrSlotExists.
func (s *Service) AddSlot(ctx context.Context, doctorID uuid.UUID, at time.Time, place string) (*Slot, error) {
	if at.IsZero() {
		return nil, invalid("datetime is required")
	}

	if _, err := s.repo.GetDoctorByID(ctx, doctorID); err != nil {
		if errors.Is(err, ErrDoctorNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load doctor: %w", err)
	}

	slot, err := s.repo.InsertSlot(ctx, Slot{
		ID:        uuid.New(),
		DoctorID:  doctorID,
		StartsAt:  Stamp(at),
		Place:     strings.TrimSpace(place),
		CreatedAt: s.now(),
	})
	if err != nil {
		if errors.Is(err, ErrSlotExists) {
			return nil, err
		}
		return nil, fmt.Errorf("add slot: %w", err)
	}
	return slot, nil
}

// RemoveSlot deletes the slot at (doctorID, at) whether or not it is booked.
// Appointments keep their copied time and place.
func (s *Service) RemoveSlot(ctx context.Context, doctorID uuid.UUID, at time.Time) (int64, error) {
	if at.IsZero() {
		return 0, invalid("datetime is required")
	}

	n, err := s.repo.DeleteSlots(ctx, doctorID, Stamp(at))
	if err != nil {
		return 0, fmt.Errorf("remove slot: %w", err)
	}
	if n == 0 {
		return 0, ErrSlotNotFound
	}
	return n, nil
}
