package clinic

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrUserNotFound        = errors.New("user not found")
	ErrDoctorNotFound      = errors.New("doctor not found")
	ErrSlotNotFound        = errors.New("slot not found")
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrAttachmentNotFound  = errors.New("attachment not found")

	ErrEmailTaken           = errors.New("email already registered")
	ErrSlotExists           = errors.New("slot already exists for this doctor and time")
	ErrSlotUnavailable      = errors.New("slot is not available")
	ErrAppointmentFinalized = errors.New("appointment already approved or rejected")
)

type UserStore interface {
	CreateUser(ctx context.Context, u User) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (*User, error)
	ListUsers(ctx context.Context) ([]User, error)
}

type DoctorStore interface {
	CreateDoctor(ctx context.Context, d Doctor) (*Doctor, error)
	GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
	ListDoctors(ctx context.Context) ([]Doctor, error)
}

// SlotFilter narrows ListSlots. A nil OpenAfter returns every slot.
type SlotFilter struct {
	OpenAfter *time.Time
}

type SlotStore interface {
	InsertSlot(ctx context.Context, s Slot) (*Slot, error)
	DeleteSlots(ctx context.Context, doctorID uuid.UUID, startsAt time.Time) (int64, error)
	ListSlots(ctx context.Context, f SlotFilter) ([]Slot, error)
}

type AppointmentStore interface {
	// ClaimSlot flips the unbooked slot at (DoctorID, StartsAt) and inserts
	// the appointment in the same transaction. Place and SlotID are filled
	// from the slot.
	ClaimSlot(ctx context.Context, a Appointment) (*Appointment, error)

	// FinalizeAppointment moves a requested appointment to a terminal status.
	// When releaseSlot is set the linked slot becomes bookable again.
	FinalizeAppointment(ctx context.Context, id uuid.UUID, to Status, reason *string, releaseSlot bool, at time.Time) (*Appointment, error)

	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// ListAppointments returns appointments newest first, for one user when
	// userID is set.
	ListAppointments(ctx context.Context, userID *uuid.UUID) ([]AppointmentDetail, error)
}

type AttachmentStore interface {
	InsertAttachments(ctx context.Context, atts []Attachment) error
	DeleteAttachment(ctx context.Context, appointmentID uuid.UUID, filename string) (*Attachment, error)
	ListAttachments(ctx context.Context, userID *uuid.UUID) ([]Attachment, error)
}

type FormStore interface {
	InsertContactMessage(ctx context.Context, m ContactMessage) error
	// InsertSubscriber reports whether a new row was written.
	InsertSubscriber(ctx context.Context, s Subscriber) (bool, error)
}

type EventStore interface {
	InsertEvent(ctx context.Context, ev EventLog) error
	ListEvents(ctx context.Context, limit int) ([]EventLog, error)
}

// Repository contains all DB interactions needed by the service.
type Repository interface {
	UserStore
	DoctorStore
	SlotStore
	AppointmentStore
	AttachmentStore
	FormStore
	EventStore

	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close()
}
