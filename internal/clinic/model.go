package clinic

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleCitizen Role = "citizen"
	RoleAdmin   Role = "admin"
)

type Status string

const (
	StatusRequested Status = "requested"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
)

type User struct {
	ID           uuid.UUID
	Email        string
	Name         string
	PasswordHash string
	Role         Role
	CreatedAt    time.Time
}

type Doctor struct {
	ID        uuid.UUID
	Name      string
	Specialty string
	CreatedAt time.Time
}

// Slot is one bookable instant for a doctor. Booked only ever moves from
// false to true when an appointment claims it.
type Slot struct {
	ID        uuid.UUID
	DoctorID  uuid.UUID
	StartsAt  time.Time
	Place     string
	Booked    bool
	CreatedAt time.Time
}

// Appointment holds copies of the claimed slot's time and place. SlotID is
// kept only to release the slot on rejection and may point at a removed row.
type Appointment struct {
	ID              uuid.UUID
	UserID          uuid.UUID
	DoctorID        uuid.UUID
	SlotID          *uuid.UUID
	StartsAt        time.Time
	Reason          string
	Place           string
	Status          Status
	RejectionReason *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type Attachment struct {
	ID            uuid.UUID
	AppointmentID uuid.UUID
	Filename      string
	OriginalName  string
	MimeType      string
	Size          int64
	CreatedAt     time.Time
}

type ContactMessage struct {
	ID        uuid.UUID
	Name      string
	Email     string
	Subject   string
	Message   string
	CreatedAt time.Time
}

type Subscriber struct {
	ID        uuid.UUID
	Email     string
	CreatedAt time.Time
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

type DoctorSlots struct {
	Doctor
	Slots []Slot
}

type AppointmentDetail struct {
	Appointment
	PatientName  string
	PatientEmail string
	DoctorName   string
	Specialty    string
	Attachments  []Attachment
}

// Stamp normalizes a time the way every store persists it: UTC, whole seconds.
func Stamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}
