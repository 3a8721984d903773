package api

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking/internal/clinic"
)

// Requests

type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type ForgotRequest struct {
	Email string `json:"email"`
}

type CreateUserRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role,omitempty"`
}

type CreateDoctorRequest struct {
	Name      string `json:"name"`
	Specialty string `json:"specialty"`
}

type SlotRequest struct {
	Datetime string `json:"datetime"`
	Place    string `json:"place,omitempty"`
}

type RequestAppointmentRequest struct {
	DoctorID string `json:"doctor_id"`
	Datetime string `json:"datetime"`
	Reason   string `json:"reason,omitempty"`
}

type RejectRequest struct {
	Reason string `json:"reason,omitempty"`
}

type ContactRequest struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Subject string `json:"subject,omitempty"`
	Message string `json:"message"`
}

type SubscribeRequest struct {
	Email string `json:"email"`
}

// Responses

type UserResponse struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

type LoginResponse struct {
	Token     string       `json:"token"`
	TokenType string       `json:"token_type"`
	User      UserResponse `json:"user"`
}

type SlotResponse struct {
	ID       uuid.UUID `json:"id"`
	Datetime time.Time `json:"datetime"`
	Place    string    `json:"place"`
	Booked   bool      `json:"booked"`
}

type DoctorResponse struct {
	ID        uuid.UUID      `json:"id"`
	Name      string         `json:"name"`
	Specialty string         `json:"specialty"`
	Slots     []SlotResponse `json:"slots"`
}

type AttachmentResponse struct {
	ID           uuid.UUID `json:"id"`
	Filename     string    `json:"filename"`
	OriginalName string    `json:"original_name"`
	MimeType     string    `json:"mime_type"`
	Size         int64     `json:"size"`
	URL          string    `json:"url"`
	CreatedAt    time.Time `json:"created_at"`
}

type AppointmentResponse struct {
	ID              uuid.UUID            `json:"id"`
	UserID          uuid.UUID            `json:"user_id"`
	DoctorID        uuid.UUID            `json:"doctor_id"`
	Datetime        time.Time            `json:"datetime"`
	Reason          string               `json:"reason"`
	Place           string               `json:"place"`
	Status          string               `json:"status"`
	RejectionReason *string              `json:"rejection_reason,omitempty"`
	CreatedAt       time.Time            `json:"created_at"`
	UpdatedAt       time.Time            `json:"updated_at"`
	PatientName     string               `json:"patient_name,omitempty"`
	PatientEmail    string               `json:"patient_email,omitempty"`
	DoctorName      string               `json:"doctor_name,omitempty"`
	Specialty       string               `json:"specialty,omitempty"`
	Attachments     []AttachmentResponse `json:"attachments,omitempty"`
}

type RemoveSlotResponse struct {
	Removed int64 `json:"removed"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type EventMessage struct {
	Type          string          `json:"type"`
	AppointmentID *uuid.UUID      `json:"appointment_id,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// Mapping

func toUserResponse(u *clinic.User) UserResponse {
	return UserResponse{
		ID:        u.ID,
		Email:     u.Email,
		Name:      u.Name,
		Role:      string(u.Role),
		CreatedAt: u.CreatedAt,
	}
}

func toDoctorResponses(in []clinic.DoctorSlots) []DoctorResponse {
	out := make([]DoctorResponse, 0, len(in))
	for _, d := range in {
		slots := make([]SlotResponse, 0, len(d.Slots))
		for _, s := range d.Slots {
			slots = append(slots, SlotResponse{ID: s.ID, Datetime: s.StartsAt, Place: s.Place, Booked: s.Booked})
		}
		out = append(out, DoctorResponse{ID: d.ID, Name: d.Name, Specialty: d.Specialty, Slots: slots})
	}
	return out
}

func toAttachmentResponse(a clinic.Attachment) AttachmentResponse {
	return AttachmentResponse{
		ID:           a.ID,
		Filename:     a.Filename,
		OriginalName: a.OriginalName,
		MimeType:     a.MimeType,
		Size:         a.Size,
		URL:          "/uploads/" + a.Filename,
		CreatedAt:    a.CreatedAt,
	}
}

func toAppointmentResponse(a *clinic.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:              a.ID,
		UserID:          a.UserID,
		DoctorID:        a.DoctorID,
		Datetime:        a.StartsAt,
		Reason:          a.Reason,
		Place:           a.Place,
		Status:          string(a.Status),
		RejectionReason: a.RejectionReason,
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
	}
}

func toAppointmentResponses(in []clinic.AppointmentDetail) []AppointmentResponse {
	out := make([]AppointmentResponse, 0, len(in))
	for i := range in {
		resp := toAppointmentResponse(&in[i].Appointment)
		resp.PatientName = in[i].PatientName
		resp.PatientEmail = in[i].PatientEmail
		resp.DoctorName = in[i].DoctorName
		resp.Specialty = in[i].Specialty
		for _, at := range in[i].Attachments {
			resp.Attachments = append(resp.Attachments, toAttachmentResponse(at))
		}
		out = append(out, resp)
	}
	return out
}

func toEventMessage(ev clinic.EventLog) EventMessage {
	msg := EventMessage{
		Type:          ev.EventType,
		AppointmentID: ev.AppointmentID,
		CreatedAt:     ev.CreatedAt,
	}
	if json.Valid(ev.Payload) {
		msg.Payload = ev.Payload
	}
	return msg
}
