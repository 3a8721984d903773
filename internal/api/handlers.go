package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking/internal/clinic"
)

func statusHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC(),
	})
}

// listOpenSlotsHandler serves both the anonymous and the citizen directory.
func listOpenSlotsHandler(svc *clinic.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctors, err := svc.ListOpenSlots(r.Context())
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toDoctorResponses(doctors))
	}
}

func requestAppointmentHandler(svc *clinic.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := CallerFrom(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid token")
			return
		}

		var req RequestAppointmentRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		if strings.TrimSpace(req.DoctorID) == "" || strings.TrimSpace(req.Datetime) == "" {
			writeError(w, http.StatusBadRequest, "validation_error", "doctor_id and datetime are required")
			return
		}
		doctorID, err := uuid.Parse(req.DoctorID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
			return
		}
		at, err := parseDateTime(req.Datetime)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_datetime", err.Error())
			return
		}

		appt, err := svc.RequestAppointment(r.Context(), caller.UserID, doctorID, at, req.Reason)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func myAppointmentsHandler(svc *clinic.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := CallerFrom(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid token")
			return
		}

		appts, err := svc.ListAppointmentsForUser(r.Context(), caller.UserID)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponses(appts))
	}
}

func contactHandler(svc *clinic.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ContactRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if err := svc.SubmitContact(r.Context(), req.Name, req.Email, req.Subject, req.Message); err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, MessageResponse{Message: "Message received"})
	}
}

func subscribeHandler(svc *clinic.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SubscribeRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if err := svc.Subscribe(r.Context(), req.Email); err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, MessageResponse{Message: "Subscribed"})
	}
}
