package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/clinic-booking/internal/auth"
	"github.com/hackgods/clinic-booking/internal/clinic"
	"github.com/hackgods/clinic-booking/internal/uploads"
)

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// parseDateTime accepts RFC 3339 (seconds optional) and the zone-less forms
// browsers send for datetime-local inputs. Zone-less values are read as UTC.
func parseDateTime(raw string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, errors.New("datetime must be RFC 3339 or YYYY-MM-DDTHH:MM")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// handleServiceError maps domain errors onto HTTP statuses. Anything
// unrecognised is a data access failure and is logged, not echoed.
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, clinic.ErrValidation):
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
	case errors.Is(err, uploads.ErrUnsupportedType):
		writeError(w, http.StatusBadRequest, "unsupported_file_type", err.Error())
	case errors.Is(err, uploads.ErrTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, "file_too_large", err.Error())
	case errors.Is(err, uploads.ErrBadName):
		writeError(w, http.StatusBadRequest, "invalid_file_name", err.Error())

	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid_credentials", err.Error())
	case errors.Is(err, auth.ErrInvalidToken):
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid token")
	case errors.Is(err, clinic.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", err.Error())

	case errors.Is(err, clinic.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "user_not_found", err.Error())
	case errors.Is(err, clinic.ErrDoctorNotFound):
		writeError(w, http.StatusNotFound, "doctor_not_found", err.Error())
	case errors.Is(err, clinic.ErrSlotNotFound):
		writeError(w, http.StatusNotFound, "slot_not_found", err.Error())
	case errors.Is(err, clinic.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, clinic.ErrAttachmentNotFound):
		writeError(w, http.StatusNotFound, "attachment_not_found", err.Error())

	case errors.Is(err, clinic.ErrSlotUnavailable):
		writeError(w, http.StatusConflict, "slot_unavailable", "Slot not available")
	case errors.Is(err, clinic.ErrSlotBeingBooked):
		writeError(w, http.StatusConflict, "slot_being_booked", "slot is currently being booked, please retry shortly")
	case errors.Is(err, clinic.ErrSlotExists):
		writeError(w, http.StatusConflict, "slot_exists", err.Error())
	case errors.Is(err, clinic.ErrAppointmentFinalized):
		writeError(w, http.StatusConflict, "appointment_finalized", err.Error())
	case errors.Is(err, clinic.ErrEmailTaken):
		writeError(w, http.StatusConflict, "email_taken", err.Error())

	default:
		loggerFrom(r.Context()).Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
