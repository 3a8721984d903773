package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-booking/internal/clinic"
	"github.com/hackgods/clinic-booking/internal/uploads"
)

func uuidParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+name, name+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

// decodeOptionalJSON accepts an empty body.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return false
	}
	return true
}

func listDoctorsHandler(svc *clinic.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctors, err := svc.ListDoctors(r.Context())
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toDoctorResponses(doctors))
	}
}

func createDoctorHandler(svc *clinic.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateDoctorRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		d, err := svc.CreateDoctor(r.Context(), req.Name, req.Specialty)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, DoctorResponse{ID: d.ID, Name: d.Name, Specialty: d.Specialty, Slots: []SlotResponse{}})
	}
}

func addSlotHandler(svc *clinic.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}
		var req SlotRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		at, err := parseDateTime(req.Datetime)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_datetime", err.Error())
			return
		}

		slot, err := svc.AddSlot(r.Context(), doctorID, at, req.Place)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, SlotResponse{ID: slot.ID, Datetime: slot.StartsAt, Place: slot.Place, Booked: slot.Booked})
	}
}

// removeSlotHandler takes the datetime from the query string or a JSON body.
func removeSlotHandler(svc *clinic.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}

		raw := r.URL.Query().Get("datetime")
		if raw == "" {
			var req SlotRequest
			if !decodeOptionalJSON(w, r, &req) {
				return
			}
			raw = req.Datetime
		}
		at, err := parseDateTime(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_datetime", err.Error())
			return
		}

		n, err := svc.RemoveSlot(r.Context(), doctorID, at)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, RemoveSlotResponse{Removed: n})
	}
}

func listAllAppointmentsHandler(svc *clinic.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		appts, err := svc.ListAllAppointments(r.Context())
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponses(appts))
	}
}

func approveHandler(svc *clinic.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}
		appt, err := svc.Approve(r.Context(), id)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func rejectHandler(svc *clinic.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}
		var req RejectRequest
		if !decodeOptionalJSON(w, r, &req) {
			return
		}
		appt, err := svc.Reject(r.Context(), id, req.Reason)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

// uploadHandler stores every part of the "files" field, then records them.
// Files already written are removed again if anything fails.
func uploadHandler(svc *clinic.Service, store *uploads.Storage, maxBytes int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxBytes*10+1<<20)
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			var tooBig *http.MaxBytesError
			if errors.As(err, &tooBig) {
				writeError(w, http.StatusRequestEntityTooLarge, "file_too_large", "upload too large")
				return
			}
			writeError(w, http.StatusBadRequest, "invalid_multipart", "expected multipart form with files")
			return
		}
		defer r.MultipartForm.RemoveAll()

		headers := r.MultipartForm.File["files"]
		if len(headers) == 0 {
			writeError(w, http.StatusBadRequest, "validation_error", "no files uploaded")
			return
		}

		saved := make([]clinic.NewAttachment, 0, len(headers))
		cleanup := func() {
			for _, f := range saved {
				if err := store.Remove(f.StoredName); err != nil {
					loggerFrom(r.Context()).Warn("remove orphaned upload", zap.String("file", f.StoredName), zap.Error(err))
				}
			}
		}

		for _, fh := range headers {
			st, err := store.Save(fh)
			if err != nil {
				cleanup()
				handleServiceError(w, r, err)
				return
			}
			saved = append(saved, clinic.NewAttachment{
				StoredName:   st.Name,
				OriginalName: st.OriginalName,
				MimeType:     st.MimeType,
				Size:         st.Size,
			})
		}

		atts, err := svc.Attach(r.Context(), id, saved)
		if err != nil {
			cleanup()
			handleServiceError(w, r, err)
			return
		}

		out := make([]AttachmentResponse, 0, len(atts))
		for _, at := range atts {
			out = append(out, toAttachmentResponse(at))
		}
		writeJSON(w, http.StatusCreated, out)
	}
}

func detachHandler(svc *clinic.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}
		name := chi.URLParam(r, "name")

		removed, err := svc.Detach(r.Context(), id, name)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toAttachmentResponse(*removed))
	}
}

// serveUploadHandler serves one stored file, never a directory listing.
func serveUploadHandler(store *uploads.Storage) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		if name == "" || name != filepath.Base(name) || name[0] == '.' {
			writeError(w, http.StatusNotFound, "not_found", "file not found")
			return
		}
		w.Header().Set("X-Content-Type-Options", "nosniff")
		http.ServeFile(w, r, filepath.Join(store.Dir(), name))
	}
}
