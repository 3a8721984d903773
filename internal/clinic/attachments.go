package clinic

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// NewAttachment describes a file already written to upload storage.
type NewAttachment struct {
	StoredName   string
	OriginalName string
	MimeType     string
	Size         int64
}

// Attach records one row per stored file. Identical files are not merged.
func (s *Service) Attach(ctx context.Context, appointmentID uuid.UUID, files []NewAttachment) ([]Attachment, error) {
	if len(files) == 0 {
		return nil, invalid("no files uploaded")
	}

	if _, err := s.repo.GetAppointmentByID(ctx, appointmentID); err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load appointment: %w", err)
	}

	now := s.now()
	atts := make([]Attachment, 0, len(files))
	names := make([]string, 0, len(files))
	for _, f := range files {
		if f.StoredName == "" {
			return nil, invalid("stored file name is required")
		}
		atts = append(atts, Attachment{
			ID:            uuid.New(),
			AppointmentID: appointmentID,
			Filename:      f.StoredName,
			OriginalName:  f.OriginalName,
			MimeType:      f.MimeType,
			Size:          f.Size,
			CreatedAt:     now,
		})
		names = append(names, f.StoredName)
	}

	if err := s.repo.InsertAttachments(ctx, atts); err != nil {
		return nil, fmt.Errorf("attach files: %w", err)
	}

	s.logEvent(ctx, &appointmentID, EventAttachmentAdded, map[string]any{"files": names})
	return atts, nil
}

// Detach removes the attachment row, then the stored file. The file removal
// is best effort: a missing file is ignored and other failures are logged.
func (s *Service) Detach(ctx context.Context, appointmentID uuid.UUID, storedName string) (*Attachment, error) {
	if storedName == "" {
		return nil, invalid("file name is required")
	}

	if _, err := s.repo.GetAppointmentByID(ctx, appointmentID); err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load appointment: %w", err)
	}

	removed, err := s.repo.DeleteAttachment(ctx, appointmentID, storedName)
	if err != nil {
		if errors.Is(err, ErrAttachmentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("detach file: %w", err)
	}

	if s.opts.Files != nil {
		if err := s.opts.Files.Remove(storedName); err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.log.Warn("remove stored file",
				zap.String("file", storedName),
				zap.Stringer("appointment_id", appointmentID),
				zap.Error(err),
			)
		}
	}

	s.logEvent(ctx, &appointmentID, EventAttachmentRemoved, map[string]any{"file": storedName})
	return removed, nil
}
