package clinic

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgRepository stores everything in PostgreSQL through a shared pgx pool.
type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const pgAppointmentCols = `id, user_id, doctor_id, slot_id, starts_at, reason, place, status, rejection_reason, created_at, updated_at`

// Helpers

func pgUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func scanPgUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.Role, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	u.CreatedAt = u.CreatedAt.UTC()
	return &u, nil
}

func scanPgDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	err := row.Scan(&d.ID, &d.Name, &d.Specialty, &d.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}
	d.CreatedAt = d.CreatedAt.UTC()
	return &d, nil
}

func scanPgSlot(row pgx.Row) (*Slot, error) {
	var s Slot
	err := row.Scan(&s.ID, &s.DoctorID, &s.StartsAt, &s.Place, &s.Booked, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}
	s.StartsAt = s.StartsAt.UTC()
	s.CreatedAt = s.CreatedAt.UTC()
	return &s, nil
}

func scanPgAppointment(row pgx.Row, extra ...any) (*Appointment, error) {
	var a Appointment
	var slotID *uuid.UUID
	var rejection *string

	dest := []any{
		&a.ID,
		&a.UserID,
		&a.DoctorID,
		&slotID,
		&a.StartsAt,
		&a.Reason,
		&a.Place,
		&a.Status,
		&rejection,
		&a.CreatedAt,
		&a.UpdatedAt,
	}
	err := row.Scan(append(dest, extra...)...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.SlotID = slotID
	a.RejectionReason = rejection
	a.StartsAt = a.StartsAt.UTC()
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	return &a, nil
}

func scanPgAttachment(row pgx.Row) (*Attachment, error) {
	var at Attachment
	err := row.Scan(&at.ID, &at.AppointmentID, &at.Filename, &at.OriginalName, &at.MimeType, &at.Size, &at.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAttachmentNotFound
		}
		return nil, err
	}
	at.CreatedAt = at.CreatedAt.UTC()
	return &at, nil
}

// collectPg drains rows through a scan helper.
func collectPg[T any](rows pgx.Rows, scan func(pgx.Row) (*T, error)) ([]T, error) {
	defer rows.Close()

	var result []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Lifecycle

func (r *PgRepository) Migrate(ctx context.Context) error {
	stmts, err := schemaStatements("postgres")
	if err != nil {
		return err
	}
	for _, stmt := range stmts {
		if _, err := r.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate postgres: %w", err)
		}
	}
	return nil
}

func (r *PgRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *PgRepository) Close() {
	r.pool.Close()
}

// Users

func (r *PgRepository) CreateUser(ctx context.Context, u User) (*User, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO users (id, email, name, password_hash, role, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, email, name, password_hash, role, created_at
	`, u.ID, u.Email, u.Name, u.PasswordHash, u.Role, Stamp(u.CreatedAt))

	created, err := scanPgUser(row)
	if err != nil {
		if pgUniqueViolation(err) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return created, nil
}

func (r *PgRepository) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, email, name, password_hash, role, created_at
		FROM users
		WHERE email = $1
	`, email)
	return scanPgUser(row)
}

func (r *PgRepository) GetUserByID(ctx context.Context, id uuid.UUID) (*User, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, email, name, password_hash, role, created_at
		FROM users
		WHERE id = $1
	`, id)
	return scanPgUser(row)
}

func (r *PgRepository) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, email, name, password_hash, role, created_at
		FROM users
		ORDER BY created_at, email
	`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return collectPg(rows, scanPgUser)
}

// Doctors

func (r *PgRepository) CreateDoctor(ctx context.Context, d Doctor) (*Doctor, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO doctors (id, name, specialty, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id, name, specialty, created_at
	`, d.ID, d.Name, d.Specialty, Stamp(d.CreatedAt))
	return scanPgDoctor(row)
}

func (r *PgRepository) GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, specialty, created_at
		FROM doctors
		WHERE id = $1
	`, id)
	return scanPgDoctor(row)
}

func (r *PgRepository) ListDoctors(ctx context.Context) ([]Doctor, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, specialty, created_at
		FROM doctors
		ORDER BY name, id
	`)
	if err != nil {
		return nil, fmt.Errorf("list doctors: %w", err)
	}
	return collectPg(rows, scanPgDoctor)
}

// Slots

func (r *PgRepository) InsertSlot(ctx context.Context, s Slot) (*Slot, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO availability (id, doctor_id, starts_at, place, booked, created_at)
		VALUES ($1, $2, $3, $4, FALSE, $5)
		RETURNING id, doctor_id, starts_at, place, booked, created_at
	`, s.ID, s.DoctorID, Stamp(s.StartsAt), s.Place, Stamp(s.CreatedAt))

	created, err := scanPgSlot(row)
	if err != nil {
		if pgUniqueViolation(err) {
			return nil, ErrSlotExists
		}
		return nil, fmt.Errorf("insert slot: %w", err)
	}
	return created, nil
}

func (r *PgRepository) DeleteSlots(ctx context.Context, doctorID uuid.UUID, startsAt time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM availability
		WHERE doctor_id = $1 AND starts_at = $2
	`, doctorID, Stamp(startsAt))
	if err != nil {
		return 0, fmt.Errorf("delete slots: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *PgRepository) ListSlots(ctx context.Context, f SlotFilter) ([]Slot, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if f.OpenAfter != nil {
		rows, err = r.pool.Query(ctx, `
			SELECT id, doctor_id, starts_at, place, booked, created_at
			FROM availability
			WHERE booked = FALSE AND starts_at > $1
			ORDER BY starts_at, id
		`, Stamp(*f.OpenAfter))
	} else {
		rows, err = r.pool.Query(ctx, `
			SELECT id, doctor_id, starts_at, place, booked, created_at
			FROM availability
			ORDER BY starts_at, id
		`)
	}
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}
	return collectPg(rows, scanPgSlot)
}

// Appointments

func (r *PgRepository) ClaimSlot(ctx context.Context, a Appointment) (*Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin claim: %w", err)
	}
	defer tx.Rollback(ctx)

	var slotID uuid.UUID
	var place string
	err = tx.QueryRow(ctx, `
		UPDATE availability
		SET booked = TRUE
		WHERE doctor_id = $1
		  AND starts_at = $2
		  AND booked = FALSE
		RETURNING id, place
	`, a.DoctorID, Stamp(a.StartsAt)).Scan(&slotID, &place)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotUnavailable
		}
		return nil, fmt.Errorf("claim slot: %w", err)
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO appointments (`+pgAppointmentCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'requested', NULL, $8, $8)
		RETURNING `+pgAppointmentCols,
		a.ID, a.UserID, a.DoctorID, slotID, Stamp(a.StartsAt), a.Reason, place, Stamp(a.CreatedAt))

	created, err := scanPgAppointment(row)
	if err != nil {
		return nil, fmt.Errorf("insert appointment: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}
	return created, nil
}

func (r *PgRepository) FinalizeAppointment(ctx context.Context, id uuid.UUID, to Status, reason *string, releaseSlot bool, at time.Time) (*Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin finalize: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    rejection_reason = COALESCE($3, rejection_reason),
		    updated_at = $4
		WHERE id = $1
		  AND status = 'requested'
		RETURNING `+pgAppointmentCols,
		id, to, reason, Stamp(at))

	updated, err := scanPgAppointment(row)
	if err != nil {
		if !errors.Is(err, ErrAppointmentNotFound) {
			return nil, fmt.Errorf("finalize appointment: %w", err)
		}
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM appointments WHERE id = $1)`, id).Scan(&exists); err != nil {
			return nil, fmt.Errorf("check appointment: %w", err)
		}
		if exists {
			return nil, ErrAppointmentFinalized
		}
		return nil, ErrAppointmentNotFound
	}

	if releaseSlot && updated.SlotID != nil {
		if _, err := tx.Exec(ctx, `UPDATE availability SET booked = FALSE WHERE id = $1`, *updated.SlotID); err != nil {
			return nil, fmt.Errorf("release slot: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit finalize: %w", err)
	}
	return updated, nil
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+pgAppointmentCols+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanPgAppointment(row)
}

func (r *PgRepository) ListAppointments(ctx context.Context, userID *uuid.UUID) ([]AppointmentDetail, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT a.id, a.user_id, a.doctor_id, a.slot_id, a.starts_at, a.reason, a.place, a.status,
		       a.rejection_reason, a.created_at, a.updated_at,
		       COALESCE(u.name, ''), COALESCE(u.email, ''), COALESCE(d.name, ''), COALESCE(d.specialty, '')
		FROM appointments a
		LEFT JOIN users u ON u.id = a.user_id
		LEFT JOIN doctors d ON d.id = a.doctor_id
		WHERE $1::uuid IS NULL OR a.user_id = $1
		ORDER BY a.created_at DESC, a.id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return collectPg(rows, func(row pgx.Row) (*AppointmentDetail, error) {
		var d AppointmentDetail
		a, err := scanPgAppointment(row, &d.PatientName, &d.PatientEmail, &d.DoctorName, &d.Specialty)
		if err != nil {
			return nil, err
		}
		d.Appointment = *a
		return &d, nil
	})
}

// Attachments

func (r *PgRepository) InsertAttachments(ctx context.Context, atts []Attachment) error {
	batch := &pgx.Batch{}
	for _, at := range atts {
		batch.Queue(`
			INSERT INTO appointment_attachments (id, appointment_id, filename, original_name, mime_type, size, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, at.ID, at.AppointmentID, at.Filename, at.OriginalName, at.MimeType, at.Size, Stamp(at.CreatedAt))
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin attachments: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert attachments: %w", err)
	}
	return tx.Commit(ctx)
}

func (r *PgRepository) DeleteAttachment(ctx context.Context, appointmentID uuid.UUID, filename string) (*Attachment, error) {
	row := r.pool.QueryRow(ctx, `
		DELETE FROM appointment_attachments
		WHERE id = (
			SELECT id FROM appointment_attachments
			WHERE appointment_id = $1 AND filename = $2
			ORDER BY created_at
			LIMIT 1
		)
		RETURNING id, appointment_id, filename, original_name, mime_type, size, created_at
	`, appointmentID, filename)
	return scanPgAttachment(row)
}

func (r *PgRepository) ListAttachments(ctx context.Context, userID *uuid.UUID) ([]Attachment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT t.id, t.appointment_id, t.filename, t.original_name, t.mime_type, t.size, t.created_at
		FROM appointment_attachments t
		JOIN appointments a ON a.id = t.appointment_id
		WHERE $1::uuid IS NULL OR a.user_id = $1
		ORDER BY t.created_at, t.id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	return collectPg(rows, scanPgAttachment)
}

// Forms

func (r *PgRepository) InsertContactMessage(ctx context.Context, m ContactMessage) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO contact_messages (id, name, email, subject, message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, m.ID, m.Name, m.Email, m.Subject, m.Message, Stamp(m.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert contact message: %w", err)
	}
	return nil
}

func (r *PgRepository) InsertSubscriber(ctx context.Context, s Subscriber) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO subscribers (id, email, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (email) DO NOTHING
	`, s.ID, s.Email, Stamp(s.CreatedAt))
	if err != nil {
		return false, fmt.Errorf("insert subscriber: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Events

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}
	return nil
}

func (r *PgRepository) ListEvents(ctx context.Context, limit int) ([]EventLog, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, event_type, appointment_id, payload, created_at
		FROM event_logs
		ORDER BY id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return collectPg(rows, func(row pgx.Row) (*EventLog, error) {
		var ev EventLog
		if err := row.Scan(&ev.ID, &ev.EventType, &ev.AppointmentID, &ev.Payload, &ev.CreatedAt); err != nil {
			return nil, err
		}
		ev.CreatedAt = ev.CreatedAt.UTC()
		return &ev, nil
	})
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	t = Stamp(t)
	return &t
}
