package clinic

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const (
	DialectMySQL  = "mysql"
	DialectSQLite = "sqlite"
)

// SQLRepository is the database/sql implementation shared by MySQL and the
// embedded SQLite engine. Both take ? placeholders, only the DDL and the
// driver error codes differ.
type SQLRepository struct {
	db      *sql.DB
	dialect string
}

func NewSQLRepository(db *sql.DB, dialect string) (*SQLRepository, error) {
	switch dialect {
	case DialectMySQL, DialectSQLite:
	default:
		return nil, fmt.Errorf("unsupported sql dialect %q", dialect)
	}
	return &SQLRepository{db: db, dialect: dialect}, nil
}

const sqlAppointmentCols = `a.id, a.user_id, a.doctor_id, a.slot_id, a.starts_at, a.reason, a.place, a.status, a.rejection_reason, a.created_at, a.updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

// Helpers

func (r *SQLRepository) uniqueViolation(err error) bool {
	switch r.dialect {
	case DialectMySQL:
		var myErr *mysql.MySQLError
		return errors.As(err, &myErr) && myErr.Number == 1062
	case DialectSQLite:
		var liteErr *sqlite.Error
		if !errors.As(err, &liteErr) {
			return false
		}
		code := liteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}

func scanSQLUser(row rowScanner) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.Role, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	u.CreatedAt = u.CreatedAt.UTC()
	return &u, nil
}

func scanSQLDoctor(row rowScanner) (*Doctor, error) {
	var d Doctor
	err := row.Scan(&d.ID, &d.Name, &d.Specialty, &d.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}
	d.CreatedAt = d.CreatedAt.UTC()
	return &d, nil
}

func scanSQLSlot(row rowScanner) (*Slot, error) {
	var s Slot
	err := row.Scan(&s.ID, &s.DoctorID, &s.StartsAt, &s.Place, &s.Booked, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}
	s.StartsAt = s.StartsAt.UTC()
	s.CreatedAt = s.CreatedAt.UTC()
	return &s, nil
}

func scanSQLAppointment(row rowScanner, extra ...any) (*Appointment, error) {
	var a Appointment
	var slotID uuid.NullUUID
	var rejection sql.NullString

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
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	if slotID.Valid {
		id := slotID.UUID
		a.SlotID = &id
	}
	if rejection.Valid {
		reason := rejection.String
		a.RejectionReason = &reason
	}
	a.StartsAt = a.StartsAt.UTC()
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	return &a, nil
}

func scanSQLAttachment(row rowScanner) (*Attachment, error) {
	var at Attachment
	err := row.Scan(&at.ID, &at.AppointmentID, &at.Filename, &at.OriginalName, &at.MimeType, &at.Size, &at.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAttachmentNotFound
		}
		return nil, err
	}
	at.CreatedAt = at.CreatedAt.UTC()
	return &at, nil
}

func collectSQL[T any](rows *sql.Rows, scan func(rowScanner) (*T, error)) ([]T, error) {
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

func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

// Lifecycle

func (r *SQLRepository) Migrate(ctx context.Context) error {
	stmts, err := schemaStatements(r.dialect)
	if err != nil {
		return err
	}
	for _, stmt := range stmts {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate %s: %w", r.dialect, err)
		}
	}
	return nil
}

func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLRepository) Close() {
	_ = r.db.Close()
}

// Users

func (r *SQLRepository) CreateUser(ctx context.Context, u User) (*User, error) {
	u.CreatedAt = Stamp(u.CreatedAt)
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, email, name, password_hash, role, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, u.ID, u.Email, u.Name, u.PasswordHash, string(u.Role), u.CreatedAt)
	if err != nil {
		if r.uniqueViolation(err) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return &u, nil
}

func (r *SQLRepository) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, email, name, password_hash, role, created_at
		FROM users
		WHERE email = ?
	`, email)
	return scanSQLUser(row)
}

func (r *SQLRepository) GetUserByID(ctx context.Context, id uuid.UUID) (*User, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, email, name, password_hash, role, created_at
		FROM users
		WHERE id = ?
	`, id)
	return scanSQLUser(row)
}

func (r *SQLRepository) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, email, name, password_hash, role, created_at
		FROM users
		ORDER BY created_at, email
	`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return collectSQL(rows, scanSQLUser)
}

// Doctors

func (r *SQLRepository) CreateDoctor(ctx context.Context, d Doctor) (*Doctor, error) {
	d.CreatedAt = Stamp(d.CreatedAt)
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO doctors (id, name, specialty, created_at)
		VALUES (?, ?, ?, ?)
	`, d.ID, d.Name, d.Specialty, d.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert doctor: %w", err)
	}
	return &d, nil
}

func (r *SQLRepository) GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, specialty, created_at
		FROM doctors
		WHERE id = ?
	`, id)
	return scanSQLDoctor(row)
}

func (r *SQLRepository) ListDoctors(ctx context.Context) ([]Doctor, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, specialty, created_at
		FROM doctors
		ORDER BY name, id
	`)
	if err != nil {
		return nil, fmt.Errorf("list doctors: %w", err)
	}
	return collectSQL(rows, scanSQLDoctor)
}

// Slots

func (r *SQLRepository) InsertSlot(ctx context.Context, s Slot) (*Slot, error) {
	s.StartsAt = Stamp(s.StartsAt)
	s.CreatedAt = Stamp(s.CreatedAt)
	s.Booked = false
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO availability (id, doctor_id, starts_at, place, booked, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, s.ID, s.DoctorID, s.StartsAt, s.Place, false, s.CreatedAt)
	if err != nil {
		if r.uniqueViolation(err) {
			return nil, ErrSlotExists
		}
		return nil, fmt.Errorf("insert slot: %w", err)
	}
	return &s, nil
}

func (r *SQLRepository) DeleteSlots(ctx context.Context, doctorID uuid.UUID, startsAt time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM availability
		WHERE doctor_id = ? AND starts_at = ?
	`, doctorID, Stamp(startsAt))
	if err != nil {
		return 0, fmt.Errorf("delete slots: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete slots: %w", err)
	}
	return n, nil
}

func (r *SQLRepository) ListSlots(ctx context.Context, f SlotFilter) ([]Slot, error) {
	query := `
		SELECT id, doctor_id, starts_at, place, booked, created_at
		FROM availability`
	var args []any
	if f.OpenAfter != nil {
		query += `
		WHERE booked = ? AND starts_at > ?`
		args = append(args, false, Stamp(*f.OpenAfter))
	}
	query += `
		ORDER BY starts_at, id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}
	return collectSQL(rows, scanSQLSlot)
}

// Appointments

// ClaimSlot runs entirely on the transaction. On the embedded engine the pool
// holds one connection, so touching r.db here would block forever.
func (r *SQLRepository) ClaimSlot(ctx context.Context, a Appointment) (*Appointment, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin claim: %w", err)
	}
	defer tx.Rollback()

	startsAt := Stamp(a.StartsAt)

	var slotID uuid.UUID
	var place string
	err = tx.QueryRowContext(ctx, `
		SELECT id, place
		FROM availability
		WHERE doctor_id = ? AND starts_at = ? AND booked = ?
	`, a.DoctorID, startsAt, false).Scan(&slotID, &place)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSlotUnavailable
		}
		return nil, fmt.Errorf("find slot: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE availability
		SET booked = ?
		WHERE id = ? AND booked = ?
	`, true, slotID, false)
	if err != nil {
		return nil, fmt.Errorf("claim slot: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, fmt.Errorf("claim slot: %w", err)
	} else if n == 0 {
		return nil, ErrSlotUnavailable
	}

	created := a
	created.SlotID = &slotID
	created.StartsAt = startsAt
	created.Place = place
	created.Status = StatusRequested
	created.RejectionReason = nil
	created.CreatedAt = Stamp(a.CreatedAt)
	created.UpdatedAt = created.CreatedAt

	_, err = tx.ExecContext(ctx, `
		INSERT INTO appointments (id, user_id, doctor_id, slot_id, starts_at, reason, place, status, rejection_reason, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL, ?, ?)
	`, created.ID, created.UserID, created.DoctorID, slotID, created.StartsAt, created.Reason, created.Place,
		string(created.Status), created.CreatedAt, created.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert appointment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}
	return &created, nil
}

func (r *SQLRepository) FinalizeAppointment(ctx context.Context, id uuid.UUID, to Status, reason *string, releaseSlot bool, at time.Time) (*Appointment, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin finalize: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE appointments
		SET status = ?,
		    rejection_reason = COALESCE(?, rejection_reason),
		    updated_at = ?
		WHERE id = ? AND status = ?
	`, string(to), reason, Stamp(at), id, string(StatusRequested))
	if err != nil {
		return nil, fmt.Errorf("finalize appointment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("finalize appointment: %w", err)
	}

	row := tx.QueryRowContext(ctx, `
		SELECT `+sqlAppointmentCols+`
		FROM appointments a
		WHERE a.id = ?
	`, id)
	updated, err := scanSQLAppointment(row)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	if n == 0 {
		return nil, ErrAppointmentFinalized
	}

	if releaseSlot && updated.SlotID != nil {
		if _, err := tx.ExecContext(ctx, `UPDATE availability SET booked = ? WHERE id = ?`, false, *updated.SlotID); err != nil {
			return nil, fmt.Errorf("release slot: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit finalize: %w", err)
	}
	return updated, nil
}

func (r *SQLRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+sqlAppointmentCols+`
		FROM appointments a
		WHERE a.id = ?
	`, id)
	return scanSQLAppointment(row)
}

func (r *SQLRepository) ListAppointments(ctx context.Context, userID *uuid.UUID) ([]AppointmentDetail, error) {
	query := `
		SELECT ` + sqlAppointmentCols + `,
		       COALESCE(u.name, ''), COALESCE(u.email, ''), COALESCE(d.name, ''), COALESCE(d.specialty, '')
		FROM appointments a
		LEFT JOIN users u ON u.id = a.user_id
		LEFT JOIN doctors d ON d.id = a.doctor_id`
	var args []any
	if userID != nil {
		query += `
		WHERE a.user_id = ?`
		args = append(args, *userID)
	}
	query += `
		ORDER BY a.created_at DESC, a.id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return collectSQL(rows, func(row rowScanner) (*AppointmentDetail, error) {
		var d AppointmentDetail
		a, err := scanSQLAppointment(row, &d.PatientName, &d.PatientEmail, &d.DoctorName, &d.Specialty)
		if err != nil {
			return nil, err
		}
		d.Appointment = *a
		return &d, nil
	})
}

// Attachments

func (r *SQLRepository) InsertAttachments(ctx context.Context, atts []Attachment) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin attachments: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO appointment_attachments (id, appointment_id, filename, original_name, mime_type, size, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare attachments: %w", err)
	}
	defer stmt.Close()

	for _, at := range atts {
		if _, err := stmt.ExecContext(ctx, at.ID, at.AppointmentID, at.Filename, at.OriginalName, at.MimeType, at.Size, Stamp(at.CreatedAt)); err != nil {
			return fmt.Errorf("insert attachment: %w", err)
		}
	}
	return tx.Commit()
}

func (r *SQLRepository) DeleteAttachment(ctx context.Context, appointmentID uuid.UUID, filename string) (*Attachment, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin detach: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT id, appointment_id, filename, original_name, mime_type, size, created_at
		FROM appointment_attachments
		WHERE appointment_id = ? AND filename = ?
		ORDER BY created_at
		LIMIT 1
	`, appointmentID, filename)
	at, err := scanSQLAttachment(row)
	if err != nil {
		if errors.Is(err, ErrAttachmentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("find attachment: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM appointment_attachments WHERE id = ?`, at.ID); err != nil {
		return nil, fmt.Errorf("delete attachment: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit detach: %w", err)
	}
	return at, nil
}

func (r *SQLRepository) ListAttachments(ctx context.Context, userID *uuid.UUID) ([]Attachment, error) {
	query := `
		SELECT t.id, t.appointment_id, t.filename, t.original_name, t.mime_type, t.size, t.created_at
		FROM appointment_attachments t
		JOIN appointments a ON a.id = t.appointment_id`
	var args []any
	if userID != nil {
		query += `
		WHERE a.user_id = ?`
		args = append(args, *userID)
	}
	query += `
		ORDER BY t.created_at, t.id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	return collectSQL(rows, scanSQLAttachment)
}

// Forms

func (r *SQLRepository) InsertContactMessage(ctx context.Context, m ContactMessage) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO contact_messages (id, name, email, subject, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, m.ID, m.Name, m.Email, m.Subject, m.Message, Stamp(m.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert contact message: %w", err)
	}
	return nil
}

func (r *SQLRepository) InsertSubscriber(ctx context.Context, s Subscriber) (bool, error) {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO subscribers (id, email, created_at)
		VALUES (?, ?, ?)
	`, s.ID, s.Email, Stamp(s.CreatedAt))
	if err != nil {
		if r.uniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("insert subscriber: %w", err)
	}
	return true, nil
}

// Events

func (r *SQLRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	createdAt := ev.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	var payload sql.NullString
	if ev.Payload != nil {
		payload = sql.NullString{String: string(ev.Payload), Valid: true}
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES (?, ?, ?, ?)
	`, ev.EventType, nullUUID(ev.AppointmentID), payload, Stamp(createdAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}
	return nil
}

func (r *SQLRepository) ListEvents(ctx context.Context, limit int) ([]EventLog, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, event_type, appointment_id, payload, created_at
		FROM event_logs
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return collectSQL(rows, func(row rowScanner) (*EventLog, error) {
		var ev EventLog
		var apptID uuid.NullUUID
		var payload sql.NullString
		if err := row.Scan(&ev.ID, &ev.EventType, &apptID, &payload, &ev.CreatedAt); err != nil {
			return nil, err
		}
		if apptID.Valid {
			id := apptID.UUID
			ev.AppointmentID = &id
		}
		if payload.Valid {
			ev.Payload = []byte(payload.String)
		}
		ev.CreatedAt = ev.CreatedAt.UTC()
		return &ev, nil
	})
}
