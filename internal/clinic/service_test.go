package clinic

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap/zaptest"

	"github.com/hackgods/clinic-booking/internal/db"
	redisclient "github.com/hackgods/clinic-booking/internal/redis"
)

var testNow = time.Date(2025, 2, 1, 12, 0, 0, 0, time.UTC)

type recordingPublisher struct {
	mu     sync.Mutex
	events []EventLog
}

func (p *recordingPublisher) Publish(ev EventLog) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.EventType)
	}
	return out
}

type stubFiles struct {
	removed []string
	err     error
}

func (f *stubFiles) Remove(name string) error {
	f.removed = append(f.removed, name)
	return f.err
}

func newSQLiteRepo(t *testing.T) *SQLRepository {
	t.Helper()
	ctx := context.Background()

	conn, err := db.OpenSQLite(ctx, filepath.Join(t.TempDir(), "clinic.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	repo, err := NewSQLRepository(conn, DialectSQLite)
	if err != nil {
		t.Fatalf("new repo: %v", err)
	}
	t.Cleanup(repo.Close)

	if err := repo.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo
}

func newTestService(t *testing.T, opts Options) (*Service, Repository) {
	t.Helper()
	repo := newSQLiteRepo(t)
	if opts.Now == nil {
		opts.Now = func() time.Time { return testNow }
	}
	return NewService(repo, nil, zaptest.NewLogger(t), opts), repo
}

func mustUser(t *testing.T, repo Repository, email string) *User {
	t.Helper()
	u, err := repo.CreateUser(context.Background(), User{
		ID:           uuid.New(),
		Email:        email,
		Name:         "Test " + email,
		PasswordHash: "x",
		Role:         RoleCitizen,
		CreatedAt:    testNow,
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func mustDoctor(t *testing.T, svc *Service, name string) *Doctor {
	t.Helper()
	d, err := svc.CreateDoctor(context.Background(), name, "General Practice")
	if err != nil {
		t.Fatalf("create doctor: %v", err)
	}
	return d
}

func mustSlot(t *testing.T, svc *Service, doctorID uuid.UUID, at time.Time, place string) *Slot {
	t.Helper()
	s, err := svc.AddSlot(context.Background(), doctorID, at, place)
	if err != nil {
		t.Fatalf("add slot: %v", err)
	}
	return s
}

func slotBooked(t *testing.T, repo Repository, id uuid.UUID) bool {
	t.Helper()
	slots, err := repo.ListSlots(context.Background(), SlotFilter{})
	if err != nil {
		t.Fatalf("list slots: %v", err)
	}
	for _, s := range slots {
		if s.ID == id {
			return s.Booked
		}
	}
	t.Fatalf("slot %s not found", id)
	return false
}

func TestRequestAppointmentScenario(t *testing.T) {
	ctx := context.Background()
	pub := &recordingPublisher{}
	svc, repo := newTestService(t, Options{Publisher: pub})

	u1 := mustUser(t, repo, "u1@example.com")
	u2 := mustUser(t, repo, "u2@example.com")
	doc := mustDoctor(t, svc, "Dr. Who")
	at := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	slot := mustSlot(t, svc, doc.ID, at, "Room 1")

	appt, err := svc.RequestAppointment(ctx, u1.ID, doc.ID, at, "checkup")
	if err != nil {
		t.Fatalf("first request: %v", err)
	}
	if appt.Status != StatusRequested {
		t.Errorf("status: got %q", appt.Status)
	}
	if appt.Place != "Room 1" || !appt.StartsAt.Equal(at) {
		t.Errorf("copied fields: place=%q at=%s", appt.Place, appt.StartsAt)
	}
	if appt.SlotID == nil || *appt.SlotID != slot.ID {
		t.Errorf("slot link: %v", appt.SlotID)
	}
	if !slotBooked(t, repo, slot.ID) {
		t.Error("slot should be booked")
	}

	_, err = svc.RequestAppointment(ctx, u2.ID, doc.ID, at, "checkup")
	if !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("second request: expected ErrSlotUnavailable, got %v", err)
	}

	mine, err := svc.ListAppointmentsForUser(ctx, u2.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(mine) != 0 {
		t.Errorf("losing caller must not own an appointment, got %d", len(mine))
	}

	if got := pub.types(); len(got) != 1 || got[0] != EventAppointmentRequested {
		t.Errorf("events: %v", got)
	}
}

func TestRequestAppointmentValidation(t *testing.T) {
	ctx := context.Background()
	svc, repo := newTestService(t, Options{})
	u := mustUser(t, repo, "v@example.com")
	doc := mustDoctor(t, svc, "Dr. V")

	tests := []struct {
		name     string
		doctorID uuid.UUID
		at       time.Time
		want     error
	}{
		{"missing doctor", uuid.Nil, testNow, ErrValidation},
		{"missing datetime", doc.ID, time.Time{}, ErrValidation},
		{"unknown doctor", uuid.New(), testNow, ErrDoctorNotFound},
		{"no such slot", doc.ID, testNow.Add(time.Hour), ErrSlotUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.RequestAppointment(ctx, u.ID, tt.doctorID, tt.at, "")
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestNoDoubleBooking(t *testing.T) {
	for _, withLock := range []bool{false, true} {
		name := "store only"
		if withLock {
			name = "with slot lock"
		}
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			repo := newSQLiteRepo(t)
			var locker redisclient.Locker
			if withLock {
				locker = redisclient.NewLocalLocker()
			}
			svc := NewService(repo, locker, zaptest.NewLogger(t), Options{Now: func() time.Time { return testNow }})

			doc := mustDoctor(t, svc, "Dr. Race")
			at := testNow.Add(24 * time.Hour)
			slot := mustSlot(t, svc, doc.ID, at, "Room 9")

			const n = 10
			users := make([]*User, n)
			for i := range users {
				users[i] = mustUser(t, repo, uuid.NewString()+"@example.com")
			}

			var (
				wg        sync.WaitGroup
				mu        sync.Mutex
				successes int
				conflicts int
				others    []error
			)
			start := make(chan struct{})
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func(u *User) {
					defer wg.Done()
					<-start
					_, err := svc.RequestAppointment(ctx, u.ID, doc.ID, at, "race")

					mu.Lock()
					defer mu.Unlock()
					switch {
					case err == nil:
						successes++
					case errors.Is(err, ErrSlotUnavailable), errors.Is(err, ErrSlotBeingBooked):
						conflicts++
					default:
						others = append(others, err)
					}
				}(users[i])
			}
			close(start)
			wg.Wait()

			if len(others) > 0 {
				t.Fatalf("unexpected errors: %v", others)
			}
			if successes != 1 || conflicts != n-1 {
				t.Fatalf("successes=%d conflicts=%d", successes, conflicts)
			}

			all, err := svc.ListAllAppointments(ctx)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(all) != 1 {
				t.Errorf("appointments: got %d, want 1", len(all))
			}
			if !slotBooked(t, repo, slot.ID) {
				t.Error("slot should be booked")
			}
		})
	}
}

func TestRequestAppointmentWithLockBackendDown(t *testing.T) {
	ctx := context.Background()
	repo := newSQLiteRepo(t)

	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 200 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = rdb.Close() })

	svc := NewService(repo, redisclient.NewRedisSlotLocker(rdb, time.Second), zaptest.NewLogger(t),
		Options{Now: func() time.Time { return testNow }})

	doc := mustDoctor(t, svc, "Dr. Offline")
	at := testNow.Add(24 * time.Hour)
	slot := mustSlot(t, svc, doc.ID, at, "Room 2")
	ana := mustUser(t, repo, "ana-offline@example.com")
	ben := mustUser(t, repo, "ben-offline@example.com")

	appt, err := svc.RequestAppointment(ctx, ana.ID, doc.ID, at, "")
	if err != nil {
		t.Fatalf("booking with redis down: %v", err)
	}
	if appt.SlotID == nil || *appt.SlotID != slot.ID {
		t.Fatalf("appointment slot: %+v", appt.SlotID)
	}

	if _, err := svc.RequestAppointment(ctx, ben.ID, doc.ID, at, ""); !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("second booking: expected ErrSlotUnavailable, got %v", err)
	}
}

func TestRemoveSlotKeepsAppointmentCopy(t *testing.T) {
	ctx := context.Background()
	svc, repo := newTestService(t, Options{})
	u := mustUser(t, repo, "copy@example.com")
	doc := mustDoctor(t, svc, "Dr. Copy")
	at := testNow.Add(48 * time.Hour)
	mustSlot(t, svc, doc.ID, at, "Annex")

	appt, err := svc.RequestAppointment(ctx, u.ID, doc.ID, at, "follow-up")
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	n, err := svc.RemoveSlot(ctx, doc.ID, at)
	if err != nil || n != 1 {
		t.Fatalf("remove: n=%d err=%v", n, err)
	}

	got, err := repo.GetAppointmentByID(ctx, appt.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.StartsAt.Equal(at) || got.Place != "Annex" || got.Reason != "follow-up" {
		t.Errorf("appointment changed: %+v", got)
	}

	if _, err := svc.RemoveSlot(ctx, doc.ID, at); !errors.Is(err, ErrSlotNotFound) {
		t.Errorf("second remove: expected ErrSlotNotFound, got %v", err)
	}
}

func TestListOpenSlotsFiltering(t *testing.T) {
	ctx := context.Background()
	svc, repo := newTestService(t, Options{})
	u := mustUser(t, repo, "dir@example.com")

	pastOnly := mustDoctor(t, svc, "Dr. Past")
	mustSlot(t, svc, pastOnly.ID, testNow.Add(-time.Hour), "A")

	bookedOnly := mustDoctor(t, svc, "Dr. Booked")
	bookedAt := testNow.Add(time.Hour)
	mustSlot(t, svc, bookedOnly.ID, bookedAt, "B")
	if _, err := svc.RequestAppointment(ctx, u.ID, bookedOnly.ID, bookedAt, ""); err != nil {
		t.Fatalf("book: %v", err)
	}

	open := mustDoctor(t, svc, "Dr. Open")
	mustSlot(t, svc, open.ID, testNow.Add(-2*time.Hour), "C")
	later := mustSlot(t, svc, open.ID, testNow.Add(3*time.Hour), "C")
	sooner := mustSlot(t, svc, open.ID, testNow.Add(2*time.Hour), "C")

	// exactly now is not strictly in the future
	mustSlot(t, svc, mustDoctor(t, svc, "Dr. Now").ID, testNow, "D")

	got, err := svc.ListOpenSlots(ctx)
	if err != nil {
		t.Fatalf("list open: %v", err)
	}
	if len(got) != 1 || got[0].ID != open.ID {
		t.Fatalf("open doctors: %+v", got)
	}
	if len(got[0].Slots) != 2 || got[0].Slots[0].ID != sooner.ID || got[0].Slots[1].ID != later.ID {
		t.Errorf("open slots: %+v", got[0].Slots)
	}

	all, err := svc.ListDoctors(ctx)
	if err != nil {
		t.Fatalf("list doctors: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("operator view doctors: got %d", len(all))
	}
	if all[0].Name != "Dr. Booked" || len(all[0].Slots) != 1 || !all[0].Slots[0].Booked {
		t.Errorf("operator view: %+v", all[0])
	}
}

func TestAddSlotRules(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, Options{})
	doc := mustDoctor(t, svc, "Dr. Dup")
	at := testNow.Add(time.Hour)

	mustSlot(t, svc, doc.ID, at, "Room 1")

	if _, err := svc.AddSlot(ctx, doc.ID, at.Add(300*time.Millisecond), "Room 2"); !errors.Is(err, ErrSlotExists) {
		t.Errorf("duplicate: expected ErrSlotExists, got %v", err)
	}
	if _, err := svc.AddSlot(ctx, uuid.New(), at, "Room 1"); !errors.Is(err, ErrDoctorNotFound) {
		t.Errorf("unknown doctor: expected ErrDoctorNotFound, got %v", err)
	}
	if _, err := svc.AddSlot(ctx, doc.ID, time.Time{}, "Room 1"); !errors.Is(err, ErrValidation) {
		t.Errorf("zero time: expected ErrValidation, got %v", err)
	}
	if _, err := svc.CreateDoctor(ctx, "Dr. Nobody", " "); !errors.Is(err, ErrValidation) {
		t.Errorf("missing specialty: expected ErrValidation, got %v", err)
	}
}

func TestStatusTerminality(t *testing.T) {
	ctx := context.Background()
	svc, repo := newTestService(t, Options{})
	u := mustUser(t, repo, "term@example.com")
	doc := mustDoctor(t, svc, "Dr. Term")

	book := func(at time.Time) *Appointment {
		t.Helper()
		mustSlot(t, svc, doc.ID, at, "R")
		appt, err := svc.RequestAppointment(ctx, u.ID, doc.ID, at, "")
		if err != nil {
			t.Fatalf("request: %v", err)
		}
		return appt
	}

	approved := book(testNow.Add(time.Hour))
	got, err := svc.Approve(ctx, approved.ID)
	if err != nil || got.Status != StatusApproved {
		t.Fatalf("approve: %v %+v", err, got)
	}

	rejected := book(testNow.Add(2 * time.Hour))
	got, err = svc.Reject(ctx, rejected.ID, "  doctor away ")
	if err != nil || got.Status != StatusRejected {
		t.Fatalf("reject: %v %+v", err, got)
	}
	if got.RejectionReason == nil || *got.RejectionReason != "doctor away" {
		t.Errorf("rejection reason: %v", got.RejectionReason)
	}

	tests := []struct {
		name string
		call func() error
		want error
	}{
		{"reject approved", func() error { _, err := svc.Reject(ctx, approved.ID, ""); return err }, ErrAppointmentFinalized},
		{"approve approved", func() error { _, err := svc.Approve(ctx, approved.ID); return err }, ErrAppointmentFinalized},
		{"approve rejected", func() error { _, err := svc.Approve(ctx, rejected.ID); return err }, ErrAppointmentFinalized},
		{"reject rejected", func() error { _, err := svc.Reject(ctx, rejected.ID, "again"); return err }, ErrAppointmentFinalized},
		{"approve unknown", func() error { _, err := svc.Approve(ctx, uuid.New()); return err }, ErrAppointmentNotFound},
		{"reject unknown", func() error { _, err := svc.Reject(ctx, uuid.New(), ""); return err }, ErrAppointmentNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}

	stored, err := repo.GetAppointmentByID(ctx, approved.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != StatusApproved {
		t.Errorf("approved appointment changed to %q", stored.Status)
	}
}

func TestRejectSlotRelease(t *testing.T) {
	for _, release := range []bool{false, true} {
		t.Run(map[bool]string{false: "keep slot", true: "release slot"}[release], func(t *testing.T) {
			ctx := context.Background()
			svc, repo := newTestService(t, Options{ReleaseSlotOnReject: release})
			u := mustUser(t, repo, "rel@example.com")
			doc := mustDoctor(t, svc, "Dr. Release")
			at := testNow.Add(time.Hour)
			slot := mustSlot(t, svc, doc.ID, at, "R")

			appt, err := svc.RequestAppointment(ctx, u.ID, doc.ID, at, "")
			if err != nil {
				t.Fatalf("request: %v", err)
			}
			if _, err := svc.Reject(ctx, appt.ID, ""); err != nil {
				t.Fatalf("reject: %v", err)
			}

			if booked := slotBooked(t, repo, slot.ID); booked == release {
				t.Fatalf("booked=%t with release=%t", booked, release)
			}

			_, err = svc.RequestAppointment(ctx, u.ID, doc.ID, at, "second try")
			if release && err != nil {
				t.Errorf("released slot should be bookable: %v", err)
			}
			if !release && !errors.Is(err, ErrSlotUnavailable) {
				t.Errorf("kept slot: expected ErrSlotUnavailable, got %v", err)
			}
		})
	}
}

func TestAttachmentRoundTrip(t *testing.T) {
	ctx := context.Background()
	files := &stubFiles{}
	pub := &recordingPublisher{}
	svc, repo := newTestService(t, Options{Files: files, Publisher: pub})
	u := mustUser(t, repo, "att@example.com")
	doc := mustDoctor(t, svc, "Dr. Files")
	at := testNow.Add(time.Hour)
	mustSlot(t, svc, doc.ID, at, "R")

	appt, err := svc.RequestAppointment(ctx, u.ID, doc.ID, at, "scan")
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	added, err := svc.Attach(ctx, appt.ID, []NewAttachment{
		{StoredName: "1700000000000-report.pdf", OriginalName: "report.pdf", MimeType: "application/pdf", Size: 10},
		{StoredName: "1700000000001-xray.jpg", OriginalName: "xray.jpg", MimeType: "image/jpeg", Size: 20},
	})
	if err != nil || len(added) != 2 {
		t.Fatalf("attach: %v %d", err, len(added))
	}

	mine, err := svc.ListAppointmentsForUser(ctx, u.ID)
	if err != nil || len(mine) != 1 || len(mine[0].Attachments) != 2 {
		t.Fatalf("list after attach: %v %+v", err, mine)
	}
	if mine[0].DoctorName != "Dr. Files" || mine[0].PatientEmail != "att@example.com" {
		t.Errorf("joined fields: %+v", mine[0])
	}

	for _, a := range added {
		if _, err := svc.Detach(ctx, appt.ID, a.Filename); err != nil {
			t.Fatalf("detach %s: %v", a.Filename, err)
		}
	}
	if len(files.removed) != 2 {
		t.Errorf("removed files: %v", files.removed)
	}

	mine, err = svc.ListAppointmentsForUser(ctx, u.ID)
	if err != nil {
		t.Fatalf("list after detach: %v", err)
	}
	if len(mine[0].Attachments) != 0 {
		t.Errorf("attachments left: %d", len(mine[0].Attachments))
	}
	if mine[0].Status != StatusRequested || mine[0].Reason != "scan" || mine[0].Place != "R" {
		t.Errorf("appointment fields changed: %+v", mine[0].Appointment)
	}

	if _, err := svc.Detach(ctx, appt.ID, added[0].Filename); !errors.Is(err, ErrAttachmentNotFound) {
		t.Errorf("second detach: expected ErrAttachmentNotFound, got %v", err)
	}
	if _, err := svc.Attach(ctx, appt.ID, nil); !errors.Is(err, ErrValidation) {
		t.Errorf("empty attach: expected ErrValidation, got %v", err)
	}
	if _, err := svc.Attach(ctx, uuid.New(), []NewAttachment{{StoredName: "x.pdf"}}); !errors.Is(err, ErrAppointmentNotFound) {
		t.Errorf("unknown appointment: expected ErrAppointmentNotFound, got %v", err)
	}

	events, err := svc.RecentEvents(ctx, 10)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 4 || events[0].EventType != EventAttachmentRemoved {
		t.Errorf("event log: %+v", events)
	}
}

func TestDetachToleratesFileErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"missing file", fs.ErrNotExist},
		{"io failure", errors.New("disk on fire")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			svc, repo := newTestService(t, Options{Files: &stubFiles{err: tt.err}})
			u := mustUser(t, repo, "tol@example.com")
			doc := mustDoctor(t, svc, "Dr. Tol")
			at := testNow.Add(time.Hour)
			mustSlot(t, svc, doc.ID, at, "R")
			appt, err := svc.RequestAppointment(ctx, u.ID, doc.ID, at, "")
			if err != nil {
				t.Fatalf("request: %v", err)
			}
			if _, err := svc.Attach(ctx, appt.ID, []NewAttachment{{StoredName: "f.pdf", OriginalName: "f.pdf", MimeType: "application/pdf"}}); err != nil {
				t.Fatalf("attach: %v", err)
			}

			if _, err := svc.Detach(ctx, appt.ID, "f.pdf"); err != nil {
				t.Fatalf("detach should succeed, got %v", err)
			}
		})
	}
}

func TestForms(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, Options{})

	if err := svc.SubmitContact(ctx, "Ann", "ann@example.com", "", "hello"); err != nil {
		t.Fatalf("contact: %v", err)
	}
	if err := svc.SubmitContact(ctx, "Ann", "", "", "hello"); !errors.Is(err, ErrValidation) {
		t.Errorf("contact without email: %v", err)
	}

	if err := svc.Subscribe(ctx, "News@Example.com"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := svc.Subscribe(ctx, "news@example.com"); err != nil {
		t.Errorf("repeat subscribe should succeed: %v", err)
	}
	if err := svc.Subscribe(ctx, "not-an-email"); !errors.Is(err, ErrValidation) {
		t.Errorf("bad email: %v", err)
	}
}
