package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hackgods/clinic-booking/internal/clinic"
)

func readEvent(t *testing.T, conn *websocket.Conn) EventMessage {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read message: %v", err)
	}
	var msg EventMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode message %q: %v", data, err)
	}
	return msg
}

func TestEventStream(t *testing.T) {
	env := newTestEnv(t, nil)
	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	admin := env.login(t, "/api/admin/login", adminEmail, adminPassword)
	ana := env.register(t, "ana", "ana@example.com")

	at := time.Now().UTC().Add(24 * time.Hour).Truncate(time.Hour)
	doc := env.seedSlot(t, admin, at)
	rec := env.do(t, http.MethodPost, "/api/citizen/appointments", ana,
		RequestAppointmentRequest{DoctorID: doc.ID.String(), Datetime: at.Format(time.RFC3339)})
	var appt AppointmentResponse
	decodeBody(t, rec, &appt)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/admin/events"

	_, resp, err := websocket.DefaultDialer.Dial(wsURL+"?token="+ana, nil)
	if err == nil {
		t.Fatal("citizen should not open the event stream")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("citizen handshake: %v", resp)
	}

	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?token="+admin, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if msg := readEvent(t, conn); msg.Type != "connected" {
		t.Fatalf("first message: %+v", msg)
	}
	backlog := readEvent(t, conn)
	if backlog.Type != clinic.EventAppointmentRequested || backlog.AppointmentID == nil || *backlog.AppointmentID != appt.ID {
		t.Fatalf("backlog: %+v", backlog)
	}
	if env.hub.Clients() != 1 {
		t.Fatalf("clients: %d", env.hub.Clients())
	}

	rec = env.do(t, http.MethodPost, "/api/admin/appointments/"+appt.ID.String()+"/reject", admin, RejectRequest{Reason: "no referral"})
	if rec.Code != http.StatusOK {
		t.Fatalf("reject: status %d", rec.Code)
	}

	live := readEvent(t, conn)
	if live.Type != clinic.EventAppointmentRejected {
		t.Fatalf("live event: %+v", live)
	}
	var payload map[string]any
	if err := json.Unmarshal(live.Payload, &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if payload["reason"] != "no referral" {
		t.Errorf("payload: %v", payload)
	}
}
