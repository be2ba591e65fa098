package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haasonsaas/nexus/pkg/models"
)

func TestValidateClientFrameAcceptsEachKnownType(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"message", `{"type":"message","timestamp":"2026-01-01T00:00:00Z","data":{"content":"hi"}}`},
		{"voice", `{"type":"voice","timestamp":"2026-01-01T00:00:00Z","data":{"audio":"aGVsbG8="}}`},
		{"resume", `{"type":"resume","timestamp":"2026-01-01T00:00:00Z","data":{"last_event_id":4}}`},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			f, err := ValidateClientFrame([]byte(c.raw))
			if err != nil {
				t.Fatalf("ValidateClientFrame: %v", err)
			}
			if f.Type != FrameType(c.name) {
				t.Fatalf("type = %s, want %s", f.Type, c.name)
			}
		})
	}
}

func TestValidateClientFrameRejectsMissingContent(t *testing.T) {
	raw := `{"type":"message","timestamp":"2026-01-01T00:00:00Z","data":{}}`
	if _, err := ValidateClientFrame([]byte(raw)); err == nil {
		t.Fatal("expected a schema validation error for a message frame with no content")
	}
}

func TestValidateClientFrameRejectsUnknownType(t *testing.T) {
	raw := `{"type":"disconnect","timestamp":"2026-01-01T00:00:00Z"}`
	if _, err := ValidateClientFrame([]byte(raw)); err == nil {
		t.Fatal("expected an error for a frame type outside the envelope enum")
	}
}

func TestEventFrameRendersServerPayload(t *testing.T) {
	e := models.Event{
		EventID:   7,
		SessionID: "sess-1",
		AgentKind: models.AgentPersonal,
		Type:      models.EventToken,
		Payload:   map[string]any{"text": "hi"},
		Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	f, err := EventFrame(e.SessionID, e)
	if err != nil {
		t.Fatalf("EventFrame: %v", err)
	}
	if f.Type != FrameEvent || f.EventID != 7 || f.SessionID != "sess-1" {
		t.Fatalf("unexpected frame: %+v", f)
	}
	var decoded map[string]any
	if err := json.Unmarshal(f.Data, &decoded); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if decoded["text"] != "hi" {
		t.Fatalf("decoded payload = %+v", decoded)
	}
}

type stubValidator struct {
	user *models.UserContext
	err  error
}

func (v *stubValidator) ValidateToken(ctx context.Context, token string) (*models.UserContext, error) {
	return v.user, v.err
}

func TestAuthenticateRejectsMissingToken(t *testing.T) {
	_, err := Authenticate(context.Background(), &stubValidator{}, "")
	if err == nil {
		t.Fatal("expected rejection for an empty token")
	}
}

func TestAuthenticateStripsBearerScheme(t *testing.T) {
	want := &models.UserContext{UserID: "u1"}
	v := &stubValidator{user: want}
	got, err := Authenticate(context.Background(), v, "Bearer abc123")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if got.UserID != "u1" {
		t.Fatalf("got = %+v", got)
	}
}

// wsEchoServer upgrades a single connection, writes one event frame, then
// closes — exercising the reconnect path a real client drives against the
// core's frame contract without this package ever owning the listener.
func wsEchoServer(t *testing.T, eventID uint64) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		f, _ := EventFrame("sess-1", models.Event{
			EventID: eventID,
			Type:    models.EventToken,
			Payload: map[string]any{"text": "tick"},
		})
		payload, _ := json.Marshal(f)
		_ = conn.WriteMessage(websocket.TextMessage, payload)
	}))
}

// TestReconnectResumesFromLastEventID simulates the client-side half of
// spec.md §6's reconnect contract: a connection drops mid-stream, the
// client redials and sends {type:"resume", last_event_id}, and each
// successive attempt observes a strictly increasing event id — the
// property the Event Bus's replay-on-subscribe behavior depends on a
// transport client upholding.
func TestReconnectResumesFromLastEventID(t *testing.T) {
	var lastEventID uint64
	backoff := 10 * time.Millisecond

	for attempt := 0; attempt < 3; attempt++ {
		srv := wsEchoServer(t, lastEventID+1)
		wsURL := "ws" + srv.URL[len("http"):]

		conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		if err != nil {
			t.Fatalf("dial attempt %d: %v", attempt, err)
		}

		resumeData, _ := json.Marshal(ResumeData{LastEventID: lastEventID})
		resumeFrame, _ := json.Marshal(Frame{Type: FrameResume, Data: resumeData, Timestamp: time.Now()})
		if _, err := ValidateClientFrame(resumeFrame); err != nil {
			t.Fatalf("resume frame failed validation: %v", err)
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read attempt %d: %v", attempt, err)
		}
		var f Frame
		if err := json.Unmarshal(raw, &f); err != nil {
			t.Fatalf("unmarshal frame: %v", err)
		}
		if f.EventID <= lastEventID {
			t.Fatalf("attempt %d: event id %d did not advance past %d", attempt, f.EventID, lastEventID)
		}
		lastEventID = f.EventID

		conn.Close()
		srv.Close()
		time.Sleep(backoff)
		backoff *= 2
	}
}
