package audit

import (
	"context"
	"testing"
	"time"

	"github.com/haasonsaas/nexus/pkg/models"
)

func newBufferedTestLogger() *Logger {
	return &Logger{
		config: Config{
			Enabled:    true,
			Level:      LevelInfo,
			SampleRate: 1.0,
		},
		eventTypes: make(map[EventType]bool),
		buffer:     make(chan *Event, 10),
		done:       make(chan struct{}),
	}
}

func TestRecordLogsGateDenialAsPermissionDenied(t *testing.T) {
	logger := newBufferedTestLogger()
	logger.Record(context.Background(), "quota_exceeded", "user-1", "daily quota exhausted")

	select {
	case event := <-logger.buffer:
		if event.Type != EventPermissionDenied {
			t.Errorf("Type = %s, want %s", event.Type, EventPermissionDenied)
		}
		if event.UserID != "user-1" {
			t.Errorf("UserID = %s, want user-1", event.UserID)
		}
		if event.Action != "gate_quota_exceeded" {
			t.Errorf("Action = %s, want gate_quota_exceeded", event.Action)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("expected event in buffer")
	}
}

func TestRecordToolInvocationLogsCompletionOnOK(t *testing.T) {
	logger := newBufferedTestLogger()
	logger.RecordToolInvocation(context.Background(), models.ToolInvocation{
		ToolName:   "catalog_search",
		SessionID:  "sess-1",
		UserID:     "user-1",
		Outcome:    models.ToolOutcomeOK,
		DurationMS: 42,
	})

	select {
	case event := <-logger.buffer:
		if event.Type != EventToolCompletion {
			t.Errorf("Type = %s, want %s", event.Type, EventToolCompletion)
		}
		if event.Level != LevelInfo {
			t.Errorf("Level = %s, want info", event.Level)
		}
		if event.ToolName != "catalog_search" {
			t.Errorf("ToolName = %s, want catalog_search", event.ToolName)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("expected event in buffer")
	}
}

func TestRecordToolInvocationLogsDeniedAsWarn(t *testing.T) {
	logger := newBufferedTestLogger()
	logger.RecordToolInvocation(context.Background(), models.ToolInvocation{
		ToolName:     "reboot_system",
		Outcome:      models.ToolOutcomeDenied,
		PolicyReason: "dangerous tool requires admin",
	})

	select {
	case event := <-logger.buffer:
		if event.Type != EventToolDenied {
			t.Errorf("Type = %s, want %s", event.Type, EventToolDenied)
		}
		if event.Level != LevelWarn {
			t.Errorf("Level = %s, want warn", event.Level)
		}
		if event.Error != "dangerous tool requires admin" {
			t.Errorf("Error = %q, want policy reason", event.Error)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("expected event in buffer")
	}
}

func TestRecordToolInvocationLogsTimeoutAsWarn(t *testing.T) {
	logger := newBufferedTestLogger()
	logger.RecordToolInvocation(context.Background(), models.ToolInvocation{
		ToolName: "budget_read",
		Outcome:  models.ToolOutcomeTimeout,
	})

	select {
	case event := <-logger.buffer:
		if event.Level != LevelWarn {
			t.Errorf("Level = %s, want warn", event.Level)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("expected event in buffer")
	}
}
