// Package sessions implements the Session Manager: session
// creation/resume/expire/cleanup and conversation history persistence,
// per spec.md §4.4. Grounded on the teacher's internal/sessions package
// (Store interface shape, MemoryStore's clone-on-read/write discipline),
// generalized to the new Session state machine and backed by the
// Redis-shaped internal/store contract instead of an in-process map.
package sessions

import (
	"context"

	"github.com/haasonsaas/nexus/pkg/models"
)

// Store is the persistence contract for sessions and their conversation
// history. Failures during Create are fatal to the request; failures
// during Touch are logged but must not interrupt an in-flight message;
// Manager is responsible for applying that policy around Store calls.
type Store interface {
	Create(ctx context.Context, session *models.Session) error
	Get(ctx context.Context, sessionID string) (*models.Session, error)
	Update(ctx context.Context, session *models.Session) error
	Delete(ctx context.Context, sessionID string) error

	// ActiveSessionIDs lists the session ids the user currently owns,
	// backing the max_concurrent_per_user invariant.
	ActiveSessionIDs(ctx context.Context, userID string) ([]string, error)
	// AllSessionIDs is used by garbage_collect to scan the whole index.
	AllSessionIDs(ctx context.Context) ([]string, error)

	AppendMessage(ctx context.Context, conversationID string, msg *models.Message) error
	GetHistory(ctx context.Context, conversationID string, limit int) ([]*models.Message, error)
}
