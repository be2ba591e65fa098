package sessions

import (
	"context"
	"encoding/json"
	"time"

	"github.com/haasonsaas/nexus/internal/store"
	"github.com/haasonsaas/nexus/pkg/models"
)

const maxConversationHistory = 1000

// RedisStore adapts the generic internal/store.Store contract (Redis in
// production, MemoryStore in tests) to sessions.Store, using the key
// shapes from spec.md §6: ai:session:{id}, ai:session:index:{user_id},
// ai:conv:{conversation_id}.
type RedisStore struct {
	kv      store.Store
	idleTTL time.Duration
}

// NewRedisStore wraps kv with the session key-shape table. idleTTL sets
// the TTL applied to the serialized session record.
func NewRedisStore(kv store.Store, idleTTL time.Duration) *RedisStore {
	if idleTTL <= 0 {
		idleTTL = 24 * time.Hour
	}
	return &RedisStore{kv: kv, idleTTL: idleTTL}
}

func (r *RedisStore) Create(ctx context.Context, s *models.Session) error {
	if err := r.save(ctx, s); err != nil {
		return err
	}
	return r.kv.SetAdd(ctx, store.KeySessionIndex(s.UserID), s.SessionID)
}

func (r *RedisStore) save(ctx context.Context, s *models.Session) error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return r.kv.SetWithExpiry(ctx, store.KeySession(s.SessionID), b, r.idleTTL)
}

func (r *RedisStore) Get(ctx context.Context, sessionID string) (*models.Session, error) {
	b, err := r.kv.Get(ctx, store.KeySession(sessionID))
	if err != nil {
		if err == store.ErrNotFound {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	var s models.Session
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *RedisStore) Update(ctx context.Context, s *models.Session) error {
	return r.save(ctx, s)
}

func (r *RedisStore) Delete(ctx context.Context, sessionID string) error {
	s, err := r.Get(ctx, sessionID)
	if err == nil {
		_ = r.kv.SetRemove(ctx, store.KeySessionIndex(s.UserID), sessionID)
	}
	return r.kv.Delete(ctx, store.KeySession(sessionID))
}

func (r *RedisStore) ActiveSessionIDs(ctx context.Context, userID string) ([]string, error) {
	ids, err := r.kv.SetMembers(ctx, store.KeySessionIndex(userID))
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		s, err := r.Get(ctx, id)
		if err != nil {
			continue // GC'd already: index entry stale, skip
		}
		if s.Status == models.StatusActive {
			out = append(out, id)
		}
	}
	return out, nil
}

// AllSessionIDs has no single authoritative index in the Redis key
// shape (spec.md §6 only names a per-user index); garbage_collect in
// production is expected to scan per-user indices it tracks separately,
// or rely on Redis key TTL expiry for cleanup. This in-process
// implementation cannot enumerate unrelated users' keys, so it returns
// an empty result — the method exists to satisfy the Store interface
// for components that compose against it directly in tests against
// MemoryStore, which implements this fully.
func (r *RedisStore) AllSessionIDs(_ context.Context) ([]string, error) {
	return nil, nil
}

func (r *RedisStore) AppendMessage(ctx context.Context, conversationID string, msg *models.Message) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return r.kv.ListAppend(ctx, store.KeyConversation(conversationID), b, maxConversationHistory)
}

func (r *RedisStore) GetHistory(ctx context.Context, conversationID string, limit int) ([]*models.Message, error) {
	raws, err := r.kv.ListRange(ctx, store.KeyConversation(conversationID), limit)
	if err != nil {
		return nil, err
	}
	out := make([]*models.Message, 0, len(raws))
	for _, raw := range raws {
		var msg models.Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		out = append(out, &msg)
	}
	return out, nil
}
