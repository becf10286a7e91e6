package store

import (
	"context"
	"sync"
	"time"

	"github.com/gulfdesk/replyengine/internal/models"
)

// Compile-time check that InMemoryStore implements Store.
var _ Store = (*InMemoryStore)(nil)

type stateRecord struct {
	blob    []byte
	version int64
}

// InMemoryStore is a thread-safe in-memory Store used by tests and by the
// DSN-less development mode.
type InMemoryStore struct {
	mu       sync.Mutex
	states   map[int64]stateRecord
	log      []models.ReplyLogEntry
	messages map[int64][]models.HistoryMessage
	nextMsg  int64
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		states:   make(map[int64]stateRecord),
		messages: make(map[int64][]models.HistoryMessage),
		nextMsg:  1,
	}
}

func (s *InMemoryStore) LoadState(ctx context.Context, conversationID int64) ([]byte, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.states[conversationID]
	if !ok {
		return nil, 0, nil
	}
	blob := make([]byte, len(rec.blob))
	copy(blob, rec.blob)
	return blob, rec.version, nil
}

func (s *InMemoryStore) SaveState(ctx context.Context, conversationID int64, blob []byte, expectedVersion int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.states[conversationID]
	current := int64(0)
	if ok {
		current = rec.version
	}
	if current != expectedVersion {
		return 0, ErrVersionConflict
	}
	stored := make([]byte, len(blob))
	copy(stored, blob)
	next := expectedVersion + 1
	s.states[conversationID] = stateRecord{blob: stored, version: next}
	return next, nil
}

func (s *InMemoryStore) ResetState(ctx context.Context, conversationID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, conversationID)
	return nil
}

func (s *InMemoryStore) FindByInbound(ctx context.Context, conversationID, inboundMessageID int64) (*models.ReplyLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Latest entry wins, matching the SQL backends' ORDER BY created_at DESC.
	for i := len(s.log) - 1; i >= 0; i-- {
		e := s.log[i]
		if e.ConversationID == conversationID && e.InboundMessageID == inboundMessageID {
			return &e, nil
		}
	}
	return nil, nil
}

func (s *InMemoryStore) AppendReplyLog(ctx context.Context, entry models.ReplyLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log = append(s.log, entry)
	return nil
}

func (s *InMemoryStore) RecentMessages(ctx context.Context, conversationID int64, limit int) ([]models.HistoryMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[conversationID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]models.HistoryMessage, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *InMemoryStore) AppendMessage(ctx context.Context, conversationID int64, direction, body string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextMsg
	s.nextMsg++
	s.messages[conversationID] = append(s.messages[conversationID], models.HistoryMessage{
		ID:        id,
		Direction: direction,
		Body:      body,
		CreatedAt: time.Now(),
	})
	return id, nil
}
