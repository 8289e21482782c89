package state

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/yanivian/connect-app-sub000/internal/bus"
	"github.com/yanivian/connect-app-sub000/internal/metrics"
)

// Persister is the durable per-user key-value store backing each slice.
type Persister interface {
	Get(userID, dataType string) ([]byte, bool, error)
	Save(userID, dataType string, v any) error
}

// Generation fences one in-flight fetch for a key.
type Generation struct {
	Key string
	N   uint64
}

// Store owns the application state. All reducer applications are
// serialized under one lock; snapshots are immutable values.
type Store struct {
	userID  string
	persist Persister
	bus     *bus.Bus
	metrics *metrics.Metrics
	log     *zap.Logger

	mu    sync.Mutex
	state State
	gens  map[string]uint64
}

// NewStore creates an empty store for userID. persist, b and m may be nil.
func NewStore(userID string, persist Persister, b *bus.Bus, m *metrics.Metrics, log *zap.Logger) *Store {
	return &Store{
		userID:  userID,
		persist: persist,
		bus:     b,
		metrics: m,
		log:     log,
		gens:    make(map[string]uint64),
	}
}

// Restore loads the persisted slices. Missing slices stay empty; a corrupt
// slice is logged and left empty.
func (s *Store) Restore(ctx context.Context) error {
	if s.persist == nil {
		return nil
	}
	var next State
	targets := map[Slice]any{
		SliceConnections: &next.Connections,
		SliceChats:       &next.Chats,
		SliceContacts:    &next.Contacts,
	}
	for slice, dst := range targets {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, found, err := s.persist.Get(s.userID, string(slice))
		if err != nil {
			return fmt.Errorf("restore %s: %w", slice, err)
		}
		if !found {
			continue
		}
		if err := json.Unmarshal(data, dst); err != nil {
			s.log.Warn("discarding unreadable persisted state", zap.String("slice", string(slice)), zap.Error(err))
		}
	}

	s.mu.Lock()
	s.state = next
	s.mu.Unlock()
	s.log.Info("state restored",
		zap.Int("chats", len(next.Chats)),
		zap.Int("connections", len(next.Connections.Connections)),
		zap.Int("contacts", len(next.Contacts.Users)))
	return nil
}

// Snapshot returns the current state. Callers must treat it as read-only.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Dispatch applies a and returns the resulting state. Locally originated
// connection and message actions invalidate in-flight fetches of the same
// key.
func (s *Store) Dispatch(a Action) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range fenceKeys(a) {
		s.gens[key]++
	}
	return s.applyLocked(a)
}

// BeginFetch issues a new generation for key. Results of any earlier
// generation for the same key are dropped by DispatchFetched.
func (s *Store) BeginFetch(key string) Generation {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gens[key]++
	return Generation{Key: key, N: s.gens[key]}
}

// DispatchFetched applies a only if gen is still the latest generation for
// its key. ok is false when the result was discarded.
func (s *Store) DispatchFetched(gen Generation, a Action) (next State, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gens[gen.Key] != gen.N {
		s.metrics.Fenced(gen.Key)
		s.log.Debug("discarding superseded fetch",
			zap.String("key", gen.Key),
			zap.Uint64("generation", gen.N))
		return s.state, false
	}
	return s.applyLocked(a), true
}

// applyLocked reduces, persists and publishes under s.mu, so saves and
// change events follow dispatch order. Publishing never blocks.
func (s *Store) applyLocked(a Action) State {
	s.state = Reduce(s.state, a)
	slice := SliceOf(a)
	value := sliceValue(s.state, slice)
	if s.persist != nil {
		if err := s.persist.Save(s.userID, string(slice), value); err != nil {
			s.log.Error("persist state", zap.String("slice", string(slice)), zap.Error(err))
		}
	}
	s.metrics.Dispatched(a.name())
	s.bus.Emit(changedKind(slice), value)
	return s.state
}

func sliceValue(st State, slice Slice) any {
	switch slice {
	case SliceConnections:
		return st.Connections
	case SliceContacts:
		return st.Contacts
	default:
		return st.Chats
	}
}

func changedKind(slice Slice) string {
	switch slice {
	case SliceConnections:
		return bus.KindConnectionsChanged
	case SliceContacts:
		return bus.KindContactsChanged
	default:
		return bus.KindChatsChanged
	}
}
