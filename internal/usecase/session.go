package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/oklog/ulid/v2"

	"teacher-agent/internal/domain"
)

const maxSessionIDLen = 128

// Session is one ongoing conversation. Its modality config is fixed at
// creation; history is append-only.
type Session struct {
	mu        sync.RWMutex
	id        string
	ns        domain.Namespace
	createdAt time.Time
	updatedAt time.Time
	modality  domain.ModalityConfig
	history   []domain.ConversationTurn
	scratch   map[string]any
	active    domain.CapabilityName
}

func newSession(ns domain.Namespace, id string, modality domain.ModalityConfig, now time.Time) *Session {
	return &Session{
		id:        id,
		ns:        ns,
		createdAt: now,
		updatedAt: now,
		modality:  modality,
		scratch:   make(map[string]any),
	}
}

func (s *Session) ID() string                      { return s.id }
func (s *Session) Namespace() domain.Namespace     { return s.ns }
func (s *Session) CreatedAt() time.Time            { return s.createdAt }
func (s *Session) Modality() domain.ModalityConfig { return s.modality }

// UpdatedAt returns the time of the last mutation.
func (s *Session) UpdatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updatedAt
}

// History returns a copy of the conversation history.
func (s *Session) History() []domain.ConversationTurn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.ConversationTurn, len(s.history))
	copy(out, s.history)
	return out
}

func (s *Session) appendTurn(turn domain.ConversationTurn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now()
	}
	s.history = append(s.history, turn)
	s.updatedAt = time.Now()
}

// Scratch returns the scratch value stored under key.
func (s *Session) Scratch(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.scratch[key]
	return v, ok
}

// SetScratch stores value under key.
func (s *Session) SetScratch(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scratch[key] = value
	s.updatedAt = time.Now()
}

// ScratchSnapshot returns a shallow copy of the scratch state. The
// conversation context slice is copied as well.
func (s *Session) ScratchSnapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.scratch))
	for k, v := range s.scratch {
		if entries, ok := v.([]domain.ContextEntry); ok {
			v = append([]domain.ContextEntry(nil), entries...)
		}
		out[k] = v
	}
	return out
}

// AppendContext records one completed request/response exchange in the
// conversation_context scratch entry.
func (s *Session) AppendContext(entry domain.ContextEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, _ := s.scratch[domain.ScratchConversationContext].([]domain.ContextEntry)
	s.scratch[domain.ScratchConversationContext] = append(entries, entry)
	s.updatedAt = time.Now()
}

// ConversationContext returns a copy of the recorded exchanges.
func (s *Session) ConversationContext() []domain.ContextEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries, _ := s.scratch[domain.ScratchConversationContext].([]domain.ContextEntry)
	return append([]domain.ContextEntry(nil), entries...)
}

// ActiveCapability returns the capability holding the floor, if any.
func (s *Session) ActiveCapability() (domain.CapabilityName, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active, s.active != ""
}

// Bind hands the floor to name until Release is called.
func (s *Session) Bind(name domain.CapabilityName) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = name
}

// Release returns the floor to the router.
func (s *Session) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = ""
}

// SessionInfo is a read-only summary used by admin listings.
type SessionInfo struct {
	ID        string
	CreatedAt time.Time
	UpdatedAt time.Time
	Turns     int
}

// SessionStore owns every live session. Request/response and streaming
// sessions live in disjoint namespaces of the same map.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	locker   *SessionLocker
	bus      domain.EventBus
	logger   *slog.Logger
}

// NewSessionStore creates an empty store. bus may be nil.
func NewSessionStore(bus domain.EventBus, logger *slog.Logger) *SessionStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionStore{
		sessions: make(map[string]*Session),
		locker:   NewSessionLocker(),
		bus:      bus,
		logger:   logger,
	}
}

func storeKey(ns domain.Namespace, id string) string {
	return string(ns) + ":" + id
}

// NewSessionID returns a fresh ULID session id.
func NewSessionID() string {
	return ulid.Make().String()
}

// ValidateSessionID rejects ids that are empty, too long, or contain
// separators or control characters.
func ValidateSessionID(id string) error {
	if id == "" {
		return domain.NewDomainError("ValidateSessionID", domain.ErrInvalidInput, "session id must not be empty")
	}
	if len(id) > maxSessionIDLen {
		return domain.NewDomainError("ValidateSessionID", domain.ErrInvalidInput,
			fmt.Sprintf("session id longer than %d bytes", maxSessionIDLen))
	}
	if strings.ContainsAny(id, `/\:`) || strings.Contains(id, "..") {
		return domain.NewDomainError("ValidateSessionID", domain.ErrInvalidInput,
			fmt.Sprintf("session id %q contains reserved characters", id))
	}
	for _, r := range id {
		if unicode.IsControl(r) || unicode.IsSpace(r) {
			return domain.NewDomainError("ValidateSessionID", domain.ErrInvalidInput,
				fmt.Sprintf("session id %q contains whitespace or control characters", id))
		}
	}
	return nil
}

// Create adds a session to ns. An empty id is replaced by a generated one.
func (st *SessionStore) Create(ctx context.Context, ns domain.Namespace, id string, modality domain.ModalityConfig) (*Session, error) {
	if id == "" {
		id = NewSessionID()
	} else if err := ValidateSessionID(id); err != nil {
		return nil, err
	}

	key := storeKey(ns, id)
	st.mu.Lock()
	if _, exists := st.sessions[key]; exists {
		st.mu.Unlock()
		return nil, domain.WrapOp("SessionStore.Create", fmt.Errorf("%s session %q: %w", ns, id, domain.ErrSessionExists))
	}
	s := newSession(ns, id, modality, time.Now())
	st.sessions[key] = s
	st.mu.Unlock()

	st.publish(ctx, domain.EventSessionCreated, s, nil)
	st.logger.Debug("session created", "namespace", ns, "session_id", id)
	return s, nil
}

// Get returns the session with id in ns.
func (st *SessionStore) Get(ns domain.Namespace, id string) (*Session, error) {
	st.mu.RLock()
	s, ok := st.sessions[storeKey(ns, id)]
	st.mu.RUnlock()
	if !ok {
		return nil, domain.WrapOp("SessionStore.Get", fmt.Errorf("%s session %q: %w", ns, id, domain.ErrSessionNotFound))
	}
	return s, nil
}

// GetOrCreate returns the session with id in ns, creating it with modality
// and running init on it when absent. created reports which happened.
func (st *SessionStore) GetOrCreate(ctx context.Context, ns domain.Namespace, id string, modality domain.ModalityConfig, init func(*Session)) (s *Session, created bool, err error) {
	if id == "" {
		id = NewSessionID()
	} else if err := ValidateSessionID(id); err != nil {
		return nil, false, err
	}

	key := storeKey(ns, id)
	st.mu.Lock()
	if existing, ok := st.sessions[key]; ok {
		st.mu.Unlock()
		return existing, false, nil
	}
	s = newSession(ns, id, modality, time.Now())
	if init != nil {
		init(s)
	}
	st.sessions[key] = s
	st.mu.Unlock()

	st.publish(ctx, domain.EventSessionCreated, s, nil)
	return s, true, nil
}

// AppendTurn appends turn to the session history.
func (st *SessionStore) AppendTurn(ns domain.Namespace, id string, turn domain.ConversationTurn) error {
	s, err := st.Get(ns, id)
	if err != nil {
		return err
	}
	s.appendTurn(turn)
	return nil
}

// WithSession runs fn while holding the session's exclusive lock, so a
// whole exchange observes no concurrent writer.
func (st *SessionStore) WithSession(ctx context.Context, ns domain.Namespace, id string, fn func(*Session) error) error {
	unlock, err := st.locker.Lock(ctx, storeKey(ns, id))
	if err != nil {
		return domain.NewDomainError("SessionStore.WithSession", domain.ErrTimeout, err.Error())
	}
	defer unlock()

	s, err := st.Get(ns, id)
	if err != nil {
		return err
	}
	return fn(s)
}

// WithSessionOrCreate is WithSession for callers that recover a missing
// session by creating it. The lookup happens under the session lock, so a
// concurrent Delete or reap between lookup and exchange cannot surface as
// ErrSessionNotFound.
func (st *SessionStore) WithSessionOrCreate(ctx context.Context, ns domain.Namespace, id string, modality domain.ModalityConfig, init func(*Session), fn func(s *Session, created bool) error) error {
	if err := ValidateSessionID(id); err != nil {
		return err
	}
	unlock, err := st.locker.Lock(ctx, storeKey(ns, id))
	if err != nil {
		return domain.NewDomainError("SessionStore.WithSessionOrCreate", domain.ErrTimeout, err.Error())
	}
	defer unlock()

	s, created, err := st.GetOrCreate(ctx, ns, id, modality, init)
	if err != nil {
		return err
	}
	return fn(s, created)
}

// Delete removes the session and reports whether it existed. Deleting an
// absent session is not an error.
func (st *SessionStore) Delete(ctx context.Context, ns domain.Namespace, id string) bool {
	key := storeKey(ns, id)
	st.mu.Lock()
	s, ok := st.sessions[key]
	if ok {
		delete(st.sessions, key)
	}
	st.mu.Unlock()

	if ok {
		st.publish(ctx, domain.EventSessionDeleted, s, nil)
		st.logger.Debug("session deleted", "namespace", ns, "session_id", id)
	}
	return ok
}

// List returns the sorted ids of every session in ns.
func (st *SessionStore) List(ns domain.Namespace) []string {
	prefix := string(ns) + ":"
	st.mu.RLock()
	ids := make([]string, 0, len(st.sessions))
	for key := range st.sessions {
		if id, ok := strings.CutPrefix(key, prefix); ok {
			ids = append(ids, id)
		}
	}
	st.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Info returns summaries for every session in ns, sorted by id.
func (st *SessionStore) Info(ns domain.Namespace) []SessionInfo {
	ids := st.List(ns)
	out := make([]SessionInfo, 0, len(ids))
	for _, id := range ids {
		s, err := st.Get(ns, id)
		if err != nil {
			continue
		}
		s.mu.RLock()
		out = append(out, SessionInfo{ID: id, CreatedAt: s.createdAt, UpdatedAt: s.updatedAt, Turns: len(s.history)})
		s.mu.RUnlock()
	}
	return out
}

// Count returns the number of sessions in ns.
func (st *SessionStore) Count(ns domain.Namespace) int {
	return len(st.List(ns))
}

// ReapIdle deletes sessions in ns untouched for longer than maxIdle. Sessions
// with an exchange in progress are skipped. It returns the reaped ids.
func (st *SessionStore) ReapIdle(ctx context.Context, ns domain.Namespace, maxIdle time.Duration) []string {
	if maxIdle <= 0 {
		return nil
	}
	cutoff := time.Now().Add(-maxIdle)
	prefix := string(ns) + ":"

	var reaped []*Session
	st.mu.Lock()
	for key, s := range st.sessions {
		if !strings.HasPrefix(key, prefix) || st.locker.Busy(key) {
			continue
		}
		if s.UpdatedAt().Before(cutoff) {
			delete(st.sessions, key)
			reaped = append(reaped, s)
		}
	}
	st.mu.Unlock()

	ids := make([]string, 0, len(reaped))
	for _, s := range reaped {
		ids = append(ids, s.id)
		st.publish(ctx, domain.EventSessionReaped, s, map[string]any{"idle_for": time.Since(s.UpdatedAt()).String()})
	}
	sort.Strings(ids)
	return ids
}

func (st *SessionStore) publish(ctx context.Context, t domain.EventType, s *Session, payload map[string]any) {
	if st.bus == nil {
		return
	}
	if payload == nil {
		payload = map[string]any{}
	}
	payload["namespace"] = string(s.ns)
	st.bus.Publish(ctx, domain.NewEvent(t, s.id, payload))
}
