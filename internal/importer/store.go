package importer

// store.go implements the in-process preview session store.
//
// Sessions are independent units of work: each entry carries its own mutex,
// so resolution merges and confirmation for one session are serialized while
// unrelated sessions proceed in parallel. All mutation goes through Mutate,
// which is the only way the last-write-wins merge semantics stay free of
// lost updates under concurrent submissions.
//
// Expiry is enforced twice: lazily on access (an OPEN session past its
// deadline flips to EXPIRED before the caller sees it) and by a background
// sweep that evicts terminal sessions after a short linger, so late callers
// get ErrSessionClosed rather than ErrSessionNotFound.

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultSessionTTL is how long an unconfirmed preview session stays open.
// Non-memorized resolutions are session-local and are lost on expiry.
const DefaultSessionTTL = 30 * time.Minute

// DefaultTerminalLinger is how long a terminal session remains queryable
// before the sweep evicts it.
const DefaultTerminalLinger = 5 * time.Minute

// DefaultSweepInterval is how often the background sweep runs.
const DefaultSweepInterval = time.Minute

// PreviewSessionStore holds preview sessions keyed by previewId.
type PreviewSessionStore struct {
	ttl    time.Duration
	linger time.Duration
	now    func() time.Time

	mu       sync.RWMutex
	sessions map[string]*sessionEntry
}

type sessionEntry struct {
	mu      sync.Mutex
	session *PreviewSession

	// closedAt is when the session reached a terminal state; the sweep uses
	// it to decide eviction.
	closedAt time.Time
}

// NewPreviewSessionStore creates a store with the given TTL. Zero values
// fall back to the defaults.
func NewPreviewSessionStore(ttl, linger time.Duration) *PreviewSessionStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	if linger <= 0 {
		linger = DefaultTerminalLinger
	}
	return &PreviewSessionStore{
		ttl:      ttl,
		linger:   linger,
		now:      time.Now,
		sessions: make(map[string]*sessionEntry),
	}
}

// Create registers a new session, assigns its previewId and deadline, and
// returns the id. The store takes ownership of the session.
func (st *PreviewSessionStore) Create(session *PreviewSession) string {
	now := st.now()
	session.ID = uuid.New().String()
	session.CreatedAt = now
	session.ExpiresAt = now.Add(st.ttl)
	session.Status = StatusOpen
	if session.Resolutions == nil {
		session.Resolutions = make(map[ConflictKey]Resolution)
	}

	st.mu.Lock()
	st.sessions[session.ID] = &sessionEntry{session: session}
	st.mu.Unlock()

	return session.ID
}

// Get returns a copy of the session, or ErrSessionNotFound.
func (st *PreviewSessionStore) Get(previewID string) (*PreviewSession, error) {
	var out *PreviewSession
	err := st.withEntry(previewID, func(s *PreviewSession) error {
		out = s.clone()
		return nil
	})
	return out, err
}

// Mutate runs fn against the session under its per-session lock. The
// function sees the live session and may mutate it; expiry is applied
// before fn runs. Mutate never removes the entry.
func (st *PreviewSessionStore) Mutate(previewID string, fn func(*PreviewSession) error) error {
	return st.withEntry(previewID, fn)
}

// Close transitions the session to a terminal status. It fails with
// ErrSessionClosed if the session is already terminal.
func (st *PreviewSessionStore) Close(previewID string, status SessionStatus) error {
	if !status.Terminal() {
		return ErrInvalidInput
	}
	return st.withEntry(previewID, func(s *PreviewSession) error {
		if s.Status.Terminal() {
			return ErrSessionClosed
		}
		s.Status = status
		return nil
	})
}

// Len returns the number of sessions currently held, terminal included.
func (st *PreviewSessionStore) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// withEntry locates the entry and runs fn under its lock, applying lazy
// expiry and terminal bookkeeping around the call.
func (st *PreviewSessionStore) withEntry(previewID string, fn func(*PreviewSession) error) error {
	st.mu.RLock()
	entry, ok := st.sessions[previewID]
	st.mu.RUnlock()
	if !ok {
		return ErrSessionNotFound
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	wasTerminal := entry.session.Status.Terminal()
	if !wasTerminal && st.now().After(entry.session.ExpiresAt) {
		entry.session.Status = StatusExpired
		entry.closedAt = st.now()
		wasTerminal = true
	}

	err := fn(entry.session)

	if !wasTerminal && entry.session.Status.Terminal() {
		entry.closedAt = st.now()
	}
	return err
}

// Sweep expires overdue sessions and evicts terminal ones past the linger
// window. It returns the number of evicted sessions.
func (st *PreviewSessionStore) Sweep() int {
	now := st.now()

	st.mu.RLock()
	ids := make([]string, 0, len(st.sessions))
	for id := range st.sessions {
		ids = append(ids, id)
	}
	st.mu.RUnlock()

	var evict []string
	for _, id := range ids {
		st.mu.RLock()
		entry, ok := st.sessions[id]
		st.mu.RUnlock()
		if !ok {
			continue
		}

		entry.mu.Lock()
		if !entry.session.Status.Terminal() && now.After(entry.session.ExpiresAt) {
			entry.session.Status = StatusExpired
			entry.closedAt = now
		}
		if entry.session.Status.Terminal() && now.Sub(entry.closedAt) >= st.linger {
			evict = append(evict, id)
		}
		entry.mu.Unlock()
	}

	if len(evict) > 0 {
		st.mu.Lock()
		for _, id := range evict {
			delete(st.sessions, id)
		}
		st.mu.Unlock()
	}

	return len(evict)
}

// RunSweeper runs Sweep every interval until the context is cancelled.
// It is intended to run as a background goroutine from main.
func (st *PreviewSessionStore) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	slog.Info("session sweeper started", "interval", interval, "ttl", st.ttl)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("session sweeper stopped")
			return
		case <-ticker.C:
			if n := st.Sweep(); n > 0 {
				slog.Debug("session sweep evicted sessions", "count", n)
			}
		}
	}
}
