// Package session owns the browsing-session lifecycle: creation, reuse of
// recent sessions across process restarts, idle expiry, and termination.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/runnerr0/trailgraph/internal/statestore"
	"github.com/runnerr0/trailgraph/internal/storage"
)

// Manager tracks at most one current session at a time. All in-memory
// state here is a volatile cache; the durable truth is the session record
// in storage plus the pointer in the state store.
type Manager struct {
	store  *storage.Store
	state  *statestore.Store
	logger *zap.Logger

	idleThreshold time.Duration
	now           func() time.Time

	group singleflight.Group

	mu        sync.Mutex
	currentID string
	onEnd     func(sessionID string)
}

// NewManager creates a session manager. idleThreshold governs both pointer
// reuse and idle expiry.
func NewManager(store *storage.Store, state *statestore.Store, idleThreshold time.Duration, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:         store,
		state:         state,
		logger:        logger,
		idleThreshold: idleThreshold,
		now:           time.Now,
	}
}

// OnSessionEnd registers a callback invoked after a session ends. The sync
// engine's early trigger and the tracker's tab-state reset hang off this.
func (m *Manager) OnSessionEnd(fn func(sessionID string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEnd = fn
}

// Current returns the tracked current session ID, empty when none.
func (m *Manager) Current() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentID
}

// Ensure returns the current session, starting one if none is tracked.
func (m *Manager) Ensure(ctx context.Context) (string, error) {
	if id := m.Current(); id != "" {
		return id, nil
	}
	return m.StartNew(ctx)
}

// StartNew resolves the active session. A persisted pointer whose age is
// within the idle threshold and whose record is still active is reused;
// otherwise any tracked session is ended and a fresh one inserted.
// Concurrent calls are collapsed through a single-flight group so two
// near-simultaneous triggers never create two sessions.
func (m *Manager) StartNew(ctx context.Context) (string, error) {
	v, err, _ := m.group.Do("start", func() (interface{}, error) {
		return m.startNew(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (m *Manager) startNew(ctx context.Context) (string, error) {
	now := m.now()

	// Reuse path: recent pointer + still-active record.
	ptr, err := m.state.SessionPointer()
	switch {
	case err == nil:
		if now.Sub(ptr.LastActivityAt) <= m.idleThreshold {
			if id, ok := m.tryReuse(ctx, ptr.SessionID, now); ok {
				return id, nil
			}
		}
	case !errors.Is(err, statestore.ErrNotFound):
		m.logger.Warn("reading session pointer failed", zap.Error(err))
	}

	// A tracked session that was not reusable gets ended before a new
	// one starts.
	if cur := m.Current(); cur != "" {
		if err := m.End(ctx, cur); err != nil {
			m.logger.Error("ending previous session failed", zap.String("session_id", cur), zap.Error(err))
		}
	}

	id, err := m.store.InsertSession(ctx, now)
	if err != nil {
		if errors.Is(err, storage.ErrNotReady) {
			m.logger.Warn("storage not ready, skipping session start")
			return "", err
		}
		return "", fmt.Errorf("insert session: %w", err)
	}

	if err := m.state.SetSessionPointer(statestore.SessionPointer{
		SessionID:      id,
		LastActivityAt: now,
	}); err != nil {
		m.logger.Error("persisting session pointer failed", zap.String("session_id", id), zap.Error(err))
	}

	m.mu.Lock()
	m.currentID = id
	m.mu.Unlock()

	m.appendEvent(ctx, storage.OpSessionStarted, id, now)
	m.logger.Info("session started", zap.String("session_id", id))
	return id, nil
}

// tryReuse revalidates a pointer against storage and reuses the session
// when it is still marked active.
func (m *Manager) tryReuse(ctx context.Context, sessionID string, now time.Time) (string, bool) {
	sess, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			m.logger.Warn("validating session pointer failed", zap.String("session_id", sessionID), zap.Error(err))
		}
		return "", false
	}
	if !sess.IsActive {
		return "", false
	}

	if err := m.store.TouchSession(ctx, sessionID, now); err != nil {
		m.logger.Error("touching reused session failed", zap.String("session_id", sessionID), zap.Error(err))
	}
	if err := m.state.SetSessionPointer(statestore.SessionPointer{
		SessionID:      sessionID,
		LastActivityAt: now,
	}); err != nil {
		m.logger.Error("persisting session pointer failed", zap.String("session_id", sessionID), zap.Error(err))
	}

	m.mu.Lock()
	m.currentID = sessionID
	m.mu.Unlock()

	m.logger.Debug("session reused", zap.String("session_id", sessionID))
	return sessionID, true
}

// End terminates a session; an empty ID means the tracked current one.
// Total active time never regresses: the wall-clock session span serves as
// a floor in case granular active-time events were dropped. Open visits of
// the session are closed at the same instant.
func (m *Manager) End(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		sessionID = m.Current()
	}
	if sessionID == "" {
		return nil
	}

	now := m.now()

	var floor int64
	sess, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			m.forget(sessionID)
			return nil
		}
		return fmt.Errorf("load session: %w", err)
	}
	elapsed := now.Sub(sess.StartTime)
	if elapsed > 0 {
		floor = int64((elapsed + time.Second - 1) / time.Second)
	}

	if err := m.store.CloseSession(ctx, sessionID, now, floor); err != nil {
		return fmt.Errorf("close session: %w", err)
	}

	if closed, err := m.store.CloseOpenVisits(ctx, sessionID, now); err != nil {
		m.logger.Error("closing open visits failed", zap.String("session_id", sessionID), zap.Error(err))
	} else if closed > 0 {
		m.logger.Debug("closed lingering visits", zap.String("session_id", sessionID), zap.Int64("count", closed))
	}

	// Drop the pointer only when it still references this session.
	if ptr, perr := m.state.SessionPointer(); perr == nil && ptr.SessionID == sessionID {
		if err := m.state.ClearSessionPointer(); err != nil {
			m.logger.Error("clearing session pointer failed", zap.Error(err))
		}
	}

	m.appendEvent(ctx, storage.OpSessionEnded, sessionID, now)
	m.forget(sessionID)
	m.logger.Info("session ended", zap.String("session_id", sessionID), zap.Int64("active_floor_seconds", floor))

	m.mu.Lock()
	onEnd := m.onEnd
	m.mu.Unlock()
	if onEnd != nil {
		onEnd(sessionID)
	}
	return nil
}

// CheckIdle ends the current session when it has been idle past the
// threshold. Returns true when a session was ended so callers can clear
// dependent in-memory tab state.
func (m *Manager) CheckIdle(ctx context.Context) bool {
	current := m.Current()
	if current == "" {
		return false
	}

	sess, err := m.store.GetSession(ctx, current)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			m.forget(current)
		} else {
			m.logger.Error("loading current session failed", zap.String("session_id", current), zap.Error(err))
		}
		return false
	}

	if m.now().Sub(sess.LastActivityAt) <= m.idleThreshold {
		return false
	}

	if err := m.End(ctx, current); err != nil {
		m.logger.Error("ending idle session failed", zap.String("session_id", current), zap.Error(err))
		return false
	}
	return true
}

// UpdateActivity bumps the current session's last-activity time and
// re-persists the pointer. No-op when no session is tracked.
func (m *Manager) UpdateActivity(ctx context.Context) {
	current := m.Current()
	if current == "" {
		return
	}

	now := m.now()
	if err := m.store.TouchSession(ctx, current, now); err != nil {
		m.logger.Error("touching session failed", zap.String("session_id", current), zap.Error(err))
		return
	}
	if err := m.state.SetSessionPointer(statestore.SessionPointer{
		SessionID:      current,
		LastActivityAt: now,
	}); err != nil {
		m.logger.Error("persisting session pointer failed", zap.Error(err))
	}
}

// forget clears the in-memory current pointer if it matches.
func (m *Manager) forget(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.currentID == sessionID {
		m.currentID = ""
	}
}

func (m *Manager) appendEvent(ctx context.Context, operation, sessionID string, ts time.Time) {
	err := m.store.AppendEvent(ctx, &storage.Event{
		Operation: operation,
		SessionID: sessionID,
		Timestamp: ts,
	})
	if err != nil {
		m.logger.Error("appending session event failed",
			zap.String("operation", operation),
			zap.String("session_id", sessionID),
			zap.Error(err))
	}
}
