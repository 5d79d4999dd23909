// Package statestore persists the small cross-restart pointers that the
// tracker and sync engine need outside SQLite: the current-session pointer
// and the sync watermark. It is a thin wrapper over BadgerDB; everything
// else that matters lives in the graph store.
package statestore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

// ErrNotFound is returned when a pointer has never been set (or was cleared).
var ErrNotFound = errors.New("state key not found")

const (
	keySessionPointer  = "session/current"
	keySyncWatermark   = "sync/watermark"
	keySyncCompletedAt = "sync/completed_at"
)

// SessionPointer survives process restarts and lets the session manager
// reuse a recent session instead of opening a new one.
type SessionPointer struct {
	SessionID      string    `json:"session_id"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// Store is a durable key-value side-store.
type Store struct {
	db *badger.DB
}

// Open opens (creating if needed) the state store at the given directory.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if path == "" {
		return nil, errors.New("state store path is required")
	}
	if err := os.MkdirAll(path, 0750); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}

	opts := badger.DefaultOptions(path).
		WithSyncWrites(true).
		WithNumVersionsToKeep(1)
	if logger != nil {
		opts = opts.WithLogger(&badgerLogger{sugar: logger.Sugar()})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}
	return &Store{db: db}, nil
}

// OpenInMemory opens an ephemeral store for testing.
func OpenInMemory() (*Store, error) {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open in-memory state store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SetSessionPointer persists the current-session pointer.
func (s *Store) SetSessionPointer(p SessionPointer) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal session pointer: %w", err)
	}
	return s.put(keySessionPointer, data)
}

// SessionPointer reads the persisted current-session pointer. Returns
// ErrNotFound when no pointer is stored.
func (s *Store) SessionPointer() (SessionPointer, error) {
	var p SessionPointer
	data, err := s.get(keySessionPointer)
	if err != nil {
		return p, err
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("unmarshal session pointer: %w", err)
	}
	return p, nil
}

// ClearSessionPointer removes the persisted pointer.
func (s *Store) ClearSessionPointer() error {
	return s.delete(keySessionPointer)
}

// SetWatermark persists the sync watermark.
func (s *Store) SetWatermark(t time.Time) error {
	return s.put(keySyncWatermark, []byte(t.UTC().Format(time.RFC3339Nano)))
}

// Watermark reads the sync watermark. Returns the zero time when no sync
// has ever completed, which makes the first run export everything.
func (s *Store) Watermark() (time.Time, error) {
	return s.getTime(keySyncWatermark)
}

// SetSyncCompletedAt records when the last sync run finished, used for
// rate limiting early triggers.
func (s *Store) SetSyncCompletedAt(t time.Time) error {
	return s.put(keySyncCompletedAt, []byte(t.UTC().Format(time.RFC3339Nano)))
}

// SyncCompletedAt reads the last sync completion time, zero when unset.
func (s *Store) SyncCompletedAt() (time.Time, error) {
	return s.getTime(keySyncCompletedAt)
}

func (s *Store) getTime(key string) (time.Time, error) {
	data, err := s.get(key)
	if errors.Is(err, ErrNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, string(data))
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored time %s: %w", key, err)
	}
	return t, nil
}

func (s *Store) put(key string, value []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
}

func (s *Store) get(key string) ([]byte, error) {
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	return value, err
}

func (s *Store) delete(key string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
}

// badgerLogger adapts zap to BadgerDB's Logger interface.
type badgerLogger struct {
	sugar *zap.SugaredLogger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.sugar.Errorf(format, args...)
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.sugar.Warnf(format, args...)
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.sugar.Debugf(format, args...)
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.sugar.Debugf(format, args...)
}
