package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/raumlabs/hostbridge/internal/update"
)

// Manager serves update history and the global key/value store.
type Manager struct {
	db     *BoltDB
	mu     sync.RWMutex
	logger *zap.SugaredLogger
}

// NewManager opens the database in dataDir.
func NewManager(dataDir string, logger *zap.SugaredLogger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	db, err := NewBoltDB(dataDir, logger)
	if err != nil {
		return nil, err
	}
	return &Manager{db: db, logger: logger}, nil
}

// Close closes the database.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.db.Close()
}

// historyKey orders records chronologically: {20-digit timestamp_ns}_{ulid}.
func historyKey(t time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%020d_%s", t.UnixNano(), id))
}

// RecordOutcome implements update.Recorder.
func (m *Manager) RecordOutcome(_ context.Context, outcome update.Outcome) error {
	record := &HistoryRecord{
		ID:         ulid.Make().String(),
		Outcome:    outcome,
		RecordedAt: time.Now().UTC(),
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	return m.db.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(UpdateHistoryBucket))
		data, err := record.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal history record: %w", err)
		}
		if err := bucket.Put(historyKey(record.RecordedAt, record.ID), data); err != nil {
			return fmt.Errorf("failed to store history record: %w", err)
		}
		return nil
	})
}

// ListHistory returns up to limit records, newest first. limit <= 0 returns all.
func (m *Manager) ListHistory(limit int) ([]*HistoryRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var records []*HistoryRecord
	err := m.db.db.View(func(tx *bbolt.Tx) error {
		cursor := tx.Bucket([]byte(UpdateHistoryBucket)).Cursor()
		for k, v := cursor.Last(); k != nil; k, v = cursor.Prev() {
			if limit > 0 && len(records) >= limit {
				break
			}
			record := &HistoryRecord{}
			if err := record.UnmarshalBinary(v); err != nil {
				m.logger.Warnw("Skipping unreadable history record", "key", string(k), "error", err)
				continue
			}
			records = append(records, record)
		}
		return nil
	})
	return records, err
}

// ListOutcomes returns the outcomes of ListHistory.
func (m *Manager) ListOutcomes(_ context.Context, limit int) ([]update.Outcome, error) {
	records, err := m.ListHistory(limit)
	if err != nil {
		return nil, err
	}
	out := make([]update.Outcome, 0, len(records))
	for _, r := range records {
		out = append(out, r.Outcome)
	}
	return out, nil
}

// PruneHistory keeps the newest keep records and returns how many were removed.
func (m *Manager) PruneHistory(keep int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	err := m.db.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(UpdateHistoryBucket))
		excess := bucket.Stats().KeyN - keep
		if excess <= 0 {
			return nil
		}
		var keys [][]byte
		cursor := bucket.Cursor()
		for k, _ := cursor.First(); k != nil && len(keys) < excess; k, _ = cursor.Next() {
			keys = append(keys, append([]byte(nil), k...))
		}
		for _, k := range keys {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}
		removed = len(keys)
		return nil
	})
	return removed, err
}

// GetGlobal returns the stored JSON value for key.
func (m *Manager) GetGlobal(key string) (json.RawMessage, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var value json.RawMessage
	err := m.db.db.View(func(tx *bbolt.Tx) error {
		if v := tx.Bucket([]byte(GlobalsBucket)).Get([]byte(key)); v != nil {
			value = append(json.RawMessage(nil), v...)
		}
		return nil
	})
	return value, value != nil, err
}

// SetGlobal stores a JSON value under key.
func (m *Manager) SetGlobal(key string, value json.RawMessage) error {
	if key == "" {
		return fmt.Errorf("global key cannot be empty")
	}
	if !json.Valid(value) {
		return fmt.Errorf("global %s: value is not valid JSON", key)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.db.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(GlobalsBucket)).Put([]byte(key), value)
	})
}

// DeleteGlobal removes key. Missing keys are not an error.
func (m *Manager) DeleteGlobal(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.db.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(GlobalsBucket)).Delete([]byte(key))
	})
}

// ListGlobals returns every stored key/value pair.
func (m *Manager) ListGlobals() (map[string]json.RawMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]json.RawMessage)
	err := m.db.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(GlobalsBucket)).ForEach(func(k, v []byte) error {
			out[string(k)] = append(json.RawMessage(nil), v...)
			return nil
		})
	})
	return out, err
}
