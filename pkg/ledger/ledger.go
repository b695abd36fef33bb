// Package ledger persists usage snapshots in an embedded bbolt file.
package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"github.com/feichai0017/document-recognizer/internal/models"
	"github.com/feichai0017/document-recognizer/pkg/logger"
)

const usageBucket = "usage"

// Ledger is safe for concurrent use; bbolt serializes writers.
type Ledger struct {
	db     *bbolt.DB
	logger logger.Logger
}

func Open(path string, log logger.Logger) (*Ledger, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create ledger directory: %w", err)
		}
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(usageBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create usage bucket: %w", err)
	}

	return &Ledger{db: db, logger: log.Named("ledger")}, nil
}

// Record stores snap under its timestamp. Keys sort chronologically.
func (l *Ledger) Record(snap models.UsageSnapshot) error {
	if snap.TakenAt.IsZero() {
		snap.TakenAt = time.Now()
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	key := []byte(snap.TakenAt.UTC().Format(keyLayout))
	err = l.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(usageBucket)).Put(key, data)
	})
	if err != nil {
		return fmt.Errorf("failed to record snapshot: %w", err)
	}

	l.logger.Debug("Usage recorded",
		logger.Int64("total_scans", snap.TotalScans),
		logger.Float64("total_cost", snap.TotalCost),
	)
	return nil
}

// fixed-width RFC3339Nano so that keys sort by time
const keyLayout = "2006-01-02T15:04:05.000000000Z07:00"

// History returns up to limit snapshots, newest first. limit <= 0 returns
// everything.
func (l *Ledger) History(limit int) ([]models.UsageSnapshot, error) {
	history := make([]models.UsageSnapshot, 0)
	err := l.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(usageBucket)).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(history) >= limit {
				break
			}
			var snap models.UsageSnapshot
			if err := json.Unmarshal(v, &snap); err != nil {
				return fmt.Errorf("failed to unmarshal snapshot %s: %w", k, err)
			}
			history = append(history, snap)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return history, nil
}

func (l *Ledger) Close() error {
	return l.db.Close()
}
