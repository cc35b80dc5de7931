package executionlog

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

// BoltSink stores records in an embedded bbolt file, one bucket per rule,
// keyed by a per-bucket sequence so cursor order is write order.
type BoltSink struct {
	db *bolt.DB
}

// OpenBoltSink opens or creates the database at path.
func OpenBoltSink(path string) (*BoltSink, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open execution log %s: %w", path, err)
	}
	return &BoltSink{db: db}, nil
}

func (s *BoltSink) Close() error { return s.db.Close() }

func (s *BoltSink) Record(_ context.Context, rec Record) error {
	val, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode execution record: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(rec.RuleID))
		if err != nil {
			return err
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)
		return b.Put(key, val)
	})
}

func (s *BoltSink) List(_ context.Context, ruleID string, limit int) ([]Record, error) {
	limit = normalizeLimit(limit)
	var out []Record
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(ruleID))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.Last(); k != nil && len(out) < limit; k, v = c.Prev() {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decode execution record: %w", err)
			}
			out = append(out, rec)
		}
		return nil
	})
	return out, err
}
