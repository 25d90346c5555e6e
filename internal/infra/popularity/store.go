// Package popularity persists per-tool usage counters and ranks tool ids by
// observed usage. The counters survive restarts so default provisioning does
// not reset to registry order every boot.
package popularity

import (
	"encoding/binary"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"
	"go.uber.org/zap"
)

var bucketUsage = []byte("tool_usage")

// Store counts successful tool dispatches in a bbolt bucket. A Store opened
// without a database path keeps no counters and ranks ids in input order.
type Store struct {
	db     *bbolt.DB
	logger *zap.Logger
}

// Open opens (or creates) the counter database at path. An empty path yields
// a stateless store that preserves input order in Rank.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("popularity")
	if path == "" {
		return &Store{logger: logger}, nil
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open popularity store %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketUsage)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init popularity store %s: %w", path, err)
	}
	return &Store{db: db, logger: logger}, nil
}

// Bump increments the usage counter for a tool id. Counter write failures are
// logged and swallowed: losing a popularity increment must never fail the
// invocation that produced it.
func (s *Store) Bump(toolID string) {
	if s.db == nil || toolID == "" {
		return
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketUsage)
		count := decodeCount(bucket.Get([]byte(toolID)))
		return bucket.Put([]byte(toolID), encodeCount(count+1))
	})
	if err != nil {
		s.logger.Warn("usage counter update failed",
			zap.String("tool", toolID),
			zap.Error(err),
		)
	}
}

// Count returns the stored usage counter for a tool id.
func (s *Store) Count(toolID string) uint64 {
	if s.db == nil {
		return 0
	}
	var count uint64
	_ = s.db.View(func(tx *bbolt.Tx) error {
		count = decodeCount(tx.Bucket(bucketUsage).Get([]byte(toolID)))
		return nil
	})
	return count
}

// Rank orders tool ids by usage count, most used first. Ties and unseen ids
// fall back to lexicographic order so the result is deterministic.
func (s *Store) Rank(ids []string) []string {
	out := append([]string(nil), ids...)
	if s.db == nil {
		return out
	}

	counts := make(map[string]uint64, len(out))
	_ = s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketUsage)
		for _, id := range out {
			counts[id] = decodeCount(bucket.Get([]byte(id)))
		}
		return nil
	})

	sort.SliceStable(out, func(i, j int) bool {
		if counts[out[i]] != counts[out[j]] {
			return counts[out[i]] > counts[out[j]]
		}
		return out[i] < out[j]
	})
	return out
}

// Close releases the underlying database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func encodeCount(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}

func decodeCount(raw []byte) uint64 {
	if len(raw) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(raw)
}
