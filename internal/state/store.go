package state

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketRuns    = []byte("runs")
	bucketResults = []byte("results")
)

// RunInfo describes one explore run kept in a Store.
type RunInfo struct {
	ID          string    `json:"id"`
	StartURL    string    `json:"start_url"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
	Results     int       `json:"results"`
}

// Store persists page results per run so references can be regenerated
// without revisiting the target.
type Store interface {
	BeginRun(info RunInfo) error
	Append(runID string, result interface{}) error
	FinishRun(runID string) error
	Runs() ([]RunInfo, error)
	// Results calls fn with each stored result of runID in append order.
	Results(runID string, fn func(raw json.RawMessage) error) error
	Close() error
}

// ErrRunNotFound is returned for an unknown run id.
var ErrRunNotFound = errors.New("run not found")

// BoltStore implements Store on a bbolt file. Each run gets a nested
// bucket under "results" keyed by a big-endian sequence number, so
// cursor order is append order.
type BoltStore struct {
	db   *bolt.DB
	path string
}

// NewBoltStore opens or creates the store at path.
func NewBoltStore(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketRuns); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketResults)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BoltStore{db: db, path: path}, nil
}

// BeginRun registers a run and its result bucket.
func (s *BoltStore) BeginRun(info RunInfo) error {
	if info.StartedAt.IsZero() {
		info.StartedAt = time.Now().UTC()
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.Bucket(bucketResults).CreateBucketIfNotExists([]byte(info.ID)); err != nil {
			return err
		}
		return putRun(tx, info)
	})
}

// Append stores result as the next entry of runID.
func (s *BoltStore) Append(runID string, result interface{}) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketResults).Bucket([]byte(runID))
		if b == nil {
			return ErrRunNotFound
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)
		if err := b.Put(key, data); err != nil {
			return err
		}

		info, err := getRun(tx, runID)
		if err != nil {
			return err
		}
		info.Results++
		return putRun(tx, info)
	})
}

// FinishRun stamps the completion time of runID.
func (s *BoltStore) FinishRun(runID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		info, err := getRun(tx, runID)
		if err != nil {
			return err
		}
		info.CompletedAt = time.Now().UTC()
		return putRun(tx, info)
	})
}

// Runs lists stored runs, oldest first.
func (s *BoltStore) Runs() ([]RunInfo, error) {
	var runs []RunInfo
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRuns).ForEach(func(_, v []byte) error {
			var info RunInfo
			if err := json.Unmarshal(v, &info); err != nil {
				return err
			}
			runs = append(runs, info)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortRuns(runs)
	return runs, nil
}

// Results iterates the stored results of runID.
func (s *BoltStore) Results(runID string, fn func(raw json.RawMessage) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketResults).Bucket([]byte(runID))
		if b == nil {
			return ErrRunNotFound
		}
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			// v is only valid inside the transaction.
			raw := make(json.RawMessage, len(v))
			copy(raw, v)
			if err := fn(raw); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func getRun(tx *bolt.Tx, runID string) (RunInfo, error) {
	var info RunInfo
	data := tx.Bucket(bucketRuns).Get([]byte(runID))
	if data == nil {
		return info, ErrRunNotFound
	}
	err := json.Unmarshal(data, &info)
	return info, err
}

func putRun(tx *bolt.Tx, info RunInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketRuns).Put([]byte(info.ID), data)
}

func sortRuns(runs []RunInfo) {
	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].StartedAt.Before(runs[j].StartedAt)
	})
}

// MemoryStore implements Store in memory.
type MemoryStore struct {
	mu      sync.Mutex
	runs    map[string]RunInfo
	results map[string][]json.RawMessage
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:    make(map[string]RunInfo),
		results: make(map[string][]json.RawMessage),
	}
}

func (s *MemoryStore) BeginRun(info RunInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if info.StartedAt.IsZero() {
		info.StartedAt = time.Now().UTC()
	}
	s.runs[info.ID] = info
	if _, ok := s.results[info.ID]; !ok {
		s.results[info.ID] = nil
	}
	return nil
}

func (s *MemoryStore) Append(runID string, result interface{}) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.runs[runID]
	if !ok {
		return ErrRunNotFound
	}
	s.results[runID] = append(s.results[runID], data)
	info.Results++
	s.runs[runID] = info
	return nil
}

func (s *MemoryStore) FinishRun(runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.runs[runID]
	if !ok {
		return ErrRunNotFound
	}
	info.CompletedAt = time.Now().UTC()
	s.runs[runID] = info
	return nil
}

func (s *MemoryStore) Runs() ([]RunInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	runs := make([]RunInfo, 0, len(s.runs))
	for _, info := range s.runs {
		runs = append(runs, info)
	}
	sortRuns(runs)
	return runs, nil
}

func (s *MemoryStore) Results(runID string, fn func(raw json.RawMessage) error) error {
	s.mu.Lock()
	results, ok := s.results[runID]
	if !ok {
		s.mu.Unlock()
		return ErrRunNotFound
	}
	results = append([]json.RawMessage(nil), results...)
	s.mu.Unlock()

	for _, raw := range results {
		if err := fn(raw); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemoryStore) Close() error { return nil }

var (
	_ Store = (*BoltStore)(nil)
	_ Store = (*MemoryStore)(nil)
)
