package store

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"forge/internal/types"
)

var bucketRuns = []byte("runs")

type boltRepository struct {
	db   *bolt.DB
	runs RunStore
}

func openBoltRepository(path string) (Repository, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("store: db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketRuns)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &boltRepository{db: db, runs: &boltRunStore{db: db}}, nil
}

func (r *boltRepository) Runs() RunStore   { return r.runs }
func (r *boltRepository) Backend() Backend { return BackendBolt }

func (r *boltRepository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

type boltRunStore struct {
	db *bolt.DB
	mu sync.Mutex
}

func (s *boltRunStore) SaveRun(record types.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := strings.TrimSpace(record.Run.ID)
	if id == "" {
		return errors.New("store: run id is required")
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRuns)
		if b == nil {
			return errors.New("store: runs bucket missing")
		}
		return b.Put([]byte(id), raw)
	})
}

func (s *boltRunStore) GetRun(id string) (types.RunRecord, bool, error) {
	var record types.RunRecord
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRuns)
		if b == nil {
			return nil
		}
		raw := b.Get([]byte(strings.TrimSpace(id)))
		if raw == nil {
			return nil
		}
		if err := json.Unmarshal(raw, &record); err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return types.RunRecord{}, false, err
	}
	return record, found, nil
}

func (s *boltRunStore) DeleteRun(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRuns)
		if b == nil {
			return nil
		}
		return b.Delete([]byte(strings.TrimSpace(id)))
	})
}

func (s *boltRunStore) ListRuns() ([]types.RunRecord, error) {
	var out []types.RunRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRuns)
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, v []byte) error {
			var record types.RunRecord
			if err := json.Unmarshal(v, &record); err != nil {
				return err
			}
			out = append(out, record)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Run.CreatedAt.After(out[j].Run.CreatedAt)
	})
	return out, nil
}
