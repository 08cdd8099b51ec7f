package store

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"forge/internal/types"
)

const runFileSchemaVersion = 1

type runFile struct {
	Version int               `json:"version"`
	Runs    []types.RunRecord `json:"runs"`
}

type fileRepository struct {
	runs RunStore
}

func openFileRepository(dir string) (Repository, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("store: runs directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	return &fileRepository{runs: &fileRunStore{path: filepath.Join(dir, "runs.json")}}, nil
}

func (r *fileRepository) Runs() RunStore   { return r.runs }
func (r *fileRepository) Backend() Backend { return BackendFile }
func (r *fileRepository) Close() error     { return nil }

type fileRunStore struct {
	path string
	mu   sync.Mutex
}

func (s *fileRunStore) SaveRun(record types.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := strings.TrimSpace(record.Run.ID)
	if id == "" {
		return errors.New("store: run id is required")
	}
	file, err := s.load()
	if err != nil {
		return err
	}
	replaced := false
	for i := range file.Runs {
		if file.Runs[i].Run.ID == id {
			file.Runs[i] = record
			replaced = true
			break
		}
	}
	if !replaced {
		file.Runs = append(file.Runs, record)
	}
	return s.save(file)
}

func (s *fileRunStore) GetRun(id string) (types.RunRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := s.load()
	if err != nil {
		return types.RunRecord{}, false, err
	}
	id = strings.TrimSpace(id)
	for _, record := range file.Runs {
		if record.Run.ID == id {
			return record, true, nil
		}
	}
	return types.RunRecord{}, false, nil
}

func (s *fileRunStore) DeleteRun(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := s.load()
	if err != nil {
		return err
	}
	id = strings.TrimSpace(id)
	kept := file.Runs[:0]
	for _, record := range file.Runs {
		if record.Run.ID != id {
			kept = append(kept, record)
		}
	}
	file.Runs = kept
	return s.save(file)
}

func (s *fileRunStore) ListRuns() ([]types.RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := s.load()
	if err != nil {
		return nil, err
	}
	out := append([]types.RunRecord{}, file.Runs...)
	sort.Slice(out, func(i, j int) bool {
		return out[i].Run.CreatedAt.After(out[j].Run.CreatedAt)
	})
	return out, nil
}

func (s *fileRunStore) load() (*runFile, error) {
	file := &runFile{Version: runFileSchemaVersion, Runs: []types.RunRecord{}}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return file, nil
		}
		return nil, err
	}
	if len(data) == 0 {
		return file, nil
	}
	if err := json.Unmarshal(data, file); err != nil {
		return nil, err
	}
	if file.Runs == nil {
		file.Runs = []types.RunRecord{}
	}
	return file, nil
}

func (s *fileRunStore) save(file *runFile) error {
	file.Version = runFileSchemaVersion
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*.json")
	if err != nil {
		return err
	}
	defer func() {
		_ = os.Remove(tmp.Name())
	}()

	encoder := json.NewEncoder(tmp)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(file); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}
