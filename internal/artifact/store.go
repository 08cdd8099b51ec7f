// Package artifact is the versioned file store backing each run.
//
// Every write appends a new version; the latest content of each path is
// mirrored into a plain tree so bundles and capability context reads see an
// ordinary directory. History is append-only and gapless from version 1.
package artifact

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"forge/internal/types"
)

var (
	ErrRunNotFound     = errors.New("artifact: run not found")
	ErrFileNotFound    = errors.New("artifact: file not found")
	ErrVersionNotFound = errors.New("artifact: version not found")
	ErrInvalidPath     = errors.New("artifact: invalid path")
)

const (
	treeDirName    = "tree"
	historyDirName = "history"
	exportDirName  = "export"
	metaFileName   = "meta.json"
)

type Store struct {
	root  string
	locks *pathLockManager

	exportMu sync.Mutex
	now      func() time.Time
}

func NewStore(root string) *Store {
	return &Store{
		root:  root,
		locks: newPathLockManager(),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) runDir(runID string) string {
	return filepath.Join(s.root, runID)
}

// EnsureRun creates the run's directory skeleton and writes its meta record.
func (s *Store) EnsureRun(runID string, meta any) error {
	dir := s.runDir(runID)
	for _, sub := range []string{treeDirName, historyDirName, exportDirName} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return err
		}
	}
	if meta == nil {
		return nil
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, metaFileName), data, 0o644)
}

// RunExists reports whether the run has a directory under the store root.
func (s *Store) RunExists(runID string) bool {
	info, err := os.Stat(s.runDir(runID))
	return err == nil && info.IsDir()
}

// DeleteRun removes the run's artifacts, history and cached bundles.
func (s *Store) DeleteRun(runID string) error {
	if !s.RunExists(runID) {
		return ErrRunNotFound
	}
	s.locks.RemoveRun(runID)
	return os.RemoveAll(s.runDir(runID))
}

// cleanPath normalizes a caller-supplied artifact path and rejects anything
// that would escape the run's tree.
func cleanPath(raw string) (string, error) {
	p := strings.TrimSpace(raw)
	p = strings.ReplaceAll(p, "\\", "/")
	p = strings.TrimPrefix(p, "./")
	if p == "" || strings.HasPrefix(p, "/") {
		return "", ErrInvalidPath
	}
	cleaned := path.Clean(p)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", ErrInvalidPath
	}
	return cleaned, nil
}

type historyManifest struct {
	Versions []types.FileVersion `json:"versions"`
}

// historyBase escapes the artifact path into a flat history file prefix.
func historyBase(cleaned string) string {
	return strings.ReplaceAll(cleaned, "/", "%2F")
}

func (s *Store) manifestPath(runID, cleaned string) string {
	return filepath.Join(s.runDir(runID), historyDirName, historyBase(cleaned)+".json")
}

func (s *Store) versionPath(runID, cleaned string, version int) string {
	return filepath.Join(s.runDir(runID), historyDirName, fmt.Sprintf("%s.v%d", historyBase(cleaned), version))
}

func (s *Store) loadManifest(runID, cleaned string) (historyManifest, error) {
	var manifest historyManifest
	data, err := os.ReadFile(s.manifestPath(runID, cleaned))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return manifest, nil
		}
		return manifest, err
	}
	if err := json.Unmarshal(data, &manifest); err != nil {
		return manifest, err
	}
	return manifest, nil
}

func (s *Store) saveManifest(runID, cleaned string, manifest historyManifest) error {
	data, err := json.Marshal(manifest)
	if err != nil {
		return err
	}
	return os.WriteFile(s.manifestPath(runID, cleaned), data, 0o644)
}

// Write appends a new version of path and returns the assigned version number.
// Writes to the same path serialize; the version sequence is gapless from 1.
func (s *Store) Write(runID, rawPath string, content []byte, actor types.Actor) (int, error) {
	if !s.RunExists(runID) {
		return 0, ErrRunNotFound
	}
	cleaned, err := cleanPath(rawPath)
	if err != nil {
		return 0, err
	}
	unlock := s.locks.Lock(runID, cleaned)
	defer unlock()

	manifest, err := s.loadManifest(runID, cleaned)
	if err != nil {
		return 0, err
	}
	version := len(manifest.Versions) + 1

	if err := os.WriteFile(s.versionPath(runID, cleaned, version), content, 0o644); err != nil {
		return 0, err
	}
	target := filepath.Join(s.runDir(runID), treeDirName, filepath.FromSlash(cleaned))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return 0, err
	}
	if err := os.WriteFile(target, content, 0o644); err != nil {
		return 0, err
	}

	manifest.Versions = append(manifest.Versions, types.FileVersion{
		Version:    version,
		ModifiedBy: actor,
		SizeBytes:  int64(len(content)),
		WrittenAt:  s.now(),
	})
	if err := s.saveManifest(runID, cleaned, manifest); err != nil {
		return 0, err
	}
	return version, nil
}

// Read returns a path's content. Version 0 selects the latest.
func (s *Store) Read(runID, rawPath string, version int) ([]byte, error) {
	if !s.RunExists(runID) {
		return nil, ErrRunNotFound
	}
	cleaned, err := cleanPath(rawPath)
	if err != nil {
		return nil, err
	}
	manifest, err := s.loadManifest(runID, cleaned)
	if err != nil {
		return nil, err
	}
	if len(manifest.Versions) == 0 {
		return nil, ErrFileNotFound
	}
	if version == 0 {
		version = len(manifest.Versions)
	}
	if version < 1 || version > len(manifest.Versions) {
		return nil, ErrVersionNotFound
	}
	return os.ReadFile(s.versionPath(runID, cleaned, version))
}

// Versions returns the append-only history for a path.
func (s *Store) Versions(runID, rawPath string) ([]types.FileVersion, error) {
	if !s.RunExists(runID) {
		return nil, ErrRunNotFound
	}
	cleaned, err := cleanPath(rawPath)
	if err != nil {
		return nil, err
	}
	manifest, err := s.loadManifest(runID, cleaned)
	if err != nil {
		return nil, err
	}
	if len(manifest.Versions) == 0 {
		return nil, ErrFileNotFound
	}
	return append([]types.FileVersion{}, manifest.Versions...), nil
}

// List walks the run's latest tree, directories first within each parent,
// annotating files with their latest version.
func (s *Store) List(runID string) ([]types.FileEntry, error) {
	if !s.RunExists(runID) {
		return nil, ErrRunNotFound
	}
	treeRoot := filepath.Join(s.runDir(runID), treeDirName)
	var entries []types.FileEntry
	err := filepath.WalkDir(treeRoot, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == treeRoot {
			return nil
		}
		rel, err := filepath.Rel(treeRoot, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			entries = append(entries, types.FileEntry{Path: rel, IsDir: true})
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		entry := types.FileEntry{Path: rel, SizeBytes: info.Size()}
		if manifest, err := s.loadManifest(runID, rel); err == nil {
			entry.Version = len(manifest.Versions)
		}
		entries = append(entries, entry)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

// VersionVector maps every written path to its latest version number.
func (s *Store) VersionVector(runID string) (map[string]int, error) {
	if !s.RunExists(runID) {
		return nil, ErrRunNotFound
	}
	historyRoot := filepath.Join(s.runDir(runID), historyDirName)
	names, err := os.ReadDir(historyRoot)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]int{}, nil
		}
		return nil, err
	}
	vector := make(map[string]int)
	for _, entry := range names {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		cleaned := strings.ReplaceAll(strings.TrimSuffix(name, ".json"), "%2F", "/")
		manifest, err := s.loadManifest(runID, cleaned)
		if err != nil {
			return nil, err
		}
		if len(manifest.Versions) > 0 {
			vector[cleaned] = len(manifest.Versions)
		}
	}
	return vector, nil
}

// Snapshot reads the latest content of every file in the run's tree.
func (s *Store) Snapshot(runID string) (map[string]string, error) {
	entries, err := s.List(runID)
	if err != nil {
		return nil, err
	}
	snapshot := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir {
			continue
		}
		data, err := s.Read(runID, entry.Path, 0)
		if err != nil {
			return nil, err
		}
		snapshot[entry.Path] = string(data)
	}
	return snapshot, nil
}
