package artifact

import (
	"archive/zip"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	bundleFileName         = "bundle.zip"
	bundleManifestFileName = "bundle.json"
)

type bundleManifest struct {
	Vector map[string]int `json:"vector"`
}

// Export builds (or reuses) the run's zip bundle and returns its path. The
// bundle is cached keyed by the run's version vector: a cache hit is valid only
// while no path has advanced past the cached vector.
func (s *Store) Export(runID string) (string, error) {
	if !s.RunExists(runID) {
		return "", ErrRunNotFound
	}
	s.exportMu.Lock()
	defer s.exportMu.Unlock()

	vector, err := s.VersionVector(runID)
	if err != nil {
		return "", err
	}

	exportDir := filepath.Join(s.runDir(runID), exportDirName)
	bundlePath := filepath.Join(exportDir, bundleFileName)
	manifestPath := filepath.Join(exportDir, bundleManifestFileName)
	if cached, err := loadBundleManifest(manifestPath); err == nil && vectorsEqual(cached.Vector, vector) {
		if _, err := os.Stat(bundlePath); err == nil {
			return bundlePath, nil
		}
	}

	if err := os.MkdirAll(exportDir, 0o755); err != nil {
		return "", err
	}
	tmpPath := bundlePath + ".tmp"
	if err := s.buildBundle(runID, tmpPath); err != nil {
		_ = os.Remove(tmpPath)
		return "", err
	}
	if err := os.Rename(tmpPath, bundlePath); err != nil {
		return "", err
	}
	data, err := json.Marshal(bundleManifest{Vector: vector})
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(manifestPath, data, 0o644); err != nil {
		return "", err
	}
	return bundlePath, nil
}

func (s *Store) buildBundle(runID, outPath string) error {
	out, err := os.Create(outPath)
	if err != nil {
		return err
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	treeRoot := filepath.Join(s.runDir(runID), treeDirName)

	var paths []string
	err = filepath.WalkDir(treeRoot, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && p != treeRoot {
				return fs.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		paths = append(paths, p)
		return nil
	})
	if err != nil {
		return err
	}
	// Stable member order keeps cache-hit bundles byte-identical across builds.
	sort.Strings(paths)

	for _, p := range paths {
		rel, err := filepath.Rel(treeRoot, p)
		if err != nil {
			return err
		}
		if err := addBundleFile(zw, p, filepath.ToSlash(rel)); err != nil {
			return err
		}
	}
	return zw.Close()
}

func addBundleFile(zw *zip.Writer, absPath, zipPath string) error {
	header := &zip.FileHeader{
		Name:   zipPath,
		Method: zip.Deflate,
	}
	fw, err := zw.CreateHeader(header)
	if err != nil {
		return err
	}
	f, err := os.Open(absPath)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(fw, f)
	return err
}

func loadBundleManifest(path string) (bundleManifest, error) {
	var manifest bundleManifest
	data, err := os.ReadFile(path)
	if err != nil {
		return manifest, err
	}
	if err := json.Unmarshal(data, &manifest); err != nil {
		return manifest, err
	}
	if manifest.Vector == nil {
		return manifest, errors.New("artifact: bundle manifest missing vector")
	}
	return manifest, nil
}

func vectorsEqual(a, b map[string]int) bool {
	if len(a) != len(b) {
		return false
	}
	for path, version := range a {
		if b[path] != version {
			return false
		}
	}
	return true
}
