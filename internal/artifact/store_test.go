package artifact

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"

	"forge/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := NewStore(t.TempDir())
	if err := s.EnsureRun("run-1", map[string]string{"title": "demo"}); err != nil {
		t.Fatalf("EnsureRun: %v", err)
	}
	return s
}

func TestWriteAssignsGaplessVersions(t *testing.T) {
	s := newTestStore(t)
	for want := 1; want <= 3; want++ {
		got, err := s.Write("run-1", "src/app.py", []byte(fmt.Sprintf("v%d", want)), types.ActorAgent)
		if err != nil {
			t.Fatalf("Write %d: %v", want, err)
		}
		if got != want {
			t.Fatalf("version = %d, want %d", got, want)
		}
	}
	versions, err := s.Versions("run-1", "src/app.py")
	if err != nil {
		t.Fatalf("Versions: %v", err)
	}
	for i, v := range versions {
		if v.Version != i+1 {
			t.Fatalf("history gap at index %d: %+v", i, versions)
		}
	}
}

func TestReadLatestAndByVersion(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Write("run-1", "src/app.py", []byte("a"), types.ActorAgent); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := s.Write("run-1", "src/app.py", []byte("b"), types.ActorUser); err != nil {
		t.Fatalf("Write: %v", err)
	}
	latest, err := s.Read("run-1", "src/app.py", 0)
	if err != nil {
		t.Fatalf("Read latest: %v", err)
	}
	if string(latest) != "b" {
		t.Fatalf("latest = %q, want %q", latest, "b")
	}
	first, err := s.Read("run-1", "src/app.py", 1)
	if err != nil {
		t.Fatalf("Read v1: %v", err)
	}
	if string(first) != "a" {
		t.Fatalf("v1 = %q, want %q", first, "a")
	}
	if _, err := s.Read("run-1", "src/app.py", 3); !errors.Is(err, ErrVersionNotFound) {
		t.Fatalf("expected ErrVersionNotFound, got %v", err)
	}
}

func TestWriteRejectsEscapingPaths(t *testing.T) {
	s := newTestStore(t)
	for _, bad := range []string{"", "/etc/passwd", "../outside.txt", "a/../../b"} {
		if _, err := s.Write("run-1", bad, []byte("x"), types.ActorUser); !errors.Is(err, ErrInvalidPath) {
			t.Fatalf("path %q: expected ErrInvalidPath, got %v", bad, err)
		}
	}
}

func TestConcurrentSamePathWritesStayGapless(t *testing.T) {
	s := newTestStore(t)
	const writers = 16
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := s.Write("run-1", "main.go", []byte(fmt.Sprintf("w%d", i)), types.ActorAgent); err != nil {
				t.Errorf("Write: %v", err)
			}
		}(i)
	}
	wg.Wait()
	versions, err := s.Versions("run-1", "main.go")
	if err != nil {
		t.Fatalf("Versions: %v", err)
	}
	if len(versions) != writers {
		t.Fatalf("expected %d versions, got %d", writers, len(versions))
	}
	for i, v := range versions {
		if v.Version != i+1 {
			t.Fatalf("gap or repeat at index %d: %+v", i, v)
		}
	}
}

func TestListAnnotatesVersions(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Write("run-1", "docs/readme.md", []byte("hello"), types.ActorAgent); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := s.Write("run-1", "docs/readme.md", []byte("hello again"), types.ActorAgent); err != nil {
		t.Fatalf("Write: %v", err)
	}
	entries, err := s.List("run-1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	var file *types.FileEntry
	for i := range entries {
		if entries[i].Path == "docs/readme.md" {
			file = &entries[i]
		}
	}
	if file == nil {
		t.Fatalf("file missing from listing: %+v", entries)
	}
	if file.Version != 2 {
		t.Fatalf("listed version = %d, want 2", file.Version)
	}
}

func TestExportCacheIsVectorKeyed(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Write("run-1", "main.py", []byte("print('a')"), types.ActorAgent); err != nil {
		t.Fatalf("Write: %v", err)
	}

	first, err := s.Export("run-1")
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	firstBytes, err := os.ReadFile(first)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	second, err := s.Export("run-1")
	if err != nil {
		t.Fatalf("Export (cached): %v", err)
	}
	secondBytes, err := os.ReadFile(second)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(firstBytes, secondBytes) {
		t.Fatalf("cache hit produced a different bundle")
	}

	if _, err := s.Write("run-1", "main.py", []byte("print('b')"), types.ActorAgent); err != nil {
		t.Fatalf("Write: %v", err)
	}
	third, err := s.Export("run-1")
	if err != nil {
		t.Fatalf("Export (after write): %v", err)
	}
	thirdBytes, err := os.ReadFile(third)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if bytes.Equal(firstBytes, thirdBytes) {
		t.Fatalf("bundle unchanged after write invalidated the vector")
	}
}

func TestDeleteRunRemovesEverything(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Write("run-1", "main.py", []byte("x"), types.ActorAgent); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := s.DeleteRun("run-1"); err != nil {
		t.Fatalf("DeleteRun: %v", err)
	}
	if s.RunExists("run-1") {
		t.Fatalf("run directory still present after delete")
	}
	if _, err := s.Read("run-1", "main.py", 0); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
}
