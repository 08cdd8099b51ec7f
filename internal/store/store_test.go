package store

import (
	"path/filepath"
	"testing"
	"time"

	"forge/internal/types"
)

func openBackends(t *testing.T) map[string]Repository {
	t.Helper()
	dir := t.TempDir()
	bolt, err := Open(BackendBolt, filepath.Join(dir, "forge.db"), "")
	if err != nil {
		t.Fatalf("open bbolt: %v", err)
	}
	t.Cleanup(func() { _ = bolt.Close() })
	file, err := Open(BackendFile, "", filepath.Join(dir, "runs"))
	if err != nil {
		t.Fatalf("open file: %v", err)
	}
	t.Cleanup(func() { _ = file.Close() })
	return map[string]Repository{"bbolt": bolt, "file": file}
}

func sampleRecord(id string, created time.Time) types.RunRecord {
	return types.RunRecord{
		Run: types.Run{
			ID:        id,
			Kind:      types.RunKindProject,
			Title:     "sample",
			Status:    types.RunStatusWriting,
			CreatedAt: created,
		},
		Steps: []types.Step{
			{ID: "plan", Name: "plan", Status: types.StepStatusDone},
			{ID: "write", Name: "write", Status: types.StepStatusRunning},
		},
		Events: []types.Event{
			{Type: types.EventTypeEvent, RunID: id, Agent: "system", Message: "Run created"},
		},
	}
}

func TestRunStoreRoundTrip(t *testing.T) {
	for name, repo := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			runs := repo.Runs()
			record := sampleRecord("run-1", time.Now().UTC().Truncate(time.Second))
			if err := runs.SaveRun(record); err != nil {
				t.Fatalf("SaveRun: %v", err)
			}

			got, found, err := runs.GetRun("run-1")
			if err != nil || !found {
				t.Fatalf("GetRun: found=%v err=%v", found, err)
			}
			if got.Run.Title != record.Run.Title || got.Run.Status != record.Run.Status {
				t.Fatalf("round trip mismatch: %+v", got.Run)
			}
			if len(got.Steps) != 2 || got.Steps[1].Status != types.StepStatusRunning {
				t.Fatalf("steps mismatch: %+v", got.Steps)
			}
			if len(got.Events) != 1 || got.Events[0].Message != "Run created" {
				t.Fatalf("events mismatch: %+v", got.Events)
			}
		})
	}
}

func TestSaveRunUpserts(t *testing.T) {
	for name, repo := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			runs := repo.Runs()
			record := sampleRecord("run-1", time.Now())
			if err := runs.SaveRun(record); err != nil {
				t.Fatalf("SaveRun: %v", err)
			}
			record.Run.Status = types.RunStatusDone
			if err := runs.SaveRun(record); err != nil {
				t.Fatalf("SaveRun update: %v", err)
			}

			all, err := runs.ListRuns()
			if err != nil {
				t.Fatalf("ListRuns: %v", err)
			}
			if len(all) != 1 {
				t.Fatalf("len = %d, want 1", len(all))
			}
			if all[0].Run.Status != types.RunStatusDone {
				t.Fatalf("status = %s, want done", all[0].Run.Status)
			}
		})
	}
}

func TestListRunsOrdersByCreation(t *testing.T) {
	for name, repo := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			runs := repo.Runs()
			base := time.Now().UTC()
			for i, id := range []string{"old", "mid", "new"} {
				if err := runs.SaveRun(sampleRecord(id, base.Add(time.Duration(i)*time.Minute))); err != nil {
					t.Fatalf("SaveRun %s: %v", id, err)
				}
			}
			all, err := runs.ListRuns()
			if err != nil {
				t.Fatalf("ListRuns: %v", err)
			}
			if len(all) != 3 || all[0].Run.ID != "new" || all[2].Run.ID != "old" {
				t.Fatalf("unexpected order: %+v", ids(all))
			}
		})
	}
}

func TestDeleteRun(t *testing.T) {
	for name, repo := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			runs := repo.Runs()
			if err := runs.SaveRun(sampleRecord("run-1", time.Now())); err != nil {
				t.Fatalf("SaveRun: %v", err)
			}
			if err := runs.DeleteRun("run-1"); err != nil {
				t.Fatalf("DeleteRun: %v", err)
			}
			if _, found, err := runs.GetRun("run-1"); err != nil || found {
				t.Fatalf("GetRun after delete: found=%v err=%v", found, err)
			}
			// Deleting a missing run is a no-op.
			if err := runs.DeleteRun("run-1"); err != nil {
				t.Fatalf("DeleteRun again: %v", err)
			}
		})
	}
}

func TestSaveRunRequiresID(t *testing.T) {
	for name, repo := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			if err := repo.Runs().SaveRun(types.RunRecord{}); err == nil {
				t.Fatal("SaveRun without id should fail")
			}
		})
	}
}

func TestOpenUnknownBackend(t *testing.T) {
	if _, err := Open("etcd", "", ""); err == nil {
		t.Fatal("unknown backend should fail")
	}
}

func ids(records []types.RunRecord) []string {
	out := make([]string, len(records))
	for i, record := range records {
		out[i] = record.Run.ID
	}
	return out
}
