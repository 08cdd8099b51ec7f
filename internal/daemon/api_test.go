package daemon

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"forge/internal/artifact"
	"forge/internal/bus"
	"forge/internal/capability"
	"forge/internal/orchestrator"
	"forge/internal/types"
)

func newTestAPI(t *testing.T) (*API, *httptest.Server) {
	t.Helper()
	eventBus := bus.New(bus.DefaultRetention)
	artifacts := artifact.NewStore(t.TempDir())
	engine := orchestrator.NewEngine(eventBus, artifacts, nil, nil, capability.NewMock(),
		orchestrator.WithRetryPolicy(orchestrator.BoundedExponentialRetryPolicy{
			InitialDelay: time.Millisecond,
			MaxDelay:     time.Millisecond,
		}),
	)
	api := &API{
		Version: "test",
		Engine:  engine,
		Bus:     eventBus,
		Store:   artifacts,
	}
	mux := http.NewServeMux()
	api.RegisterRoutes(mux)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return api, server
}

func doJSON(t *testing.T, method, url string, body any, wantStatus int, out any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		t.Fatalf("%s %s status = %d, want %d", method, url, resp.StatusCode, wantStatus)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
}

func createRunViaAPI(t *testing.T, server *httptest.Server) types.RunSnapshot {
	t.Helper()
	var snapshot types.RunSnapshot
	doJSON(t, http.MethodPost, server.URL+"/v1/runs", orchestrator.CreateRunRequest{
		Title:       "todo app",
		Description: "a small todo CLI",
	}, http.StatusCreated, &snapshot)
	if snapshot.Run.ID == "" {
		t.Fatal("created run has no id")
	}
	return snapshot
}

func waitRunDone(t *testing.T, api *API, id string) {
	t.Helper()
	ctrl, err := api.Engine.Controller(id)
	if err != nil {
		t.Fatalf("controller: %v", err)
	}
	select {
	case <-ctrl.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("run %s did not finish", id)
	}
}

func TestHealthEndpoint(t *testing.T) {
	_, server := newTestAPI(t)
	var health struct {
		OK      bool   `json:"ok"`
		Version string `json:"version"`
	}
	doJSON(t, http.MethodGet, server.URL+"/health", nil, http.StatusOK, &health)
	if !health.OK || health.Version != "test" {
		t.Fatalf("unexpected health payload: %+v", health)
	}
}

func TestRunLifecycleOverAPI(t *testing.T) {
	api, server := newTestAPI(t)
	created := createRunViaAPI(t, server)
	waitRunDone(t, api, created.Run.ID)

	var snapshot types.RunSnapshot
	doJSON(t, http.MethodGet, server.URL+"/v1/runs/"+created.Run.ID, nil, http.StatusOK, &snapshot)
	if snapshot.Run.Status != types.RunStatusDone {
		t.Fatalf("status = %s, want done (error: %s)", snapshot.Run.Status, snapshot.Run.LastError)
	}

	var status struct {
		Status types.RunStatus `json:"status"`
		Steps  []types.Step    `json:"steps"`
	}
	doJSON(t, http.MethodGet, server.URL+"/v1/runs/"+created.Run.ID+"/status", nil, http.StatusOK, &status)
	if status.Status != types.RunStatusDone || len(status.Steps) == 0 {
		t.Fatalf("unexpected status payload: %+v", status)
	}

	var list struct {
		Runs []types.RunSnapshot `json:"runs"`
	}
	doJSON(t, http.MethodGet, server.URL+"/v1/runs", nil, http.StatusOK, &list)
	if len(list.Runs) != 1 {
		t.Fatalf("len(runs) = %d, want 1", len(list.Runs))
	}
}

func TestListRunsSearchAndPagination(t *testing.T) {
	api, server := newTestAPI(t)

	var todo, notes types.RunSnapshot
	doJSON(t, http.MethodPost, server.URL+"/v1/runs", orchestrator.CreateRunRequest{
		Title:       "todo app",
		Description: "a small todo CLI",
	}, http.StatusCreated, &todo)
	doJSON(t, http.MethodPost, server.URL+"/v1/runs", orchestrator.CreateRunRequest{
		Title:       "notes service",
		Description: "a note keeping daemon",
	}, http.StatusCreated, &notes)
	waitRunDone(t, api, todo.Run.ID)
	waitRunDone(t, api, notes.Run.ID)

	var matched struct {
		Runs []types.RunSnapshot `json:"runs"`
	}
	doJSON(t, http.MethodGet, server.URL+"/v1/runs?search=NOTE", nil, http.StatusOK, &matched)
	if len(matched.Runs) != 1 || matched.Runs[0].Run.ID != notes.Run.ID {
		t.Fatalf("search returned %d runs, want only the notes run", len(matched.Runs))
	}

	var paged struct {
		Runs []types.RunSnapshot `json:"runs"`
	}
	doJSON(t, http.MethodGet, server.URL+"/v1/runs?limit=1&offset=1", nil, http.StatusOK, &paged)
	if len(paged.Runs) != 1 || paged.Runs[0].Run.ID != todo.Run.ID {
		t.Fatalf("pagination returned %d runs, want only the older run", len(paged.Runs))
	}

	var empty struct {
		Runs []types.RunSnapshot `json:"runs"`
	}
	doJSON(t, http.MethodGet, server.URL+"/v1/runs?offset=5", nil, http.StatusOK, &empty)
	if len(empty.Runs) != 0 {
		t.Fatalf("offset past the end returned %d runs, want 0", len(empty.Runs))
	}

	doJSON(t, http.MethodGet, server.URL+"/v1/runs?limit=banana", nil, http.StatusBadRequest, nil)
	doJSON(t, http.MethodGet, server.URL+"/v1/runs?offset=-1", nil, http.StatusBadRequest, nil)
}

func TestRunNotFound(t *testing.T) {
	_, server := newTestAPI(t)
	doJSON(t, http.MethodGet, server.URL+"/v1/runs/nope", nil, http.StatusNotFound, nil)
	doJSON(t, http.MethodGet, server.URL+"/v1/runs/nope/files", nil, http.StatusNotFound, nil)
}

func TestCreateRunValidationOverAPI(t *testing.T) {
	_, server := newTestAPI(t)
	doJSON(t, http.MethodPost, server.URL+"/v1/runs",
		orchestrator.CreateRunRequest{Description: "missing title"},
		http.StatusBadRequest, nil)
}

func TestFileEndpoints(t *testing.T) {
	api, server := newTestAPI(t)
	created := createRunViaAPI(t, server)
	waitRunDone(t, api, created.Run.ID)
	base := server.URL + "/v1/runs/" + created.Run.ID

	var files struct {
		Files []types.FileEntry `json:"files"`
	}
	doJSON(t, http.MethodGet, base+"/files", nil, http.StatusOK, &files)
	if len(files.Files) == 0 {
		t.Fatal("no files listed")
	}

	var read struct {
		Path    string `json:"path"`
		Version int    `json:"version"`
		Content string `json:"content"`
	}
	doJSON(t, http.MethodGet, base+"/file?path=main.py", nil, http.StatusOK, &read)
	if read.Version < 1 || read.Content == "" {
		t.Fatalf("unexpected read payload: %+v", read)
	}

	var wrote struct {
		Version int `json:"version"`
	}
	doJSON(t, http.MethodPost, base+"/file", WriteFileRequest{
		Path:    "main.py",
		Content: "print('edited')\n",
	}, http.StatusOK, &wrote)
	if wrote.Version != read.Version+1 {
		t.Fatalf("write version = %d, want %d", wrote.Version, read.Version+1)
	}

	// An explicit version reads history, not the latest content.
	var old struct {
		Content string `json:"content"`
	}
	doJSON(t, http.MethodGet, fmt.Sprintf("%s/file?path=main.py&version=%d", base, read.Version), nil, http.StatusOK, &old)
	if old.Content != read.Content {
		t.Fatal("historical version does not match original content")
	}

	doJSON(t, http.MethodGet, base+"/file?path=../escape", nil, http.StatusBadRequest, nil)
	doJSON(t, http.MethodGet, base+"/file?path=missing.txt", nil, http.StatusNotFound, nil)
}

func TestStopAndDeleteOverAPI(t *testing.T) {
	api, server := newTestAPI(t)
	created := createRunViaAPI(t, server)
	base := server.URL + "/v1/runs/" + created.Run.ID

	doJSON(t, http.MethodPost, base+"/stop", nil, http.StatusOK, nil)
	waitRunDone(t, api, created.Run.ID)

	var snapshot types.RunSnapshot
	doJSON(t, http.MethodGet, base, nil, http.StatusOK, &snapshot)
	if snapshot.Run.Status != types.RunStatusStopped && snapshot.Run.Status != types.RunStatusDone {
		t.Fatalf("status after stop = %s", snapshot.Run.Status)
	}

	doJSON(t, http.MethodDelete, base, nil, http.StatusOK, nil)
	doJSON(t, http.MethodGet, base, nil, http.StatusNotFound, nil)
}

func TestDeleteActiveRunConflicts(t *testing.T) {
	api, server := newTestAPI(t)
	created := createRunViaAPI(t, server)
	base := server.URL + "/v1/runs/" + created.Run.ID

	snapshot, err := api.Engine.Snapshot(created.Run.ID)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if !snapshot.Run.Status.Terminal() {
		resp, err := http.NewRequest(http.MethodDelete, base, nil)
		if err != nil {
			t.Fatalf("new request: %v", err)
		}
		res, err := http.DefaultClient.Do(resp)
		if err != nil {
			t.Fatalf("delete: %v", err)
		}
		defer res.Body.Close()
		if res.StatusCode != http.StatusConflict && res.StatusCode != http.StatusOK {
			t.Fatalf("delete active status = %d", res.StatusCode)
		}
	}
	waitRunDone(t, api, created.Run.ID)
}

func TestChatAndReviewOverAPI(t *testing.T) {
	api, server := newTestAPI(t)
	created := createRunViaAPI(t, server)
	waitRunDone(t, api, created.Run.ID)
	base := server.URL + "/v1/runs/" + created.Run.ID

	var chat ChatResponse
	doJSON(t, http.MethodPost, base+"/chat", ChatRequest{Message: "tidy up main.py"}, http.StatusOK, &chat)
	if chat.Reply == "" {
		t.Fatal("empty chat reply")
	}

	var report orchestrator.ReviewReport
	doJSON(t, http.MethodPost, base+"/review", nil, http.StatusOK, &report)
	if !report.Approved || len(report.Files) == 0 {
		t.Fatalf("unexpected review report: %+v", report)
	}
}

func TestDownloadServesZip(t *testing.T) {
	api, server := newTestAPI(t)
	created := createRunViaAPI(t, server)
	waitRunDone(t, api, created.Run.ID)

	resp, err := http.Get(server.URL + "/v1/runs/" + created.Run.ID + "/download")
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("download status = %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Content-Type"); got != "application/zip" {
		t.Fatalf("content type = %q", got)
	}
	buf := make([]byte, 4)
	if _, err := resp.Body.Read(buf); err != nil {
		t.Fatalf("read body: %v", err)
	}
	if !bytes.HasPrefix(buf, []byte("PK")) {
		t.Fatalf("body is not a zip: %q", buf)
	}
}

func TestStreamReplaysAndFollows(t *testing.T) {
	api, server := newTestAPI(t)
	created := createRunViaAPI(t, server)
	waitRunDone(t, api, created.Run.ID)

	resp, err := http.Get(server.URL + "/v1/runs/" + created.Run.ID + "/stream")
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	defer resp.Body.Close()
	if got := resp.Header.Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("content type = %q", got)
	}

	scanner := bufio.NewScanner(resp.Body)
	var events []types.Event
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var event types.Event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
			t.Fatalf("bad event payload: %v", err)
		}
		events = append(events, event)
	}
	if len(events) == 0 {
		t.Fatal("no events replayed")
	}
	last := events[len(events)-1]
	if last.Type != types.EventTypeEvent || last.Message != "Run completed" {
		t.Fatalf("unexpected final event: %+v", last)
	}
}

func TestStreamControlStopsRun(t *testing.T) {
	api, server := newTestAPI(t)
	created := createRunViaAPI(t, server)
	base := server.URL + "/v1/runs/" + created.Run.ID

	doJSON(t, http.MethodPost, base+"/stream", types.ControlMessage{
		Type:    types.EventTypeCommand,
		Command: "stop",
	}, http.StatusOK, nil)
	waitRunDone(t, api, created.Run.ID)

	var bad map[string]string
	doJSON(t, http.MethodPost, base+"/stream", types.ControlMessage{
		Type:    types.EventTypeCommand,
		Command: "reboot",
	}, http.StatusBadRequest, &bad)
	if bad["error"] == "" {
		t.Fatal("missing error message for unknown command")
	}
}

func TestMethodNotAllowed(t *testing.T) {
	_, server := newTestAPI(t)
	doJSON(t, http.MethodDelete, server.URL+"/v1/runs", nil, http.StatusMethodNotAllowed, nil)
	doJSON(t, http.MethodPost, server.URL+"/v1/agents", nil, http.StatusMethodNotAllowed, nil)
}

func TestAgentsEndpoint(t *testing.T) {
	_, server := newTestAPI(t)
	var agents AgentsResponse
	doJSON(t, http.MethodGet, server.URL+"/v1/agents", nil, http.StatusOK, &agents)
	if len(agents.Presets) == 0 {
		t.Fatal("no builtin presets")
	}
}
