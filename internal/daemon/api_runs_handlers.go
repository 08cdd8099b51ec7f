package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"forge/internal/logging"
	"forge/internal/orchestrator"
	"forge/internal/types"
)

// runListQuery narrows GET /v1/runs: substring search over title and
// description, then offset/limit applied to the recency-ordered result.
type runListQuery struct {
	search string
	limit  int
	offset int
}

func parseRunListQuery(r *http.Request) (runListQuery, error) {
	query := runListQuery{search: strings.TrimSpace(r.URL.Query().Get("search"))}
	var err error
	if query.limit, err = queryInt(r, "limit"); err != nil {
		return query, err
	}
	if query.offset, err = queryInt(r, "offset"); err != nil {
		return query, err
	}
	return query, nil
}

func queryInt(r *http.Request, key string) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", key)
	}
	return n, nil
}

func (q runListQuery) apply(runs []types.RunSnapshot) []types.RunSnapshot {
	if q.search != "" {
		needle := strings.ToLower(q.search)
		filtered := make([]types.RunSnapshot, 0, len(runs))
		for _, run := range runs {
			if strings.Contains(strings.ToLower(run.Run.Title), needle) ||
				strings.Contains(strings.ToLower(run.Run.Description), needle) {
				filtered = append(filtered, run)
			}
		}
		runs = filtered
	}
	if q.offset > 0 {
		if q.offset >= len(runs) {
			return []types.RunSnapshot{}
		}
		runs = runs[q.offset:]
	}
	if q.limit > 0 && q.limit < len(runs) {
		runs = runs[:q.limit]
	}
	return runs
}

func (a *API) Runs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		query, err := parseRunListQuery(r)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		runs, err := a.Engine.List()
		if err != nil {
			writeServiceError(w, classifyError(err))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"runs": query.apply(runs)})
	case http.MethodPost:
		var req orchestrator.CreateRunRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid json body",
			})
			return
		}
		snapshot, err := a.Engine.CreateRun(r.Context(), req)
		if err != nil {
			writeServiceError(w, classifyError(err))
			return
		}
		a.logger().Info("run_created",
			logging.F("run_id", snapshot.Run.ID),
			logging.F("kind", string(snapshot.Run.Kind)),
		)
		writeJSON(w, http.StatusCreated, snapshot)
	default:
		methodNotAllowed(w)
	}
}

func (a *API) RunByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/runs/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	id := parts[0]

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			a.getRun(w, id)
		case http.MethodDelete:
			a.deleteRun(w, id)
		default:
			methodNotAllowed(w)
		}
		return
	}

	switch parts[1] {
	case "status":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		a.getRunStatus(w, id)
	case "stop":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		a.stopRun(w, id)
	case "files":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		a.listFiles(w, id)
	case "file":
		switch r.Method {
		case http.MethodGet:
			a.readFile(w, r, id)
		case http.MethodPost:
			a.writeFile(w, r, id)
		default:
			methodNotAllowed(w)
		}
	case "chat":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		a.chat(w, r, id)
	case "review":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		a.review(w, r, id)
	case "download":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		a.download(w, r, id)
	case "stream":
		switch r.Method {
		case http.MethodGet:
			a.streamRun(w, r, id)
		case http.MethodPost:
			a.runControl(w, r, id)
		default:
			methodNotAllowed(w)
		}
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	}
}

func (a *API) getRun(w http.ResponseWriter, id string) {
	snapshot, err := a.Engine.Snapshot(id)
	if err != nil {
		writeServiceError(w, classifyError(err))
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (a *API) getRunStatus(w http.ResponseWriter, id string) {
	snapshot, err := a.Engine.Snapshot(id)
	if err != nil {
		writeServiceError(w, classifyError(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":           snapshot.Run.ID,
		"status":       snapshot.Run.Status,
		"last_error":   snapshot.Run.LastError,
		"completed_at": snapshot.Run.CompletedAt,
		"steps":        snapshot.Steps,
	})
}

func (a *API) stopRun(w http.ResponseWriter, id string) {
	if err := a.Engine.Cancel(id); err != nil {
		writeServiceError(w, classifyError(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (a *API) deleteRun(w http.ResponseWriter, id string) {
	if err := a.Engine.Delete(id); err != nil {
		writeServiceError(w, classifyError(err))
		return
	}
	a.logger().Info("run_deleted", logging.F("run_id", id))
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (a *API) listFiles(w http.ResponseWriter, id string) {
	entries, err := a.Store.List(id)
	if err != nil {
		writeServiceError(w, classifyError(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": entries})
}

func (a *API) readFile(w http.ResponseWriter, r *http.Request, id string) {
	path := r.URL.Query().Get("path")
	if strings.TrimSpace(path) == "" {
		writeServiceError(w, invalidError("path query parameter is required", nil))
		return
	}
	version, ok := parseVersion(r.URL.Query().Get("version"))
	if !ok {
		writeServiceError(w, invalidError("invalid version", nil))
		return
	}
	content, err := a.Store.Read(id, path, version)
	if err != nil {
		writeServiceError(w, classifyError(err))
		return
	}
	versions, err := a.Store.Versions(id, path)
	if err != nil {
		writeServiceError(w, classifyError(err))
		return
	}
	resolved := version
	if resolved == 0 && len(versions) > 0 {
		resolved = versions[len(versions)-1].Version
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"path":     path,
		"version":  resolved,
		"content":  string(content),
		"versions": versions,
	})
}

func (a *API) writeFile(w http.ResponseWriter, r *http.Request, id string) {
	var req WriteFileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid json body",
		})
		return
	}
	if strings.TrimSpace(req.Path) == "" {
		writeServiceError(w, invalidError("path is required", nil))
		return
	}
	version, err := a.Store.Write(id, req.Path, []byte(req.Content), types.ActorUser)
	if err != nil {
		writeServiceError(w, classifyError(err))
		return
	}
	if ctrl, err := a.Engine.Controller(id); err == nil {
		ctrl.NoteUserWrite(req.Path)
	} else {
		a.Bus.Append(id, types.Event{
			Type:         types.EventTypeEvent,
			Timestamp:    time.Now().UTC(),
			RunID:        id,
			Agent:        "user",
			Level:        types.EventLevelInfo,
			Message:      "File " + req.Path + " written",
			ArtifactPath: req.Path,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"path": req.Path, "version": version})
}

func (a *API) chat(w http.ResponseWriter, r *http.Request, id string) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid json body",
		})
		return
	}
	ctrl, err := a.controller(w, id)
	if err != nil {
		return
	}
	reply, err := ctrl.Chat(r.Context(), req.Message, req.History)
	if err != nil {
		writeServiceError(w, classifyError(err))
		return
	}
	writeJSON(w, http.StatusOK, ChatResponse{Reply: reply})
}

func (a *API) review(w http.ResponseWriter, r *http.Request, id string) {
	var req ReviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid json body",
		})
		return
	}
	ctrl, err := a.controller(w, id)
	if err != nil {
		return
	}
	report, err := ctrl.Review(r.Context(), req.Paths)
	if err != nil {
		writeServiceError(w, classifyError(err))
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *API) download(w http.ResponseWriter, r *http.Request, id string) {
	bundle, err := a.Store.Export(id)
	if err != nil {
		writeServiceError(w, classifyError(err))
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="`+id+`.zip"`)
	http.ServeFile(w, r, bundle)
}

// controller resolves the live controller, translating a missing one into the
// right service error. Chat and review need an in-process run.
func (a *API) controller(w http.ResponseWriter, id string) (*orchestrator.Controller, error) {
	ctrl, err := a.Engine.Controller(id)
	if err == nil {
		return ctrl, nil
	}
	if errors.Is(err, orchestrator.ErrRunNotFound) {
		if _, snapErr := a.Engine.Snapshot(id); snapErr == nil {
			err = conflictError("run has no live controller", nil)
		}
	}
	writeServiceError(w, classifyError(err))
	return nil, err
}
