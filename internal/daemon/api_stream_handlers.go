package daemon

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"forge/internal/bus"
	"forge/internal/logging"
	"forge/internal/types"
)

// streamRun serves the run's event log as SSE: retained history first, then
// live events until the run terminates or the client goes away. A run whose
// log is already closed still gets the retained history.
func (a *API) streamRun(w http.ResponseWriter, r *http.Request, id string) {
	if _, err := a.Engine.Snapshot(id); err != nil {
		writeServiceError(w, classifyError(err))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming unsupported"})
		return
	}

	ch, cancel, err := a.Bus.Subscribe(id)
	if err != nil {
		if !errors.Is(err, bus.ErrRunClosed) {
			writeServiceError(w, classifyError(err))
			return
		}
		a.replayClosedRun(w, flusher, id)
		return
	}
	defer cancel()

	reqID := logging.NewRequestID()
	log := a.logger()
	if log.Enabled(logging.Debug) {
		log.Debug("run_stream_open",
			logging.F("req_id", reqID),
			logging.F("run_id", id),
		)
	}

	sseHeaders(w)
	_, _ = w.Write([]byte(":\n\n"))
	flusher.Flush()

	ctx := r.Context()
	var count int
	reason := "unknown"
	defer func() {
		if log.Enabled(logging.Debug) {
			log.Debug("run_stream_close",
				logging.F("req_id", reqID),
				logging.F("run_id", id),
				logging.F("count", count),
				logging.F("reason", reason),
			)
		}
	}()
	for {
		select {
		case <-ctx.Done():
			reason = "ctx_done"
			return
		case event, ok := <-ch:
			if !ok {
				reason = "channel_closed"
				return
			}
			count++
			writeSSE(w, flusher, event)
		}
	}
}

func (a *API) replayClosedRun(w http.ResponseWriter, flusher http.Flusher, id string) {
	sseHeaders(w)
	for _, event := range a.Bus.Recent(id) {
		writeSSE(w, flusher, event)
	}
}

// runControl accepts a command on the same channel clients stream from.
func (a *API) runControl(w http.ResponseWriter, r *http.Request, id string) {
	var msg types.ControlMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid json body",
		})
		return
	}
	if msg.Type != "" && msg.Type != types.EventTypeCommand {
		writeServiceError(w, invalidError("unknown message type", nil))
		return
	}
	switch strings.ToLower(strings.TrimSpace(msg.Command)) {
	case "stop":
		if err := a.Engine.Cancel(id); err != nil {
			writeServiceError(w, classifyError(err))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		writeServiceError(w, invalidError("unknown command", nil))
	}
}

func sseHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, event types.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	_, _ = w.Write([]byte("data: "))
	_, _ = w.Write(data)
	_, _ = w.Write([]byte("\n\n"))
	flusher.Flush()
}
