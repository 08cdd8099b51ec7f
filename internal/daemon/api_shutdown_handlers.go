package daemon

import (
	"context"
	"net/http"
	"time"
)

const shutdownGrace = 5 * time.Second

// ShutdownDaemon acknowledges the request first, then drains active runs in
// the background so the HTTP response is not cut off by the server closing.
func (a *API) ShutdownDaemon(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if a.Shutdown == nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "shutdown not available"})
		return
	}
	a.logger().Info("shutdown_requested")
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		_ = a.Shutdown(ctx)
	}()
}
