package daemon

import (
	"net/http"
	"os"
	"time"
)

// Health reports liveness. It is unauthenticated so supervisors and the CLI
// can probe a daemon they hold no token for.
func (a *API) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"version": a.Version,
		"pid":     os.Getpid(),
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}
