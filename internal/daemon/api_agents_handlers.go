package daemon

import (
	"net/http"

	"forge/internal/catalog"
)

func (a *API) Agents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	cat := a.Catalog
	if cat == nil {
		cat = catalog.Empty()
	}
	writeJSON(w, http.StatusOK, AgentsResponse{
		Presets: catalog.Presets(),
		Agents:  cat.Agents(),
		Teams:   cat.Teams(),
	})
}
