package daemon

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"forge/internal/artifact"
	"forge/internal/bus"
	"forge/internal/catalog"
	"forge/internal/logging"
	"forge/internal/orchestrator"
	"forge/internal/types"
)

type API struct {
	Version  string
	Engine   *orchestrator.Engine
	Bus      *bus.Bus
	Store    *artifact.Store
	Catalog  *catalog.Catalog
	Shutdown func(context.Context) error
	Logger   logging.Logger
}

type WriteFileRequest struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

type ChatRequest struct {
	Message string           `json:"message"`
	History []types.ChatTurn `json:"history,omitempty"`
}

type ReviewRequest struct {
	Paths []string `json:"paths,omitempty"`
}

type ChatResponse struct {
	Reply string `json:"reply"`
}

type AgentsResponse struct {
	Presets []catalog.Preset      `json:"presets"`
	Agents  []catalog.CustomAgent `json:"agents"`
	Teams   []catalog.Team        `json:"teams"`
}

func parseVersion(raw string) (int, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, true
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val < 0 {
		return 0, false
	}
	return val, true
}

func methodNotAllowed(w http.ResponseWriter) {
	writeJSON(w, http.StatusMethodNotAllowed, map[string]string{
		"error": "method not allowed",
	})
}

func (a *API) logger() logging.Logger {
	if a.Logger == nil {
		return logging.Nop()
	}
	return a.Logger
}
