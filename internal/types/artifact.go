package types

import "time"

// Actor identifies who produced a file version.
type Actor string

const (
	ActorAgent Actor = "agent"
	ActorUser  Actor = "user"
)

// FileEntry describes one path in a run's artifact tree.
type FileEntry struct {
	Path      string `json:"path"`
	IsDir     bool   `json:"is_dir,omitempty"`
	SizeBytes int64  `json:"size_bytes"`
	Version   int    `json:"version,omitempty"`
}

// FileVersion is one entry in a path's append-only history.
type FileVersion struct {
	Version    int       `json:"version"`
	ModifiedBy Actor     `json:"modified_by"`
	SizeBytes  int64     `json:"size_bytes"`
	WrittenAt  time.Time `json:"written_at"`
}

// ChatTurn is one entry in a caller-owned chat history.
type ChatTurn struct {
	Role string `json:"role"`
	Text string `json:"text"`
}
