package types

import "time"

type EventLevel string

const (
	EventLevelInfo  EventLevel = "info"
	EventLevelWarn  EventLevel = "warn"
	EventLevelError EventLevel = "error"
)

// Event is an immutable progress record appended to a run's event log.
type Event struct {
	Type         string     `json:"type"`
	Timestamp    time.Time  `json:"timestamp"`
	RunID        string     `json:"run_id"`
	Agent        string     `json:"agent"`
	Level        EventLevel `json:"level"`
	Message      string     `json:"message"`
	StepID       string     `json:"step_id,omitempty"`
	ArtifactPath string     `json:"artifact_path,omitempty"`
}

const (
	EventTypeEvent   = "event"
	EventTypeStatus  = "status"
	EventTypeCommand = "command"
)

// ControlMessage is an inbound command on a run's event channel.
type ControlMessage struct {
	Type    string `json:"type"`
	Command string `json:"command"`
}
