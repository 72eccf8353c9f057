package models

import "encoding/json"

const (
	EventInit     = "init"
	EventStarted  = "started"
	EventProgress = "progress"
	EventFinished = "finished"
)

// Event is one entry of the installer's event stream.
type Event struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type InitData struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Icon  string `json:"icon,omitempty"`
}

type StartedData struct {
	Total   float64 `json:"total"`
	Message string  `json:"message"`
}

// ProgressData fields are optional; nil means "not reported".
type ProgressData struct {
	Message *string  `json:"message,omitempty"`
	Amount  *float64 `json:"amount,omitempty"`
}

func NewEvent(kind string, data any) Event {
	ev := Event{Event: kind}
	if data != nil {
		raw, err := json.Marshal(data)
		if err == nil {
			ev.Data = raw
		}
	}
	return ev
}

type ProgressSnapshot struct {
	Current     *JobRef `json:"current"`
	AmountDone  float64 `json:"amountDone"`
	AmountTotal float64 `json:"amountTotal"`
	Message     string  `json:"message"`
}

// DependencyType is the declared relationship of a dependency edge.
type DependencyType string

const (
	DependencyRequired     DependencyType = "required"
	DependencyOptional     DependencyType = "optional"
	DependencyIncompatible DependencyType = "incompatible"
	DependencyEmbedded     DependencyType = "embedded"
)

// Dependency is an edge from a version to another content item.
type Dependency struct {
	VersionID string         `json:"version_id,omitempty"`
	ProjectID string         `json:"project_id,omitempty"`
	FileName  string         `json:"file_name,omitempty"`
	Type      DependencyType `json:"dependency_type"`
}

type InstallPlan []FileDownload
