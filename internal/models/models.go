package models

import (
	"errors"
	"time"
)

type State string

const (
	StatePending   State = "PENDING"
	StateCurrent   State = "CURRENT"
	StateCompleted State = "COMPLETED"
	StateErrored   State = "ERRORED"
	StatePostponed State = "POSTPONED"
)

var ErrInvalidState = errors.New("invalid queue item state")

func ParseState(s string) (State, error) {
	switch st := State(s); st {
	case StatePending, StateCurrent, StateCompleted, StateErrored, StatePostponed:
		return st, nil
	}
	return "", ErrInvalidState
}

// Terminal reports whether no further transition leaves the state.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateErrored
}

type ContentType string

const (
	TypeClient            ContentType = "Client"
	TypeMod               ContentType = "Mod"
	TypeModpack           ContentType = "Modpack"
	TypeResourcepack      ContentType = "Resourcepack"
	TypeShader            ContentType = "Shader"
	TypeDatapack          ContentType = "Datapack"
	TypeCurseforgeModpack ContentType = "CurseforgeModpack"
	TypeUpdate            ContentType = "Update"
)

var ErrInvalidContentType = errors.New("invalid content type")

func ParseContentType(s string) (ContentType, error) {
	switch t := ContentType(s); t {
	case TypeClient, TypeMod, TypeModpack, TypeResourcepack, TypeShader,
		TypeDatapack, TypeCurseforgeModpack, TypeUpdate:
		return t, nil
	}
	return "", ErrInvalidContentType
}

// IsClient reports whether items of this type carry ClientMetadata.
func (t ContentType) IsClient() bool {
	return t == TypeClient || t == TypeUpdate
}

// QueueItem is one persisted install job.
type QueueItem struct {
	ID          string      `json:"id"`
	Display     bool        `json:"display"`
	Priority    int         `json:"priority"`
	Title       string      `json:"title"`
	Icon        string      `json:"icon,omitempty"`
	ProfileID   string      `json:"profileId"`
	CreatedAt   time.Time   `json:"createdAt"`
	CompletedAt *time.Time  `json:"completedAt,omitempty"`
	Type        ContentType `json:"contentType"`
	Metadata    Metadata    `json:"metadata"`
	State       State       `json:"state"`
	Error       string      `json:"error,omitempty"`
}

func (i QueueItem) Ref() JobRef {
	return JobRef{ID: i.ID, Title: i.Title, Icon: i.Icon}
}

// JobRef identifies the job an installer is working on.
type JobRef struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Icon  string `json:"icon,omitempty"`
}

// Queue is the in-memory view of the orchestrator's lists.
type Queue struct {
	Current   *QueueItem  `json:"current"`
	Next      []QueueItem `json:"next"`
	Completed []QueueItem `json:"completed"`
	Errored   []QueueItem `json:"errored"`
}

type Profile struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	GameVersion   string `json:"gameVersion"`
	Loader        string `json:"loader"`
	LoaderVersion string `json:"loaderVersion,omitempty"`
	GameDir       string `json:"gameDir,omitempty"`
}

// ProfileContent is one content file recorded as installed on a profile.
type ProfileContent struct {
	ProfileID string      `json:"profileId"`
	ProjectID string      `json:"projectId"`
	VersionID string      `json:"versionId"`
	Hash      string      `json:"hash"`
	Filename  string      `json:"filename"`
	Type      ContentType `json:"contentType"`
	Size      int64       `json:"size"`
}

type Level string

const (
	LevelSuccess Level = "success"
	LevelInfo    Level = "info"
	LevelError   Level = "error"
)

// Notification is a user-facing toast.
type Notification struct {
	Level   Level  `json:"level"`
	Title   string `json:"title"`
	Message string `json:"message"`
	ItemID  string `json:"itemId,omitempty"`
}
