package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var ErrInvalidMetadata = errors.New("invalid queue item metadata")

// Metadata is the job-type specific payload of a QueueItem. The concrete
// type is fixed by the item's ContentType.
type Metadata interface {
	metadata()
}

type ClientMetadata struct {
	Version       string `json:"version"`
	Loader        string `json:"loader"`
	LoaderVersion string `json:"loader_version,omitempty"`
	// GameDir overrides the launcher's default install directory.
	GameDir string `json:"game_dir,omitempty"`
}

type ContentMetadata struct {
	Files []FileDownload `json:"files"`
	// Replaces holds the profile rows the files overwrote when queued.
	Replaces []ProfileContent `json:"replaces,omitempty"`
}

func (ClientMetadata) metadata()  {}
func (ContentMetadata) metadata() {}

// FileDownload references a single file to be installed into a profile.
type FileDownload struct {
	Hash      string `json:"hash"`
	URL       string `json:"url"`
	Filename  string `json:"filename"`
	Version   string `json:"version"`
	ContentID string `json:"content_id"`
	Size      int64  `json:"size,omitempty"`
	Title     string `json:"title,omitempty"`
}

// Bytes sums the declared size of the files.
func (m ContentMetadata) Bytes() int64 {
	var total int64
	for _, f := range m.Files {
		total += f.Size
	}
	return total
}

// CheckMetadata verifies that m has the shape required by t.
func CheckMetadata(t ContentType, m Metadata) error {
	switch m.(type) {
	case ClientMetadata:
		if t.IsClient() {
			return nil
		}
	case ContentMetadata:
		if !t.IsClient() {
			return nil
		}
	case nil:
		return fmt.Errorf("%w: missing for %s", ErrInvalidMetadata, t)
	}
	return fmt.Errorf("%w: %T does not belong to %s", ErrInvalidMetadata, m, t)
}

// DecodeMetadata parses a persisted payload for the given content type.
// Unknown fields are rejected rather than dropped.
func DecodeMetadata(t ContentType, raw []byte) (Metadata, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()

	if t.IsClient() {
		var m ClientMetadata
		if err := dec.Decode(&m); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidMetadata, err)
		}
		if m.Version == "" {
			return nil, fmt.Errorf("%w: client version is empty", ErrInvalidMetadata)
		}
		return m, nil
	}

	var m ContentMetadata
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMetadata, err)
	}
	if m.Files == nil {
		return nil, fmt.Errorf("%w: files missing", ErrInvalidMetadata)
	}
	return m, nil
}

func EncodeMetadata(t ContentType, m Metadata) ([]byte, error) {
	if err := CheckMetadata(t, m); err != nil {
		return nil, err
	}
	return json.Marshal(m)
}
