package schemas

import (
	"time"
)

// -- Manifest Schemas --

// ActionKind is the closed set of interaction steps a session can record.
type ActionKind string

const (
	ActionNavigateRoot  ActionKind = "navigate-root"
	ActionWait          ActionKind = "wait"
	ActionScroll        ActionKind = "scroll"
	ActionClick         ActionKind = "click"
	ActionHover         ActionKind = "hover"
	ActionNavigateRoute ActionKind = "navigate-route"
)

// Valid reports whether k is one of the known action kinds.
func (k ActionKind) Valid() bool {
	switch k {
	case ActionNavigateRoot, ActionWait, ActionScroll, ActionClick, ActionHover, ActionNavigateRoute:
		return true
	}
	return false
}

// ActionRecord is one executed step of the interaction plan. Failed steps are
// recorded too, with the failure reason folded into Detail.
type ActionRecord struct {
	Kind        ActionKind `json:"kind"`
	Detail      string     `json:"detail"`
	PerformedAt time.Time  `json:"performed_at"`
}

// CapturedResource is a kept network response that was successfully written to disk.
type CapturedResource struct {
	SourceURL   string    `json:"source_url"`
	StoragePath string    `json:"storage_path"`
	ByteSize    int64     `json:"byte_size"`
	ContentType string    `json:"content_type,omitempty"`
	CapturedAt  time.Time `json:"captured_at"`
}

// Manifest is the durable record of one session, written once as manifest.json.
type Manifest struct {
	Target      string             `json:"target"`
	SessionID   string             `json:"session_id"`
	CollectedAt time.Time          `json:"collected_at"`
	Count       int                `json:"count"`
	Actions     []ActionRecord     `json:"actions"`
	Resources   []CapturedResource `json:"resources"`
}

// ManifestFileName is the name of the manifest inside the output directory.
const ManifestFileName = "manifest.json"
