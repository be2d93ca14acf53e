package models

import "time"

// CommandRequest is one unit of automation work. Name must resolve in the
// dispatcher; Selector and Options are merged into a single params bag
// before the handler sees them.
type CommandRequest struct {
	Name     string         `json:"name"`
	Selector string         `json:"selector,omitempty"`
	Options  map[string]any `json:"options,omitempty"`
}

// CommandStatus is the per-command outcome.
type CommandStatus string

const (
	CommandSuccess CommandStatus = "success"
	CommandError   CommandStatus = "error"
)

// CommandResult is the outcome of a single command. DurationMs is measured
// with sub-millisecond resolution.
type CommandResult struct {
	Status     CommandStatus `json:"status"`
	Value      any           `json:"value,omitempty"`
	DurationMs float64       `json:"durationMs"`
	Message    string        `json:"message,omitempty"`
	Kind       ErrorKind     `json:"kind,omitempty"`
}

// SequenceResult is the multi-status outcome of an ordered command sequence.
// Results is index-aligned with the input up to the halt point; nothing past
// the first failure is attempted or represented.
type SequenceResult struct {
	Results        []CommandResult `json:"results"`
	CompletedCount int             `json:"completedCount"`
	TotalCount     int             `json:"totalCount"`
	Halted         bool            `json:"halted"`
	ExecutedAt     time.Time       `json:"executedAt"`
}
