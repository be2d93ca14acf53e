package models

import "time"

// SessionStatus represents the current state of a browser session
type SessionStatus string

const (
	StatusRunning   SessionStatus = "RUNNING"
	StatusCompleted SessionStatus = "COMPLETED"
	StatusError     SessionStatus = "ERROR"
	StatusTimedOut  SessionStatus = "TIMED_OUT"
)

// Recording describes the video artifact captured for a session. Set once
// at creation, never mutated mid-session.
type Recording struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`

	// ArtifactPath is filled in at teardown, after the capture flushes.
	ArtifactPath string `json:"-"`
}

// Session represents one isolated, addressable automation context plus its
// metadata. The automation context itself is owned by the registry and is
// never exposed on the wire.
type Session struct {
	ID             string        `json:"id"`
	Status         SessionStatus `json:"status"`
	TTL            int64         `json:"ttl"` // milliseconds
	CreatedAt      time.Time     `json:"createdAt"`
	LastActivityAt time.Time     `json:"lastActivityAt"`
	ExpiresAt      time.Time     `json:"expiresAt"`
	Recording      *Recording    `json:"recording,omitempty"`
	Proxy          *ProxyConfig  `json:"proxy,omitempty"`
	DataDir        string        `json:"-"`
}

// CreateSessionRequest is the payload for creating a new session
type CreateSessionRequest struct {
	TTL         int64  `json:"ttl"` // milliseconds
	Record      bool   `json:"record,omitempty"`
	VideoWidth  int    `json:"videoWidth,omitempty"`
	VideoHeight int    `json:"videoHeight,omitempty"`
	Proxy       string `json:"proxy,omitempty"` // scheme://[user:pass@]host[:port][?bypass=...]
}
