package models

import (
	"encoding/json"
	"fmt"

	"go.uber.org/zap/zapcore"
)

// ProxyConfig is the effective proxy applied to a session's traffic after
// precedence resolution. Immutable once resolved. The password must never
// leave the process unredacted: JSON marshaling and log fields both omit it.
type ProxyConfig struct {
	Protocol string   `json:"protocol"`
	Hostname string   `json:"hostname"`
	Port     int      `json:"port"`
	Username string   `json:"username,omitempty"`
	Password string   `json:"-"`
	Bypass   []string `json:"bypass,omitempty"`
}

// ServerURL renders the scheme://host:port form expected by the browser,
// without credentials (those are passed out of band).
func (p *ProxyConfig) ServerURL() string {
	return fmt.Sprintf("%s://%s:%d", p.Protocol, p.Hostname, p.Port)
}

// Redacted renders a log-safe description of the proxy.
func (p *ProxyConfig) Redacted() string {
	if p.Username != "" {
		return fmt.Sprintf("%s://%s:***@%s:%d", p.Protocol, p.Username, p.Hostname, p.Port)
	}
	return p.ServerURL()
}

// MarshalJSON guards against a future field reshuffle accidentally leaking
// the password through the default encoder.
func (p *ProxyConfig) MarshalJSON() ([]byte, error) {
	type redacted ProxyConfig
	return json.Marshal((*redacted)(p))
}

// MarshalLogObject lets zap log the proxy as a structured field with the
// password omitted.
func (p *ProxyConfig) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("protocol", p.Protocol)
	enc.AddString("hostname", p.Hostname)
	enc.AddInt("port", p.Port)
	if p.Username != "" {
		enc.AddString("username", p.Username)
	}
	return nil
}
