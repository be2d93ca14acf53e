// Package proxycfg validates and normalizes proxy configuration and
// computes effective-proxy precedence.
package proxycfg

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/cloudpeek/browsergrid/pkg/models"
)

// defaultPorts maps supported schemes to their conventional ports.
var defaultPorts = map[string]int{
	"http":   80,
	"https":  443,
	"socks5": 1080,
}

// Parse validates a scheme://[user:pass@]host[:port][?bypass=a,b] proxy URL
// and normalizes it into an effective config. All violations are collected
// into a single ProxyValidationError rather than reported one at a time.
func Parse(raw string) (*models.ProxyConfig, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, models.NewProxyValidationError([]string{fmt.Sprintf("malformed proxy URL: %v", err)})
	}

	var reasons []string

	scheme := strings.ToLower(u.Scheme)
	port, supported := defaultPorts[scheme]
	if !supported {
		reasons = append(reasons, fmt.Sprintf("unsupported proxy protocol %q (expected http, https, or socks5)", u.Scheme))
	}

	if u.Hostname() == "" {
		reasons = append(reasons, "proxy hostname is required")
	}

	if p := u.Port(); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil || n < 1 || n > 65535 {
			reasons = append(reasons, fmt.Sprintf("invalid proxy port %q", p))
		} else {
			port = n
		}
	}

	var username, password string
	if u.User != nil {
		username = u.User.Username()
		pw, hasPassword := u.User.Password()
		password = pw
		switch {
		case username != "" && !hasPassword:
			reasons = append(reasons, "username provided without password")
		case username == "" && hasPassword:
			reasons = append(reasons, "password provided without username")
		}
	}

	if len(reasons) > 0 {
		return nil, models.NewProxyValidationError(reasons)
	}

	cfg := &models.ProxyConfig{
		Protocol: scheme,
		Hostname: u.Hostname(),
		Port:     port,
		Username: username,
		Password: password,
	}

	if bypass := u.Query().Get("bypass"); bypass != "" {
		for _, host := range strings.Split(bypass, ",") {
			if host = strings.TrimSpace(host); host != "" {
				cfg.Bypass = append(cfg.Bypass, host)
			}
		}
	}

	return cfg, nil
}

// ResolveEffective computes effective-proxy precedence: the session override
// wins whenever present, else the global default, else no proxy.
func ResolveEffective(sessionOverride, globalDefault *models.ProxyConfig) *models.ProxyConfig {
	if sessionOverride != nil {
		return sessionOverride
	}
	return globalDefault
}

// FromEnv loads the global default proxy from HTTP_PROXY (or HTTPS_PROXY).
// Read once at process start; an invalid value here must be treated as
// fatal by the caller, not deferred to the first session.
func FromEnv() (*models.ProxyConfig, error) {
	for _, key := range []string{"HTTP_PROXY", "HTTPS_PROXY"} {
		if raw := os.Getenv(key); raw != "" {
			cfg, err := Parse(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid %s: %w", key, err)
			}
			return cfg, nil
		}
	}
	return nil, nil
}
