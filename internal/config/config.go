// Package config loads process configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/cloudpeek/browsergrid/internal/artifact"
	"github.com/cloudpeek/browsergrid/internal/proxycfg"
	"github.com/cloudpeek/browsergrid/pkg/models"
)

// Runner selects how browsers are provisioned.
const (
	RunnerLocal  = "local"
	RunnerDocker = "docker"
)

// Config is read once at startup.
type Config struct {
	Addr        string
	MaxSessions int64
	Headless    bool
	Runner      string

	DataDir     string
	ArtifactDir string

	ArtifactRetention time.Duration
	SweepInterval     time.Duration

	// GlobalProxy is the process-wide default; a per-session override
	// always wins. Invalid values are fatal here, never deferred to the
	// first session.
	GlobalProxy *models.ProxyConfig

	RatePerHour int
	RateBurst   int

	// TTL bounds enforced at the HTTP boundary, in milliseconds.
	MinTTL int64
	MaxTTL int64
}

// Load reads and validates configuration. A malformed global proxy aborts
// startup (fail-fast).
func Load() (*Config, error) {
	cfg := &Config{
		Addr:              envStr("ADDR", ":8080"),
		MaxSessions:       int64(envInt("MAX_SESSIONS", 10)),
		Headless:          envBool("HEADLESS", true),
		Runner:            envStr("BROWSER_RUNNER", RunnerLocal),
		DataDir:           envStr("DATA_DIR", "./storage/sessions"),
		ArtifactDir:       envStr("ARTIFACT_DIR", "./storage/artifacts"),
		ArtifactRetention: envDuration("ARTIFACT_RETENTION", artifact.DefaultRetention),
		SweepInterval:     envDuration("SWEEP_INTERVAL", artifact.DefaultSweepInterval),
		RatePerHour:       envInt("RATE_LIMIT_PER_HOUR", 100),
		RateBurst:         envInt("RATE_LIMIT_BURST", 10),
		MinTTL:            60_000,      // 1 minute
		MaxTTL:            14_400_000,  // 4 hours
	}

	if cfg.Runner != RunnerLocal && cfg.Runner != RunnerDocker {
		return nil, fmt.Errorf("unsupported BROWSER_RUNNER %q (expected %s or %s)", cfg.Runner, RunnerLocal, RunnerDocker)
	}

	proxy, err := proxycfg.FromEnv()
	if err != nil {
		return nil, fmt.Errorf("global proxy configuration: %w", err)
	}
	cfg.GlobalProxy = proxy

	return cfg, nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
