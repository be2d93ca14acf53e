// Package browsertest provides fake automation-capability implementations
// for tests.
package browsertest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cloudpeek/browsergrid/internal/browser"
)

// Driver is a scriptable in-memory browser.Driver.
type Driver struct {
	mu       sync.Mutex
	OpenErr  error
	Contexts []*Context
}

func NewDriver() *Driver { return &Driver{} }

func (d *Driver) OpenContext(_ context.Context, opts browser.ContextOptions) (browser.AutomationContext, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.OpenErr != nil {
		return nil, d.OpenErr
	}
	c := &Context{Opts: opts, Tgt: NewTarget()}
	d.Contexts = append(d.Contexts, c)
	return c, nil
}

func (d *Driver) Close() error { return nil }

// Last returns the most recently opened context.
func (d *Driver) Last() *Context {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.Contexts) == 0 {
		return nil
	}
	return d.Contexts[len(d.Contexts)-1]
}

// Context is a fake AutomationContext. When the options requested a
// recording, Close writes a placeholder capture file under the video dir,
// mimicking the real capture flushing on close.
type Context struct {
	mu         sync.Mutex
	Opts       browser.ContextOptions
	Tgt        *Target
	CloseErr   error
	CloseCount int
	videoFile  string
}

func (c *Context) Target() (browser.Target, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.CloseCount > 0 {
		return nil, fmt.Errorf("context is closed")
	}
	return c.Tgt, nil
}

func (c *Context) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CloseCount++
	if c.CloseCount == 1 && c.Opts.RecordVideo {
		if err := os.MkdirAll(c.Opts.VideoDir, 0o755); err == nil {
			path := filepath.Join(c.Opts.VideoDir, "capture.webm")
			if err := os.WriteFile(path, []byte("webm"), 0o644); err == nil {
				c.videoFile = path
			}
		}
	}
	return c.CloseErr
}

func (c *Context) VideoPath() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.videoFile == "" {
		return "", fmt.Errorf("no video captured")
	}
	return c.videoFile, nil
}

// Target is a scriptable browser.Target recording every call in order.
// Fail maps an operation name to the error it should return.
type Target struct {
	mu    sync.Mutex
	Fail  map[string]error
	calls []string
}

func NewTarget() *Target {
	return &Target{Fail: make(map[string]error)}
}

// Calls returns the operations performed so far, e.g. "navigate:http://a".
func (t *Target) Calls() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.calls...)
}

func (t *Target) record(op string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls = append(t.calls, op)
	name, _, _ := strings.Cut(op, ":")
	return t.Fail[name]
}

func (t *Target) Navigate(url string, _ float64) (string, error) {
	if err := t.record("navigate:" + url); err != nil {
		return "", err
	}
	return url, nil
}

func (t *Target) Click(selector string, _ float64) error {
	return t.record("click:" + selector)
}

func (t *Target) Fill(selector, value string, _ float64) error {
	return t.record("fill:" + selector + "=" + value)
}

func (t *Target) Extract(selector string) (string, error) {
	if err := t.record("extract:" + selector); err != nil {
		return "", err
	}
	return "text of " + selector, nil
}

func (t *Target) Screenshot(_ bool) ([]byte, error) {
	if err := t.record("screenshot"); err != nil {
		return nil, err
	}
	return []byte{0x89, 0x50, 0x4e, 0x47}, nil
}

func (t *Target) Cookies(_ ...string) (any, error) {
	if err := t.record("cookies.get"); err != nil {
		return nil, err
	}
	return []map[string]string{{"name": "sid", "value": "abc"}}, nil
}

func (t *Target) SetCookies(_ []browser.Cookie) error {
	return t.record("cookies.set")
}

func (t *Target) SetHeaders(_ map[string]string) error {
	return t.record("headers.set")
}

func (t *Target) Evaluate(expression string) (any, error) {
	if err := t.record("evaluate:" + expression); err != nil {
		return nil, err
	}
	return "evaluated", nil
}

func (t *Target) WaitFor(selector, _ string, _ float64) error {
	return t.record("wait:" + selector)
}
