// Package command maps abstract command requests onto a session's
// automation target. Dispatch is a pure name lookup; handlers are
// near-literal pass-throughs into the automation capability, and the
// dispatcher guarantees every failure leaves through the classification
// boundary.
package command

import (
	"encoding/base64"
	"sort"

	"github.com/cloudpeek/browsergrid/internal/browser"
	"github.com/cloudpeek/browsergrid/pkg/models"
)

// defaultTimeoutMs applies when a command carries no timeoutMs option.
const defaultTimeoutMs = 30000

// Handler executes one command kind against a target.
type Handler func(t browser.Target, p Params) (any, error)

// Dispatcher is the name → handler registry.
type Dispatcher struct {
	handlers map[string]Handler
}

// NewDispatcher returns a dispatcher with all built-in commands registered.
func NewDispatcher() *Dispatcher {
	d := &Dispatcher{handlers: make(map[string]Handler)}

	d.Register("navigate", navigate)
	d.Register("click", click)
	d.Register("fill", fill)
	d.Register("extract", extract)
	d.Register("screenshot", screenshot)
	d.Register("cookies.get", cookiesGet)
	d.Register("cookies.set", cookiesSet)
	d.Register("headers.set", headersSet)
	d.Register("evaluate", evaluate)
	d.Register("wait", wait)

	return d
}

// Register adds a handler. Open for extension at startup.
func (d *Dispatcher) Register(name string, h Handler) {
	d.handlers[name] = h
}

// Has reports whether a command name resolves, so callers can validate a
// whole sequence before any side effect.
func (d *Dispatcher) Has(name string) bool {
	_, ok := d.handlers[name]
	return ok
}

// Names returns the registered command names, sorted.
func (d *Dispatcher) Names() []string {
	names := make([]string, 0, len(d.handlers))
	for name := range d.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dispatch resolves and runs one command. Unknown names yield
// CommandNotFound; every other failure is classified into the taxonomy.
// A handler panic is contained here and surfaces as ExecutionError.
func (d *Dispatcher) Dispatch(t browser.Target, req models.CommandRequest) (value any, err error) {
	h, ok := d.handlers[req.Name]
	if !ok {
		return nil, models.NewError(models.KindCommandNotFound, "unknown command %q", req.Name)
	}

	defer func() {
		if r := recover(); r != nil {
			value = nil
			err = models.NewError(models.KindExecution, "command %q panicked: %v", req.Name, r)
		}
	}()

	value, err = h(t, d.shape(req))
	if err != nil {
		return nil, browser.Classify(err)
	}
	return value, nil
}

// shape merges the request selector into the options bag handlers expect.
func (d *Dispatcher) shape(req models.CommandRequest) Params {
	p := make(Params, len(req.Options)+1)
	for k, v := range req.Options {
		p[k] = v
	}
	if req.Selector != "" {
		p["selector"] = req.Selector
	}
	return p
}

func navigate(t browser.Target, p Params) (any, error) {
	url := p.String("url", "")
	if url == "" {
		return nil, models.NewError(models.KindValidation, "navigate requires a url option")
	}
	return t.Navigate(url, p.Float("timeoutMs", defaultTimeoutMs))
}

func click(t browser.Target, p Params) (any, error) {
	return nil, t.Click(p.String("selector", ""), p.Float("timeoutMs", defaultTimeoutMs))
}

func fill(t browser.Target, p Params) (any, error) {
	return nil, t.Fill(p.String("selector", ""), p.String("value", ""), p.Float("timeoutMs", defaultTimeoutMs))
}

func extract(t browser.Target, p Params) (any, error) {
	return t.Extract(p.String("selector", "body"))
}

func screenshot(t browser.Target, p Params) (any, error) {
	data, err := t.Screenshot(p.Bool("fullPage"))
	if err != nil {
		return nil, err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

func cookiesGet(t browser.Target, p Params) (any, error) {
	var urls []string
	if raw, ok := p["urls"].([]any); ok {
		for _, u := range raw {
			if s, ok := u.(string); ok {
				urls = append(urls, s)
			}
		}
	}
	return t.Cookies(urls...)
}

func cookiesSet(t browser.Target, p Params) (any, error) {
	raw, ok := p["cookies"].([]any)
	if !ok {
		return nil, models.NewError(models.KindValidation, "cookies.set requires a cookies array")
	}

	cookies := make([]browser.Cookie, 0, len(raw))
	for i, item := range raw {
		entry, ok := item.(map[string]any)
		if !ok {
			return nil, models.NewError(models.KindValidation, "cookie at index %d is not an object", i)
		}
		c := browser.Cookie{}
		c.Name, _ = entry["name"].(string)
		c.Value, _ = entry["value"].(string)
		c.URL, _ = entry["url"].(string)
		c.Domain, _ = entry["domain"].(string)
		c.Path, _ = entry["path"].(string)
		if c.Name == "" {
			return nil, models.NewError(models.KindValidation, "cookie at index %d has no name", i)
		}
		cookies = append(cookies, c)
	}
	return nil, t.SetCookies(cookies)
}

func headersSet(t browser.Target, p Params) (any, error) {
	headers := p.StringMap("headers")
	if len(headers) == 0 {
		return nil, models.NewError(models.KindValidation, "headers.set requires a headers object")
	}
	return nil, t.SetHeaders(headers)
}

func evaluate(t browser.Target, p Params) (any, error) {
	expr := p.String("expression", "")
	if expr == "" {
		return nil, models.NewError(models.KindValidation, "evaluate requires an expression option")
	}
	return t.Evaluate(expr)
}

func wait(t browser.Target, p Params) (any, error) {
	selector := p.String("selector", "")
	if selector == "" {
		return nil, models.NewError(models.KindValidation, "wait requires a selector")
	}
	return nil, t.WaitFor(selector, p.String("state", "visible"), p.Float("timeoutMs", defaultTimeoutMs))
}
