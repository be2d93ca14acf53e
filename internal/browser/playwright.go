package browser

import (
	"context"
	"fmt"
	"strings"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"

	"github.com/cloudpeek/browsergrid/pkg/models"
)

// PlaywrightDriver runs one Chromium process and hands out isolated
// browser contexts from it.
type PlaywrightDriver struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	log     *zap.Logger
}

// NewPlaywrightDriver launches a local Chromium.
func NewPlaywrightDriver(headless bool, log *zap.Logger) (*PlaywrightDriver, error) {
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(headless),
	})
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("launch chromium: %w", err)
	}

	log.Info("chromium launched", zap.String("version", browser.Version()))
	return &PlaywrightDriver{pw: pw, browser: browser, log: log}, nil
}

// NewCDPDriver attaches to an already-running browser over CDP, e.g. a
// containerized chrome started by the docker runner.
func NewCDPDriver(cdpURL string, log *zap.Logger) (*PlaywrightDriver, error) {
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}

	browser, err := pw.Chromium.ConnectOverCDP(cdpURL)
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("connect over CDP to %s: %w", cdpURL, err)
	}

	log.Info("attached to browser over CDP", zap.String("url", cdpURL))
	return &PlaywrightDriver{pw: pw, browser: browser, log: log}, nil
}

// OpenContext creates a fresh isolated browser context with its own
// cookies and storage, wired to the effective proxy and, when requested,
// a video capture rooted at opts.VideoDir.
func (d *PlaywrightDriver) OpenContext(_ context.Context, opts ContextOptions) (AutomationContext, error) {
	ctxOpts := playwright.BrowserNewContextOptions{}

	if opts.Proxy != nil {
		ctxOpts.Proxy = &playwright.Proxy{Server: opts.Proxy.ServerURL()}
		if opts.Proxy.Username != "" {
			ctxOpts.Proxy.Username = playwright.String(opts.Proxy.Username)
			ctxOpts.Proxy.Password = playwright.String(opts.Proxy.Password)
		}
		if len(opts.Proxy.Bypass) > 0 {
			ctxOpts.Proxy.Bypass = playwright.String(strings.Join(opts.Proxy.Bypass, ","))
		}
	}

	if opts.RecordVideo {
		ctxOpts.RecordVideo = &playwright.RecordVideo{
			Dir:  opts.VideoDir,
			Size: &playwright.Size{Width: opts.VideoWidth, Height: opts.VideoHeight},
		}
	}

	bctx, err := d.browser.NewContext(ctxOpts)
	if err != nil {
		return nil, fmt.Errorf("create browser context: %w", err)
	}

	page, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		return nil, fmt.Errorf("create page: %w", err)
	}

	return &pwContext{ctx: bctx, page: page}, nil
}

func (d *PlaywrightDriver) Close() error {
	if err := d.browser.Close(); err != nil {
		d.log.Warn("browser close failed", zap.Error(err))
	}
	return d.pw.Stop()
}

// pwContext owns one playwright BrowserContext and its single page.
type pwContext struct {
	ctx  playwright.BrowserContext
	page playwright.Page
}

func (c *pwContext) Target() (Target, error) {
	pages := c.ctx.Pages()
	if len(pages) == 0 {
		return nil, models.NewError(models.KindExecution, "automation context has no addressable target")
	}
	return &pwTarget{ctx: c.ctx, page: pages[0]}, nil
}

func (c *pwContext) Close() error { return c.ctx.Close() }

func (c *pwContext) VideoPath() (string, error) {
	video := c.page.Video()
	if video == nil {
		return "", fmt.Errorf("context has no video capture")
	}
	return video.Path()
}

// pwTarget is the pass-through from the command surface into playwright.
type pwTarget struct {
	ctx  playwright.BrowserContext
	page playwright.Page
}

func (t *pwTarget) Navigate(url string, timeoutMs float64) (string, error) {
	_, err := t.page.Goto(url, playwright.PageGotoOptions{Timeout: playwright.Float(timeoutMs)})
	if err != nil {
		return "", err
	}
	return t.page.URL(), nil
}

func (t *pwTarget) Click(selector string, timeoutMs float64) error {
	return t.page.Click(selector, playwright.PageClickOptions{Timeout: playwright.Float(timeoutMs)})
}

func (t *pwTarget) Fill(selector, value string, timeoutMs float64) error {
	return t.page.Fill(selector, value, playwright.PageFillOptions{Timeout: playwright.Float(timeoutMs)})
}

func (t *pwTarget) Extract(selector string) (string, error) {
	return t.page.TextContent(selector)
}

func (t *pwTarget) Screenshot(fullPage bool) ([]byte, error) {
	return t.page.Screenshot(playwright.PageScreenshotOptions{FullPage: playwright.Bool(fullPage)})
}

func (t *pwTarget) Cookies(urls ...string) (any, error) {
	return t.ctx.Cookies(urls...)
}

func (t *pwTarget) SetCookies(cookies []Cookie) error {
	converted := make([]playwright.OptionalCookie, 0, len(cookies))
	for _, c := range cookies {
		oc := playwright.OptionalCookie{Name: c.Name, Value: c.Value}
		if c.URL != "" {
			oc.URL = playwright.String(c.URL)
		}
		if c.Domain != "" {
			oc.Domain = playwright.String(c.Domain)
		}
		if c.Path != "" {
			oc.Path = playwright.String(c.Path)
		}
		converted = append(converted, oc)
	}
	return t.ctx.AddCookies(converted)
}

func (t *pwTarget) SetHeaders(headers map[string]string) error {
	return t.page.SetExtraHTTPHeaders(headers)
}

func (t *pwTarget) Evaluate(expression string) (any, error) {
	return t.page.Evaluate(expression)
}

func (t *pwTarget) WaitFor(selector, state string, timeoutMs float64) error {
	opts := playwright.PageWaitForSelectorOptions{Timeout: playwright.Float(timeoutMs)}
	if state != "" {
		s := playwright.WaitForSelectorState(state)
		opts.State = &s
	}
	_, err := t.page.WaitForSelector(selector, opts)
	return err
}
