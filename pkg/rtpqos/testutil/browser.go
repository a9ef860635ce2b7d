// browser.go drives a headless Chrome that sends microphone audio to a
// QoS monitor over WebRTC.
package testutil

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
)

// errNoPage is returned by page operations before Navigate.
var errNoPage = errors.New("testutil: no page open, call Navigate first")

// BrowserConfig configures the Chrome used by e2e tests.
type BrowserConfig struct {
	// Headless hides the browser window.
	Headless bool

	// Timeout bounds navigation and WaitStable.
	Timeout time.Duration

	// AudioFile, when set, is a WAV file Chrome plays as the microphone
	// instead of its built-in beep.
	AudioFile string
}

// DefaultBrowserConfig returns a headless browser with a 30s timeout.
func DefaultBrowserConfig() BrowserConfig {
	return BrowserConfig{Headless: true, Timeout: 30 * time.Second}
}

// BrowserClient is a Chrome whose microphone is a fake capture device, so
// getUserMedia succeeds without a permission prompt.
type BrowserClient struct {
	browser *rod.Browser
	page    *rod.Page
	timeout time.Duration
}

// NewBrowserClient launches Chrome and connects to it over CDP.
func NewBrowserClient(cfg BrowserConfig) (*BrowserClient, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	l := launcher.New().Headless(cfg.Headless)
	for _, flag := range []flags.Flag{
		"no-sandbox",
		"disable-gpu",
		"use-fake-ui-for-media-stream",
		"use-fake-device-for-media-stream",
	} {
		l = l.Set(flag)
	}
	if cfg.AudioFile != "" {
		l = l.Set("use-file-for-fake-audio-capture", cfg.AudioFile)
	}

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch chrome: %w", err)
	}
	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("connect chrome: %w", err)
	}
	return &BrowserClient{browser: b, timeout: cfg.Timeout}, nil
}

// Navigate opens url in a new tab, which becomes the current page.
func (c *BrowserClient) Navigate(url string) (*rod.Page, error) {
	p, err := c.browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("open tab: %w", err)
	}
	if err := p.Timeout(c.timeout).Navigate(url); err != nil {
		return nil, fmt.Errorf("navigate %s: %w", url, err)
	}
	c.page = p
	return p, nil
}

// Page returns the current page, or nil before Navigate.
func (c *BrowserClient) Page() *rod.Page {
	return c.page
}

// Eval runs js, a function expression, on the current page.
func (c *BrowserClient) Eval(js string) (*proto.RuntimeRemoteObject, error) {
	if c.page == nil {
		return nil, errNoPage
	}
	obj, err := c.page.Eval(js)
	if err != nil {
		return nil, fmt.Errorf("eval: %w", err)
	}
	return obj, nil
}

// WaitTrue polls js until it evaluates to true or timeout expires.
func (c *BrowserClient) WaitTrue(js string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		obj, err := c.Eval(js)
		if err != nil {
			return err
		}
		if obj.Value.Bool() {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("condition not met within %v: %s", timeout, js)
		}
		time.Sleep(200 * time.Millisecond)
	}
}

// WaitStable waits until the DOM of the current page stops changing.
func (c *BrowserClient) WaitStable() error {
	if c.page == nil {
		return errNoPage
	}
	return c.page.WaitStable(c.timeout)
}

// Close kills Chrome. Defer it right after NewBrowserClient.
func (c *BrowserClient) Close() error {
	if c.browser == nil {
		return nil
	}
	return c.browser.Close()
}
