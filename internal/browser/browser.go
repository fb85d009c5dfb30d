// Package browser fetches fully rendered reference pages with a headless
// Chrome so scripts and stylesheets have been applied before the DOM is read.
package browser

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/rs/zerolog"
)

const (
	UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

	viewportWidth  = 1920
	viewportHeight = 1080

	// MaxHTMLChars bounds the markup kept per page.
	MaxHTMLChars = 50000
)

// Page is the rendered markup of one URL.
type Page struct {
	URL  string
	HTML string
}

// Fetcher loads a set of URLs in one browser session.
type Fetcher interface {
	FetchPages(ctx context.Context, urls []string) ([]Page, error)
}

type config struct {
	chromePath string
	timeout    time.Duration
	settle     time.Duration
	noSandbox  bool
}

func defaultConfig() config {
	return config{
		timeout:   60 * time.Second,
		settle:    2 * time.Second,
		noSandbox: os.Geteuid() == 0,
	}
}

type Option func(*config)

// WithChromePath pins the browser executable. Empty keeps auto-detection.
func WithChromePath(path string) Option {
	return func(c *config) { c.chromePath = path }
}

// WithTimeout bounds navigation plus network idle per URL.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithSettle sets the pause after network idle for late rendering.
func WithSettle(d time.Duration) Option {
	return func(c *config) { c.settle = d }
}

// WithNoSandbox disables the Chrome sandbox, needed when running as root.
func WithNoSandbox() Option {
	return func(c *config) { c.noSandbox = true }
}

// Browser is a Fetcher backed by chromedp. Each FetchPages call starts and
// stops its own browser process.
type Browser struct {
	cfg config
	log zerolog.Logger
}

func New(logger zerolog.Logger, opts ...Option) *Browser {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	return &Browser{cfg: cfg, log: logger.With().Str("component", "browser").Logger()}
}

// resolveExecutable picks the configured binary, else one found on the
// system, else downloads a compatible Chromium into the rod cache.
func (b *Browser) resolveExecutable() (string, error) {
	if b.cfg.chromePath != "" {
		return b.cfg.chromePath, nil
	}
	if path, ok := launcher.LookPath(); ok {
		return path, nil
	}
	b.log.Info().Msg("no local browser found, downloading chromium")
	path, err := launcher.NewBrowser().Get()
	if err != nil {
		return "", fmt.Errorf("download browser: %w", err)
	}
	return path, nil
}

// FetchPages renders each URL in turn. The first failure aborts the batch
// and names the URL.
func (b *Browser) FetchPages(ctx context.Context, urls []string) ([]Page, error) {
	for _, u := range urls {
		if _, err := url.ParseRequestURI(u); err != nil {
			return nil, fmt.Errorf("invalid url %q: %w", u, err)
		}
	}

	execPath, err := b.resolveExecutable()
	if err != nil {
		return nil, err
	}

	allocOpts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.ExecPath(execPath),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("no-first-run", true),
		chromedp.UserAgent(UserAgent),
	)
	if b.cfg.noSandbox {
		allocOpts = append(allocOpts, chromedp.NoSandbox)
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, allocOpts...)
	defer allocCancel()
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	defer browserCancel()

	if err := chromedp.Run(browserCtx); err != nil {
		return nil, fmt.Errorf("start browser: %w", err)
	}

	pages := make([]Page, 0, len(urls))
	for _, u := range urls {
		html, err := b.fetch(browserCtx, u)
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", u, err)
		}
		b.log.Debug().Str("url", u).Int("chars", utf8.RuneCountInString(html)).Msg("page fetched")
		pages = append(pages, Page{URL: u, HTML: html})
	}
	return pages, nil
}

func (b *Browser) fetch(browserCtx context.Context, target string) (string, error) {
	tabCtx, tabCancel := chromedp.NewContext(browserCtx)
	defer tabCancel()
	ctx, cancel := context.WithTimeout(tabCtx, b.cfg.timeout)
	defer cancel()

	var html string
	err := chromedp.Run(ctx,
		emulation.SetUserAgentOverride(UserAgent),
		chromedp.EmulateViewport(viewportWidth, viewportHeight),
		navigateUntilIdle(target),
		chromedp.Sleep(b.cfg.settle),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return "", err
	}
	return Truncate(html, MaxHTMLChars), nil
}

// navigateUntilIdle navigates and blocks until the main frame reports the
// networkIdle lifecycle event.
func navigateUntilIdle(target string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		mainFrame := string(chromedp.FromContext(ctx).Target.TargetID)

		idle := make(chan struct{})
		var (
			once    sync.Once
			started bool
			mu      sync.Mutex
		)
		listenCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		chromedp.ListenTarget(listenCtx, func(ev interface{}) {
			e, ok := ev.(*page.EventLifecycleEvent)
			if !ok || string(e.FrameID) != mainFrame {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			switch e.Name {
			case "init":
				started = true
			case "networkIdle":
				if started {
					once.Do(func() { close(idle) })
				}
			}
		})

		if err := page.SetLifecycleEventsEnabled(true).Do(ctx); err != nil {
			return fmt.Errorf("enable lifecycle events: %w", err)
		}
		if err := chromedp.Navigate(target).Do(ctx); err != nil {
			return err
		}
		select {
		case <-idle:
			return nil
		case <-ctx.Done():
			return fmt.Errorf("waiting for network idle: %w", ctx.Err())
		}
	})
}

// Truncate keeps at most n characters of s.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
