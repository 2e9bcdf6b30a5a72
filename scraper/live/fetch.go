package live

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/chromedp/chromedp"

	"guide-aggregator/utils"
)

// DefaultUserAgent is sent by both fetchers.
const DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

const maxPageBytes = 16 << 20

// Fetcher retrieves a guide page.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	URL    string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: status %d", e.URL, e.Status)
}

// HTTPFetcher fetches server-rendered pages.
type HTTPFetcher struct {
	Client    *http.Client
	UserAgent string
}

// NewHTTPFetcher creates a fetcher with the given per-request timeout.
func NewHTTPFetcher(timeout time.Duration, userAgent string) *HTTPFetcher {
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	return &HTTPFetcher{Client: &http.Client{Timeout: timeout}, UserAgent: userAgent}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, utils.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("User-Agent", f.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		serr := &StatusError{URL: url, Status: resp.StatusCode}
		if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
			return nil, utils.Permanent(serr)
		}
		return nil, serr
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}
	return body, nil
}

// BrowserFetcher renders pages in headless Chrome for guides that build
// their place list client-side. The browser starts on first use.
type BrowserFetcher struct {
	ChromeBin string
	UserAgent string
	Timeout   time.Duration
	// Settle is how long to wait after the place list appears.
	Settle time.Duration
	logger *utils.Logger

	once        sync.Once
	startErr    error
	allocCtx    context.Context
	cancelAlloc context.CancelFunc
	browserCtx  context.Context
	cancelTab   context.CancelFunc
}

// NewBrowserFetcher creates a fetcher. An empty chromeBin is looked up.
func NewBrowserFetcher(chromeBin, userAgent string, timeout time.Duration, logger *utils.Logger) *BrowserFetcher {
	if chromeBin == "" {
		chromeBin = FindChromeBinary()
	}
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &BrowserFetcher{
		ChromeBin: chromeBin,
		UserAgent: userAgent,
		Timeout:   timeout,
		Settle:    2 * time.Second,
		logger:    logger.With("browser"),
	}
}

func (b *BrowserFetcher) start() error {
	b.once.Do(func() {
		b.logger.Info("Using browser binary: %s", b.ChromeBin)
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", true),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.UserAgent(b.UserAgent),
		)
		if b.ChromeBin != "" {
			opts = append(opts, chromedp.ExecPath(b.ChromeBin))
		}
		b.allocCtx, b.cancelAlloc = chromedp.NewExecAllocator(context.Background(), opts...)
		b.browserCtx, b.cancelTab = chromedp.NewContext(b.allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))
		// an empty Run launches the browser so later tabs share it
		if err := chromedp.Run(b.browserCtx); err != nil {
			b.startErr = fmt.Errorf("start browser: %w", err)
		}
	})
	return b.startErr
}

func (b *BrowserFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	if err := b.start(); err != nil {
		return nil, utils.Permanent(err)
	}

	tabCtx, cancelTab := chromedp.NewContext(b.browserCtx)
	defer cancelTab()
	tabCtx, cancelTimeout := context.WithTimeout(tabCtx, b.Timeout)
	defer cancelTimeout()

	// stop the tab when the caller gives up
	stop := context.AfterFunc(ctx, cancelTab)
	defer stop()

	var html string
	err := chromedp.Run(tabCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady(placeSelector, chromedp.ByQuery),
		chromedp.Sleep(b.Settle),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("render %s: %w", url, err)
	}
	return []byte(html), nil
}

// Close shuts the browser down.
func (b *BrowserFetcher) Close() error {
	if b.cancelTab != nil {
		b.cancelTab()
	}
	if b.cancelAlloc != nil {
		b.cancelAlloc()
	}
	return nil
}

// FindChromeBinary locates a Chrome or Chromium binary, honouring CHROME_BIN.
func FindChromeBinary() string {
	if bin := os.Getenv("CHROME_BIN"); bin != "" {
		return bin
	}

	for _, name := range []string{"google-chrome-stable", "google-chrome", "chromium", "chromium-browser"} {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	for _, p := range []string{
		"/usr/bin/google-chrome-stable",
		"/usr/bin/chromium",
		"/snap/bin/chromium",
		"/opt/google/chrome/google-chrome",
		"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
	} {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
