// File: pkg/browser/session.go
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tagsentry/api/schemas"
	"github.com/xkilldash9x/tagsentry/internal/config"
	"github.com/xkilldash9x/tagsentry/pkg/browser/shim"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ensure Session implements the interface
var _ schemas.SessionContext = (*Session)(nil)

// Session manages a single, isolated browser tab with the capture shim
// registered for every document it loads.
type Session struct {
	id     string
	logger *zap.Logger
	cfg    *config.Config

	tabCtx    context.Context
	tabCancel context.CancelFunc

	onClose func()

	isClosed bool
	mu       sync.Mutex
}

func newSession(allocCtx context.Context, logger *zap.Logger, cfg *config.Config, captureShim string) (*Session, error) {
	id := uuid.New().String()

	tabCtx, cancel := chromedp.NewContext(allocCtx)
	s := &Session{
		id:        id,
		logger:    logger.Named("session").With(zap.String("session_id", id[:8])),
		cfg:       cfg,
		tabCtx:    tabCtx,
		tabCancel: cancel,
	}

	// Register the shim before any navigation; AddScriptToEvaluateOnNewDocument
	// re-runs it on every full document load, which is exactly the reinstall
	// contract for hard reloads.
	err := chromedp.Run(tabCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, err := page.AddScriptToEvaluateOnNewDocument(captureShim).Do(ctx)
		return err
	}))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to register capture shim: %w", err)
	}

	s.logger.Info("Browser session initialized and instrumented.")
	return s, nil
}

// ID returns the unique identifier for this session.
func (s *Session) ID() string { return s.id }

// Navigate loads a URL and waits for the document to become ready, then for
// the configured post-load settle window. Exceeding the page-load timeout is
// the one run-fatal timeout in the system.
func (s *Session) Navigate(ctx context.Context, url string) error {
	s.logger.Debug("Navigating", zap.String("url", url))

	navCtx, cancel := s.bounded(ctx, s.cfg.Browser.PageLoadTimeout)
	defer cancel()

	err := chromedp.Run(navCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("page load failed for %s: %w", url, err)
	}

	// Let async tag containers finish booting.
	if s.cfg.Browser.PostLoadWait > 0 {
		select {
		case <-time.After(s.cfg.Browser.PostLoadWait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// EnsureCapture polls until the shim reports it has wrapped the analytics
// queue, or the retry budget runs out. The returned error is a recoverable
// condition the caller records as a run-level warning.
func (s *Session) EnsureCapture(ctx context.Context) error {
	deadline := time.Now().Add(s.cfg.Browser.ShimRetryBudget)
	ticker := time.NewTicker(s.cfg.Browser.ShimRetryInterval)
	defer ticker.Stop()

	expr := fmt.Sprintf("!!(window.%s && window.%s.attached)", shim.StateGlobal, shim.StateGlobal)
	for {
		var attached bool
		if err := s.Evaluate(ctx, expr, &attached); err == nil && attached {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("analytics queue not observed within %s; capture may be empty", s.cfg.Browser.ShimRetryBudget)
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// DrainCaptured reads the in-page buffer without clearing it. Later calls
// return a superset of earlier ones; indices are assigned by buffer position
// and therefore stable.
func (s *Session) DrainCaptured(ctx context.Context) ([]schemas.CapturedEvent, error) {
	var raw string
	expr := fmt.Sprintf("JSON.stringify((window.%s && window.%s.buffer) || [])", shim.StateGlobal, shim.StateGlobal)
	if err := s.Evaluate(ctx, expr, &raw); err != nil {
		return nil, fmt.Errorf("failed to read capture buffer: %w", err)
	}

	var payloads []map[string]any
	if err := json.UnmarshalFromString(raw, &payloads); err != nil {
		return nil, fmt.Errorf("failed to decode capture buffer: %w", err)
	}

	events := make([]schemas.CapturedEvent, 0, len(payloads))
	for i, p := range payloads {
		var ts int64
		if v, ok := p["_ts"]; ok {
			if f, ok := v.(float64); ok {
				ts = int64(f)
			}
			delete(p, "_ts")
		}
		events = append(events, schemas.CapturedEvent{Index: i, Timestamp: ts, Properties: p})
	}
	return events, nil
}

// Click waits for the element to be visible and enabled, then clicks it.
func (s *Session) Click(ctx context.Context, selector string) error {
	clickCtx, cancel := s.bounded(ctx, s.cfg.Validation.ClickTimeout)
	defer cancel()

	err := chromedp.Run(clickCtx,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.WaitEnabled(selector, chromedp.ByQuery),
		chromedp.ScrollIntoView(selector, chromedp.ByQuery),
		chromedp.Click(selector, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("click failed for %q: %w", selector, err)
	}
	return nil
}

// Evaluate runs a JavaScript expression in the page context.
func (s *Session) Evaluate(ctx context.Context, expr string, out any) error {
	runCtx, cancel := s.bounded(ctx, s.cfg.Validation.LocateTimeout)
	defer cancel()
	return chromedp.Run(runCtx, chromedp.Evaluate(expr, out))
}

// PageContainerIDs harvests tag-manager container ids from the page context:
// the google_tag_manager global and any gtm.js script tags.
func (s *Session) PageContainerIDs(ctx context.Context) ([]string, error) {
	const expr = `(() => {
        const ids = new Set();
        if (window.google_tag_manager) {
            for (const key of Object.keys(window.google_tag_manager)) {
                if (/^GTM-/.test(key)) ids.add(key);
            }
        }
        for (const s of document.querySelectorAll('script[src*="googletagmanager.com"]')) {
            const m = s.src.match(/[?&]id=(GTM-[A-Z0-9]+)/);
            if (m) ids.add(m[1]);
        }
        return Array.from(ids);
    })()`

	var ids []string
	if err := s.Evaluate(ctx, expr, &ids); err != nil {
		return nil, fmt.Errorf("failed to harvest container ids: %w", err)
	}
	return ids, nil
}

// Close safely terminates the tab.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.isClosed {
		s.mu.Unlock()
		return nil
	}
	s.isClosed = true
	tabCancel := s.tabCancel
	tabCtx := s.tabCtx
	onClose := s.onClose
	s.mu.Unlock()

	if tabCancel != nil {
		tabCancel()
	}
	if onClose != nil {
		defer onClose()
	}
	if tabCtx == nil {
		return nil
	}

	waitCtx, cancelWait := context.WithTimeout(ctx, 10*time.Second)
	defer cancelWait()

	select {
	case <-tabCtx.Done():
		s.logger.Debug("Browser session closed gracefully.")
	case <-waitCtx.Done():
		s.logger.Warn("Deadline exceeded waiting for browser session to close.", zap.Error(waitCtx.Err()))
	}
	return nil
}

// bounded derives a context tied to the tab, the caller, and a timeout.
// Timeouts are per-operation and non-inherited.
func (s *Session) bounded(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	merged, cancelCause := context.WithCancel(s.tabCtx)
	stop := context.AfterFunc(ctx, cancelCause)

	if timeout <= 0 {
		return merged, func() { stop(); cancelCause() }
	}
	timed, cancelTimed := context.WithTimeout(merged, timeout)
	return timed, func() { stop(); cancelTimed(); cancelCause() }
}
