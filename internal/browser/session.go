// internal/browser/session.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/grab/api/schemas"
	"github.com/xkilldash9x/grab/internal/config"
)

const (
	launchTimeout   = 30 * time.Second
	shutdownTimeout = 10 * time.Second

	scrollToBottomJS = `window.scrollTo(0, document.body.scrollHeight)`
)

var errSessionClosed = errors.New("browser session closed")

// Session is a single browser tab driven over CDP. It owns the browser
// process for its lifetime and exposes the tab's response stream.
type Session struct {
	logger *zap.Logger

	allocCtx    context.Context
	allocCancel context.CancelFunc
	ctx         context.Context // tab context, carries the CDP target
	cancel      context.CancelFunc

	tracker   *networkTracker
	closeOnce sync.Once
	closeErr  error
}

// Launch starts a browser, opens a tab and enables network tracking.
// The browser lives until Close or until ctx is cancelled.
func Launch(ctx context.Context, logger *zap.Logger, cfg config.BrowserConfig) (*Session, error) {
	log := logger.Named("browser")
	log.Info("Launching browser.", zap.Bool("headless", cfg.Headless))

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, AllocatorOptions(cfg)...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(log.Sugar().Debugf),
		chromedp.WithErrorf(log.Sugar().Debugf),
	)

	s := &Session{
		logger:      log,
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
		ctx:         tabCtx,
		cancel:      tabCancel,
	}
	s.tracker = newNetworkTracker(log, s.fetchBody)

	// Listeners registered before the first Run are attached to the new target.
	chromedp.ListenTarget(tabCtx, s.tracker.handleEvent)

	// The first Run allocates the browser and ties it to the context it is
	// given, so it must not carry a deadline.
	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		allocCancel()
		return nil, fmt.Errorf("browser failed to start: %w", err)
	}

	startCtx, cancelStart := context.WithTimeout(ctx, launchTimeout)
	defer cancelStart()
	runCtx, cancelRun := CombineContext(tabCtx, startCtx)
	defer cancelRun()

	err := chromedp.Run(runCtx,
		network.Enable(),
		network.SetCacheDisabled(cfg.DisableCache),
	)
	if err != nil {
		tabCancel()
		allocCancel()
		return nil, fmt.Errorf("browser failed to start or respond: %w", err)
	}

	log.Info("Browser launched successfully and is responsive.")
	return s, nil
}

// Subscribe registers h for every response the tab observes. Handlers run
// on the event dispatch path and must not block.
func (s *Session) Subscribe(h schemas.ResponseHandler) {
	s.tracker.subscribe(h)
}

// Navigate loads url in the tab and returns once the document has been
// parsed (DOMContentLoaded). Subresources such as images may still be loading.
func (s *Session) Navigate(ctx context.Context, url string) error {
	return s.run(ctx, navigateToDOMContent(url))
}

// navigateToDOMContent issues Page.navigate and waits for the
// DOMContentLoaded lifecycle event of the loader it started.
func navigateToDOMContent(url string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		lctx, cancel := context.WithCancel(ctx)
		defer cancel()

		// Buffered so the listener never blocks the event loop; events can
		// arrive before Page.navigate replies with the loader ID.
		parsed := make(chan cdp.LoaderID, 32)
		chromedp.ListenTarget(lctx, func(ev any) {
			if e, ok := ev.(*page.EventLifecycleEvent); ok && e.Name == "DOMContentLoaded" {
				select {
				case parsed <- e.LoaderID:
				default:
				}
			}
		})

		_, loaderID, errorText, _, err := page.Navigate(url).Do(ctx)
		switch {
		case err != nil:
			return err
		case errorText != "":
			return fmt.Errorf("page load error %s", errorText)
		case loaderID == "":
			// Same-document navigation, nothing new to parse.
			return nil
		}

		for {
			select {
			case id := <-parsed:
				if id == loaderID {
					return nil
				}
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})
}

// ScrollToBottom scrolls the document to its current full height.
func (s *Session) ScrollToBottom(ctx context.Context) error {
	return s.run(ctx, chromedp.Evaluate(scrollToBottomJS, nil))
}

// Click clicks the first visible element matching selector.
func (s *Session) Click(ctx context.Context, selector string) error {
	return s.run(ctx, chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible))
}

// Hover moves the mouse to the centre of the first visible element matching selector.
func (s *Session) Hover(ctx context.Context, selector string) error {
	var nodes []*cdp.Node
	return s.run(ctx,
		chromedp.Nodes(selector, &nodes, chromedp.ByQuery, chromedp.NodeVisible),
		chromedp.ActionFunc(func(ctx context.Context) error {
			if len(nodes) == 0 {
				return fmt.Errorf("no element matches %q", selector)
			}
			id := nodes[0].NodeID
			if err := dom.ScrollIntoViewIfNeeded().WithNodeID(id).Do(ctx); err != nil {
				return err
			}
			quads, err := dom.GetContentQuads().WithNodeID(id).Do(ctx)
			if err != nil {
				return err
			}
			x, y, ok := quadCenter(quads)
			if !ok {
				return fmt.Errorf("element %q has no content box", selector)
			}
			return chromedp.MouseEvent(input.MouseMoved, x, y).Do(ctx)
		}),
	)
}

// WaitNetworkIdle blocks until no request has been in flight for quietPeriod
// or ctx ends.
func (s *Session) WaitNetworkIdle(ctx context.Context, quietPeriod time.Duration) error {
	waitCtx, cancel := CombineContext(ctx, s.ctx)
	defer cancel()
	return s.tracker.waitIdle(waitCtx, quietPeriod)
}

// Close shuts the tab and the browser process down. It is safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.tracker.abandon(errSessionClosed)

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		closeCtx, cancelClose := CombineContext(s.ctx, ctx)
		defer cancelClose()

		if err := chromedp.Cancel(closeCtx); err != nil && !errors.Is(err, context.Canceled) {
			s.closeErr = fmt.Errorf("failed to close browser: %w", err)
		}
		s.cancel()
		s.allocCancel()
		s.logger.Info("Browser closed.")
	})
	return s.closeErr
}

// run executes actions on the tab, bounded by ctx. When ctx ends first its
// error is returned so callers can tell timeouts from CDP failures.
func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := CombineContext(s.ctx, ctx)
	defer cancel()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	return nil
}

func (s *Session) fetchBody(ctx context.Context, id network.RequestID) ([]byte, error) {
	var body []byte
	err := s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		body, err = network.GetResponseBody(id).Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", schemas.ErrResponseBodyUnavailable, err)
	}
	return body, nil
}

// quadCenter returns the centre of the first quad (four x,y pairs).
func quadCenter(quads []dom.Quad) (x, y float64, ok bool) {
	if len(quads) == 0 || len(quads[0]) != 8 {
		return 0, 0, false
	}
	q := quads[0]
	for i := 0; i < 8; i += 2 {
		x += q[i]
		y += q[i+1]
	}
	return x / 4, y / 4, true
}
