// internal/browser/network.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"go.uber.org/zap"

	"github.com/xkilldash9x/grab/api/schemas"
)

const networkIdleCheckFrequency = 100 * time.Millisecond

var errRedirectHop = errors.New("redirect responses carry no body")

// bodyFetcher retrieves a finished response body from the browser.
type bodyFetcher func(ctx context.Context, id network.RequestID) ([]byte, error)

// inflight tracks one response between headers and the end of loading.
type inflight struct {
	done chan struct{}
	err  error
}

// networkTracker turns raw CDP network events into NetworkResponses and
// keeps the in-flight request count used for quiescence detection.
type networkTracker struct {
	logger *zap.Logger
	fetch  bodyFetcher

	mu       sync.Mutex
	active   int64
	pending  map[network.RequestID]*inflight
	handlers []schemas.ResponseHandler
}

func newNetworkTracker(logger *zap.Logger, fetch bodyFetcher) *networkTracker {
	return &networkTracker{
		logger:  logger,
		fetch:   fetch,
		pending: make(map[network.RequestID]*inflight),
	}
}

func (t *networkTracker) subscribe(h schemas.ResponseHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers = append(t.handlers, h)
}

// handleEvent is called synchronously from the chromedp listener and must not block.
func (t *networkTracker) handleEvent(ev any) {
	switch ev := ev.(type) {
	case *network.EventRequestWillBeSent:
		t.handleRequestWillBeSent(ev)
	case *network.EventResponseReceived:
		t.handleResponseReceived(ev)
	case *network.EventLoadingFinished:
		t.finish(ev.RequestID, nil)
	case *network.EventLoadingFailed:
		reason := ev.ErrorText
		if ev.Canceled {
			reason += " (canceled)"
		}
		t.finish(ev.RequestID, errors.New(reason))
	}
}

func (t *networkTracker) handleRequestWillBeSent(ev *network.EventRequestWillBeSent) {
	if ev.RedirectResponse == nil {
		t.mu.Lock()
		t.active++
		t.mu.Unlock()
		return
	}

	// A redirect reuses the request ID, so the request stays active. The hop
	// itself is surfaced so the collector can account for it.
	hop := ev.RedirectResponse
	t.emit(schemas.NetworkResponse{
		URL:         hop.URL,
		ContentType: headerValue(hop.Headers, "Content-Type"),
		Status:      hop.Status,
		Body: func(context.Context) ([]byte, error) {
			return nil, fmt.Errorf("%w: %s", schemas.ErrResponseBodyUnavailable, errRedirectHop)
		},
	})
}

func (t *networkTracker) handleResponseReceived(ev *network.EventResponseReceived) {
	if ev.Response == nil {
		return
	}
	f := &inflight{done: make(chan struct{})}

	t.mu.Lock()
	if prev, ok := t.pending[ev.RequestID]; ok {
		prev.err = errors.New("superseded by a later response")
		close(prev.done)
	}
	t.pending[ev.RequestID] = f
	t.mu.Unlock()

	id := ev.RequestID
	t.emit(schemas.NetworkResponse{
		URL:         ev.Response.URL,
		ContentType: headerValue(ev.Response.Headers, "Content-Type"),
		Status:      ev.Response.Status,
		Body: func(ctx context.Context) ([]byte, error) {
			select {
			case <-f.done:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			if f.err != nil {
				return nil, fmt.Errorf("%w: %v", schemas.ErrResponseBodyUnavailable, f.err)
			}
			return t.fetch(ctx, id)
		},
	})
}

func (t *networkTracker) finish(id network.RequestID, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if f, ok := t.pending[id]; ok {
		f.err = err
		close(f.done)
		delete(t.pending, id)
	}
	// Ensure active doesn't go below zero; requests that started before
	// the listener attached still report completion.
	if t.active > 0 {
		t.active--
	}
}

func (t *networkTracker) emit(resp schemas.NetworkResponse) {
	t.mu.Lock()
	handlers := append([]schemas.ResponseHandler(nil), t.handlers...)
	t.mu.Unlock()
	for _, h := range handlers {
		h(resp)
	}
}

func (t *networkTracker) inFlight() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// abandon releases every pending body waiter, used when the page goes away.
func (t *networkTracker) abandon(reason error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, f := range t.pending {
		f.err = reason
		close(f.done)
		delete(t.pending, id)
	}
	t.active = 0
}

// waitIdle blocks until no request has been in flight for quietPeriod.
func (t *networkTracker) waitIdle(ctx context.Context, quietPeriod time.Duration) error {
	timer := time.NewTimer(quietPeriod)
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	defer timer.Stop()

	isIdle := false
	ticker := time.NewTicker(networkIdleCheckFrequency)
	defer ticker.Stop()

	check := func() {
		if t.inFlight() > 0 {
			if isIdle {
				// Transition from idle to active: stop the timer.
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				isIdle = false
			}
			return
		}
		if !isIdle {
			timer.Reset(quietPeriod)
			isIdle = true
		}
	}
	check()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			check()
		case <-timer.C:
			if t.inFlight() == 0 {
				return nil
			}
			isIdle = false
		}
	}
}

// headerValue performs a case-insensitive header lookup.
func headerValue(headers network.Headers, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			if s, ok := v.(string); ok {
				return s
			}
			return fmt.Sprint(v)
		}
	}
	return ""
}
