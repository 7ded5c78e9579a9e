// internal/actions/sequencer.go
package actions

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/grab/api/schemas"
)

// Page is the subset of the live browser page the sequencer drives.
type Page interface {
	ScrollToBottom(ctx context.Context) error
	Click(ctx context.Context, selector string) error
	Hover(ctx context.Context, selector string) error
	Navigate(ctx context.Context, url string) error
}

// Recorder appends action records in execution order.
type Recorder interface {
	AddAction(kind schemas.ActionKind, detail string) schemas.ActionRecord
}

// SettleFunc waits for the page to go quiet after a route navigation.
type SettleFunc func(ctx context.Context)

// Plan is the fixed interaction script: scrolls, then clicks, then hovers,
// then route navigations.
type Plan struct {
	ScrollCount int
	Clicks      []string
	Hovers      []string
	Routes      []string
}

// Len returns the number of steps the plan will record.
func (p Plan) Len() int {
	n := len(p.Clicks) + len(p.Hovers) + len(p.Routes)
	if p.ScrollCount > 0 {
		n += p.ScrollCount
	}
	return n
}

// Timing holds per-step bounds and the fixed settle delays.
type Timing struct {
	ActionTimeout time.Duration
	RouteTimeout  time.Duration
	ScrollSettle  time.Duration
	ClickSettle   time.Duration
	HoverSettle   time.Duration
}

// Sequencer executes a Plan against a Page. Every planned step is attempted
// exactly once and yields exactly one record, whether it succeeded or not.
type Sequencer struct {
	logger   *zap.Logger
	page     Page
	recorder Recorder
	origin   *url.URL
	timing   Timing
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewSequencer creates a sequencer. Routes are resolved against origin.
func NewSequencer(logger *zap.Logger, page Page, recorder Recorder, origin *url.URL, timing Timing) *Sequencer {
	return &Sequencer{
		logger:   logger.Named("sequencer"),
		page:     page,
		recorder: recorder,
		origin:   origin,
		timing:   timing,
		sleep:    sleepContext,
	}
}

// Run executes plan and returns the records it produced in order. Step
// failures are recorded and never returned; the only error is ctx ending,
// in which case the remaining steps are not attempted.
func (s *Sequencer) Run(ctx context.Context, plan Plan, settle SettleFunc) ([]schemas.ActionRecord, error) {
	records := make([]schemas.ActionRecord, 0, plan.Len())
	record := func(kind schemas.ActionKind, detail string) {
		records = append(records, s.recorder.AddAction(kind, detail))
	}

	for i := 0; i < plan.ScrollCount; i++ {
		if err := ctx.Err(); err != nil {
			return records, err
		}
		detail := fmt.Sprintf("%d/%d", i+1, plan.ScrollCount)
		s.logger.Info("Scrolling to bottom.", zap.String("step", detail))
		if err := s.withTimeout(ctx, s.timing.ActionTimeout, s.page.ScrollToBottom); err != nil {
			s.logger.Warn("Scroll failed.", zap.String("step", detail), zap.Error(err))
			detail = fmt.Sprintf("scroll failed: %s - %v", detail, err)
		}
		record(schemas.ActionScroll, detail)
		if err := s.sleep(ctx, s.timing.ScrollSettle); err != nil {
			return records, err
		}
	}

	for _, sel := range plan.Clicks {
		if err := ctx.Err(); err != nil {
			return records, err
		}
		if !s.interact(ctx, schemas.ActionClick, sel, s.page.Click, record) {
			continue
		}
		if err := s.sleep(ctx, s.timing.ClickSettle); err != nil {
			return records, err
		}
	}

	for _, sel := range plan.Hovers {
		if err := ctx.Err(); err != nil {
			return records, err
		}
		if !s.interact(ctx, schemas.ActionHover, sel, s.page.Hover, record) {
			continue
		}
		if err := s.sleep(ctx, s.timing.HoverSettle); err != nil {
			return records, err
		}
	}

	for _, route := range plan.Routes {
		if err := ctx.Err(); err != nil {
			return records, err
		}
		target, err := s.resolve(route)
		if err != nil {
			s.logger.Warn("Route navigation failed.", zap.String("route", route), zap.Error(err))
			record(schemas.ActionNavigateRoute, fmt.Sprintf("navigate failed: %s - %v", route, err))
			continue
		}

		s.logger.Info("Navigating to route.", zap.String("url", target))
		err = s.withTimeout(ctx, s.timing.RouteTimeout, func(ctx context.Context) error {
			return s.page.Navigate(ctx, target)
		})
		if err != nil {
			s.logger.Warn("Route navigation failed.", zap.String("route", route),
				zap.Error(fmt.Errorf("%w: %v", schemas.ErrActionFailure, err)))
			record(schemas.ActionNavigateRoute, fmt.Sprintf("navigate failed: %s - %v", route, err))
			continue
		}
		record(schemas.ActionNavigateRoute, target)
		if settle != nil {
			settle(ctx)
		}
	}

	return records, nil
}

// interact runs a selector based step and reports whether it succeeded.
func (s *Sequencer) interact(
	ctx context.Context,
	kind schemas.ActionKind,
	selector string,
	do func(ctx context.Context, selector string) error,
	record func(schemas.ActionKind, string),
) bool {
	s.logger.Info("Performing action.", zap.String("kind", string(kind)), zap.String("selector", selector))
	err := s.withTimeout(ctx, s.timing.ActionTimeout, func(ctx context.Context) error {
		return do(ctx, selector)
	})
	if err != nil {
		s.logger.Warn("Action failed.", zap.String("kind", string(kind)), zap.String("selector", selector),
			zap.Error(fmt.Errorf("%w: %v", schemas.ErrActionFailure, err)))
		record(kind, fmt.Sprintf("%s failed: %s - %v", kind, selector, err))
		return false
	}
	record(kind, selector)
	return true
}

// resolve turns a route into an absolute URL on the session's origin.
func (s *Sequencer) resolve(route string) (string, error) {
	ref, err := url.Parse(route)
	if err != nil {
		return "", fmt.Errorf("%w: %v", schemas.ErrInvalidURL, err)
	}
	base := &url.URL{Scheme: s.origin.Scheme, Host: s.origin.Host, Path: "/"}
	resolved := base.ResolveReference(ref)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return "", fmt.Errorf("%w: unsupported scheme %q", schemas.ErrInvalidURL, resolved.Scheme)
	}
	return resolved.String(), nil
}

func (s *Sequencer) withTimeout(ctx context.Context, d time.Duration, fn func(ctx context.Context) error) error {
	if d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	return fn(ctx)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
