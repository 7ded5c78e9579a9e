// File: internal/orchestrator/orchestrator.go
// Description: Runs one collection session end to end. The browser is
// injected through the Launcher interface so the workflow is testable
// without Chrome.

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/grab/api/schemas"
	"github.com/xkilldash9x/grab/internal/actions"
	"github.com/xkilldash9x/grab/internal/browser"
	"github.com/xkilldash9x/grab/internal/capture"
	"github.com/xkilldash9x/grab/internal/config"
	"github.com/xkilldash9x/grab/internal/manifest"
	"github.com/xkilldash9x/grab/internal/reporting"
)

// Session is a live browser page as the orchestrator sees it.
type Session interface {
	actions.Page
	Subscribe(h schemas.ResponseHandler)
	WaitNetworkIdle(ctx context.Context, quietPeriod time.Duration) error
	Close() error
}

// Launcher opens browser sessions.
type Launcher interface {
	Launch(ctx context.Context, logger *zap.Logger, cfg config.BrowserConfig) (Session, error)
}

// LauncherFunc adapts a function to Launcher.
type LauncherFunc func(ctx context.Context, logger *zap.Logger, cfg config.BrowserConfig) (Session, error)

// Launch calls f.
func (f LauncherFunc) Launch(ctx context.Context, logger *zap.Logger, cfg config.BrowserConfig) (Session, error) {
	return f(ctx, logger, cfg)
}

// ChromeLauncher launches a local Chrome through chromedp.
func ChromeLauncher() Launcher {
	return LauncherFunc(func(ctx context.Context, logger *zap.Logger, cfg config.BrowserConfig) (Session, error) {
		s, err := browser.Launch(ctx, logger, cfg)
		if err != nil {
			return nil, err
		}
		return s, nil
	})
}

// Result describes a finished session.
type Result struct {
	ManifestPath string
	Manifest     schemas.Manifest
	Summary      reporting.Summary
}

// Orchestrator wires the capture pipeline to a single browsing session.
type Orchestrator struct {
	cfg      *config.Config
	logger   *zap.Logger
	launcher Launcher
	storage  capture.Storage
	reporter reporting.Reporter
}

// Option customises an Orchestrator.
type Option func(*Orchestrator)

// WithStorage replaces the filesystem storage for captured bodies.
func WithStorage(s capture.Storage) Option {
	return func(o *Orchestrator) { o.storage = s }
}

// WithReporter sets where the end of run summary is written. Without one
// no summary is emitted.
func WithReporter(r reporting.Reporter) Option {
	return func(o *Orchestrator) { o.reporter = r }
}

// New creates an orchestrator.
func New(cfg *config.Config, logger *zap.Logger, launcher Launcher, opts ...Option) (*Orchestrator, error) {
	if cfg == nil || logger == nil || launcher == nil {
		return nil, fmt.Errorf("cannot initialize orchestrator with nil dependencies")
	}
	o := &Orchestrator{
		cfg:      cfg,
		logger:   logger.Named("orchestrator"),
		launcher: launcher,
		storage:  capture.NewFileStorage(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Run executes the session: launch, navigate, settle, run the plan, settle
// again, tear down, flush the manifest and report.
//
// Once the browser is up the manifest is always flushed, including after a
// fatal navigation error or cancellation of ctx. In those cases the Result
// is returned together with the error.
func (o *Orchestrator) Run(ctx context.Context) (*Result, error) {
	target, err := capture.ParseTarget(o.cfg.Target)
	if err != nil {
		return nil, err
	}
	outDir, err := capture.ResolveOutputDir(o.cfg.Capture.OutputDir)
	if err != nil {
		return nil, err
	}
	if err := capture.EnsureDir(outDir); err != nil {
		return nil, err
	}
	filter, err := capture.NewFilterPolicy(target, capture.FilterOptions{
		SameOrigin: o.cfg.Capture.SameOrigin,
		SameSite:   o.cfg.Capture.SameSite,
		Include:    o.cfg.Capture.Include,
		Exclude:    o.cfg.Capture.Exclude,
	})
	if err != nil {
		return nil, err
	}

	store := manifest.NewStore(target.String())
	logger := o.logger.With(zap.String("session_id", store.SessionID()))
	logger.Info("Starting collection.", zap.String("target", target.String()), zap.String("out", outDir))

	collector := capture.NewResponseCollector(ctx, o.logger, filter, capture.NewPathMapper(outDir), o.storage, store,
		capture.CollectorConfig{
			MaxConcurrentFetches: o.cfg.Capture.MaxConcurrentFetches,
			BodyFetchTimeout:     o.cfg.Capture.BodyFetchTimeout,
		})

	sess, err := o.launcher.Launch(ctx, o.logger, o.cfg.Browser)
	if err != nil {
		collector.Close()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	sess.Subscribe(collector.OnResponse)

	runErr := o.drive(ctx, logger, sess, store, target)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		logger.Error("Session failed.", zap.Error(runErr))
	}

	res, err := o.finish(ctx, logger, sess, collector, store, outDir, runErr != nil)
	if err != nil {
		return res, errors.Join(runErr, err)
	}
	return res, runErr
}

func (o *Orchestrator) drive(ctx context.Context, logger *zap.Logger, sess Session, store *manifest.Store, target *url.URL) error {
	if err := o.navigateRoot(ctx, logger, sess, store, target.String()); err != nil {
		return err
	}
	o.waitIdle(ctx, logger, sess, store, "initial")

	plan := actions.Plan{
		ScrollCount: o.cfg.Plan.ScrollCount,
		Clicks:      o.cfg.Plan.Clicks,
		Hovers:      o.cfg.Plan.Hovers,
		Routes:      o.cfg.Plan.Routes,
	}
	if plan.Len() > 0 {
		seq := actions.NewSequencer(o.logger, sess, store, target, actions.Timing{
			ActionTimeout: o.cfg.Plan.ActionTimeout,
			RouteTimeout:  o.cfg.Plan.RouteTimeout,
			ScrollSettle:  o.cfg.Plan.ScrollSettle,
			ClickSettle:   o.cfg.Plan.ClickSettle,
			HoverSettle:   o.cfg.Plan.HoverSettle,
		})
		settle := func(ctx context.Context) { o.waitIdle(ctx, logger, sess, store, "route") }
		if _, err := seq.Run(ctx, plan, settle); err != nil {
			return err
		}
	}

	o.waitIdle(ctx, logger, sess, store, "final")
	return ctx.Err()
}

// navigateRoot loads the target. Failure here is fatal to the session.
func (o *Orchestrator) navigateRoot(ctx context.Context, logger *zap.Logger, sess Session, store *manifest.Store, target string) error {
	timeout := o.cfg.Network.NavigationTimeout
	navCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := sess.Navigate(navCtx, target)
	if err == nil {
		store.AddAction(schemas.ActionNavigateRoot, target)
		logger.Info("Target loaded.")
		return nil
	}

	store.AddAction(schemas.ActionNavigateRoot, fmt.Sprintf("navigate failed: %s - %v", target, err))
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, context.DeadlineExceeded) || navCtx.Err() != nil {
		return fmt.Errorf("%w: %s not ready after %s", schemas.ErrPageLoadTimeout, target, timeout)
	}
	return fmt.Errorf("%w: %s: %v", schemas.ErrNavigationFailed, target, err)
}

// waitIdle is advisory: a timeout is recorded and the session continues.
func (o *Orchestrator) waitIdle(ctx context.Context, logger *zap.Logger, sess Session, store *manifest.Store, phase string) {
	d := o.cfg.Network.IdleWait
	if d <= 0 || ctx.Err() != nil {
		return
	}
	waitCtx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	detail := d.String()
	if err := sess.WaitNetworkIdle(waitCtx, o.cfg.Network.QuietPeriod); err != nil {
		if ctx.Err() != nil {
			return
		}
		logger.Debug("Network did not go idle in time.", zap.String("phase", phase), zap.Duration("wait", d))
		detail += " (timed out)"
	}
	store.AddAction(schemas.ActionWait, detail)
}

// finish drains the collector, closes the browser, flushes the manifest and
// emits the summary.
func (o *Orchestrator) finish(
	ctx context.Context,
	logger *zap.Logger,
	sess Session,
	collector *capture.ResponseCollector,
	store *manifest.Store,
	outDir string,
	failed bool,
) (*Result, error) {
	// Bodies are read from the browser, so fetches must drain before it closes.
	// Responses arriving during the drain are dropped rather than half-fetched.
	collector.Seal()
	drainCtx, cancel := context.WithTimeout(ctx, o.cfg.Capture.BodyFetchTimeout)
	if err := collector.Wait(drainCtx); err != nil {
		logger.Warn("Abandoning in-flight body fetches.", zap.Error(err))
	}
	cancel()
	collector.Close()

	if err := sess.Close(); err != nil {
		logger.Warn("Failed to close browser cleanly.", zap.Error(err))
	}

	path, err := store.Flush(outDir)
	if err != nil {
		return nil, fmt.Errorf("failed to write manifest: %w", err)
	}

	m := store.Snapshot()
	summary := reporting.Summarize(&m, o.cfg.Report.TopN)
	summary.ManifestPath = path
	summary.FailedFetch = collector.Failed()
	summary.Interrupted = failed

	logger.Info("Manifest written.",
		zap.String("path", path),
		zap.Int("resources", m.Count),
		zap.Int("actions", len(m.Actions)),
		zap.String("total", capture.FormatBytes(summary.TotalBytes)))

	if o.reporter != nil {
		if err := o.reporter.Write(summary); err != nil {
			logger.Warn("Failed to write summary.", zap.Error(err))
		}
	}

	return &Result{ManifestPath: path, Manifest: m, Summary: summary}, nil
}
