// internal/capture/collector.go
package capture

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/xkilldash9x/grab/api/schemas"
)

const (
	defaultMaxConcurrentFetches = 8
	defaultBodyFetchTimeout     = 30 * time.Second
)

// Recorder receives every resource that was successfully persisted.
type Recorder interface {
	AddResource(res schemas.CapturedResource) error
}

// CollectorConfig bounds the asynchronous body fetching.
type CollectorConfig struct {
	MaxConcurrentFetches int
	BodyFetchTimeout     time.Duration
}

// ResponseCollector consumes the browser's response stream and persists each
// kept script at most once per URL.
type ResponseCollector struct {
	logger   *zap.Logger
	filter   Filter
	mapper   *PathMapper
	storage  Storage
	recorder Recorder

	sem          *semaphore.Weighted
	fetchTimeout time.Duration
	now          func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	seen    map[string]struct{}
	claimed map[string]string // relative path -> source URL
	closed  bool

	kept   atomic.Int64
	failed atomic.Int64
}

// NewResponseCollector builds a collector. Body fetches run under ctx and are
// cancelled by Close.
func NewResponseCollector(
	ctx context.Context,
	logger *zap.Logger,
	filter Filter,
	mapper *PathMapper,
	storage Storage,
	recorder Recorder,
	cfg CollectorConfig,
) *ResponseCollector {
	if cfg.MaxConcurrentFetches <= 0 {
		cfg.MaxConcurrentFetches = defaultMaxConcurrentFetches
	}
	if cfg.BodyFetchTimeout <= 0 {
		cfg.BodyFetchTimeout = defaultBodyFetchTimeout
	}
	cctx, cancel := context.WithCancel(ctx)
	return &ResponseCollector{
		logger:       logger.Named("collector"),
		filter:       filter,
		mapper:       mapper,
		storage:      storage,
		recorder:     recorder,
		sem:          semaphore.NewWeighted(int64(cfg.MaxConcurrentFetches)),
		fetchTimeout: cfg.BodyFetchTimeout,
		now:          time.Now,
		ctx:          cctx,
		cancel:       cancel,
		seen:         make(map[string]struct{}),
		claimed:      make(map[string]string),
	}
}

// OnResponse handles one observed response. It never blocks on I/O: the
// claim is decided synchronously and the body is fetched in the background.
func (c *ResponseCollector) OnResponse(resp schemas.NetworkResponse) {
	u, err := url.Parse(resp.URL)
	if err != nil {
		c.logger.Warn("Ignoring response with unparseable URL.",
			zap.String("url", resp.URL), zap.Error(fmt.Errorf("%w: %v", schemas.ErrInvalidURL, err)))
		return
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return
	}

	// Filtering happens before the seen check so a rejected response leaves
	// the URL open for a later response with a different content type.
	if !c.filter.ShouldKeep(resp.URL, resp.ContentType) {
		return
	}

	target, ok := c.claim(u, resp.URL)
	if !ok {
		return
	}

	go func() {
		defer c.wg.Done()
		c.persist(resp, target)
	}()
}

// claim marks rawURL as seen and reserves a storage path for it. The check
// and the mark happen under one lock hold, so at most one caller wins per URL.
func (c *ResponseCollector) claim(u *url.URL, rawURL string) (StoragePath, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return StoragePath{}, false
	}
	if _, dup := c.seen[rawURL]; dup {
		return StoragePath{}, false
	}
	c.seen[rawURL] = struct{}{}

	base := c.mapper.Map(u)
	target := base
	for attempt := 0; ; attempt++ {
		owner, taken := c.claimed[target.Relative]
		if !taken || owner == rawURL {
			break
		}
		target = c.mapper.Disambiguate(base, rawURL, attempt)
	}
	c.claimed[target.Relative] = rawURL

	c.wg.Add(1)
	return target, true
}

func (c *ResponseCollector) persist(resp schemas.NetworkResponse, target StoragePath) {
	if err := c.sem.Acquire(c.ctx, 1); err != nil {
		c.fail("Body fetch abandoned.", resp.URL, err)
		return
	}
	defer c.sem.Release(1)

	body, err := c.fetch(resp)
	if err != nil {
		c.fail("Failed to retrieve response body.", resp.URL, err)
		return
	}

	if err := c.storage.Write(c.ctx, target.Absolute, body); err != nil {
		c.fail("Failed to store response body.", resp.URL, err)
		return
	}

	res := schemas.CapturedResource{
		SourceURL:   resp.URL,
		StoragePath: target.Relative,
		ByteSize:    int64(len(body)),
		ContentType: resp.ContentType,
		CapturedAt:  c.now(),
	}
	if err := c.recorder.AddResource(res); err != nil {
		c.fail("Failed to record captured resource.", resp.URL, err)
		return
	}

	c.kept.Add(1)
	c.logger.Info("Captured script.",
		zap.String("url", TruncateURL(resp.URL, 80)),
		zap.String("path", target.Relative),
		zap.String("size", FormatBytes(res.ByteSize)))
}

func (c *ResponseCollector) fetch(resp schemas.NetworkResponse) ([]byte, error) {
	if resp.Body == nil {
		return nil, fmt.Errorf("%w: no body accessor", schemas.ErrResponseBodyUnavailable)
	}
	ctx, cancel := context.WithTimeout(c.ctx, c.fetchTimeout)
	defer cancel()

	body, err := resp.Body(ctx)
	if err != nil {
		if errors.Is(err, schemas.ErrResponseBodyUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", schemas.ErrResponseBodyUnavailable, err)
	}
	return body, nil
}

func (c *ResponseCollector) fail(msg, rawURL string, err error) {
	c.failed.Add(1)
	c.logger.Warn(msg, zap.String("url", TruncateURL(rawURL, 80)), zap.Error(err))
}

// Wait blocks until every in-flight fetch has finished or ctx is done.
func (c *ResponseCollector) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Seal stops accepting new responses while letting fetches already claimed
// run to completion. Call it before Wait so the drain has a fixed set of work.
func (c *ResponseCollector) Seal() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

// Close stops accepting responses, cancels outstanding fetches and waits for
// their goroutines to exit. It is safe to call more than once.
func (c *ResponseCollector) Close() {
	c.Seal()
	c.cancel()
	c.wg.Wait()
}

// Kept returns how many resources were persisted.
func (c *ResponseCollector) Kept() int64 { return c.kept.Load() }

// Failed returns how many claimed resources could not be persisted.
func (c *ResponseCollector) Failed() int64 { return c.failed.Load() }
