// Package collyfetcher implements pipeline.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"crypto/rand"
	"fmt"
	"math"
	"math/big"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/orbitfeed/orbitfeed/internal/metrics"
	"github.com/orbitfeed/orbitfeed/internal/pipeline"
)

// defaultUserAgents is used when the config supplies none. Each request picks
// one at random.
var defaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (compatible; OrbitfeedCrawler/1.0)",
}

// Config controls fetch behavior.
type Config struct {
	UserAgents     []string
	Timeout        time.Duration
	MaxAttempts    int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	PerHostRPS     float64
}

// Fetcher implements pipeline.Fetcher using the Colly collector with bounded
// retries and per-host rate limiting.
type Fetcher struct {
	cfg           Config
	transport     http.RoundTripper
	baseCollector *colly.Collector
	logger        *zap.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New builds a Fetcher.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(cfg.UserAgents) == 0 {
		cfg.UserAgents = defaultUserAgents
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = 500 * time.Millisecond
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 8 * time.Second
	}

	c := colly.NewCollector(colly.Async(false))
	transport := newHTTPTransport()
	c.WithTransport(transport)
	c.IgnoreRobotsTxt = true

	return &Fetcher{
		cfg:           cfg,
		transport:     transport,
		baseCollector: c,
		logger:        logger,
		limiters:      make(map[string]*rate.Limiter),
	}
}

// Fetch executes an HTTP GET with bounded retry. Transient failures
// (HTTP 429/500/502/503/504 and transport errors) are retried with
// exponential jittered backoff up to MaxAttempts total attempts.
func (f *Fetcher) Fetch(ctx context.Context, request pipeline.FetchRequest) (pipeline.FetchResponse, error) {
	var lastErr error
	for attempt := 0; attempt < f.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			metrics.ObserveFetchRetry(request.URL)
			f.logger.Debug("retrying fetch",
				zap.String("url", request.URL),
				zap.Int("attempt", attempt+1),
				zap.Error(lastErr),
			)
			if err := f.pause(ctx, f.backoff(attempt-1)); err != nil {
				return pipeline.FetchResponse{}, err
			}
		}
		resp, err := f.fetchOnce(ctx, request)
		if err == nil {
			metrics.ObserveFetch(request.URL, "ok")
			return resp, nil
		}
		lastErr = err
		if !isTransient(err) {
			break
		}
	}
	metrics.ObserveFetch(request.URL, "failed")
	return pipeline.FetchResponse{}, lastErr
}

func (f *Fetcher) fetchOnce(ctx context.Context, request pipeline.FetchRequest) (pipeline.FetchResponse, error) {
	if err := f.waitHost(ctx, request.URL); err != nil {
		return pipeline.FetchResponse{}, err
	}

	var (
		result   pipeline.FetchResponse
		fetchErr error
	)
	start := time.Now()

	collector := f.baseCollector.Clone()
	collector.UserAgent = f.randomUserAgent()
	timeout := f.cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	collector.SetRequestTimeout(timeout)
	collector.WithTransport(f.transport)

	collector.OnRequest(func(r *colly.Request) {
		for key, values := range request.Headers {
			for _, v := range values {
				r.Headers.Add(key, v)
			}
		}
	})
	collector.OnResponse(func(r *colly.Response) {
		result = pipeline.FetchResponse{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    r.Headers.Clone(),
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		status := 0
		if r != nil {
			status = r.StatusCode
		}
		fetchErr = &fetchError{status: status, err: err}
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(request.URL)
	}()

	select {
	case <-ctx.Done():
		return pipeline.FetchResponse{}, fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		if fetchErr != nil {
			return pipeline.FetchResponse{}, fetchErr
		}
		if err != nil {
			return pipeline.FetchResponse{}, fmt.Errorf("visit %s: %w", request.URL, err)
		}
		return result, nil
	}
}

func (f *Fetcher) waitHost(ctx context.Context, rawURL string) error {
	if f.cfg.PerHostRPS <= 0 {
		return nil
	}
	host := "unknown"
	if u, err := url.Parse(rawURL); err == nil && u.Hostname() != "" {
		host = u.Hostname()
	}
	f.mu.Lock()
	limiter, ok := f.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(f.cfg.PerHostRPS), 1)
		f.limiters[host] = limiter
	}
	f.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObservePaceDelay(rawURL, waited)
	}
	return nil
}

func (f *Fetcher) backoff(attempt int) time.Duration {
	delay := float64(f.cfg.BackoffInitial) * math.Pow(2, float64(attempt))
	if delay > float64(f.cfg.BackoffMax) {
		delay = float64(f.cfg.BackoffMax)
	}
	return time.Duration(delay/2) + randomJitter(time.Duration(delay)/2)
}

func (f *Fetcher) pause(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("fetch canceled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

func (f *Fetcher) randomUserAgent() string {
	return f.cfg.UserAgents[randomIndex(len(f.cfg.UserAgents))]
}

type fetchError struct {
	status int
	err    error
}

func (e *fetchError) Error() string {
	if e.status > 0 {
		return fmt.Sprintf("fetch failed with status %d: %v", e.status, e.err)
	}
	return fmt.Sprintf("fetch failed: %v", e.err)
}

func (e *fetchError) Unwrap() error { return e.err }

// isTransient reports whether the fetch should be retried.
func isTransient(err error) bool {
	if fe, ok := err.(*fetchError); ok {
		switch fe.status {
		case http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return true
		case 0:
			// transport-level failure
			return true
		default:
			return false
		}
	}
	return false
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

func randomIndex(n int) int {
	if n <= 1 {
		return 0
	}
	bound := big.NewInt(int64(n))
	i, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return 0
	}
	return int(i.Int64())
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
