package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"NewsIndexer/internal/domain"
	"NewsIndexer/internal/metrics"
	"NewsIndexer/internal/ports"
	"NewsIndexer/internal/retry"
)

const maxBodyBytes = 8 << 20

// Config bounds every retrieval.
type Config struct {
	Timeout           time.Duration
	Retry             retry.Policy
	RequestsPerSecond float64
	UserAgent         string
	// MaxBodyBytes rejects larger pages; zero means 8 MiB.
	MaxBodyBytes int64
}

// HTTPFetcher retrieves listing and detail pages over HTTP.
type HTTPFetcher struct {
	client  *http.Client
	cfg     Config
	limiter *rate.Limiter
	sleep   retry.SleepFunc
	metrics *metrics.Metrics
	logger  *slog.Logger
}

var _ ports.Fetcher = (*HTTPFetcher)(nil)

// New wires an HTTP client; a nil client gets a default transport.
func New(client *http.Client, cfg Config, m *metrics.Metrics, log *slog.Logger) *HTTPFetcher {
	if client == nil {
		client = &http.Client{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = maxBodyBytes
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "NewsIndexer/1.0"
	}

	f := &HTTPFetcher{
		client:  client,
		cfg:     cfg,
		sleep:   retry.Sleep,
		metrics: m,
		logger:  log,
	}
	if cfg.RequestsPerSecond > 0 {
		f.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return f
}

// Fetch returns the body of target, retrying transient failures.
func (f *HTTPFetcher) Fetch(ctx context.Context, target string) ([]byte, error) {
	parsed, err := url.Parse(target)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return nil, &domain.FetchError{Kind: domain.FetchNetworkError, URL: target, Err: fmt.Errorf("invalid target url")}
	}

	var (
		body    []byte
		lastErr *domain.FetchError
	)

	attempts, err := retry.Do(ctx, f.cfg.Retry, f.sleep, func(ctx context.Context, attempt int) (retry.Outcome, error) {
		if f.limiter != nil {
			if err := f.limiter.Wait(ctx); err != nil {
				return retry.Fatal, err
			}
		}

		payload, fetchErr, outcome := f.attempt(ctx, target)
		f.metrics.IncFetchAttempt(outcome.String())
		if outcome == retry.Success {
			body = payload
			return outcome, nil
		}

		lastErr = fetchErr
		f.debug("fetch attempt failed", "url", target, "attempt", attempt, "outcome", outcome.String(), "error", fetchErr)
		return outcome, fetchErr
	})
	if err == nil {
		return body, nil
	}

	if lastErr == nil {
		return nil, &domain.FetchError{Kind: domain.FetchNetworkError, URL: target, Attempts: attempts, Err: err}
	}
	lastErr.Attempts = attempts
	return nil, lastErr
}

func (f *HTTPFetcher) attempt(ctx context.Context, target string) ([]byte, *domain.FetchError, retry.Outcome) {
	attemptCtx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &domain.FetchError{Kind: domain.FetchNetworkError, URL: target, Err: fmt.Errorf("build request: %w", err)}, retry.Fatal
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		fe, outcome := classifyTransportError(ctx, target, err)
		return nil, fe, outcome
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		fe := &domain.FetchError{
			Kind:       domain.FetchHTTPError,
			URL:        target,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status %s", resp.Status),
		}
		if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
			return nil, fe, retry.Retryable
		}
		return nil, fe, retry.Fatal
	}

	payload, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxBodyBytes+1))
	if err != nil {
		fe, outcome := classifyTransportError(ctx, target, fmt.Errorf("read body: %w", err))
		return nil, fe, outcome
	}
	if int64(len(payload)) > f.cfg.MaxBodyBytes {
		return nil, &domain.FetchError{
			Kind:       domain.FetchHTTPError,
			URL:        target,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("body exceeds %d bytes", f.cfg.MaxBodyBytes),
		}, retry.Fatal
	}
	return payload, nil, retry.Success
}

func classifyTransportError(parent context.Context, target string, err error) (*domain.FetchError, retry.Outcome) {
	// The caller gave up; retrying cannot help.
	if parent.Err() != nil {
		return &domain.FetchError{Kind: domain.FetchNetworkError, URL: target, Err: parent.Err()}, retry.Fatal
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &domain.FetchError{Kind: domain.FetchTimeout, URL: target, Err: err}, retry.Retryable
	}
	return &domain.FetchError{Kind: domain.FetchNetworkError, URL: target, Err: err}, retry.Retryable
}

func (f *HTTPFetcher) debug(msg string, args ...interface{}) {
	if f.logger != nil {
		f.logger.Debug(msg, args...)
	}
}
