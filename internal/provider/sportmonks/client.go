// Package sportmonks is the outbound adapter for the sports data provider.
// It shields the rest of the engine from the provider's response shapes and
// reports failures through the closed domain.ProviderError taxonomy.
package sportmonks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/bitredict/oddyssey-engine/internal/domain"
)

// Config holds provider connection parameters.
type Config struct {
	BaseURL  string
	APIToken string
	// RequestInterval is the minimum spacing between outbound requests.
	RequestInterval time.Duration
	// Timeout applies per HTTP request.
	Timeout time.Duration
	// MaxRetries is the number of additional attempts on retryable failures.
	MaxRetries int
	// RetryBackoff is the initial backoff; it doubles per attempt.
	RetryBackoff time.Duration
	// ExcludedLeagueTerms filters leagues by case-insensitive substring.
	ExcludedLeagueTerms []string
}

// Client is the rate-limited REST client for the sports provider.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
	maxRetries int
	backoff    time.Duration
	excluded   []string
	logger     *slog.Logger
}

// New creates a provider Client from the given config.
func New(cfg Config, logger *slog.Logger) *Client {
	interval := cfg.RequestInterval
	if interval <= 0 {
		interval = 333 * time.Millisecond
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = 3
	}
	backoff := cfg.RetryBackoff
	if backoff <= 0 {
		backoff = time.Second
	}

	return &Client{
		baseURL:    cfg.BaseURL,
		token:      cfg.APIToken,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Every(interval), 1),
		maxRetries: retries,
		backoff:    backoff,
		excluded:   cfg.ExcludedLeagueTerms,
		logger:     logger.With(slog.String("component", "sportmonks")),
	}
}

// doGet performs a rate-limited GET with retries on retryable failures and
// returns the response body.
func (c *Client) doGet(ctx context.Context, path string, params url.Values) ([]byte, error) {
	if params == nil {
		params = url.Values{}
	}
	params.Set("api_token", c.token)
	fullURL := c.baseURL + path + "?" + params.Encode()

	var lastErr *domain.ProviderError
	backoff := c.backoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, &domain.ProviderError{Kind: domain.ProviderTransient, Op: path, Err: ctx.Err()}
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &domain.ProviderError{Kind: domain.ProviderTransient, Op: path, Err: err}
		}

		body, perr := c.attempt(ctx, path, fullURL)
		if perr == nil {
			return body, nil
		}
		lastErr = perr
		if !perr.Retryable() {
			return nil, perr
		}
		c.logger.WarnContext(ctx, "provider request failed, retrying",
			slog.String("path", path),
			slog.Int("attempt", attempt+1),
			slog.String("kind", string(perr.Kind)),
		)
	}
	return nil, lastErr
}

func (c *Client) attempt(ctx context.Context, path, fullURL string) ([]byte, *domain.ProviderError) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, &domain.ProviderError{Kind: domain.ProviderMalformed, Op: path, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &domain.ProviderError{Kind: domain.ProviderTransient, Op: path, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, &domain.ProviderError{Kind: domain.ProviderTransient, Op: path, Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &domain.ProviderError{Kind: domain.ProviderRateLimited, Op: path,
			Err: fmt.Errorf("status %d", resp.StatusCode)}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &domain.ProviderError{Kind: domain.ProviderAuth, Op: path,
			Err: fmt.Errorf("status %d", resp.StatusCode)}
	case resp.StatusCode == http.StatusNotFound:
		return nil, &domain.ProviderError{Kind: domain.ProviderNotFound, Op: path,
			Err: fmt.Errorf("status %d", resp.StatusCode)}
	case resp.StatusCode >= 500:
		return nil, &domain.ProviderError{Kind: domain.ProviderTransient, Op: path,
			Err: fmt.Errorf("status %d", resp.StatusCode)}
	default:
		return nil, &domain.ProviderError{Kind: domain.ProviderMalformed, Op: path,
			Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}
}

// decodeEnvelope unmarshals a provider response, classifying decode failures
// as malformed.
func decodeEnvelope(path string, body []byte) (*apiEnvelope, *domain.ProviderError) {
	var env apiEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, &domain.ProviderError{Kind: domain.ProviderMalformed, Op: path, Err: err}
	}
	return &env, nil
}
