package captcha

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/contactpilot/contactpilot/internal/resilience"
)

// ErrUnsolved is returned when a solver gave up without a token.
var ErrUnsolved = errors.New("captcha not solved")

// Credentials authenticate against a solving service on behalf of a user.
type Credentials struct {
	Username string
	Password string
}

// Challenge is what a solver needs to produce a token.
type Challenge struct {
	Kind        Kind
	SiteKey     string
	PageURL     string
	Credentials Credentials
}

// Solver turns a challenge into a response token.
type Solver interface {
	Solve(ctx context.Context, ch Challenge) (string, error)
}

// BreakerSolver short-circuits a solver after repeated failures.
type BreakerSolver struct {
	inner   Solver
	breaker *resilience.Breaker
}

// NewBreakerSolver wraps inner with breaker
func NewBreakerSolver(inner Solver, breaker *resilience.Breaker) *BreakerSolver {
	return &BreakerSolver{inner: inner, breaker: breaker}
}

func (s *BreakerSolver) Solve(ctx context.Context, ch Challenge) (string, error) {
	return resilience.Call(ctx, s.breaker, func(ctx context.Context) (string, error) {
		return s.inner.Solve(ctx, ch)
	})
}

// HTTPConfig configures HTTPSolver
type HTTPConfig struct {
	Endpoint     string
	Timeout      time.Duration
	RateLimitRPM int
}

// HTTPSolver posts challenges to a solving service that answers
// synchronously with a token.
type HTTPSolver struct {
	endpoint   string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewHTTPSolver creates a solver client
func NewHTTPSolver(cfg HTTPConfig) (*HTTPSolver, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("solver endpoint is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if cfg.RateLimitRPM == 0 {
		cfg.RateLimitRPM = 30
	}
	return &HTTPSolver{
		endpoint: cfg.Endpoint,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(float64(cfg.RateLimitRPM)/60.0), 1),
	}, nil
}

type solveRequest struct {
	Type     string `json:"type"`
	SiteKey  string `json:"sitekey"`
	PageURL  string `json:"pageurl"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

type solveResponse struct {
	Token string `json:"token"`
	Error string `json:"error,omitempty"`
}

func (s *HTTPSolver) Solve(ctx context.Context, ch Challenge) (string, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}

	body, err := json.Marshal(solveRequest{
		Type:     string(ch.Kind),
		SiteKey:  ch.SiteKey,
		PageURL:  ch.PageURL,
		Username: ch.Credentials.Username,
		Password: ch.Credentials.Password,
	})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("solver error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var out solveResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fmt.Errorf("parsing response: %w", err)
	}
	if out.Token == "" {
		if out.Error != "" {
			return "", fmt.Errorf("%w: %s", ErrUnsolved, out.Error)
		}
		return "", ErrUnsolved
	}
	return out.Token, nil
}
