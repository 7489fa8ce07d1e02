package resilience

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker/v2"
)

// ErrCircuitOpen is returned without touching the network while the breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// TransportConfig configures a Transport.
type TransportConfig struct {
	Name string

	// MaxRetries bounds retries of transport errors and 5xx responses.
	// Zero, the default, sends each request exactly once.
	MaxRetries uint64

	InitialInterval time.Duration
	MaxInterval     time.Duration

	// CircuitBreaker overrides DefaultCircuitBreakerConfig(Name).
	CircuitBreaker *CircuitBreakerConfig
}

// DefaultTransportConfig returns a breaker-only configuration.
func DefaultTransportConfig(name string) TransportConfig {
	return TransportConfig{
		Name:            name,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     2 * time.Second,
	}
}

// Transport is an http.RoundTripper guarding one gateway. 5xx responses and
// transport errors count as breaker failures; 4xx responses do not.
type Transport struct {
	base    http.RoundTripper
	breaker *gobreaker.CircuitBreaker[*http.Response]
	config  TransportConfig
}

// NewTransport wraps base; a nil base uses http.DefaultTransport.
func NewTransport(base http.RoundTripper, cfg TransportConfig) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	if cfg.InitialInterval == 0 {
		cfg.InitialInterval = 100 * time.Millisecond
	}
	if cfg.MaxInterval == 0 {
		cfg.MaxInterval = 2 * time.Second
	}
	cbConfig := DefaultCircuitBreakerConfig(cfg.Name)
	if cfg.CircuitBreaker != nil {
		cbConfig = *cfg.CircuitBreaker
	}
	return &Transport{
		base:    base,
		breaker: newCircuitBreaker[*http.Response](cbConfig), //nolint:bodyclose // type param, not response
		config:  cfg,
	}
}

// Client returns an http.Client using this transport.
func (t *Transport) Client(timeout time.Duration) *http.Client {
	return &http.Client{Transport: t, Timeout: timeout}
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = t.config.InitialInterval
	bo.MaxInterval = t.config.MaxInterval
	bo.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, t.config.MaxRetries), req.Context())

	var (
		lastResp *http.Response
		attempt  int
	)
	operation := func() error {
		attempt++
		if lastResp != nil {
			drain(lastResp)
			lastResp = nil
		}
		outgoing, err := rewind(req, attempt)
		if err != nil {
			return backoff.Permanent(err)
		}

		resp, err := t.breaker.Execute(func() (*http.Response, error) { //nolint:bodyclose // caller closes
			r, err := t.base.RoundTrip(outgoing)
			if err != nil {
				return nil, err
			}
			if r.StatusCode >= http.StatusInternalServerError {
				return r, &ServerError{StatusCode: r.StatusCode}
			}
			return r, nil
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return backoff.Permanent(fmt.Errorf("%s: %w", t.config.Name, ErrCircuitOpen))
		}
		if resp != nil {
			lastResp = resp
		}
		return err
	}

	err := backoff.Retry(operation, policy)
	if lastResp != nil {
		// Exhausted 5xx: hand the response to the caller so it can read the body.
		return lastResp, nil
	}
	return nil, err
}

// State reports the breaker state.
func (t *Transport) State() gobreaker.State {
	return t.breaker.State()
}

// Counts reports the breaker counters.
func (t *Transport) Counts() gobreaker.Counts {
	return t.breaker.Counts()
}

// ServerError represents an HTTP 5xx response.
type ServerError struct {
	StatusCode int
}

func (e *ServerError) Error() string {
	return "server error: " + http.StatusText(e.StatusCode)
}

// rewind returns req for the first attempt and a copy with a fresh body for
// later ones.
func rewind(req *http.Request, attempt int) (*http.Request, error) {
	if attempt == 1 || req.Body == nil || req.Body == http.NoBody {
		return req, nil
	}
	if req.GetBody == nil {
		return nil, errors.New("request body cannot be replayed")
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, fmt.Errorf("replaying request body: %w", err)
	}
	clone := req.Clone(req.Context())
	clone.Body = body
	return clone, nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}
