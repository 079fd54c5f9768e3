package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"

	"teacher-agent/internal/domain"
	"teacher-agent/internal/infra/config"
)

// Default circuit breaker settings.
const (
	defaultCBMaxFailures uint32        = 5
	defaultCBTimeout     time.Duration = 30 * time.Second
	defaultCBInterval    time.Duration = 60 * time.Second
)

// CircuitBreakerOracle wraps an Oracle with circuit breaker protection. When
// the wrapped oracle fails repeatedly the circuit opens and calls fail fast
// with domain.ErrCircuitOpen.
type CircuitBreakerOracle struct {
	inner   domain.Oracle
	breaker *gobreaker.CircuitBreaker[*domain.GenerateResponse]
	logger  *slog.Logger
}

// NewCircuitBreakerOracle wraps inner with a circuit breaker. Zero config
// values use the defaults.
func NewCircuitBreakerOracle(inner domain.Oracle, cfg config.CircuitBreakerConfig, logger *slog.Logger) *CircuitBreakerOracle {
	if logger == nil {
		logger = slog.Default()
	}
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultCBMaxFailures
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultCBTimeout
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultCBInterval
	}

	cb := gobreaker.NewCircuitBreaker[*domain.GenerateResponse](gobreaker.Settings{
		Name:        "oracle:" + inner.Name(),
		MaxRequests: 1,
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		// Caller-side errors do not count as oracle failures.
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, context.Canceled) ||
				errors.Is(err, domain.ErrInvalidInput) ||
				errors.Is(err, domain.ErrContextOverflow)
		},
	})

	return &CircuitBreakerOracle{inner: inner, breaker: cb, logger: logger}
}

// Generate implements domain.Oracle.
func (p *CircuitBreakerOracle) Generate(ctx context.Context, req domain.GenerateRequest) (*domain.GenerateResponse, error) {
	resp, err := p.breaker.Execute(func() (*domain.GenerateResponse, error) {
		return p.inner.Generate(ctx, req)
	})
	if err != nil {
		return nil, p.wrap(err)
	}
	return resp, nil
}

// Stream implements domain.StreamingOracle when the inner oracle streams. The
// breaker guards stream setup only; failures after that travel in the channel.
func (p *CircuitBreakerOracle) Stream(ctx context.Context, req domain.GenerateRequest) (<-chan domain.StreamDelta, error) {
	sp, ok := p.inner.(domain.StreamingOracle)
	if !ok {
		return nil, domain.NewSubSystemError("oracle", "CircuitBreakerOracle.Stream", domain.ErrOracleFailure,
			fmt.Sprintf("oracle %q does not support streaming", p.inner.Name()))
	}

	var ch <-chan domain.StreamDelta
	_, err := p.breaker.Execute(func() (*domain.GenerateResponse, error) {
		var streamErr error
		ch, streamErr = sp.Stream(ctx, req)
		return nil, streamErr
	})
	if err != nil {
		return nil, p.wrap(err)
	}
	return ch, nil
}

func (p *CircuitBreakerOracle) wrap(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("oracle %q: %w: %v", p.inner.Name(), domain.ErrCircuitOpen, err)
	}
	return err
}

// Name implements domain.Oracle.
func (p *CircuitBreakerOracle) Name() string { return p.inner.Name() }

// State returns the current circuit breaker state for monitoring.
func (p *CircuitBreakerOracle) State() gobreaker.State { return p.breaker.State() }

// Counts returns the current circuit breaker counts.
func (p *CircuitBreakerOracle) Counts() gobreaker.Counts { return p.breaker.Counts() }

var _ domain.StreamingOracle = (*CircuitBreakerOracle)(nil)

// --- Connection Pooling ---

// Default connection pool settings: few hosts, high concurrency, long-lived
// connections.
const (
	defaultMaxIdleConns        = 20
	defaultMaxIdleConnsPerHost = 10
	defaultMaxConnsPerHost     = 20
	defaultIdleConnTimeout     = 120 * time.Second
)

// NewPooledTransport creates an http.Transport with connection pooling for
// oracle calls.
func NewPooledTransport(connTimeout, respTimeout time.Duration, pool config.PoolConfig) *http.Transport {
	if connTimeout == 0 {
		connTimeout = defaultConnTimeout
	}
	if respTimeout == 0 {
		respTimeout = defaultRespTimeout
	}

	maxIdle := pool.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = defaultMaxIdleConns
	}
	maxIdlePerHost := pool.MaxIdleConnsPerHost
	if maxIdlePerHost <= 0 {
		maxIdlePerHost = defaultMaxIdleConnsPerHost
	}
	maxConnsPerHost := pool.MaxConnsPerHost
	if maxConnsPerHost <= 0 {
		maxConnsPerHost = defaultMaxConnsPerHost
	}
	idleTimeout := pool.IdleConnTimeout
	if idleTimeout <= 0 {
		idleTimeout = defaultIdleConnTimeout
	}

	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   connTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: respTimeout,
		MaxIdleConns:          maxIdle,
		MaxIdleConnsPerHost:   maxIdlePerHost,
		MaxConnsPerHost:       maxConnsPerHost,
		IdleConnTimeout:       idleTimeout,
		ForceAttemptHTTP2:     true,
	}
}

// Default provider timeouts.
const (
	defaultConnTimeout = 30 * time.Second
	defaultRespTimeout = 120 * time.Second
)

// NewHTTPClient creates an *http.Client with the pooled transport. There is
// no overall client timeout: streamed responses are bounded by the caller's
// context instead.
func NewHTTPClient(cfg config.ProviderConfig) *http.Client {
	return &http.Client{
		Transport: NewPooledTransport(cfg.ConnTimeout, cfg.RespTimeout, cfg.Pool),
	}
}

// newWebSocketClient is NewHTTPClient restricted to HTTP/1.1, which the
// websocket upgrade requires.
func newWebSocketClient(cfg config.ProviderConfig) *http.Client {
	t := NewPooledTransport(cfg.ConnTimeout, cfg.RespTimeout, cfg.Pool)
	t.ForceAttemptHTTP2 = false
	return &http.Client{Transport: t}
}
