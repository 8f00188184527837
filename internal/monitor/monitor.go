// Package monitor observes conditions. One call to Observe is one
// observation pass: a single webhook poll, or the next decoded event on a
// contract subscription. Looping is the engine's job.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/solatis/tripwire/internal/chain"
	"github.com/solatis/tripwire/internal/rules"
	"github.com/solatis/tripwire/internal/types"
)

const (
	defaultWebhookTimeout = 10 * time.Second
	defaultDialTimeout    = 10 * time.Second
)

// ProviderFunc returns a log subscriber connected to a provider endpoint.
type ProviderFunc func(ctx context.Context, url string) (chain.Subscriber, error)

// Observer is what the engine needs from a monitor.
type Observer interface {
	Observe(ctx context.Context, c *types.Condition) error
	Close() error
}

// Monitor observes webhook and contract conditions.
type Monitor struct {
	httpClient *http.Client
	provider   ProviderFunc
	pool       *chain.Pool // non-nil when the monitor owns its connections
	matcher    rules.Matcher
	logger     *slog.Logger

	mu      sync.Mutex
	watches map[*types.Condition]*watch
	closed  bool
}

var _ Observer = (*Monitor)(nil)

// Option configures a Monitor.
type Option func(*settings)

type settings struct {
	httpClient     *http.Client
	webhookTimeout time.Duration
	dialTimeout    time.Duration
	provider       ProviderFunc
	matcher        rules.Matcher
	logger         *slog.Logger
}

// WithHTTPClient sets the client used for webhook polls.
func WithHTTPClient(c *http.Client) Option {
	return func(s *settings) { s.httpClient = c }
}

// WithWebhookTimeout bounds a single webhook poll.
func WithWebhookTimeout(d time.Duration) Option {
	return func(s *settings) { s.webhookTimeout = d }
}

// WithDialTimeout bounds the websocket handshake to a provider.
func WithDialTimeout(d time.Duration) Option {
	return func(s *settings) { s.dialTimeout = d }
}

// WithProvider replaces the pooled websocket connections.
func WithProvider(p ProviderFunc) Option {
	return func(s *settings) { s.provider = p }
}

// WithMatcher sets how emitted values are compared.
func WithMatcher(m rules.Matcher) Option {
	return func(s *settings) { s.matcher = m }
}

// WithLogger sets the operational logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// New creates a Monitor.
func New(opts ...Option) *Monitor {
	s := settings{
		webhookTimeout: defaultWebhookTimeout,
		dialTimeout:    defaultDialTimeout,
	}
	for _, opt := range opts {
		opt(&s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	if s.httpClient == nil {
		s.httpClient = &http.Client{Timeout: s.webhookTimeout}
	}

	m := &Monitor{
		httpClient: s.httpClient,
		provider:   s.provider,
		matcher:    s.matcher,
		logger:     s.logger.With("component", "monitor"),
		watches:    make(map[*types.Condition]*watch),
	}
	if m.provider == nil {
		m.pool = chain.NewPool(s.dialTimeout, s.logger)
		m.provider = func(ctx context.Context, url string) (chain.Subscriber, error) {
			return m.pool.Get(ctx, url)
		}
	}
	return m
}

// Observe runs one observation pass for c. Failures are delivered to the
// condition's OnError and returned. Context cancellation is returned but
// not delivered.
func (m *Monitor) Observe(ctx context.Context, c *types.Condition) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: condition %d: panic: %v", types.ErrCallback, c.ID, r)
		}
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			m.deliver(c, err)
		}
	}()

	switch c.Kind {
	case types.KindWebhook:
		return m.observeWebhook(ctx, c)
	case types.KindContract:
		return m.observeContract(ctx, c)
	default:
		return fmt.Errorf("%w: condition %d has kind %s", types.ErrInvalidCondition, c.ID, c.Kind)
	}
}

// Close cancels every contract subscription and releases connections.
func (m *Monitor) Close() error {
	m.mu.Lock()
	m.closed = true
	watches := m.watches
	m.watches = make(map[*types.Condition]*watch)
	m.mu.Unlock()

	for _, w := range watches {
		w.stop()
	}
	if m.pool != nil {
		return m.pool.Close()
	}
	return nil
}

// checkAgainstExpected applies the matcher to an emitted value and runs
// the matched or unmatched callbacks: the user callback first, then the
// engine hook. A failing or panicking user callback aborts the pass.
func (m *Monitor) checkAgainstExpected(c *types.Condition, value any) error {
	op, err := rules.ParseOperator(c.MatchOperator)
	if err != nil {
		return err
	}

	matched := m.matcher.Matches(c.ExpectedValue, value, op)
	m.logger.Debug("condition resolved", "condition", c.ID, "matched", matched, "value", value)

	hooks := c.Hooks()
	if matched {
		if err := invoke(c.OnMatched, value); err != nil {
			return fmt.Errorf("%w: condition %d onMatched: %v", types.ErrCallback, c.ID, err)
		}
		if hooks.Matched != nil {
			hooks.Matched()
		}
		return nil
	}

	if err := invoke(c.OnUnmatched, value); err != nil {
		return fmt.Errorf("%w: condition %d onUnmatched: %v", types.ErrCallback, c.ID, err)
	}
	if hooks.Unmatched != nil {
		hooks.Unmatched()
	}
	return nil
}

// absorb reports an error that does not end the observation pass.
func (m *Monitor) absorb(c *types.Condition, err error) {
	m.deliver(c, err)
	if h := c.Hooks().Failed; h != nil {
		h(err)
	}
}

func (m *Monitor) deliver(c *types.Condition, err error) {
	if c.OnError == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("onError callback panicked", "condition", c.ID, "panic", r)
		}
	}()
	c.OnError(err)
}

func invoke(fn types.MatchFunc, value any) (err error) {
	if fn == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(value)
}
