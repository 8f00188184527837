package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/solatis/tripwire/internal/chain"
	"github.com/solatis/tripwire/internal/types"
)

const (
	// eventQueueSize bounds logs waiting for decoding per subscription.
	eventQueueSize = 128

	unsubscribeTimeout = 5 * time.Second
)

// observeContract waits for the next decoded event of c's subscription,
// creating the subscription on first use. Subscriptions outlive the pass:
// events arriving with nobody waiting still run the callbacks until the
// condition is released or the monitor is closed.
func (m *Monitor) observeContract(ctx context.Context, c *types.Condition) error {
	if c.Contract == nil || c.Contract.ProviderURL == "" {
		return fmt.Errorf("condition %d: %w", c.ID, types.ErrMissingProvider)
	}

	w, err := m.watchFor(ctx, c)
	if err != nil {
		return err
	}

	ch := w.wait()
	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		w.forget(ch)
		return ctx.Err()
	}
}

// watchFor returns c's live watch, subscribing when there is none. The
// dial and subscribe round trip run without m.mu held.
func (m *Monitor) watchFor(ctx context.Context, c *types.Condition) (*watch, error) {
	if w, err := m.liveWatch(c); w != nil || err != nil {
		return w, err
	}

	w, err := m.subscribe(ctx, c)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		w.stop()
		return nil, fmt.Errorf("%w: monitor closed", types.ErrRemoteCall)
	}
	if other, ok := m.watches[c]; ok && other.alive() {
		m.mu.Unlock()
		w.stop()
		return other, nil
	}
	m.watches[c] = w
	m.mu.Unlock()

	w.logger.Info("subscribed", "address", c.Contract.Address, "subscription", w.id)
	return w, nil
}

func (m *Monitor) liveWatch(c *types.Condition) (*watch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, fmt.Errorf("%w: monitor closed", types.ErrRemoteCall)
	}
	w, ok := m.watches[c]
	if !ok {
		return nil, nil
	}
	if w.alive() {
		return w, nil
	}
	delete(m.watches, c)
	m.logger.Info("resubscribing", "condition", c.ID)
	return nil, nil
}

func (m *Monitor) subscribe(ctx context.Context, c *types.Condition) (*watch, error) {
	src := c.Contract
	event, err := chain.ParseEvent(src.ABI, src.EventName)
	if err != nil {
		return nil, fmt.Errorf("%w: condition %d: %v", types.ErrInvalidCondition, c.ID, err)
	}
	sub, err := m.provider(ctx, src.ProviderURL)
	if err != nil {
		return nil, err
	}

	w := &watch{
		cond:    c,
		event:   event,
		monitor: m,
		sub:     sub,
		logs:    make(chan chain.Log, eventQueueSize),
		quit:    make(chan struct{}),
		dead:    make(chan struct{}),
		logger:  m.logger.With("condition", c.ID, "event", event.Signature),
	}
	w.id, err = sub.SubscribeLogs(ctx, src.Address, event.Topic, w.enqueue)
	if err != nil {
		return nil, fmt.Errorf("condition %d: subscribe %s: %w", c.ID, event.Signature, err)
	}
	go w.run()
	return w, nil
}

// Release ends the subscriptions held for the given conditions. Waiting
// passes fail with ErrRemoteCall; a later pass subscribes again.
func (m *Monitor) Release(conditions ...*types.Condition) {
	m.mu.Lock()
	var released []*watch
	for _, c := range conditions {
		if w, ok := m.watches[c]; ok {
			released = append(released, w)
			delete(m.watches, c)
		}
	}
	m.mu.Unlock()

	for _, w := range released {
		w.stop()
		w.logger.Info("released", "subscription", w.id)
	}
}

// watch is one live log subscription plus the observation passes waiting
// on its next event.
type watch struct {
	cond    *types.Condition
	event   *chain.Event
	monitor *Monitor
	sub     chain.Subscriber
	id      string
	logs    chan chain.Log
	logger  *slog.Logger

	mu      sync.Mutex
	waiters []chan error

	quit     chan struct{}
	dead     chan struct{}
	stopOnce sync.Once
}

func (w *watch) enqueue(l chain.Log) {
	select {
	case w.logs <- l:
	default:
		w.logger.Warn("event queue full, dropping log", "block", l.BlockNumber, "tx", l.TransactionHash)
	}
}

func (w *watch) run() {
	for {
		select {
		case <-w.quit:
			w.finish(fmt.Errorf("%w: subscription closed", types.ErrRemoteCall))
			return
		case <-w.sub.Done():
			w.finish(fmt.Errorf("%w: provider connection lost", types.ErrRemoteCall))
			return
		case l := <-w.logs:
			w.handle(l)
		}
	}
}

func (w *watch) handle(l chain.Log) {
	if l.Removed {
		return
	}

	args, err := w.event.Decode(l.Topics, l.Data)
	if err != nil {
		w.monitor.absorb(w.cond, fmt.Errorf("%w: condition %d: %v", types.ErrArgumentExtraction, w.cond.ID, err))
		return
	}
	value, err := extract(w.cond.Contract.EventArgs, args)
	if err != nil {
		w.monitor.absorb(w.cond, fmt.Errorf("condition %d: %w", w.cond.ID, err))
		return
	}

	err = w.monitor.checkAgainstExpected(w.cond, value)
	if !w.resolve(err) && err != nil {
		w.monitor.absorb(w.cond, err)
	}
}

// extract picks the configured arguments. One name yields its value; more
// yield the values in configured order.
func extract(names []string, args map[string]any) (any, error) {
	if len(names) == 0 {
		return args, nil
	}
	values := make([]any, len(names))
	for i, name := range names {
		v, ok := args[name]
		if !ok {
			return nil, fmt.Errorf("%w: %q", types.ErrArgumentExtraction, name)
		}
		values[i] = v
	}
	if len(values) == 1 {
		return values[0], nil
	}
	return values, nil
}

func (w *watch) wait() chan error {
	ch := make(chan error, 1)
	w.mu.Lock()
	defer w.mu.Unlock()
	select {
	case <-w.dead:
		ch <- fmt.Errorf("%w: subscription closed", types.ErrRemoteCall)
	default:
		w.waiters = append(w.waiters, ch)
	}
	return ch
}

func (w *watch) forget(ch chan error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, c := range w.waiters {
		if c == ch {
			w.waiters = append(w.waiters[:i], w.waiters[i+1:]...)
			return
		}
	}
}

// resolve completes every waiting pass with err. Reports whether anyone
// was waiting.
func (w *watch) resolve(err error) bool {
	w.mu.Lock()
	waiters := w.waiters
	w.waiters = nil
	w.mu.Unlock()

	for _, ch := range waiters {
		ch <- err
	}
	return len(waiters) > 0
}

// finish marks the watch dead and fails every waiting pass.
func (w *watch) finish(err error) {
	w.mu.Lock()
	close(w.dead)
	waiters := w.waiters
	w.waiters = nil
	w.mu.Unlock()

	for _, ch := range waiters {
		ch <- err
	}
}

func (w *watch) alive() bool {
	select {
	case <-w.dead:
		return false
	default:
		return true
	}
}

func (w *watch) stop() {
	w.stopOnce.Do(func() {
		close(w.quit)
		ctx, cancel := context.WithTimeout(context.Background(), unsubscribeTimeout)
		defer cancel()
		if err := w.sub.Unsubscribe(ctx, w.id); err != nil {
			w.logger.Debug("unsubscribe failed", "error", err)
		}
		<-w.dead
	})
}
