package chain

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Pool shares one client per provider URL. A client whose connection has
// dropped is redialed on the next Get.
type Pool struct {
	mu          sync.Mutex
	clients     map[string]*Client
	dialTimeout time.Duration
	logger      *slog.Logger
}

// NewPool creates an empty pool.
func NewPool(dialTimeout time.Duration, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Pool{
		clients:     make(map[string]*Client),
		dialTimeout: dialTimeout,
		logger:      logger,
	}
}

// Get returns a live client for url, dialing if needed.
func (p *Pool) Get(ctx context.Context, url string) (*Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.clients[url]; ok {
		select {
		case <-c.Done():
			p.logger.Info("redialing provider", "provider", url, "reason", c.Err())
			delete(p.clients, url)
		default:
			return c, nil
		}
	}

	c, err := Dial(ctx, url, p.dialTimeout, p.logger)
	if err != nil {
		return nil, err
	}
	p.clients[url] = c
	return c, nil
}

// Close closes every pooled client.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for url, c := range p.clients {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(p.clients, url)
	}
	return errors.Join(errs...)
}
