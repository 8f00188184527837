package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// MetricsServer serves a metrics handler on /metrics.
type MetricsServer struct {
	srv *http.Server
	lis net.Listener
}

// NewMetricsServer binds addr immediately so a port conflict fails
// startup rather than surfacing later.
func NewMetricsServer(addr string, handler http.Handler) (*MetricsServer, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to bind %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	return &MetricsServer{
		srv: &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		lis: lis,
	}, nil
}

// Addr returns the bound address.
func (m *MetricsServer) Addr() net.Addr {
	return m.lis.Addr()
}

// Serve blocks until Shutdown. A clean shutdown returns nil.
func (m *MetricsServer) Serve() error {
	if err := m.srv.Serve(m.lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting scrapes and waits for in-flight ones.
func (m *MetricsServer) Shutdown(ctx context.Context) error {
	return m.srv.Shutdown(ctx)
}
