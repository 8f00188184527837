package server

import (
	"context"
	"io"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/solatis/tripwire/internal/auditlog"
	"github.com/solatis/tripwire/internal/core/api"
	"github.com/solatis/tripwire/internal/core/auth"
	"github.com/solatis/tripwire/internal/core/db"
	"github.com/solatis/tripwire/internal/engine"
	"github.com/solatis/tripwire/internal/telemetry/metrics"
)

const secretID = "0123456789abcdef0123456789abcdef"

var secret = []byte("testsecret1234567890abcdefghijklmnop")

type idleEngine struct{}

func (idleEngine) Status() engine.Status                         { return engine.Status{State: engine.StateIdle} }
func (idleEngine) GetLogs(...auditlog.Category) []auditlog.Entry { return nil }
func (idleEngine) Interrupt() error                              { return nil }

func startServer(t *testing.T) (*GRPCServer, string) {
	t.Helper()
	ctx := context.Background()

	conn, err := db.Open("sqlite://" + filepath.Join(t.TempDir(), "control.db"))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, db.MigrateUp(conn))
	q, err := db.LoadQueries(conn)
	require.NoError(t, err)

	_, key, err := auth.CreateKey(ctx, q, "test", secretID, secret)
	require.NoError(t, err)

	svc, err := api.NewControlService(idleEngine{}, nil)
	require.NoError(t, err)
	srv, err := NewGRPCServer("127.0.0.1:0", svc, auth.NewAuthenticator(map[string][]byte{secretID: secret}, q))
	require.NoError(t, err)
	require.NoError(t, srv.Listen())

	go func() { _ = srv.Start(ctx) }()
	t.Cleanup(func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	})
	return srv, key
}

func TestGRPCServer_AuthenticatedControl(t *testing.T) {
	srv, key := startServer(t)
	ctx := context.Background()

	c, err := api.Dial(srv.Addr().String(), key)
	require.NoError(t, err)
	defer c.Close()

	st, err := c.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "IDLE", st.State)

	anon, err := api.Dial(srv.Addr().String(), "")
	require.NoError(t, err)
	defer anon.Close()

	_, err = anon.Status(ctx)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}

func TestGRPCServer_HealthWithoutKey(t *testing.T) {
	srv, _ := startServer(t)

	conn, err := grpc.NewClient(srv.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	resp, err := grpc_health_v1.NewHealthClient(conn).Check(context.Background(),
		&grpc_health_v1.HealthCheckRequest{Service: api.ControlServiceName})
	require.NoError(t, err)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, resp.Status)
}

func TestNewGRPCServer_RequiresDependencies(t *testing.T) {
	_, err := NewGRPCServer("127.0.0.1:0", nil, auth.NewAuthenticator(nil, nil))
	assert.Error(t, err)

	svc, err := api.NewControlService(idleEngine{}, nil)
	require.NoError(t, err)
	_, err = NewGRPCServer("127.0.0.1:0", svc, nil)
	assert.Error(t, err)
}

func TestMetricsServer(t *testing.T) {
	collector := metrics.NewCollector(nil)
	collector.RecordCycle(20 * time.Millisecond)

	m, err := NewMetricsServer("127.0.0.1:0", collector.Handler())
	require.NoError(t, err)
	go func() { _ = m.Serve() }()
	defer m.Shutdown(context.Background())

	resp, err := http.Get("http://" + m.Addr().String() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "tripwire_engine_cycles_total 1")
}
