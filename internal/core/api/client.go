package api

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/solatis/tripwire/internal/auditlog"
	"github.com/solatis/tripwire/internal/types"
)

// RunStatus is the client-side view of a Status reply.
type RunStatus struct {
	RunID            types.RunID
	State            string
	Outcome          string
	StartedAt        time.Time
	CyclesExecuted   int
	ActionsCompleted int
	Satisfied        []types.ConditionID
}

// Client is a typed control-plane client that attaches the API key to
// every call.
type Client struct {
	conn   *grpc.ClientConn
	rpc    ControlClient
	apiKey string
}

// Dial connects to a control plane at addr (host:port). The channel is
// plaintext; run it on loopback or behind a TLS-terminating proxy.
func Dial(addr, apiKey string) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	c := NewClient(conn, apiKey)
	c.conn = conn
	return c, nil
}

// NewClient wraps an existing connection. Close does not close cc.
func NewClient(cc grpc.ClientConnInterface, apiKey string) *Client {
	return &Client{rpc: NewControlClient(cc), apiKey: apiKey}
}

// Close closes a connection opened by Dial.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func (c *Client) outgoing(ctx context.Context) context.Context {
	if c.apiKey == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, "x-api-key", c.apiKey)
}

// Status fetches the engine status.
func (c *Client) Status(ctx context.Context) (RunStatus, error) {
	reply, err := c.rpc.Status(c.outgoing(ctx), &emptypb.Empty{})
	if err != nil {
		return RunStatus{}, err
	}

	f := reply.GetFields()
	s := RunStatus{
		RunID:            types.RunID(f["runId"].GetStringValue()),
		State:            f["state"].GetStringValue(),
		Outcome:          f["outcome"].GetStringValue(),
		CyclesExecuted:   int(f["cyclesExecuted"].GetNumberValue()),
		ActionsCompleted: int(f["actionsCompleted"].GetNumberValue()),
	}
	if ts := f["startedAt"].GetStringValue(); ts != "" {
		if s.StartedAt, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return RunStatus{}, fmt.Errorf("bad startedAt %q: %w", ts, err)
		}
	}
	for _, v := range f["satisfied"].GetListValue().GetValues() {
		s.Satisfied = append(s.Satisfied, types.ConditionID(v.GetNumberValue()))
	}
	return s, nil
}

// Logs fetches audit entries. An empty category returns all; limit 0
// returns everything retained.
func (c *Client) Logs(ctx context.Context, category auditlog.Category, limit int) ([]auditlog.Entry, error) {
	req, err := structpb.NewStruct(map[string]any{
		"category": string(category),
		"limit":    limit,
	})
	if err != nil {
		return nil, err
	}

	reply, err := c.rpc.GetLogs(c.outgoing(ctx), req)
	if err != nil {
		return nil, err
	}

	values := reply.GetFields()["entries"].GetListValue().GetValues()
	entries := make([]auditlog.Entry, 0, len(values))
	for _, v := range values {
		f := v.GetStructValue().GetFields()
		ts, err := time.Parse(time.RFC3339Nano, f["timestamp"].GetStringValue())
		if err != nil {
			return nil, fmt.Errorf("bad entry timestamp: %w", err)
		}
		entries = append(entries, auditlog.Entry{
			Category:  auditlog.Category(f["category"].GetStringValue()),
			Message:   f["message"].GetStringValue(),
			Payload:   f["payload"].GetStringValue(),
			Timestamp: ts,
		})
	}
	return entries, nil
}

// Interrupt asks the active run to stop.
func (c *Client) Interrupt(ctx context.Context) error {
	_, err := c.rpc.Interrupt(c.outgoing(ctx), &emptypb.Empty{})
	return err
}
