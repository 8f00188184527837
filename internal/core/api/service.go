package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/solatis/tripwire/internal/auditlog"
	"github.com/solatis/tripwire/internal/core/auth"
	"github.com/solatis/tripwire/internal/engine"
	"github.com/solatis/tripwire/internal/types"
)

// Engine is the part of *engine.Engine the control plane drives.
type Engine interface {
	Status() engine.Status
	GetLogs(categories ...auditlog.Category) []auditlog.Entry
	Interrupt() error
}

// ControlService implements ControlServer over an engine.
// Validation errors map to INVALID_ARGUMENT, interrupting an idle engine
// to FAILED_PRECONDITION.
type ControlService struct {
	engine Engine
	logger *slog.Logger
}

var _ ControlServer = (*ControlService)(nil)

// NewControlService creates the service. A nil logger discards output.
func NewControlService(e Engine, logger *slog.Logger) (*ControlService, error) {
	if e == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &ControlService{engine: e, logger: logger.With("component", "control")}, nil
}

// Status reports the engine status.
func (s *ControlService) Status(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	st := s.engine.Status()

	satisfied := make([]any, len(st.Satisfied))
	for i, id := range st.Satisfied {
		satisfied[i] = int64(id)
	}
	fields := map[string]any{
		"runId":            string(st.RunID),
		"state":            st.State.String(),
		"outcome":          string(st.Outcome),
		"cyclesExecuted":   int64(st.CyclesExecuted),
		"actionsCompleted": int64(st.ActionsCompleted),
		"satisfied":        satisfied,
	}
	if !st.StartedAt.IsZero() {
		fields["startedAt"] = st.StartedAt.UTC().Format(time.RFC3339Nano)
	}

	out, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

// GetLogs returns audit entries, oldest first.
func (s *ControlService) GetLogs(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var categories []auditlog.Category
	limit := 0

	fields := req.GetFields()
	if v, ok := fields["category"]; ok && v.GetStringValue() != "" {
		c, ok := auditlog.ParseCategory(v.GetStringValue())
		if !ok {
			return nil, status.Errorf(codes.InvalidArgument, "unknown category %q", v.GetStringValue())
		}
		categories = append(categories, c)
	}
	if v, ok := fields["limit"]; ok {
		n := v.GetNumberValue()
		if n < 0 || n != float64(int(n)) {
			return nil, status.Errorf(codes.InvalidArgument, "limit must be a non-negative integer, got %v", n)
		}
		limit = int(n)
	}

	entries := s.engine.GetLogs(categories...)
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}

	list := make([]any, len(entries))
	for i, e := range entries {
		list[i] = map[string]any{
			"category":  string(e.Category),
			"message":   e.Message,
			"payload":   e.Payload,
			"timestamp": e.Timestamp.UTC().Format(time.RFC3339Nano),
		}
	}

	out, err := structpb.NewStruct(map[string]any{"entries": list})
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

// Interrupt stops the active run.
func (s *ControlService) Interrupt(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	s.logger.Info("interrupt requested", "key_id", auth.KeyIDFromContext(ctx))
	if err := s.engine.Interrupt(); err != nil {
		if errors.Is(err, types.ErrNotRunning) {
			return nil, status.Error(codes.FailedPrecondition, err.Error())
		}
		return nil, status.Error(codes.Internal, err.Error())
	}
	return &emptypb.Empty{}, nil
}
