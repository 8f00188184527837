package engine

import (
	"context"
	"errors"
	"fmt"
	"maps"

	"github.com/solatis/tripwire/internal/auditlog"
	"github.com/solatis/tripwire/internal/types"
)

// fire makes the single executor invocation for this cycle. Executor
// failures are fatal to the run; broadcast failures are only recorded.
func (r *run) fire(ctx context.Context, cycle int) error {
	e := r.e

	params := maps.Clone(e.params)
	params["cycle"] = cycle
	params["satisfied"] = sortedIDs(r.satisfied.snapshot())

	req := types.ActionRequest{
		RunID:       r.id,
		CodeID:      e.codeID,
		Actions:     r.actions,
		Params:      params,
		Credentials: r.credentials,
	}

	names := make([]string, len(r.actions))
	for i, a := range r.actions {
		names[i] = a.Name
	}
	e.recorder.Record(auditlog.CategoryExecution, fmt.Sprintf("cycle %d executing %d actions", cycle, len(names)), names)

	resp, err := e.executor.Execute(ctx, req)
	e.metrics.RecordAction(err)
	if err != nil {
		if !errors.Is(err, types.ErrExecutor) {
			err = fmt.Errorf("%w: %w", types.ErrExecutor, err)
		}
		e.recorder.Errorf(err, "action execution failed")
		return err
	}
	if resp == nil {
		resp = &types.ActionResponse{}
	}

	r.incrementActions()
	e.recorder.Record(auditlog.CategoryResponse, "action response", resp)

	if e.broadcaster != nil {
		if err := e.broadcaster.Broadcast(ctx, r.id, resp); err != nil {
			e.recorder.Errorf(err, "broadcast failed")
		} else {
			e.recorder.Record(auditlog.CategoryBroadcast, "response broadcast", nil)
		}
	}
	return nil
}
