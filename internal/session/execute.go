package session

import (
	"context"
	"errors"

	"workbench/internal/action"
	"workbench/internal/executor"
	"workbench/internal/i18n"
	"workbench/internal/runstate"
)

// execute takes the named proposals out of the pending set and runs them as
// one batch, tracked by a dedicated execution run.
func (s *Session) execute(ctx context.Context, ids []string) (BatchResult, []executor.Outcome, error) {
	if len(ids) == 0 {
		return BatchResult{Message: i18n.T("session.batch_empty")}, nil, nil
	}

	if s.executor == nil {
		return BatchResult{}, nil, errors.New("executor is not configured")
	}

	s.mu.Lock()
	if s.executing {
		s.mu.Unlock()
		return BatchResult{}, nil, ErrBusy
	}
	var selected []action.Proposal
	remaining := s.pending
	for _, id := range ids {
		for _, p := range remaining {
			if p.ID == id {
				selected = append(selected, p)
				break
			}
		}
		remaining, _ = without(remaining, id)
	}
	if len(selected) == 0 {
		s.mu.Unlock()
		return BatchResult{}, nil, ErrNotPending
	}
	s.pending = remaining
	s.executing = true
	batchID := executor.NewBatchID()
	machine := runstate.NewMachine(batchID, s.now)
	s.execRun = machine
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.executing = false
		s.mu.Unlock()
		s.publish(UpdateState, nil)
	}()
	s.publish(UpdateState, nil)

	total := len(selected)
	events := make(chan runstate.StreamEvent, total+2)
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		_ = machine.Drain(context.Background(), events, func(st runstate.RunState) {
			s.publish(UpdateExecution, &st)
		})
	}()

	events <- runstate.Event(batchID, runstate.StageExecuting, i18n.T("stage.executing", 0, total),
		&runstate.EventMeta{Total: runstate.Int(total), Completed: runstate.Int(0), Success: runstate.Int(0), Failed: runstate.Int(0)})
	outcomes := s.executor.Execute(ctx, batchID, selected, func(p executor.Progress) {
		events <- runstate.Event(batchID, runstate.StageExecuting, i18n.T("stage.executing", p.Completed, p.Total),
			&runstate.EventMeta{Completed: runstate.Int(p.Completed), Success: runstate.Int(p.Success), Failed: runstate.Int(p.Failed)})
	})

	records := make([]executor.AuditRecord, 0, len(outcomes))
	succeeded, failed := 0, 0
	for _, o := range outcomes {
		records = append(records, o.Record)
		if o.Record.Success {
			succeeded++
		} else {
			failed++
		}
	}
	summary := i18n.T("session.batch_summary", succeeded, total)
	events <- runstate.Event(batchID, runstate.StageCompleted, summary, nil)
	close(events)
	<-drained

	s.mu.Lock()
	for _, r := range records {
		s.audit.Push(r)
	}
	s.mu.Unlock()
	s.persistAudit()

	if succeeded > 0 {
		s.publish(UpdateRefresh, nil)
	}
	s.logger.Info("batch executed", "batch_id", batchID, "total", total, "success", succeeded, "failed", failed)
	return BatchResult{
		Success: len(records) > 0 && failed == 0,
		BatchID: batchID,
		Message: summary,
		Records: records,
	}, outcomes, nil
}
