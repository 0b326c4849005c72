package command

import (
	"context"
	"errors"
	"testing"
)

func TestSubmitAcceptsFirstCommand(t *testing.T) {
	r := New()
	cmd, preempted := r.Submit(1, "START_PRINT", nil, nil, false)
	if cmd.State() != StateAccepted {
		t.Fatalf("expected ACCEPTED, got %s", cmd.State())
	}
	if preempted != nil {
		t.Fatalf("expected no preempted command, got %+v", preempted)
	}
}

func TestSubmitRejectsWhileRunning(t *testing.T) {
	r := New()
	first, _ := r.Submit(1, "START_PRINT", nil, nil, false)
	first.setState(StateRunning)

	second, preempted := r.Submit(2, "PAUSE_PRINT", nil, nil, false)
	if second.State() != StateRejected {
		t.Fatalf("expected REJECTED, got %s", second.State())
	}
	if second.RejectReason() != ReasonBusy {
		t.Fatalf("expected reject reason %q, got %q", ReasonBusy, second.RejectReason())
	}
	if preempted != nil {
		t.Fatalf("expected no preempted command on a plain busy rejection, got %+v", preempted)
	}
}

func TestSubmitForceAloneDoesNotPreempt(t *testing.T) {
	r := New()
	first, _ := r.Submit(1, "START_PRINT", nil, nil, false)
	first.setState(StateRunning)

	second, preempted := r.Submit(2, "STOP_PRINT", nil, nil, true)
	if second.State() != StateRejected {
		t.Fatalf("expected force-but-not-priority command to be rejected, got %s", second.State())
	}
	if preempted != nil {
		t.Fatalf("expected no preemption from force alone, got %+v", preempted)
	}
	if first.State() != StateRunning {
		t.Fatalf("expected the running command to be untouched, got %s", first.State())
	}
}

func TestSubmitPriorityKindPreempts(t *testing.T) {
	r := New()
	first, _ := r.Submit(1, "START_PRINT", nil, nil, false)
	first.setState(StateRunning)

	second, preempted := r.Submit(2, "RESET_PRINTER", nil, nil, false)
	if second.State() != StateAccepted {
		t.Fatalf("expected priority command to be accepted, got %s", second.State())
	}
	if r.Current().ID != 2 {
		t.Fatalf("expected current to be the priority command, got id %d", r.Current().ID)
	}
	if preempted == nil || preempted.ID != 1 {
		t.Fatalf("expected command 1 to be returned as preempted, got %+v", preempted)
	}
	if preempted.State() != StateRejected || preempted.RejectReason() != ReasonPreempted {
		t.Fatalf("expected preempted command REJECTED with reason %q, got %s/%q",
			ReasonPreempted, preempted.State(), preempted.RejectReason())
	}
}

func TestDispatchRunsHandler(t *testing.T) {
	r := New()
	var ran bool
	r.Register("START_PRINT", func(ctx context.Context, cmd *Command) error {
		ran = true
		return nil
	})

	cmd, _ := r.Submit(1, "START_PRINT", nil, nil, false)
	if err := r.Dispatch(context.Background(), cmd); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ran {
		t.Fatal("expected handler to run")
	}
	if cmd.State() != StateFinished {
		t.Fatalf("expected FINISHED, got %s", cmd.State())
	}
}

func TestDispatchHandlerFailure(t *testing.T) {
	r := New()
	wantErr := errors.New("boom")
	r.Register("START_PRINT", func(ctx context.Context, cmd *Command) error {
		return wantErr
	})

	cmd, _ := r.Submit(1, "START_PRINT", nil, nil, false)
	err := r.Dispatch(context.Background(), cmd)
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected wantErr, got %v", err)
	}
	if cmd.State() != StateFailed {
		t.Fatalf("expected FAILED, got %s", cmd.State())
	}
	if !errors.Is(cmd.Err(), wantErr) {
		t.Fatalf("expected cmd.Err() to be wantErr, got %v", cmd.Err())
	}
}

func TestDispatchDoesNotClobberPreemptedState(t *testing.T) {
	r := New()
	started := make(chan struct{})
	release := make(chan struct{})
	r.Register("START_PRINT", func(ctx context.Context, cmd *Command) error {
		close(started)
		<-release
		return nil
	})

	cmd, _ := r.Submit(1, "START_PRINT", nil, nil, false)
	done := make(chan error, 1)
	go func() { done <- r.Dispatch(context.Background(), cmd) }()
	<-started

	_, preempted := r.Submit(2, "RESET_PRINTER", nil, nil, false)
	if preempted == nil || preempted.ID != 1 {
		t.Fatalf("expected command 1 to be preempted, got %+v", preempted)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cmd.State() != StateRejected || cmd.RejectReason() != ReasonPreempted {
		t.Fatalf("expected command to stay REJECTED/preempted after its handler returned, got %s/%q",
			cmd.State(), cmd.RejectReason())
	}
}

func TestDispatchUnknownKind(t *testing.T) {
	r := New()
	cmd, _ := r.Submit(1, "MYSTERY", nil, nil, false)
	err := r.Dispatch(context.Background(), cmd)
	var unknown *UnknownKindError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownKindError, got %v", err)
	}
}

func TestClearAllowsResubmission(t *testing.T) {
	r := New()
	first, _ := r.Submit(1, "START_PRINT", nil, nil, false)
	first.setState(StateRunning)
	r.Clear(1)

	second, _ := r.Submit(2, "PAUSE_PRINT", nil, nil, false)
	if second.State() != StateAccepted {
		t.Fatalf("expected ACCEPTED after Clear, got %s", second.State())
	}
}
