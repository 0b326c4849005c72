// Package command implements the command lifecycle state machine (spec
// §3 Command, §4.2): a command arrives embedded in a telemetry
// response, is accepted or rejected against the currently running
// command, and then transitions NEW -> ACCEPTED -> RUNNING ->
// FINISHED/FAILED while its handler runs on the caller's own
// goroutine, never on the communication loop.
//
// The state-machine shape (explicit State type, mutex-guarded
// transition methods, a State() accessor safe to call from any
// goroutine) is grounded on the root package's Device/DeviceState
// pattern; CommandRegistry's accept/reject-against-current logic has
// no teacher analogue and is new for this domain.
package command

import (
	"context"
	"sync"
	"time"

	"github.com/prusa3d/connect-sdk-go/internal/constants"
)

// State is a command's position in its lifecycle.
type State string

const (
	StateNew      State = "NEW"
	StateAccepted State = "ACCEPTED"
	StateRejected State = "REJECTED"
	StateRunning  State = "RUNNING"
	StateFinished State = "FINISHED"
	StateFailed   State = "FAILED"
)

// Reject reasons reported on a REJECTED command (spec §3, §4.1 step 4).
const (
	ReasonBusy      = "busy"
	ReasonPreempted = "preempted"
)

// Handler executes a command's domain logic. It runs on the goroutine
// that calls Registry.Dispatch, never on the communication loop
// goroutine, so it may block for as long as the operation requires.
type Handler func(ctx context.Context, cmd *Command) error

// Command is a single inbound command instance and its lifecycle
// state.
type Command struct {
	ID        uint32
	Kind      string
	Args      []any
	Kwargs    map[string]any
	Force     bool
	CreatedAt time.Time

	mu          sync.RWMutex
	state       State
	rejectedWhy string
	failErr     error
}

// State returns the command's current lifecycle state.
func (c *Command) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// RejectReason returns why a REJECTED command was rejected, or "" if
// it was not rejected.
func (c *Command) RejectReason() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rejectedWhy
}

// Err returns the error a FAILED command failed with, or nil.
func (c *Command) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.failErr
}

func (c *Command) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// preempt transitions c to REJECTED with reason "preempted" (spec §4.2:
// priority commands bypass the busy check and the command they displace
// is rejected rather than left dangling).
func (c *Command) preempt() {
	c.mu.Lock()
	c.state = StateRejected
	c.rejectedWhy = ReasonPreempted
	c.mu.Unlock()
}

// Registry tracks the single currently-active command (spec §4.2: a
// printer runs at most one command at a time, unless preempted by a
// priority kind) and the kind-to-Handler bindings used to execute
// accepted commands.
type Registry struct {
	mu       sync.Mutex
	current  *Command
	handlers map[string]Handler
}

// New creates an empty command registry.
func New() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds a Handler to a command kind. Registering the same
// kind twice replaces the previous handler.
func (r *Registry) Register(kind string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = h
}

// Submit accepts or rejects a newly arrived command against whatever is
// currently running. A command is rejected with reason "busy" if
// another command is RUNNING or ACCEPTED, unless its kind is in
// constants.PriorityCommandKinds, in which case it preempts: the
// previously tracked command (returned as the second value, nil if
// there was none to preempt) is transitioned to REJECTED with reason
// "preempted" rather than left running. Force is independent of
// priority; it is the destructive-operation flag a handler consults for
// its own kind-specific semantics (spec §3 Command), not a preemption
// signal.
func (r *Registry) Submit(id uint32, kind string, args []any, kwargs map[string]any, force bool) (*Command, *Command) {
	cmd := &Command{
		ID:        id,
		Kind:      kind,
		Args:      args,
		Kwargs:    kwargs,
		Force:     force,
		CreatedAt: time.Now(),
		state:     StateNew,
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var preempted *Command
	if r.current != nil {
		switch r.current.State() {
		case StateRunning, StateAccepted:
			if !constants.PriorityCommandKinds[kind] {
				cmd.state = StateRejected
				cmd.rejectedWhy = ReasonBusy
				return cmd, nil
			}
			r.current.preempt()
			preempted = r.current
		}
	}

	cmd.state = StateAccepted
	r.current = cmd
	return cmd, preempted
}

// Current returns the currently tracked command, or nil if none has
// been submitted since the last Clear.
func (r *Registry) Current() *Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Clear drops the tracked current command if it matches id, so a
// subsequent Submit is not rejected by a stale reference. Safe to call
// with an id that no longer matches current; it is then a no-op.
func (r *Registry) Clear(id uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current != nil && r.current.ID == id {
		r.current = nil
	}
}

// Dispatch runs cmd's registered handler synchronously on the calling
// goroutine, transitioning ACCEPTED -> RUNNING -> FINISHED or FAILED. It
// returns an error identifying an unknown kind without changing cmd's
// state, so callers can distinguish "no handler" from "handler failed".
// If cmd was preempted (moved to REJECTED) while its handler was still
// running, Dispatch leaves that state alone instead of overwriting it
// with the handler's own outcome.
func (r *Registry) Dispatch(ctx context.Context, cmd *Command) error {
	r.mu.Lock()
	h, ok := r.handlers[cmd.Kind]
	r.mu.Unlock()
	if !ok {
		return &UnknownKindError{Kind: cmd.Kind}
	}

	cmd.setState(StateRunning)
	err := h(ctx, cmd)

	cmd.mu.Lock()
	defer cmd.mu.Unlock()
	if cmd.state != StateRunning {
		return cmd.failErr
	}
	if err != nil {
		cmd.state = StateFailed
		cmd.failErr = err
		return err
	}
	cmd.state = StateFinished
	return nil
}

// UnknownKindError indicates a command's kind has no registered
// Handler.
type UnknownKindError struct {
	Kind string
}

func (e *UnknownKindError) Error() string {
	return "command: no handler registered for kind " + e.Kind
}
