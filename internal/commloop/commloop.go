// Package commloop implements the cooperative, single-threaded
// communication loop (spec §4.1, §5): each iteration picks at most one
// outbound event (priority events first) or falls back to a telemetry
// heartbeat, issues exactly one HTTP request, and reacts to the
// response before the next iteration begins. No request is ever
// in-flight concurrently with another from the same Loop.
//
// The Config-struct-plus-constructor, Start-spawns-a-goroutine-and-
// waits-for-priming shape is grounded on the teacher's
// internal/queue.Runner: a Runner owns one hardware queue and drives
// it with a single-goroutine ioLoop; Loop owns one printer's HTTP
// conversation with Connect and drives it the same way. Where the
// teacher's ioLoop submits io_uring SQEs and reaps CQEs, Loop submits
// HTTP requests and reacts to status codes and headers.
package commloop

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/tidwall/gjson"

	"github.com/prusa3d/connect-sdk-go/internal/command"
	"github.com/prusa3d/connect-sdk-go/internal/constants"
	"github.com/prusa3d/connect-sdk-go/internal/eventqueue"
	"github.com/prusa3d/connect-sdk-go/internal/interfaces"
	"github.com/prusa3d/connect-sdk-go/internal/wire"
)

// StateProvider supplies the current telemetry snapshot on demand; the
// loop calls it once per telemetry POST rather than caching state
// itself, since state generally changes between iterations.
type StateProvider interface {
	// TelemetryState returns the current coarse state string (e.g.
	// "IDLE", "PRINTING") and any printer-type-specific extra fields.
	TelemetryState() (state string, extra map[string]any)
}

// Config configures a Loop.
type Config struct {
	Transport   interfaces.HttpTransport
	BaseURL     string
	Fingerprint string
	PrinterType string
	PrinterVer  string
	SDKVersion  string

	// TokenFunc returns the current permanent token, or "" if not yet
	// registered; the loop idles (constants.NoTokenIdleInterval)
	// rather than issuing requests while it is empty.
	TokenFunc func() string

	Events   *eventqueue.Queue
	Commands *command.Registry
	State    StateProvider
	Clock    interfaces.Clock
	Logger   interfaces.Logger
	Observer interfaces.Observer
}

// Loop drives one printer's conversation with Connect. Exactly one
// goroutine (the one that calls Run) ever touches the HTTP transport for this
// Loop; commands dispatched as a result of a response run on the
// caller-supplied command.Registry, never here.
type Loop struct {
	cfg Config

	// nextCommandID is a fallback counter used only when a response
	// carrying a command body omits the Command-Id header or carries one
	// that does not parse as a number; the normal
	// path always uses the service-issued id (spec §3, §6).
	nextCommandID uint32
	lastTelemetry time.Time
	stopCh        chan struct{}
	doneCh        chan struct{}
}

// New creates a Loop from cfg. Zero-value Clock/Logger/Observer fields
// are replaced with no-op implementations by the caller's wiring code
// (root package), not here, so this package stays free of knowledge
// about those concrete no-op types.
func New(cfg Config) *Loop {
	return &Loop{
		cfg:    cfg,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Run executes the loop until ctx is cancelled or Stop is called. It
// blocks until the loop has fully exited, same contract as the
// teacher's Runner.Start()'s prime-then-background-loop split, except
// Run itself both primes and then blocks rather than returning after
// priming.
func (l *Loop) Run(ctx context.Context) error {
	defer close(l.doneCh)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = constants.RetryBackoffInitial
	bo.MaxInterval = constants.RetryBackoffMax
	bo.MaxElapsedTime = 0
	bo.Multiplier = 2
	bo.RandomizationFactor = 0

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.stopCh:
			return nil
		default:
		}

		if l.cfg.TokenFunc() == "" {
			if !sleepOrDone(ctx, l.stopCh, constants.NoTokenIdleInterval) {
				return ctx.Err()
			}
			continue
		}

		if err := l.iterate(ctx); err != nil {
			d := bo.NextBackOff()
			if l.cfg.Logger != nil {
				l.cfg.Logger.Warnf("commloop: iteration failed, backing off %s: %v", d, err)
			}
			if !sleepOrDone(ctx, l.stopCh, d) {
				return ctx.Err()
			}
			continue
		}
		bo.Reset()
	}
}

// Stop signals Run to exit after its current iteration and waits for
// it to do so.
func (l *Loop) Stop() {
	close(l.stopCh)
	<-l.doneCh
}

// iterate performs exactly one request/response exchange: pop at most
// one event (priority first, via eventqueue.Queue's own ordering) and
// POST it, or fall back to a telemetry heartbeat if none is due.
func (l *Loop) iterate(ctx context.Context) error {
	if ev, ok := l.cfg.Events.Pop(constants.EmptyIterationSleep); ok {
		return l.postEvent(ctx, ev)
	}

	if time.Since(l.lastTelemetry) < constants.TelemetryMinInterval {
		return nil
	}
	return l.postTelemetry(ctx)
}

func (l *Loop) postTelemetry(ctx context.Context) error {
	state, extra := l.cfg.State.TelemetryState()
	body := wire.TelemetryBody{State: state, Extra: extra}
	if cur := l.cfg.Commands.Current(); cur != nil {
		id := cur.ID
		body.CommandID = &id
	}

	req, err := l.newRequest(ctx, http.MethodPost, wire.PathTelemetry, body)
	if err != nil {
		return err
	}

	resp, err := l.cfg.Transport.Do(req)
	if err != nil {
		return fmt.Errorf("commloop: telemetry request: %w", err)
	}
	defer resp.Body.Close()

	l.lastTelemetry = time.Now()
	return l.handleResponse(resp)
}

func (l *Loop) postEvent(ctx context.Context, ev eventqueue.Event) error {
	eb, ok := ev.Payload.(wire.EventBody)
	if !ok {
		// Not a wire-shaped payload; drop it rather than fail the whole
		// iteration over a caller bug in how it pushed the event.
		if l.cfg.Logger != nil {
			l.cfg.Logger.Warnf("commloop: dropping event %q with non-wire payload", ev.Kind)
		}
		return nil
	}

	req, err := l.newRequest(ctx, http.MethodPost, wire.PathEvents, eb)
	if err != nil {
		return err
	}

	resp, err := l.cfg.Transport.Do(req)
	if err != nil {
		return fmt.Errorf("commloop: event request: %w", err)
	}
	defer resp.Body.Close()

	return l.handleResponse(resp)
}

// newRequest builds an HTTP request with the standard Connect headers
// (spec §4.1 step 3, §6), including Clock-Adjusted when the loop's
// Clock reports wall time drifting from monotonic by more than
// constants.ClockSkewThreshold.
func (l *Loop) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	buf, err := marshalBody(body)
	if err != nil {
		return nil, fmt.Errorf("commloop: marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, l.cfg.BaseURL+path, buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(wire.HeaderToken, l.cfg.TokenFunc())
	req.Header.Set(wire.HeaderFingerprint, l.cfg.Fingerprint)
	req.Header.Set(wire.HeaderPrinterType, l.cfg.PrinterType)
	req.Header.Set(wire.HeaderPrinterVer, l.cfg.PrinterVer)
	req.Header.Set(wire.HeaderSDKVersion, l.cfg.SDKVersion)

	if l.clockSkewed() {
		req.Header.Set(wire.HeaderClockAdjusted, "1")
	}
	return req, nil
}

func (l *Loop) clockSkewed() bool {
	if l.cfg.Clock == nil {
		return false
	}
	wallElapsed := time.Since(time.Unix(0, 0))
	return wallElapsed-l.cfg.Clock.Monotonic() > constants.ClockSkewThreshold ||
		l.cfg.Clock.Monotonic()-wallElapsed > constants.ClockSkewThreshold
}

// handleResponse reacts to a 2xx/4xx/5xx response (spec §4.1 step 4):
// 2xx may carry a new command, 4xx carries a rejection reason for the
// currently tracked command, 5xx is treated as a transient failure and
// surfaces as an error so the caller's backoff applies. Retry-After,
// when present, overrides the telemetry cadence for the next
// iteration by pushing lastTelemetry forward.
func (l *Loop) handleResponse(resp *http.Response) error {
	if ra := resp.Header.Get(wire.HeaderRetryAfter); ra != "" {
		if secs, err := time.ParseDuration(ra + "s"); err == nil {
			l.lastTelemetry = time.Now().Add(secs).Add(-constants.TelemetryMinInterval)
		}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return l.handleCommandBody(resp)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return l.handleRejection(resp)
	default:
		return fmt.Errorf("commloop: server error, status %d", resp.StatusCode)
	}
}

func (l *Loop) handleCommandBody(resp *http.Response) error {
	raw, err := readBody(resp)
	if err != nil || len(raw) == 0 {
		return nil
	}

	kind := gjson.GetBytes(raw, "kind")
	if !kind.Exists() {
		return nil
	}

	id := l.commandID(resp)
	force := gjson.GetBytes(raw, "force").Bool()
	var kwargs map[string]any
	if kw := gjson.GetBytes(raw, "kwargs"); kw.IsObject() {
		kwargs = kw.Value().(map[string]any)
	}
	var args []any
	if a := gjson.GetBytes(raw, "args"); a.IsArray() {
		if v, ok := a.Value().([]any); ok {
			args = v
		}
	}

	cmd, preempted := l.cfg.Commands.Submit(id, kind.String(), args, kwargs, force)
	if preempted != nil {
		l.pushCommandEvent(preempted, "REJECTED", preempted.RejectReason(), true)
	}

	switch cmd.State() {
	case command.StateRejected:
		if l.cfg.Observer != nil {
			l.cfg.Observer.ObserveCommandRejected(kind.String(), cmd.RejectReason())
		}
		l.pushCommandEvent(cmd, "REJECTED", cmd.RejectReason(), true)
	case command.StateAccepted:
		if l.cfg.Observer != nil {
			l.cfg.Observer.ObserveCommandDispatched(kind.String())
		}
		l.pushCommandEvent(cmd, "ACCEPTED", "", false)
	}
	return nil
}

// commandID resolves the id for a freshly parsed command from the
// Command-Id response header (spec §3, §4.1 step 4, §6), so the id
// echoed back on subsequent telemetry/events matches what the server
// assigned. Falls back to a local counter only if the header is
// missing or malformed, so a misbehaving response never blocks command
// dispatch entirely.
func (l *Loop) commandID(resp *http.Response) uint32 {
	if raw := resp.Header.Get(wire.HeaderCommandID); raw != "" {
		if id, err := strconv.ParseUint(raw, 10, 32); err == nil {
			return uint32(id)
		}
		if l.cfg.Logger != nil {
			l.cfg.Logger.Warnf("commloop: malformed %s header %q", wire.HeaderCommandID, raw)
		}
	}
	l.nextCommandID++
	return l.nextCommandID
}

// pushCommandEvent enqueues a command lifecycle event (ACCEPTED or
// REJECTED) straight from the loop goroutine, the one place besides
// Printer.Command that originates a command-related event (spec §4.2:
// "ACCEPTED event is emitted immediately upon parsing").
func (l *Loop) pushCommandEvent(cmd *command.Command, kind, reason string, priority bool) {
	id := cmd.ID
	body := wire.EventBody{
		Event:     kind,
		Source:    l.cfg.PrinterType,
		Timestamp: time.Now().Unix(),
		CommandID: &id,
		Reason:    reason,
	}
	l.cfg.Events.Push(eventqueue.Event{Kind: kind, Priority: priority, Timestamp: time.Now(), Payload: body})
	if l.cfg.Observer != nil {
		l.cfg.Observer.ObserveEventEnqueued(kind)
	}
}

func (l *Loop) handleRejection(resp *http.Response) error {
	raw, err := readBody(resp)
	if err != nil {
		return nil
	}
	msg := gjson.GetBytes(raw, "message").String()
	if cmdID := gjson.GetBytes(raw, "command_id"); cmdID.Exists() {
		if cur := l.cfg.Commands.Current(); cur != nil && cur.ID == uint32(cmdID.Uint()) {
			l.cfg.Commands.Clear(cur.ID)
		}
	}
	if l.cfg.Logger != nil {
		l.cfg.Logger.Warnf("commloop: request rejected: %s", msg)
	}
	return nil
}

func sleepOrDone(ctx context.Context, stop <-chan struct{}, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	case <-stop:
		return false
	}
}
