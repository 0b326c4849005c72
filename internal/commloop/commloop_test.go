package commloop

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prusa3d/connect-sdk-go/internal/command"
	"github.com/prusa3d/connect-sdk-go/internal/eventqueue"
	"github.com/prusa3d/connect-sdk-go/internal/wire"
)

type fakeTransport struct {
	mu        sync.Mutex
	responses []*http.Response
	requests  []*http.Request
}

func (f *fakeTransport) Do(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if len(f.responses) == 0 {
		return &http.Response{StatusCode: 200, Body: io.NopCloser(strings.NewReader("{}"))}, nil
	}
	resp := f.responses[0]
	f.responses = f.responses[1:]
	return resp, nil
}

func jsonResp(status int, body any) *http.Response {
	buf, _ := json.Marshal(body)
	return &http.Response{StatusCode: status, Body: io.NopCloser(strings.NewReader(string(buf))), Header: http.Header{}}
}

type stubState struct{}

func (stubState) TelemetryState() (string, map[string]any) {
	return "IDLE", nil
}

func newTestLoop(transport *fakeTransport) *Loop {
	return New(Config{
		Transport:   transport,
		BaseURL:     "https://connect.example.com",
		Fingerprint: "fp",
		PrinterType: "test",
		PrinterVer:  "1.0",
		SDKVersion:  "1.0",
		TokenFunc:   func() string { return "tok" },
		Events:      eventqueue.New(10),
		Commands:    command.New(),
		State:       stubState{},
	})
}

func TestIterateSendsTelemetryWhenNoEvents(t *testing.T) {
	transport := &fakeTransport{}
	loop := newTestLoop(transport)

	if err := loop.iterate(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(transport.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(transport.requests))
	}
	if !strings.HasSuffix(transport.requests[0].URL.Path, "/p/telemetry") {
		t.Fatalf("expected telemetry path, got %s", transport.requests[0].URL.Path)
	}
}

func TestIterateSkipsTelemetryWithinMinInterval(t *testing.T) {
	transport := &fakeTransport{}
	loop := newTestLoop(transport)
	loop.lastTelemetry = time.Now()

	if err := loop.iterate(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(transport.requests) != 0 {
		t.Fatalf("expected no request within min interval, got %d", len(transport.requests))
	}
}

func TestHandleCommandBodyAcceptsCommand(t *testing.T) {
	resp := jsonResp(200, map[string]any{"kind": "START_PRINT"})
	resp.Header.Set("Command-Id", "42")
	transport := &fakeTransport{responses: []*http.Response{resp}}
	loop := newTestLoop(transport)

	if err := loop.postTelemetry(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cur := loop.cfg.Commands.Current()
	if cur == nil || cur.Kind != "START_PRINT" {
		t.Fatalf("expected current command START_PRINT, got %+v", cur)
	}
	if cur.ID != 42 {
		t.Fatalf("expected command id from Command-Id header, got %d", cur.ID)
	}

	ev, ok := loop.cfg.Events.Pop(0)
	if !ok {
		t.Fatal("expected an ACCEPTED event to be enqueued")
	}
	body, ok := ev.Payload.(wire.EventBody)
	if !ok || body.Event != "ACCEPTED" {
		t.Fatalf("expected ACCEPTED event payload, got %+v", ev.Payload)
	}
	if body.CommandID == nil || *body.CommandID != 42 {
		t.Fatalf("expected ACCEPTED event to carry command id 42, got %+v", body.CommandID)
	}
}

func TestHandleCommandBodyFallsBackToLocalCounterWithoutHeader(t *testing.T) {
	transport := &fakeTransport{
		responses: []*http.Response{jsonResp(200, map[string]any{"kind": "START_PRINT"})},
	}
	loop := newTestLoop(transport)

	if err := loop.postTelemetry(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cur := loop.cfg.Commands.Current()
	if cur == nil || cur.ID != 1 {
		t.Fatalf("expected fallback-counter id 1, got %+v", cur)
	}
}

func TestHandleCommandBodyEnqueuesBusyRejection(t *testing.T) {
	first := jsonResp(200, map[string]any{"kind": "START_PRINT"})
	first.Header.Set("Command-Id", "1")
	second := jsonResp(200, map[string]any{"kind": "PAUSE_PRINT"})
	second.Header.Set("Command-Id", "2")
	transport := &fakeTransport{responses: []*http.Response{first, second}}
	loop := newTestLoop(transport)

	if err := loop.postTelemetry(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	runRunning(t, loop.cfg.Commands, loop.cfg.Commands.Current())
	loop.cfg.Events.Pop(0) // drain the first command's ACCEPTED event

	if err := loop.postTelemetry(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ev, ok := loop.cfg.Events.Pop(0)
	if !ok {
		t.Fatal("expected a REJECTED event to be enqueued")
	}
	body := ev.Payload.(wire.EventBody)
	if body.Event != "REJECTED" || body.Reason != command.ReasonBusy {
		t.Fatalf("expected REJECTED/busy, got %+v", body)
	}
	if body.CommandID == nil || *body.CommandID != 2 {
		t.Fatalf("expected REJECTED event to carry the rejected command's own id, got %+v", body.CommandID)
	}
}

func TestHandleCommandBodyEnqueuesPreemptedRejection(t *testing.T) {
	first := jsonResp(200, map[string]any{"kind": "START_PRINT"})
	first.Header.Set("Command-Id", "1")
	second := jsonResp(200, map[string]any{"kind": "RESET_PRINTER"})
	second.Header.Set("Command-Id", "2")
	transport := &fakeTransport{responses: []*http.Response{first, second}}
	loop := newTestLoop(transport)

	if err := loop.postTelemetry(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	runRunning(t, loop.cfg.Commands, loop.cfg.Commands.Current())
	loop.cfg.Events.Pop(0) // drain the first command's own ACCEPTED event

	if err := loop.postTelemetry(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	preemptedEv, ok := loop.cfg.Events.Pop(0)
	if !ok {
		t.Fatal("expected a REJECTED event for the preempted command")
	}
	preemptedBody := preemptedEv.Payload.(wire.EventBody)
	if preemptedBody.Event != "REJECTED" || preemptedBody.Reason != command.ReasonPreempted {
		t.Fatalf("expected REJECTED/preempted, got %+v", preemptedBody)
	}
	if preemptedBody.CommandID == nil || *preemptedBody.CommandID != 1 {
		t.Fatalf("expected the preempted event to reference command 1, got %+v", preemptedBody.CommandID)
	}

	acceptedEv, ok := loop.cfg.Events.Pop(0)
	if !ok {
		t.Fatal("expected an ACCEPTED event for the priority command")
	}
	acceptedBody := acceptedEv.Payload.(wire.EventBody)
	if acceptedBody.Event != "ACCEPTED" || acceptedBody.CommandID == nil || *acceptedBody.CommandID != 2 {
		t.Fatalf("expected ACCEPTED for command 2, got %+v", acceptedBody)
	}
}

func TestHandleServerErrorReturnsError(t *testing.T) {
	transport := &fakeTransport{
		responses: []*http.Response{{StatusCode: 503, Body: io.NopCloser(strings.NewReader("")), Header: http.Header{}}},
	}
	loop := newTestLoop(transport)

	if err := loop.postTelemetry(context.Background()); err == nil {
		t.Fatal("expected error for 503 response")
	}
}

func TestStopUnblocksRun(t *testing.T) {
	transport := &fakeTransport{}
	loop := newTestLoop(transport)

	done := make(chan error, 1)
	go func() { done <- loop.Run(context.Background()) }()

	time.Sleep(10 * time.Millisecond)
	loop.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not exit after Stop")
	}
}

// runRunning drives cmd to RUNNING by registering a handler that blocks
// until the caller is done observing the RUNNING state, and running
// Dispatch on a separate goroutine so the test's own goroutine stays
// free to submit further commands, mirroring how Printer.Command would
// run a handler on the user's own goroutine.
func runRunning(t *testing.T, reg *command.Registry, cmd *command.Command) {
	t.Helper()
	started := make(chan struct{})
	release := make(chan struct{})
	reg.Register(cmd.Kind, func(ctx context.Context, cmd *command.Command) error {
		close(started)
		<-release
		return nil
	})
	go func() { _ = reg.Dispatch(context.Background(), cmd) }()
	<-started
	t.Cleanup(func() { close(release) })
}
