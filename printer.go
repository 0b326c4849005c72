// Package connectsdk implements a printer-side SDK for Prusa Connect:
// registration, the cooperative telemetry/event/command loop, a
// virtual filesystem over mounted storages, and file transfers.
package connectsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prusa3d/connect-sdk-go/internal/command"
	"github.com/prusa3d/connect-sdk-go/internal/commloop"
	"github.com/prusa3d/connect-sdk-go/internal/constants"
	"github.com/prusa3d/connect-sdk-go/internal/eventqueue"
	"github.com/prusa3d/connect-sdk-go/internal/interfaces"
	"github.com/prusa3d/connect-sdk-go/internal/logging"
	"github.com/prusa3d/connect-sdk-go/internal/registration"
	"github.com/prusa3d/connect-sdk-go/internal/transfer"
	"github.com/prusa3d/connect-sdk-go/internal/vfs"
	"github.com/prusa3d/connect-sdk-go/internal/wire"
)

// StateFunc returns the printer's current coarse telemetry state
// (e.g. "IDLE", "PRINTING") and any printer-type-specific extra
// fields folded into the telemetry body.
type StateFunc func() (state string, extra map[string]any)

// Config configures a Printer. Only Fingerprint, PrinterType and
// BaseURL are required; everything else has a sensible default, same
// DefaultParams-fills-the-rest-in shape as the teacher's device
// parameters.
type Config struct {
	BaseURL     string
	Fingerprint string
	PrinterType string
	PrinterVer  string
	SDKVersion  string

	// HTTPClient is used for every request if set; a default
	// *http.Client with RequestTimeout is used otherwise. Ignored if
	// Transport is set.
	HTTPClient *http.Client

	// Transport overrides the HTTP transport entirely, e.g. with a test
	// double; takes precedence over HTTPClient.
	Transport interfaces.HttpTransport

	EventQueueCapacity     int
	ThrottleBytesPerSecond int
	MetadataCacheCapacity  int
	MetadataExtractor      interfaces.MetadataExtractor
	Watcher                interfaces.FilesystemWatcher

	Logger   *logging.Logger
	Observer interfaces.Observer
}

// DefaultConfig returns a Config with every optional field filled in,
// same shape as the teacher's DefaultParams.
func DefaultConfig(baseURL, fingerprint, printerType string) Config {
	return Config{
		BaseURL:                baseURL,
		Fingerprint:            fingerprint,
		PrinterType:            printerType,
		PrinterVer:             "1.0.0",
		SDKVersion:             "0.1.0",
		EventQueueCapacity:     constants.DefaultEventQueueCapacity,
		ThrottleBytesPerSecond: 0,
		MetadataCacheCapacity:  256,
	}
}

// Printer is the SDK's main entry point: one registered (or
// registering) printer's conversation with Connect, its command
// dispatch, its mounted storages, and its in-flight transfers.
type Printer struct {
	cfg      Config
	logger   *logging.Logger
	metrics  *Metrics
	observer interfaces.Observer

	commands     *command.Registry
	events       *eventqueue.Queue
	registration *registration.Machine
	loop         *commloop.Loop
	filesystem   *vfs.Tree
	transfers    *transfer.Manager
	conditions   *ConditionTree

	stateFunc StateFunc
}

// New creates a Printer from cfg. It does not contact Connect; call
// Run to start the communication loop and Register/WaitForToken to
// pair.
func New(cfg Config) (*Printer, error) {
	if cfg.BaseURL == "" || cfg.Fingerprint == "" || cfg.PrinterType == "" {
		return nil, NewError("New", CodeFilesystemInvalid, "BaseURL, Fingerprint and PrinterType are required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}

	metrics := NewMetrics()
	observer := cfg.Observer
	if observer == nil {
		observer = NewMetricsObserver(metrics)
	}

	transport := cfg.Transport
	if transport == nil {
		httpClient := cfg.HTTPClient
		if httpClient == nil {
			httpClient = &http.Client{Timeout: constants.RequestTimeout}
		}
		transport = &httpTransport{client: httpClient}
	}

	events := eventqueue.New(cfg.EventQueueCapacity)
	commands := command.New()

	var cache *vfs.MetadataCache
	if cfg.MetadataExtractor != nil {
		var err error
		cache, err = vfs.NewMetadataCache(cfg.MetadataCacheCapacity, cfg.MetadataExtractor)
		if err != nil {
			return nil, WrapError("New", CodeMetadataExtractFailed, err)
		}
	}
	filesystem := vfs.New(cache, cfg.Watcher)

	transfers := transfer.NewManager(cfg.ThrottleBytesPerSecond, events, observer, logger)

	regTransport := &registrationHTTP{transport: transport, baseURL: cfg.BaseURL}
	regMachine := registration.New(regTransport, cfg.Fingerprint, cfg.PrinterType)

	p := &Printer{
		cfg:          cfg,
		logger:       logger,
		metrics:      metrics,
		observer:     observer,
		commands:     commands,
		events:       events,
		registration: regMachine,
		filesystem:   filesystem,
		transfers:    transfers,
		conditions:   NewConditionTree(),
		stateFunc:    func() (string, map[string]any) { return "IDLE", nil },
	}
	p.conditions.OnChange = p.onConditionChange

	p.loop = commloop.New(commloop.Config{
		Transport:   transport,
		BaseURL:     cfg.BaseURL,
		Fingerprint: cfg.Fingerprint,
		PrinterType: cfg.PrinterType,
		PrinterVer:  cfg.PrinterVer,
		SDKVersion:  cfg.SDKVersion,
		TokenFunc:   regMachine.Token,
		Events:      events,
		Commands:    commands,
		State:       stateProviderFunc(p.stateProvider),
		Logger:      logger,
		Observer:    observer,
	})

	return p, nil
}

// stateProviderFunc adapts a method value to commloop.StateProvider.
type stateProviderFunc func() (string, map[string]any)

func (f stateProviderFunc) TelemetryState() (string, map[string]any) { return f() }

func (p *Printer) stateProvider() (string, map[string]any) { return p.stateFunc() }

// Conditions returns the printer's condition tree (spec §4.6), for
// declaring and updating named health flags such as "INTERNET" or
// "INTERNET.HTTP".
func (p *Printer) Conditions() *ConditionTree { return p.conditions }

// onConditionChange adapts ConditionTree.OnChange into the event
// pipeline: one CONDITION_CHANGED event per coalesced change.
func (p *Printer) onConditionChange(name string, ok bool, reason string) {
	p.PushEvent("CONDITION_CHANGED", false, map[string]any{
		"name":   name,
		"ok":     ok,
		"reason": reason,
	})
}

// SetStateFunc overrides the state reported on each telemetry
// heartbeat; the default reports "IDLE" with no extra fields.
func (p *Printer) SetStateFunc(f StateFunc) { p.stateFunc = f }

// RegisterHandler binds a Handler to a command kind (spec §3 Command).
// Bound handlers only run once something calls Command; Run's loop
// goroutine never dispatches them itself.
func (p *Printer) RegisterHandler(kind string, h command.Handler) {
	p.commands.Register(kind, h)
}

// Mount registers a storage root by name (spec §3 Storage).
func (p *Printer) Mount(name string, backend interfaces.StorageBackend) error {
	return p.filesystem.Mount(name, backend)
}

// Filesystem returns the virtual filesystem tree for direct
// Get/List/CreateFolder/Delete access (spec §3, §4.3).
func (p *Printer) Filesystem() *vfs.Tree { return p.filesystem }

// Transfers returns the transfer manager for direct upload/download
// access (spec §4.4).
func (p *Printer) Transfers() *transfer.Manager { return p.transfers }

// Metrics returns the printer's metrics instance.
func (p *Printer) Metrics() *Metrics { return p.metrics }

// MetricsSnapshot returns a point-in-time metrics snapshot.
func (p *Printer) MetricsSnapshot() MetricsSnapshot { return p.metrics.Snapshot() }

// RegistrationState returns the printer's current pairing state (spec
// §4.2).
func (p *Printer) RegistrationState() registration.State { return p.registration.State() }

// Register requests a new pairing code from Connect (spec §4.2). The
// returned code should be surfaced to the operator; WaitForToken
// polls until it is confirmed.
func (p *Printer) Register(ctx context.Context) (string, error) {
	return p.registration.Begin(ctx)
}

// WaitForToken blocks until registration completes or ctx is
// cancelled (spec §4.2).
func (p *Printer) WaitForToken(ctx context.Context) (string, error) {
	return p.registration.WaitForToken(ctx)
}

// PushEvent enqueues an event for the next loop iteration (spec §3
// Event, §4.5). Priority events (FAILED, REJECTED-on-priority-command)
// jump ahead of ordinary TRANSFER_INFO/FILE_CHANGED traffic.
func (p *Printer) PushEvent(kind string, priority bool, data map[string]any) {
	p.pushEvent(kind, priority, "", data)
}

func (p *Printer) pushEvent(kind string, priority bool, reason string, data map[string]any) {
	body := wire.EventBody{
		Event:     kind,
		Source:    p.cfg.PrinterType,
		Timestamp: time.Now().Unix(),
		Reason:    reason,
		Data:      data,
	}
	if cur := p.commands.Current(); cur != nil {
		id := cur.ID
		body.CommandID = &id
	}
	droppedBefore := p.events.Dropped()
	p.events.Push(eventqueue.Event{Kind: kind, Priority: priority, Timestamp: time.Now(), Payload: body})
	if p.observer != nil {
		p.observer.ObserveEventEnqueued(kind)
		if p.events.Dropped() > droppedBefore {
			p.observer.ObserveEventDropped(kind)
		}
	}
}

// Command runs the currently ACCEPTED command's handler to completion
// and pushes its terminal event (spec §4.2: "Handlers must be invoked
// on the user thread via command(); the loop never calls them"). It is
// meant to be called repeatedly from a goroutine the embedder owns, not
// from Run's loop goroutine. Returns false if there was no ACCEPTED
// command waiting to run.
func (p *Printer) Command(ctx context.Context) (bool, error) {
	cmd := p.commands.Current()
	if cmd == nil || cmd.State() != command.StateAccepted {
		return false, nil
	}

	err := p.commands.Dispatch(ctx, cmd)
	switch cmd.State() {
	case command.StateFinished:
		p.PushEvent("FINISHED", false, nil)
	case command.StateFailed:
		p.pushEvent("FAILED", true, cmd.Err().Error(), nil)
	}
	return true, err
}

// Run starts the communication loop and blocks until ctx is cancelled
// or StopLoop is called, same blocking contract as the teacher's
// CreateAndServe/StopAndDelete pairing except collapsed into a single
// call since there is no kernel device to create up front.
func (p *Printer) Run(ctx context.Context) error {
	p.logger.Infof("printer: starting communication loop for %s", p.cfg.Fingerprint)
	err := p.loop.Run(ctx)
	p.metrics.Stop()
	return err
}

// StopLoop signals Run to exit after its current iteration and waits
// for it to do so, within ShutdownFlushTimeout (spec §5, Cancellation).
func (p *Printer) StopLoop() {
	done := make(chan struct{})
	go func() {
		p.loop.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(constants.ShutdownFlushTimeout):
		p.logger.Warnf("printer: StopLoop timed out after %s", constants.ShutdownFlushTimeout)
	}
}

// httpTransport adapts *http.Client to interfaces.HttpTransport.
type httpTransport struct {
	client *http.Client
}

func (t *httpTransport) Do(req *http.Request) (*http.Response, error) {
	return t.client.Do(req)
}

// registrationHTTP adapts interfaces.HttpTransport to
// registration.Transport, issuing the two /p/register requests spec
// §4.2 describes (initial POST for a code, subsequent GETs to poll).
type registrationHTTP struct {
	transport interfaces.HttpTransport
	baseURL   string
}

func (r *registrationHTTP) Register(ctx context.Context, fingerprint, printerType string) (string, error) {
	payload, err := json.Marshal(map[string]string{
		"fingerprint": fingerprint,
		"printer_type": printerType,
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+wire.PathRegister, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.transport.Do(req)
	if err != nil {
		return "", fmt.Errorf("registration: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("registration: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	var out wire.RegisterResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", err
	}
	return out.Code, nil
}

func (r *registrationHTTP) PollToken(ctx context.Context, code string) (string, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+wire.PathRegister+"?code="+code, nil)
	if err != nil {
		return "", false, err
	}

	resp, err := r.transport.Do(req)
	if err != nil {
		return "", false, fmt.Errorf("registration: poll request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusAccepted {
		return "", false, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", false, fmt.Errorf("registration: unexpected poll status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", false, err
	}
	var out wire.TokenResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", false, err
	}
	if out.Token == "" {
		return "", false, nil
	}
	return out.Token, true, nil
}
