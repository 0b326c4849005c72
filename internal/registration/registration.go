// Package registration implements the printer pairing state machine
// (spec §4.2 Registration): UNREGISTERED -> CODE_ISSUED (once Connect
// has handed back a short-lived pairing code) -> AUTHENTICATED (once
// the operator confirms the code in the Connect UI and the SDK
// retrieves a permanent token).
//
// The State type and mutex-guarded transition methods follow the same
// shape as internal/command's Command state machine, itself grounded
// on the root package's Device/DeviceState pattern. The poll loop is
// new for this domain, grounded on constants.RegistrationPollInterval
// and cenkalti/backoff/v4 for its own retry-on-transport-error
// behavior rather than inventing a second backoff implementation.
package registration

import (
	"context"
	"sync"

	"github.com/cenkalti/backoff/v4"

	"github.com/prusa3d/connect-sdk-go/internal/constants"
)

// State is the printer's position in the registration lifecycle.
type State string

const (
	StateUnregistered State = "UNREGISTERED"
	StateCodeIssued   State = "CODE_ISSUED"
	StateAuthenticated State = "AUTHENTICATED"
)

// Transport is the minimal HTTP surface registration needs; satisfied
// by an adapter over interfaces.HttpTransport plus URL/serialization
// concerns the caller already owns.
type Transport interface {
	// Register requests a pairing code for the given fingerprint and
	// printer type, returning the short code shown to the operator.
	Register(ctx context.Context, fingerprint, printerType string) (code string, err error)
	// PollToken checks whether the operator has confirmed code yet. ok
	// is false (with a nil error) if confirmation is still pending.
	PollToken(ctx context.Context, code string) (token string, ok bool, err error)
}

// Machine drives the registration state machine for a single printer.
// The permanent token, once set, is never overwritten (spec §4.2:
// "the token is set exactly once"): Reset is required to register
// again, e.g. after the operator explicitly un-pairs the printer.
type Machine struct {
	transport   Transport
	fingerprint string
	printerType string

	mu    sync.RWMutex
	state State
	code  string
	token string
}

// New creates a registration state machine in the UNREGISTERED state.
func New(transport Transport, fingerprint, printerType string) *Machine {
	return &Machine{
		transport:   transport,
		fingerprint: fingerprint,
		printerType: printerType,
		state:       StateUnregistered,
	}
}

// State returns the machine's current lifecycle state.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Token returns the permanent token, or "" if not yet AUTHENTICATED.
func (m *Machine) Token() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.token
}

// Code returns the pairing code shown to the operator, valid only
// while State is CODE_ISSUED.
func (m *Machine) Code() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.code
}

// ErrAlreadyAuthenticated is returned by Begin when the token has
// already been set exactly once; call Reset first to intentionally
// re-pair.
type ErrAlreadyAuthenticated struct{}

func (ErrAlreadyAuthenticated) Error() string {
	return "registration: printer token already set; call Reset to re-pair"
}

// Begin requests a new pairing code from Connect and transitions to
// CODE_ISSUED.
func (m *Machine) Begin(ctx context.Context) (string, error) {
	m.mu.Lock()
	if m.state == StateAuthenticated {
		m.mu.Unlock()
		return "", ErrAlreadyAuthenticated{}
	}
	m.mu.Unlock()

	code, err := m.transport.Register(ctx, m.fingerprint, m.printerType)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	m.state = StateCodeIssued
	m.code = code
	m.mu.Unlock()
	return code, nil
}

// PollOnce issues a single poll for the permanent token. It returns
// true once AUTHENTICATED is reached; callers loop it on their own
// schedule (constants.RegistrationPollInterval) rather than Poll
// blocking internally, so the caller's context governs cancellation
// alongside every other loop iteration.
func (m *Machine) PollOnce(ctx context.Context) (bool, error) {
	m.mu.RLock()
	state, code := m.state, m.code
	m.mu.RUnlock()

	if state != StateCodeIssued {
		return state == StateAuthenticated, nil
	}

	token, ok, err := m.transport.PollToken(ctx, code)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	m.mu.Lock()
	if m.state != StateAuthenticated {
		m.state = StateAuthenticated
		m.token = token
	}
	m.mu.Unlock()
	return true, nil
}

// Reset returns the machine to UNREGISTERED, discarding any pairing
// code or token. Used when the operator explicitly un-pairs a printer.
func (m *Machine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = StateUnregistered
	m.code = ""
	m.token = ""
}

// WaitForToken repeatedly calls PollOnce with the standard
// registration backoff (cenkalti/backoff/v4, capped at
// constants.RegistrationPollInterval as the steady-state interval)
// until AUTHENTICATED is reached or ctx is cancelled.
func (m *Machine) WaitForToken(ctx context.Context) (string, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = constants.RegistrationPollInterval
	bo.MaxInterval = constants.RegistrationPollInterval
	bo.MaxElapsedTime = 0 // unbounded: pairing may sit pending for a long time
	bo.RandomizationFactor = 0

	op := func() error {
		done, err := m.PollOnce(ctx)
		if err != nil {
			return backoff.Permanent(err)
		}
		if !done {
			return errPending
		}
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil && err != errPending {
		return "", err
	}
	return m.Token(), nil
}

var errPending = pendingError{}

type pendingError struct{}

func (pendingError) Error() string { return "registration: pairing not yet confirmed" }
