// Package constants holds the timing and sizing constants shared across
// the SDK's subsystems.
package constants

import "time"

// Communication loop timing (spec §4.1).
const (
	// RequestTimeout bounds a single telemetry/event POST.
	RequestTimeout = 10 * time.Second

	// RetryBackoffInitial is the backoff applied after the first 5xx or
	// network failure; it doubles on each consecutive failure up to
	// RetryBackoffMax.
	RetryBackoffInitial = 1 * time.Second

	// RetryBackoffMax caps the exponential backoff applied to 5xx/network
	// errors.
	RetryBackoffMax = 60 * time.Second

	// NoTokenIdleInterval is the sleep applied by the loop while no token
	// is set (step 1 of the loop algorithm).
	NoTokenIdleInterval = 5 * time.Second

	// EmptyIterationSleep is the short sleep applied when there is
	// nothing to send on a given iteration.
	EmptyIterationSleep = 250 * time.Millisecond

	// TelemetryMinInterval is the minimum time between two telemetry
	// sends; more frequent telemetry updates are coalesced into the
	// pending slot rather than sent individually.
	TelemetryMinInterval = 1 * time.Second

	// ClockSkewThreshold is the minimum wall-clock jump, relative to the
	// monotonic elapsed time since the last send, that triggers the
	// Clock-Adjusted header.
	ClockSkewThreshold = 1 * time.Second

	// RegistrationPollInterval is the minimum spacing between successive
	// GET /p/register polls performed by WaitForToken.
	RegistrationPollInterval = 2 * time.Second
)

// EventQueue sizing (spec §4.5).
const (
	// DefaultEventQueueCapacity is the default bound on the outbound
	// event FIFO.
	DefaultEventQueueCapacity = 100
)

// TransferManager timing (spec §4.4).
const (
	// InactivityTimeout is how long a transfer may go without progress
	// before it is failed with reason "read_timeout".
	InactivityTimeout = 30 * time.Second

	// ChunkInterval bounds how long a single transfer chunk may take, so
	// throttling and cancellation are observed promptly.
	ChunkInterval = 250 * time.Millisecond

	// TransferProgressMinInterval is the minimum spacing between
	// TRANSFER_INFO events for a single transfer.
	TransferProgressMinInterval = 1 * time.Second

	// DefaultChunkSize is the size of each transfer chunk buffer and the
	// burst size of the throughput limiter.
	DefaultChunkSize = 256 * 1024
)

// ConditionTree timing (spec §4.6).
const (
	// ConditionCoalesceWindow is the per-subtree window within which
	// repeated condition changes are coalesced into one emitted event.
	ConditionCoalesceWindow = 200 * time.Millisecond
)

// Filesystem constraints (spec §3 invariants).
const (
	// MaxNameBytes is the maximum length, in bytes, of a single path
	// element.
	MaxNameBytes = 255
)

// ForbiddenNameChars lists the bytes that may never appear in a node
// name, per spec §3.
const ForbiddenNameChars = "/\\:*?\"<>|\x00"

// GcodeExtensions is the set of file extensions recognised as g-code for
// emission/metadata-extraction purposes (spec §4.3).
var GcodeExtensions = map[string]bool{
	".gcode": true,
	".gc":    true,
	".g":     true,
	".gco":   true,
}

// MetadataCacheSuffix is the sidecar filename scheme for the persisted
// metadata cache (spec §6): ".<basename>.cache".
const MetadataCacheSuffix = ".cache"

// PriorityCommandKinds are command kinds that bypass the busy check and
// preempt whatever command is currently RUNNING or ACCEPTED (spec §4.2,
// §9: "the exact set of priority commands is model-dependent; spec
// declares it as a config constant").
var PriorityCommandKinds = map[string]bool{
	"RESET_PRINTER": true,
}

// ShutdownFlushTimeout bounds how long StopLoop waits for the loop to
// exit. StopLoop flushes nothing: events still in the queue at that
// point are not sent.
const ShutdownFlushTimeout = 2 * time.Second
