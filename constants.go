package connectsdk

import "github.com/prusa3d/connect-sdk-go/internal/constants"

// Re-exported constants for the public API, same flat re-export shape
// as the teacher's own constants.go.
const (
	RequestTimeout              = constants.RequestTimeout
	RetryBackoffInitial         = constants.RetryBackoffInitial
	RetryBackoffMax             = constants.RetryBackoffMax
	NoTokenIdleInterval         = constants.NoTokenIdleInterval
	TelemetryMinInterval        = constants.TelemetryMinInterval
	RegistrationPollInterval    = constants.RegistrationPollInterval
	DefaultEventQueueCapacity   = constants.DefaultEventQueueCapacity
	InactivityTimeout           = constants.InactivityTimeout
	TransferProgressMinInterval = constants.TransferProgressMinInterval
	DefaultChunkSize            = constants.DefaultChunkSize
	ConditionCoalesceWindow     = constants.ConditionCoalesceWindow
	MaxNameBytes                = constants.MaxNameBytes
	ShutdownFlushTimeout        = constants.ShutdownFlushTimeout
)

// ForbiddenNameChars lists the bytes that may never appear in a node
// name.
const ForbiddenNameChars = constants.ForbiddenNameChars

// GcodeExtensions is the set of file extensions recognised as g-code.
var GcodeExtensions = constants.GcodeExtensions
