// Package wire defines the HTTP wire format exchanged with Connect
// (spec §6): request headers, response headers, and the JSON envelopes
// for telemetry, events and registration.
package wire

import (
	"encoding/json"

	"github.com/tidwall/sjson"
)

// Request header names (spec §4.1 step 3, §6).
const (
	HeaderToken         = "Token"
	HeaderFingerprint   = "Fingerprint"
	HeaderPrinterType   = "Printer-Type"
	HeaderPrinterVer    = "Printer-Version"
	HeaderSDKVersion    = "SDK-Version"
	HeaderClockAdjusted = "Clock-Adjusted"
)

// Response header names recognised from Connect (spec §6).
const (
	HeaderCommandID   = "Command-Id"
	HeaderCode        = "Code"
	HeaderRetryAfter  = "Retry-After"
	HeaderPrinterTok  = "Printer-Token"
)

// Paths (spec §6).
const (
	PathTelemetry = "/p/telemetry"
	PathEvents    = "/p/events"
	PathRegister  = "/p/register"
)

// TelemetryBody is the JSON body of POST /p/telemetry. Fields beyond
// State and CommandID are carried in Extra, since the field set is
// open-ended per printer type (spec §3 Telemetry).
type TelemetryBody struct {
	State     string         `json:"state"`
	CommandID *uint32        `json:"command_id,omitempty"`
	Extra     map[string]any `json:"-"`
}

// MarshalJSON flattens Extra alongside the named fields, so the wire
// body is a single flat JSON object rather than a nested "extra" key.
// Extra's open-ended per-printer-type keys are merged in with sjson
// rather than built up as a map, since a typed struct can't express a
// field set that varies by printer type (spec §3 Telemetry).
func (t TelemetryBody) MarshalJSON() ([]byte, error) {
	buf, err := json.Marshal(struct {
		State     string  `json:"state"`
		CommandID *uint32 `json:"command_id,omitempty"`
	}{State: t.State, CommandID: t.CommandID})
	if err != nil {
		return nil, err
	}

	for k, v := range t.Extra {
		buf, err = sjson.SetBytes(buf, k, v)
		if err != nil {
			return nil, err
		}
	}
	return buf, nil
}

// UnmarshalJSON recovers State/CommandID from the flat object and
// stashes everything else in Extra.
func (t *TelemetryBody) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	if s, ok := m["state"].(string); ok {
		t.State = s
		delete(m, "state")
	}
	if c, ok := m["command_id"].(float64); ok {
		cid := uint32(c)
		t.CommandID = &cid
		delete(m, "command_id")
	}
	t.Extra = m
	return nil
}

// EventBody is the JSON body of POST /p/events (spec §3 Event, §6).
type EventBody struct {
	Event      string         `json:"event"`
	Source     string         `json:"source"`
	Timestamp  int64          `json:"timestamp"`
	State      string         `json:"state,omitempty"`
	CommandID  *uint32        `json:"command_id,omitempty"`
	TransferID *uint32        `json:"transfer_id,omitempty"`
	Reason     string         `json:"reason,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
}

// RegisterResponse is the body returned by POST /p/register.
type RegisterResponse struct {
	Code string `json:"code"`
}

// TokenResponse is the body returned by GET /p/register?code=... once
// registration completes.
type TokenResponse struct {
	Token string `json:"token"`
}

// ErrorBody is the JSON body of a 4xx error response (spec §4.1 step 4).
type ErrorBody struct {
	Message   string  `json:"message"`
	CommandID *uint32 `json:"command_id,omitempty"`
}

// CommandBody is the JSON body of a 2xx telemetry response carrying a
// new command (spec §3 Command).
type CommandBody struct {
	Kind   string         `json:"kind"`
	Args   []any          `json:"args,omitempty"`
	Kwargs map[string]any `json:"kwargs,omitempty"`
	Force  bool           `json:"force,omitempty"`
}
