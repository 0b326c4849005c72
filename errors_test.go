package connectsdk

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorMessageIncludesOpAndPrinter(t *testing.T) {
	err := NewPrinterError("Register", "SN123", CodeNetworkUnavailable, "connection refused")
	msg := err.Error()
	if msg == "" {
		t.Fatal("expected non-empty message")
	}
	if !contains(msg, "op=Register") {
		t.Fatalf("expected message to contain op, got %q", msg)
	}
	if !contains(msg, "printer=SN123") {
		t.Fatalf("expected message to contain printer, got %q", msg)
	}
}

func TestErrorUnwrapReturnsInner(t *testing.T) {
	inner := fmt.Errorf("boom")
	wrapped := WrapError("Dispatch", CodeHandlerFailure, inner)
	if errors.Unwrap(wrapped) != inner {
		t.Fatalf("expected Unwrap to return inner error")
	}
}

func TestWrapErrorPreservesCodeAcrossRewrap(t *testing.T) {
	original := NewError("Mount", CodeFilesystemInvalid, "bad path")
	rewrapped := WrapError("Filesystem.Create", CodeHandlerFailure, original)
	if rewrapped.Code != CodeFilesystemInvalid {
		t.Fatalf("expected re-wrap to preserve original code, got %v", rewrapped.Code)
	}
	if rewrapped.Op != "Filesystem.Create" {
		t.Fatalf("expected re-wrap to set the new op, got %v", rewrapped.Op)
	}
}

func TestWrapErrorNilReturnsNil(t *testing.T) {
	if WrapError("Anything", CodeHandlerFailure, nil) != nil {
		t.Fatal("expected WrapError(nil) to return nil")
	}
}

func TestErrorIsMatchesByCode(t *testing.T) {
	err := NewError("GetToken", CodeNoToken, "not yet issued")
	if !errors.Is(err, CodeNoToken) {
		t.Fatal("expected errors.Is to match on bare Code")
	}
	if errors.Is(err, CodeUnregistered) {
		t.Fatal("did not expect errors.Is to match a different Code")
	}
}

func TestIsCodeUnwrapsWrappedErrors(t *testing.T) {
	base := NewError("Register", CodeUnregistered, "not registered")
	wrapped := fmt.Errorf("outer context: %w", base)
	if !IsCode(wrapped, CodeUnregistered) {
		t.Fatal("expected IsCode to see through fmt.Errorf wrapping")
	}
	if IsCode(wrapped, CodeNoToken) {
		t.Fatal("did not expect IsCode to match an unrelated code")
	}
}

func TestSentinelErrorsCarryTheirCode(t *testing.T) {
	cases := []struct {
		err  *Error
		code Code
	}{
		{ErrUnregistered, CodeUnregistered},
		{ErrNoToken, CodeNoToken},
		{ErrCommandRejected, CodeCommandRejected},
	}
	for _, c := range cases {
		if c.err.Code != c.code {
			t.Fatalf("expected sentinel to carry code %v, got %v", c.code, c.err.Code)
		}
	}
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && indexOf(s, substr) >= 0
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
