package sight

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_Error(t *testing.T) {
	err := &Error{Kind: KindPermission, Message: "microphone unavailable"}
	want := "permission_error: microphone unavailable"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}

	cause := errors.New("device busy")
	wrapped := NewPermissionError("microphone unavailable", cause)
	want = "permission_error: microphone unavailable: device busy"
	if wrapped.Error() != want {
		t.Errorf("Error() = %q, want %q", wrapped.Error(), want)
	}
	if !errors.Is(wrapped, cause) {
		t.Errorf("errors.Is(wrapped, cause) = false")
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{name: "nil", err: nil, want: ""},
		{name: "typed", err: NewRemoteError("closed", nil), want: KindRemote},
		{name: "wrapped typed", err: fmt.Errorf("start: %w", NewConfigError("missing key")), want: KindConfig},
		{name: "untyped", err: errors.New("boom"), want: KindTransport},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Fatalf("KindOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestError_Fatal(t *testing.T) {
	if (&Error{Kind: KindDecode}).Fatal() {
		t.Fatalf("decode errors must not be fatal")
	}
	if (&Error{Kind: KindCapability}).Fatal() {
		t.Fatalf("capability errors must not be fatal")
	}
	if !(&Error{Kind: KindRemote}).Fatal() {
		t.Fatalf("remote errors must be fatal")
	}
}
