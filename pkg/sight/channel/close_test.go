package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-sight/pkg/sight"
)

func TestCloseReason(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantNil bool
		wantMsg string
	}{
		{name: "nil", err: nil, wantNil: true},
		{name: "normal close", err: &websocket.CloseError{Code: websocket.CloseNormalClosure}, wantNil: true},
		{name: "going away", err: &websocket.CloseError{Code: websocket.CloseGoingAway}, wantNil: true},
		{name: "canceled", err: fmt.Errorf("read: %w", context.Canceled), wantNil: true},
		{name: "close with text", err: &websocket.CloseError{Code: 1008, Text: "API key not valid"}, wantMsg: "API key not valid"},
		{name: "close without text", err: &websocket.CloseError{Code: 1011}, wantMsg: "session closed with code 1011"},
		{name: "eof", err: io.ErrUnexpectedEOF, wantMsg: "live session ended"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CloseReason(tt.err)
			if tt.wantNil {
				if got != nil {
					t.Fatalf("CloseReason = %v, want nil", got)
				}
				return
			}
			var se *sight.Error
			if !errors.As(got, &se) {
				t.Fatalf("CloseReason = %T, want *sight.Error", got)
			}
			if se.Kind != sight.KindRemote || se.Message != tt.wantMsg {
				t.Fatalf("CloseReason = %+v, want remote %q", se, tt.wantMsg)
			}
		})
	}
}
