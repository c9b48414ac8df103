package channel

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-sight/pkg/sight"
)

// CloseReason maps a websocket read error to a channel's terminal error:
// nil for a normal close, a remote error otherwise.
func CloseReason(err error) error {
	if err == nil {
		return nil
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		msg := strings.TrimSpace(ce.Text)
		if msg == "" {
			msg = fmt.Sprintf("session closed with code %d", ce.Code)
		}
		return sight.NewRemoteError(msg, err)
	}
	return sight.NewRemoteError("live session ended", err)
}
