package wire

import (
	"context"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-sight/pkg/sight/channel"
)

type conn interface {
	SetWriteDeadline(t time.Time) error
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// frame is one encoded realtimeInput message waiting for the socket.
type frame struct {
	kind channel.Kind
	data []byte
}

// sender owns every write on the socket: queued media frames, keepalive
// pings, and the close frame sent when ctx ends.
type sender struct {
	conn    conn
	ctx     context.Context
	frames  <-chan frame
	ping    time.Duration
	timeout time.Duration

	// written counts frames per kind; read only after run returns.
	written map[channel.Kind]int
}

func newSender(ctx context.Context, c conn, frames <-chan frame, ping, timeout time.Duration) *sender {
	if ping <= 0 {
		ping = defaultPingInterval
	}
	if timeout <= 0 {
		timeout = defaultWriteTimeout
	}
	return &sender{
		conn:    c,
		ctx:     ctx,
		frames:  frames,
		ping:    ping,
		timeout: timeout,
		written: make(map[channel.Kind]int),
	}
}

func (s *sender) deadline() time.Time { return time.Now().Add(s.timeout) }

func (s *sender) run() error {
	ticker := time.NewTicker(s.ping)
	defer ticker.Stop()

	frames := s.frames
	for {
		select {
		case <-s.ctx.Done():
			bye := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client closed")
			_ = s.conn.WriteControl(websocket.CloseMessage, bye, s.deadline())
			_ = s.conn.Close()
			return nil
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, s.deadline()); err != nil {
				return err
			}
		case f, ok := <-frames:
			if !ok {
				frames = nil
				continue
			}
			if len(f.data) == 0 {
				continue
			}
			if err := s.conn.SetWriteDeadline(s.deadline()); err != nil {
				return err
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, f.data); err != nil {
				return err
			}
			s.written[f.kind]++
		}
	}
}
