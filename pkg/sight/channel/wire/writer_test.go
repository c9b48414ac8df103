package wire

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-sight/pkg/sight/channel"
)

type write struct {
	op   int
	body string
}

// fakeConn records writes in order; control frames land in the same log.
type fakeConn struct {
	mu     sync.Mutex
	log    []write
	closed bool
	fail   error
}

func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) WriteMessage(op int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		return c.fail
	}
	c.log = append(c.log, write{op: op, body: string(data)})
	return nil
}

func (c *fakeConn) WriteControl(op int, data []byte, _ time.Time) error {
	return c.WriteMessage(op, data)
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) writes() []write {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]write(nil), c.log...)
}

func waitWrites(t *testing.T, c *fakeConn, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for len(c.writes()) < n {
		if time.Now().After(deadline) {
			t.Fatalf("writes = %d, want at least %d", len(c.writes()), n)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestSender_WritesFramesThenClose(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	frames := make(chan frame, 3)
	frames <- frame{kind: channel.KindAudio, data: []byte(`{"a":1}`)}
	frames <- frame{kind: channel.KindImage}
	frames <- frame{kind: channel.KindImage, data: []byte(`{"i":1}`)}

	c := &fakeConn{}
	s := newSender(ctx, c, frames, time.Hour, time.Second)
	done := make(chan error, 1)
	go func() { done <- s.run() }()

	waitWrites(t, c, 2)
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run() error = %v", err)
	}

	got := c.writes()
	if len(got) != 3 {
		t.Fatalf("writes = %+v, want two frames and a close", got)
	}
	if got[0].body != `{"a":1}` || got[1].body != `{"i":1}` || got[0].op != websocket.TextMessage {
		t.Fatalf("frames = %+v", got[:2])
	}
	if got[2].op != websocket.CloseMessage {
		t.Fatalf("last op = %d, want close", got[2].op)
	}
	if !c.closed {
		t.Fatalf("conn not closed after cancel")
	}
	if s.written[channel.KindAudio] != 1 || s.written[channel.KindImage] != 1 {
		t.Fatalf("written = %v, want one of each kind", s.written)
	}
}

func TestSender_Pings(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c := &fakeConn{}
	s := newSender(ctx, c, make(chan frame), 5*time.Millisecond, time.Second)
	done := make(chan error, 1)
	go func() { done <- s.run() }()

	waitWrites(t, c, 1)
	cancel()
	<-done
	if op := c.writes()[0].op; op != websocket.PingMessage {
		t.Fatalf("first op = %d, want ping", op)
	}
}

func TestSender_Defaults(t *testing.T) {
	s := newSender(context.Background(), &fakeConn{}, nil, 0, 0)
	if s.ping != defaultPingInterval || s.timeout != defaultWriteTimeout {
		t.Fatalf("ping=%v timeout=%v, want defaults", s.ping, s.timeout)
	}
}

func TestSender_StopsOnWriteError(t *testing.T) {
	boom := errors.New("broken pipe")
	frames := make(chan frame, 1)
	frames <- frame{kind: channel.KindAudio, data: []byte("x")}
	s := newSender(context.Background(), &fakeConn{fail: boom}, frames, time.Hour, time.Second)
	if err := s.run(); !errors.Is(err, boom) {
		t.Fatalf("run() = %v, want %v", err, boom)
	}
}
