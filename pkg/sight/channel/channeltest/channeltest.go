// Package channeltest provides an in-memory channel for tests.
package channeltest

import (
	"context"
	"sync"

	"github.com/vango-go/vai-sight/pkg/sight/channel"
)

// Channel is a scripted channel. Tests push server events with Emit and end
// the session with End; sent inputs are recorded.
type Channel struct {
	pipe *channel.Pipe

	mu      sync.Mutex
	sent    []channel.RealtimeInput
	sendErr error
	closes  int
}

var _ channel.Channel = (*Channel)(nil)

func New() *Channel {
	return &Channel{pipe: channel.NewPipe(channel.DefaultEventBuffer)}
}

func (c *Channel) Send(ctx context.Context, in channel.RealtimeInput) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.pipe.Closed() {
		return channel.ErrClosed
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, in)
	return nil
}

func (c *Channel) Events() <-chan channel.Event { return c.pipe.Events() }

func (c *Channel) Err() error { return c.pipe.Err() }

// Close ends the session locally; Events closes with a nil Err.
func (c *Channel) Close() error {
	c.mu.Lock()
	c.closes++
	c.mu.Unlock()
	c.pipe.Shutdown()
	c.pipe.Finish(nil)
	return nil
}

// Emit delivers a server event. It returns false once the channel is closed.
func (c *Channel) Emit(ev channel.Event) bool {
	return c.pipe.Deliver(ev)
}

// End simulates the remote side closing the session with err (nil for a
// clean close).
func (c *Channel) End(err error) {
	c.pipe.Finish(err)
}

// FailSends makes subsequent Send calls return err.
func (c *Channel) FailSends(err error) {
	c.mu.Lock()
	c.sendErr = err
	c.mu.Unlock()
}

// Sent returns a copy of recorded inputs.
func (c *Channel) Sent() []channel.RealtimeInput {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]channel.RealtimeInput, len(c.sent))
	copy(out, c.sent)
	return out
}

// SentOf counts recorded inputs of kind.
func (c *Channel) SentOf(kind channel.Kind) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, in := range c.sent {
		if in.Kind == kind {
			n++
		}
	}
	return n
}

// Closes reports how many times Close was called.
func (c *Channel) Closes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

// Connector hands out channels and records the configs it was asked for.
type Connector struct {
	mu      sync.Mutex
	configs []channel.Config
	made    []*Channel
	err     error
	ready   chan *Channel
}

var _ channel.Connector = (*Connector)(nil)

func NewConnector() *Connector {
	return &Connector{ready: make(chan *Channel, 8)}
}

// FailWith makes the next Connect calls return err.
func (c *Connector) FailWith(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
}

func (c *Connector) Connect(ctx context.Context, cfg channel.Config) (channel.Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.configs = append(c.configs, cfg)
	if c.err != nil {
		return nil, c.err
	}
	ch := New()
	c.made = append(c.made, ch)
	select {
	case c.ready <- ch:
	default:
	}
	return ch, nil
}

// Ready yields each channel as it is connected.
func (c *Connector) Ready() <-chan *Channel { return c.ready }

// Configs returns the configs passed to Connect.
func (c *Connector) Configs() []channel.Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]channel.Config, len(c.configs))
	copy(out, c.configs)
	return out
}

// Last returns the most recently connected channel, or nil.
func (c *Connector) Last() *Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.made) == 0 {
		return nil
	}
	return c.made[len(c.made)-1]
}
