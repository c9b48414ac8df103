package channel

import (
	"sync"
)

// DefaultEventBuffer is the Events channel capacity used when none is given.
const DefaultEventBuffer = 64

// Pipe is the receive half shared by Channel implementations. A single reader
// goroutine calls Deliver and finally Finish; Shutdown marks a local close so
// that the resulting read error is reported as a clean end.
type Pipe struct {
	events chan Event
	done   chan struct{}

	// sendMu keeps Finish from closing events under an in-flight Deliver.
	sendMu sync.RWMutex

	mu       sync.Mutex
	err      error
	finished bool
	local    bool

	shutdownOnce sync.Once
}

func NewPipe(buffer int) *Pipe {
	if buffer <= 0 {
		buffer = DefaultEventBuffer
	}
	return &Pipe{
		events: make(chan Event, buffer),
		done:   make(chan struct{}),
	}
}

func (p *Pipe) Events() <-chan Event { return p.events }

// Done is closed by Shutdown.
func (p *Pipe) Done() <-chan struct{} { return p.done }

// Deliver blocks until ev is queued or the pipe is shut down. It returns
// false when the event was discarded.
func (p *Pipe) Deliver(ev Event) bool {
	p.sendMu.RLock()
	defer p.sendMu.RUnlock()
	p.mu.Lock()
	finished := p.finished
	p.mu.Unlock()
	if finished {
		return false
	}
	select {
	case <-p.done:
		return false
	default:
	}
	select {
	case p.events <- ev:
		return true
	case <-p.done:
		return false
	}
}

// Finish records the terminal error and closes Events. Only the first call
// has an effect.
func (p *Pipe) Finish(err error) {
	p.sendMu.Lock()
	defer p.sendMu.Unlock()
	p.mu.Lock()
	if p.finished {
		p.mu.Unlock()
		return
	}
	p.finished = true
	if p.local {
		err = nil
	}
	p.err = err
	p.mu.Unlock()
	close(p.events)
}

// Shutdown marks the pipe as locally closed.
func (p *Pipe) Shutdown() {
	p.shutdownOnce.Do(func() {
		p.mu.Lock()
		p.local = true
		p.mu.Unlock()
		close(p.done)
	})
}

// Closed reports whether Shutdown has been called.
func (p *Pipe) Closed() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

func (p *Pipe) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}
