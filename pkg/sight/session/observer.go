package session

import (
	"log/slog"

	"github.com/vango-go/vai-sight/pkg/sight/perception"
	"github.com/vango-go/vai-sight/pkg/sight/transcript"
)

// Observer is notified of controller changes. Callbacks arrive from the
// goroutine that caused the change (Start, Stop or the event loop), so
// implementations must be safe for concurrent use and must not block.
type Observer interface {
	StatusChanged(snap Snapshot)
	PerceptionChanged(state perception.State)
	TranscriptUpdated(input, output string)
	TurnsCommitted(turns []transcript.Turn)
}

// BaseObserver implements Observer with no-ops; embed it to handle only some
// callbacks.
type BaseObserver struct{}

func (BaseObserver) StatusChanged(Snapshot)             {}
func (BaseObserver) PerceptionChanged(perception.State) {}
func (BaseObserver) TranscriptUpdated(string, string)   {}
func (BaseObserver) TurnsCommitted([]transcript.Turn)   {}

// Observers fans each callback out in order.
type Observers []Observer

func (obs Observers) StatusChanged(snap Snapshot) {
	for _, o := range obs {
		o.StatusChanged(snap)
	}
}

func (obs Observers) PerceptionChanged(state perception.State) {
	for _, o := range obs {
		o.PerceptionChanged(state)
	}
}

func (obs Observers) TranscriptUpdated(input, output string) {
	for _, o := range obs {
		o.TranscriptUpdated(input, output)
	}
}

func (obs Observers) TurnsCommitted(turns []transcript.Turn) {
	for _, o := range obs {
		o.TurnsCommitted(turns)
	}
}

// LogObserver writes lifecycle changes to a logger.
type LogObserver struct {
	BaseObserver
	Logger *slog.Logger
}

func (o LogObserver) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.Default()
	}
	return o.Logger
}

func (o LogObserver) StatusChanged(snap Snapshot) {
	if snap.Status == StatusError {
		o.logger().Error("session status", "status", snap.Status, "session_gen", snap.Generation, "kind", snap.ErrorKind, "err", snap.Error)
		return
	}
	o.logger().Info("session status", "status", snap.Status, "session_gen", snap.Generation, "degraded", snap.Degraded)
}

func (o LogObserver) PerceptionChanged(state perception.State) {
	o.logger().Info("perception", "state", state)
}

func (o LogObserver) TurnsCommitted(turns []transcript.Turn) {
	for _, t := range turns {
		o.logger().Debug("turn committed", "role", t.Role, "text", t.Text)
	}
}
