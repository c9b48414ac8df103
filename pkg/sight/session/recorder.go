package session

import (
	"time"

	"github.com/vango-go/vai-sight/pkg/sight/capture"
	"github.com/vango-go/vai-sight/pkg/sight/channel"
)

// Recorder receives session counters. *metrics.Metrics implements it.
type Recorder interface {
	capture.Stats

	SessionStarted()
	SessionEnded(outcome string, duration time.Duration)
	SessionFailed()
	AudioReceived(bytes int)
	DecodeFailed(n int)
	Underrun()
	Interrupted()
	PerceptionChanged(state string)
}

type nopRecorder struct{}

func (nopRecorder) AudioSent(int)                      {}
func (nopRecorder) FrameSent(int)                      {}
func (nopRecorder) FrameSkipped()                      {}
func (nopRecorder) SendFailed(channel.Kind)            {}
func (nopRecorder) SessionStarted()                    {}
func (nopRecorder) SessionEnded(string, time.Duration) {}
func (nopRecorder) SessionFailed()                     {}
func (nopRecorder) AudioReceived(int)                  {}
func (nopRecorder) DecodeFailed(int)                   {}
func (nopRecorder) Underrun()                          {}
func (nopRecorder) Interrupted()                       {}
func (nopRecorder) PerceptionChanged(string)           {}
