// Package session owns the single live perception session: it acquires the
// camera and microphone, connects the live channel, routes inbound audio to
// the playback scheduler and inbound text to the transcript accumulator and
// perception classifier, and tears everything down on stop or remote end.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/vango-go/vai-sight/pkg/sight"
	"github.com/vango-go/vai-sight/pkg/sight/capture"
	"github.com/vango-go/vai-sight/pkg/sight/channel"
	"github.com/vango-go/vai-sight/pkg/sight/perception"
	"github.com/vango-go/vai-sight/pkg/sight/playback"
	"github.com/vango-go/vai-sight/pkg/sight/transcript"
)

// ErrSessionActive is returned by Start while a session is live.
var ErrSessionActive = errors.New("session already active")

// ErrStopped is returned by Start when Stop ran before the session connected.
var ErrStopped = errors.New("session stopped before it was established")

type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

const (
	outcomeStopped      = "stopped"
	outcomeRemoteClosed = "remote_closed"
	outcomeError        = "error"
	outcomeStartFailed  = "start_failed"
)

type Config struct {
	Channel channel.Config
	Media   capture.MediaConfig

	FrameFPS    float64
	FrameScale  float64
	JPEGQuality int

	// OutputSampleRate is the rate of inbound model speech (24 kHz when zero).
	OutputSampleRate int
	HistoryLimit     int
}

// DeviceFactory opens the output device for one session.
type DeviceFactory func(sampleRate int) (playback.Device, error)

type Dependencies struct {
	Config     Config
	Connector  channel.Connector
	Microphone capture.Microphone
	Camera     capture.Camera
	NewDevice  DeviceFactory
	Recorder   Recorder
	Logger     *slog.Logger
	Now        func() time.Time
}

// Snapshot is a point-in-time view of the controller.
type Snapshot struct {
	Status     Status            `json:"status"`
	Error      string            `json:"error,omitempty"`
	ErrorKind  sight.ErrorKind   `json:"error_kind,omitempty"`
	Perception perception.State  `json:"perception"`
	History    []transcript.Turn `json:"history"`
	Input      string            `json:"input,omitempty"`
	Output     string            `json:"output,omitempty"`
	Degraded   bool              `json:"degraded,omitempty"`
	Generation uint64            `json:"generation"`
}

// Controller runs at most one session at a time. All methods are safe for
// concurrent use.
type Controller struct {
	cfg        Config
	connector  channel.Connector
	mic        capture.Microphone
	cam        capture.Camera
	newDevice  DeviceFactory
	rec        Recorder
	logger     *slog.Logger
	now        func() time.Time
	transcript *transcript.Accumulator

	mu         sync.Mutex
	gen        uint64
	active     *run
	status     Status
	lastErr    error
	perception perception.State
	degraded   bool
	observers  Observers
}

// run is the state owned by one session generation.
type run struct {
	gen     uint64
	ctx     context.Context
	cancel  context.CancelFunc
	started time.Time

	// connected is guarded by Controller.mu.
	connected bool

	mu     sync.Mutex
	closed bool
	media  *capture.Media
	ch     channel.Channel
	sched  *playback.Scheduler

	producers sync.WaitGroup
	once      sync.Once
	logger    *slog.Logger
}

func New(deps Dependencies) (*Controller, error) {
	if deps.Connector == nil {
		return nil, errors.New("session: connector is required")
	}
	if deps.Microphone == nil || deps.Camera == nil {
		return nil, errors.New("session: microphone and camera are required")
	}
	if deps.NewDevice == nil {
		return nil, errors.New("session: output device factory is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	rec := deps.Recorder
	if rec == nil {
		rec = nopRecorder{}
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Controller{
		cfg:        deps.Config,
		connector:  deps.Connector,
		mic:        deps.Microphone,
		cam:        deps.Camera,
		newDevice:  deps.NewDevice,
		rec:        rec,
		logger:     logger,
		now:        now,
		transcript: transcript.New(deps.Config.HistoryLimit),
		status:     StatusDisconnected,
		perception: perception.Idle,
	}, nil
}

// Observe registers o for future changes.
func (c *Controller) Observe(o Observer) {
	if o == nil {
		return
	}
	c.mu.Lock()
	c.observers = append(c.observers, o)
	c.mu.Unlock()
}

func (c *Controller) notify(fn func(Observers)) {
	c.mu.Lock()
	obs := make(Observers, len(c.observers))
	copy(obs, c.observers)
	c.mu.Unlock()
	if len(obs) > 0 {
		fn(obs)
	}
}

// Start opens the media devices and the live channel. It returns once the
// session is connected; inbound events are then handled in the background.
// A failed start is torn down like Stop before the error is returned.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.active != nil {
		c.mu.Unlock()
		return ErrSessionActive
	}
	c.gen++
	runCtx, cancel := context.WithCancel(context.Background())
	r := &run{
		gen:     c.gen,
		ctx:     runCtx,
		cancel:  cancel,
		started: c.now(),
		logger:  c.logger.With("session_gen", c.gen),
	}
	c.active = r
	c.status = StatusConnecting
	c.lastErr = nil
	c.perception = perception.Idle
	c.degraded = false
	c.transcript.ResetPartial()
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.notify(func(o Observers) { o.StatusChanged(snap) })

	startCtx, stopStart := context.WithCancel(ctx)
	defer stopStart()
	unhook := context.AfterFunc(runCtx, stopStart)
	defer unhook()

	ch, sched, err := c.establish(startCtx, r)
	if err != nil {
		if r.isClosed() {
			return ErrStopped
		}
		r.logger.Error("session start failed", "kind", sight.KindOf(err), "err", err)
		c.finish(r, StatusError, err, outcomeStartFailed)
		return err
	}

	c.mu.Lock()
	if c.gen != r.gen {
		c.mu.Unlock()
		return ErrStopped
	}
	r.connected = true
	c.status = StatusConnected
	c.perception = perception.Scanning
	snap = c.snapshotLocked()
	c.mu.Unlock()

	c.rec.SessionStarted()
	c.rec.PerceptionChanged(string(perception.Scanning))
	c.notify(func(o Observers) {
		o.StatusChanged(snap)
		o.PerceptionChanged(perception.Scanning)
	})
	go c.loop(r, ch, sched)
	return nil
}

// establish acquires every resource of r and starts the producers. The
// event loop is started by Start once the status is Connected.
func (c *Controller) establish(ctx context.Context, r *run) (channel.Channel, *playback.Scheduler, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	// Devices live as long as the run, not the start call.
	media, err := capture.Acquire(r.ctx, c.mic, c.cam, c.cfg.Media, r.logger)
	if err != nil {
		return nil, nil, err
	}
	if !r.adopt(func() { r.media = media }) {
		_ = media.Close()
		return nil, nil, ErrStopped
	}
	if media.Degraded {
		c.mu.Lock()
		c.degraded = true
		c.mu.Unlock()
	}

	chCfg := c.cfg.Channel
	chCfg.InputTranscription = true
	chCfg.OutputTranscription = true
	ch, err := c.connector.Connect(ctx, chCfg)
	if err != nil {
		var se *sight.Error
		if !errors.As(err, &se) {
			err = sight.NewTransportError("connect live session", err)
		}
		return nil, nil, err
	}
	if !r.adopt(func() { r.ch = ch }) {
		_ = ch.Close()
		return nil, nil, ErrStopped
	}

	rate := c.cfg.OutputSampleRate
	device, err := c.newDevice(rate)
	if err != nil {
		return nil, nil, sight.NewPermissionError("audio output unavailable", err)
	}
	sched := playback.NewScheduler(device, rate, r.logger)
	if !r.adopt(func() { r.sched = sched }) {
		_ = sched.Close()
		return nil, nil, ErrStopped
	}

	audio := &capture.AudioProducer{
		Stream:     media.Audio,
		Sender:     ch,
		SampleRate: c.cfg.Media.Audio.SampleRate,
		Logger:     r.logger,
		Stats:      c.rec,
	}
	frames := &capture.FrameProducer{
		Stream:  media.Video,
		Sender:  ch,
		FPS:     c.cfg.FrameFPS,
		Scale:   c.cfg.FrameScale,
		Quality: c.cfg.JPEGQuality,
		Logger:  r.logger,
		Stats:   c.rec,
	}
	started := r.adopt(func() {
		r.producers.Add(2)
		go func() {
			defer r.producers.Done()
			_ = audio.Run(r.ctx)
		}()
		go func() {
			defer r.producers.Done()
			_ = frames.Run(r.ctx)
		}()
	})
	if !started {
		return nil, nil, ErrStopped
	}
	return ch, sched, nil
}

// Stop ends the live session, if any. It is idempotent and always returns
// nil; a session that never existed is already stopped.
func (c *Controller) Stop() error {
	c.mu.Lock()
	r := c.active
	c.mu.Unlock()
	if r == nil {
		return nil
	}
	c.finish(r, StatusDisconnected, nil, outcomeStopped)
	return nil
}

// finish detaches r, tears it down and publishes the final status. Only the
// first caller for a given run has any effect.
func (c *Controller) finish(r *run, status Status, cause error, outcome string) {
	c.mu.Lock()
	if c.active != r {
		c.mu.Unlock()
		return
	}
	c.active = nil
	c.gen++
	gen := c.gen
	connected := r.connected
	c.mu.Unlock()

	r.teardown()

	c.mu.Lock()
	if c.gen != gen {
		// A newer session started while this one was tearing down.
		c.mu.Unlock()
		return
	}
	prev := c.perception
	c.status = status
	c.lastErr = cause
	c.perception = perception.Idle
	c.transcript.ResetPartial()
	snap := c.snapshotLocked()
	c.mu.Unlock()

	if !connected {
		c.rec.SessionFailed()
	} else {
		c.rec.SessionEnded(outcome, c.now().Sub(r.started))
	}
	if prev != perception.Idle {
		c.rec.PerceptionChanged(string(perception.Idle))
	}
	c.notify(func(o Observers) {
		o.StatusChanged(snap)
		if prev != perception.Idle {
			o.PerceptionChanged(perception.Idle)
		}
	})
}

// adopt runs fn under the run lock unless the run was already torn down.
func (r *run) adopt(fn func()) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	fn()
	return true
}

func (r *run) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// teardown cancels the producers, closes media and channel, waits for the
// producers and releases the output device.
func (r *run) teardown() {
	r.once.Do(func() {
		r.cancel()

		r.mu.Lock()
		r.closed = true
		media, ch, sched := r.media, r.ch, r.sched
		r.mu.Unlock()

		if media != nil {
			if err := media.Close(); err != nil {
				r.logger.Debug("media close", "err", err)
			}
		}
		if ch != nil {
			if err := ch.Close(); err != nil {
				r.logger.Debug("channel close", "err", err)
			}
		}
		r.producers.Wait()
		if sched != nil {
			if err := sched.Close(); err != nil {
				r.logger.Debug("output device close", "err", err)
			}
		}
	})
}

// current reports whether r is still the live generation.
func (c *Controller) current(r *run) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active == r && c.gen == r.gen
}

// loop is the single consumer of channel events for r.
func (c *Controller) loop(r *run, ch channel.Channel, sched *playback.Scheduler) {
	events := ch.Events()
	for {
		select {
		case <-r.ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				c.remoteEnded(r, ch)
				return
			}
			if !c.current(r) {
				return
			}
			c.handle(r, sched, ev)
		}
	}
}

func (c *Controller) remoteEnded(r *run, ch channel.Channel) {
	if !c.current(r) {
		return
	}
	if err := ch.Err(); err != nil {
		r.logger.Error("live session failed", "kind", sight.KindOf(err), "err", err)
		c.finish(r, StatusError, err, outcomeError)
		return
	}
	r.logger.Info("live session closed by remote")
	c.finish(r, StatusDisconnected, nil, outcomeRemoteClosed)
}

// handle applies one event: audio, then interruption, then transcripts, then
// the turn boundary.
func (c *Controller) handle(r *run, sched *playback.Scheduler, ev channel.Event) {
	if ev.Dropped > 0 {
		r.logger.Debug("dropped undecodable audio", "segments", ev.Dropped)
		c.rec.DecodeFailed(ev.Dropped)
	}

	for _, pcm := range ev.Audio {
		scheduled, err := sched.Enqueue(pcm)
		if err != nil {
			if errors.Is(err, playback.ErrClosed) {
				return
			}
			r.logger.Warn("playback enqueue failed", "err", err)
			continue
		}
		c.rec.AudioReceived(len(pcm))
		if scheduled.Underrun {
			c.rec.Underrun()
		}
	}

	if ev.Interrupted {
		stopped := sched.Interrupt()
		c.rec.Interrupted()
		r.logger.Debug("playback interrupted", "voices", stopped)
	}

	if ev.InputTranscript == "" && ev.OutputTranscript == "" && !ev.TurnComplete {
		return
	}
	u, ok := c.applyText(r, ev)
	if !ok {
		return
	}
	if u.perceptionChanged {
		c.rec.PerceptionChanged(string(u.perception))
		c.notify(func(o Observers) { o.PerceptionChanged(u.perception) })
	}
	if u.partial {
		c.notify(func(o Observers) { o.TranscriptUpdated(u.input, u.output) })
	}
	if len(u.turns) > 0 {
		c.notify(func(o Observers) { o.TurnsCommitted(u.turns) })
	}
}

type textUpdate struct {
	partial       bool
	input, output string

	perceptionChanged bool
	perception        perception.State

	turns []transcript.Turn
}

// applyText folds the transcript fields of ev into the accumulator and
// re-evaluates perception against the cumulative model text. The generation
// check and the mutation share c.mu, so an event from a stopped run cannot
// reach the transcript of the next one.
func (c *Controller) applyText(r *run, ev channel.Event) (textUpdate, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != r || c.gen != r.gen {
		return textUpdate{}, false
	}

	var u textUpdate
	if ev.InputTranscript != "" || ev.OutputTranscript != "" {
		if ev.InputTranscript != "" {
			c.transcript.AppendInput(ev.InputTranscript)
		}
		if ev.OutputTranscript != "" {
			text := c.transcript.AppendOutput(ev.OutputTranscript)
			if next := perception.Next(c.perception, text); next != c.perception {
				c.perception = next
				u.perceptionChanged = true
				u.perception = next
			}
		}
		u.partial = true
		u.input, u.output = c.transcript.Partial()
	}
	if ev.TurnComplete {
		u.turns = c.transcript.Commit()
	}
	return u, true
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Controller) Perception() perception.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.perception
}

// LastError is the cause of the most recent Error status, or nil.
func (c *Controller) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// History returns the committed turns, oldest first.
func (c *Controller) History() []transcript.Turn {
	return c.transcript.History()
}

// Partial returns the uncommitted input and output text of the current turn.
func (c *Controller) Partial() (input, output string) {
	return c.transcript.Partial()
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	snap := Snapshot{
		Status:     c.status,
		Perception: c.perception,
		History:    c.transcript.History(),
		Degraded:   c.degraded,
		Generation: c.gen,
	}
	snap.Input, snap.Output = c.transcript.Partial()
	if c.lastErr != nil {
		snap.Error = c.lastErr.Error()
		snap.ErrorKind = sight.KindOf(c.lastErr)
	}
	return snap
}
