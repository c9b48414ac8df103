package session

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/vango-go/vai-sight/pkg/sight/capture"
	"github.com/vango-go/vai-sight/pkg/sight/channel"
	"github.com/vango-go/vai-sight/pkg/sight/channel/channeltest"
	"github.com/vango-go/vai-sight/pkg/sight/codec"
	"github.com/vango-go/vai-sight/pkg/sight/perception"
	"github.com/vango-go/vai-sight/pkg/sight/playback"
	"github.com/vango-go/vai-sight/pkg/sight/transcript"
)

type fakeAudioStream struct {
	blocks chan []int16
	once   sync.Once

	mu     sync.Mutex
	closes int
}

func (s *fakeAudioStream) Blocks() <-chan []int16 { return s.blocks }

func (s *fakeAudioStream) Close() error {
	s.mu.Lock()
	s.closes++
	s.mu.Unlock()
	s.once.Do(func() { close(s.blocks) })
	return nil
}

type fakeVideoStream struct {
	mu     sync.Mutex
	closes int
}

func (s *fakeVideoStream) Latest() (image.Image, bool) {
	return image.NewRGBA(image.Rect(0, 0, 8, 8)), true
}

func (s *fakeVideoStream) Close() error {
	s.mu.Lock()
	s.closes++
	s.mu.Unlock()
	return nil
}

type fakeMic struct {
	mu     sync.Mutex
	err    error
	stream *fakeAudioStream
}

func (m *fakeMic) Open(context.Context, capture.AudioConfig) (capture.AudioStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	m.stream = &fakeAudioStream{blocks: make(chan []int16, 4)}
	return m.stream, nil
}

func (m *fakeMic) last() *fakeAudioStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stream
}

type fakeCam struct {
	mu     sync.Mutex
	err    error
	stream *fakeVideoStream
}

func (c *fakeCam) Open(context.Context, capture.VideoConfig) (capture.VideoStream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	c.stream = &fakeVideoStream{}
	return c.stream, nil
}

type fakeVoice struct {
	at    time.Duration
	mu    sync.Mutex
	stops int
}

func (v *fakeVoice) Stop() {
	v.mu.Lock()
	v.stops++
	v.mu.Unlock()
}

type fakeDevice struct {
	mu     sync.Mutex
	now    time.Duration
	voices []*fakeVoice
	closes int
}

func (d *fakeDevice) Now() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.now
}

func (d *fakeDevice) Play(buf *codec.Buffer, at time.Duration, onEnded func()) (playback.Voice, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v := &fakeVoice{at: at}
	d.voices = append(d.voices, v)
	return v, nil
}

func (d *fakeDevice) Close() error {
	d.mu.Lock()
	d.closes++
	d.mu.Unlock()
	return nil
}

func (d *fakeDevice) snapshot() (starts []time.Duration, stops []int, closes int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, v := range d.voices {
		starts = append(starts, v.at)
		v.mu.Lock()
		stops = append(stops, v.stops)
		v.mu.Unlock()
	}
	return starts, stops, d.closes
}

type recordingObserver struct {
	mu         sync.Mutex
	statuses   []Status
	perception []perception.State
	turns      []transcript.Turn
}

func (o *recordingObserver) StatusChanged(snap Snapshot) {
	o.mu.Lock()
	o.statuses = append(o.statuses, snap.Status)
	o.mu.Unlock()
}

func (o *recordingObserver) PerceptionChanged(state perception.State) {
	o.mu.Lock()
	o.perception = append(o.perception, state)
	o.mu.Unlock()
}

func (o *recordingObserver) TranscriptUpdated(string, string) {}

func (o *recordingObserver) TurnsCommitted(turns []transcript.Turn) {
	o.mu.Lock()
	o.turns = append(o.turns, turns...)
	o.mu.Unlock()
}

func (o *recordingObserver) statusList() []Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Status(nil), o.statuses...)
}

type countingRecorder struct {
	nopRecorder

	mu          sync.Mutex
	started     int
	ended       map[string]int
	failed      int
	decode      int
	interrupted int
	audioOut    int

	// onDecode runs outside the lock on every DecodeFailed call.
	onDecode func()
}

func (r *countingRecorder) SessionStarted() {
	r.mu.Lock()
	r.started++
	r.mu.Unlock()
}

func (r *countingRecorder) SessionEnded(outcome string, _ time.Duration) {
	r.mu.Lock()
	if r.ended == nil {
		r.ended = make(map[string]int)
	}
	r.ended[outcome]++
	r.mu.Unlock()
}

func (r *countingRecorder) SessionFailed() {
	r.mu.Lock()
	r.failed++
	r.mu.Unlock()
}

func (r *countingRecorder) DecodeFailed(n int) {
	r.mu.Lock()
	r.decode += n
	hook := r.onDecode
	r.mu.Unlock()
	if hook != nil {
		hook()
	}
}

func (r *countingRecorder) Interrupted() {
	r.mu.Lock()
	r.interrupted++
	r.mu.Unlock()
}

func (r *countingRecorder) AudioReceived(n int) {
	r.mu.Lock()
	r.audioOut += n
	r.mu.Unlock()
}

func (r *countingRecorder) endedWith(outcome string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ended[outcome]
}

type harness struct {
	ctrl      *Controller
	connector *channeltest.Connector
	mic       *fakeMic
	cam       *fakeCam
	device    *fakeDevice
	deviceErr error
	rec       *countingRecorder
	obs       *recordingObserver
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		connector: channeltest.NewConnector(),
		mic:       &fakeMic{},
		cam:       &fakeCam{},
		device:    &fakeDevice{},
		rec:       &countingRecorder{},
		obs:       &recordingObserver{},
	}
	ctrl, err := New(Dependencies{
		Config: Config{
			Channel:      channel.Config{Model: "gemini-live-test", Voice: "Puck"},
			Media:        capture.DefaultMediaConfig(),
			FrameFPS:     50,
			HistoryLimit: 20,
		},
		Connector:  h.connector,
		Microphone: h.mic,
		Camera:     h.cam,
		NewDevice: func(int) (playback.Device, error) {
			if h.deviceErr != nil {
				return nil, h.deviceErr
			}
			return h.device, nil
		},
		Recorder: h.rec,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctrl.Observe(h.obs)
	h.ctrl = ctrl
	t.Cleanup(func() { _ = ctrl.Stop() })
	return h
}

func (h *harness) start(t *testing.T) *channeltest.Channel {
	t.Helper()
	if err := h.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	ch := h.connector.Last()
	if ch == nil {
		t.Fatalf("no channel connected")
	}
	return ch
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

var errDenied = errors.New("permission denied")
