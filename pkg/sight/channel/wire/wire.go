// Package wire implements channel.Channel directly over the Gemini Live
// BidiGenerateContent websocket protocol. It is used when the SDK cannot be,
// for example behind a websocket proxy that speaks the raw protocol.
package wire

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-sight/pkg/sight"
	"github.com/vango-go/vai-sight/pkg/sight/channel"
)

const DefaultEndpoint = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

const (
	defaultQueueSize    = 32
	defaultSetupTimeout = 10 * time.Second
	defaultPingInterval = 20 * time.Second
	defaultWriteTimeout = 5 * time.Second
)

var errBackpressure = errors.New("outbound queue full")

// Connector dials raw protocol sessions.
type Connector struct {
	Endpoint string
	APIKey   channel.KeyFunc
	Dialer   *websocket.Dialer
	Logger   *slog.Logger

	// KeyInHeader sends the key as x-goog-api-key instead of a query parameter.
	KeyInHeader bool

	PingInterval time.Duration
	WriteTimeout time.Duration
	SetupTimeout time.Duration
	QueueSize    int
	EventBuffer  int
}

var _ channel.Connector = (*Connector)(nil)

func (c *Connector) Connect(ctx context.Context, cfg channel.Config) (channel.Channel, error) {
	if channel.ModelName(cfg.Model) == "" {
		return nil, sight.NewConfigError("model is required")
	}
	target, header, err := c.endpoint()
	if err != nil {
		return nil, err
	}

	dialer := c.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil {
			return nil, sight.NewTransportError(fmt.Sprintf("dial live endpoint: http %d", resp.StatusCode), err)
		}
		return nil, sight.NewTransportError("dial live endpoint", err)
	}

	if err := c.handshake(ctx, conn, cfg); err != nil {
		_ = conn.Close()
		return nil, err
	}

	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	queueSize := c.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}

	writerCtx, cancel := context.WithCancel(context.Background())
	ch := &Channel{
		conn:       conn,
		pipe:       channel.NewPipe(c.EventBuffer),
		queue:      make(chan frame, queueSize),
		cancel:     cancel,
		writerDone: make(chan struct{}),
		logger:     logger.With("channel", "wire", "model", channel.ModelName(cfg.Model)),
	}
	go ch.runSender(newSender(writerCtx, conn, ch.queue, c.PingInterval, c.WriteTimeout))
	go ch.readLoop()
	return ch, nil
}

func (c *Connector) endpoint() (string, http.Header, error) {
	endpoint := strings.TrimSpace(c.Endpoint)
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", nil, &sight.Error{Kind: sight.KindConfig, Message: "invalid live endpoint", Err: err}
	}
	if c.APIKey == nil {
		return u.String(), nil, nil
	}
	key, err := c.APIKey()
	if err != nil {
		return "", nil, &sight.Error{Kind: sight.KindConfig, Message: "resolve API key", Err: err}
	}
	if c.KeyInHeader {
		h := http.Header{}
		h.Set("x-goog-api-key", key)
		return u.String(), h, nil
	}
	q := u.Query()
	q.Set("key", key)
	u.RawQuery = q.Encode()
	return u.String(), nil, nil
}

// handshake sends the setup message and waits for setupComplete.
func (c *Connector) handshake(ctx context.Context, conn *websocket.Conn, cfg channel.Config) error {
	timeout := c.SetupTimeout
	if timeout <= 0 {
		timeout = defaultSetupTimeout
	}
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	payload, err := json.Marshal(setupMessage(cfg))
	if err != nil {
		return sight.NewTransportError("encode setup", err)
	}
	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return sight.NewTransportError("send setup", err)
	}

	_ = conn.SetReadDeadline(deadline)
	defer func() { _ = conn.SetReadDeadline(time.Time{}) }()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if reason := channel.CloseReason(err); reason != nil {
				return reason
			}
			return sight.NewRemoteError("session closed during setup", err)
		}
		msg, err := parseServerMessage(data)
		if err != nil {
			continue
		}
		if msg.Error != nil {
			return sight.NewRemoteError(msg.Error.Message, nil)
		}
		if msg.SetupComplete != nil {
			return nil
		}
	}
}

// Channel is a raw protocol session.
type Channel struct {
	conn   *websocket.Conn
	pipe   *channel.Pipe
	queue  chan frame
	logger *slog.Logger

	cancel     context.CancelFunc
	writerDone chan struct{}
	closeOnce  sync.Once
}

var _ channel.Channel = (*Channel)(nil)

// Send queues in for the writer. A full queue drops the input.
func (c *Channel) Send(ctx context.Context, in channel.RealtimeInput) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.pipe.Closed() {
		return channel.ErrClosed
	}
	msg, ok := realtimeMessage(in)
	if !ok {
		return fmt.Errorf("unsupported realtime input kind %q", in.Kind)
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return sight.NewTransportError("encode realtime input", err)
	}
	select {
	case c.queue <- frame{kind: in.Kind, data: payload}:
		return nil
	case <-c.writerDone:
		return channel.ErrClosed
	default:
		return errBackpressure
	}
}

func (c *Channel) Events() <-chan channel.Event { return c.pipe.Events() }

func (c *Channel) Err() error { return c.pipe.Err() }

// Close sends a close frame and tears the connection down. It waits for the
// writer to finish.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		c.pipe.Shutdown()
		c.cancel()
		<-c.writerDone
		_ = c.conn.Close()
	})
	return nil
}

func (c *Channel) runSender(s *sender) {
	defer close(c.writerDone)
	err := s.run()
	c.logger.Debug("live sender stopped", "err", err,
		"audio_frames", s.written[channel.KindAudio], "image_frames", s.written[channel.KindImage])
	if err != nil {
		_ = c.conn.Close()
	}
}

func (c *Channel) readLoop() {
	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			c.pipe.Finish(channel.CloseReason(err))
			c.cancel()
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		msg, err := parseServerMessage(data)
		if err != nil {
			c.logger.Debug("dropping unparseable server message", "err", err)
			continue
		}
		if msg.Error != nil {
			c.pipe.Finish(sight.NewRemoteError(msg.Error.Message, nil))
			c.cancel()
			return
		}
		if msg.GoAway != nil {
			c.logger.Warn("server requested disconnect", "time_left", msg.GoAway.TimeLeft)
		}
		ev := toEvent(msg.ServerContent)
		if ev.Empty() {
			continue
		}
		if !c.pipe.Deliver(ev) {
			c.pipe.Finish(nil)
			return
		}
	}
}
