// Package gemini implements channel.Channel on top of the genai SDK's Live API.
package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"google.golang.org/genai"

	"github.com/vango-go/vai-sight/pkg/sight"
	"github.com/vango-go/vai-sight/pkg/sight/channel"
	"github.com/vango-go/vai-sight/pkg/sight/codec"
)

// liveSession is the subset of *genai.Session the channel drives.
type liveSession interface {
	SendRealtimeInput(input genai.LiveRealtimeInput) error
	Receive() (*genai.LiveServerMessage, error)
	Close() error
}

// Connector dials Gemini Live sessions through the SDK.
type Connector struct {
	APIKey      channel.KeyFunc
	Logger      *slog.Logger
	EventBuffer int

	// dial is replaced in tests.
	dial func(ctx context.Context, key, model string, cfg *genai.LiveConnectConfig) (liveSession, error)
}

var _ channel.Connector = (*Connector)(nil)

func (c *Connector) Connect(ctx context.Context, cfg channel.Config) (channel.Channel, error) {
	if c.APIKey == nil {
		return nil, sight.NewConfigError("gemini connector has no API key source")
	}
	key, err := c.APIKey()
	if err != nil {
		return nil, &sight.Error{Kind: sight.KindConfig, Message: "resolve API key", Err: err}
	}
	model := channel.ModelName(cfg.Model)
	if model == "" {
		return nil, sight.NewConfigError("model is required")
	}

	dial := c.dial
	if dial == nil {
		dial = dialSDK
	}
	sess, err := dial(ctx, key, model, LiveConfig(cfg))
	if err != nil {
		return nil, sight.NewTransportError("connect live session", err)
	}

	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ch := &Channel{
		sess:   sess,
		pipe:   channel.NewPipe(c.EventBuffer),
		logger: logger.With("channel", "gemini", "model", model),
	}
	go ch.readLoop()
	return ch, nil
}

func dialSDK(ctx context.Context, key, model string, cfg *genai.LiveConnectConfig) (liveSession, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  key,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, err
	}
	return client.Live.Connect(ctx, model, cfg)
}

// LiveConfig maps a channel config onto the SDK's connect options.
func LiveConfig(cfg channel.Config) *genai.LiveConnectConfig {
	out := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityAudio},
	}
	if s := strings.TrimSpace(cfg.SystemInstruction); s != "" {
		out.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: s}}}
	}
	if v := strings.TrimSpace(cfg.Voice); v != "" {
		out.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: v},
			},
		}
	}
	if cfg.InputTranscription {
		out.InputAudioTranscription = &genai.AudioTranscriptionConfig{}
	}
	if cfg.OutputTranscription {
		out.OutputAudioTranscription = &genai.AudioTranscriptionConfig{}
	}
	return out
}

// Channel is a live SDK session.
type Channel struct {
	sess   liveSession
	pipe   *channel.Pipe
	logger *slog.Logger

	// The SDK connection does not support concurrent writers.
	sendMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

var _ channel.Channel = (*Channel)(nil)

func (c *Channel) Send(ctx context.Context, in channel.RealtimeInput) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.pipe.Closed() {
		return channel.ErrClosed
	}
	data, err := codec.DecodeFromTransport(in.Payload)
	if err != nil {
		return &sight.Error{Kind: sight.KindDecode, Message: "outbound payload", Err: err}
	}
	blob := &genai.Blob{Data: data, MIMEType: in.MIMEType}

	var input genai.LiveRealtimeInput
	switch in.Kind {
	case channel.KindAudio:
		input.Audio = blob
	case channel.KindImage:
		input.Video = blob
	default:
		return fmt.Errorf("unsupported realtime input kind %q", in.Kind)
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if err := c.sess.SendRealtimeInput(input); err != nil {
		return sight.NewTransportError("send realtime input", err)
	}
	return nil
}

func (c *Channel) Events() <-chan channel.Event { return c.pipe.Events() }

func (c *Channel) Err() error { return c.pipe.Err() }

func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		c.pipe.Shutdown()
		c.closeErr = c.sess.Close()
	})
	return c.closeErr
}

func (c *Channel) readLoop() {
	for {
		msg, err := c.sess.Receive()
		if err != nil {
			c.pipe.Finish(channel.CloseReason(err))
			return
		}
		if msg.GoAway != nil {
			c.logger.Warn("server requested disconnect", "time_left", msg.GoAway.TimeLeft)
		}
		ev, ok := translate(msg)
		if !ok {
			continue
		}
		if !c.pipe.Deliver(ev) {
			c.pipe.Finish(nil)
			return
		}
	}
}

// translate reduces a server message to a channel event.
func translate(msg *genai.LiveServerMessage) (channel.Event, bool) {
	if msg == nil || msg.ServerContent == nil {
		return channel.Event{}, false
	}
	sc := msg.ServerContent
	var ev channel.Event
	if sc.ModelTurn != nil {
		for _, part := range sc.ModelTurn.Parts {
			if part == nil || part.InlineData == nil || len(part.InlineData.Data) == 0 {
				continue
			}
			if mt := part.InlineData.MIMEType; mt != "" && !strings.HasPrefix(mt, "audio/") {
				continue
			}
			ev.Audio = append(ev.Audio, part.InlineData.Data)
		}
	}
	ev.Interrupted = sc.Interrupted
	ev.TurnComplete = sc.TurnComplete
	if sc.InputTranscription != nil {
		ev.InputTranscript = sc.InputTranscription.Text
	}
	if sc.OutputTranscription != nil {
		ev.OutputTranscript = sc.OutputTranscription.Text
	}
	return ev, !ev.Empty()
}
