package wire

import (
	"encoding/json"
	"strings"

	"github.com/vango-go/vai-sight/pkg/sight/channel"
	"github.com/vango-go/vai-sight/pkg/sight/codec"
)

// Client messages of the BidiGenerateContent websocket protocol.

type clientMessage struct {
	Setup         *setup         `json:"setup,omitempty"`
	RealtimeInput *realtimeInput `json:"realtimeInput,omitempty"`
}

type setup struct {
	Model                    string           `json:"model"`
	GenerationConfig         generationConfig `json:"generationConfig"`
	SystemInstruction        *content         `json:"systemInstruction,omitempty"`
	InputAudioTranscription  *struct{}        `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription *struct{}        `json:"outputAudioTranscription,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string      `json:"responseModalities"`
	SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voiceConfig"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text       string `json:"text,omitempty"`
	InlineData *blob  `json:"inlineData,omitempty"`
}

// blob keeps data in transport form; decoding happens per segment so a bad
// segment does not poison the whole message.
type blob struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type realtimeInput struct {
	Audio *blob `json:"audio,omitempty"`
	Video *blob `json:"video,omitempty"`
}

// Server messages.

type serverMessage struct {
	SetupComplete *struct{}      `json:"setupComplete,omitempty"`
	ServerContent *serverContent `json:"serverContent,omitempty"`
	GoAway        *goAway        `json:"goAway,omitempty"`
	Error         *serverError   `json:"error,omitempty"`
}

type serverContent struct {
	ModelTurn           *content       `json:"modelTurn,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
	InputTranscription  *transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *transcription `json:"outputTranscription,omitempty"`
}

type transcription struct {
	Text string `json:"text"`
}

type goAway struct {
	TimeLeft string `json:"timeLeft,omitempty"`
}

type serverError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

func setupMessage(cfg channel.Config) clientMessage {
	s := &setup{
		Model:            "models/" + channel.ModelName(cfg.Model),
		GenerationConfig: generationConfig{ResponseModalities: []string{"AUDIO"}},
	}
	if v := strings.TrimSpace(cfg.Voice); v != "" {
		s.GenerationConfig.SpeechConfig = &speechConfig{
			VoiceConfig: voiceConfig{PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: v}},
		}
	}
	if text := strings.TrimSpace(cfg.SystemInstruction); text != "" {
		s.SystemInstruction = &content{Parts: []part{{Text: text}}}
	}
	if cfg.InputTranscription {
		s.InputAudioTranscription = &struct{}{}
	}
	if cfg.OutputTranscription {
		s.OutputAudioTranscription = &struct{}{}
	}
	return clientMessage{Setup: s}
}

func realtimeMessage(in channel.RealtimeInput) (clientMessage, bool) {
	b := &blob{MIMEType: in.MIMEType, Data: in.Payload}
	switch in.Kind {
	case channel.KindAudio:
		return clientMessage{RealtimeInput: &realtimeInput{Audio: b}}, true
	case channel.KindImage:
		return clientMessage{RealtimeInput: &realtimeInput{Video: b}}, true
	}
	return clientMessage{}, false
}

func parseServerMessage(data []byte) (serverMessage, error) {
	var msg serverMessage
	err := json.Unmarshal(data, &msg)
	return msg, err
}

// toEvent decodes audio segments and collects text. Segments that fail to
// decode are counted in Dropped.
func toEvent(sc *serverContent) channel.Event {
	var ev channel.Event
	if sc == nil {
		return ev
	}
	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p.InlineData == nil || p.InlineData.Data == "" {
				continue
			}
			if mt := p.InlineData.MIMEType; mt != "" && !strings.HasPrefix(mt, "audio/") {
				continue
			}
			pcm, err := codec.DecodeFromTransport(p.InlineData.Data)
			if err != nil {
				ev.Dropped++
				continue
			}
			ev.Audio = append(ev.Audio, pcm)
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
	return ev
}
