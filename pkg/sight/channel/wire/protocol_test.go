package wire

import (
	"encoding/json"
	"testing"

	"github.com/vango-go/vai-sight/pkg/sight/channel"
)

func TestSetupMessage_OmitsUnsetOptions(t *testing.T) {
	data, err := json.Marshal(setupMessage(channel.Config{Model: "models/m"}))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"setup":{"model":"models/m","generationConfig":{"responseModalities":["AUDIO"]}}}`
	if string(data) != want {
		t.Fatalf("setup = %s\nwant   %s", data, want)
	}
}

func TestRealtimeMessage(t *testing.T) {
	msg, ok := realtimeMessage(channel.RealtimeInput{Kind: channel.KindImage, Payload: "AQI=", MIMEType: "image/jpeg"})
	if !ok {
		t.Fatalf("realtimeMessage rejected image")
	}
	data, _ := json.Marshal(msg)
	want := `{"realtimeInput":{"video":{"mimeType":"image/jpeg","data":"AQI="}}}`
	if string(data) != want {
		t.Fatalf("realtime = %s, want %s", data, want)
	}
	if _, ok := realtimeMessage(channel.RealtimeInput{Kind: "text"}); ok {
		t.Fatalf("realtimeMessage accepted unknown kind")
	}
}

func TestToEvent_SkipsNonAudioParts(t *testing.T) {
	ev := toEvent(&serverContent{ModelTurn: &content{Parts: []part{
		{Text: "thinking"},
		{InlineData: &blob{MIMEType: "image/png", Data: "AQI="}},
	}}})
	if !ev.Empty() {
		t.Fatalf("event = %+v, want empty", ev)
	}
}
