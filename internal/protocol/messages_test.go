package protocol

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/ent0n29/phonebridge/internal/reliability"
)

func TestParseTelephonyEventStart(t *testing.T) {
	raw := []byte(`{"event":"start","sequenceNumber":"1","start":{"streamSid":"S1","callSid":"C1","customParameters":{"phone":"+1555","retries":2,"vip":true}},"streamSid":"S1"}`)
	msg, err := ParseTelephonyEvent(raw)
	if err != nil {
		t.Fatalf("ParseTelephonyEvent() error = %v", err)
	}

	start, ok := msg.(StartEvent)
	if !ok {
		t.Fatalf("message type = %T, want StartEvent", msg)
	}
	if start.Start.StreamSID != "S1" || start.Start.CallSID != "C1" {
		t.Fatalf("unexpected start metadata: %+v", start.Start)
	}
	params := start.Start.CustomParameters
	if params["phone"] != "+1555" || params["retries"] != "2" || params["vip"] != "true" {
		t.Fatalf("CustomParameters = %+v", params)
	}
}

func TestParseTelephonyEventStartFallsBackToTopLevelStreamSID(t *testing.T) {
	msg, err := ParseTelephonyEvent([]byte(`{"event":"start","streamSid":"S9","start":{"callSid":"C9"}}`))
	if err != nil {
		t.Fatalf("ParseTelephonyEvent() error = %v", err)
	}
	if got := msg.(StartEvent).Start.StreamSID; got != "S9" {
		t.Fatalf("StreamSID = %q, want %q", got, "S9")
	}
}

func TestParseTelephonyEventMedia(t *testing.T) {
	msg, err := ParseTelephonyEvent([]byte(`{"event":"media","streamSid":"S1","media":{"track":"inbound","payload":"AQID"}}`))
	if err != nil {
		t.Fatalf("ParseTelephonyEvent() error = %v", err)
	}
	media, ok := msg.(MediaEvent)
	if !ok {
		t.Fatalf("message type = %T, want MediaEvent", msg)
	}
	if media.Media.Payload != "AQID" {
		t.Fatalf("Payload = %q, want %q", media.Media.Payload, "AQID")
	}
}

func TestParseTelephonyEventRejectsUnknownEvent(t *testing.T) {
	_, err := ParseTelephonyEvent([]byte(`{"event":"mark","streamSid":"S1"}`))
	if !errors.Is(err, ErrUnsupportedEvent) {
		t.Fatalf("error = %v, want ErrUnsupportedEvent", err)
	}
	if reliability.KindOf(err) != "" {
		t.Fatalf("unsupported events must not be protocol errors, got kind %q", reliability.KindOf(err))
	}
}

func TestParseTelephonyEventMalformed(t *testing.T) {
	cases := []string{
		`{"event":`,
		`{"event":"media","media":{"payload":""}}`,
		`{"event":"start","start":{"callSid":"C1"}}`,
	}
	for _, raw := range cases {
		_, err := ParseTelephonyEvent([]byte(raw))
		if reliability.KindOf(err) != reliability.KindProtocol {
			t.Fatalf("ParseTelephonyEvent(%s) error = %v, want protocol error", raw, err)
		}
	}
}

func TestParseAIMessage(t *testing.T) {
	msg, err := ParseAIMessage([]byte(`{"type":"ping","ping_event":{"event_id":42,"ping_ms":12}}`))
	if err != nil {
		t.Fatalf("ParseAIMessage() error = %v", err)
	}
	if msg.Type != TypePing || PingEventID(msg) != 42 {
		t.Fatalf("unexpected ping: %+v", msg)
	}

	if _, err := ParseAIMessage([]byte(`{"audio":{}}`)); reliability.KindOf(err) != reliability.KindProtocol {
		t.Fatalf("missing type error = %v, want protocol error", err)
	}
	if _, err := ParseAIMessage([]byte(`not json`)); reliability.KindOf(err) != reliability.KindProtocol {
		t.Fatalf("invalid json error = %v, want protocol error", err)
	}
}

func TestNewInitiationClientDataWireShape(t *testing.T) {
	msg := NewInitiationClientData(InitialConfig{
		Prompt:           "Act as Gary",
		FirstMessage:     "Hi there",
		DynamicVariables: map[string]string{"name": "Ann"},
	})
	data, err := Encode(msg)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	want := `{"type":"conversation_initiation_client_data","dynamic_variables":{"name":"Ann"},"conversation_config_override":{"agent":{"prompt":{"prompt":"Act as Gary"},"first_message":"Hi there"}}}`
	if string(data) != want {
		t.Fatalf("encoded = %s\nwant %s", data, want)
	}
}

func TestNewInitiationClientDataDefaultsOmitOverride(t *testing.T) {
	data, err := json.Marshal(NewInitiationClientData(InitialConfig{}))
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if strings.Contains(string(data), "conversation_config_override") {
		t.Fatalf("encoded = %s, want no override", data)
	}
}

func BenchmarkParseTelephonyEventMedia(b *testing.B) {
	raw := []byte(`{"event":"media","sequenceNumber":"7","media":{"track":"inbound","chunk":"6","timestamp":"120","payload":"AQIDBAUGBwgJCgsMDQ4P"},"streamSid":"S1"}`)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		msg, err := ParseTelephonyEvent(raw)
		if err != nil {
			b.Fatalf("ParseTelephonyEvent() error = %v", err)
		}
		if _, ok := msg.(MediaEvent); !ok {
			b.Fatalf("message type = %T, want MediaEvent", msg)
		}
	}
}
