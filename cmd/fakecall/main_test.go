package main

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/phonebridge/internal/audio"
	"github.com/ent0n29/phonebridge/internal/protocol"
)

func TestParseFlags(t *testing.T) {
	cfg, err := parseFlags([]string{"-base-url", "https://bridge.example.com/", "-phone", "+15551234567", "-params", "lang=en, tier = gold"})
	if err != nil {
		t.Fatalf("parseFlags() error = %v", err)
	}
	if cfg.baseURL != "https://bridge.example.com" {
		t.Fatalf("baseURL = %q", cfg.baseURL)
	}
	params := cfg.customParameters()
	if params["phone"] != "+15551234567" || params["lang"] != "en" || params["tier"] != "gold" {
		t.Fatalf("customParameters() = %v", params)
	}
	if _, ok := params["agent_id"]; ok {
		t.Fatalf("empty agent_id should not be sent")
	}

	if _, err := parseFlags([]string{"-chunk-ms", "5"}); err == nil {
		t.Fatalf("expected chunk-ms validation error")
	}
	if _, err := parseFlags([]string{"-params", "novalue"}); err == nil {
		t.Fatalf("expected params validation error")
	}
}

func TestStreamURL(t *testing.T) {
	cases := map[string]string{
		"http://127.0.0.1:8080":       "ws://127.0.0.1:8080/media-stream",
		"https://bridge.example.com/": "wss://bridge.example.com/media-stream",
	}
	for in, want := range cases {
		got, err := streamURL(in)
		if err != nil {
			t.Fatalf("streamURL(%q) error = %v", in, err)
		}
		if got != want {
			t.Fatalf("streamURL(%q) = %q, want %q", in, got, want)
		}
	}
	if _, err := streamURL("ftp://x"); err == nil {
		t.Fatalf("expected scheme error")
	}
}

// fakeBridge answers each caller media frame with one agent frame and sends
// a clear after the first.
type fakeBridge struct {
	mu     sync.Mutex
	start  protocol.StartEvent
	events []protocol.EventType
}

func (b *fakeBridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/media-stream" {
		http.NotFound(w, r)
		return
	}
	up := websocket.Upgrader{}
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	reply := base64.StdEncoding.EncodeToString(audio.Silence(20))
	replies := 0
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var env protocol.TelephonyEnvelope
		_ = json.Unmarshal(data, &env)
		b.mu.Lock()
		b.events = append(b.events, env.Event)
		b.mu.Unlock()

		switch env.Event {
		case protocol.EventStart:
			var start protocol.StartEvent
			_ = json.Unmarshal(data, &start)
			b.mu.Lock()
			b.start = start
			b.mu.Unlock()
		case protocol.EventMedia:
			_ = conn.WriteJSON(protocol.NewMediaEvent(env.StreamSID, reply))
			replies++
			if replies == 1 {
				_ = conn.WriteJSON(protocol.NewClearEvent(env.StreamSID))
			}
		case protocol.EventStop:
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			return
		}
	}
}

func TestRunAgainstFakeBridge(t *testing.T) {
	bridge := &fakeBridge{}
	srv := httptest.NewServer(bridge)
	defer srv.Close()

	cfg, err := parseFlags([]string{
		"-base-url", srv.URL,
		"-phone", "+15551234567",
		"-agent-id", "agent-x",
		"-duration-ms", "100",
		"-chunk-ms", "20",
		"-realtime", "10",
		"-linger-ms", "100",
	})
	if err != nil {
		t.Fatalf("parseFlags() error = %v", err)
	}

	res, err := run(t.Context(), cfg)
	if err != nil {
		t.Fatalf("run() error = %v", err)
	}
	if res.FramesSent != 5 {
		t.Fatalf("FramesSent = %d, want 5", res.FramesSent)
	}
	if res.FramesReceived != 5 {
		t.Fatalf("FramesReceived = %d, want 5", res.FramesReceived)
	}
	if res.Clears != 1 {
		t.Fatalf("Clears = %d, want 1", res.Clears)
	}
	if len(res.ReceivedAudio) != 5*160 {
		t.Fatalf("len(ReceivedAudio) = %d, want %d", len(res.ReceivedAudio), 5*160)
	}
	if !strings.HasPrefix(res.StreamSID, "MZ") {
		t.Fatalf("StreamSID = %q", res.StreamSID)
	}

	bridge.mu.Lock()
	defer bridge.mu.Unlock()
	if bridge.start.Start.CustomParameters["agent_id"] != "agent-x" {
		t.Fatalf("start params = %v", bridge.start.Start.CustomParameters)
	}
	if bridge.start.Start.StreamSID != res.StreamSID {
		t.Fatalf("start streamSid = %q, want %q", bridge.start.Start.StreamSID, res.StreamSID)
	}
	if got := bridge.events[0]; got != protocol.EventConnected {
		t.Fatalf("first event = %q, want connected", got)
	}
	if got := bridge.events[len(bridge.events)-1]; got != protocol.EventStop {
		t.Fatalf("last event = %q, want stop", got)
	}
}
