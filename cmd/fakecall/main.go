// Command fakecall plays the telephony side of a media stream against a
// running bridge, which is handy for smoke-testing agent setups without
// placing a real call.
package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/phonebridge/internal/audio"
	"github.com/ent0n29/phonebridge/internal/protocol"
)

type options struct {
	baseURL      string
	phone        string
	agentID      string
	prompt       string
	firstMessage string
	params       map[string]string
	inputWAV     string
	outputWAV    string
	duration     time.Duration
	chunkMS      int
	realtime     float64
	linger       time.Duration
	verbose      bool
}

type summary struct {
	StreamSID      string
	FramesSent     int
	FramesReceived int
	Clears         int
	FirstAudio     time.Duration
	ReceivedAudio  []byte
}

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "fakecall: %v\n", err)
		os.Exit(2)
	}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.duration+time.Minute)
	defer cancel()

	res, err := run(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fakecall: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("fakecall: stream=%s sent=%d received=%d clears=%d first_audio=%s\n",
		res.StreamSID, res.FramesSent, res.FramesReceived, res.Clears, res.FirstAudio.Round(time.Millisecond))
	if cfg.outputWAV != "" {
		pcm := audio.DecodeMuLaw(res.ReceivedAudio)
		if err := audio.WriteWAVPCM16LEFile(cfg.outputWAV, pcm, audio.TelephonySampleRate); err != nil {
			fmt.Fprintf(os.Stderr, "fakecall: write %s: %v\n", cfg.outputWAV, err)
			os.Exit(1)
		}
	}
}

func parseFlags(args []string) (options, error) {
	var cfg options
	var paramsRaw string
	var durationMS, lingerMS int

	fs := flag.NewFlagSet("fakecall", flag.ContinueOnError)
	fs.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8080", "bridge base URL")
	fs.StringVar(&cfg.phone, "phone", "", "caller number sent as the phone custom parameter")
	fs.StringVar(&cfg.agentID, "agent-id", "", "optional agent_id override")
	fs.StringVar(&cfg.prompt, "prompt", "", "optional prompt override")
	fs.StringVar(&cfg.firstMessage, "first-message", "", "optional first_message override")
	fs.StringVar(&paramsRaw, "params", "", "extra custom parameters as k=v pairs separated by ','")
	fs.StringVar(&cfg.inputWAV, "wav", "", "PCM16 WAV file to stream as caller audio (silence when empty)")
	fs.StringVar(&cfg.outputWAV, "out", "", "write agent audio to this WAV file")
	fs.IntVar(&durationMS, "duration-ms", 5000, "caller audio length when streaming silence")
	fs.IntVar(&cfg.chunkMS, "chunk-ms", 20, "media frame size in milliseconds")
	fs.Float64Var(&cfg.realtime, "realtime", 1.0, "pacing multiplier (1.0=realtime, 2.0=2x)")
	fs.IntVar(&lingerMS, "linger-ms", 1500, "time to keep listening after caller audio ends")
	fs.BoolVar(&cfg.verbose, "verbose", false, "print every inbound event")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	if cfg.chunkMS < 10 || cfg.chunkMS > 1000 {
		return options{}, fmt.Errorf("chunk-ms must be in [10,1000]")
	}
	if cfg.realtime <= 0 {
		return options{}, fmt.Errorf("realtime must be > 0")
	}
	if durationMS < 0 {
		durationMS = 0
	}
	if lingerMS < 0 {
		lingerMS = 0
	}
	cfg.duration = time.Duration(durationMS) * time.Millisecond
	cfg.linger = time.Duration(lingerMS) * time.Millisecond

	params, err := parseParams(paramsRaw)
	if err != nil {
		return options{}, err
	}
	cfg.params = params
	return cfg, nil
}

func parseParams(raw string) (map[string]string, error) {
	out := map[string]string{}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		k, v, ok := strings.Cut(part, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("params: %q is not k=v", part)
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out, nil
}

func (o options) customParameters() map[string]string {
	out := make(map[string]string, len(o.params)+4)
	for k, v := range o.params {
		out[k] = v
	}
	set := func(k, v string) {
		if v = strings.TrimSpace(v); v != "" {
			out[k] = v
		}
	}
	set("phone", o.phone)
	set("agent_id", o.agentID)
	set("prompt", o.prompt)
	set("first_message", o.firstMessage)
	return out
}

func streamURL(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", fmt.Errorf("base-url host is required")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/media-stream"
	return u.String(), nil
}

// callerAudio returns the mu-law bytes to stream for the caller leg.
func callerAudio(cfg options) ([]byte, error) {
	if cfg.inputWAV == "" {
		return audio.Silence(int(cfg.duration / time.Millisecond)), nil
	}
	pcm, rate, err := audio.ReadWAVFile(cfg.inputWAV)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", cfg.inputWAV, err)
	}
	return audio.EncodeMuLaw(audio.ResamplePCM16(pcm, rate, audio.TelephonySampleRate)), nil
}

func run(ctx context.Context, cfg options) (summary, error) {
	ulaw, err := callerAudio(cfg)
	if err != nil {
		return summary{}, err
	}
	wsURL, err := streamURL(cfg.baseURL)
	if err != nil {
		return summary{}, fmt.Errorf("build ws URL: %w", err)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return summary{}, fmt.Errorf("open websocket: %w", err)
	}
	defer conn.Close()

	res := summary{StreamSID: "MZ" + strings.ReplaceAll(uuid.NewString(), "-", "")}
	callSID := "CA" + strings.ReplaceAll(uuid.NewString(), "-", "")

	if err := conn.WriteJSON(protocol.TelephonyEnvelope{Event: protocol.EventConnected}); err != nil {
		return res, fmt.Errorf("send connected: %w", err)
	}
	start := protocol.StartEvent{
		Event:     protocol.EventStart,
		StreamSID: res.StreamSID,
		Start: protocol.StartMetadata{
			StreamSID:        res.StreamSID,
			CallSID:          callSID,
			Tracks:           []string{"inbound"},
			CustomParameters: cfg.customParameters(),
		},
	}
	startedAt := time.Now()
	if err := conn.WriteJSON(start); err != nil {
		return res, fmt.Errorf("send start: %w", err)
	}

	var mu sync.Mutex
	readDone := make(chan error, 1)
	go func() {
		readDone <- readLoop(conn, cfg.verbose, func(ev inbound) {
			mu.Lock()
			defer mu.Unlock()
			switch ev.Event {
			case protocol.EventMedia:
				if res.FramesReceived == 0 {
					res.FirstAudio = time.Since(startedAt)
				}
				res.FramesReceived++
				res.ReceivedAudio = append(res.ReceivedAudio, ev.audio...)
			case protocol.EventClear:
				res.Clears++
			}
		})
	}()

	sent, err := sendAudio(ctx, conn, res.StreamSID, ulaw, cfg.chunkMS, cfg.realtime, readDone)
	mu.Lock()
	res.FramesSent = sent
	mu.Unlock()
	if err != nil {
		return snapshot(&mu, &res), err
	}

	select {
	case err := <-readDone:
		return snapshot(&mu, &res), closedEarly(err)
	case <-time.After(cfg.linger):
	case <-ctx.Done():
		return snapshot(&mu, &res), ctx.Err()
	}

	if err := conn.WriteJSON(protocol.StopEvent{Event: protocol.EventStop, StreamSID: res.StreamSID}); err != nil {
		return snapshot(&mu, &res), fmt.Errorf("send stop: %w", err)
	}
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	select {
	case <-readDone:
	case <-time.After(2 * time.Second):
	}
	return snapshot(&mu, &res), nil
}

func snapshot(mu *sync.Mutex, res *summary) summary {
	mu.Lock()
	defer mu.Unlock()
	out := *res
	out.ReceivedAudio = append([]byte(nil), res.ReceivedAudio...)
	return out
}

func closedEarly(err error) error {
	if err == nil {
		return errors.New("bridge closed the stream before caller hung up")
	}
	return fmt.Errorf("ws read: %w", err)
}

func sendAudio(ctx context.Context, conn *websocket.Conn, streamSID string, ulaw []byte, chunkMS int, realtime float64, readDone <-chan error) (int, error) {
	chunk := audio.TelephonySampleRate * chunkMS / 1000
	pace := time.Duration(float64(time.Duration(chunkMS)*time.Millisecond) / realtime)
	if pace <= 0 {
		pace = time.Millisecond
	}
	ticker := time.NewTicker(pace)
	defer ticker.Stop()

	sent := 0
	for off := 0; off < len(ulaw); off += chunk {
		end := off + chunk
		if end > len(ulaw) {
			end = len(ulaw)
		}
		msg := protocol.NewMediaEvent(streamSID, base64.StdEncoding.EncodeToString(ulaw[off:end]))
		if err := conn.WriteJSON(msg); err != nil {
			return sent, fmt.Errorf("send media: %w", err)
		}
		sent++
		select {
		case <-ticker.C:
		case err := <-readDone:
			return sent, closedEarly(err)
		case <-ctx.Done():
			return sent, ctx.Err()
		}
	}
	return sent, nil
}

type inbound struct {
	Event     protocol.EventType `json:"event"`
	StreamSID string             `json:"streamSid"`
	Media     struct {
		Payload string `json:"payload"`
	} `json:"media"`
	audio []byte
}

// readLoop returns nil when the bridge closes the socket normally.
func readLoop(conn *websocket.Conn, verbose bool, handle func(inbound)) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				return nil
			}
			return err
		}
		var ev inbound
		if err := json.Unmarshal(data, &ev); err != nil {
			fmt.Fprintf(os.Stderr, "fakecall: ignoring malformed frame: %v\n", err)
			continue
		}
		if ev.Event == protocol.EventMedia {
			if ev.audio, err = base64.StdEncoding.DecodeString(ev.Media.Payload); err != nil {
				fmt.Fprintf(os.Stderr, "fakecall: ignoring media frame: %v\n", err)
				continue
			}
		}
		if verbose {
			fmt.Printf("fakecall: <- %s bytes=%d\n", ev.Event, len(ev.audio))
		}
		handle(ev)
	}
}
