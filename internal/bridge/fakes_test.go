package bridge

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/phonebridge/internal/callconfig"
	"github.com/ent0n29/phonebridge/internal/transcript"
)

const waitTimeout = 2 * time.Second

// fakeSocket delivers inbound frames over an unbuffered channel, so a send
// returning means the previous frame has been fully handled by the reader.
type fakeSocket struct {
	in      chan []byte
	written chan []byte
	closed  chan struct{}

	closeOnce sync.Once
	mu        sync.Mutex
	writes    int
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{
		in:      make(chan []byte),
		written: make(chan []byte, 256),
		closed:  make(chan struct{}),
	}
}

func (f *fakeSocket) ReadMessage() (int, []byte, error) {
	select {
	case <-f.closed:
		return 0, nil, net.ErrClosed
	default:
	}
	select {
	case b := <-f.in:
		return websocket.TextMessage, b, nil
	case <-f.closed:
		return 0, nil, net.ErrClosed
	}
}

func (f *fakeSocket) WriteMessage(_ int, data []byte) error {
	select {
	case <-f.closed:
		return net.ErrClosed
	default:
	}
	f.mu.Lock()
	f.writes++
	f.mu.Unlock()
	f.written <- append([]byte(nil), data...)
	return nil
}

func (f *fakeSocket) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeSocket) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

func (f *fakeSocket) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes
}

type fakeProvisioner struct {
	mu    sync.Mutex
	calls []string
	gate  chan struct{}
	err   error
}

func (p *fakeProvisioner) SignedURL(ctx context.Context, agentID string) (string, error) {
	p.mu.Lock()
	p.calls = append(p.calls, agentID)
	gate := p.gate
	p.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if p.err != nil {
		return "", p.err
	}
	return "wss://ai.test/" + agentID, nil
}

func (p *fakeProvisioner) agentIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

type fakeDialer struct {
	mu   sync.Mutex
	urls []string
	sock *fakeSocket
	gate chan struct{}
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Socket, error) {
	d.mu.Lock()
	d.urls = append(d.urls, url)
	gate := d.gate
	d.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return d.sock, nil
}

func (d *fakeDialer) dialed() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.urls...)
}

type fakeRecorder struct {
	mu      sync.Mutex
	entries []transcript.Entry
}

func (r *fakeRecorder) Record(e transcript.Entry) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return true
}

func (r *fakeRecorder) snapshot() []transcript.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]transcript.Entry(nil), r.entries...)
}

// blockingStore holds every Get until release is closed or the lookup
// context ends.
type blockingStore struct {
	release chan struct{}
	mu      sync.Mutex
	gets    int
}

func (b *blockingStore) Get(ctx context.Context, _ string) (callconfig.Blob, error) {
	b.mu.Lock()
	b.gets++
	b.mu.Unlock()
	select {
	case <-b.release:
		return callconfig.Blob{}, callconfig.ErrNotFound
	case <-ctx.Done():
		return callconfig.Blob{}, ctx.Err()
	}
}

func (b *blockingStore) called() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.gets > 0
}

type harness struct {
	t        *testing.T
	tel      *fakeSocket
	ai       *fakeSocket
	prov     *fakeProvisioner
	dialer   *fakeDialer
	store    *callconfig.InMemoryStore
	configs  ConfigReader
	rec      *fakeRecorder
	defaults Defaults
	session  *Session
	done     chan struct{}
	runErr   error
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ai := newFakeSocket()
	return &harness{
		t:      t,
		tel:    newFakeSocket(),
		ai:     ai,
		prov:   &fakeProvisioner{},
		dialer: &fakeDialer{sock: ai},
		store:  callconfig.NewInMemoryStore(),
		rec:    &fakeRecorder{},
		defaults: Defaults{
			AgentID:      "agent-default",
			Prompt:       "default prompt",
			FirstMessage: "default hello",
		},
	}
}

func (h *harness) run() {
	h.t.Helper()
	var configs ConfigReader = h.store
	if h.configs != nil {
		configs = h.configs
	}
	h.session = NewSession("test-session", h.tel, Deps{
		Provisioner: h.prov,
		Dialer:      h.dialer,
		Configs:     configs,
		Transcripts: h.rec,
		Defaults:    h.defaults,
	})
	h.done = make(chan struct{})
	go func() {
		defer close(h.done)
		h.runErr = h.session.Run(context.Background())
	}()
	h.t.Cleanup(func() {
		h.session.Close()
		select {
		case <-h.done:
		case <-time.After(waitTimeout):
		}
	})
}

func (h *harness) send(sock *fakeSocket, v any) {
	h.t.Helper()
	var raw []byte
	switch x := v.(type) {
	case string:
		raw = []byte(x)
	default:
		var err error
		if raw, err = json.Marshal(v); err != nil {
			h.t.Fatalf("marshal frame: %v", err)
		}
	}
	select {
	case sock.in <- raw:
	case <-time.After(waitTimeout):
		h.t.Fatalf("frame %s was never read", raw)
	}
}

func (h *harness) sendTel(v any) { h.t.Helper(); h.send(h.tel, v) }
func (h *harness) sendAI(v any)  { h.t.Helper(); h.send(h.ai, v) }

// syncTel returns once every earlier telephony frame has been handled.
func (h *harness) syncTel() { h.t.Helper(); h.sendTel(`{"event":"mark","mark":{"name":"sync"}}`) }

// syncAI returns once every earlier AI frame has been handled.
func (h *harness) syncAI() { h.t.Helper(); h.sendAI(`{}`) }

func (h *harness) start(streamSID, callSID string, params map[string]string) {
	h.t.Helper()
	h.sendTel(map[string]any{
		"event":     "start",
		"streamSid": streamSID,
		"start": map[string]any{
			"streamSid":        streamSID,
			"callSid":          callSID,
			"customParameters": params,
		},
	})
}

// startAfterOpen sends start once the AI leg is open and consumes the
// corrected configuration it triggers.
func (h *harness) startAfterOpen(streamSID, callSID string, params map[string]string) {
	h.t.Helper()
	h.start(streamSID, callSID, params)
	agentOverride(h.t, nextWrite(h.t, h.ai))
}

func (h *harness) media(payload string) {
	h.t.Helper()
	h.sendTel(map[string]any{"event": "media", "media": map[string]any{"payload": payload}})
}

func (h *harness) stop() error {
	h.t.Helper()
	h.sendTel(`{"event":"stop"}`)
	return h.wait()
}

func (h *harness) wait() error {
	h.t.Helper()
	select {
	case <-h.done:
		return h.runErr
	case <-time.After(waitTimeout):
		h.t.Fatalf("Run() did not return")
		return nil
	}
}

func nextWrite(t *testing.T, sock *fakeSocket) map[string]any {
	t.Helper()
	select {
	case raw := <-sock.written:
		var out map[string]any
		if err := json.Unmarshal(raw, &out); err != nil {
			t.Fatalf("written frame is not json: %s", raw)
		}
		return out
	case <-time.After(waitTimeout):
		t.Fatalf("expected a write")
		return nil
	}
}

func expectNoWrite(t *testing.T, sock *fakeSocket, within time.Duration) {
	t.Helper()
	select {
	case raw := <-sock.written:
		t.Fatalf("unexpected write: %s", raw)
	case <-time.After(within):
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func agentOverride(t *testing.T, msg map[string]any) (prompt, firstMessage string) {
	t.Helper()
	if msg["type"] != "conversation_initiation_client_data" {
		t.Fatalf("type = %v, want conversation_initiation_client_data", msg["type"])
	}
	override, _ := msg["conversation_config_override"].(map[string]any)
	agent, _ := override["agent"].(map[string]any)
	if p, ok := agent["prompt"].(map[string]any); ok {
		prompt, _ = p["prompt"].(string)
	}
	firstMessage, _ = agent["first_message"].(string)
	return prompt, firstMessage
}
