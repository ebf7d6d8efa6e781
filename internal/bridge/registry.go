package bridge

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrNotFound       = errors.New("session not found")
	ErrRegistryClosed = errors.New("session registry closed")
)

// Registry owns every live Session. Sessions share nothing but the
// collaborators in Deps.
type Registry struct {
	deps Deps

	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool
	wg       sync.WaitGroup
}

func NewRegistry(deps Deps) *Registry {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Registry{
		deps:     deps,
		sessions: make(map[string]*Session),
	}
}

// Serve runs a new Session on telephony and blocks until it ends. The
// socket is closed on return in every case.
func (r *Registry) Serve(ctx context.Context, telephony Socket) error {
	s, err := r.open(telephony)
	if err != nil {
		_ = telephony.Close()
		return err
	}
	defer r.release(s)

	err = s.Run(ctx)
	if err != nil {
		r.deps.Logger.Warn("session ended with error", zap.String("session_id", s.ID()), zap.Error(err))
	}
	return err
}

func (r *Registry) open(telephony Socket) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrRegistryClosed
	}
	s := NewSession(uuid.NewString(), telephony, r.deps)
	r.sessions[s.ID()] = s
	r.wg.Add(1)
	if r.deps.Metrics != nil {
		r.deps.Metrics.ActiveSessions.Inc()
	}
	return s, nil
}

func (r *Registry) release(s *Session) {
	r.mu.Lock()
	delete(r.sessions, s.ID())
	r.mu.Unlock()
	if r.deps.Metrics != nil {
		r.deps.Metrics.ActiveSessions.Dec()
	}
	r.wg.Done()
}

func (r *Registry) Get(id string) (Info, error) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return Info{}, ErrNotFound
	}
	return s.Info(), nil
}

// List returns live sessions, oldest first.
func (r *Registry) List() []Info {
	r.mu.RLock()
	out := make([]Info, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.Info())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// Accepting reports whether new sessions are still admitted.
func (r *Registry) Accepting() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return !r.closed
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// CloseAll stops accepting sessions and tears down the live ones.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	r.closed = true
	live := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		live = append(live, s)
	}
	r.mu.Unlock()

	for _, s := range live {
		s.Close()
	}
	if len(live) > 0 {
		r.deps.Logger.Info("closed live sessions", zap.Int("count", len(live)))
	}
}

// Wait blocks until every Serve call has returned or ctx is done.
func (r *Registry) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
