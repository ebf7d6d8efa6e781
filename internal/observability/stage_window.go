package observability

import (
	"math"
	"slices"
	"sync"
	"time"
)

// Session latency stages exposed on /v1/perf/latency.
const (
	StageProvision    = "provision_signed_url"
	StageAIConnect    = "accept_to_ai_open"
	StageStart        = "accept_to_start"
	StageFirstAIAudio = "ai_open_to_first_audio"
	StageCallDuration = "call_duration"
)

// stageOrder fixes the snapshot order; unknown stages follow alphabetically.
var stageOrder = []string{StageProvision, StageAIConnect, StageStart, StageFirstAIAudio, StageCallDuration}

var stageTargets = map[string]time.Duration{
	StageProvision:    800 * time.Millisecond,
	StageAIConnect:    1500 * time.Millisecond,
	StageFirstAIAudio: 2 * time.Second,
}

type StageStats struct {
	Stage       string  `json:"stage"`
	Samples     int     `json:"samples"`
	LastMS      float64 `json:"last_ms"`
	AvgMS       float64 `json:"avg_ms"`
	P50MS       float64 `json:"p50_ms"`
	P95MS       float64 `json:"p95_ms"`
	P99MS       float64 `json:"p99_ms"`
	MaxMS       float64 `json:"max_ms"`
	TargetP95MS float64 `json:"target_p95_ms,omitempty"`
	OverTarget  bool    `json:"over_target,omitempty"`
}

type StageSnapshot struct {
	GeneratedAt time.Time    `json:"generated_at"`
	WindowSize  int          `json:"window_size"`
	Stages      []StageStats `json:"stages"`
}

// stageWindow keeps the most recent samples of each stage in a ring.
type stageWindow struct {
	mu    sync.Mutex
	size  int
	rings map[string]*ring
}

type ring struct {
	samples []time.Duration
	total   int
}

func (r *ring) add(d time.Duration) {
	r.samples[r.total%len(r.samples)] = d
	r.total++
}

func (r *ring) last() time.Duration {
	return r.samples[(r.total-1)%len(r.samples)]
}

func (r *ring) values() []time.Duration {
	n := min(r.total, len(r.samples))
	return slices.Clone(r.samples[:n])
}

func newStageWindow(size int) *stageWindow {
	if size <= 0 {
		size = 256
	}
	return &stageWindow{size: size, rings: make(map[string]*ring)}
}

func (w *stageWindow) Observe(stage string, d time.Duration) {
	if stage == "" || d < 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	r, ok := w.rings[stage]
	if !ok {
		r = &ring{samples: make([]time.Duration, w.size)}
		w.rings[stage] = r
	}
	r.add(d)
}

func (w *stageWindow) Snapshot() StageSnapshot {
	w.mu.Lock()
	names := make([]string, 0, len(w.rings))
	values := make(map[string][]time.Duration, len(w.rings))
	lasts := make(map[string]time.Duration, len(w.rings))
	for name, r := range w.rings {
		names = append(names, name)
		values[name] = r.values()
		lasts[name] = r.last()
	}
	w.mu.Unlock()

	slices.SortFunc(names, func(a, b string) int {
		ia, ib := stageRank(a), stageRank(b)
		if ia != ib {
			return ia - ib
		}
		if a < b {
			return -1
		}
		if a > b {
			return 1
		}
		return 0
	})

	out := StageSnapshot{
		GeneratedAt: time.Now().UTC(),
		WindowSize:  w.size,
		Stages:      make([]StageStats, 0, len(names)),
	}
	for _, name := range names {
		out.Stages = append(out.Stages, summarize(name, values[name], lasts[name]))
	}
	return out
}

func stageRank(name string) int {
	if i := slices.Index(stageOrder, name); i >= 0 {
		return i
	}
	return len(stageOrder)
}

func summarize(name string, samples []time.Duration, last time.Duration) StageStats {
	slices.Sort(samples)
	var sum time.Duration
	for _, d := range samples {
		sum += d
	}
	st := StageStats{
		Stage:   name,
		Samples: len(samples),
		LastMS:  ms(last),
		AvgMS:   ms(sum / time.Duration(len(samples))),
		P50MS:   ms(nearestRank(samples, 0.50)),
		P95MS:   ms(nearestRank(samples, 0.95)),
		P99MS:   ms(nearestRank(samples, 0.99)),
		MaxMS:   ms(samples[len(samples)-1]),
	}
	if target, ok := stageTargets[name]; ok {
		st.TargetP95MS = ms(target)
		st.OverTarget = st.P95MS > st.TargetP95MS
	}
	return st
}

// nearestRank expects sorted input.
func nearestRank(sorted []time.Duration, q float64) time.Duration {
	idx := int(math.Ceil(q*float64(len(sorted)))) - 1
	return sorted[max(0, min(idx, len(sorted)-1))]
}

func ms(d time.Duration) float64 {
	return math.Round(float64(d.Microseconds())/10) / 100
}
