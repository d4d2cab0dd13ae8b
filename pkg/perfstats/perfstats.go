package perfstats

import (
	"sync"
	"time"
)

// Accumulate samples of how long something took
type TimeAccumulator struct {
	Samples int64
	Total   time.Duration
}

func (a *TimeAccumulator) AddSample(v time.Duration) {
	a.Samples++
	a.Total += v
}

func (a *TimeAccumulator) Average() time.Duration {
	if a.Samples == 0 {
		return 0
	}
	return time.Duration(a.Total.Nanoseconds() / a.Samples)
}

// StageStats is the JSON view of one TimeAccumulator
type StageStats struct {
	Samples   int64   `json:"samples"`
	TotalMS   float64 `json:"total_ms"`
	AverageMS float64 `json:"average_ms"`
}

// Stages accumulates timings of named pipeline stages, such as "decode" or "forward".
// It is safe for concurrent use.
type Stages struct {
	lock   sync.Mutex
	stages map[string]*TimeAccumulator
}

func NewStages() *Stages {
	return &Stages{
		stages: map[string]*TimeAccumulator{},
	}
}

func (s *Stages) Add(stage string, elapsed time.Duration) {
	s.lock.Lock()
	defer s.lock.Unlock()
	acc := s.stages[stage]
	if acc == nil {
		acc = &TimeAccumulator{}
		s.stages[stage] = acc
	}
	acc.AddSample(elapsed)
}

// Time runs f and records how long it took
func (s *Stages) Time(stage string, f func()) {
	start := time.Now()
	f()
	s.Add(stage, time.Since(start))
}

func (s *Stages) Snapshot() map[string]StageStats {
	s.lock.Lock()
	defer s.lock.Unlock()
	out := map[string]StageStats{}
	for name, acc := range s.stages {
		out[name] = StageStats{
			Samples:   acc.Samples,
			TotalMS:   toMS(acc.Total),
			AverageMS: toMS(acc.Average()),
		}
	}
	return out
}

func toMS(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
