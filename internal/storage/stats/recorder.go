package stats

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Distribution names recorded by the engine.
const (
	WriteBytes   = "write_bytes"
	ReadBytes    = "read_bytes"
	AddLatency   = "add_latency_ms"
	GetLatency   = "get_latency_ms"
	BatchLatency = "batch_latency_ms"
)

// Recorder holds engine counters and named distributions.
//
// A disabled Recorder still counts operations but keeps no distributions.
type Recorder struct {
	mu sync.RWMutex

	enabled  bool
	accuracy float64

	// name -> distribution
	dists map[string]*Distribution

	adds      atomic.Int64
	gets      atomic.Int64
	rollbacks atomic.Int64
	errors    atomic.Int64
	shared    atomic.Int64

	started time.Time
}

// Snapshot is a point-in-time view of a Recorder.
type Snapshot struct {
	Uptime        time.Duration `yaml:"uptime"`
	Adds          int64         `yaml:"adds"`
	Gets          int64         `yaml:"gets"`
	Rollbacks     int64         `yaml:"rollbacks"`
	Errors        int64         `yaml:"errors"`
	SharedReads   int64         `yaml:"shared_reads"`
	Distributions []Summary     `yaml:"distributions,omitempty"`
}

// NewRecorder creates a Recorder. accuracy is the relative accuracy of the
// quantile sketches.
func NewRecorder(enabled bool, accuracy float64) *Recorder {
	return &Recorder{
		enabled:  enabled,
		accuracy: accuracy,
		dists:    make(map[string]*Distribution),
		started:  time.Now(),
	}
}

// Observe adds value to the named distribution.
func (r *Recorder) Observe(name string, value float64) {
	if !r.enabled {
		return
	}
	r.distribution(name).Add(value)
}

// ObserveSince adds the milliseconds elapsed since start to the named
// distribution.
func (r *Recorder) ObserveSince(name string, start time.Time) {
	if !r.enabled {
		return
	}
	r.Observe(name, float64(time.Since(start).Microseconds())/1000)
}

func (r *Recorder) distribution(name string) *Distribution {
	r.mu.RLock()
	d, ok := r.dists[name]
	r.mu.RUnlock()
	if ok {
		return d
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring write lock
	if d, ok := r.dists[name]; ok {
		return d
	}
	d = NewDistribution(name, r.accuracy)
	r.dists[name] = d
	return d
}

// IncAdds counts a stored solution.
func (r *Recorder) IncAdds() { r.adds.Add(1) }

// IncGets counts a fetched solution.
func (r *Recorder) IncGets() { r.gets.Add(1) }

// IncRollbacks counts a rolled back blob write.
func (r *Recorder) IncRollbacks() { r.rollbacks.Add(1) }

// IncErrors counts a failed engine call.
func (r *Recorder) IncErrors() { r.errors.Add(1) }

// IncShared counts a read served by another caller's in-flight read.
func (r *Recorder) IncShared() { r.shared.Add(1) }

// Snapshot returns the current counters and distribution summaries ordered
// by name.
func (r *Recorder) Snapshot() Snapshot {
	s := Snapshot{
		Uptime:      time.Since(r.started),
		Adds:        r.adds.Load(),
		Gets:        r.gets.Load(),
		Rollbacks:   r.rollbacks.Load(),
		Errors:      r.errors.Load(),
		SharedReads: r.shared.Load(),
	}

	r.mu.RLock()
	for _, d := range r.dists {
		s.Distributions = append(s.Distributions, d.Summary())
	}
	r.mu.RUnlock()

	sort.Slice(s.Distributions, func(i, j int) bool {
		return s.Distributions[i].Name < s.Distributions[j].Name
	})
	return s
}

// Get returns the summary of the named distribution.
func (r *Recorder) Get(name string) (Summary, bool) {
	r.mu.RLock()
	d, ok := r.dists[name]
	r.mu.RUnlock()
	if !ok {
		return Summary{}, false
	}
	return d.Summary(), true
}
