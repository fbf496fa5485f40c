// Package stats tracks engine operation counts and value distributions
// such as payload sizes and call latencies.
package stats

import (
	"math"
	"sync"

	"github.com/DataDog/sketches-go/ddsketch"
)

// Distribution maintains running statistics for one measured quantity.
// Quantiles come from a DDSketch when one could be created.
type Distribution struct {
	mu sync.Mutex

	name     string
	accuracy float64

	// Running statistics
	count int64
	sum   float64
	min   float64
	max   float64

	// DDSketch for quantiles (nil if disabled)
	sketch *ddsketch.DDSketch
}

// Summary is a snapshot of a Distribution.
type Summary struct {
	Name  string  `yaml:"name"`
	Count int64   `yaml:"count"`
	Sum   float64 `yaml:"sum"`
	Min   float64 `yaml:"min"`
	Max   float64 `yaml:"max"`
	Avg   float64 `yaml:"avg"`

	// Quantiles are zero when the sketch is disabled.
	P50 float64 `yaml:"p50"`
	P90 float64 `yaml:"p90"`
	P99 float64 `yaml:"p99"`
}

// NewDistribution creates a Distribution. A non-positive accuracy disables
// quantiles.
func NewDistribution(name string, accuracy float64) *Distribution {
	d := &Distribution{
		name:     name,
		accuracy: accuracy,
	}
	d.reset()
	return d
}

func (d *Distribution) reset() {
	d.count = 0
	d.sum = 0
	d.min = math.MaxFloat64
	d.max = -math.MaxFloat64
	d.sketch = nil

	if d.accuracy > 0 {
		// DDSketch has no Clear method; start from a fresh one.
		sketch, err := ddsketch.NewDefaultDDSketch(d.accuracy)
		if err == nil {
			d.sketch = sketch
		}
	}
}

// Add records one value. DDSketch only accepts non-negative values;
// negative ones still count towards the running statistics.
func (d *Distribution) Add(value float64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.count++
	d.sum += value

	if value < d.min {
		d.min = value
	}
	if value > d.max {
		d.max = value
	}

	if d.sketch != nil && value >= 0 {
		d.sketch.Add(value)
	}
}

// Count returns the number of recorded values.
func (d *Distribution) Count() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.count
}

// Summary returns a snapshot of the distribution.
func (d *Distribution) Summary() Summary {
	d.mu.Lock()
	defer d.mu.Unlock()

	s := Summary{
		Name:  d.name,
		Count: d.count,
		Sum:   d.sum,
	}

	if d.count > 0 {
		s.Avg = d.sum / float64(d.count)
		s.Min = d.min
		s.Max = d.max
	}

	if d.sketch != nil && !d.sketch.IsEmpty() {
		s.P50, _ = d.sketch.GetValueAtQuantile(0.50)
		s.P90, _ = d.sketch.GetValueAtQuantile(0.90)
		s.P99, _ = d.sketch.GetValueAtQuantile(0.99)
	}

	return s
}

// Reset clears all recorded values.
func (d *Distribution) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reset()
}

// Merge folds other into d.
func (d *Distribution) Merge(other *Distribution) {
	if other == nil || other == d {
		return
	}

	other.mu.Lock()
	if other.count == 0 {
		other.mu.Unlock()
		return
	}
	count, sum, min, max := other.count, other.sum, other.min, other.max
	var sketch *ddsketch.DDSketch
	if other.sketch != nil {
		sketch = other.sketch.Copy()
	}
	other.mu.Unlock()

	d.mu.Lock()
	defer d.mu.Unlock()

	d.count += count
	d.sum += sum
	if min < d.min {
		d.min = min
	}
	if max > d.max {
		d.max = max
	}

	if d.sketch != nil && sketch != nil {
		d.sketch.MergeWith(sketch)
	}
}
