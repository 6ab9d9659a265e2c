package metrics

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"
)

// LatencyTracker tracks per-endpoint fetch latency quantiles using DDSketch.
type LatencyTracker struct {
	mu               sync.Mutex
	sketches         map[string]*ddsketch.DDSketch
	relativeAccuracy float64
}

// NewLatencyTracker creates a new latency tracker with DDSketch.
// relativeAccuracy determines the accuracy of quantile estimates (e.g., 0.01 = 1% accuracy)
func NewLatencyTracker(relativeAccuracy float64) *LatencyTracker {
	return &LatencyTracker{
		sketches:         make(map[string]*ddsketch.DDSketch),
		relativeAccuracy: relativeAccuracy,
	}
}

// Record records a duration for the given endpoint.
func (lt *LatencyTracker) Record(endpoint string, duration time.Duration) {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	sketch, exists := lt.sketches[endpoint]
	if !exists {
		var err error
		sketch, err = ddsketch.LogUnboundedDenseDDSketch(lt.relativeAccuracy)
		if err != nil {
			sketch, _ = ddsketch.NewDefaultDDSketch(lt.relativeAccuracy)
		}
		lt.sketches[endpoint] = sketch
	}

	// milliseconds
	sketch.Add(float64(duration.Microseconds()) / 1000.0)
}

// Stats summarizes the latency distribution of one endpoint, in milliseconds.
type Stats struct {
	Endpoint string
	Count    int64
	Min      float64
	P50      float64
	P90      float64
	P99      float64
	Max      float64
}

// GetStats returns statistics for the given endpoint.
func (lt *LatencyTracker) GetStats(endpoint string) (Stats, error) {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	return lt.statsLocked(endpoint)
}

func (lt *LatencyTracker) statsLocked(endpoint string) (Stats, error) {
	sketch, exists := lt.sketches[endpoint]
	if !exists {
		return Stats{}, fmt.Errorf("no data for endpoint: %s", endpoint)
	}

	count := sketch.GetCount()
	if count == 0 {
		return Stats{Endpoint: endpoint}, nil
	}

	min, _ := sketch.GetMinValue()
	p50, _ := sketch.GetValueAtQuantile(0.50)
	p90, _ := sketch.GetValueAtQuantile(0.90)
	p99, _ := sketch.GetValueAtQuantile(0.99)
	max, _ := sketch.GetMaxValue()

	return Stats{
		Endpoint: endpoint,
		Count:    int64(count),
		Min:      min,
		P50:      p50,
		P90:      p90,
		P99:      p99,
		Max:      max,
	}, nil
}

// GetAllStats returns statistics for all tracked endpoints, sorted by name.
func (lt *LatencyTracker) GetAllStats() []Stats {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	stats := make([]Stats, 0, len(lt.sketches))
	for endpoint := range lt.sketches {
		if stat, err := lt.statsLocked(endpoint); err == nil {
			stats = append(stats, stat)
		}
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Endpoint < stats[j].Endpoint })
	return stats
}

func (s Stats) String() string {
	if s.Count == 0 {
		return fmt.Sprintf("  %s: no data", s.Endpoint)
	}
	return fmt.Sprintf("  %s (n=%d): min=%.2fms p50=%.2fms p90=%.2fms p99=%.2fms max=%.2fms",
		s.Endpoint, s.Count, s.Min, s.P50, s.P90, s.P99, s.Max)
}
