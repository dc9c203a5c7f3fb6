// Package stats maintains the short-term rolling detection history and the
// crowd-level classification table.
package stats

import (
	"fmt"
	"sync"

	"crowdwatch/pkg/types"
)

// Bucket is one row of the classification table. A count classifies into the
// first bucket whose Below it is strictly under; the final bucket is
// unbounded (Below == 0).
type Bucket struct {
	Below     int
	Level     string
	WaitRange string
}

// Classifier maps person counts to crowd levels. It is immutable after
// construction and safe for concurrent use.
type Classifier struct {
	buckets []Bucket
}

// NewClassifier builds a classifier from an ordered bucket table. The table
// must have strictly increasing thresholds and end with one unbounded
// bucket.
func NewClassifier(buckets []Bucket) (*Classifier, error) {
	if len(buckets) == 0 {
		return nil, fmt.Errorf("classification table must not be empty")
	}
	last := len(buckets) - 1
	prev := 0
	for i, b := range buckets {
		if i == last {
			if b.Below != 0 {
				return nil, fmt.Errorf("final bucket must be unbounded")
			}
			break
		}
		if b.Below <= prev {
			return nil, fmt.Errorf("bucket %d: threshold %d not strictly increasing", i, b.Below)
		}
		prev = b.Below
	}
	table := make([]Bucket, len(buckets))
	copy(table, buckets)
	return &Classifier{buckets: table}, nil
}

// Classify returns the level for a person count. Total over count >= 0:
// every count lands in exactly one bucket.
func (c *Classifier) Classify(count int) types.CrowdLevel {
	for i, b := range c.buckets {
		if i == len(c.buckets)-1 || count < b.Below {
			return types.CrowdLevel{Level: b.Level, WaitRange: b.WaitRange}
		}
	}
	// Unreachable: the final bucket is unbounded.
	last := c.buckets[len(c.buckets)-1]
	return types.CrowdLevel{Level: last.Level, WaitRange: last.WaitRange}
}

// Aggregator keeps a bounded FIFO history of completed detections and
// derives rolling statistics from it. The detection worker is the only
// writer; readers always get copies.
type Aggregator struct {
	classifier *Classifier

	mu      sync.Mutex
	entries []types.HistoryEntry // ring storage
	head    int                  // index of the oldest entry
	size    int
}

// NewAggregator creates an aggregator with the given window capacity.
func NewAggregator(capacity int, classifier *Classifier) *Aggregator {
	if capacity < 1 {
		capacity = 1
	}
	return &Aggregator{
		classifier: classifier,
		entries:    make([]types.HistoryEntry, capacity),
	}
}

// Add appends a completed detection, evicting the oldest entry once the
// window is full.
func (a *Aggregator) Add(entry types.HistoryEntry) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.size < len(a.entries) {
		a.entries[(a.head+a.size)%len(a.entries)] = entry
		a.size++
		return
	}
	a.entries[a.head] = entry
	a.head = (a.head + 1) % len(a.entries)
}

// History returns the buffered entries oldest-first as a copy.
func (a *Aggregator) History() []types.HistoryEntry {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]types.HistoryEntry, a.size)
	for i := 0; i < a.size; i++ {
		out[i] = a.entries[(a.head+i)%len(a.entries)]
	}
	return out
}

// Rolling computes avg/min/max over whatever is currently buffered. An
// empty window yields zeroes.
func (a *Aggregator) Rolling() types.RollingStats {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.size == 0 {
		return types.RollingStats{}
	}

	first := a.entries[a.head].PersonCount
	stats := types.RollingStats{Min: first, Max: first, WindowSize: a.size}
	sum := 0
	for i := 0; i < a.size; i++ {
		n := a.entries[(a.head+i)%len(a.entries)].PersonCount
		sum += n
		if n < stats.Min {
			stats.Min = n
		}
		if n > stats.Max {
			stats.Max = n
		}
	}
	stats.Avg = float64(sum) / float64(a.size)
	return stats
}

// Classify exposes the classifier to callers holding only the aggregator.
func (a *Aggregator) Classify(count int) types.CrowdLevel {
	return a.classifier.Classify(count)
}
