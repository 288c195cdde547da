package loadtest

import (
	"sort"
	"sync"
)

// percentileMinSamples gates p95/p99: below this sample count the
// percentiles are not meaningful and stay null.
const percentileMinSamples = 20

// sampleSet accumulates per-request outcomes across virtual users.
type sampleSet struct {
	mu        sync.Mutex
	latencies []int64
	success   int
	failed    int
}

func (s *sampleSet) add(latencyMS int64, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latencies = append(s.latencies, latencyMS)
	if ok {
		s.success++
	} else {
		s.failed++
	}
}

// aggregate is the rolled-up summary of a sample set.
type aggregate struct {
	Total   int
	Success int
	Failed  int
	AvgMS   *int64
	MinMS   *int64
	MaxMS   *int64
	P95MS   *int64
	P99MS   *int64
}

// summarize computes the report aggregates. Avg, min and max consider only
// positive latencies; p95/p99 are computed from the full sorted sample and
// only when at least percentileMinSamples were recorded.
func (s *sampleSet) summarize() aggregate {
	s.mu.Lock()
	defer s.mu.Unlock()

	agg := aggregate{
		Total:   len(s.latencies),
		Success: s.success,
		Failed:  s.failed,
	}

	var (
		sum      int64
		count    int64
		min, max int64
	)
	for _, l := range s.latencies {
		if l <= 0 {
			continue
		}
		sum += l
		count++
		if min == 0 || l < min {
			min = l
		}
		if l > max {
			max = l
		}
	}
	if count > 0 {
		avg := sum / count
		agg.AvgMS = &avg
		agg.MinMS = &min
		agg.MaxMS = &max
	}

	if n := len(s.latencies); n >= percentileMinSamples {
		sorted := make([]int64, n)
		copy(sorted, s.latencies)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

		p95 := sorted[n*95/100]
		p99 := sorted[n*99/100]
		agg.P95MS = &p95
		agg.P99MS = &p99
	}

	return agg
}
