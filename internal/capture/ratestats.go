package capture

import (
	"sort"

	"github.com/KLayOnStudio/dojogo-sub000/internal/ingest"
	"gonum.org/v1/gonum/stat"
)

// ComputeRateStats summarizes achieved sampling quality from the raw
// timestamps, across every chunk of the session. Returns nil rather than
// degenerate values (NaN, Inf) when there are fewer than two samples or
// zero elapsed time; finalize treats a missing block as "old client".
func ComputeRateStats(timestampsNs []int64, sequences []int64) *ingest.RateStats {
	n := len(timestampsNs)
	if n < 2 {
		return nil
	}

	ts := make([]int64, n)
	copy(ts, timestampsNs)
	sort.Slice(ts, func(i, j int) bool { return ts[i] < ts[j] })

	durationMs := float64(ts[n-1]-ts[0]) / 1e6
	if durationMs <= 0 {
		return nil
	}

	deltas := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		deltas = append(deltas, float64(ts[i]-ts[i-1])/1e6)
	}
	sort.Float64s(deltas)

	stats := &ingest.RateStats{
		SamplesTotal: int64(n),
		DurationMs:   durationMs,
		MeanHz:       float64(n) / (durationMs / 1000),
		DtMsP50:      stat.Quantile(0.5, stat.Empirical, deltas, nil),
		DtMsP95:      stat.Quantile(0.95, stat.Empirical, deltas, nil),
		DtMsMax:      deltas[len(deltas)-1],
	}

	if pct, ok := droppedSeqPct(sequences); ok {
		stats.DroppedSeqPct = &pct
	}
	return stats
}

// droppedSeqPct estimates sample loss from gaps in the monotonically
// increasing sequence counter.
func droppedSeqPct(sequences []int64) (float64, bool) {
	if len(sequences) < 2 {
		return 0, false
	}
	first, last := sequences[0], sequences[0]
	for _, s := range sequences {
		if s < first {
			first = s
		}
		if s > last {
			last = s
		}
	}
	expected := last - first + 1
	if expected <= 0 {
		return 0, false
	}
	dropped := expected - int64(len(sequences))
	if dropped < 0 {
		dropped = 0
	}
	return float64(dropped) / float64(expected) * 100, true
}
