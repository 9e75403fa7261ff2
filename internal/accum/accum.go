// Package accum holds the pure accumulation functions the monitor loop
// applies every tick: time-bucket updates with the budget invariant,
// token cost estimation, medians, and fleet aggregates. Every function
// is total and fully determined by its inputs; nothing here blocks,
// reads a clock, or returns an error.
package accum

import (
	"sort"
	"time"

	"github.com/steveyegge/overcode/internal/state"
)

// DefaultTolerance is the slack factor on the time-sum invariant:
// green + non_green + sleep may exceed wall time by 10% before the
// buckets are rescaled. Absorbs clock jitter between ticks.
const DefaultTolerance = 1.1

// Buckets is the triple of per-session time accumulators, in seconds.
type Buckets struct {
	Green    float64
	NonGreen float64
	Sleep    float64
}

// Sum returns the total accumulated seconds across all buckets.
func (b Buckets) Sum() float64 {
	return b.Green + b.NonGreen + b.Sleep
}

// UpdateResult reports what UpdateTimes did.
type UpdateResult struct {
	Buckets      Buckets
	StateChanged bool
	WasCapped    bool
}

// UpdateTimes adds elapsed seconds to the bucket dictated by curr:
// green statuses to Green, asleep to Sleep, terminated to nothing, and
// every other status to NonGreen. It then enforces the wall-time budget:
// if the bucket sum exceeds tolerance × (now − start), all three buckets
// are scaled uniformly so the sum equals now − start exactly, then
// clamped to the remaining budget in the order green → non_green →
// sleep. elapsed ≤ 0 leaves the buckets unchanged.
func UpdateTimes(curr, prev state.Status, elapsed float64, b Buckets,
	start, now time.Time, tolerance float64,
) UpdateResult {
	res := UpdateResult{Buckets: b, StateChanged: curr != prev}
	if elapsed <= 0 {
		return res
	}

	switch {
	case curr.Green():
		res.Buckets.Green += elapsed
	case curr == state.StatusAsleep:
		res.Buckets.Sleep += elapsed
	case curr == state.StatusTerminated:
		// Terminated accumulators never change.
	default:
		res.Buckets.NonGreen += elapsed
	}

	budget := now.Sub(start).Seconds()
	if budget < 0 {
		budget = 0
	}
	total := res.Buckets.Sum()
	if total <= budget*tolerance {
		return res
	}

	// Scale uniformly so the sum lands on the budget, then clamp each
	// bucket against what the earlier buckets left over.
	res.WasCapped = true
	if total > 0 {
		ratio := budget / total
		res.Buckets.Green *= ratio
		res.Buckets.NonGreen *= ratio
		res.Buckets.Sleep *= ratio
	}
	remaining := budget
	res.Buckets.Green = min(res.Buckets.Green, remaining)
	remaining -= res.Buckets.Green
	res.Buckets.NonGreen = min(res.Buckets.NonGreen, remaining)
	remaining -= res.Buckets.NonGreen
	res.Buckets.Sleep = min(res.Buckets.Sleep, remaining)
	return res
}

// Prices is the per-model USD cost per million tokens, one component
// per token class.
type Prices struct {
	Input      float64
	Output     float64
	CacheWrite float64
	CacheRead  float64
}

// DefaultPrices returns the stock price vector.
func DefaultPrices() Prices {
	return Prices{Input: 15.00, Output: 75.00, CacheWrite: 18.75, CacheRead: 1.50}
}

// CostEstimate returns the dot product of the token counts, in millions,
// with the price vector. Linear and monotonic in every component.
func CostEstimate(inTok, outTok, cwTok, crTok int64, p Prices) float64 {
	const mega = 1e6
	return float64(inTok)/mega*p.Input +
		float64(outTok)/mega*p.Output +
		float64(cwTok)/mega*p.CacheWrite +
		float64(crTok)/mega*p.CacheRead
}

// Median returns the ordered-statistic median of xs; an empty list
// yields 0. The input is not modified.
func Median(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

// Aggregate sums fleet-level counters across the given sessions,
// ignoring any session that is asleep. Active means present, awake,
// and not tombstoned.
func Aggregate(sessions []*state.Session) state.Aggregate {
	var agg state.Aggregate
	for _, s := range sessions {
		if s.IsAsleep {
			continue
		}
		if s.Status.Green() {
			agg.GreenCount++
		}
		agg.TotalGreen += s.Stats.GreenSeconds
		agg.TotalNonGreen += s.Stats.NonGreenSeconds
		if !s.Terminated() {
			agg.ActiveCount++
		}
	}
	return agg
}

// RunSeconds advances the remediation agent's cumulative runtime: with
// no start timestamp the previous total stands; otherwise the elapsed
// time since start (floored at zero) is added.
func RunSeconds(startedAt *time.Time, now time.Time, previousTotal float64) float64 {
	if startedAt == nil || startedAt.IsZero() {
		return previousTotal
	}
	elapsed := now.Sub(*startedAt).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	return previousTotal + elapsed
}
