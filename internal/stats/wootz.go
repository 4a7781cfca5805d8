package stats

import "math"

// Default snapshot housekeeping constants.
const (
	DefaultNPerSnapshot = 10
	DefaultMaxSnapshots = 20
)

// WootzConfig controls the snapshot cadence of a WootzStats.
type WootzConfig struct {
	NPerSnapshot int `toml:"n_per_snapshot" yaml:"n_per_snapshot" json:"n_per_snapshot" validate:"gte=0"`
	MaxSnapshots int `toml:"max_snapshots" yaml:"max_snapshots" json:"max_snapshots" validate:"gte=0"`
}

// WithDefaults fills zero fields with the package defaults.
func (c WootzConfig) WithDefaults() WootzConfig {
	if c.NPerSnapshot <= 0 {
		c.NPerSnapshot = DefaultNPerSnapshot
	}
	if c.MaxSnapshots < 3 {
		c.MaxSnapshots = DefaultMaxSnapshots
	}
	return c
}

// WootzStats is a running mean/variance with a bounded stack of periodic
// snapshots of its own state.
//
// When the stack overflows, the oldest chunk is either cut off (the series
// has settled and the first chunk is its worst outlier) or the stack is
// folded to half its resolution at twice the period (still drifting).
// Snapshot sub-means also yield an autocorrelation estimate.
type WootzStats struct {
	tally        Tally
	snapshots    []Tally
	nPerSnapshot int
	maxSnapshots int
	nTruncated   int
	nFolded      int
}

// NewWootzStats seeds the statistic with two bootstrap values.
func NewWootzStats(x0, x1 float64, config WootzConfig) *WootzStats {
	config = config.WithDefaults()
	return &WootzStats{
		tally:        NewTally(x0, x1),
		nPerSnapshot: config.NPerSnapshot,
		maxSnapshots: config.MaxSnapshots,
	}
}

// NewWootzStatsAround seeds the statistic with mean ± stdDev.
func NewWootzStatsAround(mean, stdDev float64, config WootzConfig) *WootzStats {
	return NewWootzStats(mean-stdDev, mean+stdDev, config)
}

// Add folds one value in, snapshotting and housekeeping as needed.
func (w *WootzStats) Add(x float64) {
	w.tally.Add(x)
	if w.tally.N-w.lastSnapshotN() >= w.nPerSnapshot {
		w.snapshots = append(w.snapshots, w.tally)
		if len(w.snapshots) > w.maxSnapshots {
			if w.shouldTruncate() {
				w.truncate()
			} else {
				w.fold()
			}
		}
	}
}

func (w *WootzStats) lastSnapshotN() int {
	if len(w.snapshots) == 0 {
		return 0
	}
	return w.snapshots[len(w.snapshots)-1].N
}

// shouldTruncate reports whether every window between consecutive snapshots
// has a sub-mean strictly closer to the global mean than the first snapshot.
func (w *WootzStats) shouldTruncate() bool {
	if len(w.snapshots) < 2 {
		return false
	}
	mean := w.tally.Mean
	firstDistance := math.Abs(w.snapshots[0].Mean - mean)
	for i := 1; i < len(w.snapshots); i++ {
		window := w.snapshots[i].Minus(w.snapshots[i-1])
		if math.Abs(window.Mean-mean) >= firstDistance {
			return false
		}
	}
	return true
}

// truncate drops every value up to the first snapshot.
func (w *WootzStats) truncate() {
	first := w.snapshots[0]
	w.tally = w.tally.Minus(first)
	rest := w.snapshots[1:]
	rebased := make([]Tally, len(rest))
	for i, snap := range rest {
		rebased[i] = snap.Minus(first)
	}
	w.snapshots = rebased
	w.nTruncated++
}

// fold discards every even-indexed snapshot and doubles the period.
func (w *WootzStats) fold() {
	kept := w.snapshots[:0]
	for i, snap := range w.snapshots {
		if i%2 == 1 {
			kept = append(kept, snap)
		}
	}
	w.snapshots = kept
	w.nPerSnapshot *= 2
	w.nFolded++
}

// N returns the number of retained values, bootstrap values included.
func (w *WootzStats) N() int { return w.tally.N }

// Mean returns the mean of the retained values.
func (w *WootzStats) Mean() float64 { return w.tally.Mean }

// Variance returns the sample variance of the retained values.
func (w *WootzStats) Variance() float64 { return w.tally.Variance() }

// StdDev returns the square root of Variance.
func (w *WootzStats) StdDev() float64 { return math.Sqrt(w.Variance()) }

// Tally returns the primary running state.
func (w *WootzStats) Tally() Tally { return w.tally }

// NSnapshots returns the current snapshot count.
func (w *WootzStats) NSnapshots() int { return len(w.snapshots) }

// NPerSnapshot returns the current snapshot period.
func (w *WootzStats) NPerSnapshot() int { return w.nPerSnapshot }

// NTruncated returns how many times the oldest chunk was dropped.
func (w *WootzStats) NTruncated() int { return w.nTruncated }

// NFolded returns how many times the snapshot stack was folded.
func (w *WootzStats) NFolded() int { return w.nFolded }

// Autocity estimates autocorrelation from the spread of window sub-means:
// the variance of the sub-means relative to the total variance, scaled by
// the window length. Close to 1 or below means well mixed; close to the
// window length means the window does no averaging at all.
// It needs at least three snapshots.
func (w *WootzStats) Autocity() (float64, bool) {
	if len(w.snapshots) < 3 {
		return math.NaN(), false
	}
	var subMeans Stats
	for i := 1; i < len(w.snapshots); i++ {
		subMeans.Add(w.snapshots[i].Minus(w.snapshots[i-1]).Mean)
	}
	subVariance, ok := subMeans.Variance()
	total := w.Variance()
	if !ok || total <= 0 {
		return math.NaN(), false
	}
	return float64(w.nPerSnapshot) * subVariance / total, true
}
