package train

import (
	"fmt"
	"math"
	"strings"

	"mocasa/internal/params"
	"mocasa/internal/stats"
)

// ParamMetaStats tracks, for every chain in use and every parameter, a
// WootzStats over the chain's successive estimates. A chain that returns
// an invalid estimate is left out of summaries until the next round.
type ParamMetaStats struct {
	nEndos     int
	traitNames []string
	chains     []int
	excluded   []bool
	stats      [][]*stats.WootzStats
}

// NewParamMetaStats seeds one statistic per parameter for every chain
// whose two bootstrap estimates are both valid.
func NewParamMetaStats(nEndos int, traitNames []string, config stats.WootzConfig,
	first, second []Sampled) *ParamMetaStats {
	m := &ParamMetaStats{nEndos: nEndos, traitNames: traitNames}
	for c := range first {
		if !first[c].Valid() || !second[c].Valid() {
			continue
		}
		v0, v1 := first[c].Params.Vec(), second[c].Params.Vec()
		chainStats := make([]*stats.WootzStats, len(v0))
		for n := range v0 {
			chainStats[n] = stats.NewWootzStats(v0[n], v1[n], config)
		}
		m.chains = append(m.chains, c)
		m.stats = append(m.stats, chainStats)
	}
	m.excluded = make([]bool, len(m.chains))
	return m
}

// NChainsTracked is the number of chains valid at bootstrap.
func (m *ParamMetaStats) NChainsTracked() int { return len(m.chains) }

// NChainsUsed is the number of chains contributing to the next summary.
func (m *ParamMetaStats) NChainsUsed() int {
	n := 0
	for _, excluded := range m.excluded {
		if !excluded {
			n++
		}
	}
	return n
}

// StartRound lets every tracked chain contribute again.
func (m *ParamMetaStats) StartRound() { clear(m.excluded) }

// Add feeds the valid estimates of the tracked chains and returns how many
// were added. Chains with an invalid estimate are excluded for the round.
func (m *ParamMetaStats) Add(responses []Sampled) int {
	added := 0
	for n, c := range m.chains {
		if !responses[c].Valid() {
			m.excluded[n] = true
			continue
		}
		for i, v := range responses[c].Params.Vec() {
			m.stats[n][i].Add(v)
		}
		added++
	}
	return added
}

// Summary pools the chains into parameter estimates and diagnostics.
type Summary struct {
	NChainsUsed          int
	Params               *params.Params
	IntraChainVars       []float64
	InterChainVars       []float64
	InterIntraRatios     []float64
	RelativeErrors       []float64
	Autocities           []float64
	Truncations          []float64
	InterIntraRatiosMean float64
	RelativeErrorsMean   float64
	AutocitiesMean       float64
	TruncationsMean      float64
}

// Summary computes, over the chains in use, the pooled mean of every
// parameter, the mean of the per-chain variances (intra) and the variance
// of the per-chain means (inter). Needs at least two chains.
func (m *ParamMetaStats) Summary() (*Summary, error) {
	var used []int
	for n, excluded := range m.excluded {
		if !excluded {
			used = append(used, n)
		}
	}
	nChains := len(used)
	if nChains < 2 {
		return nil, fmt.Errorf("need at least two chains for a summary, got %d: %w", nChains, ErrTooFewChains)
	}
	indices := params.Indices(m.nEndos, len(m.traitNames))
	nParams := len(indices)
	values := make([]float64, nParams)
	s := &Summary{
		NChainsUsed:      nChains,
		IntraChainVars:   make([]float64, nParams),
		InterChainVars:   make([]float64, nParams),
		InterIntraRatios: make([]float64, nParams),
		RelativeErrors:   make([]float64, nParams),
		Autocities:       make([]float64, nParams),
		Truncations:      make([]float64, nParams),
	}
	for n := range indices {
		var means, variances, autocities, truncations stats.Stats
		for _, c := range used {
			w := m.stats[c][n]
			means.Add(w.Mean())
			variances.Add(w.Variance())
			if autocity, ok := w.Autocity(); ok {
				autocities.Add(autocity)
			}
			truncations.Add(float64(w.NTruncated()))
		}
		values[n], _ = means.Mean()
		s.IntraChainVars[n], _ = variances.Mean()
		s.InterChainVars[n], _ = means.Variance()
		if autocity, ok := autocities.Mean(); ok {
			s.Autocities[n] = autocity
		} else {
			s.Autocities[n] = math.NaN()
		}
		s.Truncations[n], _ = truncations.Mean()
	}
	pooled, err := params.FromVec(m.nEndos, m.traitNames, values)
	if err != nil {
		return nil, err
	}
	s.Params = pooled
	for n, index := range indices {
		intra, inter := s.IntraChainVars[n], s.InterChainVars[n]
		if !(intra > 0) {
			// held fixed by normalization, carries no information
			s.InterIntraRatios[n] = math.NaN()
			s.RelativeErrors[n] = math.NaN()
			continue
		}
		s.InterIntraRatios[n] = inter / intra
		s.RelativeErrors[n] = math.Sqrt(intra) / naturalScale(pooled, index) / math.Sqrt(float64(nChains))
	}
	s.InterIntraRatiosMean = meanOf(s.InterIntraRatios)
	s.RelativeErrorsMean = meanOf(s.RelativeErrors)
	s.AutocitiesMean = meanOf(s.Autocities)
	s.TruncationsMean = meanOf(s.Truncations)
	return s, nil
}

// naturalScale is the magnitude a parameter's error is measured against:
// its own value, but for a mean at least the prior width and for a
// loading at least the residual noise per unit of endophenotype.
func naturalScale(p *params.Params, index params.Index) float64 {
	v := math.Abs(p.Get(index))
	switch index.Kind {
	case params.KindMu:
		return math.Max(v, math.Abs(p.Taus[index.K]))
	case params.KindBeta:
		return math.Max(v, math.Abs(p.Sigmas[index.I]/p.Taus[index.K]))
	}
	return v
}

// meanOf averages the values that are not NaN.
func meanOf(values []float64) float64 {
	var s stats.Stats
	for _, v := range values {
		if !math.IsNaN(v) {
			s.Add(v)
		}
	}
	mean, ok := s.Mean()
	if !ok {
		return math.NaN()
	}
	return mean
}

func str12(v any) string {
	if f, ok := v.(float64); ok {
		return fmt.Sprintf("%-12.12s", fmt.Sprintf("%.6g", f))
	}
	return fmt.Sprintf("%-12.12s", fmt.Sprint(v))
}

// String renders the diagnostics as a fixed-width table.
func (s *Summary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Chains used: %d\n", s.NChainsUsed)
	fmt.Fprintf(&b, "Relative errors mean: %.6g\n", s.RelativeErrorsMean)
	fmt.Fprintf(&b, "Inter/intra ratios mean: %.6g\n", s.InterIntraRatiosMean)
	fmt.Fprintf(&b, "Mean autocity: %.6g\n", s.AutocitiesMean)
	fmt.Fprintf(&b, "Mean truncations: %.6g\n", s.TruncationsMean)
	header := []string{"param", "value", "rel.err.", "inter_chains", "intra_chains", "ratio", "autocity", "truncations"}
	for n, h := range header {
		if n > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(str12(h))
	}
	b.WriteByte('\n')
	p := s.Params
	for n, index := range params.Indices(p.NEndos(), p.NTraits()) {
		interSD := math.Sqrt(s.InterChainVars[n])
		intraSD := math.Sqrt(s.IntraChainVars[n])
		row := []string{
			str12(index.Name(p.TraitNames)), str12(p.Get(index)), str12(s.RelativeErrors[n]),
			str12(interSD), str12(intraSD), str12(interSD / intraSD),
			str12(s.Autocities[n]), str12(s.Truncations[n]),
		}
		b.WriteString(strings.Join(row, " "))
		b.WriteByte('\n')
	}
	return b.String()
}
