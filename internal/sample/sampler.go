package sample

import (
	"math/rand/v2"

	"mocasa/internal/data"
	"mocasa/internal/metrics"
	"mocasa/internal/params"
)

// Sampler runs one or more chains under the same parameters, one after
// the other on the calling goroutine.
type Sampler struct {
	data   *data.GwasData
	params *params.Params
	chains []*chain
}

type chain struct {
	vars  *Vars
	gibbs *GibbsSampler
}

// NewSampler creates nChains chains at the prior means. Chain c draws from
// PCG(seed, stream+c).
func NewSampler(d *data.GwasData, p *params.Params, nChains int, seed, stream uint64, tracer Tracer) *Sampler {
	chains := make([]*chain, nChains)
	for c := range chains {
		src := rand.NewPCG(seed, stream+uint64(c))
		chains[c] = &chain{
			vars:  NewVars(d, p),
			gibbs: NewGibbsSampler(d, p, src, tracer, c),
		}
	}
	return &Sampler{data: d, params: p, chains: chains}
}

// NChains returns the number of chains.
func (s *Sampler) NChains() int { return len(s.chains) }

// Params returns the parameters the chains sample under.
func (s *Sampler) Params() *params.Params { return s.params }

// Vars returns the current state of chain c.
func (s *Sampler) Vars(c int) *Vars { return s.chains[c].vars }

// BurnIn sweeps every chain nSteps times without recording.
func (s *Sampler) BurnIn(nSteps int, mode string) {
	for _, c := range s.chains {
		for step := 0; step < nSteps; step++ {
			c.gibbs.Sweep(c.vars)
		}
	}
	metrics.GibbsSweeps.WithLabelValues(mode).Add(float64(nSteps * len(s.chains)))
}

// NewStats returns one empty accumulator per chain.
func (s *Sampler) NewStats() []*VarStats {
	stats := make([]*VarStats, len(s.chains))
	for c := range stats {
		stats[c] = NewVarStats(s.data.NDataPoints(), s.params.NEndos(), s.params.NTraits())
	}
	return stats
}

// SampleN sweeps every chain nSteps times, adding each state to that
// chain's accumulator.
func (s *Sampler) SampleN(stats []*VarStats, nSteps int, mode string) {
	for c, ch := range s.chains {
		for step := 0; step < nSteps; step++ {
			ch.gibbs.Sweep(ch.vars)
			stats[c].Add(ch.vars)
		}
	}
	metrics.GibbsSweeps.WithLabelValues(mode).Add(float64(nSteps * len(s.chains)))
}

// Merged sums the per-chain accumulators into a new one.
func Merged(stats []*VarStats) (*VarStats, error) {
	nDataPoints, nEndos := stats[0].eSums.Dims()
	merged := NewVarStats(nDataPoints, nEndos, stats[0].tSums.Cols())
	for _, s := range stats {
		if err := merged.Merge(s); err != nil {
			return nil, err
		}
	}
	return merged, nil
}
