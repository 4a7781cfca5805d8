package train

import (
	"mocasa/internal/data"
	"mocasa/internal/metrics"
	"mocasa/internal/params"
	"mocasa/internal/pool"
	"mocasa/internal/sample"
)

// newWorker returns the body of one chain worker. Every reset draws from
// a fresh PCG stream derived from the worker id and the reset count.
func newWorker(d *data.GwasData, initial *params.Params, config Config) pool.Run[Command, Sampled] {
	return func(id int, inbox <-chan Command, send func(Sampled)) {
		var sampler *sample.Sampler
		generation := uint64(0)
		reset := func(p *params.Params) {
			stream := uint64(id)<<32 | generation
			generation++
			sampler = sample.NewSampler(d, p, 1, config.Seed, stream, nil)
			sampler.BurnIn(config.NStepsBurnIn, metrics.ModeBurnIn)
		}
		reset(initial)
		for command := range inbox {
			switch c := command.(type) {
			case Shutdown:
				return
			case SetParams:
				reset(c.Params)
			case TakeSamples:
				stats := sampler.NewStats()
				sampler.SampleN(stats, c.N, metrics.ModeSample)
				estimate, err := stats[0].ComputeNewParams(d.Meta.TraitNames)
				if err == nil {
					estimate = estimate.NormalizedWithTauOne()
				}
				send(Sampled{Worker: id, Params: estimate, Err: err})
			}
		}
	}
}
