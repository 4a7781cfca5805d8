// Package sample runs Gibbs chains over the latent endophenotype and trait
// values and accumulates their draws.
package sample

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"mocasa/internal/data"
	"mocasa/internal/matrix"
	"mocasa/internal/params"
)

// Vars is the latent state of one chain: endophenotype values E (data
// points x endos) and trait values T (data points x traits).
type Vars struct {
	Es *matrix.Matrix
	Ts *matrix.Matrix
}

// NewVars starts every E at its prior mean and every T at the value that
// mean implies.
func NewVars(d *data.GwasData, p *params.Params) *Vars {
	n := d.NDataPoints()
	es := matrix.Fill(n, p.NEndos(), func(_, k int) float64 { return p.Mus[k] })
	ts := matrix.Fill(n, p.NTraits(), func(_, i int) float64 {
		t := 0.0
		for k, mu := range p.Mus {
			t += p.Beta(k, i) * mu
		}
		return t
	})
	return &Vars{Es: es, Ts: ts}
}

// Tracer observes every single draw. It must not influence sampling.
type Tracer interface {
	TraceE(chain, j, k int, e float64)
	TraceT(chain, j, i int, t float64)
}

// NoOpTracer ignores every draw.
type NoOpTracer struct{}

func (NoOpTracer) TraceE(int, int, int, float64) {}
func (NoOpTracer) TraceT(int, int, int, float64) {}

// GibbsSampler draws each latent variable from its full conditional
// under fixed parameters and observed data.
type GibbsSampler struct {
	data   *data.GwasData
	params *params.Params
	src    rand.Source
	tracer Tracer
	chain  int

	// per endo: 1/tau^2 + sum_i (beta_ki/sigma_i)^2
	ePrecisions []float64
	// per trait: 1/sigma_i^2
	tPrecisions []float64
}

// NewGibbsSampler precomputes the parameter-only parts of the conditionals.
// A nil tracer means NoOpTracer.
func NewGibbsSampler(d *data.GwasData, p *params.Params, src rand.Source, tracer Tracer, chain int) *GibbsSampler {
	if tracer == nil {
		tracer = NoOpTracer{}
	}
	tPrecisions := make([]float64, p.NTraits())
	for i, sigma := range p.Sigmas {
		tPrecisions[i] = 1 / (sigma * sigma)
	}
	ePrecisions := make([]float64, p.NEndos())
	for k, tau := range p.Taus {
		precision := 1 / (tau * tau)
		for i := range tPrecisions {
			beta := p.Beta(k, i)
			precision += beta * beta * tPrecisions[i]
		}
		ePrecisions[k] = precision
	}
	return &GibbsSampler{
		data: d, params: p, src: src, tracer: tracer, chain: chain,
		ePrecisions: ePrecisions, tPrecisions: tPrecisions,
	}
}

func (g *GibbsSampler) draw(mean, variance float64) float64 {
	return distuv.Normal{Mu: mean, Sigma: math.Sqrt(variance), Src: g.src}.Rand()
}

// ConditionalE returns mean and variance of E[j,k] given everything else.
func (g *GibbsSampler) ConditionalE(vars *Vars, j, k int) (float64, float64) {
	p := g.params
	es := vars.Es.Row(j)
	ts := vars.Ts.Row(j)
	tau := p.Taus[k]
	weighted := p.Mus[k] / (tau * tau)
	for i, t := range ts {
		residual := t
		for k2, e := range es {
			if k2 != k {
				residual -= p.Beta(k2, i) * e
			}
		}
		weighted += p.Beta(k, i) * residual * g.tPrecisions[i]
	}
	variance := 1 / g.ePrecisions[k]
	return variance * weighted, variance
}

// ConditionalT returns mean and variance of T[j,i] given everything else.
func (g *GibbsSampler) ConditionalT(vars *Vars, j, i int) (float64, float64) {
	p := g.params
	predicted := 0.0
	for k, e := range vars.Es.Row(j) {
		predicted += p.Beta(k, i) * e
	}
	observed := g.data.Betas.At(j, i)
	se := g.data.Ses.At(j, i)
	obsPrecision := 1 / (se * se)
	precision := g.tPrecisions[i] + obsPrecision
	mean := (predicted*g.tPrecisions[i] + observed*obsPrecision) / precision
	return mean, 1 / precision
}

// DrawE draws a new E[j,k] and stores it in vars.
func (g *GibbsSampler) DrawE(vars *Vars, j, k int) float64 {
	e := g.draw(g.ConditionalE(vars, j, k))
	vars.Es.Set(j, k, e)
	g.tracer.TraceE(g.chain, j, k, e)
	return e
}

// DrawT draws a new T[j,i] and stores it in vars.
func (g *GibbsSampler) DrawT(vars *Vars, j, i int) float64 {
	t := g.draw(g.ConditionalT(vars, j, i))
	vars.Ts.Set(j, i, t)
	g.tracer.TraceT(g.chain, j, i, t)
	return t
}

// Sweep visits every data point once: all endos, then all traits.
func (g *GibbsSampler) Sweep(vars *Vars) {
	nEndos, nTraits := g.params.NEndos(), g.params.NTraits()
	for j := 0; j < g.data.NDataPoints(); j++ {
		for k := 0; k < nEndos; k++ {
			g.DrawE(vars, j, k)
		}
		for i := 0; i < nTraits; i++ {
			g.DrawT(vars, j, i)
		}
	}
}
