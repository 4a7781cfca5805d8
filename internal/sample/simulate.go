package sample

import (
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"mocasa/internal/data"
	"mocasa/internal/matrix"
	"mocasa/internal/params"
)

// Simulate draws nVariants from the model: E ~ N(mu, tau^2), T = beta'E +
// N(0, sigma^2), and an observed beta = T + N(0, se^2) with the given
// standard error for every trait. Variant ids are var_0, var_1, ...
func Simulate(p *params.Params, nVariants int, se float64, src rand.Source) (*data.GwasData, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if !(se > 0) {
		return nil, fmt.Errorf("standard error must be positive, got %v", se)
	}
	std := distuv.Normal{Mu: 0, Sigma: 1, Src: src}
	nTraits := p.NTraits()
	ids := make([]string, nVariants)
	betas := matrix.New(nVariants, nTraits)
	es := make([]float64, p.NEndos())
	for j := 0; j < nVariants; j++ {
		ids[j] = fmt.Sprintf("var_%d", j)
		for k := range es {
			es[k] = p.Mus[k] + p.Taus[k]*std.Rand()
		}
		for i := 0; i < nTraits; i++ {
			t := p.Sigmas[i] * std.Rand()
			for k, e := range es {
				t += p.Beta(k, i) * e
			}
			betas.Set(j, i, t+se*std.Rand())
		}
	}
	ses := matrix.Fill(nVariants, nTraits, func(int, int) float64 { return se })
	meta := &data.Meta{VarIDs: ids, TraitNames: append([]string(nil), p.TraitNames...)}
	return data.NewGwasData(meta, betas, ses)
}
