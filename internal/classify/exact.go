package classify

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"mocasa/internal/params"
)

var ErrSingular = errors.New("posterior precision is singular")

// CalculateMu is the closed-form posterior mean of the single
// endophenotype of one variant, with the latent traits integrated out:
// each observation contributes beta_i*o_i/(sigma_i^2+se_i^2) to the
// numerator and beta_i^2/(sigma_i^2+se_i^2) to the precision.
func CalculateMu(p *params.Params, betas, ses []float64) (float64, error) {
	if p.NEndos() != 1 {
		return 0, fmt.Errorf("closed form needs exactly one endophenotype, got %d", p.NEndos())
	}
	if len(betas) != p.NTraits() || len(ses) != p.NTraits() {
		return 0, fmt.Errorf("%d observations for %d traits", len(betas), p.NTraits())
	}
	tau2 := p.Taus[0] * p.Taus[0]
	numerator := p.Mus[0] / tau2
	precision := 1 / tau2
	for i, o := range betas {
		beta, sigma, se := p.Beta(0, i), p.Sigmas[i], ses[i]
		v := sigma*sigma + se*se
		numerator += beta * o / v
		precision += beta * beta / v
	}
	return numerator / precision, nil
}

// ExactMeans is the posterior mean of every endophenotype of one variant
// for any number of endophenotypes: with D = diag(sigma^2+se^2), the
// precision is diag(1/tau^2) + B D^-1 B' and the mean solves
// precision * m = mu/tau^2 + B D^-1 o.
func ExactMeans(p *params.Params, betas, ses []float64) ([]float64, error) {
	nEndos, nTraits := p.NEndos(), p.NTraits()
	if len(betas) != nTraits || len(ses) != nTraits {
		return nil, fmt.Errorf("%d observations for %d traits", len(betas), nTraits)
	}
	precision := mat.NewSymDense(nEndos, nil)
	rhs := mat.NewVecDense(nEndos, nil)
	for k := 0; k < nEndos; k++ {
		tau2 := p.Taus[k] * p.Taus[k]
		precision.SetSym(k, k, 1/tau2)
		rhs.SetVec(k, p.Mus[k]/tau2)
	}
	for i := 0; i < nTraits; i++ {
		w := 1 / (p.Sigmas[i]*p.Sigmas[i] + ses[i]*ses[i])
		for k := 0; k < nEndos; k++ {
			rhs.SetVec(k, rhs.AtVec(k)+p.Beta(k, i)*w*betas[i])
			for l := k; l < nEndos; l++ {
				precision.SetSym(k, l, precision.At(k, l)+p.Beta(k, i)*w*p.Beta(l, i))
			}
		}
	}

	var chol mat.Cholesky
	if !chol.Factorize(precision) {
		return nil, ErrSingular
	}
	var means mat.VecDense
	if err := chol.SolveVecTo(&means, rhs); err != nil {
		return nil, fmt.Errorf("solve posterior mean: %w", err)
	}
	return mat.Col(nil, 0, &means), nil
}
