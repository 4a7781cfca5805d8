package params

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"mocasa/internal/data"
	"mocasa/internal/matrix"
)

// Estimate derives starting parameters from the observed betas by a
// probabilistic PCA of their covariance, after removing the mean squared
// standard error of every trait. The loadings of endophenotype k come from
// the k-th leading eigenvector, every trait starts with the same noise
// (the mean eigenvalue the endophenotypes leave out), and the priors are
// N(mu, 1) with mu the least-squares fit of the trait means.
func Estimate(d *data.GwasData, nEndos int) (*Params, error) {
	if nEndos < 1 {
		return nil, fmt.Errorf("need at least one endophenotype, got %d: %w", nEndos, ErrInvalidParams)
	}
	nTraits := d.NTraits()
	nDataPoints := d.NDataPoints()
	if nDataPoints < 2 {
		return nil, fmt.Errorf("need at least two variants to estimate parameters, got %d", nDataPoints)
	}

	// 1. Covariance of the observed betas, less the measurement noise
	var cov mat.SymDense
	stat.CovarianceMatrix(&cov, d.Betas.Dense(), nil)
	floors := make([]float64, nTraits)
	means := make([]float64, nTraits)
	column := make([]float64, nDataPoints)
	seSquared := make([]float64, nDataPoints)
	for i := 0; i < nTraits; i++ {
		variance := cov.At(i, i)
		if !(variance > 0) {
			return nil, fmt.Errorf("trait %s has no variance across variants: %w",
				d.Meta.TraitNames[i], ErrInvalidParams)
		}
		for j := range column {
			column[j] = d.Betas.At(j, i)
			se := d.Ses.At(j, i)
			seSquared[j] = se * se
		}
		means[i] = stat.Mean(column, nil)
		floors[i] = 0.1 * variance
		cov.SetSym(i, i, variance-stat.Mean(seSquared, nil))
	}

	// 2. Eigen decomposition, eigenvalues ascending
	var eig mat.EigenSym
	if ok := eig.Factorize(&cov, true); !ok {
		return nil, fmt.Errorf("eigen decomposition of the trait covariance failed: %w", ErrInvalidParams)
	}
	values := eig.Values(nil)
	var vectors mat.Dense
	eig.VectorsTo(&vectors)

	// 3. Noise shared by all traits
	noise := 0.0
	if nLeft := nTraits - nEndos; nLeft > 0 {
		noise = math.Max(floats.Sum(values[:nLeft])/float64(nLeft), 0)
	}

	// 4. Loadings, one eigenvector per endophenotype; endos beyond the
	// number of traits load on a single trait each
	betas := matrix.New(nEndos, nTraits)
	for k := 0; k < nEndos; k++ {
		col := nTraits - 1 - k
		if col < 0 {
			i := k % nTraits
			betas.Set(k, i, math.Sqrt(floors[i]))
			continue
		}
		weight := math.Sqrt(math.Max(values[col]-noise, floats.Min(floors)))
		sign := 1.0
		if vectors.At(0, col) < 0 {
			sign = -1
		}
		for i := 0; i < nTraits; i++ {
			betas.Set(k, i, sign*weight*vectors.At(i, col))
		}
	}

	// 5. Sigma is what the loadings leave of each trait's variance
	sigmas := make([]float64, nTraits)
	loadings := make([]float64, nEndos)
	for i := 0; i < nTraits; i++ {
		for k := range loadings {
			loadings[k] = betas.At(k, i)
		}
		residual := cov.At(i, i) - floats.Dot(loadings, loadings)
		sigmas[i] = math.Sqrt(math.Max(residual, floors[i]))
	}

	// 6. Prior means: least squares of B' mu = trait means
	mus := make([]float64, nEndos)
	var mu mat.VecDense
	if err := mu.SolveVec(betas.Dense().T(), mat.NewVecDense(nTraits, means)); err == nil {
		for k := range mus {
			mus[k] = mu.AtVec(k)
		}
	}
	taus := make([]float64, nEndos)
	for k := range taus {
		taus[k] = 1
	}
	traitNames := append([]string(nil), d.Meta.TraitNames...)
	return New(traitNames, mus, taus, betas, sigmas)
}
