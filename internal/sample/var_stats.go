package sample

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"mocasa/internal/matrix"
	"mocasa/internal/params"
)

// VarStats accumulates draws of one or more chains that sampled under the
// same parameters. Besides per-variable sums it keeps the cross sums
// over data points needed to re-estimate loadings.
type VarStats struct {
	n      int
	eSums  *matrix.Matrix // data points x endos
	e2Sums *matrix.Matrix
	tSums  *matrix.Matrix // data points x traits
	t2Sums *matrix.Matrix
	eeSums *matrix.Matrix // endos x endos, sum over draws and data points
	etSums *matrix.Matrix // endos x traits
}

// NewVarStats returns an empty accumulator.
func NewVarStats(nDataPoints, nEndos, nTraits int) *VarStats {
	return &VarStats{
		eSums:  matrix.New(nDataPoints, nEndos),
		e2Sums: matrix.New(nDataPoints, nEndos),
		tSums:  matrix.New(nDataPoints, nTraits),
		t2Sums: matrix.New(nDataPoints, nTraits),
		eeSums: matrix.New(nEndos, nEndos),
		etSums: matrix.New(nEndos, nTraits),
	}
}

// N is the number of draws added.
func (s *VarStats) N() int { return s.n }

// Add records the current state of one chain as one draw.
func (s *VarStats) Add(vars *Vars) {
	nDataPoints, nEndos := s.eSums.Dims()
	nTraits := s.tSums.Cols()
	for j := 0; j < nDataPoints; j++ {
		es := vars.Es.Row(j)
		ts := vars.Ts.Row(j)
		for k, e := range es {
			s.eSums.AddAt(j, k, e)
			s.e2Sums.AddAt(j, k, e*e)
			for k2 := 0; k2 < nEndos; k2++ {
				s.eeSums.AddAt(k, k2, e*es[k2])
			}
			for i := 0; i < nTraits; i++ {
				s.etSums.AddAt(k, i, e*ts[i])
			}
		}
		for i, t := range ts {
			s.tSums.AddAt(j, i, t)
			s.t2Sums.AddAt(j, i, t*t)
		}
	}
	s.n++
}

// Merge adds other's sums into s. Both must have sampled the same
// parameters.
func (s *VarStats) Merge(other *VarStats) error {
	r, c := s.eSums.Dims()
	r2, c2 := other.eSums.Dims()
	if r != r2 || c != c2 || s.tSums.Cols() != other.tSums.Cols() {
		return fmt.Errorf("cannot merge stats of shape %dx%d/%d with %dx%d/%d",
			r, c, s.tSums.Cols(), r2, c2, other.tSums.Cols())
	}
	s.eSums.Add(other.eSums)
	s.e2Sums.Add(other.e2Sums)
	s.tSums.Add(other.tSums)
	s.t2Sums.Add(other.t2Sums)
	s.eeSums.Add(other.eeSums)
	s.etSums.Add(other.etSums)
	s.n += other.n
	return nil
}

// Classification is the posterior summary per data point.
type Classification struct {
	EMeans *matrix.Matrix
	EStds  *matrix.Matrix
	TMeans *matrix.Matrix
}

// CalculateClassification returns posterior means and standard deviations.
func (s *VarStats) CalculateClassification() *Classification {
	n := float64(s.n)
	nDataPoints, nEndos := s.eSums.Dims()
	eMeans := matrix.Fill(nDataPoints, nEndos, func(j, k int) float64 { return s.eSums.At(j, k) / n })
	eStds := matrix.Fill(nDataPoints, nEndos, func(j, k int) float64 {
		mean := eMeans.At(j, k)
		return math.Sqrt(math.Max(s.e2Sums.At(j, k)/n-mean*mean, 0))
	})
	tMeans := matrix.Fill(nDataPoints, s.tSums.Cols(), func(j, i int) float64 { return s.tSums.At(j, i) / n })
	return &Classification{EMeans: eMeans, EStds: eStds, TMeans: tMeans}
}

// ComputeNewParams is the M-step: moment estimates of every parameter
// from the accumulated draws. The result may be invalid; callers check.
func (s *VarStats) ComputeNewParams(traitNames []string) (*params.Params, error) {
	nDataPoints, nEndos := s.eSums.Dims()
	nTraits := s.tSums.Cols()
	if s.n == 0 || nDataPoints == 0 || nTraits == 0 {
		return nil, fmt.Errorf("no draws to estimate parameters from")
	}
	total := float64(s.n * nDataPoints)

	mus := make([]float64, nEndos)
	taus := make([]float64, nEndos)
	for k := 0; k < nEndos; k++ {
		sum, sum2 := 0.0, 0.0
		for j := 0; j < nDataPoints; j++ {
			sum += s.eSums.At(j, k)
			sum2 += s.e2Sums.At(j, k)
		}
		mus[k] = sum / total
		taus[k] = math.Sqrt(sum2/total - mus[k]*mus[k])
	}

	// <E E'> B = <E T'>
	ee := mat.NewDense(nEndos, nEndos, nil)
	ee.Scale(1/total, s.eeSums.Dense())
	et := mat.NewDense(nEndos, nTraits, nil)
	et.Scale(1/total, s.etSums.Dense())

	var b mat.Dense
	var eeInv mat.Dense
	if err := eeInv.Inverse(ee); err == nil {
		b.Mul(&eeInv, et)
	} else {
		// <E E'> singular: minimum-norm least squares via SVD
		var svd mat.SVD
		if ok := svd.Factorize(ee, mat.SVDFullU|mat.SVDFullV); !ok {
			return nil, fmt.Errorf("loadings: second moments singular and SVD factorization failed: %v", err)
		}
		svd.SolveTo(&b, et, svd.Rank(1e-12))
	}

	sigmas := make([]float64, nTraits)
	for i := 0; i < nTraits; i++ {
		t2 := 0.0
		for j := 0; j < nDataPoints; j++ {
			t2 += s.t2Sums.At(j, i)
		}
		variance := t2 / total
		for k := 0; k < nEndos; k++ {
			variance -= 2 * b.At(k, i) * et.At(k, i)
			for k2 := 0; k2 < nEndos; k2++ {
				variance += b.At(k, i) * b.At(k2, i) * ee.At(k, k2)
			}
		}
		sigmas[i] = math.Sqrt(variance)
	}
	names := append([]string(nil), traitNames...)
	return params.New(names, mus, taus, matrix.FromDense(&b), sigmas)
}

// CalculateConvergences returns, per data point, the variance of the
// chains' posterior means divided by the mean of their posterior
// variances, for every endo followed by every trait. Needs at least two
// chains.
func CalculateConvergences(chains []*VarStats) (*matrix.Matrix, error) {
	if len(chains) < 2 {
		return nil, fmt.Errorf("need at least two chains, got %d", len(chains))
	}
	nDataPoints, nEndos := chains[0].eSums.Dims()
	nTraits := chains[0].tSums.Cols()
	nChains := float64(len(chains))
	return matrix.Fill(nDataPoints, nEndos+nTraits, func(j, col int) float64 {
		meanSum, meanSum2, varianceSum := 0.0, 0.0, 0.0
		for _, c := range chains {
			sums, sums2, i := c.eSums, c.e2Sums, col
			if col >= nEndos {
				sums, sums2, i = c.tSums, c.t2Sums, col-nEndos
			}
			n := float64(c.n)
			mean := sums.At(j, i) / n
			meanSum += mean
			meanSum2 += mean * mean
			varianceSum += sums2.At(j, i)/n - mean*mean
		}
		grandMean := meanSum / nChains
		inter := meanSum2/nChains - grandMean*grandMean
		intra := varianceSum / nChains
		return inter / intra
	}), nil
}
