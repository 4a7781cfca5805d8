// Package params holds the model parameters: per endophenotype a prior
// mean and standard deviation, per endophenotype and trait a loading, and
// per trait a residual standard deviation.
package params

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"mocasa/internal/matrix"
)

var ErrInvalidParams = errors.New("invalid parameters")

// Params is an immutable snapshot once handed to a worker; every method
// that changes values returns a new Params.
type Params struct {
	TraitNames []string       `json:"trait_names" yaml:"trait_names"`
	Mus        []float64      `json:"mus" yaml:"mus"`
	Taus       []float64      `json:"taus" yaml:"taus"`
	Betas      *matrix.Matrix `json:"betas" yaml:"betas"` // endos x traits
	Sigmas     []float64      `json:"sigmas" yaml:"sigmas"`
}

// New checks the shapes of the given values and assembles a Params.
func New(traitNames []string, mus, taus []float64, betas *matrix.Matrix, sigmas []float64) (*Params, error) {
	p := &Params{TraitNames: traitNames, Mus: mus, Taus: taus, Betas: betas, Sigmas: sigmas}
	if err := p.CheckShape(); err != nil {
		return nil, err
	}
	return p, nil
}

// NEndos returns the number of endophenotypes.
func (p *Params) NEndos() int { return len(p.Mus) }

// NTraits returns the number of traits.
func (p *Params) NTraits() int { return len(p.TraitNames) }

// Beta returns the loading of endophenotype k on trait i.
func (p *Params) Beta(k, i int) float64 { return p.Betas.At(k, i) }

// CheckShape reports inconsistent lengths.
func (p *Params) CheckShape() error {
	nEndos, nTraits := len(p.Mus), len(p.TraitNames)
	if nEndos == 0 {
		return fmt.Errorf("no endophenotypes: %w", ErrInvalidParams)
	}
	if len(p.Taus) != nEndos {
		return fmt.Errorf("%d mus but %d taus: %w", nEndos, len(p.Taus), ErrInvalidParams)
	}
	if len(p.Sigmas) != nTraits {
		return fmt.Errorf("%d traits but %d sigmas: %w", nTraits, len(p.Sigmas), ErrInvalidParams)
	}
	if p.Betas == nil {
		return fmt.Errorf("no betas: %w", ErrInvalidParams)
	}
	if r, c := p.Betas.Dims(); r != nEndos || c != nTraits {
		return fmt.Errorf("betas is %dx%d, expected %dx%d: %w", r, c, nEndos, nTraits, ErrInvalidParams)
	}
	return nil
}

// Validate checks shapes, finiteness and tau, sigma > 0. The error names
// the first offending parameter.
func (p *Params) Validate() error {
	if err := p.CheckShape(); err != nil {
		return err
	}
	for _, index := range Indices(p.NEndos(), p.NTraits()) {
		v := p.Get(index)
		name := index.Name(p.TraitNames)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%s is %v: %w", name, v, ErrInvalidParams)
		}
		if (index.Kind == KindTau || index.Kind == KindSigma) && v <= 0 {
			return fmt.Errorf("%s is %v, must be positive: %w", name, v, ErrInvalidParams)
		}
	}
	return nil
}

// IsValid is Validate without the message.
func (p *Params) IsValid() bool { return p.Validate() == nil }

// Clone returns a deep copy.
func (p *Params) Clone() *Params {
	return &Params{
		TraitNames: slices.Clone(p.TraitNames),
		Mus:        slices.Clone(p.Mus),
		Taus:       slices.Clone(p.Taus),
		Betas:      p.Betas.Clone(),
		Sigmas:     slices.Clone(p.Sigmas),
	}
}

// ReduceTo keeps only the given trait columns. Used to classify a variant
// with some traits unobserved.
func (p *Params) ReduceTo(cols []int) *Params {
	names := make([]string, len(cols))
	sigmas := make([]float64, len(cols))
	for j, i := range cols {
		names[j] = p.TraitNames[i]
		sigmas[j] = p.Sigmas[i]
	}
	return &Params{
		TraitNames: names,
		Mus:        slices.Clone(p.Mus),
		Taus:       slices.Clone(p.Taus),
		Betas:      p.Betas.OnlyCols(cols),
		Sigmas:     sigmas,
	}
}

// Override replaces the prior of every endophenotype when set.
type Override struct {
	Mu  *float64 `toml:"mu,omitempty" yaml:"mu,omitempty" json:"mu,omitempty"`
	Tau *float64 `toml:"tau,omitempty" yaml:"tau,omitempty" json:"tau,omitempty" validate:"omitempty,gt=0"`
}

// IsEmpty reports whether the override changes nothing.
func (o Override) IsEmpty() bool { return o.Mu == nil && o.Tau == nil }

// PlusOverwrite returns a copy with the override applied.
func (p *Params) PlusOverwrite(o Override) *Params {
	q := p.Clone()
	for k := range q.Mus {
		if o.Mu != nil {
			q.Mus[k] = *o.Mu
		}
		if o.Tau != nil {
			q.Taus[k] = *o.Tau
		}
	}
	return q
}

// NormalizedWithMuOne rescales each endophenotype so its prior mean is
// one. The implied trait distribution is unchanged. Endophenotypes with a
// zero mean are left as they are.
func (p *Params) NormalizedWithMuOne() *Params {
	q := p.Clone()
	for k, mu := range p.Mus {
		if mu == 0 {
			continue
		}
		q.Mus[k] = 1
		q.Taus[k] = p.Taus[k] / math.Abs(mu)
		for i := 0; i < p.NTraits(); i++ {
			q.Betas.Set(k, i, p.Betas.At(k, i)*mu)
		}
	}
	return q
}

// Get returns the value at index.
func (p *Params) Get(index Index) float64 {
	switch index.Kind {
	case KindMu:
		return p.Mus[index.K]
	case KindTau:
		return p.Taus[index.K]
	case KindBeta:
		return p.Betas.At(index.K, index.I)
	case KindSigma:
		return p.Sigmas[index.I]
	}
	panic(fmt.Sprintf("params: unknown kind %d", index.Kind))
}

// Vec returns all values in Indices order.
func (p *Params) Vec() []float64 {
	indices := Indices(p.NEndos(), p.NTraits())
	vec := make([]float64, len(indices))
	for n, index := range indices {
		vec[n] = p.Get(index)
	}
	return vec
}

// FromVec is the inverse of Vec.
func FromVec(nEndos int, traitNames []string, vec []float64) (*Params, error) {
	nTraits := len(traitNames)
	if want := NParams(nEndos, nTraits); len(vec) != want {
		return nil, fmt.Errorf("need %d values for %d endos and %d traits, got %d: %w",
			want, nEndos, nTraits, len(vec), ErrInvalidParams)
	}
	mus := slices.Clone(vec[:nEndos])
	taus := slices.Clone(vec[nEndos : 2*nEndos])
	betas, err := matrix.FromSlice(nEndos, nTraits, slices.Clone(vec[2*nEndos:2*nEndos+nEndos*nTraits]))
	if err != nil {
		return nil, err
	}
	sigmas := slices.Clone(vec[2*nEndos+nEndos*nTraits:])
	return New(slices.Clone(traitNames), mus, taus, betas, sigmas)
}

// String lists every parameter by name.
func (p *Params) String() string {
	var s []byte
	for n, index := range Indices(p.NEndos(), p.NTraits()) {
		if n > 0 {
			s = append(s, ", "...)
		}
		s = fmt.Appendf(s, "%s=%.6g", index.Name(p.TraitNames), p.Get(index))
	}
	return string(s)
}

// NormalizedWithTauOne rescales each endophenotype to unit prior standard
// deviation and flips its sign so its loading on the first trait is not
// negative. The implied trait distribution is unchanged.
func (p *Params) NormalizedWithTauOne() *Params {
	q := p.Clone()
	for k, tau := range p.Taus {
		if !(tau > 0) {
			continue
		}
		sign := 1.0
		if p.NTraits() > 0 && p.Betas.At(k, 0) < 0 {
			sign = -1
		}
		q.Taus[k] = 1
		q.Mus[k] = sign * p.Mus[k] / tau
		for i := 0; i < p.NTraits(); i++ {
			q.Betas.Set(k, i, sign*p.Betas.At(k, i)*tau)
		}
	}
	return q
}
