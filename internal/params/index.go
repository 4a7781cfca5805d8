package params

import "fmt"

// Kind is the family a parameter belongs to.
type Kind int

const (
	KindMu Kind = iota
	KindTau
	KindBeta
	KindSigma
)

// Index identifies one scalar parameter. K is the endophenotype, I the
// trait; fields that do not apply are zero.
type Index struct {
	Kind Kind
	K    int
	I    int
}

// NParams is the number of scalar parameters for the given shape.
func NParams(nEndos, nTraits int) int {
	return 2*nEndos + nEndos*nTraits + nTraits
}

// Indices lists every parameter in ordinal order: mus, taus, betas
// row-major by endophenotype, then sigmas.
func Indices(nEndos, nTraits int) []Index {
	indices := make([]Index, 0, NParams(nEndos, nTraits))
	for k := 0; k < nEndos; k++ {
		indices = append(indices, Index{Kind: KindMu, K: k})
	}
	for k := 0; k < nEndos; k++ {
		indices = append(indices, Index{Kind: KindTau, K: k})
	}
	for k := 0; k < nEndos; k++ {
		for i := 0; i < nTraits; i++ {
			indices = append(indices, Index{Kind: KindBeta, K: k, I: i})
		}
	}
	for i := 0; i < nTraits; i++ {
		indices = append(indices, Index{Kind: KindSigma, I: i})
	}
	return indices
}

// Ordinal is the position of index in Indices.
func (x Index) Ordinal(nEndos, nTraits int) int {
	switch x.Kind {
	case KindMu:
		return x.K
	case KindTau:
		return nEndos + x.K
	case KindBeta:
		return 2*nEndos + x.K*nTraits + x.I
	default:
		return 2*nEndos + nEndos*nTraits + x.I
	}
}

// Name renders the index as mu_0, tau_0, beta_0_<trait> or sigma_<trait>.
func (x Index) Name(traitNames []string) string {
	switch x.Kind {
	case KindMu:
		return fmt.Sprintf("mu_%d", x.K)
	case KindTau:
		return fmt.Sprintf("tau_%d", x.K)
	case KindBeta:
		return fmt.Sprintf("beta_%d_%s", x.K, traitNames[x.I])
	default:
		return fmt.Sprintf("sigma_%s", traitNames[x.I])
	}
}

// Names lists the names of all parameters in ordinal order.
func Names(nEndos int, traitNames []string) []string {
	indices := Indices(nEndos, len(traitNames))
	names := make([]string, len(indices))
	for n, index := range indices {
		names[n] = index.Name(traitNames)
	}
	return names
}
