package stats

// Tally holds the sufficient statistics of a stream: count, mean and the
// sum of squared deviations (M2). Two tallies of nested streams can be
// subtracted exactly, which is what makes snapshot truncation cheap.
type Tally struct {
	N    int
	Mean float64
	M2   float64
}

// NewTally seeds a tally with two values.
func NewTally(x0, x1 float64) Tally {
	var t Tally
	t.Add(x0)
	t.Add(x1)
	return t
}

// Add folds one value into the tally (Welford).
func (t *Tally) Add(value float64) {
	t.N++
	delta := value - t.Mean
	t.Mean += delta / float64(t.N)
	t.M2 += delta * (value - t.Mean)
}

// Variance returns the unbiased sample variance.
func (t Tally) Variance() float64 {
	if t.N < 2 {
		return 0
	}
	return t.M2 / float64(t.N-1)
}

// Minus removes a prefix of the stream.
// prefix must be a tally of the first prefix.N values of t's stream.
func (t Tally) Minus(prefix Tally) Tally {
	n := t.N - prefix.N
	if n <= 0 {
		return Tally{}
	}
	nF := float64(n)
	mean := (float64(t.N)*t.Mean - float64(prefix.N)*prefix.Mean) / nF
	delta := mean - prefix.Mean
	m2 := t.M2 - prefix.M2 - delta*delta*nF*float64(prefix.N)/float64(t.N)
	if m2 < 0 {
		m2 = 0
	}
	return Tally{N: n, Mean: mean, M2: m2}
}

// Plus merges two tallies of disjoint streams (Chan et al.).
func (t Tally) Plus(other Tally) Tally {
	if t.N == 0 {
		return other
	}
	if other.N == 0 {
		return t
	}
	n := t.N + other.N
	delta := other.Mean - t.Mean
	mean := t.Mean + delta*float64(other.N)/float64(n)
	m2 := t.M2 + other.M2 + delta*delta*float64(t.N)*float64(other.N)/float64(n)
	return Tally{N: n, Mean: mean, M2: m2}
}
