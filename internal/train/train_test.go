package train

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mocasa/internal/logging"
	"mocasa/internal/matrix"
	"mocasa/internal/params"
	"mocasa/internal/pool"
	"mocasa/internal/sample"
	"mocasa/internal/stats"
)

// helper: compare floats with tolerance
func almostEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func generative(t *testing.T) *params.Params {
	t.Helper()
	betas, err := matrix.FromSlice(1, 2, []float64{2, 3})
	require.NoError(t, err)
	p, err := params.New([]string{"a", "b"}, []float64{0}, []float64{1}, betas, []float64{0.5, 0.5})
	require.NoError(t, err)
	return p
}

func sampled(worker int, p *params.Params) Sampled {
	return Sampled{Worker: worker, Params: p}
}

func withValues(t *testing.T, vec ...float64) *params.Params {
	t.Helper()
	p, err := params.FromVec(1, []string{"a", "b"}, vec)
	require.NoError(t, err)
	return p
}

func TestParamMetaStats_Summary(t *testing.T) {
	// chains alternate between two estimates; chain means differ by 0.2 in mu
	chainA := []*params.Params{
		withValues(t, 0.0, 1, 2, 3, 0.5, 0.5),
		withValues(t, 0.2, 1, 2, 3, 0.5, 0.5),
	}
	chainB := []*params.Params{
		withValues(t, 0.2, 1, 2, 3, 0.5, 0.5),
		withValues(t, 0.4, 1, 2, 3, 0.5, 0.5),
	}
	meta := NewParamMetaStats(1, []string{"a", "b"}, stats.WootzConfig{},
		[]Sampled{sampled(0, chainA[0]), sampled(1, chainB[0])},
		[]Sampled{sampled(0, chainA[1]), sampled(1, chainB[1])})
	require.Equal(t, 2, meta.NChainsUsed())

	summary, err := meta.Summary()
	require.NoError(t, err)
	assert.InDelta(t, 0.2, summary.Params.Mus[0], 1e-12)
	// intra: each chain's unbiased variance of {x, x+0.2} is 0.02
	assert.InDelta(t, 0.02, summary.IntraChainVars[0], 1e-12)
	// inter: population variance of {0.1, 0.3} is 0.01
	assert.InDelta(t, 0.01, summary.InterChainVars[0], 1e-12)
	assert.InDelta(t, 0.5, summary.InterIntraRatios[0], 1e-9)
	// mu is measured against tau = 1
	assert.InDelta(t, math.Sqrt(0.02)/math.Sqrt(2), summary.RelativeErrors[0], 1e-9)
	// constant parameters carry no information
	assert.True(t, math.IsNaN(summary.InterIntraRatios[1]))
	assert.InDelta(t, 0.5, summary.InterIntraRatiosMean, 1e-9)

	table := summary.String()
	assert.Contains(t, table, "Chains used: 2")
	assert.Contains(t, table, "beta_0_a")
	assert.Contains(t, table, "inter_chains")
}

func TestParamMetaStats_ExcludesInvalidChains(t *testing.T) {
	good := withValues(t, 0, 1, 2, 3, 0.5, 0.5)
	bad := withValues(t, 0, 1, 2, 3, -0.5, 0.5)
	meta := NewParamMetaStats(1, []string{"a", "b"}, stats.WootzConfig{},
		[]Sampled{sampled(0, good), sampled(1, good), sampled(2, bad)},
		[]Sampled{sampled(0, good), sampled(1, good), sampled(2, good)})
	assert.Equal(t, 2, meta.NChainsUsed())

	added := meta.Add([]Sampled{sampled(0, good), {Worker: 1, Err: errors.New("no draws")}, sampled(2, good)})
	assert.Equal(t, 1, added)

	single := NewParamMetaStats(1, []string{"a", "b"}, stats.WootzConfig{},
		[]Sampled{sampled(0, good)}, []Sampled{sampled(0, good)})
	_, err := single.Summary()
	assert.True(t, errors.Is(err, ErrTooFewChains))
}

func TestParamMetaStats_DropsChainInvalidThisRound(t *testing.T) {
	chain := func(mu float64) *params.Params { return withValues(t, mu, 1, 2, 3, 0.5, 0.5) }
	meta := NewParamMetaStats(1, []string{"a", "b"}, stats.WootzConfig{},
		[]Sampled{sampled(0, chain(0)), sampled(1, chain(0.2)), sampled(2, chain(0.4)), sampled(3, chain(10))},
		[]Sampled{sampled(0, chain(0.1)), sampled(1, chain(0.3)), sampled(2, chain(0.5)), sampled(3, chain(10.1))})
	require.Equal(t, 4, meta.NChainsUsed())

	added := meta.Add([]Sampled{
		sampled(0, chain(0)), sampled(1, chain(0.2)), sampled(2, chain(0.4)),
		{Worker: 3, Err: errors.New("diverged")},
	})
	assert.Equal(t, 3, added)
	assert.Equal(t, 4, meta.NChainsTracked())
	assert.Equal(t, 3, meta.NChainsUsed())

	summary, err := meta.Summary()
	require.NoError(t, err)
	assert.Equal(t, 3, summary.NChainsUsed)
	// chain means 1/30, 0.7/3 and 1.3/3; chain 3 left out
	assert.InDelta(t, 0.7/3, summary.Params.Mus[0], 1e-9)

	meta.StartRound()
	assert.Equal(t, 4, meta.NChainsUsed())
}

// fakeChains answers TakeSamples with mu = base + 0.1*(call%2), where base
// is 0.2*id; the last worker diverges after its bootstrap estimates.
func fakeChains(t *testing.T, n int) *pool.Pool[Command, Sampled] {
	t.Helper()
	return pool.New[Command, Sampled](n, Shutdown{}, logging.Discard(), func(id int, inbox <-chan Command, send func(Sampled)) {
		calls := 0
		for command := range inbox {
			switch command.(type) {
			case Shutdown:
				return
			case TakeSamples:
				if id == n-1 && calls >= 2 {
					send(Sampled{Worker: id, Err: errors.New("diverged")})
					continue
				}
				mu := 0.2*float64(id) + 0.1*float64(calls%2)
				if id == n-1 {
					mu = 10
				}
				calls++
				p, err := params.FromVec(1, []string{"a", "b"}, []float64{mu, 1, 2, 3, 0.5, 0.5})
				send(Sampled{Worker: id, Params: p, Err: err})
			}
		}
	})
}

func TestTrainer_ExcludesChainTurningInvalid(t *testing.T) {
	workers := fakeChains(t, 4)
	defer workers.Close()
	config := Config{NSamplesPerIteration: 1, NIterationsPerRound: 2, MinChainsUsed: 3, NChains: 4}.WithDefaults()
	tr := &trainer{
		workers:  workers,
		config:   config,
		logger:   logging.Discard(),
		reporter: NewReporter(logging.Discard(), time.Hour),
		nEndos:   1,
		names:    []string{"a", "b"},
	}
	meta, err := tr.bootstrap()
	require.NoError(t, err)
	require.Equal(t, 4, meta.NChainsUsed())

	meta.StartRound()
	require.NoError(t, tr.iterate(context.Background(), meta, 1))
	summary, err := meta.Summary()
	require.NoError(t, err)
	assert.Equal(t, 3, summary.NChainsUsed)
	// chains 0 to 2 alternate base and base+0.1 over four estimates
	assert.InDelta(t, 0.25, summary.Params.Mus[0], 1e-9)
	assert.Less(t, summary.InterIntraRatiosMean, 10.0)

	// with all four chains required, the round fails instead
	tr.config.MinChainsUsed = 4
	meta.StartRound()
	err = tr.iterate(context.Background(), meta, 2)
	assert.ErrorIs(t, err, ErrTooFewChains)
}

func TestRelativeDrift(t *testing.T) {
	a := withValues(t, 0, 1, 2, 3, 0.5, 0.5)
	b := withValues(t, 0.05, 1, 2, 3.3, 0.5, 0.5)
	// mu moves 0.05 against tau 1, beta_0_b moves 0.3 against 3.3
	assert.InDelta(t, 0.3/3.3, RelativeDrift(a, b), 1e-12)
	assert.Equal(t, 0.0, RelativeDrift(a, a))
}

func TestFormatDuration(t *testing.T) {
	cases := map[time.Duration]string{
		0:                                   "0s",
		999 * time.Nanosecond:               "999ns",
		1500 * time.Nanosecond:              "1.500µs",
		1250 * time.Microsecond:             "1.250ms",
		42*time.Second + 7*time.Millisecond: "42.007s",
		3*time.Minute + 20*time.Second:      "3m20s",
		2*time.Hour + 5*time.Minute:         "2h5m0s",
		27*time.Hour + 12*time.Minute:       "1d3h12m",
		(15*24 + 5) * time.Hour:             "2w1d5h",
	}
	for d, want := range cases {
		assert.Equal(t, want, FormatDuration(d), d.String())
	}
}

func TestReporter_Interval(t *testing.T) {
	var buf strings.Builder
	logger, err := logging.New(logging.Config{Output: &buf})
	require.NoError(t, err)
	now := time.Unix(0, 0)
	r := NewReporter(logger, 10*time.Second)
	r.now = func() time.Time { return now }
	r.start, r.roundStart, r.lastReport = now, now, now

	now = now.Add(5 * time.Second)
	assert.False(t, r.Due())
	now = now.Add(5 * time.Second)
	require.True(t, r.Due())
	r.Report(nil, 1, 2, 10)
	assert.Contains(t, buf.String(), "training progress")
	assert.Contains(t, buf.String(), "total_elapsed=10.000s")
	assert.False(t, r.Due())
}

func TestTrain_RejectsInvalidInitialParams(t *testing.T) {
	p := generative(t)
	d, err := sample.Simulate(p, 10, 0.2, rand.NewPCG(1, 1))
	require.NoError(t, err)
	bad := p.Clone()
	bad.Sigmas[0] = 0
	_, err = Train(context.Background(), d, bad, Config{}, logging.Discard(), nil)
	assert.True(t, errors.Is(err, params.ErrInvalidParams))
}

func TestTrain_StopsWhenCancelled(t *testing.T) {
	p := generative(t)
	d, err := sample.Simulate(p, 20, 0.2, rand.NewPCG(1, 1))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Train(ctx, d, p, Config{NChains: 3, NStepsBurnIn: 1}, logging.Discard(), nil)
	assert.ErrorIs(t, err, context.Canceled)
}

type recordingTracer struct{ rounds []int }

func (r *recordingTracer) Trace(round int, _ *params.Params) error {
	r.rounds = append(r.rounds, round)
	return nil
}

func TestTrain_RecoversGenerativeParameters(t *testing.T) {
	if testing.Short() {
		t.Skip("runs several hundred Gibbs sweeps")
	}
	truth := generative(t)
	d, err := sample.Simulate(truth, 500, 0.2, rand.NewPCG(2024, 1))
	require.NoError(t, err)
	initial, err := params.Estimate(d, 1)
	require.NoError(t, err)

	tracer := &recordingTracer{}
	config := Config{
		NStepsBurnIn:         50,
		NSamplesPerIteration: 20,
		NIterationsPerRound:  10,
		NRounds:              60,
		NChains:              3,
		MinChainsUsed:        3,
		Seed:                 7,
	}
	result, err := Train(context.Background(), d, initial, config, logging.Discard(), tracer)
	require.NoError(t, err)
	require.NoError(t, result.Params.Validate())
	assert.NotEmpty(t, tracer.rounds)

	got := result.Params
	t.Logf("converged=%v rounds=%d params: %s", result.Converged, result.Rounds, got)
	require.True(t, result.Converged, "rounds exhausted before convergence")
	assert.Less(t, result.Rounds, config.NRounds)
	if !almostEqual(got.Mus[0], 0, 0.15) {
		t.Errorf("mu = %v, want about 0", got.Mus[0])
	}
	if got.Taus[0] != 1 {
		t.Errorf("tau = %v, want 1 after normalization", got.Taus[0])
	}
	for i, want := range []float64{2, 3} {
		if !almostEqual(got.Beta(0, i)/want, 1, 0.1) {
			t.Errorf("beta_%d = %v, want %v within 10%%", i, got.Beta(0, i), want)
		}
	}
	for i, want := range []float64{0.5, 0.5} {
		if !almostEqual(got.Sigmas[i]/want, 1, 0.1) {
			t.Errorf("sigma_%d = %v, want %v within 10%%", i, got.Sigmas[i], want)
		}
	}
}
