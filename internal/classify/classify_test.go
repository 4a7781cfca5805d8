package classify

import (
	"bufio"
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mocasa/internal/data"
	"mocasa/internal/logging"
	"mocasa/internal/matrix"
	"mocasa/internal/params"
)

func almostEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func trained(t *testing.T) *params.Params {
	t.Helper()
	betas, err := matrix.FromSlice(1, 2, []float64{2, 3})
	require.NoError(t, err)
	p, err := params.New([]string{"a", "b"}, []float64{0}, []float64{1}, betas, []float64{0.5, 0.5})
	require.NoError(t, err)
	return p
}

func variants(t *testing.T) *data.GwasData {
	t.Helper()
	nan := math.NaN()
	meta := &data.Meta{VarIDs: []string{"held_out", "only_a", "strong"}, TraitNames: []string{"a", "b"}}
	betas, err := matrix.FromSlice(3, 2, []float64{1.0, 1.5, 0.8, nan, 4, 6})
	require.NoError(t, err)
	ses, err := matrix.FromSlice(3, 2, []float64{0.2, 0.2, 0.3, nan, 0.1, 0.1})
	require.NoError(t, err)
	d, err := data.NewGwasData(meta, betas, ses)
	require.NoError(t, err)
	return d
}

func TestCalculateMu(t *testing.T) {
	p := trained(t)
	// v = 0.25 + 0.04; (2*1 + 3*1.5)/v over 1 + 13/v
	want := (6.5 / 0.29) / (1 + 13/0.29)
	got, err := CalculateMu(p, []float64{1, 1.5}, []float64{0.2, 0.2})
	require.NoError(t, err)
	if !almostEqual(got, want, 1e-12) {
		t.Errorf("CalculateMu = %v, want %v", got, want)
	}

	means, err := ExactMeans(p, []float64{1, 1.5}, []float64{0.2, 0.2})
	require.NoError(t, err)
	require.Len(t, means, 1)
	if !almostEqual(means[0], want, 1e-12) {
		t.Errorf("ExactMeans = %v, want %v", means[0], want)
	}
}

func TestExactMeans_TwoEndos(t *testing.T) {
	// each endo loads on its own trait, so the posteriors decouple
	betas, err := matrix.FromSlice(2, 2, []float64{1, 0, 0, 1})
	require.NoError(t, err)
	p, err := params.New([]string{"a", "b"}, []float64{1, -1}, []float64{2, 0.5}, betas, []float64{0.3, 0.4})
	require.NoError(t, err)
	obs, ses := []float64{2, 0}, []float64{0.4, 0.3}

	means, err := ExactMeans(p, obs, ses)
	require.NoError(t, err)
	for k, tau := range p.Taus {
		v := p.Sigmas[k]*p.Sigmas[k] + ses[k]*ses[k]
		want := (p.Mus[k]/(tau*tau) + obs[k]/v) / (1/(tau*tau) + 1/v)
		if !almostEqual(means[k], want, 1e-12) {
			t.Errorf("E_%d = %v, want %v", k, means[k], want)
		}
	}

	_, err = CalculateMu(p, obs, ses)
	assert.Error(t, err)
}

func TestClassify_MatchesExactPosterior(t *testing.T) {
	d := variants(t)
	p := trained(t)
	config := Config{NStepsBurnIn: 200, NSamples: 3000, NChainsPerVariant: 3, NWorkers: 3, Seed: 5}
	results, err := Classify(context.Background(), d, p, config, logging.Discard())
	require.NoError(t, err)
	require.Len(t, results, 3)

	for j, r := range results {
		assert.Equal(t, d.Meta.VarIDs[j], r.VarID, "results are in variant order")
		require.NoError(t, r.Err)
		exact := r.EExact[0]
		if !almostEqual(r.EMeans[0], exact, 0.15*math.Abs(exact)) {
			t.Errorf("%s: sampled mean %v, exact %v", r.VarID, r.EMeans[0], exact)
		}
		assert.Greater(t, r.EStds[0], 0.0)
	}

	held := results[0]
	want, err := CalculateMu(p, []float64{1, 1.5}, []float64{0.2, 0.2})
	require.NoError(t, err)
	assert.InDelta(t, want, held.EExact[0], 1e-12)
	// posterior sd is 1/sqrt(1 + 13/0.29)
	assert.InDelta(t, 1/math.Sqrt(1+13/0.29), held.EStds[0], 0.03)

	onlyA := results[1]
	assert.True(t, math.IsNaN(onlyA.TMeans[1]), "unobserved trait has no posterior")
	assert.False(t, math.IsNaN(onlyA.TMeans[0]))
	wantA := (2 * 0.8 / (0.25 + 0.09)) / (1 + 4/(0.25+0.09))
	assert.InDelta(t, wantA, onlyA.EExact[0], 1e-12)
}

func TestClassify_RejectsMismatchedTraits(t *testing.T) {
	d := variants(t)
	p := trained(t)
	p.TraitNames = []string{"b", "a"}
	_, err := Classify(context.Background(), d, p, Config{NWorkers: 3}, logging.Discard())
	assert.True(t, errors.Is(err, params.ErrInvalidParams))
}

func TestClassify_StopsWhenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Classify(ctx, variants(t), trained(t), Config{NWorkers: 3, NStepsBurnIn: 1, NSamples: 1}, logging.Discard())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPrepareParams(t *testing.T) {
	p := trained(t)
	mu, tau := 2.0, 0.5
	got := PrepareParams(p, Config{Override: params.Override{Mu: &mu, Tau: &tau}, NormalizeMuOne: true})
	assert.Equal(t, 1.0, got.Mus[0])
	assert.InDelta(t, 0.25, got.Taus[0], 1e-12)
	assert.InDelta(t, 4, got.Beta(0, 0), 1e-12)
	assert.Equal(t, 0.0, p.Mus[0], "input is not modified")
	assert.Same(t, p, PrepareParams(p, Config{}))
}

func countLines(t *testing.T, path string) (string, int) {
	t.Helper()
	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()
	scanner := bufio.NewScanner(file)
	require.True(t, scanner.Scan())
	header := scanner.Text()
	n := 0
	for scanner.Scan() {
		n++
	}
	require.NoError(t, scanner.Err())
	return header, n
}

func TestClassify_TracesRequestedVariants(t *testing.T) {
	prefix := filepath.Join(t.TempDir(), "out.tsv")
	config := Config{
		NStepsBurnIn: 5, NSamples: 10, NChainsPerVariant: 2, NWorkers: 3,
		TracePrefix: prefix, TraceIDs: []string{"only_a"},
	}
	_, err := Classify(context.Background(), variants(t), trained(t), config, logging.Discard())
	require.NoError(t, err)

	header, n := countLines(t, prefix+"_only_a_trace_E_0")
	assert.Equal(t, "E_0\tchain", header)
	assert.Equal(t, 2*(5+10), n)
	header, n = countLines(t, prefix+"_only_a_trace_T_a")
	assert.Equal(t, "T_a\tchain", header)
	assert.Equal(t, 2*(5+10), n)

	_, err = os.Stat(prefix + "_only_a_trace_T_b")
	assert.True(t, os.IsNotExist(err), "unobserved traits are not traced")
	_, err = os.Stat(prefix + "_held_out_trace_E_0")
	assert.True(t, os.IsNotExist(err))
}

func TestWriteResults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.tsv")
	results := []Result{
		{VarID: "rs1", EMeans: []float64{0.5}, EStds: []float64{0.1}, TMeans: []float64{1, math.NaN()}, EExact: []float64{0.49}},
		{VarID: "rs2", Err: errors.New("failed")},
	}
	require.NoError(t, WriteResults(path, 1, []string{"a", "b"}, results))
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(content)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "id\tE_mean_0\tE_std_0\tT_mean_a\tT_mean_b\tE_exact_0", lines[0])
	assert.Equal(t, "rs1\t0.5\t0.1\t1\tNA\t0.49", lines[1])
	assert.Equal(t, "rs2\tNA\tNA\tNA\tNA\tNA", lines[2])
}
