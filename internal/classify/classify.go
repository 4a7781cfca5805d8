// Package classify computes the posterior of the endophenotypes of every
// variant under fixed parameters. Variants are independent, so they are
// spread over a worker pool as a task queue, one task per variant.
package classify

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"mocasa/internal/data"
	"mocasa/internal/logging"
	"mocasa/internal/metrics"
	"mocasa/internal/params"
	"mocasa/internal/pool"
	"mocasa/internal/sample"
)

// Config holds the classification knobs.
type Config struct {
	NStepsBurnIn      int
	NSamples          int
	NChainsPerVariant int
	NWorkers          int
	Seed              uint64
	Override          params.Override
	NormalizeMuOne    bool
	// TracePrefix is the path prefix of the trace files of TraceIDs.
	TracePrefix      string
	TraceIDs         []string
	ProgressInterval time.Duration
}

// Default classification knobs.
const (
	DefaultNStepsBurnIn      = 1000
	DefaultNSamples          = 10000
	DefaultNChainsPerVariant = 3
	DefaultProgressInterval  = 10 * time.Second
)

// WithDefaults fills zero knobs.
func (c Config) WithDefaults() Config {
	if c.NStepsBurnIn <= 0 {
		c.NStepsBurnIn = DefaultNStepsBurnIn
	}
	if c.NSamples <= 0 {
		c.NSamples = DefaultNSamples
	}
	if c.NChainsPerVariant <= 0 {
		c.NChainsPerVariant = DefaultNChainsPerVariant
	}
	if c.NWorkers <= 0 {
		c.NWorkers = pool.DefaultSize()
	}
	if c.ProgressInterval <= 0 {
		c.ProgressInterval = DefaultProgressInterval
	}
	return c
}

// Result is the posterior summary of one variant. Trait means of
// unobserved traits are NaN, and so is EExact if it could not be computed.
type Result struct {
	Worker int
	VarID  string
	EMeans []float64
	EStds  []float64
	TMeans []float64
	EExact []float64
	Err    error
}

// WorkerID implements pool.Response.
func (r Result) WorkerID() int { return r.Worker }

// task asks for variant index; a negative index shuts the worker down.
type task struct{ index int }

var shutdown = task{index: -1}

// PrepareParams applies the override and the optional mu normalization.
func PrepareParams(p *params.Params, config Config) *params.Params {
	if !config.Override.IsEmpty() {
		p = p.PlusOverwrite(config.Override)
	}
	if config.NormalizeMuOne {
		p = p.NormalizedWithMuOne()
	}
	return p
}

// Classify samples the posterior of every variant of d and returns the
// results in variant order. A cancelled ctx stops handing out variants;
// the variants already in progress are finished first.
func Classify(ctx context.Context, d *data.GwasData, p *params.Params, config Config,
	logger *logging.Logger) (results []Result, err error) {
	config = config.WithDefaults()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if !slices.Equal(p.TraitNames, d.Meta.TraitNames) {
		return nil, fmt.Errorf("parameters are for traits [%s], data has [%s]: %w",
			strings.Join(p.TraitNames, ", "), strings.Join(d.Meta.TraitNames, ", "), params.ErrInvalidParams)
	}
	p = PrepareParams(p, config)
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("after override: %w", err)
	}

	logger.Info("starting classification",
		"variants", d.NDataPoints(),
		"workers", config.NWorkers,
		"chains_per_variant", config.NChainsPerVariant,
	)
	workers := pool.New[task, Result](config.NWorkers, shutdown, logger, newWorker(d, p, config, logger))
	defer func() {
		if closeErr := workers.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	tasks := func(yield func(task) bool) {
		for j := 0; j < d.NDataPoints(); j++ {
			if !yield(task{index: j}) {
				return
			}
		}
	}
	return workers.TaskQueue(ctx, tasks, newProgress(logger, d.NDataPoints(), config.ProgressInterval))
}

func newWorker(d *data.GwasData, p *params.Params, config Config, logger *logging.Logger) pool.Run[task, Result] {
	traced := make(map[string]bool, len(config.TraceIDs))
	for _, id := range config.TraceIDs {
		traced[id] = true
	}
	return func(id int, inbox <-chan task, send func(Result)) {
		for t := range inbox {
			if t.index < 0 {
				return
			}
			result := classifyVariant(d, p, config, traced, logger, t.index)
			result.Worker = id
			send(result)
		}
	}
}

// classifyVariant runs NChainsPerVariant chains on variant j restricted
// to its observed traits and merges them.
func classifyVariant(d *data.GwasData, p *params.Params, config Config, traced map[string]bool,
	logger *logging.Logger, j int) Result {
	start := time.Now()
	defer func() { metrics.ClassifyVariantSeconds.Observe(time.Since(start).Seconds()) }()

	varID := d.Meta.VarIDs[j]
	point, cols := d.OnlyDataPoint(j)
	if len(cols) < d.NTraits() {
		logger.Warn("classifying with a subset of traits",
			"var_id", varID,
			"observed", len(cols),
			"declared", d.NTraits(),
			"traits", strings.Join(point.Meta.TraitNames, ", "),
		)
	}
	reduced := p.ReduceTo(cols)
	nEndos := reduced.NEndos()
	result := Result{VarID: varID, TMeans: make([]float64, d.NTraits())}
	for i := range result.TMeans {
		result.TMeans[i] = math.NaN()
	}

	var tracer sample.Tracer
	if traced[varID] {
		fileTracer, err := NewFileTracer(config.TracePrefix, varID, nEndos, reduced.TraitNames, logger)
		if err != nil {
			logger.Warn("tracing disabled", "var_id", varID, "error", err)
		} else {
			tracer = fileTracer
			defer func() {
				if err := fileTracer.Close(); err != nil {
					logger.Warn("could not close trace files", "var_id", varID, "error", err)
				}
			}()
		}
	}

	nChains := config.NChainsPerVariant
	stream := uint64(j) * uint64(nChains)
	sampler := sample.NewSampler(point, reduced, nChains, config.Seed, stream, tracer)
	sampler.BurnIn(config.NStepsBurnIn, metrics.ModeClassify)
	chains := sampler.NewStats()
	sampler.SampleN(chains, config.NSamples, metrics.ModeClassify)

	if nChains > 1 && logger.Enabled(logging.LevelDebug) {
		if ratios, err := sample.CalculateConvergences(chains); err == nil {
			row := ratios.Row(0)
			logger.Debug("chain agreement", "var_id", varID,
				"e_inter_intra_ratios", row[:nEndos],
				"t_inter_intra_ratios", row[nEndos:],
			)
		}
	}
	merged, err := sample.Merged(chains)
	if err != nil {
		result.Err = fmt.Errorf("variant %s: %w", varID, err)
		return result
	}
	classification := merged.CalculateClassification()
	result.EMeans = classification.EMeans.Row(0)
	result.EStds = classification.EStds.Row(0)
	for n, i := range cols {
		result.TMeans[i] = classification.TMeans.At(0, n)
	}

	exact, err := ExactMeans(reduced, point.Betas.Row(0), point.Ses.Row(0))
	if err != nil {
		logger.Debug("no exact posterior mean", "var_id", varID, "error", err)
		exact = make([]float64, nEndos)
		for k := range exact {
			exact[k] = math.NaN()
		}
	}
	result.EExact = exact
	return result
}

// progress logs task queue events, at most once per interval.
type progress struct {
	logger   *logging.Logger
	total    int
	done     int
	interval time.Duration
	start    time.Time
	last     time.Time
}

func newProgress(logger *logging.Logger, total int, interval time.Duration) *progress {
	return &progress{logger: logger, total: total, interval: interval}
}

func (p *progress) GoingToStart() {
	p.start = time.Now()
	p.last = p.start
	p.logger.Debug("task queue starting", "tasks", p.total)
}

func (p *progress) Sent(int, int) {}

func (p *progress) Received(_ int, r Result) {
	p.done++
	if r.Err != nil {
		p.logger.Warn("variant failed", "var_id", r.VarID, "error", r.Err)
	}
	if now := time.Now(); now.Sub(p.last) >= p.interval {
		p.last = now
		p.logger.Info("classification progress",
			"done", p.done,
			"total", p.total,
			"elapsed", now.Sub(p.start).Round(time.Millisecond).String(),
		)
	}
}

func (p *progress) Draining(inFlight int) {
	p.logger.Debug("all variants handed out", "in_flight", inFlight)
}

func (p *progress) Completed() {
	p.logger.Info("classification complete",
		"variants", p.done,
		"elapsed", time.Since(p.start).Round(time.Millisecond).String(),
	)
}
