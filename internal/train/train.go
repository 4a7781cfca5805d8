// Package train estimates the model parameters by stochastic EM: several
// independent Gibbs chains sample under the current parameters and each
// re-estimates them, and the coordinator adopts the pooled estimate once
// the chains agree.
package train

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"mocasa/internal/data"
	"mocasa/internal/logging"
	"mocasa/internal/metrics"
	"mocasa/internal/params"
	"mocasa/internal/pool"
	"mocasa/internal/stats"
)

var ErrTooFewChains = errors.New("too few valid chains")

// Config holds the training knobs.
type Config struct {
	NStepsBurnIn         int
	NSamplesPerIteration int
	NIterationsPerRound  int
	NRounds              int
	Precision            float64
	MaxInterIntraRatio   float64
	MinChainsUsed        int
	NChains              int
	Seed                 uint64
	Wootz                stats.WootzConfig
	ReportInterval       time.Duration
}

// Default training knobs.
const (
	DefaultNStepsBurnIn         = 100
	DefaultNSamplesPerIteration = 100
	DefaultNIterationsPerRound  = 10
	DefaultNRounds              = 100
	DefaultPrecision            = 0.01
	DefaultMaxInterIntraRatio   = 1.0
	DefaultMinChainsUsed        = pool.MinWorkers
)

// WithDefaults fills zero knobs.
func (c Config) WithDefaults() Config {
	if c.NStepsBurnIn <= 0 {
		c.NStepsBurnIn = DefaultNStepsBurnIn
	}
	if c.NSamplesPerIteration <= 0 {
		c.NSamplesPerIteration = DefaultNSamplesPerIteration
	}
	if c.NIterationsPerRound <= 0 {
		c.NIterationsPerRound = DefaultNIterationsPerRound
	}
	if c.NRounds <= 0 {
		c.NRounds = DefaultNRounds
	}
	if c.Precision <= 0 {
		c.Precision = DefaultPrecision
	}
	if c.MaxInterIntraRatio <= 0 {
		c.MaxInterIntraRatio = DefaultMaxInterIntraRatio
	}
	if c.MinChainsUsed < 2 {
		c.MinChainsUsed = DefaultMinChainsUsed
	}
	if c.NChains <= 0 {
		c.NChains = pool.DefaultSize()
	}
	c.NChains = max(c.NChains, c.MinChainsUsed)
	c.Wootz = c.Wootz.WithDefaults()
	if c.ReportInterval <= 0 {
		c.ReportInterval = DefaultReportInterval
	}
	return c
}

// RoundTracer records the parameters after every completed round.
type RoundTracer interface {
	Trace(round int, p *params.Params) error
}

// Result is the outcome of a training run.
type Result struct {
	Params    *params.Params
	Converged bool
	Rounds    int
	Summary   *Summary
}

// Train runs the control loop until the pooled estimate is accepted with
// a relative error and a round-to-round drift below the precision, or
// until the rounds run out, in which case the last accepted parameters
// are returned with Converged false. A cancelled ctx stops the loop at
// the next iteration boundary. tracer may be nil.
func Train(ctx context.Context, d *data.GwasData, initial *params.Params, config Config,
	logger *logging.Logger, tracer RoundTracer) (result *Result, err error) {
	config = config.WithDefaults()
	if err := initial.Validate(); err != nil {
		return nil, fmt.Errorf("initial parameters: %w", err)
	}
	if initial.NTraits() != d.NTraits() {
		return nil, fmt.Errorf("initial parameters have %d traits, data has %d: %w",
			initial.NTraits(), d.NTraits(), params.ErrInvalidParams)
	}

	logger.Info("starting training",
		"chains", config.NChains,
		"variants", d.NDataPoints(),
		"traits", d.NTraits(),
		"endos", initial.NEndos(),
	)
	workers := pool.New[Command, Sampled](config.NChains, Shutdown{}, logger, newWorker(d, initial, config))
	defer func() {
		if closeErr := workers.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	t := &trainer{
		workers:  workers,
		config:   config,
		logger:   logger,
		reporter: NewReporter(logger, config.ReportInterval),
		nEndos:   initial.NEndos(),
		names:    d.Meta.TraitNames,
	}
	return t.run(ctx, initial, tracer)
}

type trainer struct {
	workers  *pool.Pool[Command, Sampled]
	config   Config
	logger   *logging.Logger
	reporter *Reporter
	nEndos   int
	names    []string
}

func (t *trainer) run(ctx context.Context, initial *params.Params, tracer RoundTracer) (*Result, error) {
	current := initial
	var meta *ParamMetaStats
	var last *Summary
	for round := 1; round <= t.config.NRounds; round++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		t.reporter.ResetRoundTimer()
		logger := t.logger.With("round", round)

		if meta == nil {
			var err error
			meta, err = t.bootstrap()
			if err != nil {
				if !errors.Is(err, ErrTooFewChains) {
					return nil, err
				}
				if err := t.retry(logger, current, err); err != nil {
					return nil, err
				}
				continue
			}
		}

		meta.StartRound()
		if err := t.iterate(ctx, meta, round); err != nil {
			if !errors.Is(err, ErrTooFewChains) {
				return nil, err
			}
			meta = nil
			if err := t.retry(logger, current, err); err != nil {
				return nil, err
			}
			continue
		}

		summary, err := meta.Summary()
		if err != nil {
			return nil, err
		}
		last = summary
		t.reporter.Report(summary, round, t.config.NIterationsPerRound, t.config.NSamplesPerIteration)
		if tracer != nil {
			if err := tracer.Trace(round, summary.Params); err != nil {
				return nil, fmt.Errorf("trace round %d: %w", round, err)
			}
		}

		if !(summary.InterIntraRatiosMean < t.config.MaxInterIntraRatio) {
			metrics.TrainRounds.WithLabelValues(metrics.OutcomeRejected).Inc()
			logger.Info("chains disagree, sampling on",
				"inter_intra_ratio", summary.InterIntraRatiosMean,
				"max", t.config.MaxInterIntraRatio,
			)
			continue
		}

		drift := RelativeDrift(current, summary.Params)
		current = summary.Params
		if summary.RelativeErrorsMean < t.config.Precision && drift < t.config.Precision {
			metrics.TrainRounds.WithLabelValues(metrics.OutcomeConverged).Inc()
			logger.Info("training converged",
				"relative_error", summary.RelativeErrorsMean,
				"drift", drift,
				"params", current.String(),
			)
			return &Result{Params: current, Converged: true, Rounds: round, Summary: summary}, nil
		}
		metrics.TrainRounds.WithLabelValues(metrics.OutcomeAccepted).Inc()
		logger.Info("accepted new parameters",
			"relative_error", summary.RelativeErrorsMean,
			"drift", drift,
			"params", current.String(),
		)
		if err := t.workers.Broadcast(SetParams{Params: current}); err != nil {
			return nil, err
		}
		meta = nil
	}
	logger := t.logger.With("rounds", t.config.NRounds)
	logger.Warn("rounds exhausted before convergence, keeping last accepted parameters")
	return &Result{Params: current, Converged: false, Rounds: t.config.NRounds, Summary: last}, nil
}

// bootstrap collects two estimates from every chain and seeds the
// per-parameter statistics of the chains valid in both.
func (t *trainer) bootstrap() (*ParamMetaStats, error) {
	command := TakeSamples{N: t.config.NSamplesPerIteration}
	first, err := t.workers.BroadcastCollect(command)
	if err != nil {
		return nil, err
	}
	second, err := t.workers.BroadcastCollect(command)
	if err != nil {
		return nil, err
	}
	meta := NewParamMetaStats(t.nEndos, t.names, t.config.Wootz, first, second)
	if excluded := t.workers.Size() - meta.NChainsUsed(); excluded > 0 {
		metrics.ChainsExcluded.Add(float64(excluded))
		t.logger.Debug("excluded chains with invalid bootstrap estimates", "excluded", excluded)
	}
	if meta.NChainsUsed() < t.config.MinChainsUsed {
		return nil, fmt.Errorf("%d of %d chains valid after bootstrap, need %d: %w",
			meta.NChainsUsed(), t.workers.Size(), t.config.MinChainsUsed, ErrTooFewChains)
	}
	return meta, nil
}

// iterate feeds NIterationsPerRound estimates from every chain into meta.
func (t *trainer) iterate(ctx context.Context, meta *ParamMetaStats, round int) error {
	command := TakeSamples{N: t.config.NSamplesPerIteration}
	for iteration := 1; iteration <= t.config.NIterationsPerRound; iteration++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		responses, err := t.workers.BroadcastCollect(command)
		if err != nil {
			return fmt.Errorf("round %d: %w", round, err)
		}
		added := meta.Add(responses)
		if excluded := meta.NChainsTracked() - added; excluded > 0 {
			metrics.ChainsExcluded.Add(float64(excluded))
			for _, r := range responses {
				if !r.Valid() {
					t.logger.Debug("excluded invalid estimate", "worker", r.Worker, "error", invalidReason(r))
				}
			}
		}
		if used := meta.NChainsUsed(); used < t.config.MinChainsUsed {
			return fmt.Errorf("round %d iteration %d: %d chains valid this round, need %d: %w",
				round, iteration, used, t.config.MinChainsUsed, ErrTooFewChains)
		}
		if t.reporter.Due() {
			if summary, err := meta.Summary(); err == nil {
				t.reporter.Report(summary, round, iteration, t.config.NSamplesPerIteration)
			}
		}
	}
	return nil
}

// retry resets every chain to current so the round can start over.
func (t *trainer) retry(logger *logging.Logger, current *params.Params, cause error) error {
	metrics.TrainRounds.WithLabelValues(metrics.OutcomeRetried).Inc()
	logger.Warn("retrying round", "cause", cause)
	return t.workers.Broadcast(SetParams{Params: current})
}

func invalidReason(r Sampled) error {
	if r.Err != nil {
		return r.Err
	}
	if r.Params == nil {
		return errors.New("no estimate")
	}
	return r.Params.Validate()
}

// RelativeDrift is the largest change of any parameter from previous to
// next, relative to its natural scale.
func RelativeDrift(previous, next *params.Params) float64 {
	drift := 0.0
	for _, index := range params.Indices(next.NEndos(), next.NTraits()) {
		scale := naturalScale(next, index)
		if !(scale > 0) {
			continue
		}
		drift = math.Max(drift, math.Abs(next.Get(index)-previous.Get(index))/scale)
	}
	return drift
}
