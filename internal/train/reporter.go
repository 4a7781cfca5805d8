package train

import (
	"fmt"
	"time"

	"mocasa/internal/logging"
)

// DefaultReportInterval is the minimum time between optional reports.
const DefaultReportInterval = 10 * time.Second

// Reporter logs progress and the current summary, at most once per
// interval unless asked to report unconditionally.
type Reporter struct {
	logger     *logging.Logger
	interval   time.Duration
	now        func() time.Time
	start      time.Time
	roundStart time.Time
	lastReport time.Time
}

// NewReporter starts the run and round timers.
func NewReporter(logger *logging.Logger, interval time.Duration) *Reporter {
	if interval <= 0 {
		interval = DefaultReportInterval
	}
	r := &Reporter{logger: logger, interval: interval, now: time.Now}
	r.start = r.now()
	r.roundStart = r.start
	r.lastReport = r.start
	return r
}

// ResetRoundTimer marks the start of a round.
func (r *Reporter) ResetRoundTimer() { r.roundStart = r.now() }

// Due reports whether the interval has passed since the last report.
func (r *Reporter) Due() bool { return r.now().Sub(r.lastReport) >= r.interval }

// Report logs progress and the summary table.
func (r *Reporter) Report(summary *Summary, round, iteration, nSteps int) {
	now := r.now()
	roundElapsed := now.Sub(r.roundStart)
	stepsPerSecond := 0.0
	if roundElapsed > 0 {
		stepsPerSecond = float64(nSteps) / roundElapsed.Seconds()
	}
	r.logger.Info("training progress",
		"round", round,
		"iteration", iteration,
		"steps", nSteps,
		"round_elapsed", FormatDuration(roundElapsed),
		"steps_per_second", fmt.Sprintf("%.3g", stepsPerSecond),
		"total_elapsed", FormatDuration(now.Sub(r.start)),
	)
	if summary != nil {
		r.logger.Info("summary\n" + summary.String())
	}
	r.lastReport = now
}

// FormatDuration renders d with two or three units, from ns up to weeks,
// e.g. "1.250ms", "42.007s", "3m20s", "2h5m0s", "1d3h12m", "2w1d5h".
func FormatDuration(d time.Duration) string {
	if d <= 0 {
		return "0s"
	}
	nanos := int64(d)
	if nanos < 1000 {
		return fmt.Sprintf("%dns", nanos)
	}
	micros := nanos / 1000
	if micros < 1000 {
		return fmt.Sprintf("%d.%03dµs", micros, nanos%1000)
	}
	millis := micros / 1000
	if millis < 1000 {
		return fmt.Sprintf("%d.%03dms", millis, micros%1000)
	}
	secs := millis / 1000
	if secs < 60 {
		return fmt.Sprintf("%d.%03ds", secs, millis%1000)
	}
	mins := secs / 60
	if mins < 60 {
		return fmt.Sprintf("%dm%ds", mins, secs%60)
	}
	hours := mins / 60
	if hours < 24 {
		return fmt.Sprintf("%dh%dm%ds", hours, mins%60, secs%60)
	}
	days := hours / 24
	if days < 7 {
		return fmt.Sprintf("%dd%dh%dm", days, hours%24, mins%60)
	}
	return fmt.Sprintf("%dw%dd%dh", days/7, days%7, hours%24)
}
