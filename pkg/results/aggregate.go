// File: pkg/results/aggregate.go

// Package results folds per-event match verdicts into the write-once run
// report consumed by the reporter.
package results

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tagsentry/api/schemas"
)

// Builder accumulates the pieces of a ValidationRun as the pipeline produces
// them, then seals the report. Not safe for concurrent use; the pipeline is
// sequential by design.
type Builder struct {
	logger *zap.Logger
	run    schemas.ValidationRun
	sealed bool
}

func NewBuilder(logger *zap.Logger, targetURL string) *Builder {
	return &Builder{
		logger: logger.Named("results"),
		run: schemas.ValidationRun{
			RunID:     uuid.NewString(),
			TargetURL: targetURL,
			Timestamp: time.Now().UTC(),
		},
	}
}

// RunID returns the identifier assigned at construction.
func (b *Builder) RunID() string { return b.run.RunID }

// AddWarning appends a recoverable run-level failure.
func (b *Builder) AddWarning(msg string) {
	if msg != "" {
		b.run.GeneralWarnings = append(b.run.GeneralWarnings, msg)
	}
}

// AddWarnings appends a batch of recoverable failures, skipping blanks.
func (b *Builder) AddWarnings(msgs []string) {
	for _, m := range msgs {
		b.AddWarning(m)
	}
}

// SetGTM records the container-id check outcome.
func (b *Builder) SetGTM(check schemas.GTMCheck) {
	b.run.GTM = check
}

// SetResults installs the per-event verdicts and derives the summary.
// capturedCount is the total number of drained events before any filtering,
// so the summary distinguishes "nothing fired" from "nothing matched".
func (b *Builder) SetResults(results []schemas.MatchResult, missing []schemas.MissingReference, referenceCount, capturedCount int) {
	b.run.Results = results

	s := schemas.ComparisonSummary{
		ReferenceCount: referenceCount,
		CapturedCount:  capturedCount,
		MissingCount:   len(missing),
		MissingDetails: missing,
	}
	for _, r := range results {
		if !r.Duplicate {
			s.UniqueCount++
		}
		switch {
		case r.Entry != nil:
			s.MatchedCount++
			if r.Status == schemas.StatusMatchedWithErrors {
				s.InvalidCount++
			}
		case r.Status == schemas.StatusWeakMatch:
			s.WeakCount++
			s.ExtraCount++
		case !r.Duplicate:
			s.ExtraCount++
		}
	}
	if s.ReferenceCount > 0 {
		s.CoveragePercent = 100 * float64(s.MatchedCount) / float64(s.ReferenceCount)
		s.SuccessPercent = 100 * float64(s.MatchedCount-s.InvalidCount) / float64(s.ReferenceCount)
	}
	b.run.Summary = s

	switch {
	case capturedCount == 0:
		b.AddWarning("no dataLayer events were captured during the run")
	case s.MatchedCount == 0:
		b.AddWarning("events were captured but none matched a reference entry")
	}
}

// Abort marks the run as fatally short-circuited. The partial results and
// summary accumulated so far stay in the report.
func (b *Builder) Abort(reason string) {
	b.run.Aborted = true
	b.run.AbortReason = reason
	b.logger.Error("Run aborted", zap.String("run_id", b.run.RunID), zap.String("reason", reason))
}

// Finalize seals and returns the report. Further mutation is a programming
// error; repeated calls return the same report.
func (b *Builder) Finalize() *schemas.ValidationRun {
	if !b.sealed {
		b.sealed = true
		b.logger.Info("Run finalized",
			zap.String("run_id", b.run.RunID),
			zap.Int("results", len(b.run.Results)),
			zap.Int("matched", b.run.Summary.MatchedCount),
			zap.Int("missing", b.run.Summary.MissingCount),
			zap.Float64("coverage", b.run.Summary.CoveragePercent),
			zap.Bool("aborted", b.run.Aborted))
	}
	return &b.run
}
