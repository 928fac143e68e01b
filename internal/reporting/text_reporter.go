// File: internal/reporting/text_reporter.go
package reporting

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/tagsentry/api/schemas"
	"github.com/xkilldash9x/tagsentry/internal/observability"
)

var statusGlyphs = map[schemas.MatchStatus]string{
	schemas.StatusMatched:           "[OK]  ",
	schemas.StatusMatchedWithErrors: "[ERR] ",
	schemas.StatusWeakMatch:         "[~]   ",
	schemas.StatusUnmatched:         "[--]  ",
}

// TextReporter renders runs as a human-readable console summary, one run at
// a time, streaming as Write is called.
type TextReporter struct {
	writer io.WriteCloser
	logger *zap.Logger
	mu     sync.Mutex
}

func NewTextReporter(writer io.WriteCloser) *TextReporter {
	return &TextReporter{
		writer: writer,
		logger: observability.GetLogger().Named("text_reporter"),
	}
}

// Write renders one run immediately.
func (r *TextReporter) Write(run *schemas.ValidationRun) error {
	if run == nil {
		return fmt.Errorf("cannot report a nil validation run")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "Validation run %s\n", run.RunID)
	fmt.Fprintf(&b, "Target: %s\n", run.TargetURL)
	if run.Aborted {
		fmt.Fprintf(&b, "ABORTED: %s\n", run.AbortReason)
	}

	s := run.Summary
	fmt.Fprintf(&b, "\nReference entries: %d  Captured: %d (unique %d)\n",
		s.ReferenceCount, s.CapturedCount, s.UniqueCount)
	fmt.Fprintf(&b, "Matched: %d  Missing: %d  Extra: %d  Weak: %d  Invalid: %d\n",
		s.MatchedCount, s.MissingCount, s.ExtraCount, s.WeakCount, s.InvalidCount)
	fmt.Fprintf(&b, "Coverage: %.1f%%  Success: %.1f%%\n", s.CoveragePercent, s.SuccessPercent)

	if run.GTM.Status != schemas.GTMSkip {
		fmt.Fprintf(&b, "Container check: %s (expected %s, found %s)\n",
			run.GTM.Status, run.GTM.Expected, strings.Join(run.GTM.Found, ", "))
	}

	if len(run.Results) > 0 {
		b.WriteString("\nEvents:\n")
	}
	for _, res := range run.Results {
		glyph := statusGlyphs[res.Status]
		label := "(no match)"
		if res.Entry != nil {
			label = res.Entry.Title
		} else if res.BestCandidate != nil {
			label = fmt.Sprintf("closest: %s (%.2f)", res.BestCandidate.Title, res.BestCandidate.Score)
		}
		dup := ""
		if res.Duplicate {
			dup = " (duplicate)"
		}
		fmt.Fprintf(&b, "  %s#%d %s%s\n", glyph, res.Event.Index, label, dup)
		for _, e := range res.Errors {
			fmt.Fprintf(&b, "        error: %s\n", e)
		}
		for _, w := range res.Warnings {
			fmt.Fprintf(&b, "        warning: %s\n", w)
		}
	}

	if len(s.MissingDetails) > 0 {
		b.WriteString("\nMissing reference events:\n")
		for _, m := range s.MissingDetails {
			fmt.Fprintf(&b, "  - %s (%s)\n", m.Title, m.EntryID)
		}
	}

	if len(run.GeneralWarnings) > 0 {
		b.WriteString("\nRun warnings:\n")
		for _, w := range run.GeneralWarnings {
			fmt.Fprintf(&b, "  - %s\n", w)
		}
	}
	b.WriteString("\n")

	if _, err := io.WriteString(r.writer, b.String()); err != nil {
		r.logger.Error("Failed to write text report", zap.Error(err))
		return fmt.Errorf("failed to write text report: %w", err)
	}
	return nil
}

// Close closes the underlying writer.
func (r *TextReporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writer.Close()
}
