// File: pkg/results/aggregate_test.go
package results

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tagsentry/api/schemas"
)

func boolPtr(b bool) *bool { return &b }

func TestBuilderSummaryArithmetic(t *testing.T) {
	b := NewBuilder(zap.NewNop(), "https://example.com")

	entryA := &schemas.ReferenceEntry{ID: "datalayer_0", Title: "A"}
	entryB := &schemas.ReferenceEntry{ID: "datalayer_1", Title: "B"}
	results := []schemas.MatchResult{
		{Event: schemas.CapturedEvent{Index: 0}, Entry: entryA, Status: schemas.StatusMatched, Valid: boolPtr(true)},
		{Event: schemas.CapturedEvent{Index: 1}, Entry: entryB, Status: schemas.StatusMatchedWithErrors, Valid: boolPtr(false)},
		{Event: schemas.CapturedEvent{Index: 2}, Status: schemas.StatusWeakMatch, BestCandidate: &schemas.WeakHint{EntryID: "datalayer_2"}},
		{Event: schemas.CapturedEvent{Index: 3}, Status: schemas.StatusUnmatched},
		{Event: schemas.CapturedEvent{Index: 4}, Status: schemas.StatusUnmatched, Duplicate: true},
	}
	missing := []schemas.MissingReference{{EntryID: "datalayer_2", Title: "C"}}

	b.SetResults(results, missing, 3, 5)
	run := b.Finalize()

	s := run.Summary
	assert.Equal(t, 3, s.ReferenceCount)
	assert.Equal(t, 5, s.CapturedCount)
	assert.Equal(t, 4, s.UniqueCount)
	assert.Equal(t, 2, s.MatchedCount)
	assert.Equal(t, 1, s.MissingCount)
	assert.Equal(t, s.ReferenceCount, s.MatchedCount+s.MissingCount)
	assert.Equal(t, 2, s.ExtraCount, "weak matches and extras count; duplicates do not")
	assert.Equal(t, 1, s.WeakCount)
	assert.Equal(t, 1, s.InvalidCount)
	assert.InDelta(t, 200.0/3.0, s.CoveragePercent, 1e-9)
	assert.InDelta(t, 100.0/3.0, s.SuccessPercent, 1e-9)
	require.Len(t, s.MissingDetails, 1)
	assert.Equal(t, "datalayer_2", s.MissingDetails[0].EntryID)
}

func TestBuilderDistinguishesEmptyCaptureFromNoMatches(t *testing.T) {
	empty := NewBuilder(zap.NewNop(), "https://example.com")
	empty.SetResults(nil, nil, 2, 0)
	run := empty.Finalize()
	require.Len(t, run.GeneralWarnings, 1)
	assert.Contains(t, run.GeneralWarnings[0], "no dataLayer events were captured")

	noMatch := NewBuilder(zap.NewNop(), "https://example.com")
	noMatch.SetResults([]schemas.MatchResult{
		{Event: schemas.CapturedEvent{Index: 0}, Status: schemas.StatusUnmatched},
	}, nil, 2, 1)
	run = noMatch.Finalize()
	require.Len(t, run.GeneralWarnings, 1)
	assert.Contains(t, run.GeneralWarnings[0], "none matched")
}

func TestBuilderAbortKeepsPartialResults(t *testing.T) {
	b := NewBuilder(zap.NewNop(), "https://example.com")
	b.SetResults([]schemas.MatchResult{
		{Event: schemas.CapturedEvent{Index: 0}, Status: schemas.StatusUnmatched},
	}, nil, 1, 1)
	b.Abort("page load timed out")

	run := b.Finalize()
	assert.True(t, run.Aborted)
	assert.Equal(t, "page load timed out", run.AbortReason)
	assert.Len(t, run.Results, 1, "partial results survive an abort")
}

func TestBuilderIdentityAndWarnings(t *testing.T) {
	b := NewBuilder(zap.NewNop(), "https://example.com/checkout")

	_, err := uuid.Parse(b.RunID())
	require.NoError(t, err)

	b.AddWarning("first")
	b.AddWarning("")
	b.AddWarnings([]string{"second", ""})
	b.SetGTM(schemas.GTMCheck{Expected: "GTM-X", Status: schemas.GTMFail})

	run := b.Finalize()
	assert.Equal(t, "https://example.com/checkout", run.TargetURL)
	assert.False(t, run.Timestamp.IsZero())
	assert.Equal(t, []string{"first", "second"}, run.GeneralWarnings)
	assert.Equal(t, schemas.GTMFail, run.GTM.Status)

	again := b.Finalize()
	assert.Same(t, run, again)
}
