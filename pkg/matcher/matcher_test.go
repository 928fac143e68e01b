// File: pkg/matcher/matcher_test.go
package matcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tagsentry/api/schemas"
	"github.com/xkilldash9x/tagsentry/internal/config"
)

func newTestMatcher(t *testing.T, mutate func(*config.ValidationConfig)) *Matcher {
	t.Helper()
	cfg := config.NewDefaultConfig().Validation
	if mutate != nil {
		mutate(&cfg)
	}
	return New(zap.NewNop(), cfg)
}

func entry(id string, order int, props map[string]any, required []string, dynamic map[string]string) schemas.ReferenceEntry {
	return schemas.ReferenceEntry{
		ID:             id,
		Title:          id,
		Properties:     props,
		RequiredFields: required,
		DynamicFields:  dynamic,
		Order:          order,
	}
}

func event(idx int, ts int64, props map[string]any) schemas.CapturedEvent {
	return schemas.CapturedEvent{Index: idx, Timestamp: ts, Properties: props}
}

func TestScoreFractionOfRequiredFields(t *testing.T) {
	m := newTestMatcher(t, nil)
	e := entry("datalayer_0", 0,
		map[string]any{"event": "GAEvent", "event_category": "Hero", "event_label": "Start"},
		[]string{"event", "event_category", "event_label"}, nil)

	full := event(0, 0, map[string]any{"event": "GAEvent", "event_category": "Hero", "event_label": "Start"})
	partial := event(1, 0, map[string]any{"event": "GAEvent", "event_category": "Hero"})
	none := event(2, 0, map[string]any{"other": true})

	assert.InDelta(t, 1.0, m.Score(full, &e), 1e-9)
	assert.InDelta(t, 2.0/3.0, m.Score(partial, &e), 1e-9)
	assert.Zero(t, m.Score(none, &e))
}

func TestScoreIsMonotonic(t *testing.T) {
	m := newTestMatcher(t, nil)
	e := entry("datalayer_0", 0,
		map[string]any{"event": "GAEvent", "event_category": "Hero", "event_action": "Click"},
		[]string{"event", "event_category", "event_action"}, nil)

	props := map[string]any{}
	prev := m.Score(event(0, 0, props), &e)
	for _, add := range []struct{ k, v string }{
		{"event", "GAEvent"}, {"event_category", "Hero"}, {"event_action", "Click"},
	} {
		props[add.k] = add.v
		cur := m.Score(event(0, 0, props), &e)
		assert.GreaterOrEqual(t, cur, prev, "adding a satisfied field must not lower the score")
		prev = cur
	}
	assert.InDelta(t, 1.0, prev, 1e-9)
}

func TestScoreDynamicFieldPresenceRule(t *testing.T) {
	m := newTestMatcher(t, nil)
	e := entry("datalayer_0", 0,
		map[string]any{"event": "GAEvent", "transaction_id": nil},
		[]string{"event", "transaction_id"},
		map[string]string{"transaction_id": "null"})

	withValue := event(0, 0, map[string]any{"event": "GAEvent", "transaction_id": "T-99"})
	empty := event(1, 0, map[string]any{"event": "GAEvent", "transaction_id": "  "})
	absent := event(2, 0, map[string]any{"event": "GAEvent"})

	assert.InDelta(t, 1.0, m.Score(withValue, &e), 1e-9)
	assert.InDelta(t, 0.5, m.Score(empty, &e), 1e-9)
	assert.InDelta(t, 0.5, m.Score(absent, &e), 1e-9)
}

func TestScoreNestedPathLookup(t *testing.T) {
	m := newTestMatcher(t, nil)
	e := entry("datalayer_0", 0,
		map[string]any{"event": "purchase", "ecommerce": map[string]any{"currency": "EUR"}},
		[]string{"event", "ecommerce.currency"}, nil)

	ev := event(0, 0, map[string]any{
		"event":     "purchase",
		"ecommerce": map[string]any{"currency": "EUR"},
	})
	assert.InDelta(t, 1.0, m.Score(ev, &e), 1e-9)
}

func TestMatchEveryEventYieldsOneResult(t *testing.T) {
	m := newTestMatcher(t, nil)
	entries := []schemas.ReferenceEntry{
		entry("datalayer_0", 0, map[string]any{"event": "GAEvent", "event_category": "A"},
			[]string{"event", "event_category"}, nil),
	}
	events := []schemas.CapturedEvent{
		event(0, 0, map[string]any{"event": "GAEvent", "event_category": "A"}),
		event(1, 0, map[string]any{"event": "GAEvent", "event_category": "B"}),
		event(2, 0, map[string]any{"unrelated": 1}),
	}

	results, missing := m.Match(entries, events)
	require.Len(t, results, len(events))
	for i, r := range results {
		assert.Equal(t, events[i].Index, r.Event.Index, "results stay in capture order")
	}
	assert.Empty(t, missing)
}

func TestMatchEntryAssignedAtMostOnce(t *testing.T) {
	m := newTestMatcher(t, nil)
	entries := []schemas.ReferenceEntry{
		entry("datalayer_0", 0, map[string]any{"event": "GAEvent", "event_category": "A"},
			[]string{"event", "event_category"}, nil),
	}
	// Two distinct events both score 1.0 against the lone entry.
	events := []schemas.CapturedEvent{
		event(0, 0, map[string]any{"event": "GAEvent", "event_category": "A", "n": 1.0}),
		event(1, 0, map[string]any{"event": "GAEvent", "event_category": "A", "n": 2.0}),
	}

	results, _ := m.Match(entries, events)
	assigned := 0
	for _, r := range results {
		if r.Entry != nil {
			assigned++
		}
	}
	assert.Equal(t, 1, assigned)
	// Tie-break: the earlier capture wins.
	assert.NotNil(t, results[0].Entry)
	assert.Equal(t, schemas.StatusWeakMatch, results[1].Status,
		"the loser still scored above zero, so it carries a hint")
	require.NotNil(t, results[1].BestCandidate)
	assert.Equal(t, "datalayer_0", results[1].BestCandidate.EntryID)
}

func TestMatchTieBreakByDeclarationOrder(t *testing.T) {
	m := newTestMatcher(t, nil)
	// Identical entries: the earlier declaration must be assigned first.
	entries := []schemas.ReferenceEntry{
		entry("datalayer_0", 0, map[string]any{"event": "GAEvent"}, []string{"event"}, nil),
		entry("datalayer_1", 1, map[string]any{"event": "GAEvent"}, []string{"event"}, nil),
	}
	events := []schemas.CapturedEvent{
		event(0, 0, map[string]any{"event": "GAEvent"}),
	}

	results, missing := m.Match(entries, events)
	require.NotNil(t, results[0].Entry)
	assert.Equal(t, "datalayer_0", results[0].Entry.ID)
	require.Len(t, missing, 1)
	assert.Equal(t, "datalayer_1", missing[0].EntryID)
}

func TestMatchThresholdBoundary(t *testing.T) {
	// Threshold 0.5 with two required fields: one satisfied scores exactly 0.5
	// and must be assigned (>= comparison), not treated as weak.
	m := newTestMatcher(t, func(c *config.ValidationConfig) { c.MatchThreshold = 0.5 })
	entries := []schemas.ReferenceEntry{
		entry("datalayer_0", 0, map[string]any{"event": "GAEvent", "event_category": "A"},
			[]string{"event", "event_category"}, nil),
	}
	events := []schemas.CapturedEvent{
		event(0, 0, map[string]any{"event": "GAEvent"}),
	}

	results, _ := m.Match(entries, events)
	require.NotNil(t, results[0].Entry)
	assert.Equal(t, schemas.StatusMatchedWithErrors, results[0].Status)
	require.NotNil(t, results[0].Valid)
	assert.False(t, *results[0].Valid)
	assert.NotEmpty(t, results[0].Errors)
}

func TestMatchFoldedEqualityIsWarningNotError(t *testing.T) {
	m := newTestMatcher(t, nil)
	entries := []schemas.ReferenceEntry{
		entry("datalayer_0", 0, map[string]any{"event": "GAEvent", "event_label": "Configuración"},
			[]string{"event", "event_label"}, nil),
	}
	events := []schemas.CapturedEvent{
		event(0, 0, map[string]any{"event": "GAEvent", "event_label": "configuracion"}),
	}

	results, _ := m.Match(entries, events)
	require.NotNil(t, results[0].Entry)
	assert.Equal(t, schemas.StatusMatched, results[0].Status)
	require.NotNil(t, results[0].Valid)
	assert.True(t, *results[0].Valid)
	assert.Empty(t, results[0].Errors)
	require.NotEmpty(t, results[0].Warnings)
	assert.Contains(t, results[0].Warnings[0], "case or accents")
}

func TestMatchDuplicateCollapse(t *testing.T) {
	m := newTestMatcher(t, nil)
	entries := []schemas.ReferenceEntry{
		entry("datalayer_0", 0, map[string]any{"event": "GAEvent", "event_category": "A"},
			[]string{"event", "event_category"}, nil),
	}
	payload := map[string]any{"event": "GAEvent", "event_category": "A"}
	events := []schemas.CapturedEvent{
		event(0, 1000, payload),
		event(1, 5000, map[string]any{"event": "GAEvent", "event_category": "A"}),
	}

	results, _ := m.Match(entries, events)
	assert.False(t, results[0].Duplicate)
	assert.True(t, results[1].Duplicate, "identical payload with a different timestamp is a duplicate")
	assert.Nil(t, results[1].Entry, "duplicates do not consume reference entries")
	require.NotEmpty(t, results[1].Warnings)
	assert.Contains(t, results[1].Warnings[0], "duplicate of capture #0")
}

func TestMatchStrictModeFlagsExtras(t *testing.T) {
	m := newTestMatcher(t, func(c *config.ValidationConfig) { c.Strict = true })
	results, _ := m.Match(nil, []schemas.CapturedEvent{
		event(0, 0, map[string]any{"event": "rogue"}),
	})
	require.Len(t, results, 1)
	assert.Equal(t, schemas.StatusUnmatched, results[0].Status)
	assert.NotEmpty(t, results[0].Errors)
}

func TestMatchGlobalRequiredAppliesWithoutAssignment(t *testing.T) {
	m := newTestMatcher(t, nil)
	results, _ := m.Match(nil, []schemas.CapturedEvent{
		event(0, 0, map[string]any{"event_category": "Hero"}),
	})
	require.Len(t, results, 1)
	assert.Equal(t, schemas.StatusUnmatched, results[0].Status)
	require.NotNil(t, results[0].Valid, "an event missing a global required property must be invalid")
	assert.False(t, *results[0].Valid)
	require.NotEmpty(t, results[0].Errors)
	assert.Contains(t, results[0].Errors[0], `missing required global property "event"`)
}

func TestMatchGlobalRequiredDemotesMatchedEvent(t *testing.T) {
	m := newTestMatcher(t, nil)
	// The entry itself never requires "event", so only the global rule can
	// catch its absence.
	entries := []schemas.ReferenceEntry{
		entry("datalayer_0", 0, map[string]any{"event_category": "Hero"},
			[]string{"event_category"}, nil),
	}
	events := []schemas.CapturedEvent{
		event(0, 0, map[string]any{"event_category": "Hero"}),
	}

	results, _ := m.Match(entries, events)
	require.NotNil(t, results[0].Entry)
	assert.Equal(t, schemas.StatusMatchedWithErrors, results[0].Status)
	require.NotNil(t, results[0].Valid)
	assert.False(t, *results[0].Valid)
	require.NotEmpty(t, results[0].Errors)
	assert.Contains(t, results[0].Errors[0], `missing required global property "event"`)
}

func TestMatchExtraFieldWarnsAndStrictFails(t *testing.T) {
	entries := []schemas.ReferenceEntry{
		entry("datalayer_0", 0, map[string]any{"event": "GAEvent"}, []string{"event"}, nil),
	}
	events := []schemas.CapturedEvent{
		event(0, 0, map[string]any{"event": "GAEvent", "rogue_extra": "x"}),
	}

	lax := newTestMatcher(t, nil)
	results, _ := lax.Match(entries, events)
	require.NotNil(t, results[0].Entry)
	assert.Equal(t, schemas.StatusMatched, results[0].Status)
	require.NotEmpty(t, results[0].Warnings)
	assert.Contains(t, results[0].Warnings[0], `unexpected extra field "rogue_extra"`)

	strict := newTestMatcher(t, func(c *config.ValidationConfig) { c.Strict = true })
	results, _ = strict.Match(entries, events)
	require.NotNil(t, results[0].Entry)
	assert.Equal(t, schemas.StatusMatchedWithErrors, results[0].Status)
	require.NotEmpty(t, results[0].Errors)
	assert.Contains(t, results[0].Errors[0], `unexpected extra field "rogue_extra"`)
}

func TestMatchTimingWarnings(t *testing.T) {
	m := newTestMatcher(t, func(c *config.ValidationConfig) { c.WarningTimeThresholdMs = 500 })
	entries := []schemas.ReferenceEntry{
		entry("datalayer_0", 0, map[string]any{"event": "GAEvent"}, []string{"event"}, nil),
	}
	events := []schemas.CapturedEvent{
		event(0, 10_000, map[string]any{"event": "GAEvent"}),
		event(1, 10_100, map[string]any{"event": "other"}),
		event(2, 20_000, map[string]any{"event": "later"}),
	}

	results, _ := m.Match(entries, events)
	assert.Empty(t, results[0].Warnings)
	require.NotEmpty(t, results[1].Warnings)
	assert.Contains(t, results[1].Warnings[0], "100ms after the previous event")
	assert.Empty(t, results[2].Warnings)
}

func TestMatchTimingWarningsIgnoreDuplicates(t *testing.T) {
	m := newTestMatcher(t, func(c *config.ValidationConfig) { c.WarningTimeThresholdMs = 500 })
	// A repeated payload between two unique events must not shrink the gap
	// those events are judged on.
	events := []schemas.CapturedEvent{
		event(0, 1000, map[string]any{"event": "GAEvent"}),
		event(1, 1900, map[string]any{"event": "GAEvent"}),
		event(2, 2100, map[string]any{"event": "other"}),
	}

	results, _ := m.Match(nil, events)
	require.True(t, results[1].Duplicate)
	for _, w := range results[2].Warnings {
		assert.NotContains(t, w, "after the previous event",
			"the gap to the previous unique event is 1100ms, over the threshold")
	}
}

func TestAttachClickLatency(t *testing.T) {
	m := newTestMatcher(t, func(c *config.ValidationConfig) { c.WarningTimeThresholdMs = 500 })
	events := []schemas.CapturedEvent{
		event(0, 500, map[string]any{"event": "early"}),
		event(1, 3000, map[string]any{"event": "late"}),
	}
	results, _ := m.Match(nil, events)

	click := func(ts int64, label string) schemas.ActionOutcome {
		return schemas.ActionOutcome{
			Action: schemas.Action{
				Type:   schemas.ActionClick,
				Target: schemas.Descriptor{Label: label},
			},
			ClickedAt: ts,
		}
	}
	m.AttachClickLatency(results, []schemas.ActionOutcome{
		click(1000, "Buy now"),
		click(2900, "Checkout"),
	})

	assert.Empty(t, results[0].Warnings, "events before the click are never attributed to it")
	require.NotEmpty(t, results[1].Warnings)
	assert.Contains(t, results[1].Warnings[0], `arrived 2000ms after the click on "Buy now"`)
	assert.Len(t, results[1].Warnings, 1,
		"the second click was followed within the threshold, so no warning")
}

func TestFilterEvents(t *testing.T) {
	m := newTestMatcher(t, func(c *config.ValidationConfig) { c.EventFilter = "GAEvent" })
	events := []schemas.CapturedEvent{
		event(0, 0, map[string]any{"event": "GAEvent"}),
		event(1, 0, map[string]any{"event": "gtm.js"}),
		event(2, 0, map[string]any{"no_event_key": true}),
	}
	kept, excluded := m.FilterEvents(events)
	require.Len(t, kept, 1)
	assert.Equal(t, 0, kept[0].Index)
	assert.Len(t, excluded, 2)

	open := newTestMatcher(t, nil)
	kept, excluded = open.FilterEvents(events)
	assert.Len(t, kept, 3)
	assert.Empty(t, excluded)
}

func TestCheckGTM(t *testing.T) {
	m := newTestMatcher(t, nil)

	skip := m.CheckGTM("", []string{"GTM-XYZ"})
	assert.Equal(t, schemas.GTMSkip, skip.Status)

	pass := m.CheckGTM("GTM-ABC123", []string{"GTM-OTHER", "GTM-ABC123"})
	assert.Equal(t, schemas.GTMPass, pass.Status)

	fail := m.CheckGTM("GTM-ABC123", []string{"GTM-OTHER"})
	assert.Equal(t, schemas.GTMFail, fail.Status)
	assert.Equal(t, "GTM-ABC123", fail.Expected)
}

func TestValuesEqualNumericWidths(t *testing.T) {
	eq, folded := valuesEqual(float64(42), 42)
	assert.True(t, eq)
	assert.False(t, folded)

	eq, _ = valuesEqual(int64(7), float64(7))
	assert.True(t, eq, "JSON widths differ between the two sources")
}

func TestValuesEqualRejectsCrossTypePairs(t *testing.T) {
	cases := []struct {
		name     string
		expected any
		actual   any
	}{
		{"bool vs string", true, "true"},
		{"number vs string", float64(1), "1"},
		{"string vs number", "42", float64(42)},
		{"bool vs number", true, float64(1)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			eq, _ := valuesEqual(tc.expected, tc.actual)
			assert.False(t, eq, "a value of the wrong type must not validate")
		})
	}
}

func TestLookupDottedPaths(t *testing.T) {
	props := map[string]any{
		"flat": "x",
		"ecommerce": map[string]any{
			"items": []any{map[string]any{"item_name": "SKU-1"}},
		},
		"weird.key": "direct",
	}

	v, ok := lookup(props, "flat")
	require.True(t, ok)
	assert.Equal(t, "x", v)

	v, ok = lookup(props, "ecommerce.items.0.item_name")
	require.True(t, ok)
	assert.Equal(t, "SKU-1", v)

	// A literal dotted key wins over path traversal.
	v, ok = lookup(props, "weird.key")
	require.True(t, ok)
	assert.Equal(t, "direct", v)

	_, ok = lookup(props, "ecommerce.missing")
	assert.False(t, ok)
}
