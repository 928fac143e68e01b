// File: pkg/matcher/matcher.go
package matcher

import (
	"fmt"
	"sort"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tagsentry/api/schemas"
	"github.com/xkilldash9x/tagsentry/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Matcher pairs captured dataLayer events with reference entries and
// validates each assigned pair. It is stateless across runs.
type Matcher struct {
	logger *zap.Logger
	cfg    config.ValidationConfig
}

func New(logger *zap.Logger, cfg config.ValidationConfig) *Matcher {
	return &Matcher{logger: logger.Named("matcher"), cfg: cfg}
}

// FilterEvents partitions captured events by the configured event-name
// filter. With no filter configured every event is kept.
func (m *Matcher) FilterEvents(events []schemas.CapturedEvent) (kept, excluded []schemas.CapturedEvent) {
	if m.cfg.EventFilter == "" {
		return events, nil
	}
	for _, ev := range events {
		if name, _ := ev.Properties["event"].(string); name == m.cfg.EventFilter {
			kept = append(kept, ev)
		} else {
			excluded = append(excluded, ev)
		}
	}
	return kept, excluded
}

// candidate is one scored (event, entry) pairing considered for assignment.
type candidate struct {
	eventPos int
	entryPos int
	score    float64
}

// Match runs the full pipeline: duplicate collapse, greedy assignment of
// above-threshold pairings, per-pair validation, and weak/unmatched
// classification for the remainder. Every input event yields exactly one
// MatchResult, in capture order; every entry is assigned at most once.
func (m *Matcher) Match(entries []schemas.ReferenceEntry, events []schemas.CapturedEvent) ([]schemas.MatchResult, []schemas.MissingReference) {
	results := make([]schemas.MatchResult, len(events))
	for i, ev := range events {
		results[i] = schemas.MatchResult{Event: ev, Status: schemas.StatusUnmatched}
	}

	duplicateOf := m.markDuplicates(events, results)

	// Score every live pairing once. Scores are deterministic, so the
	// assignment below is too.
	var candidates []candidate
	scores := make([][]float64, len(events))
	for i, ev := range events {
		if duplicateOf[i] >= 0 {
			continue
		}
		scores[i] = make([]float64, len(entries))
		for j := range entries {
			s := m.Score(ev, &entries[j])
			scores[i][j] = s
			if s >= m.cfg.MatchThreshold {
				candidates = append(candidates, candidate{eventPos: i, entryPos: j, score: s})
			}
		}
	}

	// Greedy one-to-one assignment, best score first. Ties break on capture
	// order, then reference declaration order, keeping runs reproducible.
	sort.SliceStable(candidates, func(a, b int) bool {
		ca, cb := candidates[a], candidates[b]
		if ca.score != cb.score {
			return ca.score > cb.score
		}
		if ca.eventPos != cb.eventPos {
			return ca.eventPos < cb.eventPos
		}
		return entries[ca.entryPos].Order < entries[cb.entryPos].Order
	})

	eventTaken := make([]bool, len(events))
	entryTaken := make([]bool, len(entries))
	for _, c := range candidates {
		if eventTaken[c.eventPos] || entryTaken[c.entryPos] {
			continue
		}
		eventTaken[c.eventPos] = true
		entryTaken[c.entryPos] = true

		entry := &entries[c.entryPos]
		res := &results[c.eventPos]
		res.Entry = entry
		res.Score = c.score
		m.validate(res, entry)
	}

	// Events left unassigned are weak matches when something scored at all,
	// plain extras otherwise.
	for i := range events {
		if eventTaken[i] || duplicateOf[i] >= 0 {
			continue
		}
		bestScore, bestEntry := 0.0, -1
		for j := range entries {
			if s := scores[i][j]; s > bestScore {
				bestScore, bestEntry = s, j
			}
		}
		if bestEntry >= 0 {
			results[i].Status = schemas.StatusWeakMatch
			results[i].Score = bestScore
			results[i].BestCandidate = &schemas.WeakHint{
				EntryID: entries[bestEntry].ID,
				Title:   entries[bestEntry].Title,
				Score:   bestScore,
			}
		}
		if m.cfg.Strict {
			results[i].Errors = append(results[i].Errors,
				"no reference entry matched this event (strict mode treats extras as failures)")
		}
	}

	m.applyGlobalRequired(results)
	m.attachTimingWarnings(results)

	var missing []schemas.MissingReference
	for j := range entries {
		if entryTaken[j] {
			continue
		}
		missing = append(missing, schemas.MissingReference{
			EntryID:    entries[j].ID,
			Title:      entries[j].Title,
			Properties: entries[j].Properties,
		})
	}

	m.logger.Info("Matching completed",
		zap.Int("events", len(events)),
		zap.Int("entries", len(entries)),
		zap.Int("assigned", len(events)-countFalse(eventTaken)),
		zap.Int("missing", len(missing)))
	return results, missing
}

// Score returns the fraction of the entry's required fields the event
// satisfies. Dynamic fields count when present and non-empty; static fields
// count when equal, with case/accent folding accepted for strings. Adding a
// satisfied field can only raise the score.
func (m *Matcher) Score(ev schemas.CapturedEvent, entry *schemas.ReferenceEntry) float64 {
	if len(entry.RequiredFields) == 0 {
		return 0
	}
	satisfied := 0
	for _, field := range entry.RequiredFields {
		if m.fieldSatisfied(ev, entry, field) {
			satisfied++
		}
	}
	return float64(satisfied) / float64(len(entry.RequiredFields))
}

func (m *Matcher) fieldSatisfied(ev schemas.CapturedEvent, entry *schemas.ReferenceEntry, field string) bool {
	if _, dynamic := entry.DynamicFields[field]; dynamic {
		return presentAndNonEmpty(ev.Properties, field)
	}
	expected, hasExpected := lookup(entry.Properties, field)
	actual, hasActual := lookup(ev.Properties, field)
	if !hasActual {
		return false
	}
	if !hasExpected || expected == nil {
		// Required but unvalued in the reference: presence is enough.
		return true
	}
	equal, _ := valuesEqual(expected, actual)
	return equal
}

// validate fills Errors and Warnings for an assigned pairing and settles its
// status. Dynamic fields must be present and non-empty; static fields must
// equal the reference value, with fold-only equality downgraded to a warning.
func (m *Matcher) validate(res *schemas.MatchResult, entry *schemas.ReferenceEntry) {
	ev := res.Event
	for _, field := range entry.RequiredFields {
		if _, dynamic := entry.DynamicFields[field]; dynamic {
			if !presentAndNonEmpty(ev.Properties, field) {
				res.Errors = append(res.Errors,
					fmt.Sprintf("dynamic field %q is missing or empty", field))
			}
			continue
		}
		actual, hasActual := lookup(ev.Properties, field)
		if !hasActual {
			res.Errors = append(res.Errors, fmt.Sprintf("required field %q is missing", field))
			continue
		}
		expected, hasExpected := lookup(entry.Properties, field)
		if !hasExpected || expected == nil {
			continue
		}
		equal, folded := valuesEqual(expected, actual)
		switch {
		case !equal:
			res.Errors = append(res.Errors,
				fmt.Sprintf("field %q: expected %v, got %v", field, expected, actual))
		case folded:
			res.Warnings = append(res.Warnings,
				fmt.Sprintf("field %q differs only in case or accents (expected %v, got %v)", field, expected, actual))
		}
	}

	// Captured keys the reference never declares are anomalies: a warning in
	// normal runs, a failure under strict validation.
	var extras []string
	for key := range ev.Properties {
		if _, declared := entry.Properties[key]; declared {
			continue
		}
		extras = append(extras, key)
	}
	sort.Strings(extras)
	for _, key := range extras {
		msg := fmt.Sprintf("unexpected extra field %q not declared by the reference entry", key)
		if m.cfg.Strict {
			res.Errors = append(res.Errors, msg)
		} else {
			res.Warnings = append(res.Warnings, msg)
		}
	}

	valid := len(res.Errors) == 0
	res.Valid = &valid
	if valid {
		res.Status = schemas.StatusMatched
	} else {
		res.Status = schemas.StatusMatchedWithErrors
	}
}

// applyGlobalRequired enforces the run-wide required properties on every
// unique captured event, independent of assignment. An event missing one is
// invalid even when no reference entry claimed it. Fields the assigned entry
// already requires are left to validate, which reported them above.
func (m *Matcher) applyGlobalRequired(results []schemas.MatchResult) {
	for i := range results {
		res := &results[i]
		if res.Duplicate {
			continue
		}
		flagged := false
		for _, field := range m.cfg.RequiredGlobals {
			if res.Entry != nil && containsField(res.Entry.RequiredFields, field) {
				continue
			}
			if presentAndNonEmpty(res.Event.Properties, field) {
				continue
			}
			res.Errors = append(res.Errors,
				fmt.Sprintf("missing required global property %q", field))
			flagged = true
		}
		if !flagged {
			continue
		}
		valid := false
		res.Valid = &valid
		if res.Status == schemas.StatusMatched {
			res.Status = schemas.StatusMatchedWithErrors
		}
	}
}

func containsField(fields []string, field string) bool {
	for _, f := range fields {
		if f == field {
			return true
		}
	}
	return false
}

// markDuplicates collapses captures whose canonical payload repeats an
// earlier one. Returns, per event position, the position of the original or
// -1 for firsts.
func (m *Matcher) markDuplicates(events []schemas.CapturedEvent, results []schemas.MatchResult) []int {
	duplicateOf := make([]int, len(events))
	seen := make(map[string]int, len(events))
	for i, ev := range events {
		duplicateOf[i] = -1
		key, err := json.MarshalToString(ev.Properties)
		if err != nil {
			continue
		}
		if first, ok := seen[key]; ok {
			duplicateOf[i] = first
			results[i].Duplicate = true
			results[i].Warnings = append(results[i].Warnings,
				fmt.Sprintf("duplicate of capture #%d", events[first].Index))
			continue
		}
		seen[key] = i
	}
	return duplicateOf
}

// attachTimingWarnings flags events that fired suspiciously soon after the
// previous unique capture, a common symptom of double-wired triggers.
// Duplicates are ignored: a repeated payload sitting between two unique
// events must not reset the gap baseline.
func (m *Matcher) attachTimingWarnings(results []schemas.MatchResult) {
	if m.cfg.WarningTimeThresholdMs <= 0 {
		return
	}
	var prev int64
	for i := range results {
		if results[i].Duplicate {
			continue
		}
		cur := results[i].Event.Timestamp
		if cur == 0 {
			continue
		}
		if prev != 0 {
			if delta := cur - prev; delta >= 0 && delta < m.cfg.WarningTimeThresholdMs {
				results[i].Warnings = append(results[i].Warnings,
					fmt.Sprintf("fired only %dms after the previous event", delta))
			}
		}
		prev = cur
	}
}

// AttachClickLatency warns on events that trailed their triggering click by
// more than the warning threshold. Each click is attributed to the first
// unique event captured at or after the click instant.
func (m *Matcher) AttachClickLatency(results []schemas.MatchResult, outcomes []schemas.ActionOutcome) {
	if m.cfg.WarningTimeThresholdMs <= 0 {
		return
	}
	for _, out := range outcomes {
		if out.ClickedAt == 0 {
			continue
		}
		for i := range results {
			res := &results[i]
			if res.Duplicate || res.Event.Timestamp == 0 || res.Event.Timestamp < out.ClickedAt {
				continue
			}
			if delta := res.Event.Timestamp - out.ClickedAt; delta > m.cfg.WarningTimeThresholdMs {
				res.Warnings = append(res.Warnings,
					fmt.Sprintf("arrived %dms after the click on %q", delta, out.Action.Target.Label))
			}
			break
		}
	}
}

// CheckGTM verifies the expected container id against the ids observed on
// the page. An empty expectation skips the check.
func (m *Matcher) CheckGTM(expected string, found []string) schemas.GTMCheck {
	check := schemas.GTMCheck{Expected: expected, Found: found, Status: schemas.GTMSkip}
	if expected == "" {
		return check
	}
	check.Status = schemas.GTMFail
	for _, id := range found {
		if id == expected {
			check.Status = schemas.GTMPass
			break
		}
	}
	if check.Status == schemas.GTMFail {
		m.logger.Warn("Expected container id not observed",
			zap.String("expected", expected), zap.Strings("found", found))
	}
	return check
}

func countFalse(b []bool) int {
	n := 0
	for _, v := range b {
		if !v {
			n++
		}
	}
	return n
}
