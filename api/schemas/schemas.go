// File: api/schemas/schemas.go
package schemas

import (
	"time"
)

// ReferenceEntry is one hand-authored dataLayer specification parsed from the
// reference document. It is immutable once the parser has produced it.
type ReferenceEntry struct {
	// ID is a stable identifier derived from the declaration order
	// (e.g. "datalayer_3"). It is used for report cross-referencing.
	ID string `json:"id"`
	// Title is the human-readable section title.
	Title string `json:"title"`
	// Properties holds the raw expected property values. A nil value or a
	// "{...}"/"{{...}}" placeholder marks the property as dynamic.
	Properties map[string]any `json:"properties"`
	// RequiredFields are the property names that must be present and correct
	// for the entry to validate. Names may be dotted paths into nested objects.
	RequiredFields []string `json:"required_fields"`
	// DynamicFields maps property names whose values vary per run to the
	// placeholder pattern that marked them dynamic.
	DynamicFields map[string]string `json:"dynamic_fields"`
	// Activation describes when the event is expected to fire.
	Activation Activation `json:"activation"`
	// Order is the zero-based declaration order in the reference document.
	// It is the second tie-breaker during assignment.
	Order int `json:"order"`
}

// Activation is the free-text firing condition attached to a reference entry.
type Activation struct {
	Condition string `json:"condition"`
	Type      ActivationType `json:"type"`
}

// ActivationType classifies how a reference event is provoked.
type ActivationType string

const (
	ActivationClick  ActivationType = "click"
	ActivationView   ActivationType = "view"
	ActivationLoad   ActivationType = "load"
	ActivationScroll ActivationType = "scroll"
	ActivationHover  ActivationType = "hover"
	ActivationSubmit ActivationType = "submit"
	ActivationCustom ActivationType = "custom"
)

// CapturedEvent is one object pushed to the page's dataLayer, as recorded by
// the capture shim. Immutable once captured; Index is its only identity.
type CapturedEvent struct {
	// Index is the ordinal capture position, stable for the lifetime of a run.
	Index int `json:"index"`
	// Timestamp is the in-page capture time in Unix milliseconds.
	Timestamp int64 `json:"timestamp"`
	// Properties is the deep-copied raw payload. Values may be strings,
	// numbers, booleans, nil, or nested maps/slices.
	Properties map[string]any `json:"properties"`
}

// MatchStatus classifies the outcome of pairing a captured event with the
// reference set.
type MatchStatus string

const (
	// StatusMatched means the event was assigned to a reference entry and all
	// required fields were present and correct.
	StatusMatched MatchStatus = "matched"
	// StatusMatchedWithErrors means the event was assigned but violated one
	// or more field rules beyond the dynamic-field allowance.
	StatusMatchedWithErrors MatchStatus = "matched-with-errors"
	// StatusWeakMatch means the event could not be assigned an entry but its
	// best score was positive; the best candidate is surfaced as a hint only.
	StatusWeakMatch MatchStatus = "weak-match"
	// StatusUnmatched means no reference entry scored above zero.
	StatusUnmatched MatchStatus = "unmatched"
)

// WeakHint surfaces the best sub-threshold candidate for a weak match.
type WeakHint struct {
	EntryID string  `json:"entry_id"`
	Title   string  `json:"title"`
	Score   float64 `json:"score"`
}

// MatchResult links exactly one captured event with zero or one reference
// entry and carries the per-event verdict. Write-once.
type MatchResult struct {
	Event CapturedEvent `json:"event"`
	// Entry is the assigned reference entry, nil for weak/unmatched events.
	Entry *ReferenceEntry `json:"entry,omitempty"`
	// Score is the similarity score in [0,1] for the assigned pairing, or the
	// best observed score for weak matches.
	Score  float64     `json:"score"`
	Status MatchStatus `json:"status"`
	// Valid is true for matched, false for matched-with-errors, nil when the
	// event has no assigned reference (weak-match / unmatched).
	Valid *bool `json:"valid"`
	// Errors lists one message per violated rule, in rule order.
	Errors []string `json:"errors"`
	// Warnings lists timing violations and non-fatal structural anomalies.
	Warnings []string `json:"warnings"`
	// BestCandidate is set for weak matches only.
	BestCandidate *WeakHint `json:"best_candidate,omitempty"`
	// Duplicate marks events whose payload is byte-identical (timestamp
	// excluded) to an earlier capture. Duplicates keep their MatchResult but
	// are collapsed in the summary.
	Duplicate bool `json:"duplicate,omitempty"`
}

// MissingReference describes a reference entry no captured event satisfied.
type MissingReference struct {
	EntryID    string         `json:"entry_id"`
	Title      string         `json:"title"`
	Properties map[string]any `json:"properties"`
}

// ComparisonSummary folds per-event verdicts into run-level statistics.
// MatchedCount + MissingCount always equals ReferenceCount.
type ComparisonSummary struct {
	ReferenceCount  int                `json:"reference_count"`
	CapturedCount   int                `json:"captured_count"`
	UniqueCount     int                `json:"unique_count"`
	MatchedCount    int                `json:"matched_count"`
	MissingCount    int                `json:"missing_count"`
	ExtraCount      int                `json:"extra_count"`
	WeakCount       int                `json:"weak_count"`
	InvalidCount    int                `json:"invalid_count"`
	MissingDetails  []MissingReference `json:"missing_details"`
	CoveragePercent float64            `json:"coverage_percent"`
	SuccessPercent  float64            `json:"success_percent"`
}

// GTMStatus is the outcome of the container-id check.
type GTMStatus string

const (
	GTMPass GTMStatus = "pass"
	GTMFail GTMStatus = "fail"
	GTMSkip GTMStatus = "skip"
)

// GTMCheck reports whether the expected tag-manager container id was observed
// anywhere in the capture or page context.
type GTMCheck struct {
	Expected string    `json:"expected,omitempty"`
	Found    []string  `json:"found,omitempty"`
	Status   GTMStatus `json:"status"`
}

// ValidationRun is the complete, write-once result model for one invocation.
// The report renderer consumes this and nothing else.
type ValidationRun struct {
	RunID     string    `json:"run_id"`
	TargetURL string    `json:"target_url"`
	Timestamp time.Time `json:"timestamp"`
	// Results holds exactly one MatchResult per captured event, in capture order.
	Results []MatchResult     `json:"results"`
	Summary ComparisonSummary `json:"summary"`
	// GeneralWarnings accumulates recoverable, run-level failures.
	GeneralWarnings []string `json:"general_warnings"`
	GTM             GTMCheck `json:"gtm_check"`
	// Aborted is set when a fatal failure short-circuited the run; Results
	// and Summary then reflect whatever was captured and matched before it.
	Aborted     bool   `json:"aborted,omitempty"`
	AbortReason string `json:"abort_reason,omitempty"`
}

// Role is the semantic hint for the element locator.
type Role string

const (
	RoleButton Role = "button"
	RoleLink   Role = "link"
	RoleImage  Role = "image"
	RoleInput  Role = "input"
	RoleAny    Role = ""
)

// Descriptor is the logical target description the locator resolves to a
// concrete element.
type Descriptor struct {
	// Label is the visible text, accessible name, or component name to match.
	Label string `json:"label"`
	// Role narrows matching to a semantic element class.
	Role Role `json:"role,omitempty"`
	// ImageAsset is a path to a reference image for the visual strategy.
	ImageAsset string `json:"image_asset,omitempty"`
	// Strategies optionally overrides the configured strategy order for this
	// lookup only.
	Strategies []string `json:"strategies,omitempty"`
}

// ActionType enumerates the driver's action vocabulary.
type ActionType string

const (
	ActionNavigate ActionType = "navigate"
	ActionWait     ActionType = "wait"
	ActionClick    ActionType = "click"
)

// Action is one step in the interaction plan executed by the driver.
type Action struct {
	Type ActionType `json:"type"`
	// URL is the navigation target for navigate actions.
	URL string `json:"url,omitempty"`
	// Duration is the fixed wait for wait actions.
	Duration time.Duration `json:"duration,omitempty"`
	// Target describes the element to click for click actions.
	Target Descriptor `json:"target,omitempty"`
}

// ActionOutcome records how a single driver action ended. Exhausted retries
// degrade to a recorded failure here rather than aborting the run.
type ActionOutcome struct {
	Action   Action        `json:"action"`
	Attempts int           `json:"attempts"`
	Err      string        `json:"error,omitempty"`
	Elapsed  time.Duration `json:"elapsed"`
	// ClickedAt is the wall-clock click time in Unix milliseconds, used to
	// attribute click-to-event latency warnings.
	ClickedAt int64 `json:"clicked_at,omitempty"`
}
