// File: pkg/locator/locator.go
package locator

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/tagsentry/api/schemas"
	"github.com/xkilldash9x/tagsentry/internal/config"
)

// Candidate is one element a strategy considers a possible target.
type Candidate struct {
	// Selector is a unique CSS path to the element.
	Selector string
	// Text is the element's visible text, kept for the trace.
	Text string
}

// Strategy is one pure lookup technique. Strategies never guess: zero or
// multiple candidates means the chain moves on to the next strategy.
type Strategy interface {
	Name() string
	Attempt(ctx context.Context, d schemas.Descriptor) ([]Candidate, error)
}

// AttemptRecord traces one strategy's outcome for debugging flaky lookups.
type AttemptRecord struct {
	Strategy   string `json:"strategy"`
	Candidates int    `json:"candidates"`
	Err        string `json:"error,omitempty"`
}

func (a AttemptRecord) String() string {
	switch {
	case a.Err != "":
		return fmt.Sprintf("%s: error (%s)", a.Strategy, a.Err)
	case a.Candidates == 0:
		return fmt.Sprintf("%s: no match", a.Strategy)
	case a.Candidates > 1:
		return fmt.Sprintf("%s: ambiguous (%d candidates)", a.Strategy, a.Candidates)
	default:
		return fmt.Sprintf("%s: ok", a.Strategy)
	}
}

// NotFoundError reports an exhausted strategy chain along with the full
// per-strategy trace, the primary debugging surface for flaky runs.
type NotFoundError struct {
	Descriptor schemas.Descriptor
	Trace      []AttemptRecord
}

func (e *NotFoundError) Error() string {
	parts := make([]string, 0, len(e.Trace))
	for _, a := range e.Trace {
		parts = append(parts, a.String())
	}
	return fmt.Sprintf("element %q (role %q) not found; tried: %s",
		e.Descriptor.Label, e.Descriptor.Role, strings.Join(parts, "; "))
}

// ensure Chain implements the interface
var _ schemas.Locator = (*Chain)(nil)

// Chain runs an ordered list of strategies with graceful fallback.
type Chain struct {
	logger     *zap.Logger
	strategies []Strategy
	byName     map[string]Strategy
	order      []string
}

// NewChain builds the configured strategy chain on top of an Evaluator
// (normally the browser session). Unknown strategy names in the
// configuration are rejected.
func NewChain(logger *zap.Logger, cfg config.LocatorConfig, ev Evaluator) (*Chain, error) {
	available := []Strategy{
		newExactTextStrategy(ev, cfg),
		newContainsTextStrategy(ev, cfg),
		newAccessibleNameStrategy(ev, cfg),
		newComponentNameStrategy(ev, cfg),
		newImageMatchStrategy(ev, cfg),
		newProximityStrategy(ev, cfg),
	}
	byName := make(map[string]Strategy, len(available))
	for _, s := range available {
		byName[s.Name()] = s
	}

	ordered := make([]Strategy, 0, len(cfg.Strategies))
	for _, name := range cfg.Strategies {
		s, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("unknown locator strategy %q", name)
		}
		ordered = append(ordered, s)
	}
	if len(ordered) == 0 {
		return nil, fmt.Errorf("locator strategy chain is empty")
	}

	return &Chain{
		logger:     logger.Named("locator"),
		strategies: ordered,
		byName:     byName,
		order:      append([]string(nil), cfg.Strategies...),
	}, nil
}

// Locate runs the chain until exactly one visible, interactable candidate is
// found. A per-call order override on the descriptor reorders or narrows the
// chain for that lookup only.
func (c *Chain) Locate(ctx context.Context, d schemas.Descriptor) (string, error) {
	chain := c.strategies
	if len(d.Strategies) > 0 {
		chain = make([]Strategy, 0, len(d.Strategies))
		for _, name := range d.Strategies {
			s, ok := c.byName[name]
			if !ok {
				return "", fmt.Errorf("unknown locator strategy override %q", name)
			}
			chain = append(chain, s)
		}
	}

	trace := make([]AttemptRecord, 0, len(chain))
	for _, s := range chain {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		candidates, err := s.Attempt(ctx, d)
		rec := AttemptRecord{Strategy: s.Name(), Candidates: len(candidates)}
		if err != nil {
			rec.Err = err.Error()
		}
		trace = append(trace, rec)

		if err == nil && len(candidates) == 1 {
			c.logger.Debug("Element located",
				zap.String("label", d.Label),
				zap.String("strategy", s.Name()),
				zap.String("selector", candidates[0].Selector))
			return candidates[0].Selector, nil
		}
		c.logger.Debug("Strategy fell through",
			zap.String("label", d.Label),
			zap.String("outcome", rec.String()))
	}

	return "", &NotFoundError{Descriptor: d, Trace: trace}
}
