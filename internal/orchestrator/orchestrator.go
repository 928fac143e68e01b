// File: internal/orchestrator/orchestrator.go

// Package orchestrator sequences one validation run: load the reference,
// drive the page, drain the capture buffer, match, and report. Phases are
// strict barriers; matching never starts while interactions are in flight.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tagsentry/api/schemas"
	"github.com/xkilldash9x/tagsentry/internal/config"
	"github.com/xkilldash9x/tagsentry/pkg/browser"
	"github.com/xkilldash9x/tagsentry/pkg/driver"
	"github.com/xkilldash9x/tagsentry/pkg/locator"
	"github.com/xkilldash9x/tagsentry/pkg/matcher"
	"github.com/xkilldash9x/tagsentry/pkg/reference"
	"github.com/xkilldash9x/tagsentry/pkg/results"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// SessionFactory opens the instrumented browser session the run executes in.
type SessionFactory func(ctx context.Context) (schemas.SessionContext, error)

// LocatorFactory builds the element-finder chain over a live session.
type LocatorFactory func(ev locator.Evaluator) (schemas.Locator, error)

// Orchestrator owns the end-to-end pipeline for a single target URL.
type Orchestrator struct {
	logger   *zap.Logger
	cfg      *config.Config
	reporter schemas.Reporter

	newSession SessionFactory
	newLocator LocatorFactory
	shutdown   func(ctx context.Context) error
}

// New wires the orchestrator to a real chromedp-backed browser. The browser
// process launches lazily on the first session request.
func New(ctx context.Context, logger *zap.Logger, cfg *config.Config, reporter schemas.Reporter) (*Orchestrator, error) {
	manager, err := browser.NewManager(ctx, logger, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}
	o := NewWithFactories(logger, cfg, reporter,
		func(ctx context.Context) (schemas.SessionContext, error) {
			return manager.NewSession(ctx)
		},
		func(ev locator.Evaluator) (schemas.Locator, error) {
			return locator.NewChain(logger, cfg.Locator, ev)
		})
	o.shutdown = manager.Shutdown
	return o, nil
}

// NewWithFactories wires the orchestrator against injected session and
// locator constructors. Tests use this to substitute fakes.
func NewWithFactories(logger *zap.Logger, cfg *config.Config, reporter schemas.Reporter, sf SessionFactory, lf LocatorFactory) *Orchestrator {
	return &Orchestrator{
		logger:     logger.Named("orchestrator"),
		cfg:        cfg,
		reporter:   reporter,
		newSession: sf,
		newLocator: lf,
	}
}

// Run executes one validation run and reports it. Fatal failures still
// produce a report: the run is finalized with Aborted set and whatever was
// captured up to that point, and the error is returned for exit-code
// purposes.
func (o *Orchestrator) Run(ctx context.Context) (*schemas.ValidationRun, error) {
	builder := results.NewBuilder(o.logger, o.cfg.Run.TargetURL)
	match := matcher.New(o.logger, o.cfg.Validation)
	o.logger.Info("Validation run starting",
		zap.String("run_id", builder.RunID()),
		zap.String("target", o.cfg.Run.TargetURL))

	// Phase 1: the reference set. An unusable document aborts before any
	// browser work starts.
	loader, err := reference.NewLoader(o.logger, o.cfg.Parser, o.cfg.Validation)
	if err != nil {
		return o.abort(builder, err)
	}
	spec, err := loader.LoadFile(o.cfg.Run.ReferencePath)
	if err != nil {
		return o.abort(builder, fmt.Errorf("reference loading failed: %w", err))
	}
	builder.AddWarnings(spec.Warnings)

	plan, err := o.loadPlan()
	if err != nil {
		return o.abort(builder, fmt.Errorf("interaction plan failed to load: %w", err))
	}

	// Phase 2: drive the page.
	session, err := o.newSession(ctx)
	if err != nil {
		return o.abort(builder, fmt.Errorf("browser session failed: %w", err))
	}
	defer func() {
		if cerr := session.Close(context.WithoutCancel(ctx)); cerr != nil {
			o.logger.Warn("Session close failed", zap.Error(cerr))
		}
	}()

	loc, err := o.newLocator(session)
	if err != nil {
		return o.abort(builder, fmt.Errorf("locator chain failed to build: %w", err))
	}

	drv := driver.New(o.logger, session, loc, o.cfg.Validation)
	outcomes, warnings, execErr := drv.Execute(ctx, plan)
	builder.AddWarnings(warnings)
	o.logActions(outcomes)

	// Phase 3: drain and match. Runs even after a fatal interaction failure
	// so the report reflects everything captured before the abort.
	if err := session.EnsureCapture(ctx); err != nil {
		builder.AddWarning(fmt.Sprintf("capture shim never attached: %v", err))
	}
	events, err := session.DrainCaptured(ctx)
	if err != nil {
		builder.AddWarning(fmt.Sprintf("failed to drain captured events: %v", err))
	}
	kept, excluded := match.FilterEvents(events)
	if len(excluded) > 0 {
		builder.AddWarning(fmt.Sprintf("%d captured events excluded by event filter %q",
			len(excluded), o.cfg.Validation.EventFilter))
	}

	matched, missing := match.Match(spec.Entries, kept)
	match.AttachClickLatency(matched, outcomes)
	builder.SetResults(matched, missing, len(spec.Entries), len(events))

	// The document's declared container id wins over configuration.
	expectedGTM := o.cfg.Validation.ExpectedGTMID
	if spec.ExpectedGTMID != "" {
		expectedGTM = spec.ExpectedGTMID
	}
	ids, err := session.PageContainerIDs(ctx)
	if err != nil {
		builder.AddWarning(fmt.Sprintf("container id harvest failed: %v", err))
	}
	builder.SetGTM(match.CheckGTM(expectedGTM, ids))

	if execErr != nil {
		builder.Abort(fmt.Sprintf("interaction plan failed: %v", execErr))
	}

	run := builder.Finalize()
	if werr := o.reporter.Write(run); werr != nil {
		o.logger.Error("Failed to write report", zap.Error(werr))
		if execErr == nil {
			execErr = werr
		}
	}
	return run, execErr
}

// Shutdown releases the browser process, if this orchestrator owns one.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	if o.shutdown == nil {
		return nil
	}
	return o.shutdown(ctx)
}

// abort seals a run that failed before producing results and reports it.
func (o *Orchestrator) abort(builder *results.Builder, cause error) (*schemas.ValidationRun, error) {
	builder.Abort(cause.Error())
	run := builder.Finalize()
	if werr := o.reporter.Write(run); werr != nil {
		o.logger.Error("Failed to write report for aborted run", zap.Error(werr))
	}
	return run, cause
}

func (o *Orchestrator) logActions(outcomes []schemas.ActionOutcome) {
	for i, out := range outcomes {
		if out.Err != "" {
			o.logger.Warn("Action failed",
				zap.Int("action", i),
				zap.String("type", string(out.Action.Type)),
				zap.Int("attempts", out.Attempts),
				zap.String("error", out.Err))
			continue
		}
		o.logger.Debug("Action completed",
			zap.Int("action", i),
			zap.String("type", string(out.Action.Type)),
			zap.Duration("elapsed", out.Elapsed))
	}
}

// planStep is the authoring format for interaction plans: durations in
// milliseconds and a flattened target.
type planStep struct {
	Type       string   `json:"type"`
	URL        string   `json:"url,omitempty"`
	WaitMs     int64    `json:"wait_ms,omitempty"`
	Label      string   `json:"label,omitempty"`
	Role       string   `json:"role,omitempty"`
	ImageAsset string   `json:"image_asset,omitempty"`
	Strategies []string `json:"strategies,omitempty"`
}

// loadPlan reads the interaction plan, defaulting to a bare navigation when
// no plan file is configured. A plan that does not open with a navigation
// gets one prepended so the shim is installed before any interaction.
func (o *Orchestrator) loadPlan() ([]schemas.Action, error) {
	navigate := schemas.Action{Type: schemas.ActionNavigate, URL: o.cfg.Run.TargetURL}

	if o.cfg.Run.ActionsPath == "" {
		return []schemas.Action{navigate}, nil
	}

	data, err := os.ReadFile(o.cfg.Run.ActionsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read actions file %s: %w", o.cfg.Run.ActionsPath, err)
	}
	var steps []planStep
	if err := json.Unmarshal(data, &steps); err != nil {
		return nil, fmt.Errorf("failed to parse actions file %s: %w", o.cfg.Run.ActionsPath, err)
	}

	plan := make([]schemas.Action, 0, len(steps)+1)
	for i, step := range steps {
		action, err := step.toAction()
		if err != nil {
			return nil, fmt.Errorf("actions file %s, step %d: %w", o.cfg.Run.ActionsPath, i, err)
		}
		plan = append(plan, action)
	}
	if len(plan) == 0 || plan[0].Type != schemas.ActionNavigate {
		plan = append([]schemas.Action{navigate}, plan...)
	}
	return plan, nil
}

func (s planStep) toAction() (schemas.Action, error) {
	switch schemas.ActionType(s.Type) {
	case schemas.ActionNavigate:
		if s.URL == "" {
			return schemas.Action{}, fmt.Errorf("navigate step requires a url")
		}
		return schemas.Action{Type: schemas.ActionNavigate, URL: s.URL}, nil
	case schemas.ActionWait:
		if s.WaitMs <= 0 {
			return schemas.Action{}, fmt.Errorf("wait step requires a positive wait_ms")
		}
		return schemas.Action{Type: schemas.ActionWait, Duration: time.Duration(s.WaitMs) * time.Millisecond}, nil
	case schemas.ActionClick:
		if s.Label == "" && s.ImageAsset == "" {
			return schemas.Action{}, fmt.Errorf("click step requires a label or image_asset")
		}
		return schemas.Action{
			Type: schemas.ActionClick,
			Target: schemas.Descriptor{
				Label:      s.Label,
				Role:       schemas.Role(s.Role),
				ImageAsset: s.ImageAsset,
				Strategies: s.Strategies,
			},
		}, nil
	default:
		return schemas.Action{}, fmt.Errorf("unknown action type %q", s.Type)
	}
}
