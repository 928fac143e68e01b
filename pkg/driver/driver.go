// File: pkg/driver/driver.go
package driver

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/tagsentry/api/schemas"
	"github.com/xkilldash9x/tagsentry/internal/config"
)

// Driver executes an ordered interaction plan on a single logical session.
// Actions run strictly sequentially: an action completes, including its
// settle wait, before the next begins, so event ordering and click-to-event
// causality stay intact for the matcher.
type Driver struct {
	logger  *zap.Logger
	session schemas.SessionContext
	locator schemas.Locator
	cfg     config.ValidationConfig
}

// New creates a Driver bound to one session and one locator chain.
func New(logger *zap.Logger, session schemas.SessionContext, locator schemas.Locator, cfg config.ValidationConfig) *Driver {
	return &Driver{
		logger:  logger.Named("driver"),
		session: session,
		locator: locator,
		cfg:     cfg,
	}
}

// Execute runs the plan. It returns per-action outcomes, the run-level
// warnings accumulated from exhausted retries, and an error only for
// run-fatal conditions (a failed navigation: the session cannot proceed
// without a loaded page). Cancellation is honored at the checkpoint between
// actions; mid-action aborts wait for the action's own timeout.
func (d *Driver) Execute(ctx context.Context, plan []schemas.Action) ([]schemas.ActionOutcome, []string, error) {
	outcomes := make([]schemas.ActionOutcome, 0, len(plan))
	var warnings []string

	for i, action := range plan {
		// Cooperative checkpoint between actions.
		if err := ctx.Err(); err != nil {
			return outcomes, warnings, err
		}

		log := d.logger.With(zap.Int("action", i), zap.String("type", string(action.Type)))
		start := time.Now()
		outcome := schemas.ActionOutcome{Action: action, Attempts: 1}

		switch action.Type {
		case schemas.ActionNavigate:
			if err := d.session.Navigate(ctx, action.URL); err != nil {
				outcome.Err = err.Error()
				outcome.Elapsed = time.Since(start)
				outcomes = append(outcomes, outcome)
				// A page that never loaded cannot be exercised further.
				return outcomes, warnings, fmt.Errorf("navigation to %s failed: %w", action.URL, err)
			}

		case schemas.ActionWait:
			if err := sleep(ctx, action.Duration); err != nil {
				return outcomes, warnings, err
			}

		case schemas.ActionClick:
			attempts, err := d.click(ctx, action.Target, log)
			outcome.Attempts = attempts
			if err != nil {
				// Exhausted retries degrade to a recorded failure; later
				// actions still execute and later events are still captured.
				outcome.Err = err.Error()
				warnings = append(warnings, fmt.Sprintf(
					"action %d: click on %q failed after %d attempts: %v", i, action.Target.Label, attempts, err))
				log.Warn("Click action exhausted retries", zap.Int("attempts", attempts), zap.Error(err))
			} else {
				outcome.ClickedAt = time.Now().UnixMilli()
				// Event pushes may be asynchronous relative to the click.
				if err := sleep(ctx, d.cfg.SettleDelay); err != nil {
					outcome.Elapsed = time.Since(start)
					outcomes = append(outcomes, outcome)
					return outcomes, warnings, err
				}
			}

		default:
			outcome.Err = fmt.Sprintf("unknown action type %q", action.Type)
			warnings = append(warnings, outcome.Err)
		}

		outcome.Elapsed = time.Since(start)
		outcomes = append(outcomes, outcome)
	}

	return outcomes, warnings, nil
}

// click locates and clicks the target, retrying with a fixed backoff up to
// the configured attempt count. It returns the number of attempts made.
func (d *Driver) click(ctx context.Context, target schemas.Descriptor, log *zap.Logger) (int, error) {
	var lastErr error

	for attempt := 1; attempt <= d.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt, err
		}

		locateCtx, cancel := context.WithTimeout(ctx, d.cfg.LocateTimeout)
		selector, err := d.locator.Locate(locateCtx, target)
		cancel()
		if err != nil {
			lastErr = err
			log.Debug("Locate attempt failed", zap.Int("attempt", attempt), zap.Error(err))
			if err := sleep(ctx, d.cfg.RetryInterval); err != nil {
				return attempt, err
			}
			continue
		}

		if err := d.session.Click(ctx, selector); err != nil {
			lastErr = err
			log.Debug("Click attempt failed", zap.Int("attempt", attempt), zap.String("selector", selector), zap.Error(err))
			if err := sleep(ctx, d.cfg.RetryInterval); err != nil {
				return attempt, err
			}
			continue
		}

		log.Debug("Clicked", zap.String("selector", selector), zap.Int("attempt", attempt))
		return attempt, nil
	}

	return d.cfg.MaxRetries, lastErr
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
