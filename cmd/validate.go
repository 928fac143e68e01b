// File: cmd/validate.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tagsentry/internal/config"
	"github.com/xkilldash9x/tagsentry/internal/observability"
	"github.com/xkilldash9x/tagsentry/internal/orchestrator"
	"github.com/xkilldash9x/tagsentry/internal/reporting"
)

// newValidateCmd creates and configures the `validate` command.
func newValidateCmd() *cobra.Command {
	validateCmd := &cobra.Command{
		Use:   "validate [target-url]",
		Short: "Runs a dataLayer validation against the target URL",
		Args:  cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			// Bind flags to their viper keys so command-line flags override
			// values from the config file and environment.
			if err := viper.BindPFlag("validation.match_threshold", cmd.Flags().Lookup("threshold")); err != nil {
				return err
			}
			if err := viper.BindPFlag("validation.strict", cmd.Flags().Lookup("strict")); err != nil {
				return err
			}
			if err := viper.BindPFlag("validation.expected_gtm_id", cmd.Flags().Lookup("gtm-id")); err != nil {
				return err
			}
			return viper.BindPFlags(cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := config.NewConfigFromViper(viper.GetViper())
			if err != nil {
				return fmt.Errorf("failed to finalize configuration: %w", err)
			}

			cfg.Run.TargetURL = normalizeURL(args[0])
			cfg.Run.ReferencePath = viper.GetString("reference")
			cfg.Run.ActionsPath = viper.GetString("actions")
			cfg.Run.Output = viper.GetString("output")
			cfg.Run.OutputFormat = viper.GetString("format")
			cfg.Run.Interactive = viper.GetBool("interactive")
			if cfg.Run.Interactive {
				// A visible browser is the whole point of interactive mode.
				cfg.Browser.Headless = false
			}

			if cfg.Run.ReferencePath == "" {
				return fmt.Errorf("a reference document is required (--reference)")
			}

			logger.Info("Starting validation",
				zap.String("target", cfg.Run.TargetURL),
				zap.String("reference", cfg.Run.ReferencePath),
				zap.String("actions", cfg.Run.ActionsPath),
				zap.Float64("threshold", cfg.Validation.MatchThreshold),
				zap.Bool("interactive", cfg.Run.Interactive),
			)

			reporter, err := reporting.New(cfg.Run.OutputFormat, cfg.Run.Output)
			if err != nil {
				return fmt.Errorf("failed to initialize reporter: %w", err)
			}
			defer func() {
				if err := reporter.Close(); err != nil {
					logger.Error("Failed to close reporter", zap.Error(err))
				}
			}()

			orch, err := orchestrator.New(ctx, logger, cfg, reporter)
			if err != nil {
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
				defer cancel()
				if err := orch.Shutdown(shutdownCtx); err != nil {
					logger.Warn("Error during browser shutdown", zap.Error(err))
				}
			}()

			run, err := orch.Run(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					logger.Warn("Validation aborted gracefully")
					return fmt.Errorf("validation aborted by user signal")
				}
				logger.Error("Validation run failed", zap.Error(err))
				return err
			}

			fmt.Printf("\nValidation Complete. Run ID: %s\n", run.RunID)
			fmt.Printf("Matched %d/%d reference events (%.1f%% coverage)\n",
				run.Summary.MatchedCount, run.Summary.ReferenceCount, run.Summary.CoveragePercent)

			if cfg.Validation.Strict && (run.Summary.InvalidCount > 0 || run.Summary.MissingCount > 0 || run.Summary.ExtraCount > 0) {
				return fmt.Errorf("strict mode: %d invalid, %d missing, %d extra events",
					run.Summary.InvalidCount, run.Summary.MissingCount, run.Summary.ExtraCount)
			}
			return nil
		},
	}

	// Input flags.
	validateCmd.Flags().StringP("reference", "r", "", "Path to the reference document describing expected dataLayer events.")
	validateCmd.Flags().StringP("actions", "a", "", "Path to a JSON interaction plan. Defaults to a bare page load.")

	// Reporting flags.
	validateCmd.Flags().StringP("output", "o", "", "Output file path for the report. If unset, the report goes to stdout.")
	validateCmd.Flags().StringP("format", "f", "json", "Format for the output report ('json', 'text').")

	// Validation override flags.
	validateCmd.Flags().Float64P("threshold", "t", 0.7, "Minimum score for assigning an event to a reference entry. (Overrides config/env)")
	validateCmd.Flags().Bool("strict", false, "Treat extra and invalid events as failures. (Overrides config/env)")
	validateCmd.Flags().String("gtm-id", "", "Expected tag-manager container id. (Overrides config/env)")
	validateCmd.Flags().BoolP("interactive", "i", false, "Run with a visible browser window.")

	return validateCmd
}

// normalizeURL ensures the target carries a scheme.
func normalizeURL(target string) string {
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		return "https://" + target
	}
	return target
}
