// File: internal/reporting/json_reporter.go
package reporting

import (
	"fmt"
	"io"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tagsentry/api/schemas"
	"github.com/xkilldash9x/tagsentry/internal/observability"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// JSONReporter buffers validation runs and emits them as pretty-printed JSON
// on Close. It is thread safe, although the pipeline writes sequentially.
type JSONReporter struct {
	writer io.WriteCloser
	logger *zap.Logger

	mu   sync.Mutex
	runs []*schemas.ValidationRun
}

// NewJSONReporter creates a reporter that takes ownership of the writer.
func NewJSONReporter(writer io.WriteCloser) *JSONReporter {
	return &JSONReporter{
		writer: writer,
		logger: observability.GetLogger().Named("json_reporter"),
	}
}

// Write buffers one finalized run for emission on Close.
func (r *JSONReporter) Write(run *schemas.ValidationRun) error {
	if run == nil {
		return fmt.Errorf("cannot report a nil validation run")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, run)
	r.logger.Debug("Buffered validation run",
		zap.String("run_id", run.RunID),
		zap.Int("results", len(run.Results)))
	return nil
}

// Close serializes the buffered runs and closes the writer. A single run is
// emitted as one object, multiple runs as an array.
func (r *JSONReporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var payload any
	switch len(r.runs) {
	case 0:
		payload = map[string]any{}
	case 1:
		payload = r.runs[0]
	default:
		payload = r.runs
	}

	encoder := json.NewEncoder(r.writer)
	encoder.SetIndent("", "  ")
	encodeErr := encoder.Encode(payload)
	// Always attempt to close the writer, regardless of encoding success.
	closeErr := r.writer.Close()

	if encodeErr != nil {
		r.logger.Error("Failed to encode report", zap.Error(encodeErr))
		return fmt.Errorf("failed to encode JSON report: %w", encodeErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close output writer: %w", closeErr)
	}

	r.logger.Info("Report written", zap.Int("runs", len(r.runs)))
	return nil
}
