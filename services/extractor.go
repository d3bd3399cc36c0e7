package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// ErrExtractorUnavailable is returned when the chapter-extraction binary
// cannot be located or executed at all.
var ErrExtractorUnavailable = errors.New("chapter extraction tool unavailable")

// ToolError reports a non-zero exit of the extraction tool, including the
// captured combined output for the server logs.
type ToolError struct {
	Step     string // "get chapters" or "extract"
	ExitCode int
	Output   string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("extraction tool failed during %q (exit %d)", e.Step, e.ExitCode)
}

// ExtractionOutput points at the directories the extraction tool produced.
type ExtractionOutput struct {
	// ConfigDir contains the chapter-boundary configuration plus the
	// articles.txt and authors.txt listings.
	ConfigDir string
	// ExtractedDir contains one <sanitizedTitle>.pdf per chapter.
	ExtractedDir string
}

// ChapterExtractor splits a full-issue PDF into per-chapter PDFs and
// title/author listings. Implementations must not touch the database.
type ChapterExtractor interface {
	Extract(ctx context.Context, sourcePDF, scratchDir string) (*ExtractionOutput, error)
}

// ToolExtractor drives the external extraction binary: one invocation to
// discover chapter boundaries, a second to extract per-chapter PDFs up to
// the trailer marker.
type ToolExtractor struct {
	Binary        string
	TrailerMarker string
	Timeout       time.Duration
	Logger        *zap.Logger
}

func NewToolExtractor(binary, trailerMarker string, timeout time.Duration, logger *zap.Logger) *ToolExtractor {
	return &ToolExtractor{
		Binary:        binary,
		TrailerMarker: trailerMarker,
		Timeout:       timeout,
		Logger:        logger,
	}
}

func (t *ToolExtractor) Extract(ctx context.Context, sourcePDF, scratchDir string) (*ExtractionOutput, error) {
	configDir := filepath.Join(scratchDir, "config")
	extractedDir := filepath.Join(scratchDir, "extracted")
	for _, dir := range []string{configDir, extractedDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create extraction directory %s: %w", dir, err)
		}
	}

	if err := t.run(ctx, "get chapters",
		"get", "chapters",
		"--file="+sourcePDF,
		"--output-path="+configDir,
	); err != nil {
		return nil, err
	}

	if err := t.run(ctx, "extract",
		"extract",
		"--file="+sourcePDF,
		"--config-path="+configDir,
		"--output-path="+extractedDir,
		"--ends-with="+t.TrailerMarker,
	); err != nil {
		return nil, err
	}

	return &ExtractionOutput{ConfigDir: configDir, ExtractedDir: extractedDir}, nil
}

func (t *ToolExtractor) run(ctx context.Context, step string, args ...string) error {
	if t.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, t.Binary, args...)
	output, err := cmd.CombinedOutput()
	if err == nil {
		t.Logger.Debug("Extraction tool step completed", zap.String("step", step))
		return nil
	}

	// A killed process also surfaces as an ExitError, so the deadline has
	// to be checked first to keep timeouts out of the crash path.
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("extraction tool timed out during %q after %s: %w",
			step, t.Timeout, context.DeadlineExceeded)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &ToolError{Step: step, ExitCode: exitErr.ExitCode(), Output: string(output)}
	}
	return fmt.Errorf("%w: %v", ErrExtractorUnavailable, err)
}
