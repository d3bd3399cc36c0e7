package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// writeStubTool creates a shell script standing in for the extraction binary.
func writeStubTool(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("stub tool scripts require a unix shell")
	}
	path := filepath.Join(t.TempDir(), "pdf-chapters")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755))
	return path
}

func TestToolExtractorUnavailable(t *testing.T) {
	extractor := NewToolExtractor("definitely-not-a-real-binary-xyz", "Guidelines for Contributors", time.Minute, zap.NewNop())

	_, err := extractor.Extract(context.Background(), "issue.pdf", t.TempDir())
	assert.True(t, errors.Is(err, ErrExtractorUnavailable), "expected ErrExtractorUnavailable, got %v", err)
}

func TestToolExtractorNonZeroExit(t *testing.T) {
	bin := writeStubTool(t, "exit 3\n")
	extractor := NewToolExtractor(bin, "Guidelines for Contributors", time.Minute, zap.NewNop())

	_, err := extractor.Extract(context.Background(), "issue.pdf", t.TempDir())

	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, "get chapters", toolErr.Step)
	assert.Equal(t, 3, toolErr.ExitCode)
}

func TestToolExtractorSuccess(t *testing.T) {
	bin := writeStubTool(t, "exit 0\n")
	extractor := NewToolExtractor(bin, "Guidelines for Contributors", time.Minute, zap.NewNop())

	scratch := t.TempDir()
	output, err := extractor.Extract(context.Background(), "issue.pdf", scratch)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(scratch, "config"), output.ConfigDir)
	assert.Equal(t, filepath.Join(scratch, "extracted"), output.ExtractedDir)
	assert.DirExists(t, output.ConfigDir)
	assert.DirExists(t, output.ExtractedDir)
}

func TestToolExtractorFailsOnExtractStep(t *testing.T) {
	// Succeed for "get chapters", fail for "extract".
	bin := writeStubTool(t, "if [ \"$1\" = \"extract\" ]; then exit 2; fi\nexit 0\n")
	extractor := NewToolExtractor(bin, "Guidelines for Contributors", time.Minute, zap.NewNop())

	_, err := extractor.Extract(context.Background(), "issue.pdf", t.TempDir())

	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, "extract", toolErr.Step)
	assert.Equal(t, 2, toolErr.ExitCode)
}

func TestToolExtractorTimeout(t *testing.T) {
	bin := writeStubTool(t, "sleep 5\n")
	extractor := NewToolExtractor(bin, "Guidelines for Contributors", 50*time.Millisecond, zap.NewNop())

	_, err := extractor.Extract(context.Background(), "issue.pdf", t.TempDir())

	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "expected a deadline error, got %v", err)
	var toolErr *ToolError
	assert.False(t, errors.As(err, &toolErr), "a timeout must not be reported as a tool crash")
}
