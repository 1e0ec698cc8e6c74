package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nickcecere/docrag/internal/config"
	"github.com/nickcecere/docrag/internal/store"
)

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{10 * 1024 * 1024, "10.0 MB"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatBytes(tt.in))
	}
}

func TestTruncatePath(t *testing.T) {
	assert.Equal(t, "short.md", truncatePath("short.md", 20))

	got := truncatePath("/very/long/path/to/some/handbook.pdf", 16)
	assert.Equal(t, ".../handbook.pdf", got)
}

func TestContextOptionsDefaults(t *testing.T) {
	t.Cleanup(func() {
		searchLimit, searchThreshold, searchDocs = 0, 0, nil
	})

	newCmd := func() *cobra.Command {
		cmd := &cobra.Command{}
		cmd.Flags().Float64Var(&searchThreshold, "threshold", 0, "")
		return cmd
	}

	cfg := config.DefaultConfig()
	opts := contextOptions(newCmd(), cfg)
	assert.Equal(t, cfg.Retrieval.NumChunks, opts.NumChunks)
	require.NotNil(t, opts.Threshold)
	assert.Equal(t, cfg.Retrieval.Threshold, *opts.Threshold)
	assert.Empty(t, opts.DocumentIDs)

	cmd := newCmd()
	require.NoError(t, cmd.Flags().Set("threshold", "0.9"))
	searchLimit, searchDocs = 2, []string{"doc_a"}
	opts = contextOptions(cmd, cfg)
	assert.Equal(t, 2, opts.NumChunks)
	assert.Equal(t, 0.9, *opts.Threshold)
	assert.Equal(t, []string{"doc_a"}, opts.DocumentIDs)

	for flag, want := range map[string]float64{"0": 0, "-1": -1} {
		cmd := newCmd()
		require.NoError(t, cmd.Flags().Set("threshold", flag))
		opts = contextOptions(cmd, cfg)
		assert.Equal(t, want, *opts.Threshold)
	}
}

func TestResultTitle(t *testing.T) {
	r := store.Result{Metadata: store.NewMetadata(
		store.KeyDocumentID, "doc_1",
		"doc_source", "handbook.pdf",
	)}
	assert.Equal(t, "handbook.pdf", resultTitle(r))

	r.Metadata.Set("doc_title", store.StringValue("Employee Handbook"))
	assert.Equal(t, "Employee Handbook", resultTitle(r))

	bare := store.Result{Metadata: store.NewMetadata(store.KeyDocumentID, "doc_2")}
	assert.Equal(t, "doc_2", resultTitle(bare))
}

func TestDisplayResults(t *testing.T) {
	d := 0.125
	results := []store.Result{{
		ID:       "c1",
		Text:     "Parental leave is sixteen weeks.",
		Metadata: store.NewMetadata(store.KeyDocumentID, "doc_1", store.KeyChunkIndex, 3, "doc_title", "Handbook"),
		Distance: &d,
	}}

	var buf bytes.Buffer
	displayResults(&buf, results, true)

	out := buf.String()
	assert.Contains(t, out, "Found 1 relevant chunks")
	assert.Contains(t, out, "Handbook")
	assert.Contains(t, out, "doc_1 #3")
	assert.Contains(t, out, "0.125")
	assert.Contains(t, out, "sixteen weeks")
}

func TestOutputJSONEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, outputJSON(&buf, nil))
	assert.JSONEq(t, `[]`, buf.String())
}

func TestHealthStatus(t *testing.T) {
	assert.Contains(t, healthStatus(store.Stats{}), "empty")
	assert.Contains(t, healthStatus(store.Stats{DocumentCount: 1}), "no chunks")
	assert.Contains(t, healthStatus(store.Stats{DocumentCount: 1, ChunkCount: 4}), "healthy")
}

func TestRunDryRun(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.md"), []byte("# A\n\nHello."), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("Plain text."), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "c.go"), []byte("package c"), 0o644))

	var buf bytes.Buffer
	require.NoError(t, runDryRun(&buf, dir, config.DefaultConfig()))

	out := buf.String()
	assert.Contains(t, out, "Total files:   2")
	assert.Contains(t, out, "a.md")
	assert.Contains(t, out, "b.txt")
	assert.NotContains(t, out, "c.go")
}

func TestVersionCommand(t *testing.T) {
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetArgs([]string{"version"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	require.NoError(t, Execute())
	assert.Contains(t, buf.String(), "docrag "+version)
}
