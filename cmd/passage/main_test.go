package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/hyperjump/passage/internal/config"
	"github.com/hyperjump/passage/internal/extract"
	"github.com/hyperjump/passage/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildQuery(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected string
	}{
		{"single word", []string{"fire"}, "fire"},
		{"multiple words", []string{"fire", "exit", "policy"}, "fire exit policy"},
		{"single quoted phrase", []string{"fire exit policy"}, "fire exit policy"},
		{"surrounding whitespace", []string{"  fire ", " exit  "}, "fire   exit"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, buildQuery(tt.args))
		})
	}
}

func TestLoadConfig_explicitPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "passage.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9191\n"), 0600))

	cfg, resolved, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, path, resolved)
	assert.Equal(t, 9191, cfg.Server.Port)
}

func TestLoadConfig_defaultPathPrefersWorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("server:\n  port: 7070\n"), 0600))
	t.Chdir(dir)

	cfg, resolved, err := loadConfig(defaultConfigPath)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "config.yaml"), resolved)
	assert.Equal(t, 7070, cfg.Server.Port)
}

func TestRootCmd_Subcommands(t *testing.T) {
	root := newRootCmd()
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"init", "serve", "ingest", "search", "context", "stats", "clear", "version"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}
}

func TestPlainTextExtensions(t *testing.T) {
	e := extract.NewExtractor()
	assert.Empty(t, plainTextExtensions(e, config.DefaultExtensions))
	assert.Equal(t, []string{".go", ".csv"}, plainTextExtensions(e, []string{".md", ".go", ".PDF", ".csv"}))
}

func TestCLI_InitWritesLoadableConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	out, err := run(t, "init", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote "+path)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, filepath.Join(dir, "data", "documents"), cfg.Documents.Path)
	assert.Equal(t, config.DefaultExtensions, cfg.Documents.Extensions)

	_, err = run(t, "init", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	_, err = run(t, "init", path, "--force")
	require.NoError(t, err)
}

// writeProject creates a documents directory and a config using the mock embedder.
func writeProject(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	docs := filepath.Join(dir, "docs")
	require.NoError(t, os.MkdirAll(docs, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(docs, "safety.txt"),
		[]byte("Keep fire exits clear at all times. Report blocked exits to facilities."), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(docs, "leave.md"),
		[]byte("Employees accrue annual leave monthly. Unused leave carries over once."), 0600))

	cfgPath := filepath.Join(dir, "config.yaml")
	cfg := fmt.Sprintf(`documents:
  path: %s
storage:
  index_path: %s
embedding:
  provider: mock
  dimensions: 8
chunking:
  chunk_size: 6
  chunk_overlap: 2
`, docs, filepath.Join(dir, "index"))
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0600))
	return cfgPath
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestCLI_IngestSearchStatsClear(t *testing.T) {
	cfgPath := writeProject(t)

	out, err := run(t, "ingest", "--config", cfgPath, "-o", "json")
	require.NoError(t, err)
	var report models.IngestReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.True(t, report.Success)
	assert.Equal(t, report.TotalChunks, report.EmbeddedChunks)
	assert.Positive(t, report.IndexSize)
	assert.Equal(t, 8, report.EmbeddingDimension)

	out, err = run(t, "ingest", "--config", cfgPath, "-o", "json")
	require.NoError(t, err)
	var again models.IngestReport
	require.NoError(t, json.Unmarshal([]byte(out), &again))
	assert.True(t, again.AlreadyPopulated)
	assert.Equal(t, report.IndexSize, again.IndexSize)

	out, err = run(t, "search", "fire", "exits", "--config", cfgPath, "--k", "2", "-o", "json")
	require.NoError(t, err)
	var resp models.SearchResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "fire exits", resp.Query)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, 1, resp.Results[0].Rank)
	assert.GreaterOrEqual(t, resp.Results[0].SimilarityScore, resp.Results[1].SimilarityScore)

	out, err = run(t, "stats", "--config", cfgPath, "-o", "json")
	require.NoError(t, err)
	var stats models.PipelineStats
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, report.IndexSize, stats.IndexSize)
	assert.Equal(t, 6, stats.ChunkSize)
	assert.Equal(t, 2, stats.ChunkOverlap)

	out, err = run(t, "clear", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Index cleared")

	out, err = run(t, "stats", "--config", cfgPath, "-o", "json")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Zero(t, stats.IndexSize)
}

func TestCLI_SearchExplicitZeroFloorOverridesConfig(t *testing.T) {
	cfgPath := writeProject(t)
	f, err := os.OpenFile(cfgPath, os.O_APPEND|os.O_WRONLY, 0600)
	require.NoError(t, err)
	_, err = f.WriteString("search:\n  min_similarity: 0.99\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = run(t, "ingest", "--config", cfgPath)
	require.NoError(t, err)

	out, err := run(t, "search", "fire", "exits", "--config", cfgPath, "--k", "2", "-o", "json")
	require.NoError(t, err)
	var floored models.SearchResponse
	require.NoError(t, json.Unmarshal([]byte(out), &floored))
	assert.Empty(t, floored.Results)

	out, err = run(t, "search", "fire", "exits", "--config", cfgPath, "--k", "2", "--min-similarity", "0", "-o", "json")
	require.NoError(t, err)
	var unfloored models.SearchResponse
	require.NoError(t, json.Unmarshal([]byte(out), &unfloored))
	assert.Len(t, unfloored.Results, 2)
}

func TestCLI_ContextWithoutIndex(t *testing.T) {
	cfgPath := writeProject(t)
	out, err := run(t, "context", "anything", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "No relevant documents found.")
}

func TestCLI_SearchRejectsBadOutput(t *testing.T) {
	_, err := run(t, "search", "fire", "-o", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown output format")
}

func TestCLI_Version(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "passage version dev\n", out)
}
