package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/shiori/internal/config"
	"github.com/hyperjump/shiori/internal/ingest"
	"github.com/hyperjump/shiori/internal/models"
	"github.com/hyperjump/shiori/internal/search"
)

func TestLoadConfig_PrefersWorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("debug: true\n"), 0o644))

	cfg, resolved, err := loadConfig(defaultConfigPath)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "config.yaml"), resolved)
	assert.True(t, cfg.Debug)
}

func TestLoadConfig_EnvironmentOnly(t *testing.T) {
	if _, err := os.Stat(defaultConfigPath); err == nil {
		t.Skip("a system config exists at the default path")
	}
	t.Chdir(t.TempDir())
	t.Setenv("SHIORI_STORAGE_BACKEND", "postgres")

	cfg, resolved, err := loadConfig(defaultConfigPath)
	require.NoError(t, err)
	assert.Empty(t, resolved)
	assert.Equal(t, "postgres", cfg.Storage.Backend)
}

func TestLoadConfig_ExplicitPathMustExist(t *testing.T) {
	_, _, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestSearchConfig(t *testing.T) {
	got := searchConfig(config.SearchConfig{})
	assert.Equal(t, search.DefaultConfig(), got)

	got = searchConfig(config.SearchConfig{
		K:                10,
		ChunkThreshold:   models.Float(0.5),
		KeywordThreshold: models.Float(0),
		Candidates:       100,
	})
	assert.Equal(t, 10, got.K)
	assert.Equal(t, 0.5, got.ChunkThreshold)
	assert.Equal(t, 0.0, got.KeywordThreshold)
	assert.Equal(t, 100, got.Candidates)
	assert.Equal(t, search.DefaultConfig().FulltextThreshold, got.FulltextThreshold)

	zero := 0
	assert.Equal(t, 0, padding(config.SearchConfig{Padding: &zero}))
	assert.Equal(t, search.DefaultPadding, padding(config.SearchConfig{}))
}

func TestRootCommand_RegistersCommands(t *testing.T) {
	root := newRootCmd()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"serve", "watch", "index", "delete", "search", "similar", "show", "chunks", "top", "status", "migrate"} {
		assert.Contains(t, names, want)
	}
}

// writeTestConfig points every store path into dir and uses the mock embedder.
func writeTestConfig(t *testing.T, dir string) string {
	t.Helper()
	yaml := "storage:\n" +
		"  database_path: " + filepath.Join(dir, "db", "shiori.db") + "\n" +
		"  bleve_index_path: " + filepath.Join(dir, "bleve") + "\n" +
		"  vector_index_path: " + filepath.Join(dir, "vectors") + "\n" +
		"embedding:\n" +
		"  provider: mock\n" +
		"  dimensions: 16\n" +
		"search:\n" +
		"  keyword_threshold: 0\n" +
		"  tf_threshold: 0\n" +
		"ingest:\n" +
		"  user: tester\n"
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestCommands_IndexSearchStatus(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	cfgPath := writeTestConfig(t, dir)
	docs := filepath.Join(dir, "docs")
	require.NoError(t, os.MkdirAll(docs, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(docs, "guide.txt"),
		[]byte("The lantern lights the cave.\n\nMaps are kept in the drawer.\n\nBoots dry by the fire."), 0o644))

	out, err := execute(t, "--config", cfgPath, "-o", "json", "index", docs)
	require.NoError(t, err)
	var report ingest.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, 1, report.Indexed)

	out, err = execute(t, "--config", cfgPath, "-o", "json", "search", "--class", "KEYWORDS", "lantern")
	require.NoError(t, err)
	var hits struct {
		Hits []*models.SearchHit `json:"hits"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &hits))
	require.NotEmpty(t, hits.Hits)
	assert.Contains(t, hits.Hits[0].Text, "lantern")
	assert.Equal(t, "guide", hits.Hits[0].Title)

	out, err = execute(t, "--config", cfgPath, "show", hits.Hits[0].Hash)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "# guide\n"))

	out, err = execute(t, "--config", cfgPath, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Documents:  1")

	out, err = execute(t, "--config", cfgPath, "index", docs)
	require.NoError(t, err)
	assert.Contains(t, out, "Unchanged: 1")

	_, err = execute(t, "--config", cfgPath, "--user", "someone-else", "show", hits.Hits[0].Hash)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestCommands_RejectBadInput(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir)

	_, err := execute(t, "--config", cfgPath, "search", "--class", "FUZZY", "lantern")
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	_, err = execute(t, "--config", cfgPath, "-o", "yaml", "status")
	assert.Error(t, err)
}
