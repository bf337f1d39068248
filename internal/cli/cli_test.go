package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nickcecere/pki/internal/store"
)

// setupCLI writes a config pointing at a fresh database seeded with three
// documents, oldest first: n1, n2 and f1 (ingested from /notes/a.md).
func setupCLI(t *testing.T) (cfgPath, dbPath string) {
	t.Helper()
	dir := t.TempDir()
	dbPath = filepath.Join(dir, "pki.db")
	cfgPath = filepath.Join(dir, "config.yaml")

	content := fmt.Sprintf("database:\n  path: %s\nsearch:\n  backend: exact\nretention:\n  max_items: 10\n", dbPath)
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0644))

	ctx := context.Background()
	st, err := store.Open(ctx, dbPath, store.Options{})
	require.NoError(t, err)
	defer st.Close()

	require.NoError(t, st.Upsert(ctx, store.Item{ID: "n1", Text: "water the ferns on sunday", Embedding: []float32{1, 0, 0}, Metadata: map[string]string{"source": "note"}}))
	require.NoError(t, st.Upsert(ctx, store.Item{ID: "n2", Text: "# Trip\n\npack the tent", Embedding: []float32{0, 1, 0}, Metadata: map[string]string{"source": "note"}}))
	require.NoError(t, st.Upsert(ctx, store.Item{ID: "f1", Text: `{"list":"groceries"}`, Embedding: []float32{0, 0, 1}, Metadata: map[string]string{"source": "file", "path": "/notes/a.md"}}))
	return cfgPath, dbPath
}

// resetFlags restores flag defaults, since cobra keeps values between runs.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}

func runCLI(t *testing.T, cfgPath string, args ...string) (string, error) {
	t.Helper()
	viper.Reset()
	resetFlags(rootCmd)
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(append([]string{"--config", cfgPath}, args...))
	err := rootCmd.Execute()
	return out.String(), err
}

func countDocuments(t *testing.T, dbPath string) int {
	t.Helper()
	st, err := store.Open(context.Background(), dbPath, store.Options{})
	require.NoError(t, err)
	defer st.Close()
	n, err := st.Count(context.Background())
	require.NoError(t, err)
	return n
}

func TestListCommand(t *testing.T) {
	cfgPath, _ := setupCLI(t)

	out, err := runCLI(t, cfgPath, "list")
	require.NoError(t, err)
	assert.Less(t, strings.Index(out, "f1"), strings.Index(out, "n2"))
	assert.Less(t, strings.Index(out, "n2"), strings.Index(out, "n1"))
	assert.Contains(t, out, "/notes/a.md")
	assert.Contains(t, out, "water the ferns")

	out, err = runCLI(t, cfgPath, "list", "--json", "--limit", "2")
	require.NoError(t, err)
	var docs []store.Document
	require.NoError(t, json.Unmarshal([]byte(out), &docs))
	require.Len(t, docs, 2)
	assert.Equal(t, "f1", docs[0].ID)
	assert.Equal(t, "n2", docs[1].ID)
}

func TestGetCommand(t *testing.T) {
	cfgPath, _ := setupCLI(t)

	out, err := runCLI(t, cfgPath, "get", "n1")
	require.NoError(t, err)
	assert.Contains(t, out, "water the ferns on sunday")
	assert.Contains(t, out, "source")

	out, err = runCLI(t, cfgPath, "get", "f1", "--json")
	require.NoError(t, err)
	var doc store.Document
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.Equal(t, "/notes/a.md", doc.Metadata["path"])

	out, err = runCLI(t, cfgPath, "get", "f1", "--render")
	require.NoError(t, err)
	assert.Contains(t, out, "groceries")

	_, err = runCLI(t, cfgPath, "get", "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeleteCommand(t *testing.T) {
	cfgPath, dbPath := setupCLI(t)

	out, err := runCLI(t, cfgPath, "delete", "n1", "nope")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted")
	assert.Contains(t, out, "Not found")
	assert.Equal(t, 2, countDocuments(t, dbPath))

	out, err = runCLI(t, cfgPath, "delete", "--path", "/notes/a.md")
	require.NoError(t, err)
	assert.Contains(t, out, "1 documents")
	assert.Equal(t, 1, countDocuments(t, dbPath))
}

func TestGCCommand(t *testing.T) {
	cfgPath, dbPath := setupCLI(t)

	// Under the configured limit of 10 nothing is evicted.
	out, err := runCLI(t, cfgPath, "gc")
	require.NoError(t, err)
	assert.Contains(t, out, "Evicted 0 documents")

	out, err = runCLI(t, cfgPath, "gc", "--max-items", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "Evicted 2 documents")
	assert.Equal(t, 1, countDocuments(t, dbPath))

	out, err = runCLI(t, cfgPath, "list", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"f1"`)
}

func TestStatusCommand(t *testing.T) {
	cfgPath, dbPath := setupCLI(t)

	out, err := runCLI(t, cfgPath, "status", "--json")
	require.NoError(t, err)
	var stats store.Stats
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, 3, stats.Documents)
	assert.Equal(t, 3, stats.Dimension)
	assert.Equal(t, dbPath, stats.Path)

	out, err = runCLI(t, cfgPath, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Index Status")
	assert.Contains(t, out, "healthy")
}

func TestConfigCommand(t *testing.T) {
	cfgPath, dbPath := setupCLI(t)

	out, err := runCLI(t, cfgPath, "config", "--path")
	require.NoError(t, err)
	assert.Contains(t, out, cfgPath)
	assert.Contains(t, out, dbPath)

	out, err = runCLI(t, cfgPath, "config")
	require.NoError(t, err)
	assert.Contains(t, out, "Backend: exact")
	assert.Contains(t, out, "Max Items: 10")
}

func TestInvalidConfigFails(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("search:\n  backend: faiss\n"), 0644))

	_, err := runCLI(t, cfgPath, "status")
	assert.ErrorContains(t, err, "failed to load config")
}

func TestVersionCommand(t *testing.T) {
	cfgPath, _ := setupCLI(t)
	SetVersionInfo("1.2.3", "abc123", "2026-01-01")
	t.Cleanup(func() { SetVersionInfo("dev", "none", "unknown") })

	out, err := runCLI(t, cfgPath, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "pki 1.2.3")
	assert.Contains(t, out, "abc123")
}

func TestReadText(t *testing.T) {
	text, err := readText(strings.NewReader("ignored"), []string{"call", "mom"})
	require.NoError(t, err)
	assert.Equal(t, "call mom", text)

	text, err = readText(strings.NewReader("  from stdin\n"), []string{"-"})
	require.NoError(t, err)
	assert.Equal(t, "from stdin", text)

	text, err = readText(strings.NewReader("piped"), nil)
	require.NoError(t, err)
	assert.Equal(t, "piped", text)

	_, err = readText(strings.NewReader("  \n"), nil)
	assert.Error(t, err)
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", formatBytes(512))
	assert.Equal(t, "1.0 KB", formatBytes(1024))
	assert.Equal(t, "1.5 MB", formatBytes(1536*1024))
}
