package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"ChunkVault/pkg/transfer"

	"github.com/stretchr/testify/require"
)

type env struct {
	dir    string
	config string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	dir := t.TempDir()
	cfg := filepath.Join(dir, "chunkvault.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte(`
chunk_size: 2b
output_dir: `+filepath.Join(dir, "uploads")+`
log_level: error
meta:
  backend: file
  path: `+filepath.Join(dir, "metadata.json")+`
store:
  backend: local
  root: `+filepath.Join(dir, "data")+`
containers:
  - pool: pool0
    container: kvstore
    targets: 1
`), 0o644))
	return &env{dir: dir, config: cfg}
}

func (e *env) run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	a := &app{}
	defer a.close()
	root := newRootCmd(a)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(append([]string{"--config", e.config, "--pretty=false"}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func (e *env) file(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(e.dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestCommands(t *testing.T) {
	e := newEnv(t)
	src := e.file(t, "doc1.txt", "ABCDE")

	out, err := e.run(t, "", "upload", "doc1", src)
	require.NoError(t, err)
	require.Contains(t, out, "File uploaded in 3 chunks successfully.")

	_, err = e.run(t, "", "upload", "doc1", src)
	require.ErrorIs(t, err, transfer.ErrKeyExists)

	out, err = e.run(t, "", "list")
	require.NoError(t, err)
	require.Equal(t, "doc1\n", out)

	out, err = e.run(t, "", "list", "-l")
	require.NoError(t, err)
	require.Contains(t, out, "doc1")
	require.Contains(t, out, "5 B")
	require.Contains(t, out, "pool0/kvstore")

	out, err = e.run(t, "", "read", "doc1")
	require.NoError(t, err)
	require.Contains(t, out, "Value retrieved successfully. Total chunks: 3.")
	data, err := os.ReadFile(filepath.Join(e.dir, "uploads", "doc1.dat"))
	require.NoError(t, err)
	require.Equal(t, "ABCDE", string(data))

	out, err = e.run(t, "", "reconcile", "--dry-run")
	require.NoError(t, err)
	require.Contains(t, out, "would repair")

	out, err = e.run(t, "", "delete", "doc1")
	require.NoError(t, err)
	require.Contains(t, out, "Chunks removed: 3")

	_, err = e.run(t, "", "read", "doc1")
	require.ErrorIs(t, err, transfer.ErrKeyNotFound)

	out, err = e.run(t, "", "list")
	require.NoError(t, err)
	require.Equal(t, "No keys stored.\n", out)
}

func TestBadChunkSizeFlag(t *testing.T) {
	e := newEnv(t)
	_, err := e.run(t, "", "--chunk-size", "0", "list")
	require.Error(t, err)
}

func TestShell(t *testing.T) {
	e := newEnv(t)
	src := e.file(t, "doc1.txt", "ABCDE")
	input := strings.Join([]string{
		"?",
		"u", "doc1", src,
		"u", "doc2", filepath.Join(e.dir, "missing.txt"),
		"d",
		"r", "doc1",
		"r", "nope",
		"p", "doc1",
		"p", "doc1",
		"x",
		"q",
	}, "\n") + "\n"

	out, err := e.run(t, input, "shell")
	require.NoError(t, err)
	for _, want := range []string{
		"File uploaded in 3 chunks successfully.",
		"File not found.",
		"Value retrieved successfully. Total chunks: 3.",
		"Value saved as file: " + filepath.Join(e.dir, "uploads", "doc1.dat"),
		"Key not found.",
		"All data associated with key 'doc1' deleted.",
		"Key 'doc1' not found in the data.",
		"Invalid command. Enter '?' for help.",
		"Program ended.",
	} {
		require.Contains(t, out, want)
	}
}

func TestShellEndsOnEOF(t *testing.T) {
	e := newEnv(t)
	out, err := e.run(t, "d\n", "shell")
	require.NoError(t, err)
	require.Contains(t, out, "No keys stored.")
	require.True(t, strings.HasSuffix(out, "Program ended.\n"))
}
