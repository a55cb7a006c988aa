package lifecycle_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pdfbaba/pdfbaba/internal/lifecycle"
)

func TestTransientFileSet_CleanupIdempotent(t *testing.T) {
	dir := t.TempDir()
	work := filepath.Join(dir, "work")
	require.NoError(t, os.MkdirAll(filepath.Join(work, "pages"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(work, "pages", "p1.jpg"), []byte("x"), 0o644))
	input := filepath.Join(dir, "in.pdf")
	require.NoError(t, os.WriteFile(input, []byte("x"), 0o644))
	kept := filepath.Join(dir, "kept.pdf")
	require.NoError(t, os.WriteFile(kept, []byte("x"), 0o644))

	fs := lifecycle.NewTransientFileSet()
	fs.Add(input, work, kept, input, "")
	require.Equal(t, []string{input, work, kept}, fs.Paths())
	fs.Release(kept)

	fs.Cleanup(t.Context())
	require.NoFileExists(t, input)
	require.NoDirExists(t, work)
	require.FileExists(t, kept)
	require.Empty(t, fs.Paths())

	// second teardown: nothing left, nothing happens
	require.NotPanics(t, func() { fs.Cleanup(t.Context()) })
	require.FileExists(t, kept)
	require.Empty(t, fs.Paths())

	// a path recreated after cleanup is not touched unless registered again
	require.NoError(t, os.WriteFile(input, []byte("y"), 0o644))
	fs.Cleanup(t.Context())
	require.FileExists(t, input)
}

func TestTransientFileSet_MissingPaths(t *testing.T) {
	fs := lifecycle.NewTransientFileSet()
	fs.Add(filepath.Join(t.TempDir(), "never-created"))
	fs.Cleanup(t.Context())
	require.Empty(t, fs.Paths())
}
