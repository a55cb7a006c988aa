package log_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/pdfbaba/pdfbaba/internal/log"
	"github.com/stretchr/testify/require"
)

func TestContextAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := log.New(false, &buf)

	parent := log.RequestAttrs(t.Context(), "0192-abc", "merge")
	child := log.ContextAttrs(parent, slog.String("state", "Invoking"))
	sibling := log.ContextAttrs(parent, slog.String("state", "Parsing"))

	logger.With("component", "pipeline").InfoContext(child, "transition")
	logger.InfoContext(sibling, "transition")
	logger.DebugContext(child, "hidden")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)

	var first, second map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &first))
	require.NoError(t, json.Unmarshal(lines[1], &second))

	require.Equal(t, "0192-abc", first["request_id"])
	require.Equal(t, "merge", first["operation"])
	require.Equal(t, "Invoking", first["state"])
	require.Equal(t, "pipeline", first["component"])
	require.Equal(t, "Parsing", second["state"])
}

func TestOutput(t *testing.T) {
	w, c, err := log.Output("stderr")
	require.NoError(t, err)
	require.Equal(t, os.Stderr, w)
	require.NoError(t, c.Close())

	path := filepath.Join(t.TempDir(), "pdfbaba.log")
	w, c, err = log.Output(path)
	require.NoError(t, err)
	log.New(true, w).Debug("hello")
	require.NoError(t, c.Close())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(b), `"msg":"hello"`)
}
