package engine_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/pdfbaba/pdfbaba/internal/engine"
	"github.com/pdfbaba/pdfbaba/internal/enginetest"
	"github.com/pdfbaba/pdfbaba/internal/model"
	"github.com/pdfbaba/pdfbaba/internal/request"
	"github.com/stretchr/testify/require"
)

func stubSupervisor(mode string, timeout time.Duration) *engine.Supervisor {
	return engine.NewSupervisor(timeout, model.DefaultMaxOutput, enginetest.Env(mode))
}

func writeInput(t *testing.T, name string) model.InputFile {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4 "+name), 0o644))
	return model.InputFile{Path: path, OriginalName: name}
}

func TestSupervisor_RoundTrip(t *testing.T) {
	options := map[string]any{
		"user_password":  `pa"ss\word`,
		"owner_password": `C:\Users\"quoted"\`,
		"note":           "$(rm -rf /) `echo` ; | && 'single' \n newline",
		"permissions":    map[string]any{"printing": "low", "copying": false},
	}
	raw, err := json.Marshal(options)
	require.NoError(t, err)

	in := writeInput(t, "a b.pdf")
	d, err := request.Validate("protect", []model.InputFile{in}, raw)
	require.NoError(t, err)
	inv, err := engine.Build(d, enginetest.Command(), filepath.Join(t.TempDir(), "out.pdf"))
	require.NoError(t, err)

	res, err := stubSupervisor(enginetest.ModeEcho, time.Minute).Run(t.Context(), inv)
	require.NoError(t, err)
	require.Equal(t, 0, res.ExitCode)

	var reply struct {
		Stats struct {
			Params string   `json:"params"`
			Inputs []string `json:"inputs"`
		} `json:"stats"`
	}
	require.NoError(t, json.Unmarshal(res.Stdout, &reply))
	require.Equal(t, inv.Params, reply.Stats.Params)
	require.Equal(t, []string{in.Path}, reply.Stats.Inputs)

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(reply.Stats.Params), &got))
	for k, v := range options {
		require.Equal(t, v, got[k], k)
	}
	require.Equal(t, "AES-256", got["encryption"])
}

func TestSupervisor_RoundTripNested(t *testing.T) {
	raw := []byte(`{"pageSize":"a4","pages":[{"type":"image","index":0,"rotation":0,"label":"cover \"1\""}]}`)
	d, err := request.Validate("image-to-pdf", []model.InputFile{writeInput(t, "cover.jpg")}, raw)
	require.NoError(t, err)
	inv, err := engine.Build(d, enginetest.Command(), filepath.Join(t.TempDir(), "out.pdf"))
	require.NoError(t, err)

	res, err := stubSupervisor(enginetest.ModeEcho, time.Minute).Run(t.Context(), inv)
	require.NoError(t, err)

	var reply struct {
		Stats struct {
			Params string `json:"params"`
		} `json:"stats"`
	}
	require.NoError(t, json.Unmarshal(res.Stdout, &reply))
	require.JSONEq(t, string(raw), reply.Stats.Params)
}

func TestSupervisor_NonZeroExit(t *testing.T) {
	d, err := request.Validate("compress", []model.InputFile{writeInput(t, "a.pdf")}, nil)
	require.NoError(t, err)
	inv, err := engine.Build(d, enginetest.Command(), filepath.Join(t.TempDir(), "out.pdf"))
	require.NoError(t, err)

	res, err := stubSupervisor(enginetest.ModeFail, time.Minute).Run(t.Context(), inv)
	require.ErrorIs(t, err, model.ErrNonZeroExit)
	require.Equal(t, 1, res.ExitCode)
	pe, ok := model.AsError(err)
	require.True(t, ok)
	require.Equal(t, "corrupt PDF", pe.Detail)
	require.Equal(t, "corrupt PDF\n", string(res.Stderr))
}

func TestSupervisor_SpawnFailed(t *testing.T) {
	inv := model.EngineInvocation{
		Executable: filepath.Join(t.TempDir(), "does-not-exist"),
		Args:       []string{"analyze"},
	}
	res, err := stubSupervisor(enginetest.ModeNormal, time.Minute).Run(t.Context(), inv)
	require.ErrorIs(t, err, model.ErrSpawnFailed)
	require.Equal(t, -1, res.ExitCode)
}

func TestSupervisor_Timeout(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("process group kill is unix only")
	}
	d, err := request.Validate("analyze", []model.InputFile{writeInput(t, "a.pdf")}, nil)
	require.NoError(t, err)
	inv, err := engine.Build(d, enginetest.Command(), "")
	require.NoError(t, err)

	start := time.Now()
	_, err = stubSupervisor(enginetest.ModeSleep, 200*time.Millisecond).Run(t.Context(), inv)
	require.ErrorIs(t, err, model.ErrTimeout)
	require.Less(t, time.Since(start), 30*time.Second)
}

func TestSupervisor_Canceled(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("process group kill is unix only")
	}
	d, err := request.Validate("analyze", []model.InputFile{writeInput(t, "a.pdf")}, nil)
	require.NoError(t, err)
	inv, err := engine.Build(d, enginetest.Command(), "")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	time.AfterFunc(200*time.Millisecond, cancel)
	_, err = stubSupervisor(enginetest.ModeSleep, time.Minute).Run(ctx, inv)
	require.ErrorIs(t, err, model.ErrCanceled)
}

func TestSupervisor_OutputLimit(t *testing.T) {
	d, err := request.Validate("analyze", []model.InputFile{writeInput(t, "a.pdf")}, nil)
	require.NoError(t, err)
	inv, err := engine.Build(d, enginetest.Command(), "")
	require.NoError(t, err)

	sup := engine.NewSupervisor(time.Minute, 16, enginetest.Env(enginetest.ModeNormal))
	res, err := sup.Run(t.Context(), inv)
	require.NoError(t, err)
	require.Len(t, res.Stdout, 16)
	require.True(t, res.StdoutTruncated)
	require.False(t, res.StderrTruncated)
}

func TestProbe(t *testing.T) {
	msg, err := stubSupervisor(enginetest.ModeNormal, time.Minute).Probe(t.Context(), enginetest.Command())
	require.NoError(t, err)
	require.Equal(t, "Engine is ready", msg)

	_, err = stubSupervisor(enginetest.ModeNormal, time.Minute).Probe(t.Context(), []string{filepath.Join(t.TempDir(), "missing")})
	require.ErrorIs(t, err, engine.ErrNotReady)
	require.ErrorIs(t, err, model.ErrSpawnFailed)
}
