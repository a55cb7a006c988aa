package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pdfbaba/pdfbaba/internal/lifecycle"
	"github.com/pdfbaba/pdfbaba/internal/log"
	"github.com/pdfbaba/pdfbaba/internal/model"
	"github.com/pdfbaba/pdfbaba/internal/service"

	"github.com/spf13/cobra"
)

var (
	flagOptions string // raw JSON options of run
	flagOut     string // artifact destination of run
)

func init() {
	runCmd.Flags().StringVar(&flagOptions, "options", "", "operation options as a JSON object")
	runCmd.Flags().StringVar(&flagOut, "out", "", "where to write the result, a file or an existing directory (default: result name in current directory)")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "serve runs the HTTP API and the retention sweeper",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := log.ContextAttrs(cmd.Context(), slog.Group("pdfbaba",
			slog.String("cmd", "serve"),
			slog.Int("pid", os.Getpid()),
		))
		return service.Serve(ctx, config)
	},
}

var runCmd = &cobra.Command{
	Use:   "run <operation> [files...]",
	Short: "run executes one operation on local files and writes the result",
	Args:  cobra.MinimumNArgs(1),
	RunE:  doRun,
}

var engineCheckCmd = &cobra.Command{
	Use:   "engine-check",
	Short: "engine-check verifies the configured engine answers its self test",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		p, err := lifecycle.FromConfig(config)
		if err != nil {
			return err
		}
		msg, err := p.Supervisor().Probe(cmd.Context(), p.Command())
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "engine: %s\n", msg)
		return err
	},
}

func doRun(cmd *cobra.Command, args []string) error {
	ctx := log.ContextAttrs(cmd.Context(), slog.Group("pdfbaba",
		slog.String("cmd", "run"),
		slog.Int("pid", os.Getpid()),
	))
	p, err := lifecycle.FromConfig(config)
	if err != nil {
		return err
	}
	out, runErr := runJob(ctx, p, job{
		Operation: args[0],
		Files:     args[1:],
		Options:   []byte(flagOptions),
		Out:       flagOut,
	})
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return errors.Join(runErr, err)
	}
	return runErr
}

// job is one local conversion.
type job struct {
	Operation string
	Files     []string
	Options   []byte
	Out       string
}

// runJob stages the input files in the request work directory, runs the
// pipeline and writes the artifact to j.Out.
func runJob(ctx context.Context, p *lifecycle.Pipeline, j job) (model.Outcome, error) {
	id, err := lifecycle.NewID()
	if err != nil {
		return model.OutcomeFromError("", model.Operation(j.Operation), err), err
	}
	fail := func(err error) (model.Outcome, error) {
		return model.OutcomeFromError(id, model.Operation(j.Operation), err), err
	}

	inputs, err := stage(p.WorkDir(id), j.Files)
	if err != nil {
		_ = os.RemoveAll(p.WorkDir(id))
		return fail(err)
	}

	res, err := p.Run(ctx, lifecycle.Request{
		ID:        id,
		Operation: j.Operation,
		Inputs:    inputs,
		Options:   j.Options,
	})
	if err != nil {
		return fail(err)
	}
	if res.Artifact == nil {
		return res.Outcome(""), nil
	}
	defer res.Close(ctx)

	dest := destination(j.Out, res.Artifact.Name)
	if err := save(ctx, res, dest); err != nil {
		return fail(err)
	}
	out := res.Outcome("")
	out.Filename = dest
	slog.InfoContext(log.RequestAttrs(ctx, id, j.Operation), "result written", "path", dest)
	return out, nil
}

func stage(workDir string, files []string) ([]model.InputFile, error) {
	if len(files) == 0 {
		return nil, nil
	}
	dir := filepath.Join(workDir, "uploads")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating upload directory: %w", err)
	}
	inputs := make([]model.InputFile, 0, len(files))
	for i, src := range files {
		dst := filepath.Join(dir, strconv.Itoa(i)+"-"+filepath.Base(src))
		n, err := copyFile(src, dst)
		if err != nil {
			return nil, fmt.Errorf("staging %s: %w", src, err)
		}
		inputs = append(inputs, model.InputFile{Path: dst, OriginalName: filepath.Base(src), Size: n})
	}
	return inputs, nil
}

func copyFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = in.Close()
	}()
	out, err := os.Create(dst)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(out, in)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	return n, err
}

// destination resolves --out: empty means the artifact name in the current
// directory, an existing directory receives the artifact name.
func destination(out, name string) string {
	if out == "" {
		return name
	}
	if info, err := os.Stat(out); err == nil && info.IsDir() {
		return filepath.Join(out, name)
	}
	return out
}

func save(ctx context.Context, j *lifecycle.Job, dest string) error {
	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("creating %s: %w", dest, err)
	}
	_, err = j.Serve(ctx, f, "")
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(dest)
		return fmt.Errorf("writing %s: %w", dest, err)
	}
	return nil
}
