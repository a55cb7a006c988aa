package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/pdfbaba/pdfbaba/internal/lifecycle"
	"github.com/pdfbaba/pdfbaba/internal/log"
	"github.com/pdfbaba/pdfbaba/internal/model"
	"github.com/pdfbaba/pdfbaba/internal/parallel"
	"gopkg.in/yaml.v3"

	"github.com/spf13/cobra"
)

var flagParallel int

func init() {
	batchCmd.Flags().IntVar(&flagParallel, "parallel", 4, "number of jobs running at the same time")
}

var batchCmd = &cobra.Command{
	Use:   "batch <jobs.yaml>",
	Short: "batch runs independent jobs from a file concurrently",
	Long: `batch runs independent jobs from a YAML file:

  jobs:
    - operation: merge
      files: [a.pdf, b.pdf]
      out: merged.pdf
    - operation: pdf-to-image
      files: [deck.pdf]
      options: {format: png, dpi: 300}

Relative paths are resolved against the directory of the jobs file. One JSON
outcome per job is printed in completion order.`,
	Args: cobra.ExactArgs(1),
	RunE: doBatch,
}

// batchFile is the jobs file of the batch command.
type batchFile struct {
	Jobs []batchJob `yaml:"jobs"`
}

type batchJob struct {
	Operation string         `yaml:"operation"`
	Files     []string       `yaml:"files"`
	Options   map[string]any `yaml:"options,omitempty"`
	Out       string         `yaml:"out,omitempty"`
}

func loadJobs(r io.Reader, base string) ([]job, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var bf batchFile
	if err := dec.Decode(&bf); err != nil {
		return nil, fmt.Errorf("decoding jobs: %w", err)
	}
	if len(bf.Jobs) == 0 {
		return nil, errors.New("no jobs defined")
	}

	jobs := make([]job, 0, len(bf.Jobs))
	for i, bj := range bf.Jobs {
		if bj.Operation == "" {
			return nil, fmt.Errorf("jobs[%d]: operation is required", i)
		}
		j := job{
			Operation: bj.Operation,
			Files:     make([]string, len(bj.Files)),
			Out:       resolve(base, bj.Out),
		}
		for k, f := range bj.Files {
			j.Files[k] = resolve(base, f)
		}
		if len(bj.Options) > 0 {
			raw, err := json.Marshal(bj.Options)
			if err != nil {
				return nil, fmt.Errorf("jobs[%d]: encoding options: %w", i, err)
			}
			j.Options = raw
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

func resolve(base, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}

func doBatch(cmd *cobra.Command, args []string) error {
	ctx := log.ContextAttrs(cmd.Context(), slog.Group("pdfbaba",
		slog.String("cmd", "batch"),
		slog.Int("pid", os.Getpid()),
	))
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("opening jobs file: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()
	jobs, err := loadJobs(f, filepath.Dir(args[0]))
	if err != nil {
		return err
	}

	p, err := lifecycle.FromConfig(config)
	if err != nil {
		return err
	}
	return runBatch(ctx, p, jobs, flagParallel, cmd.OutOrStdout())
}

// runBatch runs jobs with at most limit pipelines in flight and writes one
// JSON outcome line per job.
func runBatch(ctx context.Context, p *lifecycle.Pipeline, jobs []job, limit int, w io.Writer) error {
	m := parallel.NewMap(ctx, limit, func(ctx context.Context, j job) (model.Outcome, error) {
		return runJob(ctx, p, j)
	})

	enc := json.NewEncoder(w)
	var failed int
	for out, err := range m.Iter(seq(jobs)) {
		if err != nil {
			failed++
		}
		if err := enc.Encode(out); err != nil {
			return fmt.Errorf("writing outcome: %w", err)
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d jobs failed", failed, len(jobs))
	}
	return nil
}

func seq[T any](s []T) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for _, x := range s {
			if !yield(x, nil) {
				return
			}
		}
	}
}
