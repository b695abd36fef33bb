// Command recognize runs a local batch over files and directories and writes
// csv and html reports.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/feichai0017/document-recognizer/config"
	"github.com/feichai0017/document-recognizer/internal/agent"
	"github.com/feichai0017/document-recognizer/internal/models"
	"github.com/feichai0017/document-recognizer/internal/service/batch"
	"github.com/feichai0017/document-recognizer/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, ff.ErrHelp) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}

type flags struct {
	maxConcurrent int
	retries       int
	minQuality    float64
	maxCost       float64
	allowPremium  bool
	provider      string
	noPreprocess  bool
	noValidate    bool
	csvPath       string
	htmlPath      string
	logLevel      string
	paths         []string
}

func parseFlags(args []string, stderr io.Writer) (*flags, error) {
	rc := config.GetRecognitionConfig()

	fs := ff.NewFlagSet("recognize")
	var (
		maxConcurrent = fs.IntLong("max-concurrent", batch.DefaultMaxConcurrent, "files recognized in parallel per group")
		retries       = fs.IntLong("retries", 1, "extra passes over failed files")
		minQuality    = fs.Float64Long("min-quality", rc.MinQuality, "minimum acceptable confidence (0-100)")
		maxCost       = fs.Float64Long("max-cost", rc.MaxCost, "cost budget per document")
		allowPremium  = fs.BoolLong("allow-premium", "allow the premium contextual backend")
		provider      = fs.StringLong("provider", rc.Provider, "local, cloud or auto")
		noPreprocess  = fs.BoolLong("no-preprocess", "skip image preprocessing")
		noValidate    = fs.BoolLong("no-validate", "skip business validation")
		csvPath       = fs.StringLong("csv", "", "write the csv report to this file")
		htmlPath      = fs.StringLong("html", "", "write the html report to this file")
		logLevel      = fs.StringLong("log-level", "warn", "log level")
	)

	if err := ff.Parse(fs, args, ff.WithEnvVarPrefix("RECOGNIZER")); err != nil {
		fmt.Fprintf(stderr, "%s\n", ffhelp.Flags(fs))
		return nil, err
	}
	if len(fs.GetArgs()) == 0 {
		fmt.Fprintf(stderr, "%s\n", ffhelp.Flags(fs))
		return nil, errors.New("no files or directories given")
	}

	return &flags{
		maxConcurrent: *maxConcurrent,
		retries:       *retries,
		minQuality:    *minQuality,
		maxCost:       *maxCost,
		allowPremium:  *allowPremium || rc.AllowPremium,
		provider:      *provider,
		noPreprocess:  *noPreprocess,
		noValidate:    *noValidate,
		csvPath:       *csvPath,
		htmlPath:      *htmlPath,
		logLevel:      *logLevel,
		paths:         fs.GetArgs(),
	}, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	f, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}

	log, err := logger.NewLogger(
		logger.WithLevel(f.logLevel),
		logger.WithEncoding("console"),
		logger.WithOutputPaths([]string{"stderr"}),
	)
	if err != nil {
		return err
	}
	defer log.Sync()

	files, err := collectFiles(f.paths)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return errors.New("no supported documents found")
	}

	docs := make([]*models.Document, 0, len(files))
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		docs = append(docs, models.NewDocument(filepath.Base(path), data))
	}

	rc := *config.GetRecognitionConfig()
	rc.Provider = f.provider
	pipeline, err := agent.NewPipeline(ctx, &rc, config.GetTextractConfig(), log)
	if err != nil {
		return err
	}
	defer pipeline.Close()

	opts := batch.DefaultOptions()
	opts.MaxConcurrent = f.maxConcurrent
	opts.Preprocess = !f.noPreprocess
	opts.Validate = !f.noValidate
	opts.MaxWidth = rc.MaxImageWidth
	opts.Recognition = pipeline.Options
	opts.Recognition.MinQuality = f.minQuality
	opts.Recognition.MaxCost = f.maxCost
	opts.Recognition.AllowPremium = f.allowPremium
	opts.Progress = func(e batch.Event) {
		fmt.Fprintf(stdout, "[%5.1f%%] %d/%d %s\n", e.Percentage, e.Completed+e.Failed, e.Total, e.File)
	}

	out := pipeline.Runner.ProcessBatchWithRetry(ctx, docs, opts, f.retries)

	if f.csvPath != "" {
		if err := writeReport(f.csvPath, out, batch.CSVReport); err != nil {
			return err
		}
	}
	if f.htmlPath != "" {
		if err := writeReport(f.htmlPath, out, batch.HTMLReport); err != nil {
			return err
		}
	}

	printSummary(stdout, out, pipeline.Recognizer.Usage())
	return nil
}

// collectFiles expands directories recursively and keeps files with a
// supported extension. Explicit file arguments must be supported.
func collectFiles(paths []string) ([]string, error) {
	var files []string
	for _, root := range paths {
		info, err := os.Stat(root)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			if models.MIMEFromName(root) == "" {
				return nil, fmt.Errorf("unsupported file type: %s", root)
			}
			files = append(files, root)
			continue
		}

		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && models.MIMEFromName(path) != "" {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return slices.Compact(files), nil
}

func writeReport(path string, out *batch.Output, render func(io.Writer, *batch.Output) error) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report: %w", err)
	}
	if err := render(file, out); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

func printSummary(w io.Writer, out *batch.Output, usage models.UsageSnapshot) {
	s := out.Summary
	fmt.Fprintf(w, "\nProcessed %d files: %d successful, %d failed\n", s.Total, s.Successful, s.Failed)
	fmt.Fprintf(w, "Total time %s, average %s, cost %.2f\n", s.TotalTime.Round(time.Millisecond), s.AverageTime.Round(time.Millisecond), s.TotalCost)
	for _, r := range out.Results {
		if !r.Success {
			fmt.Fprintf(w, "  FAILED %s: %s\n", r.File, r.Error)
		}
	}
	fmt.Fprintf(w, "Scans %d, success rate %.0f%%, spent %.2f\n", usage.TotalScans, usage.SuccessRate*100, usage.TotalCost)
}
