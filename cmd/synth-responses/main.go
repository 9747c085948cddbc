package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v3"

	"github.com/okian/barometer/internal/synth"
	"github.com/okian/barometer/pkg/logger"
)

// Default configuration constants.
const (
	defaultRespondents = 200
	defaultBatchSize   = 10
	defaultWorkers     = 2 // multiplier for runtime.NumCPU()
	defaultTimeout     = 30 * time.Second
	defaultSettle      = 30 * time.Second
	defaultRunTimeout  = 10 * time.Minute
)

func main() {
	fs := flag.NewFlagSet("synth-responses", flag.ExitOnError)
	var (
		_            = fs.String("config", "", "config file (optional), one flag per line")
		baseURL      = fs.String("url", "http://localhost:9080", "base URL of the service")
		bankFile     = fs.String("bank", "configs/banks/efqm-2025.yaml", "item bank YAML the assessment is pinned to")
		assessmentID = fs.String("assessment", "", "assessment id; empty lets the service assign one")
		organization = fs.String("organization", "acme", "organization the assessment belongs to")
		sector       = fs.String("sector", "manufacturing", "benchmark sector")
		respondents  = fs.Int("respondents", defaultRespondents, "number of respondents to simulate")
		batchSize    = fs.Int("batch", defaultBatchSize, "respondents per submitted batch")
		workers      = fs.Int("workers", runtime.NumCPU()*defaultWorkers, "number of concurrent submitters")
		timeout      = fs.Duration("timeout", defaultTimeout, "HTTP request timeout")
		settle       = fs.Duration("settle", defaultSettle, "how long to wait for screening to drain")
		seed         = fs.Uint64("seed", 1, "generator seed")
		mean         = fs.Float64("mean", 0.6, "latent quality level in 0..1")
		straight     = fs.Float64("straight-liners", 0.05, "share of respondents giving one answer throughout")
		speeders     = fs.Float64("speeders", 0.05, "share of respondents answering too fast")
		plan         = fs.Bool("plan", false, "plan improvement actions after scoring")
		outputFile   = fs.String("output", "", "optional JSON dump of the generated campaign")
		verbose      = fs.Bool("verbose", false, "log every batch")
	)
	if err := ff.Parse(fs, os.Args[1:],
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
		ff.WithEnvVarPrefix("SYNTH"),
	); err != nil {
		os.Stderr.WriteString("failed to parse flags: " + err.Error() + "\n")
		os.Exit(2)
	}

	if err := logger.Init(logger.WithService("synth-responses")); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	if *verbose {
		_ = logger.SetLevelString("debug")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, defaultRunTimeout)
	defer cancel()

	cfg := &synth.Config{
		BaseURL:      *baseURL,
		BankFile:     *bankFile,
		AssessmentID: *assessmentID,
		Organization: *organization,
		Sector:       *sector,
		Respondents:  *respondents,
		BatchSize:    *batchSize,
		Workers:      *workers,
		Timeout:      *timeout,
		Settle:       *settle,
		Seed:         *seed,
		Mean:         *mean,
		StraightLine: *straight,
		Speeders:     *speeders,
		Plan:         *plan,
		OutputFile:   *outputFile,
		Verbose:      *verbose,
	}

	if _, err := synth.Run(ctx, cfg); err != nil {
		logger.Get().Error(ctx, "campaign failed", logger.Error(err))
		os.Exit(1)
	}
}
