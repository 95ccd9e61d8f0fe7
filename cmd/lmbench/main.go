// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command lmbench fits the built-in least-squares problems and reports
// how each run terminated.
//
// Usage:
//
//	lmbench [-config run.yaml] [-workers n] [-v level] [-problems a,b] [-json]
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/curioloop/lmfit/collective"
	"github.com/curioloop/lmfit/config"
	"github.com/curioloop/lmfit/lm"
	"github.com/curioloop/lmfit/numdiff"
	"github.com/curioloop/lmfit/problems"
	"github.com/curioloop/lmfit/profile"
)

const (
	exitSuccess      = 0
	exitErrorGeneric = 1
	exitNotConverged = 3
	exitErrorConfig  = 4
	exitCanceled     = 130
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// report is the outcome of one problem.
type report struct {
	Problem   string    `json:"problem"`
	OK        bool      `json:"ok"`
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	X         []float64 `json:"x"`
	FNorm2    float64   `json:"f_norm2"`
	NumIter   int       `json:"iterations"`
	NumEval   int       `json:"evaluations"`
	NumReject int       `json:"rejections"`
	fatal     bool
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("lmbench", flag.ContinueOnError)
	fs.SetOutput(stderr)
	cfgPath := fs.String("config", "", "YAML run configuration")
	workers := fs.Int("workers", 0, "participants of the JᵀJ reduction (overrides config)")
	verbosity := fs.Int("v", -1, "0 silent, 1 outer iterations, 2 damping trials (overrides config)")
	names := fs.String("problems", "", "comma separated problems to fit (default all)")
	jsonOut := fs.Bool("json", false, "print results as JSON")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitSuccess
		}
		return exitErrorConfig
	}

	cfg, err := loadConfig(*cfgPath, *workers, *verbosity, *names)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitErrorConfig
	}

	log := newLogger(cfg, stderr)
	var prof *profile.Profiler
	if cfg.Profile {
		prof = profile.New("lmbench")
	}

	selected := cfg.Problems
	if len(selected) == 0 {
		selected = problems.Names()
	}

	reports := make([]report, 0, len(selected))
	code := exitSuccess
	for _, name := range selected {
		p, err := problems.Named(name)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return exitErrorConfig
		}

		rep, err := fit(ctx, cfg, p, log.With().Str("problem", name).Logger(), prof)
		switch {
		case err != nil && ctx.Err() != nil:
			log.Warn().Str("problem", name).Msg("canceled")
			return exitCanceled
		case err != nil:
			log.Error().Err(err).Str("problem", name).Msg("fit failed")
			return exitErrorGeneric
		}

		reports = append(reports, rep)
		switch {
		case rep.fatal:
			code = exitErrorGeneric
		case !rep.OK && code == exitSuccess:
			code = exitNotConverged
		}
	}

	if *jsonOut {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(reports); err != nil {
			fmt.Fprintln(stderr, err)
			return exitErrorGeneric
		}
	} else {
		printTable(stdout, reports)
	}

	if prof != nil {
		for _, t := range prof.Snapshot() {
			log.Info().Str("section", t.Name).Dur("total", t.Total).Int("calls", t.Calls).Msg("profile")
		}
	}
	return code
}

func loadConfig(path string, workers, verbosity int, names string) (*config.Config, error) {
	cfg := config.Default()
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}
	if workers > 0 {
		cfg.Workers = workers
	}
	if verbosity >= 0 {
		cfg.Verbosity = verbosity
	}
	if names != "" {
		cfg.Problems = strings.Split(names, ",")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config, w io.Writer) zerolog.Logger {
	level := zerolog.InfoLevel
	if cfg.LogLevel() >= lm.LogInner {
		level = zerolog.DebugLevel
	}
	if cfg.LogFormat == "console" {
		w = zerolog.ConsoleWriter{Out: w, NoColor: true}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// fit solves one problem, in lockstep over cfg.Workers reduction
// participants when more than one is configured.
func fit(ctx context.Context, cfg *config.Config, p problems.Problem, log zerolog.Logger, prof *profile.Profiler) (report, error) {
	newProblem := func(comm collective.Communicator) (*lm.Problem, error) {
		prob := &lm.Problem{
			N: p.N, M: p.M,
			Residual: p.Residual,
			Jacobian: p.Jacobian,
			Stop:     cfg.Stop(),
			Damping:  cfg.Damp(),
			Comm:     comm,
		}
		if prof != nil {
			prob.Profiler = prof
		}
		if nd := cfg.NumDiff; nd != nil {
			method, err := numdiff.ParseMethod(nd.Method)
			if err != nil {
				return nil, err
			}
			approx := numdiff.ApproxSpec{
				N: p.N, M: p.M,
				Object:  p.Residual,
				Method:  method,
				RelStep: nd.RelStep,
				AbsStep: nd.AbsStep,
				Workers: nd.Workers,
			}
			prob.Jacobian = approx.Jacobian()
		}
		return prob, nil
	}

	solve := func(comm collective.Communicator) (*lm.Result, error) {
		prob, err := newProblem(comm)
		if err != nil {
			return nil, err
		}
		o, err := prob.New(&lm.Logger{Level: cfg.LogLevel(), Log: log})
		if err != nil {
			return nil, err
		}
		return o.Fit(p.Start(), o.Init())
	}

	var res *lm.Result
	if cfg.Workers <= 1 {
		var err error
		if res, err = solve(collective.Local); err != nil {
			return report{}, err
		}
	} else {
		eg, gctx := errgroup.WithContext(ctx)
		group, err := collective.NewGroup(gctx, cfg.Workers)
		if err != nil {
			return report{}, err
		}
		results := make([]*lm.Result, cfg.Workers)
		for rank := 0; rank < cfg.Workers; rank++ {
			eg.Go(func() error {
				r, err := solve(group.Member(rank))
				results[rank] = r
				return err
			})
		}
		if err := eg.Wait(); err != nil {
			return report{}, err
		}
		res = results[0]
	}

	return report{
		Problem:   p.Name,
		OK:        res.OK,
		Status:    res.Status.String(),
		Message:   res.Message,
		X:         res.X,
		FNorm2:    res.FNorm2,
		NumIter:   res.NumIter,
		NumEval:   res.NumEval,
		NumReject: res.NumReject,
		fatal:     res.Status.Fatal(),
	}, nil
}

func printTable(w io.Writer, reports []report) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PROBLEM\tSTATUS\tITER\tEVAL\tREJECT\tF_NORM2\tMESSAGE")
	for _, r := range reports {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%.6g\t%s\n",
			r.Problem, r.Status, r.NumIter, r.NumEval, r.NumReject, r.FNorm2, r.Message)
	}
	tw.Flush()
}
