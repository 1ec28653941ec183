package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffval"
	"golang.org/x/sync/errgroup"

	"github.com/peterbourgon/trclog/internal/trcutil"
)

type runConfig struct {
	*rootConfig

	workers     int
	jobs        int
	failureRate float64
	seed        uint64
	linger      bool
}

func (cfg *runConfig) register(fs *ff.FlagSet) {
	fs.AddFlag(ff.FlagConfig{ShortName: 'w', LongName: "workers" /*       */, Value: ffval.NewValueDefault(&cfg.workers, 4) /*        */, Usage: "concurrent workers", Placeholder: "N"})
	fs.AddFlag(ff.FlagConfig{ShortName: 'j', LongName: "jobs" /*          */, Value: ffval.NewValueDefault(&cfg.jobs, 100) /*         */, Usage: "total jobs to run", Placeholder: "N"})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "failure-rate" /*  */, Value: ffval.NewValueDefault(&cfg.failureRate, 0.1) /*  */, Usage: "fraction of jobs that fail", Placeholder: "RATE"})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "seed" /*          */, Value: ffval.NewValueDefault(&cfg.seed, 1) /*           */, Usage: "random seed for job generation", Placeholder: "N"})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "linger" /*        */, Value: ffval.NewValue(&cfg.linger) /*                   */, Usage: "keep running after the jobs complete, until interrupted"})
}

func (cfg *runConfig) Exec(ctx context.Context, args []string) error {
	if cfg.workers <= 0 {
		return fmt.Errorf("--workers must be positive")
	}
	if cfg.failureRate < 0 || cfg.failureRate > 1 {
		return fmt.Errorf("--failure-rate must be between 0 and 1")
	}

	var g run.Group

	// Workload.
	{
		ctx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			if err := cfg.workload(ctx); err != nil {
				return err
			}
			if cfg.linger {
				<-ctx.Done()
				return ctx.Err()
			}
			return nil
		}, func(error) {
			cancel()
		})
	}

	// Janitor.
	{
		ctx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			return cfg.janitor(ctx)
		}, func(error) {
			cancel()
		})
	}

	// Signal handler.
	{
		g.Add(run.SignalHandler(ctx, syscall.SIGINT, syscall.SIGTERM))
	}

	err := g.Run()
	cfg.printStats()
	return err
}

func (cfg *runConfig) workload(ctx context.Context) error {
	var (
		calc      = newCalculator(cfg.tracer, cfg.reporter)
		exprs     = generateExprs(cfg.jobs, cfg.failureRate, cfg.seed)
		failed    atomic.Uint64
		begin     = time.Now()
		group, gc = errgroup.WithContext(ctx)
	)

	group.SetLimit(cfg.workers)

	for i, expr := range exprs {
		if gc.Err() != nil {
			break
		}

		job, expr := i+1, expr
		group.Go(func() error {
			ctx, release := cfg.registry.Begin(gc)
			defer release()

			q, err := calc.eval(ctx, expr)
			if err != nil {
				failed.Add(1)
				cfg.reporter.Error(ctx, "job failed", err, "job", job, "expr", expr)
				return nil
			}

			cfg.reporter.Info(ctx, "job complete", "job", job, "expr", expr, "result", q)
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return err
	}

	cfg.info.Printf("ran %d job(s), %d failed, in %s", len(exprs), failed.Load(), trcutil.HumanizeDuration(time.Since(begin)))
	cfg.debug.Printf("live execution contexts %d", cfg.registry.Len())

	return ctx.Err()
}

// generateExprs returns n division expressions. Roughly the given fraction of
// them fail, in one of three ways: division by zero, a malformed expression,
// or a negative quotient.
func generateExprs(n int, failureRate float64, seed uint64) []string {
	rng := rand.New(rand.NewPCG(seed, seed))
	exprs := make([]string, n)
	for i := range exprs {
		a, b := rng.IntN(1000), rng.IntN(99)+1
		if rng.Float64() < failureRate {
			switch rng.IntN(3) {
			case 0:
				b = 0
			case 1:
				exprs[i] = fmt.Sprintf("%d÷%d", a, b)
				continue
			case 2:
				a = -a - 1
			}
		}
		exprs[i] = fmt.Sprintf("%d/%d", a, b)
	}
	return exprs
}
