// Command fastslow runs the fast/slow workload until it is killed or
// interrupted. By default it takes no flags and needs no environment.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/felixge/fastslow"
	"github.com/felixge/fastslow/internal/config"
)

func main() {
	log.SetPrefix("[fastslow] ")
	cfg, err := config.Parse(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("parse config: %v", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatalf("run: %v", err)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	seed, err := cfg.ResolveSeed()
	if err != nil {
		return err
	}
	w := fastslow.New(cfg.WorkloadConfig(seed))
	log.Printf("seed=%d short=%s long=%s slow_odds=1/%d spins=%d", seed, w.Config().ShortPause, w.Config().LongPause(), w.Config().SlowOdds, w.Config().Spins)

	err = runAll(ctx, cfg, w)
	log.Printf("stopped: %s", w.Stats())
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
