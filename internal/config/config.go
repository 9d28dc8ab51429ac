// Package config loads the fastslow command configuration from the
// environment and command line flags.
package config

import (
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/felixge/fastslow"
)

// ErrInvalid is wrapped by all validation errors.
var ErrInvalid = errors.New("invalid config")

// Config holds the command configuration. Environment variables provide the
// defaults, flags override them.
type Config struct {
	Seed           uint64        `env:"FASTSLOW_SEED" envDefault:"1"`
	RandomSeed     bool          `env:"FASTSLOW_RANDOM_SEED" envDefault:"false"`
	ShortPause     time.Duration `env:"FASTSLOW_SHORT_PAUSE" envDefault:"1ms"`
	SlowFactor     int           `env:"FASTSLOW_SLOW_FACTOR" envDefault:"10"`
	SlowOdds       int           `env:"FASTSLOW_SLOW_ODDS" envDefault:"10"`
	Spins          int           `env:"FASTSLOW_SPINS" envDefault:"1000000"`
	Labels         bool          `env:"FASTSLOW_LABELS" envDefault:"true"`
	ProfileAddr    string        `env:"FASTSLOW_PROFILE_ADDR"`
	ReportInterval time.Duration `env:"FASTSLOW_REPORT_INTERVAL" envDefault:"0s"`
}

// Parse loads environment defaults into a Config and then applies the flags
// found in args.
func Parse(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	fs.Uint64Var(&cfg.Seed, "seed", cfg.Seed, "Seed for the fast/slow path PRNG")
	fs.BoolVar(&cfg.RandomSeed, "random-seed", cfg.RandomSeed, "Seed the PRNG from crypto/rand instead of -seed")
	fs.DurationVar(&cfg.ShortPause, "short-pause", cfg.ShortPause, "Pause of the fast path")
	fs.IntVar(&cfg.SlowFactor, "slow-factor", cfg.SlowFactor, "Slow path pause as a multiple of -short-pause")
	fs.IntVar(&cfg.SlowOdds, "slow-odds", cfg.SlowOdds, "One in this many calls take the slow path")
	fs.IntVar(&cfg.Spins, "spins", cfg.Spins, "No-op iterations per busy loop call")
	fs.BoolVar(&cfg.Labels, "labels", cfg.Labels, "Run leaf routines under pprof labels")
	fs.StringVar(&cfg.ProfileAddr, "profile-addr", cfg.ProfileAddr, "Listen address of the debug server, empty to disable")
	fs.DurationVar(&cfg.ReportInterval, "report-interval", cfg.ReportInterval, "How often to log stats, 0 to disable")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports settings the workload can't run with.
func (c Config) Validate() error {
	var errs []error
	if c.ShortPause <= 0 {
		errs = append(errs, fmt.Errorf("%w: short pause must be positive, got %s", ErrInvalid, c.ShortPause))
	}
	if c.SlowFactor <= 0 {
		errs = append(errs, fmt.Errorf("%w: slow factor must be positive, got %d", ErrInvalid, c.SlowFactor))
	}
	if c.SlowOdds <= 0 {
		errs = append(errs, fmt.Errorf("%w: slow odds must be positive, got %d", ErrInvalid, c.SlowOdds))
	}
	if c.Spins < 0 {
		errs = append(errs, fmt.Errorf("%w: spins must not be negative, got %d", ErrInvalid, c.Spins))
	}
	if c.ReportInterval < 0 {
		errs = append(errs, fmt.Errorf("%w: report interval must not be negative, got %s", ErrInvalid, c.ReportInterval))
	}
	return errors.Join(errs...)
}

// WorkloadConfig returns the workload settings, using seed for the PRNG.
func (c Config) WorkloadConfig(seed uint64) fastslow.Config {
	return fastslow.Config{
		Seed:       seed,
		ShortPause: c.ShortPause,
		SlowFactor: c.SlowFactor,
		SlowOdds:   c.SlowOdds,
		Spins:      c.Spins,
		Labels:     c.Labels,
	}
}
