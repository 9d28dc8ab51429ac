// Package fastslow implements a profiling target: a loop that alternates
// between a routine with a bimodal sleep latency (fast path / slow path) and
// a CPU-bound busy loop. It's meant to be looked at with On-CPU, Off-CPU and
// wall-clock profilers, so the call structure Run -> Work -> Foo|Bar is kept
// visible in stack traces.
package fastslow

import (
	"context"
	"math/rand/v2"
	"runtime/pprof"
	"time"
)

const (
	defaultShortPause = time.Millisecond
	defaultSlowFactor = 10
	defaultSlowOdds   = 10
	defaultSpins      = 1000000
	defaultSeed       = 1
)

// Config controls the shape of the workload. The zero value is not useful,
// start from DefaultConfig.
type Config struct {
	// Seed for the PRNG that picks between the fast and the slow path. The
	// same seed always produces the same sequence of paths.
	Seed uint64
	// ShortPause is how long Foo sleeps on the fast path.
	ShortPause time.Duration
	// SlowFactor multiplies ShortPause for the slow path.
	SlowFactor int
	// SlowOdds means one in SlowOdds calls to Foo take the slow path. Must
	// be positive.
	SlowOdds int
	// Spins is the number of no-op iterations performed by Bar.
	Spins int
	// Labels runs every leaf call under pprof labels identifying it.
	Labels bool
}

// DefaultConfig returns a 1ms/10ms fast/slow split with 1 in 10 calls being
// slow, and a one million iteration busy loop.
func DefaultConfig() Config {
	return Config{
		Seed:       defaultSeed,
		ShortPause: defaultShortPause,
		SlowFactor: defaultSlowFactor,
		SlowOdds:   defaultSlowOdds,
		Spins:      defaultSpins,
	}
}

// LongPause is the duration of the slow path.
func (c Config) LongPause() time.Duration {
	return c.ShortPause * time.Duration(c.SlowFactor)
}

// Option customizes a Workload.
type Option func(*Workload)

// WithSleeper replaces time.Sleep. Tests use it to count or skip pauses.
func WithSleeper(sleep func(time.Duration)) Option {
	return func(w *Workload) {
		w.sleep = sleep
	}
}

// Workload holds the state needed by the leaf routines. It is not safe for
// concurrent use, except for Stats which may be called from any goroutine.
type Workload struct {
	cfg   Config
	rng   *rand.Rand
	sleep func(time.Duration)
	stats stats

	// base holds the labels of the caller, restored after every leaf call.
	// The leaf label sets are derived from it.
	base    context.Context
	fooFast context.Context
	fooSlow context.Context
	barCtx  context.Context
}

// New returns a Workload for cfg.
func New(cfg Config, opts ...Option) *Workload {
	w := &Workload{
		cfg:   cfg,
		rng:   rand.New(rand.NewPCG(cfg.Seed, cfg.Seed)),
		sleep: time.Sleep,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.bind(context.Background())
	return w
}

// bind makes ctx the label context of the leaf calls: they run under the
// labels of ctx plus their own, and return to exactly the labels of ctx.
func (w *Workload) bind(ctx context.Context) {
	w.base = ctx
	if !w.cfg.Labels {
		return
	}
	// Label sets are built once, pprof.SetGoroutineLabels only swaps a
	// pointer afterwards.
	w.fooFast = pprof.WithLabels(ctx, pprof.Labels("routine", "foo", "path", "fast"))
	w.fooSlow = pprof.WithLabels(ctx, pprof.Labels("routine", "foo", "path", "slow"))
	w.barCtx = pprof.WithLabels(ctx, pprof.Labels("routine", "bar"))
}

// Config returns the configuration w was created with.
func (w *Workload) Config() Config {
	return w.cfg
}

// Work calls Foo if callFoo is true and Bar otherwise.
//
//go:noinline
func (w *Workload) Work(callFoo bool) {
	if callFoo {
		w.Foo()
	} else {
		w.Bar()
	}
}

// Foo sleeps for ShortPause (fast path) or, one in SlowOdds calls, for
// ShortPause*SlowFactor (slow path). It reports whether the slow path was
// taken.
//
//go:noinline
func (w *Workload) Foo() (slow bool) {
	slow = w.rng.IntN(w.cfg.SlowOdds) == 0
	d := w.cfg.ShortPause
	if slow {
		d = w.cfg.LongPause()
	}
	if w.cfg.Labels {
		if slow {
			defer w.withLabels(w.fooSlow)()
		} else {
			defer w.withLabels(w.fooFast)()
		}
	}

	start := time.Now()
	w.sleep(d)
	w.stats.recordFoo(slow, time.Since(start))
	return slow
}

// Bar spins through Spins no-op iterations and returns how many it did.
//
//go:noinline
func (w *Workload) Bar() int {
	if w.cfg.Labels {
		defer w.withLabels(w.barCtx)()
	}

	start := time.Now()
	n := spin(w.cfg.Spins)
	w.stats.recordBar(time.Since(start))
	return n
}

// spin is kept out of line so the loop shows up as its own frame in
// profiles and can't be folded into the caller.
//
//go:noinline
func spin(n int) int {
	i := 0
	for ; i < n; i++ {
	}
	return i
}

// withLabels sets the goroutine labels carried by ctx and returns a func
// restoring the labels of the bound context.
func (w *Workload) withLabels(ctx context.Context) func() {
	pprof.SetGoroutineLabels(ctx)
	return func() {
		pprof.SetGoroutineLabels(w.base)
	}
}
