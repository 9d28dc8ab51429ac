package fastslow

import (
	"fmt"
	"math"
	"math/bits"
	"strings"
	"sync/atomic"
	"time"
)

// stats is updated by the goroutine running the workload and read by
// anybody calling Workload.Stats.
type stats struct {
	iterations atomic.Uint64

	fastCalls atomic.Uint64
	fastNanos atomic.Int64
	slowCalls atomic.Uint64
	slowNanos atomic.Int64
	barCalls  atomic.Uint64
	barNanos  atomic.Int64

	fooHist atomicHistogram
	barHist atomicHistogram
}

func (s *stats) recordFoo(slow bool, d time.Duration) {
	s.fooHist.record(d)
	if slow {
		s.slowCalls.Add(1)
		s.slowNanos.Add(int64(d))
	} else {
		s.fastCalls.Add(1)
		s.fastNanos.Add(int64(d))
	}
}

func (s *stats) recordBar(d time.Duration) {
	s.barHist.record(d)
	s.barCalls.Add(1)
	s.barNanos.Add(int64(d))
}

// Stats is a point in time snapshot of what a Workload has done so far.
type Stats struct {
	// Iterations is the value of the dispatch loop counter.
	Iterations uint64

	FastCalls uint64
	FastTime  time.Duration
	SlowCalls uint64
	SlowTime  time.Duration
	BarCalls  uint64
	BarTime   time.Duration

	// FooHist and BarHist are the latency distributions of the two leaf
	// routines. The fast and slow paths of Foo show up as two humps.
	FooHist Histogram
	BarHist Histogram
}

// Stats returns a snapshot of the counters of w. The individual fields are
// read one after another, so a snapshot taken while the loop is running may
// be off by one call.
func (w *Workload) Stats() Stats {
	s := &w.stats
	return Stats{
		Iterations: s.iterations.Load(),
		FastCalls:  s.fastCalls.Load(),
		FastTime:   time.Duration(s.fastNanos.Load()),
		SlowCalls:  s.slowCalls.Load(),
		SlowTime:   time.Duration(s.slowNanos.Load()),
		BarCalls:   s.barCalls.Load(),
		BarTime:    time.Duration(s.barNanos.Load()),
		FooHist:    s.fooHist.load(),
		BarHist:    s.barHist.load(),
	}
}

// FooCalls is the number of calls to Foo.
func (s Stats) FooCalls() uint64 {
	return s.FastCalls + s.SlowCalls
}

// SlowFraction is the fraction of Foo calls that took the slow path, or 0 if
// Foo hasn't been called yet.
func (s Stats) SlowFraction() float64 {
	if s.FooCalls() == 0 {
		return 0
	}
	return float64(s.SlowCalls) / float64(s.FooCalls())
}

// Sub returns the difference between s and an earlier snapshot.
func (s Stats) Sub(prev Stats) Stats {
	return Stats{
		Iterations: s.Iterations - prev.Iterations,
		FastCalls:  s.FastCalls - prev.FastCalls,
		FastTime:   s.FastTime - prev.FastTime,
		SlowCalls:  s.SlowCalls - prev.SlowCalls,
		SlowTime:   s.SlowTime - prev.SlowTime,
		BarCalls:   s.BarCalls - prev.BarCalls,
		BarTime:    s.BarTime - prev.BarTime,
		FooHist:    s.FooHist.Sub(prev.FooHist),
		BarHist:    s.BarHist.Sub(prev.BarHist),
	}
}

func (s Stats) String() string {
	out := fmt.Sprintf(
		"iterations=%d foo.fast=%d/%s foo.slow=%d/%s slow_fraction=%.3f bar=%d/%s",
		s.Iterations,
		s.FastCalls, mean(s.FastTime, s.FastCalls),
		s.SlowCalls, mean(s.SlowTime, s.SlowCalls),
		s.SlowFraction(),
		s.BarCalls, mean(s.BarTime, s.BarCalls),
	)
	if !s.FooHist.Empty() {
		out += " foo.hist=" + s.FooHist.String()
	}
	if !s.BarHist.Empty() {
		out += " bar.hist=" + s.BarHist.String()
	}
	return out
}

// mean formats the average duration of n calls that took d in total.
func mean(d time.Duration, n uint64) time.Duration {
	if n == 0 {
		return 0
	}
	return (d / time.Duration(n)).Round(time.Microsecond)
}

// Histogram counts durations in power of two buckets of nanoseconds, like
// bpftrace's hist(). Bucket 0 holds zero durations, bucket k > 0 holds
// durations in [2^(k-1), 2^k).
type Histogram [64]uint64

// bucketOf returns the index of the bucket d falls into. Negative durations
// count as zero.
func bucketOf(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return bits.Len64(uint64(d))
}

// BucketBounds returns the half open range [lo, hi) covered by bucket k.
func BucketBounds(k int) (lo, hi time.Duration) {
	if k == 0 {
		return 0, 1
	}
	lo = time.Duration(uint64(1) << (k - 1))
	if k == 63 {
		return lo, time.Duration(math.MaxInt64)
	}
	return lo, time.Duration(uint64(1) << k)
}

// Bucket returns the count of the bucket d falls into.
func (h Histogram) Bucket(d time.Duration) uint64 {
	return h[bucketOf(d)]
}

// Empty reports whether nothing was recorded.
func (h Histogram) Empty() bool {
	return h == Histogram{}
}

// Sub returns the bucket wise difference between h and an earlier snapshot.
func (h Histogram) Sub(prev Histogram) Histogram {
	var out Histogram
	for i := range h {
		out[i] = h[i] - prev[i]
	}
	return out
}

// String lists the non-empty buckets, e.g. "[524µs,1.049ms):9 [8.389ms,16.777ms):1".
func (h Histogram) String() string {
	var b strings.Builder
	for k, n := range h {
		if n == 0 {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		lo, hi := BucketBounds(k)
		fmt.Fprintf(&b, "[%s,%s):%d", lo.Round(time.Microsecond), hi.Round(time.Microsecond), n)
	}
	return b.String()
}

type atomicHistogram [64]atomic.Uint64

func (h *atomicHistogram) record(d time.Duration) {
	h[bucketOf(d)].Add(1)
}

func (h *atomicHistogram) load() Histogram {
	var out Histogram
	for i := range h {
		out[i] = h[i].Load()
	}
	return out
}
