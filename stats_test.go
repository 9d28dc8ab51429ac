package fastslow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStatsSlowFraction(t *testing.T) {
	require.Zero(t, Stats{}.SlowFraction())
	require.Equal(t, 0.25, Stats{FastCalls: 3, SlowCalls: 1}.SlowFraction())
}

func TestStatsSub(t *testing.T) {
	prev := Stats{Iterations: 4, FastCalls: 1, FastTime: time.Millisecond, BarCalls: 2, BarTime: 4 * time.Millisecond}
	cur := Stats{Iterations: 10, FastCalls: 3, FastTime: 3 * time.Millisecond, SlowCalls: 1, SlowTime: 10 * time.Millisecond, BarCalls: 5, BarTime: 10 * time.Millisecond}

	d := cur.Sub(prev)
	require.Equal(t, Stats{
		Iterations: 6,
		FastCalls:  2,
		FastTime:   2 * time.Millisecond,
		SlowCalls:  1,
		SlowTime:   10 * time.Millisecond,
		BarCalls:   3,
		BarTime:    6 * time.Millisecond,
	}, d)
}

func TestStatsString(t *testing.T) {
	s := Stats{
		Iterations: 8,
		FastCalls:  3,
		FastTime:   3300 * time.Microsecond,
		SlowCalls:  1,
		SlowTime:   10 * time.Millisecond,
		BarCalls:   4,
		BarTime:    2 * time.Millisecond,
	}
	want := "iterations=8 foo.fast=3/1.1ms foo.slow=1/10ms slow_fraction=0.250 bar=4/500µs"
	require.Equal(t, want, s.String())
}

func TestHistogramSeparatesFastAndSlowPaths(t *testing.T) {
	var s stats
	for i := 0; i < 9; i++ {
		s.recordFoo(false, time.Millisecond)
	}
	s.recordFoo(true, 10*time.Millisecond)
	s.recordBar(300 * time.Microsecond)

	h := s.fooHist.load()

	fast := bucketOf(time.Millisecond)
	slow := bucketOf(10 * time.Millisecond)
	require.NotEqual(t, fast, slow)
	require.Equal(t, uint64(9), h[fast])
	require.Equal(t, uint64(1), h[slow])
	require.Equal(t, uint64(9), h.Bucket(1040*time.Microsecond))
	require.Equal(t, uint64(1), h.Bucket(12*time.Millisecond))
	require.Equal(t, "[524µs,1.049ms):9 [8.389ms,16.777ms):1", h.String())
	require.Equal(t, uint64(1), s.barHist.load().Bucket(300*time.Microsecond))
}

func TestBucketBounds(t *testing.T) {
	for _, d := range []time.Duration{0, 1, 2, 3, 999, time.Millisecond, time.Hour, 1<<63 - 1} {
		lo, hi := BucketBounds(bucketOf(d))
		require.GreaterOrEqual(t, d, lo, "d=%d", d)
		if d < 1<<63-1 {
			require.Less(t, d, hi, "d=%d", d)
		}
	}
	require.Zero(t, bucketOf(-time.Second))
}

func TestStatsHistogramInReport(t *testing.T) {
	w := New(DefaultConfig(), WithSleeper(func(time.Duration) {}))
	w.stats.recordFoo(false, time.Millisecond)
	w.stats.recordFoo(true, 10*time.Millisecond)
	prev := w.Stats()
	w.stats.recordFoo(true, 10*time.Millisecond)

	d := w.Stats().Sub(prev)
	require.True(t, d.BarHist.Empty())
	require.Equal(t, "[8.389ms,16.777ms):1", d.FooHist.String())
	require.Contains(t, w.Stats().String(), " foo.hist=[524µs,1.049ms):1 [8.389ms,16.777ms):2")
	require.NotContains(t, w.Stats().String(), "bar.hist")
}
