package config

import (
	"flag"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/felixge/fastslow"
)

func newFlagSet() *flag.FlagSet {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse(newFlagSet(), nil)
	require.NoError(t, err)

	want := fastslow.DefaultConfig()
	want.Labels = true
	require.Equal(t, want, cfg.WorkloadConfig(cfg.Seed))
	require.Empty(t, cfg.ProfileAddr)
	require.Zero(t, cfg.ReportInterval)
	require.False(t, cfg.RandomSeed)
}

func TestParseEnvAndFlags(t *testing.T) {
	t.Setenv("FASTSLOW_SEED", "42")
	t.Setenv("FASTSLOW_SHORT_PAUSE", "2ms")
	t.Setenv("FASTSLOW_PROFILE_ADDR", "localhost:6060")
	t.Setenv("FASTSLOW_LABELS", "false")

	cfg, err := Parse(newFlagSet(), []string{"-short-pause", "3ms", "-slow-odds", "4", "-report-interval", "5s"})
	require.NoError(t, err)

	require.Equal(t, uint64(42), cfg.Seed)
	require.Equal(t, 3*time.Millisecond, cfg.ShortPause)
	require.Equal(t, 4, cfg.SlowOdds)
	require.Equal(t, 10, cfg.SlowFactor)
	require.Equal(t, "localhost:6060", cfg.ProfileAddr)
	require.Equal(t, 5*time.Second, cfg.ReportInterval)
	require.False(t, cfg.Labels)
}

func TestParseBadEnv(t *testing.T) {
	t.Setenv("FASTSLOW_SPINS", "many")
	_, err := Parse(newFlagSet(), nil)
	require.Error(t, err)
}

func TestParseInvalid(t *testing.T) {
	for _, args := range [][]string{
		{"-short-pause", "0s"},
		{"-slow-factor", "0"},
		{"-slow-odds", "-1"},
		{"-spins", "-5"},
		{"-report-interval", "-1s"},
	} {
		_, err := Parse(newFlagSet(), args)
		require.ErrorIs(t, err, ErrInvalid, "args %v", args)
	}
}

func TestParseUnknownFlag(t *testing.T) {
	_, err := Parse(newFlagSet(), []string{"-nope"})
	require.Error(t, err)
}

func TestResolveSeed(t *testing.T) {
	seed, err := Config{Seed: 7}.ResolveSeed()
	require.NoError(t, err)
	require.Equal(t, uint64(7), seed)

	a, err := Config{Seed: 7, RandomSeed: true}.ResolveSeed()
	require.NoError(t, err)
	b, err := Config{Seed: 7, RandomSeed: true}.ResolveSeed()
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}
