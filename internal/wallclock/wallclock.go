// Package wallclock is a sampling goroutine profiler that captures On-CPU
// as well as Off-CPU (http://www.brendangregg.com/offcpuanalysis.html) time
// together. A busy loop and a sleep of the same length show up with the same
// weight, which the builtin CPU profiler can't do.
package wallclock

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"runtime"
	"runtime/pprof"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/pprof/profile"
)

// Format decides how the collected stacks are written out.
type Format string

const (
	// FormatFolded is Brendan Gregg's folded stack format, one
	// "frame;frame;frame count" line per stack, suitable for flamegraph.pl.
	FormatFolded Format = "folded"
	// FormatPprof is a gzipped pprof protobuf with a wall/nanoseconds
	// sample type.
	FormatPprof Format = "pprof"
)

// ErrUnknownFormat is returned for formats other than FormatFolded and
// FormatPprof.
var ErrUnknownFormat = errors.New("unknown format")

// ParseFormat validates s as a Format.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatFolded, FormatPprof:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
}

// hz is slightly off from the 100hz of the Go CPU profiler, which might be
// less likely to result in accidental synchronization with the program
// being profiled.
const hz = 99

// Start begins sampling the goroutines of the program and returns a function
// that stops sampling and writes the profile to w in the given format. Only
// the first call of the stop function writes, later calls return the same
// error.
func Start(w io.Writer, format Format) func() error {
	startTime := time.Now()
	ticker := time.NewTicker(time.Second / hz)
	stopCh := make(chan struct{})
	doneCh := make(chan struct{})
	s := &sampler{}
	set := newStackSet()

	var (
		sampleCount int64
		sampleErr   error
	)
	go func() {
		defer close(doneCh)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				p, err := s.sample()
				if err != nil {
					sampleErr = err
					return
				}
				sampleCount++
				set.add(p, s.selfFunction())
			case <-stopCh:
				return
			}
		}
	}()

	var (
		stopOnce sync.Once
		stopErr  error
	)
	return func() error {
		stopOnce.Do(func() {
			close(stopCh)
			<-doneCh
			endTime := time.Now()
			if sampleErr != nil {
				stopErr = fmt.Errorf("sample goroutines: %w", sampleErr)
				return
			}

			// The ticker drops ticks when sampling falls behind, so the
			// effective rate is derived from what actually happened.
			duration := endTime.Sub(startTime)
			rate := int64(math.Round(float64(sampleCount) / duration.Seconds()))
			if rate < 1 {
				rate = 1
			}

			switch format {
			case FormatFolded:
				stopErr = set.writeFolded(w)
			case FormatPprof:
				stopErr = set.toPprof(rate, startTime, endTime).Write(w)
			default:
				stopErr = fmt.Errorf("%w: %q", ErrUnknownFormat, format)
			}
		})
		return stopErr
	}
}

// sampler takes goroutine profiles from the runtime. The protobuf form of
// the goroutine profile is used because it is the only one carrying the
// pprof labels of every goroutine.
type sampler struct {
	buf       bytes.Buffer
	selfFrame *runtime.Frame
}

// sample returns the stacks and label sets of all goroutines, running or
// waiting, with one sample per distinct (stack, labels) pair and the number
// of goroutines sharing it as value.
func (s *sampler) sample() (*profile.Profile, error) {
	if s.selfFrame == nil {
		// Determine the runtime.Frame of this func so the sampling goroutine
		// can be hidden from the output.
		rpc := make([]uintptr, 1)
		n := runtime.Callers(1, rpc)
		if n < 1 {
			panic("could not determine selfFrame")
		}
		selfFrame, _ := runtime.CallersFrames(rpc).Next()
		s.selfFrame = &selfFrame
	}

	s.buf.Reset()
	if err := pprof.Lookup("goroutine").WriteTo(&s.buf, 0); err != nil {
		return nil, err
	}
	return profile.Parse(&s.buf)
}

// selfFunction is the name of the function whose stacks are left out of the
// output.
func (s *sampler) selfFunction() string {
	if s.selfFrame == nil {
		return ""
	}
	return s.selfFrame.Function
}

// stackSet accumulates samples. Functions and locations are interned into
// the output profile's tables the first time they are seen, so exporting
// only has to emit samples.
type stackSet struct {
	stacks    map[string]*stack
	mapping   *profile.Mapping
	functions map[funcKey]*profile.Function
	locations map[locKey]*profile.Location
	funcList  []*profile.Function
	locList   []*profile.Location
}

type funcKey struct {
	name, file string
}

type locKey struct {
	fn   funcKey
	line int64
}

// stack is a call stack, leaf first, with one count per distinct label set
// seen on it.
type stack struct {
	locs []*profile.Location
	dims map[string]*dimension
}

type dimension struct {
	labels map[string][]string
	count  int64
}

func newStackSet() *stackSet {
	return &stackSet{
		stacks:    map[string]*stack{},
		mapping:   &profile.Mapping{ID: 1, HasFunctions: true},
		functions: map[funcKey]*profile.Function{},
		locations: map[locKey]*profile.Location{},
	}
}

// location returns the interned location of one frame of a sampled stack.
// Inlined frames are flattened, every location has exactly one line.
func (set *stackSet) location(name, file string, line int64) *profile.Location {
	fk := funcKey{name: name, file: file}
	lk := locKey{fn: fk, line: line}
	if loc, ok := set.locations[lk]; ok {
		return loc
	}
	fn, ok := set.functions[fk]
	if !ok {
		fn = &profile.Function{
			ID:         uint64(len(set.funcList)) + 1,
			Name:       name,
			SystemName: name,
			Filename:   file,
		}
		set.functions[fk] = fn
		set.funcList = append(set.funcList, fn)
	}
	loc := &profile.Location{
		ID:      uint64(len(set.locList)) + 1,
		Mapping: set.mapping,
		Line:    []profile.Line{{Function: fn, Line: line}},
	}
	set.locations[lk] = loc
	set.locList = append(set.locList, loc)
	return loc
}

// add counts the goroutines of one goroutine profile. Stacks containing a
// frame of the function named ignore are skipped.
func (set *stackSet) add(p *profile.Profile, ignore string) {
	var key strings.Builder
nextSample:
	for _, sample := range p.Sample {
		key.Reset()
		var locs []*profile.Location
		for _, loc := range sample.Location {
			// Line[0] is the innermost of the functions inlined at loc.
			for _, line := range loc.Line {
				var name, file string
				if line.Function != nil {
					name, file = line.Function.Name, line.Function.Filename
				}
				if ignore != "" && name == ignore {
					continue nextSample
				}
				out := set.location(name, file, line.Line)
				locs = append(locs, out)
				fmt.Fprintf(&key, "%d;", out.ID)
			}
		}

		st, ok := set.stacks[key.String()]
		if !ok {
			st = &stack{locs: locs, dims: map[string]*dimension{}}
			set.stacks[key.String()] = st
		}
		var n int64 = 1
		if len(sample.Value) > 0 {
			n = sample.Value[0]
		}
		st.add(sample.Label, n)
	}
}

func (st *stack) add(labels map[string][]string, n int64) {
	k := labelKey(labels)
	d, ok := st.dims[k]
	if !ok {
		d = &dimension{labels: labels}
		st.dims[k] = d
	}
	d.count += n
}

// functionNames returns the function of every frame of st, leaf first.
func (st *stack) functionNames() []string {
	names := make([]string, len(st.locs))
	for i, loc := range st.locs {
		names[i] = loc.Line[0].Function.Name
	}
	return names
}

// sortedDims returns the dimensions of st ordered by label key.
func (st *stack) sortedDims() []*dimension {
	keys := make([]string, 0, len(st.dims))
	for k := range st.dims {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	dims := make([]*dimension, 0, len(keys))
	for _, k := range keys {
		dims = append(dims, st.dims[k])
	}
	return dims
}

// total is the number of samples seen on st across all label sets.
func (st *stack) total() int64 {
	var n int64
	for _, d := range st.dims {
		n += d.count
	}
	return n
}

// labelKey returns a canonical string for a label set, empty for no labels.
func labelKey(m map[string][]string) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte(':')
		b.WriteString(strings.Join(m[k], ","))
		b.WriteByte(';')
	}
	return b.String()
}

// sortedStacks returns all stacks in a stable order.
func (set *stackSet) sortedStacks() []*stack {
	keys := make([]string, 0, len(set.stacks))
	for k := range set.stacks {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	stacks := make([]*stack, 0, len(keys))
	for _, k := range keys {
		stacks = append(stacks, set.stacks[k])
	}
	return stacks
}

// writeFolded writes one line per distinct stack, root first, sorted so
// that the output is stable.
func (set *stackSet) writeFolded(w io.Writer) error {
	counts := map[string]int64{}
	for _, st := range set.stacks {
		names := st.functionNames()
		slices.Reverse(names)
		counts[strings.Join(names, ";")] += st.total()
	}
	return writeFoldedCounts(w, counts)
}

func writeFoldedCounts(w io.Writer, counts map[string]int64) error {
	lines := make([]string, 0, len(counts))
	for line := range counts {
		lines = append(lines, line)
	}
	sort.Strings(lines)
	for _, line := range lines {
		if _, err := fmt.Fprintf(w, "%s %d\n", line, counts[line]); err != nil {
			return err
		}
	}
	return nil
}

// toPprof emits one sample per stack and label set, weighted by the sampling
// period. The profile shares the interned tables of set and must not be
// modified.
func (set *stackSet) toPprof(rate int64, startTime, endTime time.Time) *profile.Profile {
	period := int64(1e9 / rate)
	prof := &profile.Profile{
		Period:        period,
		TimeNanos:     startTime.UnixNano(),
		DurationNanos: int64(endTime.Sub(startTime)),
		Mapping:       []*profile.Mapping{set.mapping},
		Function:      set.funcList,
		Location:      set.locList,
		SampleType:    []*profile.ValueType{{Type: "wall", Unit: "nanoseconds"}},
		PeriodType:    &profile.ValueType{Type: "wall", Unit: "nanoseconds"},
	}
	for _, st := range set.sortedStacks() {
		for _, d := range st.sortedDims() {
			prof.Sample = append(prof.Sample, &profile.Sample{
				Location: st.locs,
				Value:    []int64{period * d.count},
				Label:    d.labels,
			})
		}
	}
	return prof
}
