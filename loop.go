package fastslow

import "context"

// Run calls w.Work forever, alternating between Bar (even counter values)
// and Foo (odd counter values), starting with Bar. It only returns once ctx
// is done, together with the number of iterations completed by this call and
// ctx.Err().
//
// ctx is checked between iterations, never inside a leaf routine, so a
// cancellation waits for the current pause or spin to finish. When labels
// are enabled, the leaf routines run under the pprof labels of ctx plus
// their own.
//
// Stats().Iterations counts the iterations of all Run calls on w, so it
// keeps growing when w is run again.
func Run(ctx context.Context, w *Workload) (uint64, error) {
	w.bind(ctx)
	done := ctx.Done()
	var i uint64
	for ; ; i++ {
		select {
		case <-done:
			return i, ctx.Err()
		default:
		}
		w.Work(i%2 == 1)
		w.stats.iterations.Add(1)
	}
}
