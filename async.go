package xdb

import "context"

// AsyncResult is delivered on the channel returned by ExecuteAsync.
type AsyncResult struct {
	Result *Result
	Err    error
}

// ExecuteAsync runs Execute on its own goroutine and delivers exactly one
// AsyncResult on the returned channel. The Repository lock keeps it from
// overlapping any other call on the same Repository.
func (r *Repository) ExecuteAsync(ctx context.Context) <-chan AsyncResult {
	ch := make(chan AsyncResult, 1)
	go func() {
		res, err := r.Execute(ctx)
		ch <- AsyncResult{Result: res, Err: err}
	}()
	return ch
}

// PrepareAsync runs Prepare on its own goroutine and delivers its error.
func (r *Repository) PrepareAsync(ctx context.Context) <-chan error {
	ch := make(chan error, 1)
	go func() { ch <- r.Prepare(ctx) }()
	return ch
}
