package upload

import (
	"context"
	"errors"
	"sync"

	"crease/internal/analysis"
)

// ErrPending is returned by Outcome.Result before the outcome settles.
var ErrPending = errors.New("upload outcome pending")

// Outcome is the eventual result of one upload attempt. It settles once;
// later settle calls are no-ops.
type Outcome struct {
	uploadID string

	once   sync.Once
	done   chan struct{}
	result *analysis.Result
	err    error
}

func newOutcome(uploadID string) *Outcome {
	return &Outcome{uploadID: uploadID, done: make(chan struct{})}
}

// settle records the result and reports whether this call was the one that
// settled the outcome.
func (o *Outcome) settle(result *analysis.Result, err error) bool {
	settled := false
	o.once.Do(func() {
		o.result = result
		o.err = err
		settled = true
		close(o.done)
	})
	return settled
}

// UploadID identifies the attempt this outcome belongs to.
func (o *Outcome) UploadID() string {
	return o.uploadID
}

// Done is closed once the outcome settles.
func (o *Outcome) Done() <-chan struct{} {
	return o.done
}

// Settled reports whether the outcome has settled.
func (o *Outcome) Settled() bool {
	select {
	case <-o.done:
		return true
	default:
		return false
	}
}

// Result returns the settled result, or ErrPending when still running.
func (o *Outcome) Result() (*analysis.Result, error) {
	if !o.Settled() {
		return nil, ErrPending
	}
	return o.result, o.err
}

// Wait blocks until the outcome settles or ctx ends.
func (o *Outcome) Wait(ctx context.Context) (*analysis.Result, error) {
	select {
	case <-o.done:
		return o.result, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
