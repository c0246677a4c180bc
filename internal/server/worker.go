package server

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/comfycap/comfycap/internal/capture"
)

var errWorkerStopped = errors.New("capture worker stopped")

type jobResult struct {
	res *capture.Result
	err error
}

type job struct {
	fn     func() (*capture.Result, error)
	result chan jobResult
}

// worker runs captures one at a time on a goroutine pinned to its OS thread,
// keeping blocking native calls off the goroutines serving HTTP.
type worker struct {
	jobs chan job
	quit chan struct{}
	once sync.Once
}

func newWorker() *worker {
	return &worker{
		jobs: make(chan job),
		quit: make(chan struct{}),
	}
}

func (w *worker) run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	for {
		select {
		case j := <-w.jobs:
			res, err := w.exec(j.fn)
			j.result <- jobResult{res: res, err: err}
		case <-w.quit:
			return
		}
	}
}

func (w *worker) exec(fn func() (*capture.Result, error)) (res *capture.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("%w: panic during capture: %v", capture.ErrNativeCall, r)
		}
	}()
	return fn()
}

// do hands fn to the worker and waits for its result.
func (w *worker) do(ctx context.Context, fn func() (*capture.Result, error)) (*capture.Result, error) {
	j := job{fn: fn, result: make(chan jobResult, 1)}

	select {
	case w.jobs <- j:
	case <-w.quit:
		return nil, errWorkerStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case r := <-j.result:
		return r.res, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (w *worker) close() {
	w.once.Do(func() { close(w.quit) })
}
