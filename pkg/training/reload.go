package training

import (
	"context"
	"errors"
	"time"
)

const DefaultLoadTimeout = 30 * time.Second

type (
	LoadFunc func(ctx context.Context) (Dataset, error)
	RunFunc  func(ctx context.Context, data Dataset) (Result, error)
)

// WithReload loads a dataset and runs the round on it. A failed load, or a
// round that fails reading the dataset, gets exactly one reload within
// timeout before the error is returned.
func WithReload(ctx context.Context, timeout time.Duration, load LoadFunc, run RunFunc) (Result, error) {
	if timeout <= 0 {
		timeout = DefaultLoadTimeout
	}

	data, err := loadWithin(ctx, timeout, load)
	reloaded := false
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, fail(StageLoad, 0, err)
		}
		reloaded = true
		if data, err = loadWithin(ctx, timeout, load); err != nil {
			return Result{}, fail(StageLoad, 0, err)
		}
	}

	res, err := run(ctx, data)
	if err == nil || reloaded || ctx.Err() != nil || !IsDatasetFailure(err) {
		return res, err
	}

	if data, err = loadWithin(ctx, timeout, load); err != nil {
		return Result{}, fail(StageLoad, 0, err)
	}

	return run(ctx, data)
}

func loadWithin(ctx context.Context, timeout time.Duration, load LoadFunc) (Dataset, error) {
	lctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type loaded struct {
		data Dataset
		err  error
	}
	done := make(chan loaded, 1)
	go func() {
		data, err := load(lctx)
		done <- loaded{data: data, err: err}
	}()

	select {
	case l := <-done:
		if l.err == nil && l.data == nil {
			return nil, ErrEmptyDataset
		}

		return l.data, l.err
	case <-lctx.Done():
		return nil, errors.Join(errors.New("dataset load timed out"), lctx.Err())
	}
}
