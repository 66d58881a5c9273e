package refpack

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

type job[T any] struct {
	seqNum int
	v      T
}

type result[T any] struct {
	seqNum int
	v      T
}

// worker transforms one job. done releases per-worker state.
type worker[J, R any] struct {
	work func(J) (R, error)
	done func()
}

// runOrdered passes every job emitted by produce through a worker and hands
// the results to deliver in emission order. With one worker everything runs
// on the calling goroutine.
func runOrdered[J, R any](
	ctx context.Context,
	workers int,
	produce func(ctx context.Context, emit func(J) error) error,
	newWorker func() (worker[J, R], error),
	deliver func(R) error,
) error {
	// Single worker path (simpler, no goroutine overhead)
	if workers == 1 {
		wk, err := newWorker()
		if err != nil {
			return err
		}
		defer wk.done()
		seqNum := 0
		return produce(ctx, func(v J) error {
			r, err := wk.work(v)
			if err != nil {
				return fmt.Errorf("block %d: %w", seqNum, err)
			}
			seqNum++
			return deliver(r)
		})
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan job[J], workers*2)
	results := make(chan result[R], workers*2)

	g, gctx := errgroup.WithContext(ctx)

	// Start workers
	for range workers {
		g.Go(func() error {
			wk, err := newWorker()
			if err != nil {
				return err
			}
			defer wk.done()

			for j := range jobs {
				select {
				case <-gctx.Done():
					return gctx.Err()
				default:
				}

				r, err := wk.work(j.v)
				if err != nil {
					return fmt.Errorf("block %d: %w", j.seqNum, err)
				}
				select {
				case results <- result[R]{seqNum: j.seqNum, v: r}:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			return nil
		})
	}

	// Producer
	g.Go(func() error {
		defer close(jobs)
		seqNum := 0
		return produce(gctx, func(v J) error {
			select {
			case jobs <- job[J]{seqNum: seqNum, v: v}:
				seqNum++
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	})

	// Collector: deliver results in order
	var collectorErr error
	collectorDone := make(chan struct{})
	go func() {
		defer close(collectorDone)
		collectorErr = collectOrdered(results, deliver, cancel)
	}()

	// Wait for workers and producer
	workerErr := g.Wait()
	close(results)

	// Wait for collector
	<-collectorDone

	if workerErr != nil && collectorErr == nil {
		return workerErr
	}
	return collectorErr
}

// collectOrdered delivers results in sequence order. After the first
// delivery error it cancels the pipeline and drains the channel.
func collectOrdered[R any](results <-chan result[R], deliver func(R) error, cancel context.CancelFunc) error {
	pending := make(map[int]R)
	nextSeqNum := 0
	var err error

	for r := range results {
		if err != nil {
			continue
		}
		pending[r.seqNum] = r.v

		// Deliver all sequential results available
		for err == nil {
			v, ok := pending[nextSeqNum]
			if !ok {
				break
			}
			delete(pending, nextSeqNum)
			if err = deliver(v); err != nil {
				cancel()
				break
			}
			nextSeqNum++
		}
	}
	return err
}
