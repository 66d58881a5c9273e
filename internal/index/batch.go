package index

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Query is one named query text.
type Query struct {
	ID   string
	Text []byte
}

// Result holds the matches of one query.
type Result struct {
	QueryID string
	Matches []Match
}

type alignJob struct {
	seqNum int
	query  Query
}

type alignResult struct {
	seqNum int
	result Result
}

// AlignStream aligns every query returned by next until it returns io.EOF
// and passes the results to sink in input order. Queries are aligned by
// workers goroutines (default: NumCPU). The first error from next, an
// alignment or sink stops the stream and is returned.
func (x *Index) AlignStream(ctx context.Context, next func() (Query, error), sink func(Result) error, workers int) error {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan alignJob, workers*2)
	results := make(chan alignResult, workers*2)

	g, gctx := errgroup.WithContext(ctx)

	for range workers {
		g.Go(func() error {
			return x.runAlignWorker(gctx, jobs, results)
		})
	}

	g.Go(func() error {
		defer close(jobs)
		return produceAlignJobs(gctx, next, jobs)
	})

	// Collector: deliver results in order
	var collectorErr error
	collectorDone := make(chan struct{})
	go func() {
		defer close(collectorDone)
		collectorErr = collectResults(results, sink, cancel)
	}()

	workerErr := g.Wait()
	close(results)
	<-collectorDone

	if collectorErr != nil {
		return collectorErr
	}
	return workerErr
}

func (x *Index) runAlignWorker(ctx context.Context, jobs <-chan alignJob, results chan<- alignResult) error {
	for job := range jobs {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		matches, err := x.Align(job.query.Text)
		if err != nil {
			return fmt.Errorf("query %q: %w", job.query.ID, err)
		}
		select {
		case results <- alignResult{seqNum: job.seqNum, result: Result{QueryID: job.query.ID, Matches: matches}}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func produceAlignJobs(ctx context.Context, next func() (Query, error), jobs chan<- alignJob) error {
	for seqNum := 0; ; seqNum++ {
		q, err := next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading query %d: %w", seqNum, err)
		}

		select {
		case jobs <- alignJob{seqNum: seqNum, query: q}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// collectResults drains results, calling sink in sequence order. After a
// sink error it cancels the stream and keeps draining without delivering.
func collectResults(results <-chan alignResult, sink func(Result) error, cancel context.CancelFunc) error {
	pending := make(map[int]Result)
	nextSeqNum := 0
	var sinkErr error

	for r := range results {
		if sinkErr != nil {
			continue
		}
		pending[r.seqNum] = r.result

		for {
			res, ok := pending[nextSeqNum]
			if !ok {
				break
			}
			delete(pending, nextSeqNum)
			if err := sink(res); err != nil {
				sinkErr = fmt.Errorf("delivering result %d: %w", nextSeqNum, err)
				cancel()
				break
			}
			nextSeqNum++
		}
	}
	return sinkErr
}
