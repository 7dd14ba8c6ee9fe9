// Package batch buffers points streamed out of a PointStream into
// fixed-size batches for the builder, applying backpressure between the
// (potentially slow, file-backed) producer and the builder's worker pool
// (spec §4.4). The Ctx/errgroup shape mirrors the teacher's batch build
// orchestration (internal/batch in the distri package build system),
// repointed at point streaming instead of package builds.
package batch

import (
	"context"
	"errors"
	"io"
	"log"

	"golang.org/x/sync/errgroup"

	pc "github.com/cartographer-project/point-cloud-viewer"
)

// Ctx is a batch reader's configuration and state, named after the
// teacher's batch.Ctx (distri's package-build context).
type Ctx struct {
	Log       *log.Logger
	BatchSize int
}

// Source is the out-of-scope PointStream collaborator (spec §1): anything
// that yields points one at a time.
type Source interface {
	// Next returns the next point, or io.EOF when the stream is exhausted.
	Next() (pc.Point, error)
}

// Reader buffers Source into batches, decoupling producer and consumer
// rates with a bounded channel.
type Reader struct {
	ctx    Ctx
	src    Source
	out    chan []pc.Point
	errs   chan error
	cancel context.CancelFunc
}

// NewReader starts a background goroutine pulling from src and pushing
// batches of ctx.BatchSize points into an internally buffered channel.
// The channel's capacity (2 batches) is what gives backpressure: a slow
// consumer stalls the producer rather than letting memory grow unbounded.
func NewReader(ctx context.Context, batchCtx Ctx, src Source) *Reader {
	if batchCtx.BatchSize <= 0 {
		batchCtx.BatchSize = 1 << 16
	}
	runCtx, cancel := context.WithCancel(ctx)
	r := &Reader{
		ctx:    batchCtx,
		src:    src,
		out:    make(chan []pc.Point, 2),
		errs:   make(chan error, 1),
		cancel: cancel,
	}
	go r.run(runCtx)
	return r
}

func (r *Reader) run(ctx context.Context) {
	defer close(r.out)
	var eg errgroup.Group
	eg.Go(func() error {
		batch := make([]pc.Point, 0, r.ctx.BatchSize)
		for {
			if ctx.Err() != nil {
				return &pc.CancelledError{Err: ctx.Err()}
			}
			p, err := r.src.Next()
			if err != nil {
				if len(batch) > 0 {
					select {
					case r.out <- batch:
					case <-ctx.Done():
						return &pc.CancelledError{Err: ctx.Err()}
					}
				}
				if errors.Is(err, io.EOF) {
					return nil
				}
				return &pc.InputError{Msg: "reading point stream", Err: err}
			}
			batch = append(batch, p)
			if len(batch) == r.ctx.BatchSize {
				select {
				case r.out <- batch:
				case <-ctx.Done():
					return &pc.CancelledError{Err: ctx.Err()}
				}
				batch = make([]pc.Point, 0, r.ctx.BatchSize)
			}
		}
	})
	if err := eg.Wait(); err != nil {
		r.errs <- err
	}
}

// Next blocks until the next batch is ready, the stream ends (ok=false,
// err=nil), or an error occurs.
func (r *Reader) Next() (batch []pc.Point, ok bool, err error) {
	b, open := <-r.out
	if !open {
		select {
		case err := <-r.errs:
			return nil, false, err
		default:
			return nil, false, nil
		}
	}
	return b, true, nil
}

// Close cancels the background reader goroutine.
func (r *Reader) Close() {
	r.cancel()
}
