package parallel

import (
	"context"
	"iter"

	"golang.org/x/sync/errgroup"
)

type result[D any] struct {
	d D
	e error
}

// Map runs mapFunc over the elements of an input sequence with at most limit
// calls in flight and yields the results in completion order. Errors carried
// by the input sequence are passed through without calling mapFunc.
// Cancelling the parent context, or breaking out of the loop, stops the
// processing.
//
//	for out, err := range parallel.NewMap(ctx, 4, fn).Iter(input) {}
type Map[E, D any] struct {
	ctx     context.Context
	cancel  context.CancelFunc
	g       *errgroup.Group
	gctx    context.Context
	mapped  chan result[D]
	mapFunc func(context.Context, E) (D, error)
}

func NewMap[E, D any](parentCtx context.Context, limit int, mapFunc func(context.Context, E) (D, error)) *Map[E, D] {
	if limit < 1 {
		limit = 1
	}
	ctx, cancel := context.WithCancel(parentCtx)
	g, gctx := errgroup.WithContext(ctx)
	// one extra slot for the feeding goroutine
	g.SetLimit(limit + 1)

	return &Map[E, D]{
		ctx:     ctx,
		cancel:  cancel,
		g:       g,
		gctx:    gctx,
		mapped:  make(chan result[D], limit),
		mapFunc: mapFunc,
	}
}

func (m *Map[E, D]) send(r result[D]) error {
	select {
	case <-m.gctx.Done():
		return m.gctx.Err()
	case m.mapped <- r:
		return nil
	}
}

func (m *Map[E, D]) feed(seq iter.Seq2[E, error]) {
	m.g.Go(func() error {
		for entry, err := range seq {
			if m.gctx.Err() != nil {
				return m.gctx.Err()
			}
			if err != nil {
				var zero D
				if serr := m.send(result[D]{d: zero, e: err}); serr != nil {
					return serr
				}
				continue
			}
			m.g.Go(func() error {
				d, err := m.mapFunc(m.gctx, entry)
				return m.send(result[D]{d: d, e: err})
			})
		}
		return nil
	})
}

func (m *Map[E, D]) Iter(seq iter.Seq2[E, error]) iter.Seq2[D, error] {
	return func(yield func(D, error) bool) {
		m.feed(seq)

		go func() {
			_ = m.g.Wait()
			close(m.mapped)
		}()
		defer func() {
			m.cancel()
			// unblock pending senders and let the workers finish
			for range m.mapped {
			}
		}()

		for r := range m.mapped {
			if m.ctx.Err() != nil {
				return
			}
			if !yield(r.d, r.e) {
				return
			}
		}
	}
}
