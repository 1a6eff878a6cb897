// Package stream owns the nine Pools and drives a Package through them
// in order, using an explicit work queue rather than recursive async
// calls.
package stream

import (
	"context"
	"log/slog"

	"github.com/loquat/loquat/pkg/pipeline"
	"github.com/loquat/loquat/pkg/pool"
)

// workItem is one entry of the Stream's FIFO: a Package awaiting
// dispatch at a specific pool index (0-based; pool.Order numbers the
// nine stages 1-9).
type workItem struct {
	poolIndex int
	pkg       pipeline.Package
}

// Stream is the ordered composite of the nine Pools.
type Stream struct {
	pools  [9]*pool.Pool
	logger *slog.Logger
}

// Option configures a Stream at construction.
type Option func(*Stream)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Stream) { s.logger = logger }
}

// New constructs a Stream with all nine Pools populated and the
// built-in internal Workers of Pools 1, 3, 5, 7, 9 registered.
func New(opts ...Option) *Stream {
	s := &Stream{logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}

	for i, kind := range pool.Order {
		s.pools[i] = pool.New(kind, pool.WithLogger(s.logger))
	}

	mustSeed(s.pools[0], pool.IngressWorker())
	mustSeed(s.pools[2], pool.NormalizeWorker())
	mustSeed(s.pools[4], pool.EnrichWorker())
	mustSeed(s.pools[6], pool.DispatchWorker())
	mustSeed(s.pools[8], pool.EgressWorker())

	return s
}

func mustSeed(p *pool.Pool, w pool.Worker) {
	if err := p.RegisterInternal(w, pool.AllRule(), 0); err != nil {
		panic("stream: failed to seed internal worker: " + err.Error())
	}
}

// Pool returns the Pool at the given Kind, for registration of
// third-party Workers.
func (s *Stream) Pool(kind pool.Kind) *pool.Pool {
	for _, p := range s.pools {
		if p.Kind() == kind {
			return p
		}
	}
	return nil
}

// Run feeds pkg through Pools 1..9 in order, following Pool Continue
// results back into the same Pool and Release results forward to the
// next. Termination is guaranteed by each Pool's iteration cap. The
// common case (no Pool ever emits more than one Package) returns a
// single-element slice.
func (s *Stream) Run(ctx context.Context, pkg pipeline.Package) []pipeline.Package {
	queue := []workItem{{poolIndex: 0, pkg: pkg}}
	var output []pipeline.Package

	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]

		result := s.pools[item.poolIndex].Process(ctx, item.pkg)

		for _, released := range result.Released {
			if item.poolIndex == len(s.pools)-1 {
				output = append(output, released)
				continue
			}
			queue = append(queue, workItem{poolIndex: item.poolIndex + 1, pkg: released})
		}
		for _, cont := range result.Continue {
			queue = append(queue, workItem{poolIndex: item.poolIndex, pkg: cont})
		}
	}

	return output
}

// RunOne is the convenience form for the typical single-Package case:
// it returns the first output Package (or the zero value and false if
// the traversal produced none, which should not happen in practice
// since every Pool eventually Releases).
func (s *Stream) RunOne(ctx context.Context, pkg pipeline.Package) (pipeline.Package, bool) {
	out := s.Run(ctx, pkg)
	if len(out) == 0 {
		return pipeline.Package{}, false
	}
	return out[0], true
}
