package core

import (
	"context"
	"fmt"
	"sync"
)

// Builder binds an [Operation] to the sources it reads and the targets it
// produces. Every target of a Builder has that Builder as its producer;
// registering a second, different Builder against an already-claimed target
// is a [MultipleProducers] error. A Builder's Operation executes at most
// once per session: concurrent callers of ensureBuilt rendezvous on the
// same result.
type Builder struct {
	Op Operation

	sess *Session

	mu      sync.Mutex
	sources []*Node
	targets []*Node
	dynSrcs map[string][]dynSrcEntry

	once sync.Once
	err  error
}

// NewBuilder creates a Builder and wires it as the producer of targets and
// as a consumer of sources. It fails if any target already has a different
// producer.
func (s *Session) NewBuilder(op Operation, sources, targets []*Node) (*Builder, error) {
	if err := s.checkAcyclic(sources, targets); err != nil {
		return nil, err
	}
	b := &Builder{
		Op:      op,
		sess:    s,
		sources: append([]*Node(nil), sources...),
		targets: append([]*Node(nil), targets...),
		dynSrcs: make(map[string][]dynSrcEntry),
	}
	claimed := make([]*Node, 0, len(targets))
	for _, t := range targets {
		t.Lock()
		if t.producer != nil && t.producer != b {
			t.Unlock()
			for _, c := range claimed {
				c.Lock()
				c.producer = nil
				c.Unlock()
			}
			return nil, &MultipleProducers{Path: t.Name()}
		}
		t.producer = b
		t.Unlock()
		claimed = append(claimed, t)
	}
	for _, src := range sources {
		src.addConsumer(b)
	}
	return b, nil
}

func (b *Builder) Session() *Session { return b.sess }

func (b *Builder) Sources() []*Node {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*Node(nil), b.sources...)
}

func (b *Builder) Targets() []*Node {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*Node(nil), b.targets...)
}

func (b *Builder) String() string {
	if b.Op == nil {
		return "(implicit)"
	}
	return fmt.Sprintf("(%s)", b.Op.Describe(b))
}

// ensureBuilt runs the full driver procedure (spec §4.6) for b exactly once
// for the lifetime of b: the first caller does the work, every concurrent
// or later caller blocks on sync.Once and then observes the same result.
// This is the per-builder future spec §4.6 step 2 describes.
func (b *Builder) ensureBuilt(ctx context.Context) error {
	b.once.Do(func() {
		b.err = b.sess.buildBuilder(ctx, b)
	})
	return b.err
}

// dependencies invokes b's Operation's DependencyDiscoverer, if it
// implements one; builders with only static sources leave this a no-op.
func (b *Builder) dependencies(ctx context.Context) error {
	dd, ok := b.Op.(DependencyDiscoverer)
	if !ok {
		return nil
	}
	return dd.Dependencies(ctx, b)
}
