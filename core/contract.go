package core

import (
	"context"
	"io"
)

// Operation is the contract a builder implementation satisfies. Every
// [Builder] wraps exactly one Operation; the builder graph, the oracle and
// the scheduler never look inside it.
type Operation interface {
	// Execute performs the transformation that produces b's targets from
	// its sources. A (false, nil) result means the operation decided it
	// failed without an underlying Go error (e.g. a subprocess exiting
	// non-zero); it is reported as a *BuilderFailed exactly like a non-nil
	// error would be. Execute must be safe to call from any goroutine.
	Execute(ctx context.Context, b *Builder, env *Env) (bool, error)

	// Describe returns a short human-readable label for traces and error
	// messages. It must not block or have side effects.
	Describe(b *Builder) string
}

// DependencyDiscoverer is an optional capability an Operation can implement:
// a pre-execute hook that reconstructs a builder's dynamic sources from
// whatever the previous session persisted for it (spec driver step 4),
// before the oracle decides whether the builder must run. Operations that
// declare all of their sources statically need not implement this.
type DependencyDiscoverer interface {
	Dependencies(ctx context.Context, b *Builder) error
}

// SignatureWriter is an optional capability: an Operation whose behavior
// depends on more than its source/target artefacts (flags, a command line,
// a template) should implement this so that signature changes alone make a
// builder stale even when no source file changed.
type SignatureWriter interface {
	WriteSignature(w io.Writer) error
}

// funcOp adapts a plain function to [Operation] for small, anonymous
// builders (tests and examples commonly need nothing more).
type funcOp struct {
	describe string
	execute  func(ctx context.Context, b *Builder, env *Env) (bool, error)
}

// OperationFunc returns an [Operation] backed by fn, described by label.
func OperationFunc(label string, fn func(ctx context.Context, b *Builder, env *Env) (bool, error)) Operation {
	return &funcOp{describe: label, execute: fn}
}

func (f *funcOp) Describe(*Builder) string { return f.describe }

func (f *funcOp) Execute(ctx context.Context, b *Builder, env *Env) (bool, error) {
	return f.execute(ctx, b, env)
}
