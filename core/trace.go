package core

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"
)

// TraceLog is a bitmask selecting which trace levels a [Tracer] emits.
type TraceLog int

const (
	TraceWarn TraceLog = (1 << iota)
	TraceInfo
	TraceDebug
)

// DefaultTraceLog is the TraceWarn level. Nothing in core reads it: a
// session created without a Tracer emits no trace at all.
var DefaultTraceLog TraceLog = TraceWarn

// Tracer observes the build as it runs. Implementations must be safe to call
// from concurrently running builders. The drake package's WriteTracer is the
// default implementation.
type Tracer interface {
	Debug(t *Trace, msg string, args ...any)
	Info(t *Trace, msg string, args ...any)
	Warn(t *Trace, msg string, args ...any)

	StartSession(t *Trace, activity string)
	DoneSession(t *Trace, activity string, dt time.Duration)

	CheckNode(t *Trace, n *Node)
	NodeUpToDate(t *Trace, n *Node)
	NodeStale(t *Trace, n *Node, reason string)
	RunBuilder(t *Trace, b *Builder)
	RemoveArtefact(t *Trace, n *Node)
}

// Trace is a position in the session's current call tree, handed down to
// nodes and builders so trace output can show nesting without every layer
// carrying its own logger.
type Trace struct {
	root *traceRoot
	up   *Trace
	obj  any
	id   uint64
}

// NewTrace starts a fresh trace rooted at ctx, reporting to t.
func NewTrace(ctx context.Context, t Tracer) *Trace {
	return &Trace{root: &traceRoot{ctx: ctx, tr: t}}
}

func (t *Trace) Ctx() context.Context { return t.root.ctx }

func (t *Trace) Debug(msg string, args ...any) { t.root.tr.Debug(t, msg, args...) }
func (t *Trace) Info(msg string, args ...any)  { t.root.tr.Info(t, msg, args...) }
func (t *Trace) Warn(msg string, args ...any)  { t.root.tr.Warn(t, msg, args...) }

func (t *Trace) startSession(activity string) {
	t.root.tr.StartSession(t, activity)
}

func (t *Trace) doneSession(activity string, dt time.Duration) {
	t.root.tr.DoneSession(t, activity, dt)
}

func (t *Trace) checkNode(n *Node)              { t.root.tr.CheckNode(t, n) }
func (t *Trace) nodeUpToDate(n *Node)           { t.root.tr.NodeUpToDate(t, n) }
func (t *Trace) nodeStale(n *Node, reason string) { t.root.tr.NodeStale(t, n, reason) }
func (t *Trace) runBuilder(b *Builder)          { t.root.tr.RunBuilder(t, b) }
func (t *Trace) removeArtefact(n *Node)         { t.root.tr.RemoveArtefact(t, n) }

func (t *Trace) Build() uint64 { return t.root.build.Load() }

func (t *Trace) TopID() uint64 { return t.id }

func (t *Trace) TopTag() string {
	switch t.obj.(type) {
	case *Node:
		return fmt.Sprintf("[%d]", t.id)
	case *Builder:
		return fmt.Sprintf("(%d)", t.id)
	case nil:
		return ""
	}
	return fmt.Sprintf("!%T!", t.obj)
}

func (t *Trace) Path() string {
	var sb strings.Builder
	sb.WriteByte('<')
	for ; t != nil; t = t.up {
		sb.WriteString(t.TopTag())
	}
	sb.WriteByte('>')
	return sb.String()
}

func (t *Trace) String() string {
	return fmt.Sprintf("%d@%s", t.Build(), t.Path())
}

func (t *Trace) pushNode(n *Node) *Trace {
	return &Trace{root: t.root, up: t, obj: n, id: t.root.idSeq.Add(1)}
}

func (t *Trace) pushBuilder(b *Builder) *Trace {
	return &Trace{root: t.root, up: t, obj: b, id: t.root.idSeq.Add(1)}
}

type traceRoot struct {
	ctx   context.Context
	tr    Tracer
	build atomic.Uint64
	idSeq atomic.Uint64
}
