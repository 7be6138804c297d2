package drake

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"git.fractalqb.de/fractalqb/drake/core"
	"git.fractalqb.de/fractalqb/sllm/v3"
)

// WriteTracer renders build progress as a line-oriented trace, the way
// the teacher's own build tool renders its goal/action trace: one line per
// event, prefixed with the build generation and the nesting path of
// node/builder ids that led to it.
type WriteTracer struct {
	W   io.Writer
	Log core.TraceLog
}

var _ core.Tracer = (*WriteTracer)(nil)

// DefaultTracer writes to os.Stderr at [core.TraceWarn] level: warnings plus
// session and node progress lines; builder runs, info and debug messages
// are left out.
func DefaultTracer() core.Tracer {
	return &WriteTracer{W: os.Stderr, Log: core.TraceWarn}
}

// NoTracer discards every event; pass it to [Open] to build silently.
func NoTracer() core.Tracer { return noTracer{} }

type noTracer struct{}

func (noTracer) Debug(*core.Trace, string, ...any)              {}
func (noTracer) Info(*core.Trace, string, ...any)               {}
func (noTracer) Warn(*core.Trace, string, ...any)               {}
func (noTracer) StartSession(*core.Trace, string)               {}
func (noTracer) DoneSession(*core.Trace, string, time.Duration) {}
func (noTracer) CheckNode(*core.Trace, *core.Node)              {}
func (noTracer) NodeUpToDate(*core.Trace, *core.Node)           {}
func (noTracer) NodeStale(*core.Trace, *core.Node, string)      {}
func (noTracer) RunBuilder(*core.Trace, *core.Builder)          {}
func (noTracer) RemoveArtefact(*core.Trace, *core.Node)         {}

// ParseLogFlag sets tr.Log from a command-line flag value, for CLIs that
// expose a --log level switch: "off", "warn"/"w", "info"/"i", "debug"/"d".
func (tr *WriteTracer) ParseLogFlag(f string) error {
	switch f {
	case "":
		return nil
	case "off":
		tr.Log = 0
	case "warn", "w":
		tr.Log = core.TraceWarn
	case "info", "i":
		tr.Log = core.TraceWarn | core.TraceInfo
	case "debug", "d":
		tr.Log = core.TraceWarn | core.TraceInfo | core.TraceDebug
	default:
		return fmt.Errorf("write tracer: illegal log flag '%s'", f)
	}
	return nil
}

func (tr *WriteTracer) Debug(t *core.Trace, msg string, args ...any) {
	if tr.Log&core.TraceDebug == 0 {
		return
	}
	fmt.Fprintf(tr.W, "%d@%s\t  DEBUG ", t.Build(), t.TopTag())
	sllm.Fprint(tr.W, msg, sllmArgs(args).append)
	fmt.Fprintln(tr.W)
}

func (tr *WriteTracer) Info(t *core.Trace, msg string, args ...any) {
	if tr.Log&(core.TraceInfo|core.TraceDebug) == 0 {
		return
	}
	fmt.Fprintf(tr.W, "%d@%s\t  INFO  ", t.Build(), t.TopTag())
	sllm.Fprint(tr.W, msg, sllmArgs(args).append)
	fmt.Fprintln(tr.W)
}

func (tr *WriteTracer) Warn(t *core.Trace, msg string, args ...any) {
	if tr.Log&(core.TraceWarn|core.TraceInfo|core.TraceDebug) == 0 {
		return
	}
	fmt.Fprintf(tr.W, "%d@%s\t  WARN  ", t.Build(), t.TopTag())
	sllm.Fprint(tr.W, msg, sllmArgs(args).append)
	fmt.Fprintln(tr.W)
}

func (tr *WriteTracer) StartSession(t *core.Trace, activity string) {
	if tr.Log&(core.TraceWarn|core.TraceInfo|core.TraceDebug) == 0 {
		return
	}
	fmt.Fprintf(tr.W, "%d@%s\t{ %s\n", t.Build(), t.TopTag(), activity)
}

func (tr *WriteTracer) DoneSession(t *core.Trace, activity string, dt time.Duration) {
	if tr.Log&(core.TraceWarn|core.TraceInfo|core.TraceDebug) == 0 {
		return
	}
	fmt.Fprintf(tr.W, "%d@%s\t} %s took %s\n", t.Build(), t.TopTag(), activity, dt)
}

func (tr *WriteTracer) logNodes() bool {
	return tr.Log&(core.TraceWarn|core.TraceInfo|core.TraceDebug) != 0
}

func (tr *WriteTracer) logBuilders() bool {
	return tr.Log&(core.TraceInfo|core.TraceDebug) != 0
}

func (tr *WriteTracer) CheckNode(t *core.Trace, n *core.Node) {
	if !tr.logNodes() {
		return
	}
	fmt.Fprintf(tr.W, "%d@%s\t? %s %s\n", t.Build(), t.TopTag(), n, t.Path())
}

func (tr *WriteTracer) NodeUpToDate(t *core.Trace, n *core.Node) {
	if !tr.logNodes() {
		return
	}
	fmt.Fprintf(tr.W, "%d@%s\t. %s is up-to-date\n", t.Build(), t.TopTag(), n)
}

func (tr *WriteTracer) NodeStale(t *core.Trace, n *core.Node, reason string) {
	if !tr.logNodes() {
		return
	}
	fmt.Fprintf(tr.W, "%d@%s\t! %s is stale: %s\n", t.Build(), t.TopTag(), n, reason)
}

func (tr *WriteTracer) RunBuilder(t *core.Trace, b *core.Builder) {
	if !tr.logBuilders() {
		return
	}
	fmt.Fprintf(tr.W, "%d@%s\t  run %s\n", t.Build(), t.TopTag(), b)
}

func (tr *WriteTracer) RemoveArtefact(t *core.Trace, n *core.Node) {
	if !tr.logNodes() {
		return
	}
	fmt.Fprintf(tr.W, "%d@%s\t! remove artefact %s\n", t.Build(), t.TopTag(), n)
}

type sllmArgs []any

func (as sllmArgs) append(buf []byte, _ int, n string) ([]byte, error) {
	for len(as) > 0 {
		switch k := as[0].(type) {
		case string:
			if len(as) == 1 {
				return buf, fmt.Errorf("no value for key '%s'", n)
			}
			if k == n {
				return sllm.AppendArg(buf, as[1]), nil
			}
			as = as[2:]
		case slog.Attr:
			if k.Key == n {
				return sllm.AppendArg(buf, k.Value), nil
			}
			as = as[1:]
		default:
			return buf, fmt.Errorf("illegal key type %T", k)
		}
	}
	return buf, fmt.Errorf("no key '%s'", n)
}
