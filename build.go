package drake

import (
	"errors"
	"fmt"

	"git.fractalqb.de/fractalqb/drake/core"
)

// Open opens a Session rooted at workDir the way most callers want: tr
// defaults to a [WriteTracer] writing to os.Stderr at [core.TraceWarn]
// level, so build progress is visible without any extra wiring. Pass a
// non-nil tr to render progress differently, or [NoTracer] for none at all.
func Open(workDir string, jobs int, tr core.Tracer) (*core.Session, error) {
	if tr == nil {
		tr = DefaultTracer()
	}
	return core.NewSession(workDir, jobs, tr)
}

// Edit calls do to define part of sess's build graph, recovering any panic
// do raises (typically via [Try]) and returning it as an error, so a graph
// definition function can use Try instead of checking every node- or
// builder-creation error individually.
func Edit(sess *core.Session, do func(*core.Session)) (err error) {
	defer func() {
		if p := recover(); p != nil {
			switch p := p.(type) {
			case error:
				err = p
			case string:
				err = errors.New(p)
			default:
				err = fmt.Errorf("panic: %+v", p)
			}
		}
	}()
	do(sess)
	return nil
}

// Try panics with err if it is non-nil, otherwise returns v. It is meant
// for use inside an [Edit] closure.
func Try[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}
