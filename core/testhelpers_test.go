package core

import (
	"context"
	"errors"
	"io"
	"os"
	"sync/atomic"
	"testing"
	"time"
)

func init() {
	// A single generic dynamic-dep kind shared by every test that exercises
	// AddDynSrc/restoreDynDeps: the path is always interned as a plain file
	// in whatever session is reconstructing it.
	RegisterDepKind("file", func(b *Builder, path, typ, data string) (*Node, error) {
		return b.Session().File(path)
	})
}

func newTestSession(t *testing.T, dir string) *Session {
	t.Helper()
	s, err := NewSession(dir, 4, nil)
	if err != nil {
		t.Fatalf("NewSession(%q): %v", dir, err)
	}
	return s
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}

// copyOp copies its single source file's content to its single target file,
// counting how many times Execute actually ran.
type copyOp struct {
	execs atomic.Int32
}

func (op *copyOp) Describe(*Builder) string { return "copy" }

func (op *copyOp) Execute(ctx context.Context, b *Builder, env *Env) (bool, error) {
	op.execs.Add(1)
	src := string(b.Sources()[0].Artefact.(FileArtefact))
	dst := string(b.Targets()[0].Artefact.(FileArtefact))
	data, err := os.ReadFile(src)
	if err != nil {
		return false, err
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return false, err
	}
	return true, nil
}

func (op *copyOp) count() int { return int(op.execs.Load()) }

// blockOp optionally waits on unblock before writing content to its target,
// so a test can hold a builder mid-flight while another one fails.
type blockOp struct {
	execs   atomic.Int32
	unblock chan struct{}
	content string
}

func (op *blockOp) Describe(*Builder) string { return "block" }

func (op *blockOp) Execute(ctx context.Context, b *Builder, env *Env) (bool, error) {
	op.execs.Add(1)
	if op.unblock != nil {
		<-op.unblock
	}
	dst := string(b.Targets()[0].Artefact.(FileArtefact))
	if err := os.WriteFile(dst, []byte(op.content), 0o644); err != nil {
		return false, err
	}
	return true, nil
}

func (op *blockOp) count() int { return int(op.execs.Load()) }

// failOp always fails with a plain Go error.
type failOp struct {
	execs atomic.Int32
}

func (op *failOp) Describe(*Builder) string { return "fail" }

func (op *failOp) Execute(ctx context.Context, b *Builder, env *Env) (bool, error) {
	op.execs.Add(1)
	return false, errors.New("deliberate failure")
}

func (op *failOp) count() int { return int(op.execs.Load()) }

// noopOp always succeeds without touching anything; it stands in for a
// root/Abstract goal's trivial producer.
type noopOp struct{ execs atomic.Int32 }

func (op *noopOp) Describe(*Builder) string { return "noop" }

func (op *noopOp) Execute(ctx context.Context, b *Builder, env *Env) (bool, error) {
	op.execs.Add(1)
	return true, nil
}

func (op *noopOp) count() int { return int(op.execs.Load()) }

// dynOp declares a single dynamic source (kind "file") each time it runs,
// pulled from a field so a test can change which path it depends on
// between sessions.
type dynOp struct {
	execs  atomic.Int32
	dynPth string
}

func (op *dynOp) Describe(*Builder) string { return "dyn" }

func (op *dynOp) Execute(ctx context.Context, b *Builder, env *Env) (bool, error) {
	op.execs.Add(1)
	n, err := b.Session().File(op.dynPth)
	if err != nil {
		return false, err
	}
	b.AddDynSrc("file", n, "", "")
	dst := string(b.Targets()[0].Artefact.(FileArtefact))
	data, err := os.ReadFile(op.dynPth)
	if err != nil {
		return false, err
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return false, err
	}
	return true, nil
}

func (op *dynOp) count() int { return int(op.execs.Load()) }

// countingHashArtefact wraps a plain file path, counting how many times
// WriteHash actually runs, so a test can tell whether the oracle's mtime
// fast path (core/oracle.go's staleOne) short-circuited before ever hashing
// the underlying content.
type countingHashArtefact struct {
	path  string
	calls *atomic.Int32
}

func (a countingHashArtefact) Name() string { return a.path }

func (a countingHashArtefact) Exists() (bool, error) {
	_, err := os.Stat(a.path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (a countingHashArtefact) ModTime() (time.Time, bool, error) {
	fi, err := os.Stat(a.path)
	if err != nil {
		if os.IsNotExist(err) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, err
	}
	return fi.ModTime(), true, nil
}

func (a countingHashArtefact) WriteHash(w io.Writer) error {
	a.calls.Add(1)
	return hashFileInto(w, a.path)
}
