package core

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
)

// Invariant 1: a node has at most one producer; a second, different builder
// claiming an already-produced target is rejected.
func TestInvariantProducerUniqueness(t *testing.T) {
	dir := t.TempDir()
	s := newTestSession(t, dir)
	target, err := s.File("out.txt")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.NewBuilder(&noopOp{}, nil, []*Node{target}); err != nil {
		t.Fatalf("first builder: %v", err)
	}
	_, err = s.NewBuilder(&noopOp{}, nil, []*Node{target})
	var mp *MultipleProducers
	if !errors.As(err, &mp) {
		t.Fatalf("want *MultipleProducers, got %v", err)
	}
	if mp.Path != target.Name() {
		t.Fatalf("want path %s, got %s", target.Name(), mp.Path)
	}
}

// Invariant 2: a builder's Operation executes at most once per session, even
// when several goroutines race to build the same target concurrently.
func TestInvariantAtMostOnceExecution(t *testing.T) {
	dir := t.TempDir()
	s := newTestSession(t, dir)
	writeFile(t, filepath.Join(dir, "src.txt"), "hello")
	src := mustFile(t, s, "src.txt")
	target := mustFile(t, s, "out.txt")
	op := &copyOp{}
	if _, err := s.NewBuilder(op, []*Node{src}, []*Node{target}); err != nil {
		t.Fatal(err)
	}

	const n = 16
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.Build(context.Background(), target.Name())
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("Build[%d]: %v", i, err)
		}
	}
	if got := op.count(); got != 1 {
		t.Fatalf("want 1 execution, got %d", got)
	}
}

// Invariant 3: once a target is up to date, a later build invocation (a
// fresh Session consulting the same on-disk database) skips the builder
// entirely rather than re-executing it.
func TestInvariantUpToDateImpliesSkip(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "src.txt"), "hello")

	s1 := newTestSession(t, dir)
	src1 := mustFile(t, s1, "src.txt")
	target1 := mustFile(t, s1, "out.txt")
	op1 := &copyOp{}
	if _, err := s1.NewBuilder(op1, []*Node{src1}, []*Node{target1}); err != nil {
		t.Fatal(err)
	}
	if err := s1.Build(context.Background(), "out.txt"); err != nil {
		t.Fatal(err)
	}
	if got := op1.count(); got != 1 {
		t.Fatalf("first build: want 1 execution, got %d", got)
	}

	s2 := newTestSession(t, dir)
	src2 := mustFile(t, s2, "src.txt")
	target2 := mustFile(t, s2, "out.txt")
	op2 := &copyOp{}
	if _, err := s2.NewBuilder(op2, []*Node{src2}, []*Node{target2}); err != nil {
		t.Fatal(err)
	}
	if err := s2.Build(context.Background(), "out.txt"); err != nil {
		t.Fatal(err)
	}
	if got := op2.count(); got != 0 {
		t.Fatalf("second build: want 0 executions (skip), got %d", got)
	}
}

// Invariant 4: a change to a leaf source propagates staleness through every
// intermediate builder up to the final target.
func TestInvariantStalenessPropagation(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "leaf.txt"), "v1")

	build := func() (midExecs, topExecs int) {
		s := newTestSession(t, dir)
		leaf := mustFile(t, s, "leaf.txt")
		mid := mustFile(t, s, "mid.txt")
		top := mustFile(t, s, "top.txt")
		midOp := &copyOp{}
		topOp := &copyOp{}
		if _, err := s.NewBuilder(midOp, []*Node{leaf}, []*Node{mid}); err != nil {
			t.Fatal(err)
		}
		if _, err := s.NewBuilder(topOp, []*Node{mid}, []*Node{top}); err != nil {
			t.Fatal(err)
		}
		if err := s.Build(context.Background(), "top.txt"); err != nil {
			t.Fatal(err)
		}
		return midOp.count(), topOp.count()
	}

	if mid, top := build(); mid != 1 || top != 1 {
		t.Fatalf("first build: want (1,1), got (%d,%d)", mid, top)
	}
	if mid, top := build(); mid != 0 || top != 0 {
		t.Fatalf("unchanged rebuild: want (0,0), got (%d,%d)", mid, top)
	}

	writeFile(t, filepath.Join(dir, "leaf.txt"), "v2")
	if mid, top := build(); mid != 1 || top != 1 {
		t.Fatalf("after leaf change: want (1,1), got (%d,%d)", mid, top)
	}
	if got := readFile(t, filepath.Join(dir, "top.txt")); got != "v2" {
		t.Fatalf("top.txt: want v2, got %q", got)
	}
}

// Invariant 5: the mtime fast path means an unchanged source's hash function
// is never invoked, not just that its oracle decision is cheap.
func TestInvariantMtimeFastPath(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "leaf.txt"), "v1")

	s1 := newTestSession(t, dir)
	leaf1 := mustFile(t, s1, "leaf.txt")
	target1 := mustFile(t, s1, "out.txt")
	op1 := &copyOp{}
	if _, err := s1.NewBuilder(op1, []*Node{leaf1}, []*Node{target1}); err != nil {
		t.Fatal(err)
	}
	if err := s1.Build(context.Background(), "out.txt"); err != nil {
		t.Fatal(err)
	}

	var calls atomic.Int32
	s2 := newTestSession(t, dir)
	leaf2, err := s2.Node(countingHashArtefact{path: filepath.Join(dir, "leaf.txt"), calls: &calls})
	if err != nil {
		t.Fatal(err)
	}
	target2 := mustFile(t, s2, "out.txt")
	op2 := &copyOp{}
	if _, err := s2.NewBuilder(op2, []*Node{leaf2}, []*Node{target2}); err != nil {
		t.Fatal(err)
	}
	if err := s2.Build(context.Background(), "out.txt"); err != nil {
		t.Fatal(err)
	}
	if got := op2.count(); got != 0 {
		t.Fatalf("want builder skipped, got %d executions", got)
	}
	if got := calls.Load(); got != 0 {
		t.Fatalf("mtime fast path: want WriteHash never called, got %d calls", got)
	}
}

// Invariant 6: one builder's failure does not stop an already-started,
// independent builder from finishing and leaving its output on disk.
func TestInvariantFailureContainment(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "good-src.txt"), "good")
	writeFile(t, filepath.Join(dir, "bad-src.txt"), "bad")

	s := newTestSession(t, dir)
	goodSrc := mustFile(t, s, "good-src.txt")
	goodTgt := mustFile(t, s, "good-out.txt")
	goodOp := &copyOp{}
	if _, err := s.NewBuilder(goodOp, []*Node{goodSrc}, []*Node{goodTgt}); err != nil {
		t.Fatal(err)
	}

	badTgt := mustFile(t, s, "bad-out.txt")
	badOp := &failOp{}
	if _, err := s.NewBuilder(badOp, nil, []*Node{badTgt}); err != nil {
		t.Fatal(err)
	}

	root := mustGoal(t, s, "root")
	if _, err := s.NewBuilder(&noopOp{}, []*Node{goodTgt, badTgt}, []*Node{root}); err != nil {
		t.Fatal(err)
	}

	err := s.Build(context.Background(), "root")
	var bf *BuilderFailed
	if !errors.As(err, &bf) {
		t.Fatalf("want *BuilderFailed, got %v", err)
	}
	if got := goodOp.count(); got != 1 {
		t.Fatalf("good builder: want 1 execution, got %d", got)
	}
	if got := readFile(t, filepath.Join(dir, "good-out.txt")); got != "good" {
		t.Fatalf("good-out.txt: want %q, got %q", "good", got)
	}
	if failed, ferr := s.Failed(); !failed || ferr == nil {
		t.Fatalf("session should record the failure: failed=%v err=%v", failed, ferr)
	}
}

// Invariant 7: a dynamic dependency discovered during Execute is persisted
// and, in a later session, makes the builder stale again when it changes —
// and up to date again when it doesn't.
func TestInvariantDynamicDepChurn(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "dyn.txt"), "d1")

	build := func() int {
		s := newTestSession(t, dir)
		target := mustFile(t, s, "out.txt")
		op := &dynOp{dynPth: filepath.Join(dir, "dyn.txt")}
		if _, err := s.NewBuilder(op, nil, []*Node{target}); err != nil {
			t.Fatal(err)
		}
		if err := s.Build(context.Background(), "out.txt"); err != nil {
			t.Fatal(err)
		}
		return op.count()
	}

	if got := build(); got != 1 {
		t.Fatalf("first build: want 1 execution, got %d", got)
	}
	if got := build(); got != 0 {
		t.Fatalf("unchanged dyn dep: want 0 executions (skip), got %d", got)
	}
	writeFile(t, filepath.Join(dir, "dyn.txt"), "d2")
	if got := build(); got != 1 {
		t.Fatalf("changed dyn dep: want 1 execution, got %d", got)
	}
	if got := readFile(t, filepath.Join(dir, "out.txt")); got != "d2" {
		t.Fatalf("out.txt: want d2, got %q", got)
	}
}

// Invariant 8: a stale or missing .drake/SCHEMA marker is recovered from by
// discarding and rebuilding the database, never by failing to open.
func TestInvariantSchemaVersionSafety(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "src.txt"), "v1")

	s1 := newTestSession(t, dir)
	src1 := mustFile(t, s1, "src.txt")
	target1 := mustFile(t, s1, "out.txt")
	if _, err := s1.NewBuilder(&copyOp{}, []*Node{src1}, []*Node{target1}); err != nil {
		t.Fatal(err)
	}
	if err := s1.Build(context.Background(), "out.txt"); err != nil {
		t.Fatal(err)
	}

	schemaFile := filepath.Join(dir, ".drake", "SCHEMA")
	writeFile(t, schemaFile, "not-a-version")

	s2 := newTestSession(t, dir)
	src2 := mustFile(t, s2, "src.txt")
	target2 := mustFile(t, s2, "out.txt")
	op2 := &copyOp{}
	if _, err := s2.NewBuilder(op2, []*Node{src2}, []*Node{target2}); err != nil {
		t.Fatal(err)
	}
	if err := s2.Build(context.Background(), "out.txt"); err != nil {
		t.Fatalf("reopening with a corrupt schema marker should not fail: %v", err)
	}
	if got := op2.count(); got != 1 {
		t.Fatalf("discarded database: want a fresh rebuild (1 execution), got %d", got)
	}
	if got := readFile(t, schemaFile); got == "not-a-version" {
		t.Fatal("SCHEMA marker was not rewritten")
	}
}

// User-declared dependency set (spec §3/§6 Node.dependency_add): a node a
// builder's target depends on via DependencyAdd, not by being wired as a
// source, still makes that builder stale when it changes, and is built
// alongside the static sources.
func TestInvariantUserDependencySet(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "tool-version.txt"), "v1")

	build := func() int {
		s := newTestSession(t, dir)
		toolVersion := mustFile(t, s, "tool-version.txt")
		target := mustFile(t, s, "out.txt")
		target.DependencyAdd(toolVersion)
		op := &blockOp{content: "built"}
		if _, err := s.NewBuilder(op, nil, []*Node{target}); err != nil {
			t.Fatal(err)
		}
		if err := s.Build(context.Background(), "out.txt"); err != nil {
			t.Fatal(err)
		}
		return op.count()
	}

	if got := build(); got != 1 {
		t.Fatalf("first build: want 1 execution, got %d", got)
	}
	if got := build(); got != 0 {
		t.Fatalf("unchanged dependency: want 0 executions (skip), got %d", got)
	}
	writeFile(t, filepath.Join(dir, "tool-version.txt"), "v2")
	if got := build(); got != 1 {
		t.Fatalf("changed dependency: want 1 execution, got %d", got)
	}
}

func mustFile(t *testing.T, s *Session, path string) *Node {
	t.Helper()
	n, err := s.File(path)
	if err != nil {
		t.Fatalf("File(%q): %v", path, err)
	}
	return n
}

func mustGoal(t *testing.T, s *Session, name string) *Node {
	t.Helper()
	n, err := s.Goal(name)
	if err != nil {
		t.Fatalf("Goal(%q): %v", name, err)
	}
	return n
}
