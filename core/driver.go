package core

import (
	"context"
	"os"
	"sync"
	"time"
)

func chtimes(path string, t time.Time) error {
	return os.Chtimes(path, t, t)
}

// Build is the engine's entry point: it builds target and everything it
// transitively depends on, returning nil on success or the session's first
// failure (wrapped as [BuilderFailed], [MissingSource] or [Interrupted]).
// Build may be called for several targets of the same Session concurrently
// or in sequence; builders shared between targets execute at most once.
// target is looked up by node name as given and, failing that, as a path
// canonicalized with [Session.Canon].
func (s *Session) Build(ctx context.Context, target string) error {
	tr := s.traceFor(ctx)
	if tr != nil {
		tr.root.build.Add(1)
		tr.startSession("build")
	}
	start := time.Now()
	n, ok := s.registry.lookup(target)
	if !ok {
		if canon, err := s.Canon(target); err == nil {
			n, ok = s.registry.lookup(canon)
		}
	}
	if !ok {
		err := &MissingSource{Path: target}
		if tr != nil {
			tr.doneSession("build", time.Since(start))
		}
		return err
	}
	err := s.buildNode(ctx, n)
	if tr != nil {
		tr.doneSession("build", time.Since(start))
	}
	return err
}

func (s *Session) buildNode(ctx context.Context, n *Node) error {
	if failed, err := s.Failed(); failed {
		return &Interrupted{Cause: err}
	}
	if ctx.Err() != nil {
		return &Interrupted{Cause: ctx.Err()}
	}
	if tr := s.traceFor(ctx); tr != nil {
		tr.pushNode(n).checkNode(n)
	}
	b := n.Producer()
	if b == nil {
		exists, err := n.Artefact.Exists()
		if err != nil {
			return err
		}
		if !exists {
			err := &MissingSource{Path: n.Name()}
			s.markFailed(err)
			return err
		}
		return nil
	}
	return b.ensureBuilt(ctx)
}

// buildBuilder carries out driver steps 3-6 of spec §4.6 for b. It is
// invoked at most once per builder via [Builder.ensureBuilt].
func (s *Session) buildBuilder(ctx context.Context, b *Builder) error {
	if failed, err := s.Failed(); failed {
		return &Interrupted{Cause: err}
	}

	// Step 3: schedule and await every static source's producer, plus any
	// user-added dependency of b's targets (spec §3/§6 Node.dependency_add).
	if err := s.awaitNodes(ctx, b.depAndSourceNodes()); err != nil {
		return s.fail(b, err)
	}

	// Step 4: restore dynamic sources persisted by a prior session, then
	// give the operation a chance to discover more, and await them all.
	recs, err := s.loadRecords(b)
	if err != nil {
		return s.fail(b, err)
	}
	if recs[0] != nil {
		if err := b.restoreDynDeps(recs[0].DynDeps); err != nil {
			return s.fail(b, err)
		}
	}
	if err := b.dependencies(ctx); err != nil {
		return s.fail(b, err)
	}
	if err := s.awaitNodes(ctx, b.dynDepNodes()); err != nil {
		return s.fail(b, err)
	}

	// Step 5: consult the oracle.
	recs, err = s.loadRecords(b)
	if err != nil {
		return s.fail(b, err)
	}
	stale, why, err := s.stale(b, recs)
	if err != nil {
		return s.fail(b, err)
	}
	tr := s.traceFor(ctx)
	var btr *Trace
	if tr != nil {
		btr = tr.pushBuilder(b)
	}
	if !stale {
		if btr != nil {
			btr.nodeUpToDate(b.Targets()[0])
		}
		return nil
	}
	if btr != nil {
		btr.nodeStale(b.Targets()[0], why)
	}

	// Step 6: execute under a job slot.
	if err := s.acquireJob(ctx); err != nil {
		return s.fail(b, err)
	}
	if btr != nil {
		btr.runBuilder(b)
	}
	ok, execErr := b.Op.Execute(ctx, b, s.Env)
	s.releaseJob()
	if execErr != nil {
		return s.fail(b, execErr)
	}
	if !ok {
		return s.fail(b, &BuilderFailed{Builder: b})
	}

	// Re-scan and await dynamic deps declared during Execute, then persist
	// the union of step-4 and step-6 dependency sets (spec's dynamic-dep
	// re-run rule).
	if err := s.awaitNodes(ctx, b.dynDepNodes()); err != nil {
		return s.fail(b, err)
	}
	if err := s.persist(b); err != nil {
		return s.fail(b, err)
	}
	return nil
}

func (s *Session) fail(b *Builder, err error) error {
	if _, ok := err.(*Interrupted); ok {
		s.markFailed(err)
		return err
	}
	wrapped := err
	if _, ok := err.(*BuilderFailed); !ok {
		wrapped = &BuilderFailed{Builder: b, Cause: err}
	}
	s.markFailed(wrapped)
	return wrapped
}

// awaitNodes builds every node concurrently and returns the first error, if
// any, once all of them have finished (already-started builders are never
// aborted, matching spec §4.5's cancellation rule).
func (s *Session) awaitNodes(ctx context.Context, nodes []*Node) error {
	if len(nodes) == 0 {
		return nil
	}
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		firstEr error
	)
	for _, n := range nodes {
		wg.Add(1)
		go func(n *Node) {
			defer wg.Done()
			if err := s.buildNode(ctx, n); err != nil {
				mu.Lock()
				if firstEr == nil {
					firstEr = err
				}
				mu.Unlock()
			}
		}(n)
	}
	wg.Wait()
	return firstEr
}

// depAndSourceNodes is b's static sources plus the user-added dependency set
// of each of its targets, deduplicated. It is what driver step 3 awaits and
// what the oracle and persist treat as b's full set of freshness-relevant
// inputs, alongside the dynamic dependencies tracked separately in
// core/dyndeps.go.
func (b *Builder) depAndSourceNodes() []*Node {
	nodes := b.Sources()
	seen := make(map[*Node]bool, len(nodes))
	for _, n := range nodes {
		seen[n] = true
	}
	for _, t := range b.Targets() {
		for _, d := range t.Dependencies() {
			if !seen[d] {
				seen[d] = true
				nodes = append(nodes, d)
			}
		}
	}
	return nodes
}

func (b *Builder) dynDepNodes() []*Node {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*Node
	for _, entries := range b.dynSrcs {
		for _, e := range entries {
			out = append(out, e.node)
		}
	}
	return out
}

// loadRecords returns the current build record for each of b's targets, in
// the same order, with nil entries where no record exists yet.
func (s *Session) loadRecords(b *Builder) ([]*BuildRecord, error) {
	targets := b.Targets()
	recs := make([]*BuildRecord, len(targets))
	for i, t := range targets {
		rec, err := s.db.load(t.Name())
		if err != nil {
			return nil, err
		}
		recs[i] = rec
	}
	return recs, nil
}

// persist writes a fresh build record for every target of b after a
// successful execute: current source hashes (and mtimes, if mtime mode is
// active), the full observed dynamic-dependency set with hashes filled in,
// the producer signature, and each target's own content hash.
func (s *Session) persist(b *Builder) error {
	sig, err := builderSignature(b)
	if err != nil {
		return err
	}
	sources := b.depAndSourceNodes()
	srcHashes := make(map[string]string, len(sources))
	var srcMTimes map[string]int64
	if s.UseMtime {
		srcMTimes = make(map[string]int64)
	}
	for _, src := range sources {
		h, err := s.signature(src.Artefact)
		if err != nil {
			return err
		}
		srcHashes[src.Name()] = h
		if s.UseMtime {
			if mt, ok, err := src.Artefact.ModTime(); err == nil && ok {
				srcMTimes[src.Name()] = mt.Unix()
			}
		}
	}

	dyn := b.dynDeps()
	for i := range dyn {
		n, ok := s.registry.lookup(dyn[i].Path)
		if !ok {
			continue
		}
		h, err := s.signature(n.Artefact)
		if err != nil {
			return err
		}
		dyn[i].Hash = h
	}

	for _, t := range b.Targets() {
		if s.AdjustMtimeFuture {
			if err := s.adjustMtimeFuture(t, sources); err != nil {
				return err
			}
		}
		targetHash, err := s.signature(t.Artefact)
		if err != nil {
			return err
		}
		rec := &BuildRecord{
			Sources:      srcHashes,
			SourceMTimes: srcMTimes,
			DynDeps:      dyn,
			Signature:    sig,
			TargetHash:   targetHash,
		}
		if err := s.db.store(t.Name(), rec); err != nil {
			return err
		}
	}
	return nil
}

// adjustMtimeFuture sets target's mtime to max(target mtime, max(source
// mtime)+1s) so the fast path stays monotone across clock skew, per
// spec §4.4. Artefacts that cannot report or set an mtime are skipped.
func (s *Session) adjustMtimeFuture(target *Node, sources []*Node) error {
	fa, ok := target.Artefact.(FileArtefact)
	if !ok {
		return nil
	}
	targetMT, hasTarget, err := fa.ModTime()
	if err != nil || !hasTarget {
		return err
	}
	newest := targetMT
	for _, src := range sources {
		mt, ok, err := src.Artefact.ModTime()
		if err != nil {
			return err
		}
		if ok && mt.Add(time.Second).After(newest) {
			newest = mt.Add(time.Second)
		}
	}
	if !newest.After(targetMT) {
		return nil
	}
	return chtimes(string(fa), newest)
}
