package core

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"

	"git.fractalqb.de/fractalqb/qbsllm"
)

// Session owns one build's registry, database, job-slot budget and failure
// state. Nodes and builders created against a Session live for its whole
// lifetime; a Session is not reused across independent builds.
type Session struct {
	// Jobs is the number of concurrent job slots (spec §4.5); it gates
	// Operation.Execute calls, not graph traversal. Defaults to
	// runtime.NumCPU() if zero.
	Jobs int
	// UseMtime enables the mtime fast path (spec §4.4), default true,
	// overridden by the DRAKE_MTIME environment variable ("0" disables).
	UseMtime bool
	// AdjustMtimeFuture, when set, makes the driver bump a freshly built
	// target's mtime past its newest source's mtime after a successful
	// build, keeping the fast path monotone across clock skew.
	AdjustMtimeFuture bool
	// WorkingDir is the root canonical paths are resolved against and
	// where the .drake database directory lives. Defaults to ".".
	WorkingDir string

	Log *qbsllm.Logger
	Env *Env

	registry  *registry
	db        *database
	hashCache hashCache
	jobSem    chan struct{}

	tracer    Tracer
	traceOnce sync.Once
	trace     *Trace

	failOnce sync.Once
	failed   atomic.Bool
	firstErr atomic.Value // error
}

// NewSession creates a Session rooted at workDir, opening (or discarding and
// recreating) its build database. tr may be nil, in which case callers
// that wrap core substitute a WriteTracer at TraceWarn level (see the drake
// package); core itself stays silent if tr is nil.
func NewSession(workDir string, jobs int, tr Tracer) (*Session, error) {
	if workDir == "" {
		workDir = "."
	}
	if jobs <= 0 {
		jobs = runtime.NumCPU()
	}
	db, mismatch, err := openDatabase(workDir)
	if err != nil {
		return nil, fmt.Errorf("core: opening build database: %w", err)
	}
	log := qbsllm.New(qbsllm.Lnormal, "drake", os.Stderr, nil)
	if mismatch != nil {
		log.Warns("discarding build database: " + mismatch.Error())
	}
	s := &Session{
		Jobs:       jobs,
		UseMtime:   envMtimeDefault(),
		WorkingDir: workDir,
		Log:        log,
		Env:        DefaultEnv(log),
		registry:   newRegistry(),
		db:         db,
		jobSem:     make(chan struct{}, jobs),
		tracer:     tr,
	}
	return s, nil
}

func envMtimeDefault() bool {
	return os.Getenv("DRAKE_MTIME") != "0"
}

// Canon resolves path relative to the session's working directory and
// rejects any result that escapes it, per spec §4.2. An absolute path is
// taken as is (cleaned) rather than joined onto the working directory.
func (s *Session) Canon(path string) (string, error) {
	root := s.WorkingDir
	if root == "" {
		root = "."
	}
	joined := filepath.Clean(path)
	if !filepath.IsAbs(path) {
		joined = filepath.Join(root, path)
	}
	rel, err := filepath.Rel(root, joined)
	if err != nil {
		return "", err
	}
	if rel == ".." || (len(rel) >= 3 && rel[:3] == ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("core: path %q escapes working directory", path)
	}
	return filepath.ToSlash(joined), nil
}

// File interns a [FileArtefact] node at path, canonicalized against the
// session's working directory.
func (s *Session) File(path string) (*Node, error) {
	canon, err := s.Canon(path)
	if err != nil {
		return nil, err
	}
	return s.registry.intern(s, FileArtefact(canon))
}

// Value interns a [ValueArtefact] node under name.
func (s *Session) Value(name string, hash func(w io.Writer) error) (*Node, error) {
	return s.registry.intern(s, &ValueArtefact{ArtefactName: name, Hash: hash})
}

// Node interns any user-defined [Artefact], for callers (e.g. package mkfs)
// that need a node kind richer than [FileArtefact], [ValueArtefact] or
// [Abstract].
func (s *Session) Node(art Artefact) (*Node, error) {
	return s.registry.intern(s, art)
}

// Touch interns a plain file leaf with no producer: the common case of
// declaring an existing source file by name (spec §6). It is just File
// under a name that reads better at a call site that never builds the
// node, only depends on it.
func (s *Session) Touch(path string) (*Node, error) {
	return s.File(path)
}

// Goal interns an [Abstract] node under name.
func (s *Session) Goal(name string) (*Node, error) {
	return s.registry.intern(s, Abstract(name))
}

// Lookup returns a previously interned node by its canonical name.
func (s *Session) Lookup(name string) (*Node, bool) {
	return s.registry.lookup(name)
}

func (s *Session) markFailed(err error) {
	s.failOnce.Do(func() {
		s.firstErr.Store(err)
		s.failed.Store(true)
	})
}

// Failed reports whether any builder has failed in this session, and the
// first such failure. Once true it stays true: a session that has seen a
// failure never resets, even if later, already-running builders succeed
// (spec §8, termination-keep-successful).
func (s *Session) Failed() (bool, error) {
	if !s.failed.Load() {
		return false, nil
	}
	err, _ := s.firstErr.Load().(error)
	return true, err
}

func (s *Session) acquireJob(ctx context.Context) error {
	select {
	case s.jobSem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) releaseJob() { <-s.jobSem }

// traceFor returns the session's root Trace, or nil if no Tracer was
// configured. The root is created lazily, on first use, from ctx.
func (s *Session) traceFor(ctx context.Context) *Trace {
	if s.tracer == nil {
		return nil
	}
	s.traceOnce.Do(func() { s.trace = NewTrace(ctx, s.tracer) })
	return s.trace
}
