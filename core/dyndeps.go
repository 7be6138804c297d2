package core

import (
	"fmt"
	"sort"
	"sync"
)

// DepHandler reconstructs the Node a persisted dynamic-dependency tuple
// referred to, so a later session can re-register it (driver step 4) before
// the operation's Execute runs again. typ is a free-form tag the operation
// chose when it first declared the dependency (e.g. a header vs. a library
// search hit); data is whatever opaque payload the operation persisted
// alongside path.
type DepHandler func(b *Builder, path, typ, data string) (*Node, error)

var depHandlers sync.Map // kind string -> DepHandler

// RegisterDepKind registers the handler for a dependency-kind identifier.
// Registration is global and idempotent: registering the same kind twice
// with equal behavior is harmless, but drake does not detect or warn about
// two different handlers racing to claim the same kind, matching the
// original register_deps_handler contract this mirrors.
func RegisterDepKind(kind string, h DepHandler) {
	depHandlers.Store(kind, h)
}

func lookupDepKind(kind string) (DepHandler, bool) {
	v, ok := depHandlers.Load(kind)
	if !ok {
		return nil, false
	}
	return v.(DepHandler), true
}

// DynDep is one persisted dynamic-dependency tuple: the kind it was
// declared under, the node it resolved to, a free-form type tag and an
// opaque payload the declaring operation can use to recreate the node
// without the target existing yet.
type DynDep struct {
	Kind string
	Path string
	Type string
	Data string
	Hash string `json:"hash,omitempty"`
}

// AddDynSrc records n as a dynamic source of b under the given
// dependency-kind, discovered during Dependencies or Execute. typ and data
// are stored verbatim in the build record so a future session's DepHandler
// for kind can reconstruct n before b's Operation runs again.
func (b *Builder) AddDynSrc(kind string, n *Node, typ, data string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, d := range b.dynSrcs[kind] {
		if d.node == n {
			return
		}
	}
	b.dynSrcs[kind] = append(b.dynSrcs[kind], dynSrcEntry{node: n, typ: typ, data: data})
	b.sources = appendUniqueNode(b.sources, n)
}

type dynSrcEntry struct {
	node *Node
	typ  string
	data string
}

// dynDeps returns the full observed dynamic-dependency set, sorted by
// (kind, path) for deterministic persistence.
func (b *Builder) dynDeps() []DynDep {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []DynDep
	for kind, entries := range b.dynSrcs {
		for _, e := range entries {
			out = append(out, DynDep{Kind: kind, Path: e.node.Name(), Type: e.typ, Data: e.data})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Path < out[j].Path
	})
	return out
}

// restoreDynDeps re-interns the nodes named by a previously persisted
// dynamic-dependency set, using each kind's registered DepHandler, and adds
// them as sources of b. It is driver step 4: reconstructing dynamic sources
// from the last build record before the oracle is consulted.
func (b *Builder) restoreDynDeps(recs []DynDep) error {
	for _, r := range recs {
		h, ok := lookupDepKind(r.Kind)
		if !ok {
			return fmt.Errorf("core: no dependency-kind handler registered for %q", r.Kind)
		}
		n, err := h(b, r.Path, r.Type, r.Data)
		if err != nil {
			return fmt.Errorf("core: reconstructing dynamic dep %s/%s: %w", r.Kind, r.Path, err)
		}
		b.AddDynSrc(r.Kind, n, r.Type, r.Data)
	}
	return nil
}

func appendUniqueNode(ns []*Node, n *Node) []*Node {
	for _, e := range ns {
		if e == n {
			return ns
		}
	}
	return append(ns, n)
}
