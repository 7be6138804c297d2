package core

import (
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"
)

// Artefact is the tangible (or virtual) outcome a [Node] stands for. Name
// must be stable and unique within a [Session]; WriteHash must serialize the
// artefact's content deterministically since its bytes feed the content
// hash the staleness oracle compares across builds. Node authors composing
// a value out of unordered data (e.g. a map) are responsible for imposing a
// stable order before writing it — see [ValueArtefact] for a helper that
// does this for a simple string map.
type Artefact interface {
	Name() string
	Exists() (bool, error)
	// ModTime returns the artefact's last-modified time, or ok=false if the
	// artefact does not offer one (virtual and abstract artefacts).
	ModTime() (t time.Time, ok bool, err error)
	WriteHash(w io.Writer) error
}

// FileArtefact is a file addressed by the path [Session.File] produces: the
// session's working directory joined with a relative path. Its methods use
// that path unchanged for every filesystem call.
type FileArtefact string

func (f FileArtefact) Name() string { return string(f) }

func (f FileArtefact) Exists() (bool, error) {
	_, err := os.Stat(string(f))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (f FileArtefact) ModTime() (time.Time, bool, error) {
	fi, err := os.Stat(string(f))
	if err != nil {
		if os.IsNotExist(err) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, err
	}
	return fi.ModTime(), true, nil
}

func (f FileArtefact) WriteHash(w io.Writer) error {
	return hashFileInto(w, string(f))
}

// Abstract names a goal that delivers no tangible result of its own; it is
// satisfied purely by the success of its producer's builders (e.g. a
// top-level "all" or "test" goal).
type Abstract string

func (a Abstract) Name() string { return string(a) }

func (a Abstract) Exists() (bool, error) { return true, nil }

func (a Abstract) ModTime() (time.Time, bool, error) { return time.Time{}, false, nil }

func (a Abstract) WriteHash(w io.Writer) error {
	_, err := io.WriteString(w, string(a))
	return err
}

// ValueArtefact wraps an in-memory value that has no file representation
// (e.g. a generated configuration object). It never reports a ModTime, so
// the oracle always falls back to a content-hash comparison for it.
type ValueArtefact struct {
	ArtefactName string
	// Hash writes a deterministic encoding of the value to w.
	Hash func(w io.Writer) error
}

// StringMapValue returns a Hash function for [ValueArtefact] that serializes
// m as sorted "key=value\n" lines, making the result independent of Go's
// randomized map iteration order (see SPEC_FULL.md's note on OQ2).
func StringMapValue(m map[string]string) func(io.Writer) error {
	return func(w io.Writer) error {
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if _, err := fmt.Fprintf(w, "%s=%s\n", k, m[k]); err != nil {
				return err
			}
		}
		return nil
	}
}

func (v *ValueArtefact) Name() string { return v.ArtefactName }

func (v *ValueArtefact) Exists() (bool, error) { return true, nil }

func (v *ValueArtefact) ModTime() (time.Time, bool, error) { return time.Time{}, false, nil }

func (v *ValueArtefact) WriteHash(w io.Writer) error { return v.Hash(w) }

// Node is one vertex of the build graph: an artefact plus the bookkeeping
// needed to decide whether it is stale and to serialize concurrent access
// to its build state. A Node is produced by at most one [Builder]; it may be
// consumed as a source by any number of builders.
type Node struct {
	Artefact Artefact

	sess *Session

	id uint // assigned by the registry, used by cycle detection's bitsets

	sync.Mutex
	producer  *Builder
	consumers []*Builder
	deps      []*Node // user-added dependencies, see DependencyAdd
}

func (n *Node) Session() *Session { return n.sess }

func (n *Node) Name() string { return n.Artefact.Name() }

func (n *Node) String() string { return fmt.Sprintf("[%s]", n.Name()) }

// Producer returns the builder that produces this node, or nil if the node
// is a plain source with no producer.
func (n *Node) Producer() *Builder { return n.producer }

// Consumers returns the builders that take this node as a source.
func (n *Node) Consumers() []*Builder {
	n.Lock()
	defer n.Unlock()
	return append([]*Builder(nil), n.consumers...)
}

func (n *Node) addConsumer(b *Builder) {
	n.Lock()
	defer n.Unlock()
	n.consumers = append(n.consumers, b)
}

// DependencyAdd records other as a user-declared dependency of n,
// independent of any builder wiring: whenever other is stale (or missing),
// n's producer is rechecked too, the same as if other were a static source
// of n's producer (spec §3/§6). This is how a builder's freshness can be
// made to depend on something it never reads as an input, e.g. a tool
// version file or a configuration node with no producer of its own.
func (n *Node) DependencyAdd(other *Node) {
	n.Lock()
	defer n.Unlock()
	for _, d := range n.deps {
		if d == other {
			return
		}
	}
	n.deps = append(n.deps, other)
}

// Dependencies returns the user-declared dependency set added via
// DependencyAdd.
func (n *Node) Dependencies() []*Node {
	n.Lock()
	defer n.Unlock()
	return append([]*Node(nil), n.deps...)
}
