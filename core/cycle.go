package core

import "github.com/bits-and-blooms/bitset"

// checkAcyclic reports a [CycleDetected] error if any of sources
// transitively depends (through existing producer edges) on one of
// targets — i.e. wiring a builder from sources to targets would make some
// target an input of its own production. It is called before the new
// builder is attached to anything (see [Session.NewBuilder]), so it only
// ever walks edges that already exist.
//
// The visited set is a bitset indexed by node id, the same bookkeeping
// trick the teacher's Goal.LockPreActions used for a different purpose
// (tracking which of a goal's actions a concurrent locker still owes);
// here it tracks which nodes a single DFS has already walked, so a diamond
// in the graph is walked once instead of exponentially.
func (s *Session) checkAcyclic(sources, targets []*Node) error {
	targetSet := make(map[uint]string, len(targets))
	for _, t := range targets {
		targetSet[t.id] = t.Name()
	}
	visited := bitset.New(s.registry.size() + 1)
	var path []string
	var walk func(n *Node) error
	walk = func(n *Node) error {
		if visited.Test(n.id) {
			return nil
		}
		visited.Set(n.id)
		path = append(path, n.Name())
		if name, hit := targetSet[n.id]; hit {
			return &CycleDetected{Path: append(append([]string(nil), path...), name)}
		}
		if p := n.Producer(); p != nil {
			for _, src := range p.Sources() {
				if err := walk(src); err != nil {
					return err
				}
			}
		}
		path = path[:len(path)-1]
		return nil
	}
	for _, src := range sources {
		if err := walk(src); err != nil {
			return err
		}
	}
	return nil
}
