package core

import (
	"crypto/sha256"
	"fmt"
)

// builderSignature is a stable hash of b's Operation identity plus whatever
// configuration it chooses to contribute via [SignatureWriter]. Two
// builders of the same Go type with different configuration (a different
// command line, different flags) must not share a signature, or the oracle
// would wrongly call a reconfigured builder fresh.
func builderSignature(b *Builder) (string, error) {
	h := sha256.New()
	fmt.Fprintf(h, "%T", b.Op)
	if sw, ok := b.Op.(SignatureWriter); ok {
		if err := sw.WriteSignature(h); err != nil {
			return "", err
		}
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// stale reports whether b must execute, per spec's four freshness
// conditions, and why (for tracing). recs holds the current per-target
// records, one per b.Targets(), in the same order; a nil entry means "no
// record yet", which always makes b stale.
func (s *Session) stale(b *Builder, recs []*BuildRecord) (bool, string, error) {
	sig, err := builderSignature(b)
	if err != nil {
		return false, "", err
	}
	targets := b.Targets()
	for i, t := range targets {
		rec := recs[i]
		if rec == nil {
			return true, fmt.Sprintf("%s has no build record", t), nil
		}
		exists, err := t.Artefact.Exists()
		if err != nil {
			return false, "", err
		}
		if !exists {
			return true, fmt.Sprintf("%s does not exist", t), nil
		}
		if rec.Signature != sig {
			return true, fmt.Sprintf("%s producer signature changed", t), nil
		}
	}
	if stale, why, err := s.staleSources(b.depAndSourceNodes(), recs[0]); err != nil || stale {
		return stale, why, err
	}
	return s.staleDynSources(b, recs[0])
}

func (s *Session) staleSources(sources []*Node, rec *BuildRecord) (bool, string, error) {
	for _, src := range sources {
		stale, why, err := s.staleOne(src, rec.Sources[src.Name()], rec.SourceMTimes)
		if err != nil || stale {
			return stale, why, err
		}
	}
	return false, "", nil
}

func (s *Session) staleDynSources(b *Builder, rec *BuildRecord) (bool, string, error) {
	for _, d := range rec.DynDeps {
		n, ok := s.registry.lookup(d.Path)
		if !ok {
			return true, fmt.Sprintf("dynamic dep %s no longer registered", d.Path), nil
		}
		stale, why, err := s.staleOne(n, d.Hash, rec.SourceMTimes)
		if err != nil || stale {
			return stale, why, err
		}
	}
	return false, "", nil
}

// staleOne decides freshness for a single dependency node against its
// recorded hash, trying the mtime fast path first when enabled: if the
// artefact's current mtime matches what was recorded last time, its hash is
// never recomputed. This is what keeps an Unhashable-style artefact (one
// whose WriteHash is expensive or deliberately unsupported until needed)
// from ever being hashed on the fast path, per spec §8.
func (s *Session) staleOne(n *Node, recordedHash string, mtimes map[string]int64) (bool, string, error) {
	if recordedHash == "" {
		return true, fmt.Sprintf("%s has no recorded hash", n), nil
	}
	if s.UseMtime {
		if recordedSec, ok := mtimes[n.Name()]; ok {
			if mt, hasMT, err := n.Artefact.ModTime(); err != nil {
				return false, "", err
			} else if hasMT && mt.Unix() == recordedSec {
				return false, "", nil
			}
		}
	}
	cur, err := s.signature(n.Artefact)
	if err != nil {
		return false, "", err
	}
	if cur != recordedHash {
		return true, fmt.Sprintf("%s changed", n), nil
	}
	return false, "", nil
}
