package core

import (
	"crypto/sha256"
	"fmt"
	"hash"
	"io"
	"os"
	"sync"
	"time"
)

// newHash returns the digest used for content signatures. drake uses SHA-256
// throughout; nothing in the build database format assumes a particular
// digest size beyond "long enough that two different artefacts never
// collide in practice".
func newHash() hash.Hash { return sha256.New() }

func hashFileInto(w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(w, f)
	return err
}

// signature returns the hex content hash of art, consulting the session's
// (path, mtime) cache first so an unchanged file is hashed at most once per
// session even if several builders read it as a source.
func (s *Session) signature(art Artefact) (string, error) {
	mt, hasMT, err := art.ModTime()
	if err != nil {
		return "", err
	}
	var key hashCacheKey
	if hasMT {
		key = hashCacheKey{name: art.Name(), mtime: mt}
		if v, ok := s.hashCache.Load(key); ok {
			return v.(string), nil
		}
	}
	h := newHash()
	if err := art.WriteHash(h); err != nil {
		return "", err
	}
	sum := fmt.Sprintf("%x", h.Sum(nil))
	if hasMT {
		s.hashCache.Store(key, sum)
	}
	return sum, nil
}

type hashCacheKey struct {
	name  string
	mtime time.Time
}

// hashCache is a thin wrapper so Session doesn't expose sync.Map directly.
type hashCache struct {
	m sync.Map
}

func (c *hashCache) Load(k hashCacheKey) (any, bool) { return c.m.Load(k) }
func (c *hashCache) Store(k hashCacheKey, v any)     { c.m.Store(k, v) }
