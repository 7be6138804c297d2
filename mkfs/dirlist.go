package mkfs

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"git.fractalqb.de/fractalqb/drake/core"
)

// DirList is the immediate (non-recursive) entries of a directory, filtered
// by an optional [Filter].
type DirList struct {
	Dir    string
	Filter Filter
}

var _ Directory = DirList{}
var _ core.Artefact = DirList{}

func (d DirList) Path() string { return d.Dir }

func (d DirList) Name() string { return d.Dir }

// List returns the path (d.Dir joined with the entry name) of every entry
// this listing keeps after filtering.
func (d DirList) List() (ls []string, err error) {
	err = d.ls(d.Dir, func(_ string, e fs.DirEntry) error {
		ls = append(ls, filepath.Join(d.Dir, e.Name()))
		return nil
	})
	return
}

// Children interns a [File] or [DirList] node in sess for every entry this
// listing keeps: a subdirectory becomes a DirList with the same filter,
// which is interned but not itself listed.
func (d DirList) Children(sess *core.Session) (ns []*core.Node, err error) {
	err = d.ls(d.Dir, func(_ string, e fs.DirEntry) error {
		p := filepath.Join(d.Dir, e.Name())
		var (
			n   *core.Node
			err error
		)
		if e.IsDir() {
			n, err = sess.Node(DirList{Dir: p, Filter: d.Filter})
		} else {
			n, err = sess.Node(File(p))
		}
		if err != nil {
			return err
		}
		ns = append(ns, n)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ns, nil
}

// Contains reports whether a's path is an immediate child of this listing
// and passes its filter.
func (d DirList) Contains(a Artefact) (bool, error) {
	aDir := filepath.Dir(a.Path())
	dPath := filepath.Clean(d.Path())
	if aDir != dPath {
		return false, nil
	}
	if d.Filter == nil {
		return true, nil
	}
	stat, err := os.Stat(a.Path())
	if err != nil {
		return false, err
	}
	ok, err := d.Filter.Ok(a.Path(), fs.FileInfoToDirEntry(stat))
	if errors.Is(err, fs.SkipDir) {
		err = nil
	}
	return ok, err
}

func (d DirList) Exists() (bool, error) {
	st, err := os.Stat(d.Path())
	switch {
	case err == nil:
		if !st.IsDir() {
			return true, fmt.Errorf("%s is not a directory", d.Path())
		}
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	}
	return false, err
}

// ModTime is the newest entry's modification time; it is a coarse fast
// path only (an entry removed without any remaining entry's mtime changing
// goes undetected), so [DirList.WriteHash] is what callers relying on
// correctness, not just speed, should fall back on.
func (d DirList) ModTime() (t time.Time, ok bool, err error) {
	exists, err := d.Exists()
	if err != nil || !exists {
		return time.Time{}, false, err
	}
	err = d.ls(d.Dir, func(_ string, e fs.DirEntry) error {
		if info, err := e.Info(); err != nil {
			return err
		} else if mt := info.ModTime(); mt.After(t) {
			t = mt
		}
		return nil
	})
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}

// WriteHash writes a deterministic encoding of this listing's entry names,
// sizes and mod times, so adding or removing an entry is detected even when
// ModTime's fast path would miss it.
func (d DirList) WriteHash(w io.Writer) error {
	type entry struct {
		name string
		size int64
		mt   time.Time
	}
	var entries []entry
	err := d.ls(d.Dir, func(_ string, e fs.DirEntry) error {
		info, err := e.Info()
		if err != nil {
			return err
		}
		entries = append(entries, entry{name: e.Name(), size: info.Size(), mt: info.ModTime()})
		return nil
	})
	if err != nil {
		return err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].name < entries[j].name })
	for _, e := range entries {
		if _, err := fmt.Fprintf(w, "%s\t%d\t%d\n", e.name, e.size, e.mt.UnixNano()); err != nil {
			return err
		}
	}
	return nil
}

func (d DirList) Remove() error {
	err := d.ls(d.Dir, func(_ string, e fs.DirEntry) error {
		return os.Remove(filepath.Join(d.Dir, e.Name()))
	})
	if err != nil {
		return err
	}
	return rmDirIfEmpty(d.Dir)
}

// Moved rewrites d's root the same way [File.Moved] does.
func (d DirList) Moved(strip, dest Directory) (DirList, error) {
	var (
		path string
		err  error
	)
	if strip == nil {
		path, err = movedPath(d.Path(), "", dest.Path())
	} else {
		path, err = movedPath(d.Path(), strip.Path(), dest.Path())
	}
	if err != nil {
		return DirList{}, err
	}
	return DirList{Dir: filepath.ToSlash(path), Filter: d.Filter}, nil
}

func (d DirList) ls(dir string, do func(p string, e fs.DirEntry) error) error {
	rdir, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, entry := range rdir {
		if d.Filter != nil {
			if ok, err := d.Filter.Ok(entry.Name(), entry); err != nil {
				return err
			} else if !ok {
				continue
			}
		}
		if err := do(entry.Name(), entry); err != nil {
			return err
		}
	}
	return nil
}
