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

// DirTree is a recursive walk of a directory, filtered by an optional
// [Filter]; unlike [DirList] it descends into subdirectories.
type DirTree struct {
	Dir    string
	Filter Filter
}

var _ Directory = DirTree{}
var _ core.Artefact = DirTree{}

// DirFiles builds a DirTree over dir that keeps only subdirectory entries
// (not plain files) matching match (a glob pattern, or "" for no name
// filter), additionally excluding paths with more than pathMax path
// segments when pathMax > 0.
func DirFiles(dir, match string, pathMax int) DirTree {
	res := DirTree{Dir: dir}
	if match == "" {
		res.Filter = IsDir(true)
	} else {
		res.Filter = All{IsDir(true), NameMatch(match)}
	}
	if pathMax > 0 {
		switch es := res.Filter.(type) {
		case nil:
			res.Filter = MaxPathLen(pathMax)
		case All:
			res.Filter = append(es, MaxPathLen(pathMax))
		default:
			res.Filter = All{es, MaxPathLen(pathMax)}
		}
	}
	return res
}

func (d DirTree) Path() string { return d.Dir }

func (d DirTree) Name() string { return d.Dir }

func (d DirTree) List() (ls []string, err error) {
	err = d.ls(d.Dir, func(p string, e fs.DirEntry) error {
		ls = append(ls, p)
		return nil
	})
	return
}

func (d DirTree) Exists() (bool, error) {
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

// ModTime is the newest entry's modification time across the whole tree, a
// fast path with the same blind spot to deletions as [DirList.ModTime].
func (d DirTree) ModTime() (t time.Time, ok bool, err error) {
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

// WriteHash writes a deterministic encoding of the whole tree's entry
// paths, sizes and mod times.
func (d DirTree) WriteHash(w io.Writer) error {
	type entry struct {
		path string
		size int64
		mt   time.Time
	}
	var entries []entry
	err := d.ls(d.Dir, func(p string, e fs.DirEntry) error {
		info, err := e.Info()
		if err != nil {
			return err
		}
		entries = append(entries, entry{path: p, size: info.Size(), mt: info.ModTime()})
		return nil
	})
	if err != nil {
		return err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].path < entries[j].path })
	for _, e := range entries {
		if _, err := fmt.Fprintf(w, "%s\t%d\t%d\n", e.path, e.size, e.mt.UnixNano()); err != nil {
			return err
		}
	}
	return nil
}

func (d DirTree) Moved(strip, dest Directory) (DirTree, error) {
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
		return DirTree{}, err
	}
	return DirTree{Dir: filepath.ToSlash(path), Filter: d.Filter}, nil
}

func (d DirTree) ls(root string, do func(string, fs.DirEntry) error) error {
	return filepath.WalkDir(root, func(path string, e fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if ok, err := d.ok(rel, e); err != nil {
			return err
		} else if ok {
			if err := do(rel, e); err != nil {
				return err
			}
		}
		return nil
	})
}

func (d DirTree) ok(p string, e fs.DirEntry) (bool, error) {
	if d.Filter != nil {
		return d.Filter.Ok(p, e)
	}
	return true, nil
}
