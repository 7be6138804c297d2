package mkfs

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"git.fractalqb.de/fractalqb/drake/core"
)

// Artefact is a [core.Artefact] that also exposes its own filesystem path,
// the common capability every type in this package shares.
type Artefact interface {
	core.Artefact
	Path() string
}

// Directory is an Artefact that can enumerate the entries it considers its
// own — a flat listing for [DirList], a recursive walk for [DirTree].
type Directory interface {
	Artefact
	List() ([]string, error)

	ls(string, func(string, fs.DirEntry) error) error
}

// Moved dispatches to a's own Moved method, returning an error for any
// Artefact type this package does not know how to re-root.
func Moved(a Artefact, strip, dest Directory) (Artefact, error) {
	switch a := a.(type) {
	case File:
		return a.Moved(strip, dest)
	case DirList:
		return a.Moved(strip, dest)
	case DirTree:
		return a.Moved(strip, dest)
	}
	return a, fmt.Errorf("mkfs: cannot move artefact of type %T", a)
}

func movedPath(path, strip, dest string) (string, error) {
	if strip != "" {
		var err error
		if path, err = filepath.Rel(strip, path); err != nil {
			return "", err
		}
	}
	return filepath.Join(dest, path), nil
}

func rmDirIfEmpty(path string) error {
	if ok, err := isDirEmpty(path); err != nil {
		return err
	} else if !ok {
		return nil
	}
	return os.Remove(path)
}

func isDirEmpty(path string) (bool, error) {
	dir, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer dir.Close()
	if _, err = dir.ReadDir(1); errors.Is(err, io.EOF) {
		return true, nil
	}
	return false, err
}
