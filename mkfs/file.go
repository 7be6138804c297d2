// Package mkfs provides [core.Artefact] implementations for ordinary
// filesystem paths: single files, flat directory listings and recursive
// directory trees, plus the path-manipulation sugar builders need to mirror
// a source tree into a build output tree.
package mkfs

import (
	"io"
	"path/filepath"
	"time"

	"git.fractalqb.de/fractalqb/drake/core"
)

// File is a single file addressed by its path as given; the path is used
// unchanged for every filesystem call, without resolving it against the
// session's working directory.
type File string

var _ core.Artefact = File("")
var _ Artefact = File("")

func (f File) Path() string { return string(f) }

func (f File) Name() string { return string(f) }

func (f File) Exists() (bool, error) { return core.FileArtefact(f).Exists() }

func (f File) ModTime() (time.Time, bool, error) { return core.FileArtefact(f).ModTime() }

func (f File) WriteHash(w io.Writer) error { return core.FileArtefact(f).WriteHash(w) }

// Moved rewrites f's path by stripping the strip directory's prefix (if
// given) and re-rooting it under dest, the way a mirroring builder derives
// an output path from a source path.
func (f File) Moved(strip, dest Directory) (File, error) {
	var (
		path string
		err  error
	)
	if strip == nil {
		path, err = movedPath(f.Path(), "", dest.Path())
	} else {
		path, err = movedPath(f.Path(), strip.Path(), dest.Path())
	}
	if err != nil {
		return File(""), err
	}
	return File(filepath.ToSlash(path)), nil
}

func (f File) Ext() string { return filepath.Ext(f.Path()) }

// WithExt returns f with its extension replaced by ext (which may omit the
// leading dot); ext == "" strips the extension entirely.
func (f File) WithExt(ext string) File {
	path := f.Path()
	if ext == "" {
		e := filepath.Ext(path)
		if e == "" {
			return f
		}
		return File(path[:len(path)-len(e)])
	}
	if ext[0] != '.' {
		ext = "." + ext
	}
	fExt := filepath.Ext(path)
	if fExt == "" {
		return File(path + ext)
	}
	return File(path[:len(path)-len(fExt)] + ext)
}
