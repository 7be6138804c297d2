package core

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const dbSchemaVersion = 1

// database is the persistent, per-target build record store under
// <workdir>/.drake. It mirrors original drake's one-dep-file-per-builder
// design, generalized to JSON and widened to also carry the producer
// signature and dynamic-dependency groups spec §3 requires.
type database struct {
	dir string // <workdir>/.drake
}

// openDatabase opens the build database under workDir, discarding and
// recreating it on any schema mismatch rather than guessing at an upgrade.
// mismatch is non-nil when a discard happened, for callers that want to
// surface it (NewSession logs it as a warning).
func openDatabase(workDir string) (db *database, mismatch *DatabaseSchemaMismatch, err error) {
	dir := filepath.Join(workDir, ".drake")
	db = &database{dir: dir}
	schemaFile := filepath.Join(dir, "SCHEMA")
	data, err := os.ReadFile(schemaFile)
	switch {
	case err == nil:
		var have int
		if _, scanErr := fmt.Sscanf(string(data), "%d", &have); scanErr != nil || have != dbSchemaVersion {
			mismatch = &DatabaseSchemaMismatch{Have: have, Want: dbSchemaVersion}
			if discardErr := os.RemoveAll(dir); discardErr != nil {
				return nil, nil, discardErr
			}
		}
	case errors.Is(err, os.ErrNotExist):
		if entries, _ := os.ReadDir(dir); len(entries) > 0 {
			// Records exist but no schema marker: treat as a foreign or
			// pre-schema database and discard it rather than guess.
			mismatch = &DatabaseSchemaMismatch{Have: 0, Want: dbSchemaVersion}
			if discardErr := os.RemoveAll(dir); discardErr != nil {
				return nil, nil, discardErr
			}
		}
	default:
		return nil, nil, err
	}
	if err := os.MkdirAll(filepath.Join(dir, "obj"), 0o755); err != nil {
		return nil, nil, err
	}
	if err := writeFileAtomic(schemaFile, []byte(fmt.Sprintf("%d", dbSchemaVersion))); err != nil {
		return nil, nil, err
	}
	return db, mismatch, nil
}

// BuildRecord is the persisted state of the last successful build of one
// target.
type BuildRecord struct {
	Sources      map[string]string `json:"sources"`                 // static source name -> content hash
	SourceMTimes map[string]int64  `json:"source_mtimes,omitempty"` // name -> unix seconds, mtime mode only
	DynDeps      []DynDep          `json:"dyn_deps,omitempty"`
	Signature    string            `json:"signature"`
	TargetHash   string            `json:"target_hash"`
}

func (db *database) path(target string) string {
	sum := sha256.Sum256([]byte(target))
	return filepath.Join(db.dir, "obj", fmt.Sprintf("%x.json", sum))
}

// load returns the record for target, or (nil, nil) if there is none yet.
func (db *database) load(target string) (*BuildRecord, error) {
	data, err := os.ReadFile(db.path(target))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var rec BuildRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		// A corrupt single record is treated like a missing one: the
		// builder rebuilds and overwrites it.
		return nil, nil
	}
	return &rec, nil
}

// store persists rec for target, atomically.
func (db *database) store(target string, rec *BuildRecord) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(db.path(target), data)
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
