package core

import (
	"io"
	"maps"
	"os"
	"strings"

	"git.fractalqb.de/fractalqb/qbsllm"
)

// Env carries the I/O streams, leveled logger and process-environment
// overlay a [Builder] sees while executing. Envs form a parent chain so a
// builder can derive a child Env with extra tags without disturbing its
// caller's view (see [Env.Sub]).
type Env struct {
	Log      *qbsllm.Logger
	In       io.Reader
	Out, Err io.Writer

	tags    map[string]string
	delt    map[string]bool
	xenv    []string
	xenvErr error
	parent  *Env
}

// DefaultEnv builds an Env from the process's stdio and environment, logging
// at [qbsllm.Lnormal] tagged "drake".
func DefaultEnv(log *qbsllm.Logger) *Env {
	if log == nil {
		log = qbsllm.New(qbsllm.Lnormal, "drake", os.Stderr, nil)
	}
	env := &Env{
		Log:  log,
		In:   os.Stdin,
		Out:  os.Stdout,
		Err:  os.Stderr,
		tags: make(map[string]string),
	}
	for _, evar := range os.Environ() {
		kv := strings.SplitN(evar, "=", 2)
		if kv[0] == "" {
			continue
		}
		if len(kv) == 2 {
			env.tags[kv[0]] = kv[1]
		} else {
			env.tags[kv[0]] = ""
		}
	}
	return env
}

// Sub returns a child Env sharing this Env's I/O but with its own tag
// overlay, so tags set on the child never leak back to the parent.
func (e *Env) Sub() *Env {
	return &Env{
		Log: e.Log, In: e.In, Out: e.Out, Err: e.Err,
		parent: e,
	}
}

// Clone returns an independent Env with a flattened copy of this Env's tags.
func (e *Env) Clone() *Env {
	return &Env{
		Log: e.Log, In: e.In, Out: e.Out, Err: e.Err,
		tags: e.mergedTags(),
	}
}

func (e *Env) Tag(key string) (string, bool) {
	for e != nil {
		if v, ok := e.tags[key]; ok {
			return v, true
		}
		if e.delt != nil && e.delt[key] {
			break
		}
		e = e.parent
	}
	return "", false
}

func (e *Env) SetTag(key, val string) {
	if e.tags == nil {
		e.tags = make(map[string]string)
	}
	e.tags[key] = val
	delete(e.delt, key)
	e.clearXEnv()
}

func (e *Env) DelTag(key string) {
	delete(e.tags, key)
	if e.parent != nil {
		if e.delt == nil {
			e.delt = make(map[string]bool)
		}
		e.delt[key] = true
	}
	e.clearXEnv()
}

// ExecEnv renders the merged tag overlay as a "KEY=VALUE" slice suitable for
// exec.Cmd.Env. The result is cached until the next tag mutation.
func (e *Env) ExecEnv() ([]string, error) {
	if e.xenv == nil && e.xenvErr == nil {
		var errKeys []string
		merged := e.mergedTags()
		keys := make([]string, 0, len(merged))
		for k := range merged {
			keys = append(keys, k)
		}
		for _, k := range keys {
			switch {
			case k == "":
				errKeys = append(errKeys, `""`)
			case strings.ContainsRune(k, '='):
				errKeys = append(errKeys, k)
			default:
				e.xenv = append(e.xenv, k+"="+merged[k])
			}
		}
		if len(errKeys) > 0 {
			e.xenvErr = NonXEnvKeys(errKeys)
		}
	}
	return e.xenv, e.xenvErr
}

func (e *Env) clearXEnv() {
	e.xenv = nil
	e.xenvErr = nil
}

func (e *Env) mergedTags() map[string]string {
	if e.parent == nil {
		return maps.Clone(e.tags)
	}
	mts := e.parent.mergedTags()
	for k := range e.delt {
		delete(mts, k)
	}
	maps.Copy(mts, e.tags)
	return mts
}

// NonXEnvKeys reports environment tag keys that cannot be rendered into an
// exec.Cmd environment line (empty, or containing '=').
type NonXEnvKeys []string

func (e NonXEnvKeys) Error() string {
	return "illegal exec env keys: " + strings.Join(e, ", ")
}

func (NonXEnvKeys) Is(target error) bool {
	_, ok := target.(NonXEnvKeys)
	return ok
}
