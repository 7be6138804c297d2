package drake

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"git.fractalqb.de/fractalqb/drake/core"
)

// CmdOp is an [core.Operation] that runs one external command. Its
// signature covers the command line and redirect files, not the
// environment (see [CmdOp.WriteSignature]).
type CmdOp struct {
	CWD             string
	Exe             string
	Args            []string
	InFile, OutFile string
	Desc            string
}

var _ core.Operation = (*CmdOp)(nil)
var _ core.SignatureWriter = (*CmdOp)(nil)

func (op *CmdOp) Describe(*core.Builder) string {
	if op.Desc == "" {
		return fmt.Sprintf("%s%v", op.Exe, op.Args)
	}
	return op.Desc
}

func (op *CmdOp) Execute(ctx context.Context, b *core.Builder, env *core.Env) (bool, error) {
	xenv, err := env.ExecEnv()
	if err != nil {
		env.Log.Warns(err.Error())
	}
	cmd := exec.CommandContext(ctx, op.Exe, op.Args...)
	cmd.Dir = op.CWD
	cmd.Env = xenv
	if op.InFile != "" {
		r, err := os.Open(op.InFile)
		if err != nil {
			return false, err
		}
		defer r.Close()
		cmd.Stdin = r
	} else {
		cmd.Stdin = env.In
	}
	if op.OutFile != "" {
		w, err := os.Create(op.OutFile)
		if err != nil {
			return false, err
		}
		defer w.Close()
		cmd.Stdout = w
	} else {
		cmd.Stdout = env.Out
	}
	cmd.Stderr = env.Err
	env.Log.Debugs(fmt.Sprintf("exec %q in %q", cmd.String(), cmd.Dir))
	if err := cmd.Run(); err != nil {
		env.Log.Errora("failed `cmd` in `dir` with `error`", cmd.String(), cmd.Dir, err.Error())
		return false, err
	}
	return true, nil
}

// WriteSignature hashes the command line and redirect files; it
// deliberately leaves out the process environment (spec's dynamic-dep
// mechanism is the place to capture environment-derived inputs a builder
// actually cares about).
func (op *CmdOp) WriteSignature(w io.Writer) error {
	fmt.Fprintln(w, op.CWD)
	fmt.Fprintln(w, op.Exe)
	for _, arg := range op.Args {
		fmt.Fprintln(w, arg)
	}
	fmt.Fprintln(w, op.InFile)
	fmt.Fprintln(w, op.OutFile)
	return nil
}

// PipeOp chains several [CmdOp] commands, wiring each one's stdout to the
// next one's stdin the way a shell pipeline does.
type PipeOp []CmdOp

var _ core.Operation = PipeOp{}
var _ core.SignatureWriter = PipeOp{}

func (po PipeOp) Describe(b *core.Builder) string {
	if len(po) == 0 {
		return "empty pipe"
	}
	var sb strings.Builder
	sb.WriteString(po[0].Describe(b))
	for _, o := range po[1:] {
		sb.WriteByte('|')
		sb.WriteString(o.Describe(b))
	}
	return sb.String()
}

func (po PipeOp) Execute(ctx context.Context, b *core.Builder, env *core.Env) (bool, error) {
	xenv, err := env.ExecEnv()
	if err != nil {
		env.Log.Warns(err.Error())
	}
	var (
		cmds  = make([]*exec.Cmd, len(po))
		pipes = make([]piperw, len(po)-1)
	)
	for i := 0; i < len(po); i++ {
		cop := &po[i]
		cmd := exec.CommandContext(ctx, cop.Exe, cop.Args...)
		cmd.Dir = cop.CWD
		cmd.Env = xenv
		if i == 0 {
			cmd.Stdin = env.In
		} else {
			r, w := io.Pipe()
			cmds[i-1].Stdout = w
			cmd.Stdin = r
			pipes[i-1] = piperw{r, w}
		}
		if i+1 == len(po) {
			cmd.Stdout = env.Out
		}
		cmd.Stderr = env.Err
		cmds[i] = cmd
	}
	for i, cmd := range cmds {
		if err := cmd.Start(); err != nil {
			for k := 0; k < i; k++ {
				cmds[k].Process.Kill()
			}
			return false, err
		}
	}
	for i, cmd := range cmds {
		if err := cmd.Wait(); err != nil {
			for k := i + 1; k < len(cmds); k++ {
				cmds[k].Process.Kill()
			}
			return false, err
		}
		if i < len(pipes) {
			pipes[i].w.Close()
		}
	}
	return true, nil
}

type piperw struct {
	r *io.PipeReader
	w *io.PipeWriter
}

func (po PipeOp) WriteSignature(w io.Writer) error {
	for i := range po {
		if err := po[i].WriteSignature(w); err != nil {
			return err
		}
	}
	return nil
}

// OpFunc is an [core.Operation] adapter for a plain function; it never
// declares a signature, so the oracle's freshness check for it relies
// entirely on source hashes.
func OpFunc(desc string, f func(context.Context, *core.Builder, *core.Env) (bool, error)) core.Operation {
	return funcOp{desc: desc, f: f}
}

type funcOp struct {
	desc string
	f    func(context.Context, *core.Builder, *core.Env) (bool, error)
}

func (fo funcOp) Describe(*core.Builder) string { return fo.desc }

func (fo funcOp) Execute(ctx context.Context, b *core.Builder, env *core.Env) (bool, error) {
	env.Log.Debugs("call function: " + fo.desc)
	return fo.f(ctx, b, env)
}

var _ core.Operation = funcOp{}
