package build

import (
	"bytes"
	"context"
	goerrors "errors"
	"os"
	"os/exec"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-rpc-stubgen/errors"
)

// Command is one toolchain process invocation.
type Command struct {
	Args []string
	Dir  string
	// Env is appended to the inherited environment.
	Env []string
}

// Runner executes toolchain processes.
type Runner interface {
	// Run executes cmd and returns its combined output. A non-zero exit is
	// reported as *errors.BuildError carrying that output.
	Run(ctx context.Context, cmd Command) ([]byte, error)
}

// ExecRunner runs commands as local subprocesses.
type ExecRunner struct{}

// Run implements Runner.
func (ExecRunner) Run(ctx context.Context, cmd Command) ([]byte, error) {
	if len(cmd.Args) == 0 {
		return nil, errors.InvalidInput(errors.PhaseBuild, "empty toolchain command")
	}
	c := exec.CommandContext(ctx, cmd.Args[0], cmd.Args[1:]...)
	c.Dir = cmd.Dir
	c.Env = append(os.Environ(), cmd.Env...)

	var out bytes.Buffer
	c.Stdout = &out
	c.Stderr = &out

	Logger().Debug("running toolchain", zap.Strings("args", cmd.Args), zap.String("dir", cmd.Dir))
	err := c.Run()
	if err == nil {
		return out.Bytes(), nil
	}

	buildErr := &errors.BuildError{
		Command: cmd.Args,
		Dir:     cmd.Dir,
		Output:  out.Bytes(),
		Cause:   err,
	}
	var exitErr *exec.ExitError
	if goerrors.As(err, &exitErr) {
		buildErr.ExitCode = exitErr.ExitCode()
	}
	return out.Bytes(), buildErr
}
