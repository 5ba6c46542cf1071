package workspace

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
	"mvdan.cc/sh/v3/syntax"

	"github.com/wippyai/wasm-rpc-stubgen/errors"
)

// TaskfileName is the automation description written at the workspace root.
const TaskfileName = "Taskfile.yml"

// DefaultCallerCompile compiles a caller project into $OUT. It runs inside
// the caller's directory.
const DefaultCallerCompile = "tinygo build -target=wasip2 --wit-package ./wit -o $OUT ."

// TaskfileOptions configures the generated tasks.
type TaskfileOptions struct {
	// Command invokes this tool; "stubgen" by default.
	Command string
	// CallerCompile overrides DefaultCallerCompile.
	CallerCompile string
	// Overwrite lets add-stub-dependency replace differing files.
	Overwrite bool
	// UpdateManifest records merged packages in each caller's manifest.
	UpdateManifest bool
}

type taskfile struct {
	Version string            `yaml:"version"`
	Vars    map[string]string `yaml:"vars,omitempty"`
	Tasks   map[string]task   `yaml:"tasks"`
}

type task struct {
	Desc string            `yaml:"desc,omitempty"`
	Deps []string          `yaml:"deps,omitempty"`
	Dir  string            `yaml:"dir,omitempty"`
	Env  map[string]string `yaml:"env,omitempty"`
	Cmds []string          `yaml:"cmds,omitempty"`
}

func quote(s string) (string, error) {
	return syntax.Quote(s, syntax.LangPOSIX)
}

// command renders argv as one shell line, quoting every argument that
// needs it. A leading template reference is left as is.
func command(args ...string) (string, error) {
	parts := make([]string, len(args))
	for i, a := range args {
		if strings.HasPrefix(a, "{{") {
			parts[i] = a
			continue
		}
		q, err := quote(a)
		if err != nil {
			return "", err
		}
		parts[i] = q
	}
	return strings.Join(parts, " "), nil
}

func (p *Plan) transportFlags() []string {
	switch {
	case p.Transport.Path != "":
		return []string{"--transport-path", p.Transport.Path}
	case p.Transport.Version != "":
		return []string{"--transport-version", p.Transport.Version}
	}
	return nil
}

// Taskfile renders p as a go-task v3 description. Task keys are emitted in
// sorted order, so equal plans render identical bytes.
func (p *Plan) Taskfile(opts TaskfileOptions) ([]byte, error) {
	if opts.Command == "" {
		opts.Command = "stubgen"
	}
	if opts.CallerCompile == "" {
		opts.CallerCompile = DefaultCallerCompile
	}
	tf := taskfile{
		Version: "3",
		Vars:    map[string]string{"STUBGEN": opts.Command},
		Tasks:   make(map[string]task, len(p.Steps)),
	}
	const stubgen = "{{.STUBGEN}}"

	for _, s := range p.Steps {
		var (
			t   = task{Deps: s.Deps}
			cmd string
			err error
		)
		switch s.Kind {
		case StepGenerate:
			t.Desc = fmt.Sprintf("Generates the RPC stub project of %s", s.Target)
			args := []string{stubgen, "generate",
				"--source-wit-root", s.Target + "/" + WitDir,
				"--dest-root", StubProject(s.Target)}
			cmd, err = command(append(args, p.transportFlags()...)...)
		case StepBuildStub:
			t.Desc = fmt.Sprintf("Builds the RPC stub binary of %s", s.Target)
			args := []string{stubgen, "build",
				"--source-wit-root", s.Target + "/" + WitDir,
				"--dest-binary", StubBinary(s.Target),
				"--dest-wit-root", StubProject(s.Target) + "/" + WitDir}
			cmd, err = command(append(args, p.transportFlags()...)...)
		case StepAddDependency:
			t.Desc = fmt.Sprintf("Adds the stub of %s as a WIT dependency of %s", s.Target, s.Caller)
			args := []string{stubgen, "add-stub-dependency",
				"--stub-wit-root", StubProject(s.Target) + "/" + WitDir,
				"--dest-wit-root", s.Caller + "/" + WitDir}
			if opts.Overwrite {
				args = append(args, "--overwrite")
			}
			if opts.UpdateManifest {
				args = append(args, "--update-manifest")
			}
			cmd, err = command(args...)
		case StepCompile:
			t.Desc = fmt.Sprintf("Compiles %s", s.Caller)
			t.Dir = s.Caller
			t.Env = map[string]string{"OUT": "../" + CallerBinary(s.Caller)}
			cmd = opts.CallerCompile
		case StepCompose:
			t.Desc = fmt.Sprintf("Composes %s with the stubs it calls", s.Caller)
			args := []string{stubgen, "compose", "--source-binary", CallerBinary(s.Caller)}
			for _, target := range p.Targets {
				args = append(args, "--stub-binary", StubBinary(target))
			}
			args = append(args, "--dest-binary", ComposedBinary(s.Caller))
			cmd, err = command(args...)
		case StepBuildCaller:
			t.Desc = fmt.Sprintf("Builds %s and composes it with its stubs", s.Caller)
		case StepBuildAll:
			t.Desc = "Builds every caller"
		}
		if err != nil {
			return nil, errors.Wrap(errors.PhaseWorkspace, errors.KindInvalidInput, err, "render task "+s.Name)
		}
		if cmd != "" {
			t.Cmds = []string{cmd}
		}
		tf.Tasks[s.Name] = t
	}

	out, err := yaml.Marshal(tf)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseWorkspace, errors.KindInvariant, err, "encode Taskfile")
	}
	return out, nil
}
