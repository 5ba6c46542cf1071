// Package workspace automates stub generation and composition across the
// projects of one workspace. A Plan pairs every target project (the owner
// of an interface called remotely) with every caller project; Initialize
// writes it out as a Taskfile and Runner executes it in process.
package workspace

import (
	"fmt"
	"path"
	"sort"
	"strings"

	stubgen "github.com/wippyai/wasm-rpc-stubgen"
	"github.com/wippyai/wasm-rpc-stubgen/errors"
)

// Layout locations, relative to the workspace root.
const (
	// BuildDir holds every binary the workspace produces.
	BuildDir = "build"
	// WitDir is the WIT root inside each project.
	WitDir = "wit"
)

// StepKind is the stage a step performs.
type StepKind uint8

const (
	StepGenerate StepKind = iota
	StepBuildStub
	StepAddDependency
	StepCompile
	StepCompose
	StepBuildCaller
	StepBuildAll
)

func (k StepKind) String() string {
	switch k {
	case StepGenerate:
		return "generate"
	case StepBuildStub:
		return "build-stub"
	case StepAddDependency:
		return "add-stub-dependency"
	case StepCompile:
		return "compile"
	case StepCompose:
		return "compose"
	case StepBuildCaller:
		return "build-caller"
	case StepBuildAll:
		return "build"
	}
	return fmt.Sprintf("step(%d)", int(k))
}

// Step is one task of the plan. Deps name steps that must finish first.
type Step struct {
	Name   string
	Kind   StepKind
	Target string
	Caller string
	Deps   []string
	// Partial lets the step run when at least one of Deps succeeded. A
	// caller still compiles and composes with the stubs that were built.
	Partial bool
}

// Plan is the full step matrix of a workspace.
type Plan struct {
	Targets   []string
	Callers   []string
	Transport stubgen.TransportOverride
	Steps     []Step
}

// Step names.
func GenerateStep(target string) string         { return "generate-" + target + "-stub" }
func BuildStubStep(target string) string        { return "build-" + target + "-stub" }
func AddDependencyStep(t, caller string) string { return "add-stub-dependency-" + t + "-" + caller }
func CompileStep(caller string) string          { return "compile-" + caller }
func ComposeStep(caller string) string          { return "compose-" + caller }
func BuildCallerStep(caller string) string      { return "build-" + caller }

// BuildAllStep is the aggregate step building every caller.
const BuildAllStep = "build"

// StubProject returns the directory of the stub project generated for target.
func StubProject(target string) string { return target + "-stub" }

// StubBinary returns the compiled stub of target.
func StubBinary(target string) string { return path.Join(BuildDir, target+"_stub.wasm") }

// CallerBinary returns the compiled, not yet composed, caller.
func CallerBinary(caller string) string { return path.Join(BuildDir, caller+".wasm") }

// ComposedBinary returns the composed caller.
func ComposedBinary(caller string) string { return path.Join(BuildDir, caller+"_composed.wasm") }

// NewPlan validates the project names and derives the step matrix. Within
// a (target, caller) pair steps run generate, build, add-dependency, compose;
// across pairs they only depend through shared targets and callers. A
// caller's compile step is partial: one failed target does not hold back
// the caller.
func NewPlan(targets, callers []string, transport stubgen.TransportOverride) (*Plan, error) {
	if len(targets) == 0 || len(callers) == 0 {
		return nil, errors.InvalidInput(errors.PhaseWorkspace, "at least one target and one caller are required")
	}
	if err := transport.Validate(); err != nil {
		return nil, err
	}
	seen := make(map[string]string)
	check := func(role string, names []string) error {
		for _, n := range names {
			if err := validName(n); err != nil {
				return errors.New(errors.PhaseWorkspace, errors.KindInvalidInput).
					Artifact(n).
					Detail("invalid %s name: %v", role, err).
					Build()
			}
			if prev, ok := seen[n]; ok {
				return errors.New(errors.PhaseWorkspace, errors.KindInvalidInput).
					Artifact(n).
					Detail("listed as %s and as %s", prev, role).
					Build()
			}
			seen[n] = role
		}
		return nil
	}
	if err := check("target", targets); err != nil {
		return nil, err
	}
	if err := check("caller", callers); err != nil {
		return nil, err
	}

	p := &Plan{
		Targets:   append([]string(nil), targets...),
		Callers:   append([]string(nil), callers...),
		Transport: transport,
	}
	sort.Strings(p.Targets)
	sort.Strings(p.Callers)

	for _, t := range p.Targets {
		p.Steps = append(p.Steps,
			Step{Name: GenerateStep(t), Kind: StepGenerate, Target: t},
			Step{Name: BuildStubStep(t), Kind: StepBuildStub, Target: t, Deps: []string{GenerateStep(t)}},
		)
	}
	var builds []string
	for _, c := range p.Callers {
		var adds []string
		for _, t := range p.Targets {
			name := AddDependencyStep(t, c)
			adds = append(adds, name)
			p.Steps = append(p.Steps, Step{
				Name: name, Kind: StepAddDependency, Target: t, Caller: c,
				Deps: []string{BuildStubStep(t)},
			})
		}
		p.Steps = append(p.Steps,
			Step{Name: CompileStep(c), Kind: StepCompile, Caller: c, Deps: adds, Partial: true},
			Step{Name: ComposeStep(c), Kind: StepCompose, Caller: c, Deps: []string{CompileStep(c)}},
			Step{Name: BuildCallerStep(c), Kind: StepBuildCaller, Caller: c, Deps: []string{ComposeStep(c)}},
		)
		builds = append(builds, BuildCallerStep(c))
	}
	p.Steps = append(p.Steps, Step{Name: BuildAllStep, Kind: StepBuildAll, Deps: builds})
	return p, nil
}

// validName accepts a single relative path element that is not itself a
// reserved workspace directory.
func validName(n string) error {
	switch {
	case n == "":
		return fmt.Errorf("empty")
	case n == "." || n == "..":
		return fmt.Errorf("not a directory name")
	case strings.ContainsAny(n, `/\ `):
		return fmt.Errorf("contains a path separator or space")
	case n == BuildDir:
		return fmt.Errorf("reserved for binaries")
	case strings.HasSuffix(n, "-stub"):
		return fmt.Errorf("the -stub suffix is reserved for generated projects")
	}
	return nil
}

// Step returns the step called name.
func (p *Plan) Step(name string) (Step, bool) {
	for _, s := range p.Steps {
		if s.Name == name {
			return s, true
		}
	}
	return Step{}, false
}
