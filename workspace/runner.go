package workspace

import (
	"context"
	"path/filepath"
	"runtime"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"mvdan.cc/sh/v3/shell"

	stubgen "github.com/wippyai/wasm-rpc-stubgen"
	"github.com/wippyai/wasm-rpc-stubgen/build"
	"github.com/wippyai/wasm-rpc-stubgen/compose"
	"github.com/wippyai/wasm-rpc-stubgen/errors"
	"github.com/wippyai/wasm-rpc-stubgen/merge"
	"github.com/wippyai/wasm-rpc-stubgen/pipeline"
)

// Status is the state of a step reported through Runner.Events.
type Status uint8

const (
	StatusStarted Status = iota
	StatusSucceeded
	StatusFailed
	StatusSkipped
)

func (s Status) String() string {
	switch s {
	case StatusStarted:
		return "started"
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	case StatusSkipped:
		return "skipped"
	}
	return "unknown"
}

// Event is a progress notification for one step.
type Event struct {
	RunID  string
	Step   string
	Kind   StepKind
	Status Status
	Err    error
}

// StepError is the failure of one step of a run.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string { return e.Step + ": " + e.Err.Error() }
func (e *StepError) Unwrap() error { return e.Err }

// Result summarizes a run. Step names are sorted.
type Result struct {
	RunID     string
	Succeeded []string
	Failed    []string
	Skipped   []string
}

// Runner executes a Plan in process. Targets are generated and built first,
// then stubs are merged into callers, then callers are compiled and
// composed. Steps of one stage run concurrently, at most Jobs at a time. A
// failed step skips only the steps that depend on it, and a caller is
// composed with the stubs whose targets succeeded. Every failure is
// returned, combined with multierr.
type Runner struct {
	Fs   afero.Fs
	Root string
	// Config supplies the stub version, backend and inline mode. Source and
	// target roots are set per target; the transport comes from the plan.
	Config stubgen.Config
	// Offline, Bindgen and Compile configure stub builds.
	Offline bool
	Bindgen string
	Compile string
	// CallerCompile overrides DefaultCallerCompile.
	CallerCompile string
	// Toolchain runs every external process; build.ExecRunner when nil.
	Toolchain build.Runner
	// Overwrite and UpdateManifest configure the dependency merges.
	Overwrite      bool
	UpdateManifest bool
	// Compose configures composition of every caller.
	Compose compose.Options
	// Jobs bounds concurrency; GOMAXPROCS when zero.
	Jobs int
	// Events receives progress when set. Run does not close it.
	Events chan<- Event
}

type run struct {
	*Runner
	id        string
	plan      *Plan
	log       *zap.Logger
	toolchain build.Runner

	mu     sync.Mutex
	status map[string]Status
	errs   error
}

// Run executes p and blocks until every runnable step has finished.
func (r *Runner) Run(ctx context.Context, p *Plan) (*Result, error) {
	id := uuid.New().String()
	rn := &run{
		Runner:    r,
		id:        id,
		plan:      p,
		log:       Logger().With(zap.String("run_id", id)),
		toolchain: r.Toolchain,
		status:    make(map[string]Status, len(p.Steps)),
	}
	if rn.toolchain == nil {
		rn.toolchain = build.ExecRunner{}
	}
	rn.log.Info("workspace run started", zap.Strings("targets", p.Targets), zap.Strings("callers", p.Callers))

	stage(ctx, r.Jobs, p.Targets, rn.target)
	var pairs [][2]string
	for _, c := range p.Callers {
		for _, t := range p.Targets {
			pairs = append(pairs, [2]string{t, c})
		}
	}
	stage(ctx, r.Jobs, pairs, func(ctx context.Context, pair [2]string) { rn.pair(ctx, pair[0], pair[1]) })
	stage(ctx, r.Jobs, p.Callers, rn.caller)

	final := StatusSucceeded
	if rn.errs != nil {
		final = StatusSkipped
	}
	for _, s := range p.Steps {
		if s.Kind == StepBuildAll {
			rn.set(ctx, s, final, nil)
		}
	}

	res := rn.result()
	rn.log.Info("workspace run finished",
		zap.Int("succeeded", len(res.Succeeded)),
		zap.Int("failed", len(res.Failed)),
		zap.Int("skipped", len(res.Skipped)))
	return res, rn.errs
}

// stage runs fn for every item with bounded concurrency and waits for all.
func stage[T any](ctx context.Context, jobs int, items []T, fn func(context.Context, T)) {
	if jobs <= 0 {
		jobs = runtime.GOMAXPROCS(0)
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(jobs)
	for _, item := range items {
		g.Go(func() error {
			fn(gctx, item)
			return nil
		})
	}
	_ = g.Wait()
}

func (rn *run) set(ctx context.Context, s Step, st Status, err error) {
	rn.mu.Lock()
	rn.status[s.Name] = st
	if err != nil {
		rn.errs = multierr.Append(rn.errs, &StepError{Step: s.Name, Err: err})
	}
	rn.mu.Unlock()

	switch st {
	case StatusFailed:
		rn.log.Error("step failed", zap.String("step", s.Name), zap.Error(err))
	case StatusSkipped:
		rn.log.Warn("step skipped", zap.String("step", s.Name))
	default:
		rn.log.Debug("step "+st.String(), zap.String("step", s.Name))
	}

	if rn.Events != nil {
		select {
		case rn.Events <- Event{RunID: rn.id, Step: s.Name, Kind: s.Kind, Status: st, Err: err}:
		case <-ctx.Done():
		}
	}
}

func (rn *run) get(name string) Status {
	rn.mu.Lock()
	defer rn.mu.Unlock()
	return rn.status[name]
}

// exec runs one step unless a dependency did not succeed. A partial step
// needs only one.
func (rn *run) exec(ctx context.Context, name string, fn func() error) {
	s, ok := rn.plan.Step(name)
	if !ok {
		return
	}
	succeeded := 0
	for _, d := range s.Deps {
		if rn.get(d) == StatusSucceeded {
			succeeded++
		}
	}
	if succeeded < len(s.Deps) && (!s.Partial || succeeded == 0) {
		rn.set(ctx, s, StatusSkipped, nil)
		return
	}
	if err := ctx.Err(); err != nil {
		rn.set(ctx, s, StatusFailed, err)
		return
	}
	rn.set(ctx, s, StatusStarted, nil)
	if err := fn(); err != nil {
		rn.set(ctx, s, StatusFailed, err)
		return
	}
	rn.set(ctx, s, StatusSucceeded, nil)
}

func (rn *run) path(rel string) string { return filepath.Join(rn.Root, rel) }

func (rn *run) target(ctx context.Context, t string) {
	var project, module, world string
	rn.exec(ctx, GenerateStep(t), func() error {
		cfg := rn.Config
		cfg.SourceWitRoot = rn.path(filepath.Join(t, WitDir))
		cfg.TargetRoot = rn.path(StubProject(t))
		cfg.Transport = rn.plan.Transport
		cfg.SealWorkspace = false
		res, err := pipeline.Generate(rn.Fs, cfg)
		if err != nil {
			return err
		}
		project, module, world = res.Root, res.Module, res.World
		return nil
	})
	rn.exec(ctx, BuildStubStep(t), func() error {
		binary, err := build.Build(ctx, rn.Fs, build.Options{
			Project: project,
			Module:  module,
			World:   world,
			Offline: rn.Offline,
			Bindgen: rn.Bindgen,
			Compile: rn.Compile,
			Runner:  rn.toolchain,
		})
		if err != nil {
			return err
		}
		return build.CopyFile(rn.Fs, binary, rn.path(StubBinary(t)))
	})
}

func (rn *run) pair(ctx context.Context, t, c string) {
	rn.exec(ctx, AddDependencyStep(t, c), func() error {
		_, err := merge.Merge(rn.Fs, merge.Options{
			StubWitRoot:    rn.path(filepath.Join(StubProject(t), WitDir)),
			DestWitRoot:    rn.path(filepath.Join(c, WitDir)),
			Overwrite:      rn.Overwrite,
			UpdateManifest: rn.UpdateManifest,
		})
		return err
	})
}

func (rn *run) caller(ctx context.Context, c string) {
	rn.exec(ctx, CompileStep(c), func() error {
		return rn.compile(ctx, c)
	})
	rn.exec(ctx, ComposeStep(c), func() error {
		var stubs []string
		for _, t := range rn.plan.Targets {
			if rn.get(AddDependencyStep(t, c)) == StatusSucceeded {
				stubs = append(stubs, rn.path(StubBinary(t)))
			}
		}
		_, err := compose.ComposeFiles(ctx, rn.Fs, rn.path(CallerBinary(c)), stubs, rn.path(ComposedBinary(c)), rn.Compose)
		return err
	})
	rn.exec(ctx, BuildCallerStep(c), func() error { return nil })
}

func (rn *run) compile(ctx context.Context, c string) error {
	tmpl := rn.CallerCompile
	if tmpl == "" {
		tmpl = DefaultCallerCompile
	}
	out := rn.path(CallerBinary(c))
	vars := map[string]string{"OUT": out, "CALLER": c, "PROJECT": rn.path(c)}
	args, err := shell.Fields(tmpl, func(name string) string { return vars[name] })
	if err != nil || len(args) == 0 {
		return errors.New(errors.PhaseWorkspace, errors.KindInvalidInput).
			Artifact(tmpl).
			Cause(err).
			Detail("invalid caller compile command").
			Build()
	}
	if err := rn.Fs.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return errors.IO(errors.PhaseWorkspace, filepath.Dir(out), err)
	}
	cmd := build.Command{Args: args, Dir: rn.path(c)}
	if rn.Offline {
		cmd.Env = build.OfflineEnv
	}
	if _, err := rn.toolchain.Run(ctx, cmd); err != nil {
		return err
	}
	if ok, _ := afero.Exists(rn.Fs, out); !ok {
		return errors.New(errors.PhaseWorkspace, errors.KindToolchain).
			Artifact(out).
			Detail("caller compile succeeded but produced no binary").
			Build()
	}
	return nil
}

func (rn *run) result() *Result {
	rn.mu.Lock()
	defer rn.mu.Unlock()
	res := &Result{RunID: rn.id}
	for name, st := range rn.status {
		switch st {
		case StatusSucceeded:
			res.Succeeded = append(res.Succeeded, name)
		case StatusFailed:
			res.Failed = append(res.Failed, name)
		case StatusSkipped:
			res.Skipped = append(res.Skipped, name)
		}
	}
	sort.Strings(res.Succeeded)
	sort.Strings(res.Failed)
	sort.Strings(res.Skipped)
	return res
}
