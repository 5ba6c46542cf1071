package workspace

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	stubgen "github.com/wippyai/wasm-rpc-stubgen"
	"github.com/wippyai/wasm-rpc-stubgen/build"
	"github.com/wippyai/wasm-rpc-stubgen/component"
	"github.com/wippyai/wasm-rpc-stubgen/errors"
)

const countersWit = `package test:counters@0.1.0;

interface api {
  add: func(a: u32, b: u32) -> u32;
}

world counters {
  export api;
}
`

const frontendWit = `package test:frontend;

world frontend {
  export run: func();
}
`

const stubInterface = "test:counters-stub/stub-counters"

var emptyModule = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

func instanceType() *component.InstanceType {
	return &component.InstanceType{Decls: []component.Decl{
		{Kind: component.DeclType, Type: &component.FuncType{}},
		{Kind: component.DeclExport, Name: "ping", Desc: component.ExternDesc{Kind: component.ExternFunc, Index: 0}},
	}}
}

func stubComponent(t *testing.T) []byte {
	t.Helper()
	b := component.NewBuilder()
	b.Types(nil, instanceType())
	b.CoreModule(emptyModule)
	inst := b.InlineInstance()
	b.Exports(component.Export{
		Name:  stubInterface,
		Sort:  component.SortInstance,
		Index: inst,
		Desc:  &component.ExternDesc{Kind: component.ExternInstance, Index: 0},
	})
	data, err := b.Bytes()
	require.NoError(t, err)
	return data
}

func callerComponent(t *testing.T) []byte {
	t.Helper()
	b := component.NewBuilder()
	b.Types(nil, instanceType())
	b.Imports(nil, component.Import{Name: stubInterface, Desc: component.ExternDesc{Kind: component.ExternInstance, Index: 0}})
	b.CoreModule(emptyModule)
	data, err := b.Bytes()
	require.NoError(t, err)
	return data
}

// toolchain writes a stub component for stub projects and a caller
// component for caller projects wherever -o points.
type toolchain struct {
	fsys   afero.Fs
	stub   []byte
	caller []byte

	mu       sync.Mutex
	commands []build.Command
}

func (f *toolchain) Run(_ context.Context, cmd build.Command) ([]byte, error) {
	f.mu.Lock()
	f.commands = append(f.commands, cmd)
	f.mu.Unlock()
	for i, a := range cmd.Args {
		if a != "-o" || i+1 >= len(cmd.Args) {
			continue
		}
		data := f.stub
		if filepath.Base(cmd.Dir) == "frontend" {
			data = f.caller
		}
		return nil, afero.WriteFile(f.fsys, cmd.Args[i+1], data, 0o644)
	}
	return nil, nil
}

func workspaceFs(t *testing.T, targets map[string]string) afero.Fs {
	t.Helper()
	fsys := afero.NewMemMapFs()
	for name, wit := range targets {
		require.NoError(t, afero.WriteFile(fsys, "/ws/"+name+"/wit/api.wit", []byte(wit), 0o644))
	}
	require.NoError(t, afero.WriteFile(fsys, "/ws/frontend/wit/frontend.wit", []byte(frontendWit), 0o644))
	return fsys
}

func TestRunner_Run(t *testing.T) {
	fsys := workspaceFs(t, map[string]string{"counters": countersWit})
	tc := &toolchain{fsys: fsys, stub: stubComponent(t), caller: callerComponent(t)}
	events := make(chan Event, 64)

	p, err := NewPlan([]string{"counters"}, []string{"frontend"}, stubgen.TransportOverride{})
	require.NoError(t, err)

	r := &Runner{
		Fs:             fsys,
		Root:           "/ws",
		Toolchain:      tc,
		UpdateManifest: true,
		Offline:        true,
		Events:         events,
	}
	res, err := r.Run(context.Background(), p)
	require.NoError(t, err)
	close(events)

	assert.Equal(t, []string{
		"add-stub-dependency-counters-frontend",
		"build",
		"build-counters-stub",
		"build-frontend",
		"compile-frontend",
		"compose-frontend",
		"generate-counters-stub",
	}, res.Succeeded)
	assert.Empty(t, res.Failed)
	assert.NotEmpty(t, res.RunID)

	for _, f := range []string{
		"/ws/counters-stub/wit/_stub.wit",
		"/ws/build/counters_stub.wasm",
		"/ws/frontend/wit/deps/test_counters-stub/_stub.wit",
		"/ws/frontend/stubgen.toml",
		"/ws/build/frontend.wasm",
	} {
		ok, err := afero.Exists(fsys, f)
		require.NoError(t, err)
		assert.True(t, ok, f)
	}

	composed, err := afero.ReadFile(fsys, "/ws/build/frontend_composed.wasm")
	require.NoError(t, err)
	comp, err := component.Decode(composed)
	require.NoError(t, err)
	assert.Empty(t, comp.Imports, "the stub satisfies the caller")

	for _, c := range tc.commands {
		assert.Equal(t, build.OfflineEnv, c.Env)
	}

	var order []string
	for ev := range events {
		assert.Equal(t, res.RunID, ev.RunID)
		if ev.Status == StatusSucceeded {
			order = append(order, ev.Step)
		}
	}
	assert.Equal(t, []string{
		"generate-counters-stub",
		"build-counters-stub",
		"add-stub-dependency-counters-frontend",
		"compile-frontend",
		"compose-frontend",
		"build-frontend",
		"build",
	}, order)
}

func TestRunner_CollectsFailures(t *testing.T) {
	fsys := workspaceFs(t, map[string]string{
		"counters": countersWit,
		"broken":   "package test:broken;\n\nworld broken {\n",
	})
	tc := &toolchain{fsys: fsys, stub: stubComponent(t), caller: callerComponent(t)}

	p, err := NewPlan([]string{"counters", "broken"}, []string{"frontend"}, stubgen.TransportOverride{})
	require.NoError(t, err)

	res, err := (&Runner{Fs: fsys, Root: "/ws", Toolchain: tc, Jobs: 2}).Run(context.Background(), p)
	require.Error(t, err)

	errs := multierr.Errors(err)
	require.Len(t, errs, 1)
	var stepErr *StepError
	require.ErrorAs(t, errs[0], &stepErr)
	assert.Equal(t, "generate-broken-stub", stepErr.Step)
	assert.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseResolve, Kind: errors.KindSyntax})

	assert.Equal(t, []string{"generate-broken-stub"}, res.Failed)
	assert.Contains(t, res.Succeeded, "build-counters-stub", "sibling target still builds")
	assert.Contains(t, res.Succeeded, "add-stub-dependency-counters-frontend")
	assert.Subset(t, res.Succeeded, []string{"compile-frontend", "compose-frontend", "build-frontend"},
		"the caller composes with the stub that was built")
	assert.Equal(t, []string{
		"add-stub-dependency-broken-frontend",
		"build",
		"build-broken-stub",
	}, res.Skipped)

	composed, err := afero.ReadFile(fsys, "/ws/build/frontend_composed.wasm")
	require.NoError(t, err)
	comp, err := component.Decode(composed)
	require.NoError(t, err)
	assert.Empty(t, comp.Imports)
}

func TestRunner_AllTargetsFailed(t *testing.T) {
	fsys := workspaceFs(t, map[string]string{"broken": "package test:broken;\n\nworld broken {\n"})
	tc := &toolchain{fsys: fsys, stub: stubComponent(t), caller: callerComponent(t)}

	p, err := NewPlan([]string{"broken"}, []string{"frontend"}, stubgen.TransportOverride{})
	require.NoError(t, err)

	res, err := (&Runner{Fs: fsys, Root: "/ws", Toolchain: tc}).Run(context.Background(), p)
	require.Error(t, err)
	assert.Empty(t, res.Succeeded)
	assert.Equal(t, []string{"generate-broken-stub"}, res.Failed)
	assert.Contains(t, res.Skipped, "compile-frontend")
	assert.Empty(t, tc.commands)
}

func TestRunner_Cancelled(t *testing.T) {
	fsys := workspaceFs(t, map[string]string{"counters": countersWit})
	p, err := NewPlan([]string{"counters"}, []string{"frontend"}, stubgen.TransportOverride{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := (&Runner{Fs: fsys, Root: "/ws", Toolchain: &toolchain{fsys: fsys}}).Run(ctx, p)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"generate-counters-stub"}, res.Failed)
}
