package pipeline

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	stubgen "github.com/wippyai/wasm-rpc-stubgen"
	"github.com/wippyai/wasm-rpc-stubgen/build"
	"github.com/wippyai/wasm-rpc-stubgen/errors"
)

const mathWit = `package test:math@0.1.0;

interface math {
  add: func(a: u32, b: u32) -> u32;
}

world api {
  export math;
}
`

const twoWorldsWit = `package test:pair;

interface a-api { ping: func(); }
interface b-api { pong: func(); }

world a { export a-api; }
world b { export b-api; }
`

type fakeRunner struct {
	fsys     afero.Fs
	commands []build.Command
}

func (f *fakeRunner) Run(_ context.Context, cmd build.Command) ([]byte, error) {
	f.commands = append(f.commands, cmd)
	for i, a := range cmd.Args {
		if a == "-o" && i+1 < len(cmd.Args) {
			return nil, afero.WriteFile(f.fsys, cmd.Args[i+1], []byte("stub-binary"), 0o644)
		}
	}
	return nil, nil
}

func sourceFs(t *testing.T, wit string) afero.Fs {
	t.Helper()
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/src/wit/api.wit", []byte(wit), 0o644))
	return fsys
}

func TestGenerate(t *testing.T) {
	fsys := sourceFs(t, mathWit)
	res, err := Generate(fsys, stubgen.Config{SourceWitRoot: "/src/wit", TargetRoot: "/out/math-stub"})
	require.NoError(t, err)
	assert.Equal(t, "wasm-rpc-stub-api", res.World)
	assert.Contains(t, res.Files, "wit/_stub.wit")

	stubWit, err := afero.ReadFile(fsys, "/out/math-stub/wit/_stub.wit")
	require.NoError(t, err)
	assert.Contains(t, string(stubWit), "package test:math-stub;")

	again, err := Generate(fsys, stubgen.Config{SourceWitRoot: "/src/wit", TargetRoot: "/out/math-stub"})
	require.NoError(t, err)
	assert.Equal(t, res.Files, again.Files)
	second, err := afero.ReadFile(fsys, "/out/math-stub/wit/_stub.wit")
	require.NoError(t, err)
	assert.Equal(t, stubWit, second)
}

func TestGenerate_WorldSelection(t *testing.T) {
	fsys := sourceFs(t, twoWorldsWit)

	_, err := Generate(fsys, stubgen.Config{SourceWitRoot: "/src/wit", TargetRoot: "/out/pair-stub"})
	require.Error(t, err)
	assert.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseResolve, Kind: errors.KindAmbiguous})
	assert.Contains(t, err.Error(), "a, b")

	res, err := Generate(fsys, stubgen.Config{SourceWitRoot: "/src/wit", TargetRoot: "/out/pair-stub", World: "a"})
	require.NoError(t, err)
	assert.Equal(t, "wasm-rpc-stub-a", res.World)
}

func TestGenerate_InvalidConfig(t *testing.T) {
	_, err := Generate(afero.NewMemMapFs(), stubgen.Config{TargetRoot: "/out"})
	require.Error(t, err)
	assert.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseConfig, Kind: errors.KindInvalidInput})
}

func TestBuild_TemporaryProject(t *testing.T) {
	fsys := sourceFs(t, mathWit)
	runner := &fakeRunner{fsys: fsys}

	res, err := Build(context.Background(), fsys, stubgen.Config{SourceWitRoot: "/src/wit"}, BuildOptions{
		DestBinary:  "/dist/math_stub.wasm",
		DestWitRoot: "/dist/wit",
		Offline:     true,
		Runner:      runner,
	})
	require.NoError(t, err)

	binary, err := afero.ReadFile(fsys, "/dist/math_stub.wasm")
	require.NoError(t, err)
	assert.Equal(t, []byte("stub-binary"), binary)

	ok, err := afero.Exists(fsys, "/dist/wit/_stub.wit")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = afero.DirExists(fsys, res.Root)
	require.NoError(t, err)
	assert.False(t, ok, "temporary project is removed")

	require.Len(t, runner.commands, 2)
	for _, c := range runner.commands {
		assert.Equal(t, build.OfflineEnv, c.Env)
	}
}

func TestBuild_KeepsTargetRoot(t *testing.T) {
	fsys := sourceFs(t, mathWit)
	_, err := Build(context.Background(), fsys,
		stubgen.Config{SourceWitRoot: "/src/wit", TargetRoot: "/ws/math-stub"},
		BuildOptions{DestBinary: "/ws/build/math_stub.wasm", Runner: &fakeRunner{fsys: fsys}})
	require.NoError(t, err)

	ok, err := afero.Exists(fsys, "/ws/math-stub/go.mod")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestBuild_RequiresDestination(t *testing.T) {
	_, err := Build(context.Background(), afero.NewMemMapFs(), stubgen.Config{SourceWitRoot: "/src/wit"}, BuildOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseBuild, Kind: errors.KindInvalidInput})
}
