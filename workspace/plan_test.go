package workspace

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
	"mvdan.cc/sh/v3/shell"

	stubgen "github.com/wippyai/wasm-rpc-stubgen"
	"github.com/wippyai/wasm-rpc-stubgen/errors"
)

func stepNames(p *Plan) []string {
	names := make([]string, len(p.Steps))
	for i, s := range p.Steps {
		names[i] = s.Name
	}
	return names
}

func TestNewPlan(t *testing.T) {
	p, err := NewPlan([]string{"counters", "auth"}, []string{"frontend"}, stubgen.TransportOverride{})
	require.NoError(t, err)

	assert.Equal(t, []string{"auth", "counters"}, p.Targets)
	assert.Equal(t, []string{
		"generate-auth-stub",
		"build-auth-stub",
		"generate-counters-stub",
		"build-counters-stub",
		"add-stub-dependency-auth-frontend",
		"add-stub-dependency-counters-frontend",
		"compile-frontend",
		"compose-frontend",
		"build-frontend",
		"build",
	}, stepNames(p))

	compile, ok := p.Step("compile-frontend")
	require.True(t, ok)
	assert.Equal(t, []string{"add-stub-dependency-auth-frontend", "add-stub-dependency-counters-frontend"}, compile.Deps)
	assert.True(t, compile.Partial)

	add, ok := p.Step("add-stub-dependency-auth-frontend")
	require.True(t, ok)
	assert.Equal(t, []string{"build-auth-stub"}, add.Deps)
	assert.Equal(t, StepAddDependency, add.Kind)
	assert.False(t, add.Partial)

	all, ok := p.Step(BuildAllStep)
	require.True(t, ok)
	assert.Equal(t, []string{"build-frontend"}, all.Deps)
}

func TestNewPlan_Invalid(t *testing.T) {
	tests := []struct {
		name      string
		targets   []string
		callers   []string
		transport stubgen.TransportOverride
		contains  string
	}{
		{name: "no targets", callers: []string{"a"}, contains: "at least one target"},
		{name: "no callers", targets: []string{"a"}, contains: "at least one target"},
		{name: "empty name", targets: []string{""}, callers: []string{"a"}, contains: "empty"},
		{name: "path", targets: []string{"x/y"}, callers: []string{"a"}, contains: "path separator"},
		{name: "duplicate target", targets: []string{"a", "a"}, callers: []string{"b"}, contains: "listed as target and as target"},
		{name: "target and caller", targets: []string{"a"}, callers: []string{"a"}, contains: "listed as target and as caller"},
		{name: "stub suffix", targets: []string{"a-stub"}, callers: []string{"b"}, contains: "-stub suffix"},
		{name: "build dir", targets: []string{"a"}, callers: []string{"build"}, contains: "reserved"},
		{
			name:      "both overrides",
			targets:   []string{"a"},
			callers:   []string{"b"},
			transport: stubgen.TransportOverride{Path: "/rpc", Version: "0.1.0"},
			contains:  "mutually exclusive",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPlan(tt.targets, tt.callers, tt.transport)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.contains)
		})
	}
}

func parseTaskfile(t *testing.T, data []byte) taskfile {
	t.Helper()
	var tf taskfile
	require.NoError(t, yaml.Unmarshal(data, &tf))
	return tf
}

func TestTaskfile(t *testing.T) {
	p, err := NewPlan([]string{"counters"}, []string{"frontend"}, stubgen.TransportOverride{Version: "0.2.0"})
	require.NoError(t, err)

	data, err := p.Taskfile(TaskfileOptions{Overwrite: true, UpdateManifest: true})
	require.NoError(t, err)
	tf := parseTaskfile(t, data)

	assert.Equal(t, "3", tf.Version)
	assert.Equal(t, "stubgen", tf.Vars["STUBGEN"])
	assert.Len(t, tf.Tasks, len(p.Steps))

	assert.Equal(t, []string{
		"{{.STUBGEN}} generate --source-wit-root counters/wit --dest-root counters-stub --transport-version 0.2.0",
	}, tf.Tasks["generate-counters-stub"].Cmds)
	assert.Equal(t, []string{
		"{{.STUBGEN}} build --source-wit-root counters/wit --dest-binary build/counters_stub.wasm" +
			" --dest-wit-root counters-stub/wit --transport-version 0.2.0",
	}, tf.Tasks["build-counters-stub"].Cmds)
	assert.Equal(t, []string{"generate-counters-stub"}, tf.Tasks["build-counters-stub"].Deps)
	assert.Equal(t, []string{
		"{{.STUBGEN}} add-stub-dependency --stub-wit-root counters-stub/wit --dest-wit-root frontend/wit --overwrite --update-manifest",
	}, tf.Tasks["add-stub-dependency-counters-frontend"].Cmds)

	compile := tf.Tasks["compile-frontend"]
	assert.Equal(t, "frontend", compile.Dir)
	assert.Equal(t, map[string]string{"OUT": "../build/frontend.wasm"}, compile.Env)
	assert.Equal(t, []string{DefaultCallerCompile}, compile.Cmds)

	assert.Equal(t, []string{
		"{{.STUBGEN}} compose --source-binary build/frontend.wasm --stub-binary build/counters_stub.wasm" +
			" --dest-binary build/frontend_composed.wasm",
	}, tf.Tasks["compose-frontend"].Cmds)

	assert.Empty(t, tf.Tasks["build-frontend"].Cmds)
	assert.Equal(t, []string{"compose-frontend"}, tf.Tasks["build-frontend"].Deps)
	assert.Equal(t, []string{"build-frontend"}, tf.Tasks["build"].Deps)

	again, err := p.Taskfile(TaskfileOptions{Overwrite: true, UpdateManifest: true})
	require.NoError(t, err)
	assert.Equal(t, data, again)
}

func TestTaskfile_QuotesTransportPath(t *testing.T) {
	p, err := NewPlan([]string{"counters"}, []string{"frontend"}, stubgen.TransportOverride{Path: "/opt/my rpc"})
	require.NoError(t, err)

	data, err := p.Taskfile(TaskfileOptions{Command: "go run ./cmd/stubgen"})
	require.NoError(t, err)
	tf := parseTaskfile(t, data)
	assert.Equal(t, "go run ./cmd/stubgen", tf.Vars["STUBGEN"])

	line := tf.Tasks["generate-counters-stub"].Cmds[0]
	args, err := shell.Fields(line, func(string) string { return "" })
	require.NoError(t, err)
	assert.Equal(t, "/opt/my rpc", args[len(args)-1])
	assert.Equal(t, "--transport-path", args[len(args)-2])
}

func TestInitialize(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/ws/go.work", []byte("go 1.25\n\nuse (\n\t./frontend\n\t./auth-stub\n)\n"), 0o644))

	p, err := NewPlan([]string{"counters", "auth"}, []string{"frontend"}, stubgen.TransportOverride{})
	require.NoError(t, err)

	res, err := Initialize(fsys, "/ws", p, TaskfileOptions{})
	require.NoError(t, err)
	assert.Equal(t, "/ws/Taskfile.yml", res.Taskfile)
	assert.Equal(t, "/ws/go.work", res.GoWork)
	assert.Equal(t, []string{"./counters-stub"}, res.Added)

	work, err := afero.ReadFile(fsys, "/ws/go.work")
	require.NoError(t, err)
	assert.Contains(t, string(work), "./counters-stub")
	assert.Contains(t, string(work), "./auth-stub")
	assert.Contains(t, string(work), "./frontend")

	ok, err := afero.Exists(fsys, "/ws/Taskfile.yml")
	require.NoError(t, err)
	assert.True(t, ok)

	again, err := Initialize(fsys, "/ws", p, TaskfileOptions{})
	require.NoError(t, err)
	assert.Empty(t, again.Added)
}

func TestInitialize_WithoutGoWork(t *testing.T) {
	fsys := afero.NewMemMapFs()
	p, err := NewPlan([]string{"counters"}, []string{"frontend"}, stubgen.TransportOverride{})
	require.NoError(t, err)

	res, err := Initialize(fsys, "/ws", p, TaskfileOptions{})
	require.NoError(t, err)
	assert.Empty(t, res.GoWork)

	ok, err := afero.Exists(fsys, "/ws/go.work")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestInitialize_InvalidGoWork(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/ws/go.work", []byte("use (\n"), 0o644))
	p, err := NewPlan([]string{"counters"}, []string{"frontend"}, stubgen.TransportOverride{})
	require.NoError(t, err)

	_, err = Initialize(fsys, "/ws", p, TaskfileOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseWorkspace, Kind: errors.KindSyntax})
}
