package resolve

import (
	"io/fs"
	"os"
	"path"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/wasm-rpc-stubgen/errors"
)

func writeFiles(t *testing.T, files map[string]string) afero.Fs {
	t.Helper()
	fsys := afero.NewMemMapFs()
	for name, content := range files {
		require.NoError(t, fsys.MkdirAll(path.Dir(name), 0o755))
		require.NoError(t, afero.WriteFile(fsys, name, []byte(content), 0o644))
	}
	return fsys
}

const apiWit = `package test:api@0.1.0;

interface math {
  record point { x: s32, y: s32 }

  /// Adds two numbers.
  add: func(a: u32, b: u32) -> u32;
  shift: func(p: point, by: list<s32>) -> option<point>;
  divide: func(a: u32, b: u32) -> result<u32, string>;
  split: func(s: string) -> (head: string, tail: list<string>);
}

world api {
  export math;
}
`

func TestResolve_SingleWorld(t *testing.T) {
	fsys := writeFiles(t, map[string]string{"wit/api.wit": apiWit})

	src, err := Resolve(fsys, "wit", "")
	require.NoError(t, err)

	w := src.SelectedWorld()
	assert.Equal(t, "api", w.Name)
	require.Len(t, w.Exports, 1)
	assert.Equal(t, "test:api/math@0.1.0", w.Exports[0].Name)

	iface := src.Interface(w.Exports[0].Interface)
	require.Len(t, iface.Functions, 4)

	add := iface.Functions[0]
	assert.Equal(t, "add", add.Name)
	assert.Equal(t, "Adds two numbers.", add.Doc)
	require.Len(t, add.Params, 2)
	assert.Equal(t, PrimU32, add.Params[0].Type.Prim)
	require.NotNil(t, add.Results.Anon)
	assert.Equal(t, PrimU32, add.Results.Anon.Prim)

	shift := iface.Functions[1]
	assert.Equal(t, "point", src.TypeString(shift.Params[0].Type))
	assert.Equal(t, "list<s32>", src.TypeString(shift.Params[1].Type))
	assert.Equal(t, "option<point>", src.TypeString(*shift.Results.Anon))

	assert.Equal(t, "result<u32, string>", src.TypeString(*iface.Functions[2].Results.Anon))

	split := iface.Functions[3]
	assert.Nil(t, split.Results.Anon)
	require.Len(t, split.Results.Named, 2)
	assert.Equal(t, 2, split.Results.Len())

	pkg := src.RootPackage()
	assert.Equal(t, "test:api@0.1.0", pkg.Name.String())
	assert.Equal(t, []string{"api.wit"}, pkg.Files)
}

func TestResolve_WorldSelection(t *testing.T) {
	fsys := writeFiles(t, map[string]string{"wit/worlds.wit": `package test:multi;

interface one { f: func(); }
interface two { g: func(); }

world b { export two; }
world a { export one; }
`})

	tests := []struct {
		name     string
		world    string
		wantErr  *errors.Error
		contains []string
		exports  []string
	}{
		{
			name:     "ambiguous without selection",
			wantErr:  &errors.Error{Phase: errors.PhaseResolve, Kind: errors.KindAmbiguous},
			contains: []string{"a, b"},
		},
		{name: "explicit a", world: "a", exports: []string{"test:multi/one"}},
		{name: "explicit b", world: "b", exports: []string{"test:multi/two"}},
		{
			name:     "missing world",
			world:    "c",
			wantErr:  &errors.Error{Phase: errors.PhaseResolve, Kind: errors.KindNotFound},
			contains: []string{`"c"`, "a, b"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, err := Resolve(fsys, "wit", tt.world)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				for _, s := range tt.contains {
					assert.Contains(t, err.Error(), s)
				}
				return
			}
			require.NoError(t, err)
			var names []string
			for _, e := range src.SelectedWorld().Exports {
				names = append(names, e.Name)
			}
			assert.Equal(t, tt.exports, names)
		})
	}
}

func TestResolve_Errors(t *testing.T) {
	tests := []struct {
		name     string
		files    map[string]string
		kind     errors.Kind
		contains []string
	}{
		{
			name: "undefined type",
			files: map[string]string{"wit/a.wit": `package t:a;
interface i {
  f: func(p: point);
}
world w { export i; }`},
			kind:     errors.KindNotFound,
			contains: []string{"wit/a.wit:3:14", `"point"`},
		},
		{
			name: "type cycle",
			files: map[string]string{"wit/a.wit": `package t:a;
interface i {
  record a { b: b }
  record b { inner: list<a> }
}
world w { export i; }`},
			kind:     errors.KindCycle,
			contains: []string{"t:a/i.a", "t:a/i.b"},
		},
		{
			name:     "syntax error",
			files:    map[string]string{"wit/a.wit": "package t:a;\ninterface i { f: func( }"},
			kind:     errors.KindSyntax,
			contains: []string{"wit/a.wit", "2:"},
		},
		{
			name:     "no world",
			files:    map[string]string{"wit/a.wit": "package t:a;\ninterface i {}"},
			kind:     errors.KindNotFound,
			contains: []string{"no world"},
		},
		{
			name: "missing dependency",
			files: map[string]string{"wit/a.wit": `package t:a;
world w { import wasi:io/streams@0.2.0; }`},
			kind:     errors.KindNotFound,
			contains: []string{"wasi:io/streams@0.2.0"},
		},
		{
			name: "handle to non-resource",
			files: map[string]string{"wit/a.wit": `package t:a;
interface i {
  record r {}
  f: func(h: borrow<r>);
}
world w { export i; }`},
			kind:     errors.KindInvalidInput,
			contains: []string{`"r"`},
		},
		{
			name: "package cycle",
			files: map[string]string{
				"wit/a.wit": `package t:root;
world w { import t:one/i; }`,
				"wit/deps/one/one.wit": `package t:one;
interface i { use t:two/j.{t}; }
interface k { type u = u32; }`,
				"wit/deps/two/two.wit": `package t:two;
interface j {
  use t:one/k.{u};
  type t = u;
}`,
			},
			kind:     errors.KindCycle,
			contains: []string{"t:one", "t:two"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fsys := writeFiles(t, tt.files)
			_, err := Resolve(fsys, "wit", "")
			require.Error(t, err)
			assert.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseResolve, Kind: tt.kind})
			for _, s := range tt.contains {
				assert.Contains(t, err.Error(), s)
			}
		})
	}
}

// statFailFs fails every Stat of the named path.
type statFailFs struct {
	afero.Fs
	name string
}

func (f statFailFs) Stat(name string) (os.FileInfo, error) {
	if name == f.name {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrPermission}
	}
	return f.Fs.Stat(name)
}

func TestResolve_UnreadableDeps(t *testing.T) {
	base := writeFiles(t, map[string]string{"wit/api.wit": apiWit})
	_, err := Resolve(statFailFs{Fs: base, name: "wit/deps"}, "wit", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseResolve, Kind: errors.KindIO})
	assert.Contains(t, err.Error(), "wit/deps")
}

func TestResolve_Resources(t *testing.T) {
	fsys := writeFiles(t, map[string]string{"wit/counter.wit": `package test:counters;

interface api {
  resource counter {
    constructor(name: string);
    inc-by: func(value: u64);
    get-value: func() -> u64;
    merged: static func(a: borrow<counter>, b: borrow<counter>) -> counter;
  }

  copy: func(c: borrow<counter>) -> own<counter>;
}

world counters {
  export api;
}
`})

	src, err := Resolve(fsys, "wit", "")
	require.NoError(t, err)

	iface := src.Interface(src.SelectedWorld().Exports[0].Interface)
	require.Len(t, iface.Types, 1)
	res := src.Type(iface.Types[0])
	assert.Equal(t, KindResource, res.Kind)
	assert.Equal(t, "counter", res.Name)

	byName := map[string]Function{}
	for _, f := range iface.Functions {
		byName[f.Name] = f
	}
	require.Len(t, byName, 5)

	assert.Equal(t, FuncConstructor, byName["constructor"].Kind)
	assert.Equal(t, iface.Types[0], byName["constructor"].Resource)
	assert.Equal(t, FuncMethod, byName["inc-by"].Kind)
	assert.Equal(t, FuncStatic, byName["merged"].Kind)
	assert.Equal(t, "own<counter>", src.TypeString(*byName["merged"].Results.Anon))
	assert.Equal(t, "borrow<counter>", src.TypeString(byName["copy"].Params[0].Type))
	assert.Equal(t, FuncFreestanding, byName["copy"].Kind)
}

func TestResolve_DependenciesAndUse(t *testing.T) {
	fsys := writeFiles(t, map[string]string{
		"wit/main.wit": `package test:app@1.0.0;

interface types {
  use test:shared/common@0.2.0.{id as shared-id};
  record item { key: shared-id, tags: flags-set }
  flags flags-set { hot, cold }
}

interface store {
  use types.{item};
  put: func(i: item) -> result;
}

world app {
  import test:shared/common@0.2.0;
  export store;
  export ping: func() -> string;
}
`,
		"wit/deps/shared/common.wit": `package test:shared@0.2.0;

interface common {
  type id = string;
  enum level { low, high }
}
`,
		"wit/deps/extra.wit": `package test:extra;
interface unused { f: func(); }
`,
	})

	src, err := Resolve(fsys, "wit", "app")
	require.NoError(t, err)

	require.Len(t, src.Packages, 2, "only reachable packages are included")
	shared := src.Packages[1]
	assert.Equal(t, "test:shared@0.2.0", shared.Name.String())
	assert.Equal(t, "wit/deps/shared", shared.Dir)
	assert.Equal(t, []PackageID{1}, src.Packages[0].Deps)

	w := src.SelectedWorld()
	require.Len(t, w.Imports, 1)
	assert.Equal(t, "test:shared/common@0.2.0", w.Imports[0].Name)
	require.Len(t, w.Exports, 2)
	assert.Equal(t, ItemFunction, w.Exports[1].Kind)
	assert.Equal(t, "ping", w.Exports[1].Name)

	store := src.Interface(w.Exports[0].Interface)
	put := store.Functions[0]
	item := src.Type(put.Params[0].Type.Def)
	assert.Equal(t, "item", item.Name)
	require.Len(t, item.Fields, 2)
	key := src.Type(item.Fields[0].Type.Def)
	assert.Equal(t, "id", key.Name)
	assert.Equal(t, KindAlias, key.Kind)
	assert.Equal(t, PrimString, src.Unalias(item.Fields[0].Type).Prim)
	assert.Equal(t, "result", src.TypeString(*put.Results.Anon))

	require.Len(t, store.Uses, 1)
	assert.Equal(t, "item", store.Uses[0].Local)
}

func TestResolve_IncludeAndInlineInterface(t *testing.T) {
	fsys := writeFiles(t, map[string]string{"wit/w.wit": `package test:inc;

world base {
  export run: func();
}

world full {
  include base with { run as start }
  export admin: interface {
    reset: func();
  }
  record config { verbose: bool }
  export configure: func(c: config);
}
`})

	src, err := Resolve(fsys, "wit", "full")
	require.NoError(t, err)

	w := src.SelectedWorld()
	require.Len(t, w.Exports, 3)
	assert.Equal(t, "start", w.Exports[0].Name)
	assert.Equal(t, "start", w.Exports[0].Function.Name)
	assert.Equal(t, "admin", w.Exports[1].Name)
	admin := src.Interface(w.Exports[1].Interface)
	assert.True(t, admin.Inline)
	assert.Equal(t, "reset", admin.Functions[0].Name)

	cfg := src.Type(w.Exports[2].Function.Params[0].Type.Def)
	assert.Equal(t, OwnerWorld, cfg.Owner.Kind)
}

func TestCyclicNodes(t *testing.T) {
	tests := []struct {
		name  string
		edges [][]int
		want  []int
	}{
		{name: "acyclic", edges: [][]int{{1}, {2}, nil}, want: nil},
		{name: "self loop", edges: [][]int{{0}}, want: []int{0}},
		{name: "cycle with tail", edges: [][]int{{1}, {2}, {1, 3}, nil}, want: []int{1, 2}},
		{name: "cycle with entry", edges: [][]int{{1}, {2}, {1}}, want: []int{1, 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cyclicNodes(tt.edges))
		})
	}
}

func TestPackageOf(t *testing.T) {
	fsys := writeFiles(t, map[string]string{
		"wit/api.wit":           apiWit,
		"wit/deps/single.wit":   "package dep:single@1.0.0;\ninterface x {}\n",
		"wit/deps/broken/a.wit": "interface y {}\n",
	})

	name, err := PackageOf(fsys, "wit")
	require.NoError(t, err)
	assert.Equal(t, "test:api@0.1.0", name.String())

	name, err = PackageOf(fsys, "wit/deps/single.wit")
	require.NoError(t, err)
	assert.Equal(t, "dep:single", name.Unversioned())

	_, err = PackageOf(fsys, "wit/deps/broken")
	assert.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseResolve, Kind: errors.KindSyntax})
}
