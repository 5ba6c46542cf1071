package codegen

import (
	"go/parser"
	"go/token"
	"path"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	stubgen "github.com/wippyai/wasm-rpc-stubgen"
	"github.com/wippyai/wasm-rpc-stubgen/resolve"
	"github.com/wippyai/wasm-rpc-stubgen/stub"
)

const counterWit = `package test:counters@0.1.0;

interface types {
  record stats { total: u64, calls: u32 }
}

interface api {
  use types.{stats};

  enum mode { fast, slow }

  variant shape { circle(f64), square(tuple<f64, f64>), empty }

  resource counter {
    constructor(name: string);
    /// Adds value to the counter.
    inc-by: func(value: u64);
    get-value: func() -> u64;
    snapshot: func(m: mode) -> stats;
    merge: static func(a: borrow<counter>, b: borrow<counter>) -> counter;
  }

  create: func(names: list<string>) -> list<counter>;
  find: func(name: string) -> option<counter>;
  describe: func(c: borrow<counter>) -> result<string, string>;
  total: func() -> stats;
  area: func(s: shape) -> option<f64>;
  split: func(s: string) -> (head: string, tail: list<string>);
}

world counters {
  record summary { count: u32, modes: list<mode> }
  use api.{mode};
  export api;
  export summarize: func() -> summary;
}
`

func setup(t *testing.T, inline bool) (afero.Fs, *stub.World) {
	t.Helper()
	fsys := afero.NewMemMapFs()
	require.NoError(t, fsys.MkdirAll("src/wit", 0o755))
	require.NoError(t, afero.WriteFile(fsys, "src/wit/counters.wit", []byte(counterWit), 0o644))

	src, err := resolve.Resolve(fsys, "src/wit", "")
	require.NoError(t, err)
	w, err := stub.Synthesize(src, stubgen.Config{InlineTypes: inline})
	require.NoError(t, err)
	return fsys, w
}

func config(target string, inline, seal bool) stubgen.Config {
	return stubgen.Config{
		SourceWitRoot: "src/wit",
		TargetRoot:    target,
		InlineTypes:   inline,
		SealWorkspace: seal,
	}.WithDefaults()
}

func readFile(t *testing.T, fsys afero.Fs, name string) string {
	t.Helper()
	data, err := afero.ReadFile(fsys, name)
	require.NoError(t, err)
	return string(data)
}

func TestGenerate_Layout(t *testing.T) {
	tests := []struct {
		name   string
		inline bool
		seal   bool
	}{
		{"depend", false, false},
		{"depend sealed", false, true},
		{"inline", true, false},
		{"inline sealed", true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fsys, w := setup(t, tt.inline)
			res, err := Generate(fsys, w, config("out", tt.inline, tt.seal))
			require.NoError(t, err)

			assert.Equal(t, "counters-stub", res.Module)
			assert.Equal(t, "wasm-rpc-stub-counters", res.World)
			for _, f := range []string{
				"wit/_stub.wit",
				"wit/deps/wasm-rpc/wasm-rpc.wit",
				"go.mod", "main.go", "stub.go", "codec.go", "witvalue.go",
			} {
				assert.Contains(t, res.Files, f)
			}
			assert.Equal(t, !tt.inline, contains(res.Files, "wit/deps/test_counters/counters.wit"))
			assert.Equal(t, tt.seal, contains(res.Files, "go.work"))

			if tt.seal {
				work := readFile(t, fsys, "out/go.work")
				assert.Contains(t, work, "go 1.24")
				assert.Contains(t, work, "use .")
			}
		})
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func TestGenerate_Deterministic(t *testing.T) {
	fsys, w := setup(t, false)
	first, err := Generate(fsys, w, config("a", false, true))
	require.NoError(t, err)
	second, err := Generate(fsys, w, config("b", false, true))
	require.NoError(t, err)

	require.Equal(t, first.Files, second.Files)
	for _, f := range first.Files {
		assert.Equal(t, readFile(t, fsys, path.Join("a", f)), readFile(t, fsys, path.Join("b", f)), f)
	}
}

func TestGenerate_RemovesStaleWit(t *testing.T) {
	fsys, w := setup(t, true)
	require.NoError(t, fsys.MkdirAll("out/wit/deps/old", 0o755))
	require.NoError(t, afero.WriteFile(fsys, "out/wit/deps/old/old.wit", []byte("package old:old;"), 0o644))

	_, err := Generate(fsys, w, config("out", true, false))
	require.NoError(t, err)

	exists, err := afero.Exists(fsys, "out/wit/deps/old/old.wit")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestStubWit(t *testing.T) {
	t.Run("depend", func(t *testing.T) {
		_, w := setup(t, false)
		text := string(StubWit(w))

		for _, want := range []string{
			"package test:counters-stub;",
			"interface stub-counters {",
			"use golem:rpc/types@0.1.0.{uri};",
			"use test:counters/types@0.1.0.{stats};",
			"use test:counters/api@0.1.0.{mode, shape};",
			"record summary {",
			"modes: list<mode>,",
			"resource api {",
			"constructor(location: uri);",
			"create: func(names: list<string>) -> list<counter>;",
			"describe: func(c: borrow<counter>) -> result<string, string>;",
			"split: func(s: string) -> (head: string, tail: list<string>);",
			"resource counter {",
			"constructor(location: uri, name: string);",
			"/// Adds value to the counter.",
			"merge: static func(location: uri, a: borrow<counter>, b: borrow<counter>) -> counter;",
			"resource counters {",
			"summarize: func() -> summary;",
			"world wasm-rpc-stub-counters {",
			"export stub-counters;",
		} {
			assert.Contains(t, text, want)
		}
		assert.NotContains(t, text, "record stats")
	})

	t.Run("inline", func(t *testing.T) {
		_, w := setup(t, true)
		text := string(StubWit(w))
		assert.Contains(t, text, "record stats {")
		assert.Contains(t, text, "enum mode {")
		assert.Contains(t, text, "variant shape {")
		assert.Contains(t, text, "square(tuple<f64, f64>),")
		assert.NotContains(t, text, "use test:counters")
	})
}

// The generated WIT must be a valid, self-contained WIT root.
func TestStubWit_Resolves(t *testing.T) {
	for _, inline := range []bool{false, true} {
		fsys, w := setup(t, inline)
		_, err := Generate(fsys, w, config("out", inline, false))
		require.NoError(t, err)

		src, err := resolve.Resolve(fsys, "out/wit", "")
		require.NoError(t, err, "inline=%v", inline)
		assert.Equal(t, "wasm-rpc-stub-counters", src.SelectedWorld().Name)

		exports := src.SelectedWorld().Exports
		require.Len(t, exports, 1)
		assert.Equal(t, "test:counters-stub/stub-counters", exports[0].Name)
	}
}

// The first declared type has the zero type index and must print by name.
func TestStubWit_FirstDeclaredType(t *testing.T) {
	const geometryWit = `package test:geometry;

interface api {
  record point { x: s32, y: s32 }
  move: func(p: point) -> point;
  split: func() -> (a: point, b: u32);
  resource canvas {
    constructor(origin: point);
    at: static func(p: point) -> canvas;
  }
}

world geometry { export api; }
`
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "src/wit/geometry.wit", []byte(geometryWit), 0o644))
	src, err := resolve.Resolve(fsys, "src/wit", "")
	require.NoError(t, err)
	w, err := stub.Synthesize(src, stubgen.Config{})
	require.NoError(t, err)

	text := string(StubWit(w))
	for _, want := range []string{
		"move: func(p: point) -> point;",
		"split: func() -> (a: point, b: u32);",
		"constructor(location: uri, origin: point);",
		"at: static func(location: uri, p: point) -> canvas;",
	} {
		assert.Contains(t, text, want)
	}
	assert.NotContains(t, text, "p: uri")
	assert.NotContains(t, text, "a: uri")
}

func TestTransportWit_Resolves(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "wit/wasm-rpc.wit", TransportWit(), 0o644))

	src, err := resolve.Resolve(fsys, "wit", "wit-value")
	require.NoError(t, err)
	assert.Equal(t, stub.TransportPackage, src.RootPackage().Name.String())
	assert.NotContains(t, string(TransportWit()), "(float32)")
	assert.NotContains(t, string(TransportWit()), "(float64)")
}

func TestGoMod(t *testing.T) {
	tests := []struct {
		name      string
		transport stubgen.TransportOverride
		want      []string
		notWant   []string
	}{
		{
			name:    "default",
			want:    []string{"module counters-stub", "go 1.24", "require go.bytecodealliance.org/cm v0.3.0"},
			notWant: []string{"replace"},
		},
		{
			name:      "version override",
			transport: stubgen.TransportOverride{Version: "0.2.1"},
			want:      []string{"require go.bytecodealliance.org/cm v0.2.1"},
		},
		{
			name:      "path override",
			transport: stubgen.TransportOverride{Path: "/opt/cm"},
			want:      []string{"replace go.bytecodealliance.org/cm => /opt/cm"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := goMod("counters-stub", tt.transport)
			require.NoError(t, err)
			for _, w := range tt.want {
				assert.Contains(t, string(data), w)
			}
			for _, w := range tt.notWant {
				assert.NotContains(t, string(data), w)
			}
		})
	}
}

func TestGenerate_GoSources(t *testing.T) {
	fsys, w := setup(t, false)
	res, err := Generate(fsys, w, config("out", false, false))
	require.NoError(t, err)

	fset := token.NewFileSet()
	for _, f := range res.Files {
		if !strings.HasSuffix(f, ".go") {
			continue
		}
		_, err := parser.ParseFile(fset, f, readFile(t, fsys, path.Join("out", f)), parser.AllErrors)
		assert.NoError(t, err, f)
	}

	stubSrc := readFile(t, fsys, "out/stub.go")
	for _, want := range []string{
		`const StubVersion = "0.0.1"`,
		`stub "counters-stub/internal/test/counters-stub/stub-counters"`,
		`rpc "counters-stub/internal/golem/rpc/types"`,
		"stub.Exports.API.Constructor = apiConstructor",
		"stub.Exports.Counter.IncBy = counterIncBy",
		"stub.Exports.Counters.Summarize = countersSummarize",
		`"test:counters/api@0.1.0.{counter.new}"`,
		`"test:counters/api@0.1.0.{counter.drop}"`,
		`"test:counters/api@0.1.0.{counter.inc-by}"`,
		`"test:counters/api@0.1.0.{create}"`,
		`"{summarize}"`,
		"// Adds value to the counter.",
		"func countersSummarize(self cm.Rep) stub.Summary {",
		"func apiSplit(self cm.Rep, p0 string) (string, cm.List[string]) {",
		"func counterMerge(location rpc.URI, p0 cm.Rep, p1 cm.Rep) stub.Counter {",
	} {
		assert.Contains(t, stubSrc, want)
	}

	codecSrc := readFile(t, fsys, "out/codec.go")
	for _, want := range []string{
		"func encodeListString(b *witBuilder, v cm.List[string]) rpc.NodeIndex {",
		"func encodeBorrowCounter(b *witBuilder, v cm.Rep) rpc.NodeIndex {",
		"func encodeShape(b *witBuilder, v api.Shape) rpc.NodeIndex {",
		"func decodeListOwnCounter(r *witReader, i rpc.NodeIndex) (v cm.List[stub.Counter], err error) {",
		"func decodeOptionOwnCounter(",
		"func decodeStats(r *witReader, i rpc.NodeIndex) (v types.Stats, err error) {",
		"func decodeResultStringString(r *witReader, i rpc.NodeIndex) (v cm.Result[string, string, string], err error) {",
		"func decodeSummary(r *witReader, i rpc.NodeIndex) (v stub.Summary, err error) {",
		"payload = cm.Some(encodeTupleF64F64(b, *v.Square()))",
		"func decodeOptionF64(",
	} {
		assert.Contains(t, codecSrc, want)
	}
	assert.NotContains(t, codecSrc, "func decodeShape(")
}

func TestGenerate_InlineTypesLiveInStubPackage(t *testing.T) {
	fsys, w := setup(t, true)
	_, err := Generate(fsys, w, config("out", true, false))
	require.NoError(t, err)

	codecSrc := readFile(t, fsys, "out/codec.go")
	assert.Contains(t, codecSrc, "func decodeStats(r *witReader, i rpc.NodeIndex) (v stub.Stats, err error) {")
	assert.NotContains(t, codecSrc, "counters-stub/internal/test/counters/")
}

func TestGenerate_UnknownBackend(t *testing.T) {
	fsys, w := setup(t, false)
	cfg := config("out", false, false)
	cfg.Backend = stubgen.Backend(7)
	_, err := Generate(fsys, w, cfg)
	require.Error(t, err)
}
