package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/wasm-rpc-stubgen/resolve/internal/ast"
)

func TestParseFile_Package(t *testing.T) {
	f, err := ParseFile("a.wit", []byte(`
/// Root docs.
@since(version = 0.2.0)
package wasi:clocks@0.2.0;

use wasi:io/poll@0.2.0 as poll;

interface monotonic-clock {
  use poll.{pollable};
  type instant = u64;
  now: func() -> instant;
  @unstable(feature = subscribe)
  subscribe: func(when: instant) -> pollable;
}
`))
	require.NoError(t, err)
	require.NotNil(t, f.Package)
	assert.Equal(t, "wasi", f.Package.Namespace)
	assert.Equal(t, "clocks", f.Package.Name)
	assert.Equal(t, "0.2.0", f.Package.Version)

	require.Len(t, f.Uses, 1)
	assert.Equal(t, "poll", f.Uses[0].As)
	assert.Equal(t, "wasi:io/poll@0.2.0", f.Uses[0].Path.String())

	require.Len(t, f.Items, 1)
	iface := f.Items[0].(*ast.Interface)
	assert.Equal(t, "monotonic-clock", iface.Name)
	require.Len(t, iface.Uses, 1)
	assert.True(t, iface.Uses[0].Path.IsLocal())
	require.Len(t, iface.Funcs, 2)
	assert.Equal(t, "subscribe", iface.Funcs[1].Name)
}

func TestParseFile_TypeDecls(t *testing.T) {
	f, err := ParseFile("t.wit", []byte(`package t:types;
interface shapes {
  record point { x: f64, y: f64, }
  variant shape { circle(f64), square(tuple<f64, f64>), empty }
  enum color { red, green, blue }
  flags perms { read, write }
  type maybe = option<result<_, string>>;
  resource canvas {
    constructor(w: u32, h: u32);
    draw: func(s: shape) -> result<u32>;
    blank: static func() -> canvas;
  }
}
`))
	require.NoError(t, err)
	iface := f.Items[0].(*ast.Interface)
	require.Len(t, iface.Types, 6)

	tests := []struct {
		kind ast.TypeKind
		name string
		n    int
	}{
		{ast.TypeRecord, "point", 2},
		{ast.TypeVariant, "shape", 3},
		{ast.TypeEnum, "color", 3},
		{ast.TypeFlags, "perms", 2},
		{ast.TypeAlias, "maybe", 0},
		{ast.TypeResource, "canvas", 3},
	}
	for i, tt := range tests {
		d := iface.Types[i]
		assert.Equal(t, tt.kind, d.Kind, d.Name)
		assert.Equal(t, tt.name, d.Name)
		switch d.Kind {
		case ast.TypeRecord:
			assert.Len(t, d.Fields, tt.n)
		case ast.TypeVariant:
			assert.Len(t, d.Cases, tt.n)
			assert.Nil(t, d.Cases[2].Type)
		case ast.TypeEnum, ast.TypeFlags:
			assert.Len(t, d.Names, tt.n)
		case ast.TypeResource:
			assert.Len(t, d.Funcs, tt.n)
			assert.Equal(t, ast.FuncConstructor, d.Funcs[0].Kind)
			assert.Equal(t, ast.FuncMethod, d.Funcs[1].Kind)
			assert.Equal(t, ast.FuncStatic, d.Funcs[2].Kind)
		}
	}

	alias := iface.Types[4].Alias
	assert.Equal(t, ast.ExprOption, alias.Kind)
	res := alias.Args[0]
	assert.Equal(t, ast.ExprResult, res.Kind)
	assert.Nil(t, res.Args[0])
	assert.Equal(t, "string", res.Args[1].Name)
}

func TestParseFile_World(t *testing.T) {
	f, err := ParseFile("w.wit", []byte(`package t:w;
world app {
  import wasi:cli/environment@0.2.0;
  import log: func(msg: string);
  export api;
  export admin: interface { reset: func(); }
  include t:base/proxy with { handle as serve }
  include other;
}
`))
	require.NoError(t, err)
	w := f.Items[0].(*ast.World)
	require.Len(t, w.Imports, 2)
	assert.Equal(t, "wasi:cli/environment@0.2.0", w.Imports[0].Name)
	assert.NotNil(t, w.Imports[1].Func)
	require.Len(t, w.Exports, 2)
	assert.Equal(t, "api", w.Exports[0].Path.Name)
	assert.NotNil(t, w.Exports[1].Interface)
	require.Len(t, w.Includes, 2)
	assert.Equal(t, "serve", w.Includes[0].With[0].As)
}

func TestParseFile_Errors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		msg  string
	}{
		{name: "missing semicolon", src: "package a:b", msg: "expected ';'"},
		{name: "bad top level", src: "record r {}", msg: "expected 'interface', 'world' or 'use'"},
		{name: "list arity", src: "interface i { type t = list<u8, u8>; }", msg: "expects 1 type argument"},
		{name: "async unsupported", src: "interface i { f: async func(); }", msg: "async function"},
		{name: "stream unsupported", src: "interface i { f: func(s: stream<u8>); }", msg: `"stream"`},
		{name: "unterminated gate", src: "@since(version = 1.0.0", msg: "unterminated"},
		{name: "legacy float name", src: "interface i { f: func(x: float32); }", msg: "renamed to `f32`"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseFile("x.wit", []byte(tt.src))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}
