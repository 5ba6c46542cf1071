package lexer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/wasm-rpc-stubgen/resolve/internal/token"
)

func scanAll(t *testing.T, src string) []token.Token {
	t.Helper()
	lx := New([]byte(src))
	var toks []token.Token
	for {
		tok, err := lx.Next()
		require.NoError(t, err)
		toks = append(toks, tok)
		if tok.Kind == token.EOF {
			return toks
		}
	}
}

func kinds(toks []token.Token) []token.Kind {
	out := make([]token.Kind, len(toks))
	for i, t := range toks {
		out[i] = t.Kind
	}
	return out
}

func TestLexer_Tokens(t *testing.T) {
	tests := []struct {
		name  string
		src   string
		kinds []token.Kind
		texts []string
	}{
		{
			name:  "package declaration",
			src:   "package golem:rpc@0.1.0;",
			kinds: []token.Kind{token.KwPackage, token.Ident, token.Colon, token.Ident, token.At, token.Version, token.Semicolon, token.EOF},
			texts: []string{"package", "golem", ":", "rpc", "@", "0.1.0", ";", ""},
		},
		{
			name:  "version followed by member list",
			src:   "use a:b/c@1.2.3.{t};",
			kinds: []token.Kind{token.KwUse, token.Ident, token.Colon, token.Ident, token.Slash, token.Ident, token.At, token.Version, token.Dot, token.LBrace, token.Ident, token.RBrace, token.Semicolon, token.EOF},
		},
		{
			name:  "prerelease version",
			src:   "@0.2.0-rc-2024-01-01",
			kinds: []token.Kind{token.At, token.Version, token.EOF},
			texts: []string{"@", "0.2.0-rc-2024-01-01", ""},
		},
		{
			name:  "kebab identifiers and arrow",
			src:   "get-value: func() -> u32;",
			kinds: []token.Kind{token.Ident, token.Colon, token.KwFunc, token.LParen, token.RParen, token.Arrow, token.Ident, token.Semicolon, token.EOF},
			texts: []string{"get-value", ":", "func", "(", ")", "->", "u32", ";", ""},
		},
		{
			name:  "escaped keyword",
			src:   "%type",
			kinds: []token.Kind{token.Ident, token.EOF},
			texts: []string{"type", ""},
		},
		{
			name:  "comments are skipped",
			src:   "// line\n/* block /* nested */ */ world",
			kinds: []token.Kind{token.KwWorld, token.EOF},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			toks := scanAll(t, tt.src)
			assert.Equal(t, tt.kinds, kinds(toks))
			if tt.texts != nil {
				for i, text := range tt.texts {
					assert.Equal(t, text, toks[i].Text, "token %d", i)
				}
			}
		})
	}
}

func TestLexer_DocComments(t *testing.T) {
	toks := scanAll(t, "/// Adds two numbers.\n/// Wraps on overflow.\nadd")
	require.Len(t, toks, 2)
	assert.Equal(t, "Adds two numbers.\nWraps on overflow.", toks[0].Doc)
}

func TestLexer_Positions(t *testing.T) {
	toks := scanAll(t, "world\n  api")
	assert.Equal(t, token.Pos{Line: 1, Col: 1}, toks[0].Pos)
	assert.Equal(t, token.Pos{Line: 2, Col: 3}, toks[1].Pos)
}

func TestLexer_Errors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		msg  string
	}{
		{name: "unterminated comment", src: "/* open", msg: "unterminated"},
		{name: "bad character", src: "#", msg: "unexpected character"},
		{name: "dangling escape", src: "% x", msg: "after '%'"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lx := New([]byte(tt.src))
			_, err := lx.Next()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestLexer_Peek(t *testing.T) {
	lx := New([]byte("a b"))
	p, err := lx.Peek()
	require.NoError(t, err)
	n, err := lx.Next()
	require.NoError(t, err)
	assert.Equal(t, p, n)
	n, err = lx.Next()
	require.NoError(t, err)
	assert.Equal(t, "b", n.Text)
}
