// Package parser builds WIT syntax trees from source files.
package parser

import (
	"fmt"

	"github.com/wippyai/wasm-rpc-stubgen/resolve/internal/ast"
	"github.com/wippyai/wasm-rpc-stubgen/resolve/internal/lexer"
	"github.com/wippyai/wasm-rpc-stubgen/resolve/internal/token"
)

// Error is a syntax error at a source position.
type Error struct {
	Pos token.Pos
	Msg string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Pos, e.Msg)
}

type parser struct {
	lx *lexer.Lexer
}

// bail carries a syntax error out of the recursive descent.
type bail struct{ err error }

// ParseFile parses one WIT file.
func ParseFile(path string, src []byte) (f *ast.File, err error) {
	p := &parser{lx: lexer.New(src)}
	defer func() {
		if r := recover(); r != nil {
			b, ok := r.(bail)
			if !ok {
				panic(r)
			}
			f, err = nil, b.err
		}
	}()
	f = p.file()
	f.Path = path
	return f, nil
}

func (p *parser) fail(pos token.Pos, format string, args ...any) {
	panic(bail{err: &Error{Pos: pos, Msg: fmt.Sprintf(format, args...)}})
}

func (p *parser) next() token.Token {
	tok, err := p.lx.Next()
	if err != nil {
		panic(bail{err: err})
	}
	return tok
}

func (p *parser) peek() token.Token {
	tok, err := p.lx.Peek()
	if err != nil {
		panic(bail{err: err})
	}
	return tok
}

func (p *parser) expect(k token.Kind) token.Token {
	tok := p.next()
	if tok.Kind != k {
		p.fail(tok.Pos, "expected %s, found %s", k, describe(tok))
	}
	return tok
}

func (p *parser) accept(k token.Kind) bool {
	if p.peek().Kind == k {
		p.next()
		return true
	}
	return false
}

func (p *parser) ident() token.Token {
	tok := p.next()
	if tok.Kind != token.Ident {
		p.fail(tok.Pos, "expected identifier, found %s", describe(tok))
	}
	return tok
}

func describe(tok token.Token) string {
	if tok.Kind == token.Ident {
		return fmt.Sprintf("identifier %q", tok.Text)
	}
	return tok.Kind.String()
}

func (p *parser) file() *ast.File {
	f := &ast.File{}
	p.skipGates()
	if p.peek().Kind == token.KwPackage {
		p.next()
		f.Package = p.packageName()
		p.expect(token.Semicolon)
	}
	for {
		p.skipGates()
		tok := p.peek()
		switch tok.Kind {
		case token.EOF:
			return f
		case token.KwUse:
			p.next()
			use := &ast.TopUse{Path: p.usePath()}
			if p.accept(token.KwAs) {
				use.As = p.ident().Text
			}
			p.expect(token.Semicolon)
			f.Uses = append(f.Uses, use)
		case token.KwInterface:
			p.next()
			name := p.ident()
			iface := p.interfaceBody(name.Text, name.Pos)
			iface.Doc = tok.Doc
			f.Items = append(f.Items, iface)
		case token.KwWorld:
			p.next()
			f.Items = append(f.Items, p.world(tok.Doc))
		default:
			p.fail(tok.Pos, "expected 'interface', 'world' or 'use', found %s", describe(tok))
		}
	}
}

func (p *parser) packageName() *ast.PackageName {
	ns := p.ident()
	p.expect(token.Colon)
	name := p.ident()
	pkg := &ast.PackageName{Namespace: ns.Text, Name: name.Text, Pos: ns.Pos}
	if p.accept(token.At) {
		pkg.Version = p.expect(token.Version).Text
	}
	return pkg
}

// usePath parses "name" or "ns:pkg/name@version".
func (p *parser) usePath() ast.UsePath {
	first := p.ident()
	if !p.accept(token.Colon) {
		return ast.UsePath{Name: first.Text, Pos: first.Pos}
	}
	pkg := p.ident()
	p.expect(token.Slash)
	name := p.ident()
	path := ast.UsePath{Namespace: first.Text, Package: pkg.Text, Name: name.Text, Pos: first.Pos}
	if p.accept(token.At) {
		path.Version = p.expect(token.Version).Text
	}
	return path
}

// skipGates consumes feature gates such as @since(version = 0.2.0).
func (p *parser) skipGates() {
	for p.peek().Kind == token.At {
		p.next()
		p.ident()
		if !p.accept(token.LParen) {
			continue
		}
		for depth := 1; depth > 0; {
			tok := p.next()
			switch tok.Kind {
			case token.LParen:
				depth++
			case token.RParen:
				depth--
			case token.EOF:
				p.fail(tok.Pos, "unterminated feature gate")
			}
		}
	}
}

func (p *parser) interfaceBody(name string, pos token.Pos) *ast.Interface {
	iface := &ast.Interface{Name: name, Pos: pos}
	p.expect(token.LBrace)
	for {
		p.skipGates()
		tok := p.peek()
		switch tok.Kind {
		case token.RBrace:
			p.next()
			return iface
		case token.KwUse:
			p.next()
			iface.Uses = append(iface.Uses, p.useNames())
		case token.KwType, token.KwRecord, token.KwVariant, token.KwEnum, token.KwFlags, token.KwResource:
			iface.Types = append(iface.Types, p.typeDecl())
		case token.Ident:
			p.next()
			p.expect(token.Colon)
			fn := p.funcType(ast.FuncFreestanding, tok)
			p.expect(token.Semicolon)
			iface.Funcs = append(iface.Funcs, fn)
		default:
			p.fail(tok.Pos, "unexpected %s in interface %q", describe(tok), name)
		}
	}
}

// useNames parses the remainder of "use path.{a, b as c};".
func (p *parser) useNames() *ast.Use {
	use := &ast.Use{Path: p.usePath()}
	p.expect(token.Dot)
	p.expect(token.LBrace)
	for !p.accept(token.RBrace) {
		name := p.ident()
		n := ast.UseName{Name: name.Text, Pos: name.Pos}
		if p.accept(token.KwAs) {
			n.As = p.ident().Text
		}
		use.Names = append(use.Names, n)
		if !p.accept(token.Comma) {
			p.expect(token.RBrace)
			break
		}
	}
	p.expect(token.Semicolon)
	return use
}

func (p *parser) world(doc string) *ast.World {
	name := p.ident()
	w := &ast.World{Name: name.Text, Doc: doc, Pos: name.Pos}
	p.expect(token.LBrace)
	for {
		p.skipGates()
		tok := p.peek()
		switch tok.Kind {
		case token.RBrace:
			p.next()
			return w
		case token.KwImport:
			p.next()
			w.Imports = append(w.Imports, p.extern())
		case token.KwExport:
			p.next()
			w.Exports = append(w.Exports, p.extern())
		case token.KwUse:
			p.next()
			w.Uses = append(w.Uses, p.useNames())
		case token.KwInclude:
			p.next()
			inc := &ast.Include{Path: p.usePath()}
			if p.accept(token.KwWith) {
				p.expect(token.LBrace)
				for !p.accept(token.RBrace) {
					from := p.ident()
					p.expect(token.KwAs)
					to := p.ident()
					inc.With = append(inc.With, ast.UseName{Name: from.Text, As: to.Text, Pos: from.Pos})
					if !p.accept(token.Comma) {
						p.expect(token.RBrace)
						break
					}
				}
			} else {
				p.expect(token.Semicolon)
			}
			w.Includes = append(w.Includes, inc)
		case token.KwType, token.KwRecord, token.KwVariant, token.KwEnum, token.KwFlags, token.KwResource:
			w.Types = append(w.Types, p.typeDecl())
		default:
			p.fail(tok.Pos, "unexpected %s in world %q", describe(tok), w.Name)
		}
	}
}

// extern parses an import or export item after its keyword.
func (p *parser) extern() *ast.Extern {
	first := p.ident()
	if p.peek().Kind != token.Colon {
		p.expect(token.Semicolon)
		return &ast.Extern{Name: first.Text, Path: &ast.UsePath{Name: first.Text, Pos: first.Pos}, Pos: first.Pos}
	}
	p.next()

	switch p.peek().Kind {
	case token.KwFunc, token.KwAsync:
		fn := p.funcType(ast.FuncFreestanding, first)
		p.expect(token.Semicolon)
		return &ast.Extern{Name: first.Text, Func: fn, Pos: first.Pos}
	case token.KwInterface:
		p.next()
		iface := p.interfaceBody(first.Text, first.Pos)
		iface.Doc = first.Doc
		return &ast.Extern{Name: first.Text, Interface: iface, Pos: first.Pos}
	}

	pkg := p.ident()
	p.expect(token.Slash)
	name := p.ident()
	path := &ast.UsePath{Namespace: first.Text, Package: pkg.Text, Name: name.Text, Pos: first.Pos}
	if p.accept(token.At) {
		path.Version = p.expect(token.Version).Text
	}
	p.expect(token.Semicolon)
	return &ast.Extern{Name: path.String(), Path: path, Pos: first.Pos}
}

func (p *parser) typeDecl() *ast.TypeDecl {
	kw := p.next()
	name := p.ident()
	decl := &ast.TypeDecl{Name: name.Text, Doc: kw.Doc, Pos: name.Pos}

	switch kw.Kind {
	case token.KwType:
		decl.Kind = ast.TypeAlias
		p.expect(token.Equals)
		decl.Alias = p.typeExpr()
		p.expect(token.Semicolon)
	case token.KwRecord:
		decl.Kind = ast.TypeRecord
		p.braced(func() {
			field := p.ident()
			p.expect(token.Colon)
			decl.Fields = append(decl.Fields, &ast.Field{Name: field.Text, Type: p.typeExpr(), Pos: field.Pos})
		})
	case token.KwVariant:
		decl.Kind = ast.TypeVariant
		p.braced(func() {
			c := p.ident()
			vc := &ast.Case{Name: c.Text, Pos: c.Pos}
			if p.accept(token.LParen) {
				vc.Type = p.typeExpr()
				p.expect(token.RParen)
			}
			decl.Cases = append(decl.Cases, vc)
		})
	case token.KwEnum, token.KwFlags:
		decl.Kind = ast.TypeEnum
		if kw.Kind == token.KwFlags {
			decl.Kind = ast.TypeFlags
		}
		p.braced(func() {
			decl.Names = append(decl.Names, p.ident().Text)
		})
	case token.KwResource:
		decl.Kind = ast.TypeResource
		if p.accept(token.Semicolon) {
			break
		}
		p.expect(token.LBrace)
		for !p.accept(token.RBrace) {
			p.skipGates()
			tok := p.next()
			switch {
			case tok.Kind == token.KwConstructor:
				fn := &ast.Func{Kind: ast.FuncConstructor, Name: "constructor", Doc: tok.Doc, Pos: tok.Pos}
				fn.Params = p.params()
				if p.accept(token.Arrow) {
					fn.Results = []*ast.Field{{Type: p.typeExpr(), Pos: tok.Pos}}
				}
				decl.Funcs = append(decl.Funcs, fn)
			case tok.Kind == token.Ident:
				p.expect(token.Colon)
				kind := ast.FuncMethod
				if p.accept(token.KwStatic) {
					kind = ast.FuncStatic
				}
				decl.Funcs = append(decl.Funcs, p.funcType(kind, tok))
			default:
				p.fail(tok.Pos, "unexpected %s in resource %q", describe(tok), decl.Name)
			}
			p.expect(token.Semicolon)
		}
	}
	return decl
}

// braced parses "{ item, item, ... }" allowing a trailing comma.
func (p *parser) braced(item func()) {
	p.expect(token.LBrace)
	for !p.accept(token.RBrace) {
		item()
		if !p.accept(token.Comma) {
			p.expect(token.RBrace)
			return
		}
	}
}

func (p *parser) funcType(kind ast.FuncKind, name token.Token) *ast.Func {
	if tok := p.peek(); tok.Kind == token.KwAsync {
		p.fail(tok.Pos, "async function %q is not supported", name.Text)
	}
	p.expect(token.KwFunc)
	fn := &ast.Func{Kind: kind, Name: name.Text, Doc: name.Doc, Pos: name.Pos}
	fn.Params = p.params()
	if p.accept(token.Arrow) {
		if p.peek().Kind == token.LParen {
			fn.Results = p.params()
		} else {
			fn.Results = []*ast.Field{{Type: p.typeExpr(), Pos: name.Pos}}
		}
	}
	return fn
}

func (p *parser) params() []*ast.Field {
	p.expect(token.LParen)
	var out []*ast.Field
	for !p.accept(token.RParen) {
		name := p.ident()
		p.expect(token.Colon)
		out = append(out, &ast.Field{Name: name.Text, Type: p.typeExpr(), Pos: name.Pos})
		if !p.accept(token.Comma) {
			p.expect(token.RParen)
			break
		}
	}
	return out
}

var primitives = map[string]bool{
	"bool": true, "u8": true, "u16": true, "u32": true, "u64": true,
	"s8": true, "s16": true, "s32": true, "s64": true,
	"f32": true, "f64": true, "char": true, "string": true,
}

var renamed = map[string]string{"float32": "f32", "float64": "f64"}

func (p *parser) typeExpr() *ast.TypeExpr {
	tok := p.ident()
	if tok.Escaped {
		return &ast.TypeExpr{Kind: ast.ExprNamed, Name: tok.Text, Pos: tok.Pos}
	}
	if primitives[tok.Text] {
		return &ast.TypeExpr{Kind: ast.ExprPrim, Name: tok.Text, Pos: tok.Pos}
	}
	if to, ok := renamed[tok.Text]; ok {
		p.fail(tok.Pos, "the `%s` type has been renamed to `%s`", tok.Text, to)
	}

	switch tok.Text {
	case "list":
		return p.generic(ast.ExprList, tok, 1)
	case "option":
		return p.generic(ast.ExprOption, tok, 1)
	case "tuple":
		return p.generic(ast.ExprTuple, tok, -1)
	case "own", "borrow":
		kind := ast.ExprOwn
		if tok.Text == "borrow" {
			kind = ast.ExprBorrow
		}
		p.expect(token.Lt)
		res := p.ident()
		p.expect(token.Gt)
		return &ast.TypeExpr{Kind: kind, Name: res.Text, Pos: tok.Pos}
	case "result":
		expr := &ast.TypeExpr{Kind: ast.ExprResult, Args: []*ast.TypeExpr{nil, nil}, Pos: tok.Pos}
		if !p.accept(token.Lt) {
			return expr
		}
		if !p.accept(token.Underscore) {
			expr.Args[0] = p.typeExpr()
		}
		if p.accept(token.Comma) {
			expr.Args[1] = p.typeExpr()
		}
		p.expect(token.Gt)
		return expr
	case "future", "stream", "error-context":
		p.fail(tok.Pos, "type %q is not supported", tok.Text)
	}
	return &ast.TypeExpr{Kind: ast.ExprNamed, Name: tok.Text, Pos: tok.Pos}
}

// generic parses "<T, ...>" after a type constructor. n < 0 accepts any
// non-zero number of arguments.
func (p *parser) generic(kind ast.ExprKind, tok token.Token, n int) *ast.TypeExpr {
	expr := &ast.TypeExpr{Kind: kind, Pos: tok.Pos}
	p.expect(token.Lt)
	for {
		expr.Args = append(expr.Args, p.typeExpr())
		if !p.accept(token.Comma) {
			break
		}
		if p.peek().Kind == token.Gt {
			break
		}
	}
	p.expect(token.Gt)
	if n > 0 && len(expr.Args) != n {
		p.fail(tok.Pos, "%s expects %d type argument(s), found %d", tok.Text, n, len(expr.Args))
	}
	return expr
}
