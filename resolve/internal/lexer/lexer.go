// Package lexer turns WIT source text into tokens.
package lexer

import (
	"fmt"
	"strings"

	"github.com/wippyai/wasm-rpc-stubgen/resolve/internal/token"
)

// Error is a lexical error at a source position.
type Error struct {
	Pos token.Pos
	Msg string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Pos, e.Msg)
}

// Lexer scans one WIT source file.
type Lexer struct {
	src  []byte
	off  int
	line int
	col  int
	look *token.Token
	doc  []string
}

// New creates a lexer over src.
func New(src []byte) *Lexer {
	return &Lexer{src: src, line: 1, col: 1}
}

// Next returns the next significant token. After EOF it keeps returning EOF.
func (lx *Lexer) Next() (token.Token, error) {
	if lx.look != nil {
		tok := *lx.look
		lx.look = nil
		return tok, nil
	}

	if err := lx.skipTrivia(); err != nil {
		return token.Token{}, err
	}

	pos := lx.pos()
	doc := strings.Join(lx.doc, "\n")
	lx.doc = nil

	if lx.off >= len(lx.src) {
		return token.Token{Kind: token.EOF, Pos: pos}, nil
	}

	tok, err := lx.scan(pos)
	if err != nil {
		return token.Token{}, err
	}
	tok.Doc = doc
	return tok, nil
}

// Peek returns the next token without consuming it.
func (lx *Lexer) Peek() (token.Token, error) {
	if lx.look != nil {
		return *lx.look, nil
	}
	tok, err := lx.Next()
	if err != nil {
		return tok, err
	}
	lx.look = &tok
	return tok, nil
}

func (lx *Lexer) pos() token.Pos {
	return token.Pos{Line: lx.line, Col: lx.col}
}

func (lx *Lexer) peekByte(n int) byte {
	if lx.off+n >= len(lx.src) {
		return 0
	}
	return lx.src[lx.off+n]
}

func (lx *Lexer) advance(n int) {
	for i := 0; i < n && lx.off < len(lx.src); i++ {
		if lx.src[lx.off] == '\n' {
			lx.line++
			lx.col = 1
		} else {
			lx.col++
		}
		lx.off++
	}
}

func (lx *Lexer) scan(pos token.Pos) (token.Token, error) {
	ch := lx.src[lx.off]
	switch {
	case ch == '%':
		lx.advance(1)
		if !isIdentStart(lx.peekByte(0)) {
			return token.Token{}, &Error{Pos: pos, Msg: "expected identifier after '%'"}
		}
		text := lx.scanIdent()
		return token.Token{Kind: token.Ident, Pos: pos, Text: text, Escaped: true}, nil
	case isIdentStart(ch):
		text := lx.scanIdent()
		if kw, ok := token.LookupKeyword(text); ok {
			return token.Token{Kind: kw, Pos: pos, Text: text}, nil
		}
		return token.Token{Kind: token.Ident, Pos: pos, Text: text}, nil
	case isDigit(ch):
		return token.Token{Kind: token.Version, Pos: pos, Text: lx.scanVersion()}, nil
	case ch == '-' && lx.peekByte(1) == '>':
		lx.advance(2)
		return token.Token{Kind: token.Arrow, Pos: pos, Text: "->"}, nil
	}

	kind, ok := punct[ch]
	if !ok {
		return token.Token{}, &Error{Pos: pos, Msg: fmt.Sprintf("unexpected character %q", ch)}
	}
	lx.advance(1)
	return token.Token{Kind: kind, Pos: pos, Text: string(ch)}, nil
}

var punct = map[byte]token.Kind{
	':': token.Colon,
	';': token.Semicolon,
	',': token.Comma,
	'.': token.Dot,
	'/': token.Slash,
	'@': token.At,
	'=': token.Equals,
	'<': token.Lt,
	'>': token.Gt,
	'(': token.LParen,
	')': token.RParen,
	'{': token.LBrace,
	'}': token.RBrace,
	'*': token.Star,
	'_': token.Underscore,
}

// scanIdent consumes a kebab-case identifier: words of letters and digits
// joined by single hyphens.
func (lx *Lexer) scanIdent() string {
	start := lx.off
	for lx.off < len(lx.src) {
		ch := lx.src[lx.off]
		if isIdentStart(ch) || isDigit(ch) {
			lx.advance(1)
			continue
		}
		if ch == '-' && lx.peekByte(1) != '>' && (isIdentStart(lx.peekByte(1)) || isDigit(lx.peekByte(1))) {
			lx.advance(1)
			continue
		}
		break
	}
	return string(lx.src[start:lx.off])
}

// scanVersion consumes a semver-shaped literal. A trailing '.' belongs to the
// following token, as in "use a:b/c@1.0.0.{t}".
func (lx *Lexer) scanVersion() string {
	start := lx.off
	for lx.off < len(lx.src) {
		ch := lx.src[lx.off]
		if isDigit(ch) || isIdentStart(ch) || ch == '.' || ch == '-' || ch == '+' {
			if ch == '.' && !isVersionChar(lx.peekByte(1)) {
				break
			}
			lx.advance(1)
			continue
		}
		break
	}
	return string(lx.src[start:lx.off])
}

func (lx *Lexer) skipTrivia() error {
	for lx.off < len(lx.src) {
		ch := lx.src[lx.off]
		switch {
		case ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r':
			lx.advance(1)
		case ch == '/' && lx.peekByte(1) == '/':
			lx.lineComment()
		case ch == '/' && lx.peekByte(1) == '*':
			if err := lx.blockComment(); err != nil {
				return err
			}
		default:
			return nil
		}
	}
	return nil
}

func (lx *Lexer) lineComment() {
	start := lx.off
	for lx.off < len(lx.src) && lx.src[lx.off] != '\n' {
		lx.advance(1)
	}
	text := string(lx.src[start:lx.off])
	if strings.HasPrefix(text, "///") && !strings.HasPrefix(text, "////") {
		lx.doc = append(lx.doc, strings.TrimPrefix(strings.TrimPrefix(text, "///"), " "))
	}
}

// blockComment consumes a possibly nested /* */ comment.
func (lx *Lexer) blockComment() error {
	pos := lx.pos()
	start := lx.off
	depth := 0
	for lx.off < len(lx.src) {
		switch {
		case lx.src[lx.off] == '/' && lx.peekByte(1) == '*':
			depth++
			lx.advance(2)
		case lx.src[lx.off] == '*' && lx.peekByte(1) == '/':
			depth--
			lx.advance(2)
			if depth == 0 {
				text := string(lx.src[start:lx.off])
				if strings.HasPrefix(text, "/**") && text != "/**/" {
					body := strings.TrimSuffix(strings.TrimPrefix(text, "/**"), "*/")
					lx.doc = append(lx.doc, strings.TrimSpace(body))
				}
				return nil
			}
		default:
			lx.advance(1)
		}
	}
	return &Error{Pos: pos, Msg: "unterminated block comment"}
}

func isIdentStart(ch byte) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

func isVersionChar(ch byte) bool {
	return isDigit(ch) || isIdentStart(ch)
}
