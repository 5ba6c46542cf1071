// Package token defines the lexical tokens of the WIT language.
package token

import "fmt"

// Kind represents the category of a WIT token.
type Kind uint8

const (
	// Invalid indicates an erroneous token.
	Invalid Kind = iota
	// EOF marks the end of the source input.
	EOF

	// Ident is a kebab-case identifier, possibly %-escaped.
	Ident
	// Version is a semantic version or other numeric literal.
	Version

	Colon     // :
	Semicolon // ;
	Comma     // ,
	Dot       // .
	Slash     // /
	At        // @
	Equals    // =
	Arrow     // ->
	Lt        // <
	Gt        // >
	LParen    // (
	RParen    // )
	LBrace    // {
	RBrace    // }
	Star      // *
	Underscore

	keywordsStart
	KwPackage
	KwInterface
	KwWorld
	KwImport
	KwExport
	KwUse
	KwAs
	KwInclude
	KwWith
	KwType
	KwRecord
	KwVariant
	KwEnum
	KwFlags
	KwResource
	KwFunc
	KwStatic
	KwConstructor
	KwAsync
	keywordsEnd
)

var keywords = map[string]Kind{
	"package":     KwPackage,
	"interface":   KwInterface,
	"world":       KwWorld,
	"import":      KwImport,
	"export":      KwExport,
	"use":         KwUse,
	"as":          KwAs,
	"include":     KwInclude,
	"with":        KwWith,
	"type":        KwType,
	"record":      KwRecord,
	"variant":     KwVariant,
	"enum":        KwEnum,
	"flags":       KwFlags,
	"resource":    KwResource,
	"func":        KwFunc,
	"static":      KwStatic,
	"constructor": KwConstructor,
	"async":       KwAsync,
}

// LookupKeyword returns the keyword kind for an unescaped identifier.
func LookupKeyword(ident string) (Kind, bool) {
	k, ok := keywords[ident]
	return k, ok
}

var names = map[Kind]string{
	Invalid:    "invalid token",
	EOF:        "end of file",
	Ident:      "identifier",
	Version:    "version",
	Colon:      "':'",
	Semicolon:  "';'",
	Comma:      "','",
	Dot:        "'.'",
	Slash:      "'/'",
	At:         "'@'",
	Equals:     "'='",
	Arrow:      "'->'",
	Lt:         "'<'",
	Gt:         "'>'",
	LParen:     "'('",
	RParen:     "')'",
	LBrace:     "'{'",
	RBrace:     "'}'",
	Star:       "'*'",
	Underscore: "'_'",
}

func (k Kind) String() string {
	if s, ok := names[k]; ok {
		return s
	}
	if k.IsKeyword() {
		for text, kw := range keywords {
			if kw == k {
				return "'" + text + "'"
			}
		}
	}
	return fmt.Sprintf("token(%d)", uint8(k))
}

// IsKeyword reports whether k is a reserved word.
func (k Kind) IsKeyword() bool {
	return k > keywordsStart && k < keywordsEnd
}

// Pos is a 1-based line and column position.
type Pos struct {
	Line int
	Col  int
}

func (p Pos) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Col)
}

// Token is a single lexical token.
type Token struct {
	Kind Kind
	Pos  Pos
	// Text is the identifier or literal text with any '%' escape removed.
	Text string
	// Doc holds the /// and /** */ comments directly preceding the token.
	Doc string
	// Escaped is set for %-prefixed identifiers, which are never keywords.
	Escaped bool
}

// IsIdent reports whether the token can serve as a name.
func (t Token) IsIdent() bool { return t.Kind == Ident }
