package codegen

import (
	"strings"
	"unicode"
)

var initialisms = map[string]string{
	"api":  "API",
	"cpu":  "CPU",
	"dns":  "DNS",
	"eof":  "EOF",
	"html": "HTML",
	"http": "HTTP",
	"id":   "ID",
	"io":   "IO",
	"ip":   "IP",
	"json": "JSON",
	"rpc":  "RPC",
	"sql":  "SQL",
	"tcp":  "TCP",
	"tls":  "TLS",
	"ttl":  "TTL",
	"udp":  "UDP",
	"uri":  "URI",
	"url":  "URL",
	"utf8": "UTF8",
	"uuid": "UUID",
	"xml":  "XML",
}

// GoName converts a kebab-case WIT name to an exported Go identifier.
func GoName(name string) string {
	var b strings.Builder
	for _, word := range strings.Split(name, "-") {
		if word == "" {
			continue
		}
		if up, ok := initialisms[strings.ToLower(word)]; ok {
			b.WriteString(up)
			continue
		}
		r := []rune(word)
		r[0] = unicode.ToUpper(r[0])
		b.WriteString(string(r))
	}
	return b.String()
}

// goLocalName converts a kebab-case WIT name to an unexported Go identifier.
func goLocalName(name string) string {
	exported := GoName(name)
	if exported == "" {
		return ""
	}
	// Lower the leading initialism as a whole: "API" -> "api", "URIList" -> "uriList".
	r := []rune(exported)
	i := 0
	for i < len(r) && unicode.IsUpper(r[i]) {
		i++
	}
	switch {
	case i == len(r):
		return strings.ToLower(exported)
	case i > 1:
		i--
	}
	return strings.ToLower(string(r[:i])) + string(r[i:])
}

// goPackageName returns the Go package name of a WIT interface binding.
func goPackageName(iface string) string {
	return strings.ReplaceAll(strings.ToLower(iface), "-", "")
}

var witKeywords = map[string]bool{
	"package": true, "interface": true, "world": true, "import": true, "export": true,
	"use": true, "as": true, "include": true, "with": true, "type": true, "record": true,
	"variant": true, "enum": true, "flags": true, "resource": true, "func": true,
	"static": true, "constructor": true, "async": true, "list": true, "option": true,
	"result": true, "tuple": true, "own": true, "borrow": true, "future": true,
	"stream": true, "bool": true, "u8": true, "u16": true, "u32": true, "u64": true,
	"s8": true, "s16": true, "s32": true, "s64": true, "f32": true, "f64": true,
	"float32": true, "float64": true, "char": true, "string": true, "_": true,
}

// witIdent escapes names that collide with WIT keywords.
func witIdent(name string) string {
	if witKeywords[name] {
		return "%" + name
	}
	return name
}
