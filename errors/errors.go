package errors

import (
	"fmt"
	"sort"
	"strings"
)

// Phase indicates the pipeline stage where the error occurred
type Phase string

const (
	PhaseConfig     Phase = "config"     // configuration validation
	PhaseResolve    Phase = "resolve"    // WIT parsing and resolution
	PhaseSynthesize Phase = "synthesize" // stub world derivation
	PhaseGenerate   Phase = "generate"   // stub project generation
	PhaseBuild      Phase = "build"      // external toolchain
	PhaseMerge      Phase = "merge"      // stub dependency merge
	PhaseCompose    Phase = "compose"    // binary composition
	PhaseWorkspace  Phase = "workspace"  // multi-project automation
	PhaseApp        Phase = "app"        // manifest-driven application builds
)

// Kind categorizes the error
type Kind string

const (
	KindSyntax           Kind = "syntax"
	KindNotFound         Kind = "not_found"
	KindAmbiguous        Kind = "ambiguous"
	KindCycle            Kind = "cycle"
	KindUnsupported      Kind = "unsupported"
	KindInvariant        Kind = "invariant"
	KindToolchain        Kind = "toolchain"
	KindConflict         Kind = "conflict"
	KindUnresolvedImport Kind = "unresolved_import"
	KindAmbiguousImport  Kind = "ambiguous_import"
	KindInvalidInput     Kind = "invalid_input"
	KindInvalidData      Kind = "invalid_data"
	KindIO               Kind = "io"
)

// Error is the structured error type used throughout the pipeline
type Error struct {
	Cause    error
	Phase    Phase
	Kind     Kind
	Artifact string
	Detail   string
	Path     []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	if e.Artifact != "" {
		b.WriteString(": ")
		b.WriteString(e.Artifact)
	}

	if e.Detail != "" {
		if e.Artifact != "" {
			b.WriteString(" - ")
		} else {
			b.WriteString(": ")
		}
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Path sets the element path (function, parameter, type position)
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// Artifact sets the file, world or import the error is about
func (b *Builder) Artifact(a string) *Builder {
	b.err.Artifact = a
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Unsupported creates an unsupported-shape error
func Unsupported(phase Phase, path []string, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Path:   path,
		Detail: detail,
	}
}

// Invariant reports an internal inconsistency that valid input never produces
func Invariant(phase Phase, detail string, args ...any) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvariant,
		Detail: fmt.Sprintf(detail, args...),
	}
}

// IO wraps a filesystem failure on path
func IO(phase Phase, path string, cause error) *Error {
	return &Error{
		Phase:    phase,
		Kind:     KindIO,
		Artifact: path,
		Cause:    cause,
	}
}

// ConflictError is returned by a merge when destination files differ from the
// stub's files and overwriting was not requested. No file has been written.
type ConflictError struct {
	Files []string
}

// NewConflictError creates a conflict error listing files in sorted order
func NewConflictError(files []string) *ConflictError {
	sorted := append([]string(nil), files...)
	sort.Strings(sorted)
	return &ConflictError{Files: sorted}
}

func (e *ConflictError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[merge] conflict: %d file(s) differ at the destination:", len(e.Files))
	for _, f := range e.Files {
		b.WriteString("\n  - ")
		b.WriteString(f)
	}
	return b.String()
}

// Is reports whether target matches this error type
func (e *ConflictError) Is(target error) bool {
	if _, ok := target.(*ConflictError); ok {
		return true
	}
	t, ok := target.(*Error)
	return ok && t.Phase == PhaseMerge && t.Kind == KindConflict
}

// UnresolvedImport represents a single caller import no stub satisfies
type UnresolvedImport struct {
	Namespace string // e.g., "ns:api"
	Name      string // e.g., "ns:api/math@0.1.0"
}

// UnresolvedImportsError is returned when composition leaves caller imports
// that are neither satisfied by a stub nor allowed to pass through
type UnresolvedImportsError struct {
	Imports []UnresolvedImport
}

// NewUnresolvedImportsError creates an error from fully-qualified import names
func NewUnresolvedImportsError(imports []string) *UnresolvedImportsError {
	result := &UnresolvedImportsError{
		Imports: make([]UnresolvedImport, 0, len(imports)),
	}
	for _, imp := range imports {
		result.Imports = append(result.Imports, UnresolvedImport{
			Namespace: importNamespace(imp),
			Name:      imp,
		})
	}
	return result
}

// importNamespace returns the "ns:pkg" part of "ns:pkg/iface@ver"
func importNamespace(name string) string {
	pkg, _, found := strings.Cut(name, "/")
	if !found {
		return "(world)"
	}
	return pkg
}

func (e *UnresolvedImportsError) Error() string {
	if len(e.Imports) == 0 {
		return "[compose] unresolved_import: no imports specified"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[compose] unresolved_import: %d import(s) not satisfied by any stub:\n", len(e.Imports))

	byNS := make(map[string][]string)
	var nsOrder []string
	for _, imp := range e.Imports {
		if _, exists := byNS[imp.Namespace]; !exists {
			nsOrder = append(nsOrder, imp.Namespace)
		}
		byNS[imp.Namespace] = append(byNS[imp.Namespace], imp.Name)
	}

	for _, ns := range nsOrder {
		b.WriteString("\n  ")
		b.WriteString(ns)
		b.WriteString(":\n")
		for _, name := range byNS[ns] {
			b.WriteString("    - ")
			b.WriteString(name)
			b.WriteByte('\n')
		}
	}

	return strings.TrimSuffix(b.String(), "\n")
}

// Names returns the unresolved import names in reporting order
func (e *UnresolvedImportsError) Names() []string {
	names := make([]string, len(e.Imports))
	for i, imp := range e.Imports {
		names[i] = imp.Name
	}
	return names
}

// Is reports whether target matches this error type
func (e *UnresolvedImportsError) Is(target error) bool {
	if _, ok := target.(*UnresolvedImportsError); ok {
		return true
	}
	t, ok := target.(*Error)
	return ok && t.Phase == PhaseCompose && t.Kind == KindUnresolvedImport
}

// AmbiguousImportError is returned when one caller import is exported with
// incompatible signatures by more than one stub
type AmbiguousImportError struct {
	Import     string
	Candidates []string
}

func (e *AmbiguousImportError) Error() string {
	return fmt.Sprintf("[compose] ambiguous_import: %q is exported with incompatible signatures by %s",
		e.Import, strings.Join(e.Candidates, ", "))
}

// Is reports whether target matches this error type
func (e *AmbiguousImportError) Is(target error) bool {
	if _, ok := target.(*AmbiguousImportError); ok {
		return true
	}
	t, ok := target.(*Error)
	return ok && t.Phase == PhaseCompose && t.Kind == KindAmbiguousImport
}

// BuildError is returned when an external toolchain process exits with a
// non-zero status. Output holds the combined process output as produced.
type BuildError struct {
	Command  []string
	Dir      string
	ExitCode int
	Output   []byte
	Cause    error
}

func (e *BuildError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[build] toolchain: %s", strings.Join(e.Command, " "))
	if e.Dir != "" {
		fmt.Fprintf(&b, " (in %s)", e.Dir)
	}
	if e.ExitCode != 0 {
		fmt.Fprintf(&b, " exited with status %d", e.ExitCode)
	} else if e.Cause != nil {
		fmt.Fprintf(&b, " failed: %s", e.Cause.Error())
	}
	if len(e.Output) > 0 {
		b.WriteString("\n")
		b.Write(e.Output)
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Unwrap returns the underlying process error
func (e *BuildError) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error type
func (e *BuildError) Is(target error) bool {
	if _, ok := target.(*BuildError); ok {
		return true
	}
	t, ok := target.(*Error)
	return ok && t.Phase == PhaseBuild && t.Kind == KindToolchain
}
