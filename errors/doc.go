// Package errors provides the structured error types shared by every stage of
// the stub pipeline.
//
// Errors are categorized by Phase (the pipeline stage that failed) and Kind
// (the failure category). An Error names the offending artifact (a file, a
// world, a function, an import) so the message alone is enough to locate the fix.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseResolve, errors.KindNotFound).
//		Artifact("wit/api.wit:4:12").
//		Path("api", "add").
//		Detail("type %q is not defined", "point").
//		Build()
//
// Stage-specific failures carry their own types: ConflictError lists every
// differing destination file of a merge, UnresolvedImportsError and
// AmbiguousImportError describe composition failures, and BuildError relays
// the output of a failed toolchain process verbatim.
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
