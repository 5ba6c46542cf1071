// Package stubgen generates WebAssembly RPC stub components and composes them
// with their callers.
//
// Given the WIT description of a component, the pipeline synthesizes a stub
// world whose exports mirror the source component's exports but forward every
// call through the golem:rpc transport. The stub is generated as a Go project,
// compiled with TinyGo, and statically linked into a caller's component so the
// caller's imports are satisfied without further runtime wiring.
//
// # Architecture Overview
//
//	stubgen/             Root package with the run configuration
//	├── resolve/         WIT parsing and resolution into an index-addressed model
//	├── stub/            Stub world synthesis
//	├── codegen/         Stub project generation (WIT, go.mod, Go sources)
//	├── build/           External toolchain driver
//	├── merge/           Stub WIT merge into another WIT root
//	├── component/       Component binary decoding, encoding and type evaluation
//	├── compose/         Static composition of caller and stub components
//	├── workspace/       Multi-project automation and runner
//	├── pipeline/        Command entry points threading one Config
//	├── errors/          Structured error types
//	└── cmd/stubgen/     Command line interface
//
// # Quick Start
//
// Generate a stub project:
//
//	cfg := stubgen.Config{
//	    SourceWitRoot: "counter/wit",
//	    TargetRoot:    "counter-stub",
//	    StubVersion:   stubgen.DefaultStubVersion,
//	}
//	if err := pipeline.Generate(ctx, afero.NewOsFs(), cfg); err != nil {
//	    log.Fatal(err)
//	}
//
// Compose a caller with stubs:
//
//	out, plan, err := compose.Compose(callerBytes, [][]byte{stubBytes}, compose.Options{})
//
// # Determinism
//
// Generation is a pure function of the WIT root and the Config: running it
// twice produces byte-identical files. The merge stage relies on this to tell
// a stale destination from a conflicting one.
package stubgen
