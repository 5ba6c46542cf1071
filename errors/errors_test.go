package errors

import (
	"errors"
	"strings"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains []string
	}{
		{
			name: "full error",
			err: &Error{
				Phase:    PhaseResolve,
				Kind:     KindNotFound,
				Path:     []string{"math", "add"},
				Artifact: "wit/api.wit:3:14",
				Detail:   "type \"point\" is not defined",
			},
			contains: []string{"[resolve]", "not_found", "math.add", "wit/api.wit:3:14", "point"},
		},
		{
			name: "minimal error",
			err: &Error{
				Phase: PhaseGenerate,
				Kind:  KindInvariant,
			},
			contains: []string{"[generate]", "invariant"},
		},
		{
			name: "error with cause",
			err: &Error{
				Phase:  PhaseMerge,
				Kind:   KindIO,
				Detail: "write failed",
				Cause:  errors.New("disk full"),
			},
			contains: []string{"[merge]", "io", "write failed", "caused by", "disk full"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, s := range tt.contains {
				if !strings.Contains(msg, s) {
					t.Errorf("error message %q does not contain %q", msg, s)
				}
			}
		})
	}
}

func TestError_Is(t *testing.T) {
	err := New(PhaseResolve, KindCycle).Detail("a -> b -> a").Build()

	if !errors.Is(err, &Error{Phase: PhaseResolve, Kind: KindCycle}) {
		t.Error("expected match on phase and kind")
	}
	if errors.Is(err, &Error{Phase: PhaseResolve, Kind: KindSyntax}) {
		t.Error("unexpected match on different kind")
	}
}

func TestBuilder(t *testing.T) {
	cause := errors.New("root")
	err := New(PhaseSynthesize, KindUnsupported).
		Path("add", "param[0]", "list", "tuple[0]").
		Artifact("world api").
		Detail("handle nested %d levels deep", 2).
		Cause(cause).
		Build()

	if err.Detail != "handle nested 2 levels deep" {
		t.Errorf("Detail = %q", err.Detail)
	}
	if !errors.Is(err, cause) {
		t.Error("cause not reachable through Unwrap")
	}
	if !strings.Contains(err.Error(), "add.param[0].list.tuple[0]") {
		t.Errorf("path missing from %q", err.Error())
	}
}

func TestConflictError(t *testing.T) {
	err := NewConflictError([]string{"deps/b/b.wit", "deps/a/a.wit"})

	if err.Files[0] != "deps/a/a.wit" {
		t.Errorf("files not sorted: %v", err.Files)
	}
	msg := err.Error()
	for _, f := range []string{"deps/a/a.wit", "deps/b/b.wit", "2 file(s)"} {
		if !strings.Contains(msg, f) {
			t.Errorf("message %q missing %q", msg, f)
		}
	}

	var wrapped error = Wrap(PhaseWorkspace, KindConflict, err, "pair a/b")
	var ce *ConflictError
	if !errors.As(wrapped, &ce) {
		t.Fatal("errors.As failed through Wrap")
	}
	if !errors.Is(err, &Error{Phase: PhaseMerge, Kind: KindConflict}) {
		t.Error("conflict error should match merge/conflict")
	}
}

func TestUnresolvedImportsError(t *testing.T) {
	err := NewUnresolvedImportsError([]string{
		"ns:api/math@0.1.0",
		"ns:api/strings@0.1.0",
		"other:pkg/iface",
		"run",
	})

	msg := err.Error()
	if !strings.Contains(msg, "4 import(s)") {
		t.Errorf("count missing from %q", msg)
	}
	if strings.Count(msg, "ns:api:") != 1 {
		t.Errorf("expected one group header for ns:api in %q", msg)
	}
	if !strings.Contains(msg, "(world)") {
		t.Errorf("world-level import group missing from %q", msg)
	}
	names := err.Names()
	if len(names) != 4 || names[0] != "ns:api/math@0.1.0" {
		t.Errorf("Names() = %v", names)
	}
}

func TestBuildError(t *testing.T) {
	output := []byte("main.go:3:1: undefined: foo\n")
	err := &BuildError{
		Command:  []string{"tinygo", "build"},
		Dir:      "/tmp/stub",
		ExitCode: 1,
		Output:   output,
	}

	msg := err.Error()
	if !strings.Contains(msg, "main.go:3:1: undefined: foo") {
		t.Errorf("output not relayed verbatim: %q", msg)
	}
	if !strings.Contains(msg, "exited with status 1") {
		t.Errorf("exit status missing: %q", msg)
	}
	if !errors.Is(err, &Error{Phase: PhaseBuild, Kind: KindToolchain}) {
		t.Error("build error should match build/toolchain")
	}
}

func TestAmbiguousImportError(t *testing.T) {
	err := &AmbiguousImportError{Import: "ns:api/math", Candidates: []string{"a.wasm", "b.wasm"}}
	msg := err.Error()
	if !strings.Contains(msg, "a.wasm, b.wasm") || !strings.Contains(msg, "ns:api/math") {
		t.Errorf("unexpected message %q", msg)
	}
}
