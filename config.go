package stubgen

import (
	"fmt"
	"path/filepath"
	"strings"

	"golang.org/x/mod/semver"

	"github.com/wippyai/wasm-rpc-stubgen/errors"
)

// DefaultStubVersion is the version given to generated stub projects.
const DefaultStubVersion = "0.0.1"

// Backend selects the code generation strategy. The set is closed.
type Backend int

const (
	// BackendTinyGo generates a Go project compiled with TinyGo for wasip2.
	BackendTinyGo Backend = iota
)

func (b Backend) String() string {
	switch b {
	case BackendTinyGo:
		return "tinygo"
	default:
		return fmt.Sprintf("backend(%d)", int(b))
	}
}

// ParseBackend maps a backend name to its Backend value.
func ParseBackend(name string) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "tinygo", "go":
		return BackendTinyGo, nil
	default:
		return 0, errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Artifact("backend").
			Detail("unknown backend %q (supported: tinygo)", name).
			Build()
	}
}

// TransportOverride pins the RPC transport library used by generated stubs.
// Path and Version are mutually exclusive; both empty selects the default.
type TransportOverride struct {
	// Path is an absolute path to a local checkout of the transport module.
	Path string
	// Version is a released version of the transport module.
	Version string
}

// IsZero reports whether no override is set.
func (o TransportOverride) IsZero() bool {
	return o.Path == "" && o.Version == ""
}

// Validate checks the override for mutual exclusion and well-formedness.
func (o TransportOverride) Validate() error {
	if o.Path != "" && o.Version != "" {
		return errors.InvalidInput(errors.PhaseConfig,
			"transport path override and version override are mutually exclusive")
	}
	if o.Path != "" && !filepath.IsAbs(o.Path) {
		return errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Artifact(o.Path).
			Detail("transport path override must be an absolute path").
			Build()
	}
	if o.Version != "" && !semver.IsValid(canonicalVersion(o.Version)) {
		return errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Artifact(o.Version).
			Detail("transport version override is not a semantic version").
			Build()
	}
	return nil
}

// Config is the immutable configuration of one pipeline run. It is passed by
// value to every stage; no stage reads configuration from anywhere else.
type Config struct {
	// SourceWitRoot is the WIT root of the component to be called remotely.
	SourceWitRoot string
	// TargetRoot is where the stub project is generated.
	TargetRoot string
	// World selects the source world; empty selects the only world of the root package.
	World string
	// StubVersion is the version of the generated stub project.
	StubVersion string
	// Transport overrides the transport library reference.
	Transport TransportOverride
	// InlineTypes copies every source type into the stub interface instead of
	// depending on the source package.
	InlineTypes bool
	// SealWorkspace makes the generated project its own Go workspace so an
	// enclosing go.work is neither consulted nor mutated.
	SealWorkspace bool
	// Backend selects the code generator.
	Backend Backend
}

// WithDefaults returns a copy of c with empty optional fields filled in.
func (c Config) WithDefaults() Config {
	if c.StubVersion == "" {
		c.StubVersion = DefaultStubVersion
	}
	return c
}

// Validate reports the first invalid field of c.
func (c Config) Validate() error {
	if c.SourceWitRoot == "" {
		return errors.InvalidInput(errors.PhaseConfig, "source WIT root is required")
	}
	if c.TargetRoot == "" {
		return errors.InvalidInput(errors.PhaseConfig, "target root is required")
	}
	if !semver.IsValid(canonicalVersion(c.StubVersion)) {
		return errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Artifact(c.StubVersion).
			Detail("stub version is not a semantic version").
			Build()
	}
	if c.Backend != BackendTinyGo {
		return errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Artifact(c.Backend.String()).
			Detail("unknown backend").
			Build()
	}
	return c.Transport.Validate()
}

func canonicalVersion(v string) string {
	if strings.HasPrefix(v, "v") {
		return v
	}
	return "v" + v
}
