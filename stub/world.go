// Package stub derives the stub world of a resolved source world.
//
// The stub world holds one interface with one resource per exported source
// interface, one for the world's exported functions, and one per exported
// source resource. Every stub method keeps the signature of the function it
// mirrors; calling it performs a remote invocation on the worker addressed
// by the resource's location.
package stub

import (
	"strings"

	"github.com/wippyai/wasm-rpc-stubgen/resolve"
)

// Transport naming of the golem:rpc package the stub depends on.
const (
	TransportPackage   = "golem:rpc@0.1.0"
	TransportInterface = "golem:rpc/types@0.1.0"
	LocationType       = "uri"
	LocationParam      = "location"
)

// ResourceKind says what a stub resource forwards to.
type ResourceKind uint8

const (
	// ForInterface forwards the functions of one exported interface.
	ForInterface ResourceKind = iota
	// ForWorld forwards the functions exported directly by the world.
	ForWorld
	// ForResource forwards an exported source resource instance.
	ForResource
)

// Function is one stub method mirroring a source function.
type Function struct {
	// Name is the method name, identical to the source function name.
	Name string
	// Static is set for static functions of forwarded resources.
	Static bool
	// RemoteName is the function name used by the remote invocation.
	RemoteName string
	Doc        string
	Params     []resolve.Param
	Results    resolve.Results
}

// Resource is one stub resource.
type Resource struct {
	Name string
	Kind ResourceKind
	Doc  string
	// Target is the exported name the resource forwards to: a qualified
	// interface name, an inline interface name, or empty for the world.
	Target string
	// Interface is the source interface (ForInterface, ForResource).
	Interface resolve.InterfaceID
	// Source is the forwarded source resource (ForResource).
	Source resolve.TypeID
	// CtorParams are the source constructor parameters following location.
	CtorParams []resolve.Param
	// RemoteConstructor and RemoteDrop name the remote resource lifecycle
	// functions (ForResource).
	RemoteConstructor string
	RemoteDrop        string
	Functions         []Function
}

// Use imports named types of one source interface into the stub interface.
type Use struct {
	Interface resolve.InterfaceID
	Qualified string
	Types     []resolve.TypeID
}

// World is the synthesized stub world. It references the source model and
// never modifies it.
type World struct {
	Source *resolve.Source

	Package       resolve.PackageName
	InterfaceName string
	WorldName     string
	SourceWorld   string
	Inline        bool

	Resources []Resource
	// Inlined lists the source types copied into the stub interface.
	Inlined []resolve.TypeID
	// Uses lists the source types referenced through use statements.
	Uses []Use
	// Forwarded maps source resources to stub resource names.
	Forwarded map[resolve.TypeID]string
}

// Functions returns every stub function in declaration order.
func (w *World) Functions() []Function {
	var out []Function
	for _, r := range w.Resources {
		out = append(out, r.Functions...)
	}
	return out
}

// Resource returns the stub resource with the given name.
func (w *World) Resource(name string) (*Resource, bool) {
	for i := range w.Resources {
		if w.Resources[i].Name == name {
			return &w.Resources[i], true
		}
	}
	return nil, false
}

// QualifiedInterface returns "ns:name-stub/stub-<world>".
func (w *World) QualifiedInterface() string {
	return w.Package.Unversioned() + "/" + w.InterfaceName
}

// PackageDirName returns the directory name of the stub package under a
// deps/ directory.
func (w *World) PackageDirName() string {
	return w.Package.Namespace + "_" + w.Package.Name
}

// SourcePackageDirName returns the directory name the source package is
// vendored under.
func SourcePackageDirName(n resolve.PackageName) string {
	return n.Namespace + "_" + n.Name
}

// shortName returns the interface part of "ns:pkg/iface@ver".
func shortName(qualified string) string {
	name := qualified
	if _, after, ok := strings.Cut(name, "/"); ok {
		name = after
	}
	if before, _, ok := strings.Cut(name, "@"); ok {
		name = before
	}
	return name
}
