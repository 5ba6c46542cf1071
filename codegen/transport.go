package codegen

import (
	_ "embed"
)

// TransportModule is the Go module generated stubs link the RPC transport
// bindings against.
const TransportModule = "go.bytecodealliance.org/cm"

// DefaultTransportVersion is required when no override is configured.
const DefaultTransportVersion = "v0.3.0"

// TransportWitDir is the directory under wit/deps holding the transport WIT.
const TransportWitDir = "wasm-rpc"

//go:embed wit/wasm-rpc.wit
var transportWit []byte

// TransportWit returns the golem:rpc WIT package vendored into every stub.
func TransportWit() []byte {
	return append([]byte(nil), transportWit...)
}
