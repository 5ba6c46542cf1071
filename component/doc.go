// Package component reads and writes WebAssembly Component Model binaries.
//
// Decode keeps every section raw and parses the parts composition needs:
// imports, exports, aliases, instances and type sections. Types of imports
// and exports evaluate to a Signature over wit.Type, so two components built
// from the same WIT compare equal even though their binaries number types
// differently.
//
// Builder writes components. Sections copied from another binary go through
// an IndexMap that renumbers the type and instance indices they reference.
package component
