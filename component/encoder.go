package component

import (
	"fmt"
)

// IndexMap translates the type and instance indices of sections copied from
// another component into the receiving component's index spaces. A nil map
// copies indices unchanged.
type IndexMap struct {
	Types     []uint32
	Instances []uint32
}

func (m *IndexMap) typeIdx(i uint32) (uint32, error) {
	if m == nil {
		return i, nil
	}
	if int(i) >= len(m.Types) {
		return 0, fmt.Errorf("type index %d has no mapping", i)
	}
	return m.Types[i], nil
}

func (m *IndexMap) instanceIdx(i uint32) (uint32, error) {
	if m == nil {
		return i, nil
	}
	if int(i) >= len(m.Instances) {
		return 0, fmt.Errorf("instance index %d has no mapping", i)
	}
	return m.Instances[i], nil
}

// Builder assembles a component binary section by section and tracks the
// index spaces the sections extend. The first error is kept and reported by
// Bytes.
type Builder struct {
	w      writer
	counts [6]uint32
	err    error
}

// NewBuilder starts a component with the preamble written.
func NewBuilder() *Builder {
	b := &Builder{}
	b.w.raw(Preamble)
	return b
}

func (b *Builder) fail(err error) {
	if b.err == nil && err != nil {
		b.err = err
	}
}

// Count returns the current size of the index space of sort.
func (b *Builder) Count(sort byte) uint32 {
	return b.counts[sort]
}

func (b *Builder) next(sort byte) uint32 {
	idx := b.counts[sort]
	b.counts[sort]++
	return idx
}

func (b *Builder) section(id byte, p *writer) {
	if p.err != nil {
		b.fail(p.err)
		return
	}
	b.w.section(id, p.buf.Bytes())
}

// Raw appends a section verbatim. It does not extend any tracked index
// space.
func (b *Builder) Raw(id byte, data []byte) {
	b.w.section(id, data)
}

// Types appends a type section and returns the index of its first type.
func (b *Builder) Types(m *IndexMap, defs ...TypeDef) uint32 {
	first := b.counts[SortType]
	var p writer
	p.length(len(defs))
	enc := &typeEncoder{w: &p}
	if m != nil {
		enc.remap = m.typeIdx
	}
	for _, d := range defs {
		enc.typeDef(d, 0)
		b.next(SortType)
	}
	b.fail(enc.err)
	b.section(SectionType, &p)
	return first
}

// Imports appends an import section and returns the index each import
// received in the index space of its sort.
func (b *Builder) Imports(m *IndexMap, imports ...Import) []uint32 {
	var p writer
	p.length(len(imports))
	enc := &typeEncoder{w: &p}
	if m != nil {
		enc.remap = m.typeIdx
	}
	out := make([]uint32, len(imports))
	for i, imp := range imports {
		p.byte(0x00)
		p.name(imp.Name)
		enc.externDesc(imp.Desc, 0)
		if sort := SortOf(imp.Desc.Kind); sort != SortCore {
			out[i] = b.next(sort)
		}
	}
	b.fail(enc.err)
	b.section(SectionImport, &p)
	return out
}

// Aliases appends an alias section. Instance export targets are translated
// through m. It returns the index each alias received.
func (b *Builder) Aliases(m *IndexMap, aliases ...Alias) []uint32 {
	var p writer
	p.length(len(aliases))
	out := make([]uint32, len(aliases))
	for i, a := range aliases {
		if a.Target == AliasExport {
			inst, err := m.instanceIdx(a.Instance)
			b.fail(err)
			a.Instance = inst
		}
		encodeAlias(&p, a)
		if a.Sort != SortCore {
			out[i] = b.next(a.Sort)
		}
	}
	b.section(SectionAlias, &p)
	return out
}

// CoreModule embeds a core module.
func (b *Builder) CoreModule(module []byte) {
	b.w.section(SectionCoreModule, module)
}

// Component embeds a nested component and returns its index.
func (b *Builder) Component(component []byte) uint32 {
	b.w.section(SectionComponent, component)
	return b.next(SortComponent)
}

// Instantiate appends an instance section instantiating component with
// args and returns the new instance index.
func (b *Builder) Instantiate(component uint32, args ...InstantiateArg) uint32 {
	var p writer
	p.length(1)
	p.byte(0x00)
	p.u32(component)
	p.length(len(args))
	for _, a := range args {
		p.name(a.Name)
		writeSortIdx(&p, a.Sort, a.CoreSort, a.Index)
	}
	b.section(SectionInstance, &p)
	return b.next(SortInstance)
}

// InlineInstance appends an instance bundling already defined items and
// returns its index.
func (b *Builder) InlineInstance(exports ...InstantiateArg) uint32 {
	var p writer
	p.length(1)
	p.byte(0x01)
	p.length(len(exports))
	for _, e := range exports {
		p.byte(0x00)
		p.name(e.Name)
		writeSortIdx(&p, e.Sort, e.CoreSort, e.Index)
	}
	b.section(SectionInstance, &p)
	return b.next(SortInstance)
}

// Canons appends a canon section. It returns the function index each lift
// received; other kinds define core functions and get zero.
func (b *Builder) Canons(defs ...CanonDef) []uint32 {
	var p writer
	p.length(len(defs))
	out := make([]uint32, len(defs))
	for i, d := range defs {
		encodeCanon(&p, d)
		if d.Kind == CanonLift {
			out[i] = b.next(SortFunc)
		}
	}
	b.section(SectionCanon, &p)
	return out
}

// Exports appends an export section.
func (b *Builder) Exports(exports ...Export) {
	var p writer
	p.length(len(exports))
	enc := &typeEncoder{w: &p}
	for _, e := range exports {
		p.byte(0x00)
		p.name(e.Name)
		writeSortIdx(&p, e.Sort, e.CoreSort, e.Index)
		if e.Desc == nil {
			p.byte(0x00)
		} else {
			p.byte(0x01)
			enc.externDesc(*e.Desc, 0)
		}
		if e.Sort != SortCore {
			b.next(e.Sort)
		}
	}
	b.section(SectionExport, &p)
}

// Bytes returns the encoded component.
func (b *Builder) Bytes() ([]byte, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.w.err != nil {
		return nil, b.w.err
	}
	return append([]byte(nil), b.w.buf.Bytes()...), nil
}

func writeSortIdx(p *writer, sort, coreSort byte, idx uint32) {
	p.byte(sort)
	if sort == SortCore {
		p.byte(coreSort)
	}
	p.u32(idx)
}
