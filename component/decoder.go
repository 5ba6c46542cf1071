package component

import (
	"encoding/binary"
	"fmt"
)

// Section ids
const (
	SectionCustom       byte = 0
	SectionCoreModule   byte = 1
	SectionCoreInstance byte = 2
	SectionCoreType     byte = 3
	SectionComponent    byte = 4
	SectionInstance     byte = 5
	SectionAlias        byte = 6
	SectionType         byte = 7
	SectionCanon        byte = 8
	SectionStart        byte = 9
	SectionImport       byte = 10
	SectionExport       byte = 11
)

// Preamble is the component binary header: magic, version 0x0d, layer 1.
var Preamble = []byte{0x00, 0x61, 0x73, 0x6d, 0x0d, 0x00, 0x01, 0x00}

// Component holds the decoded structure of a WebAssembly Component. Every
// section is kept raw in order; imports, exports, aliases, instances,
// canons and types are also parsed.
type Component struct {
	Sections    []Section
	Imports     []Import
	Exports     []Export
	Aliases     []Alias
	Instances   []Instance
	Canons      []CanonDef
	Types       []TypeDef
	CoreModules [][]byte
	Components  [][]byte

	// Prologue is the number of leading sections made only of types,
	// imports, aliases and custom sections.
	Prologue int

	top       *scope
	instances []instanceEntry
	funcs     []funcEntry
	// components maps the component index space to Components, -1 for
	// imported and aliased components.
	components []int
	// funcsLost is set once a canon section could not be read; the function
	// index space is unknown from there on.
	funcsLost bool
	eval      *evaluator
}

// Section is one raw section. Count is the number of entries parsed from
// it, zero for sections kept only raw.
type Section struct {
	ID    byte
	Data  []byte
	Count int
}

// Import is a top-level import. Index is its position in the index space of
// its sort; Section is the index of the section declaring it.
type Import struct {
	Name    string
	Desc    ExternDesc
	Index   uint32
	Section int
}

// Export is a top-level export with its optional type ascription.
type Export struct {
	Name     string
	Sort     byte
	CoreSort byte
	Index    uint32
	Desc     *ExternDesc
}

// Instance is one entry of an instance section: an instantiation of
// Component with Args, or a bundle of inline Exports.
type Instance struct {
	Component uint32
	Args      []InstantiateArg
	Exports   []InstantiateArg
	Inline    bool
}

// InstantiateArg names an item passed to or bundled into an instance.
type InstantiateArg struct {
	Name     string
	Sort     byte
	CoreSort byte
	Index    uint32
}

// IsComponent reports whether data starts with a component preamble.
func IsComponent(data []byte) bool {
	if len(data) < 8 {
		return false
	}
	if data[0] != 0x00 || data[1] != 0x61 || data[2] != 0x73 || data[3] != 0x6D {
		return false
	}
	version := binary.LittleEndian.Uint32(data[4:8])
	return version > 1
}

// Decode parses a component binary.
func Decode(data []byte) (*Component, error) {
	if !IsComponent(data) {
		return nil, fmt.Errorf("not a component")
	}

	comp := &Component{top: newScope(nil)}
	r := newReader(data[8:])
	var counts [6]uint32
	inPrologue := true

	for !r.eof() {
		id, err := r.readByte()
		if err != nil {
			return nil, fmt.Errorf("read section ID: %w", err)
		}
		size, err := r.u32()
		if err != nil {
			return nil, fmt.Errorf("read section size: %w", err)
		}
		payload, err := r.bytes(size)
		if err != nil {
			return nil, fmt.Errorf("section %d: size %d exceeds component size", len(comp.Sections), size)
		}
		idx := len(comp.Sections)
		comp.Sections = append(comp.Sections, Section{ID: id, Data: payload})

		switch id {
		case SectionCustom, SectionType, SectionImport, SectionAlias:
		default:
			inPrologue = false
		}
		if inPrologue {
			comp.Prologue = idx + 1
		}

		n, err := comp.section(id, payload, idx, &counts)
		if err != nil {
			return nil, fmt.Errorf("section %d (id %d): %w", idx, id, err)
		}
		comp.Sections[idx].Count = n
	}
	return comp, nil
}

func (c *Component) section(id byte, payload []byte, idx int, counts *[6]uint32) (int, error) {
	switch id {
	case SectionCoreModule:
		c.CoreModules = append(c.CoreModules, payload)
		return 1, nil
	case SectionComponent:
		c.components = append(c.components, len(c.Components))
		c.Components = append(c.Components, payload)
		counts[SortComponent]++
		return 1, nil
	case SectionCanon:
		defs, err := parseCanonSection(payload)
		c.Canons = append(c.Canons, defs...)
		for _, d := range defs {
			if d.Kind == CanonLift {
				c.addFunc(funcEntry{typed: true, idx: d.TypeIndex})
				counts[SortFunc]++
			}
		}
		if err != nil {
			c.funcsLost = true
		}
		return len(defs), nil
	case SectionType:
		defs, err := parseTypeSection(payload)
		if err != nil {
			return 0, err
		}
		for _, d := range defs {
			c.Types = append(c.Types, d)
			c.top.add(typeEntry{def: d})
		}
		counts[SortType] += uint32(len(defs))
		return len(defs), nil
	case SectionImport:
		imports, err := parseImportSection(payload)
		if err != nil {
			return 0, err
		}
		for _, imp := range imports {
			sort := SortOf(imp.Desc.Kind)
			if sort != SortCore {
				imp.Index = counts[sort]
				counts[sort]++
			}
			imp.Section = idx
			c.Imports = append(c.Imports, imp)
			switch imp.Desc.Kind {
			case ExternType:
				c.top.add(importedType(c.top, imp))
			case ExternFunc:
				c.addFunc(funcEntry{typed: true, idx: imp.Desc.Index})
			case ExternComponent:
				c.components = append(c.components, -1)
			case ExternInstance:
				c.instances = append(c.instances, instanceEntry{typeIdx: imp.Desc.Index, known: true})
			}
		}
		return len(imports), nil
	case SectionAlias:
		aliases, err := parseAliasSection(payload)
		if err != nil {
			return 0, err
		}
		for _, a := range aliases {
			c.Aliases = append(c.Aliases, a)
			if a.Sort == SortCore {
				continue
			}
			counts[a.Sort]++
			switch a.Sort {
			case SortType:
				c.top.add(aliasedType(a))
			case SortFunc:
				if a.Target == AliasExport {
					c.addFunc(funcEntry{fromInstance: true, inst: a.Instance, name: a.Name})
				} else {
					c.addFunc(funcEntry{})
				}
			case SortComponent:
				c.components = append(c.components, -1)
			case SortInstance:
				c.instances = append(c.instances, instanceEntry{})
			}
		}
		return len(aliases), nil
	case SectionInstance:
		instances, err := parseInstanceSection(payload)
		if err != nil {
			return 0, err
		}
		for _, inst := range instances {
			c.instances = append(c.instances, instanceEntry{defined: true, def: len(c.Instances)})
			c.Instances = append(c.Instances, inst)
		}
		counts[SortInstance] += uint32(len(instances))
		return len(instances), nil
	case SectionExport:
		exports, err := parseExportSection(payload)
		if err != nil {
			return 0, err
		}
		for _, e := range exports {
			c.Exports = append(c.Exports, e)
			if e.Sort == SortCore {
				continue
			}
			counts[e.Sort]++
			switch e.Sort {
			case SortType:
				c.top.add(typeEntry{ref: c.top, idx: e.Index, name: e.Name})
			case SortFunc:
				if e.Desc != nil && e.Desc.Kind == ExternFunc {
					c.addFunc(funcEntry{typed: true, idx: e.Desc.Index})
				} else {
					c.addFunc(funcEntry{ref: true, idx: e.Index})
				}
			case SortComponent:
				slot := -1
				if int(e.Index) < len(c.components) {
					slot = c.components[e.Index]
				}
				c.components = append(c.components, slot)
			case SortInstance:
				entry := instanceEntry{}
				if e.Desc != nil && e.Desc.Kind == ExternInstance {
					entry = instanceEntry{typeIdx: e.Desc.Index, known: true}
				} else if int(e.Index) < len(c.instances) {
					entry = c.instances[e.Index]
				}
				c.instances = append(c.instances, entry)
			}
		}
		return len(exports), nil
	}
	return 0, nil
}

func (c *Component) addFunc(f funcEntry) {
	if !c.funcsLost {
		c.funcs = append(c.funcs, f)
	}
}

// Nested returns the binary of the component at index idx of the component
// index space, or false when that component is imported or aliased.
func (c *Component) Nested(idx uint32) ([]byte, bool) {
	if int(idx) >= len(c.components) || c.components[idx] < 0 {
		return nil, false
	}
	return c.Components[c.components[idx]], true
}

// InstanceDef returns the instance section entry behind index idx of the
// instance index space, or false for imported, aliased and exported
// instances that do not resolve to one.
func (c *Component) InstanceDef(idx uint32) (*Instance, bool) {
	if int(idx) >= len(c.instances) || !c.instances[idx].defined {
		return nil, false
	}
	return &c.Instances[c.instances[idx].def], true
}

func parseImportSection(data []byte) ([]Import, error) {
	r := newReader(data)
	n, err := r.count("import")
	if err != nil {
		return nil, err
	}
	imports := make([]Import, 0, n)
	for i := uint32(0); i < n; i++ {
		name, desc, err := parseExternName(r)
		if err != nil {
			return nil, fmt.Errorf("import %d: %w", i, err)
		}
		imports = append(imports, Import{Name: name, Desc: desc})
	}
	return imports, nil
}

func parseExportSection(data []byte) ([]Export, error) {
	r := newReader(data)
	n, err := r.count("export")
	if err != nil {
		return nil, err
	}
	exports := make([]Export, 0, n)
	for i := uint32(0); i < n; i++ {
		name, err := parseExternNameOnly(r)
		if err != nil {
			return nil, fmt.Errorf("export %d: %w", i, err)
		}
		e := Export{Name: name}
		if e.Sort, err = r.readByte(); err != nil {
			return nil, fmt.Errorf("export %q: %w", name, err)
		}
		if e.Sort > SortInstance {
			return nil, fmt.Errorf("export %q: unknown sort 0x%02x", name, e.Sort)
		}
		if e.Sort == SortCore {
			if e.CoreSort, err = r.readByte(); err != nil {
				return nil, fmt.Errorf("export %q: read core sort: %w", name, err)
			}
		}
		if e.Index, err = r.u32(); err != nil {
			return nil, fmt.Errorf("export %q: read sort index: %w", name, err)
		}
		has, err := r.readByte()
		if err != nil {
			return nil, fmt.Errorf("export %q: %w", name, err)
		}
		if has == 0x01 {
			desc, err := parseExternDesc(r)
			if err != nil {
				return nil, fmt.Errorf("export %q: %w", name, err)
			}
			e.Desc = &desc
		}
		exports = append(exports, e)
	}
	return exports, nil
}

func parseAliasSection(data []byte) ([]Alias, error) {
	r := newReader(data)
	n, err := r.count("alias")
	if err != nil {
		return nil, err
	}
	aliases := make([]Alias, 0, n)
	for i := uint32(0); i < n; i++ {
		a, err := parseAlias(r)
		if err != nil {
			return nil, fmt.Errorf("alias %d: %w", i, err)
		}
		aliases = append(aliases, a)
	}
	return aliases, nil
}

func parseInstanceSection(data []byte) ([]Instance, error) {
	r := newReader(data)
	n, err := r.count("instance")
	if err != nil {
		return nil, err
	}
	instances := make([]Instance, 0, n)
	for i := uint32(0); i < n; i++ {
		kind, err := r.readByte()
		if err != nil {
			return nil, err
		}
		var inst Instance
		switch kind {
		case 0x00:
			if inst.Component, err = r.u32(); err != nil {
				return nil, err
			}
			inst.Args, err = parseSortIdxs(r, false)
		case 0x01:
			inst.Inline = true
			inst.Exports, err = parseSortIdxs(r, true)
		default:
			err = fmt.Errorf("unknown instance kind 0x%02x", kind)
		}
		if err != nil {
			return nil, fmt.Errorf("instance %d: %w", i, err)
		}
		instances = append(instances, inst)
	}
	return instances, nil
}

func parseSortIdxs(r *reader, exportNames bool) ([]InstantiateArg, error) {
	n, err := r.count("argument")
	if err != nil {
		return nil, err
	}
	args := make([]InstantiateArg, 0, n)
	for i := uint32(0); i < n; i++ {
		var a InstantiateArg
		if exportNames {
			a.Name, err = parseExternNameOnly(r)
		} else {
			a.Name, err = r.name()
		}
		if err != nil {
			return nil, err
		}
		if a.Sort, err = r.readByte(); err != nil {
			return nil, err
		}
		if a.Sort > SortInstance {
			return nil, fmt.Errorf("unknown sort 0x%02x", a.Sort)
		}
		if a.Sort == SortCore {
			if a.CoreSort, err = r.readByte(); err != nil {
				return nil, err
			}
		}
		if a.Index, err = r.u32(); err != nil {
			return nil, err
		}
		args = append(args, a)
	}
	return args, nil
}
