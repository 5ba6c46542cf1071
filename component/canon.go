package component

import (
	"fmt"
)

// Canon kinds per Component Model binary format section 8
const (
	CanonLift              byte = 0x00 // Followed by 0x00 discriminant
	CanonLower             byte = 0x01 // Followed by 0x00 discriminant
	CanonResourceNew       byte = 0x02
	CanonResourceDrop      byte = 0x03
	CanonResourceRep       byte = 0x04
	CanonTaskCancel        byte = 0x05
	CanonSubtaskCancel     byte = 0x06
	CanonResourceDropAsync byte = 0x07
)

// CanonOption kinds
const (
	CanonOptUTF8         byte = 0x00
	CanonOptUTF16        byte = 0x01
	CanonOptCompactUTF16 byte = 0x02
	CanonOptMemory       byte = 0x03
	CanonOptRealloc      byte = 0x04
	CanonOptPostReturn   byte = 0x05
	CanonOptAsync        byte = 0x06
	CanonOptCallback     byte = 0x07
	CanonOptCoreType     byte = 0x08
	CanonOptGc           byte = 0x09
)

// CanonDef is one entry of a canon section. Only a lift defines a component
// function; every other kind defines a core function.
type CanonDef struct {
	Options      []CanonOption
	FuncIndex    uint32
	TypeIndex    uint32
	ResourceType uint32
	Kind         byte
}

// CanonOption is a single option of a lift or lower.
type CanonOption struct {
	Index uint32
	Kind  byte
}

// Lift returns a canon lift of core function coreFunc with function type
// typeIdx.
func Lift(coreFunc, typeIdx uint32, opts ...CanonOption) CanonDef {
	return CanonDef{Kind: CanonLift, FuncIndex: coreFunc, TypeIndex: typeIdx, Options: opts}
}

// parseCanonSection parses the entries of a canon section. Entries up to
// the first one it cannot read are returned along with the error.
func parseCanonSection(data []byte) ([]CanonDef, error) {
	r := newReader(data)
	n, err := r.count("canon")
	if err != nil {
		return nil, err
	}
	defs := make([]CanonDef, 0, n)
	for i := uint32(0); i < n; i++ {
		d, err := parseCanon(r)
		if err != nil {
			return defs, fmt.Errorf("canon %d: %w", i, err)
		}
		defs = append(defs, d)
	}
	return defs, nil
}

func parseCanon(r *reader) (CanonDef, error) {
	var d CanonDef
	var err error
	if d.Kind, err = r.readByte(); err != nil {
		return d, err
	}
	switch d.Kind {
	case CanonLift:
		// lift: 0x00 0x00 core_func:u32 opts:vec(canonopt) type:u32
		if err := r.expect(0x00, "lift sub-kind"); err != nil {
			return d, err
		}
		if d.FuncIndex, err = r.u32(); err != nil {
			return d, fmt.Errorf("read core func index: %w", err)
		}
		if d.Options, err = parseCanonOptions(r); err != nil {
			return d, err
		}
		if d.TypeIndex, err = r.u32(); err != nil {
			return d, fmt.Errorf("read type index: %w", err)
		}
	case CanonLower:
		// lower: 0x01 0x00 func:u32 opts:vec(canonopt)
		if err := r.expect(0x00, "lower sub-kind"); err != nil {
			return d, err
		}
		if d.FuncIndex, err = r.u32(); err != nil {
			return d, fmt.Errorf("read func index: %w", err)
		}
		if d.Options, err = parseCanonOptions(r); err != nil {
			return d, err
		}
	case CanonResourceNew, CanonResourceDrop, CanonResourceRep, CanonResourceDropAsync:
		if d.ResourceType, err = r.u32(); err != nil {
			return d, fmt.Errorf("read resource type: %w", err)
		}
	case CanonTaskCancel, CanonSubtaskCancel:
	default:
		return d, fmt.Errorf("unknown canon kind: 0x%02x", d.Kind)
	}
	return d, nil
}

func parseCanonOptions(r *reader) ([]CanonOption, error) {
	n, err := r.count("canon option")
	if err != nil {
		return nil, err
	}
	var opts []CanonOption
	for i := uint32(0); i < n; i++ {
		var opt CanonOption
		if opt.Kind, err = r.readByte(); err != nil {
			return nil, err
		}
		switch opt.Kind {
		case CanonOptUTF8, CanonOptUTF16, CanonOptCompactUTF16, CanonOptAsync, CanonOptGc:
		case CanonOptMemory, CanonOptRealloc, CanonOptPostReturn, CanonOptCallback, CanonOptCoreType:
			if opt.Index, err = r.u32(); err != nil {
				return nil, fmt.Errorf("option 0x%02x: read index: %w", opt.Kind, err)
			}
		default:
			return nil, fmt.Errorf("unknown canon option kind: 0x%02x", opt.Kind)
		}
		opts = append(opts, opt)
	}
	return opts, nil
}

func encodeCanon(w *writer, d CanonDef) {
	w.byte(d.Kind)
	switch d.Kind {
	case CanonLift, CanonLower:
		w.byte(0x00)
		w.u32(d.FuncIndex)
		w.length(len(d.Options))
		for _, opt := range d.Options {
			w.byte(opt.Kind)
			switch opt.Kind {
			case CanonOptMemory, CanonOptRealloc, CanonOptPostReturn, CanonOptCallback, CanonOptCoreType:
				w.u32(opt.Index)
			}
		}
		if d.Kind == CanonLift {
			w.u32(d.TypeIndex)
		}
	case CanonResourceNew, CanonResourceDrop, CanonResourceRep, CanonResourceDropAsync:
		w.u32(d.ResourceType)
	}
}
