package component

import (
	"fmt"
)

// EmptyModuleName replaces empty module names in core imports. The shim and
// fixup modules wit-component emits import from "", which wazero rejects.
const EmptyModuleName = "$"

const sectionCoreImport byte = 0x02

// CoreImport is one import of a core module.
type CoreImport struct {
	Module string
	Name   string
	Kind   byte
}

// CoreImports lists the imports of a core module.
func CoreImports(module []byte) ([]CoreImport, error) {
	var out []CoreImport
	err := eachCoreSection(module, func(id byte, payload []byte) error {
		if id != sectionCoreImport {
			return nil
		}
		return eachCoreImport(payload, func(imp CoreImport, _ []byte) {
			out = append(out, imp)
		})
	})
	return out, err
}

// RewriteEmptyModuleNames returns module with every import from the empty
// module name moved to EmptyModuleName. A module without such imports is
// returned unchanged.
func RewriteEmptyModuleNames(module []byte) ([]byte, error) {
	imports, err := CoreImports(module)
	if err != nil {
		return nil, err
	}
	rewrite := false
	for _, imp := range imports {
		if imp.Module == "" {
			rewrite = true
			break
		}
	}
	if !rewrite {
		return module, nil
	}

	var w writer
	w.raw(module[:8])
	err = eachCoreSection(module, func(id byte, payload []byte) error {
		if id != sectionCoreImport {
			w.section(id, payload)
			return nil
		}
		var p writer
		p.length(len(imports))
		err := eachCoreImport(payload, func(imp CoreImport, desc []byte) {
			if imp.Module == "" {
				imp.Module = EmptyModuleName
			}
			p.name(imp.Module)
			p.name(imp.Name)
			p.raw(desc)
		})
		if err != nil {
			return err
		}
		if p.err != nil {
			return p.err
		}
		w.section(id, p.buf.Bytes())
		return nil
	})
	if err != nil {
		return nil, err
	}
	if w.err != nil {
		return nil, w.err
	}
	return w.buf.Bytes(), nil
}

func eachCoreSection(module []byte, fn func(id byte, payload []byte) error) error {
	if len(module) < 8 || module[0] != 0x00 || module[1] != 0x61 || module[2] != 0x73 || module[3] != 0x6d {
		return fmt.Errorf("not a core module")
	}
	r := newReader(module[8:])
	for !r.eof() {
		id, err := r.readByte()
		if err != nil {
			return err
		}
		size, err := r.u32()
		if err != nil {
			return fmt.Errorf("section %d: read size: %w", id, err)
		}
		payload, err := r.bytes(size)
		if err != nil {
			return fmt.Errorf("section %d: size %d exceeds module size", id, size)
		}
		if err := fn(id, payload); err != nil {
			return err
		}
	}
	return nil
}

// eachCoreImport calls fn with every import of an import section payload
// and the raw bytes of its descriptor, kind byte included.
func eachCoreImport(payload []byte, fn func(imp CoreImport, desc []byte)) error {
	r := newReader(payload)
	n, err := r.count("core import")
	if err != nil {
		return err
	}
	for i := uint32(0); i < n; i++ {
		var imp CoreImport
		if imp.Module, err = r.name(); err != nil {
			return fmt.Errorf("core import %d: %w", i, err)
		}
		if imp.Name, err = r.name(); err != nil {
			return fmt.Errorf("core import %d: %w", i, err)
		}
		start := r.pos
		if imp.Kind, err = r.readByte(); err != nil {
			return fmt.Errorf("core import %d: %w", i, err)
		}
		if err := skipImportDesc(r, imp.Kind); err != nil {
			return fmt.Errorf("core import %q %q: %w", imp.Module, imp.Name, err)
		}
		fn(imp, r.data[start:r.pos])
	}
	return nil
}

func skipImportDesc(r *reader, kind byte) error {
	switch kind {
	case 0x00: // func
		_, err := r.u32()
		return err
	case 0x01: // table
		if err := skipRefType(r); err != nil {
			return err
		}
		return skipLimits(r)
	case 0x02: // memory
		return skipLimits(r)
	case 0x03: // global
		if err := skipValType(r); err != nil {
			return err
		}
		_, err := r.readByte()
		return err
	case 0x04: // tag
		if err := r.expect(0x00, "tag attribute"); err != nil {
			return err
		}
		_, err := r.u32()
		return err
	}
	return fmt.Errorf("unknown import kind 0x%02x", kind)
}

func skipLimits(r *reader) error {
	flags, err := r.readByte()
	if err != nil {
		return err
	}
	if err := skipLEB(r); err != nil {
		return err
	}
	if flags&0x01 != 0 {
		if err := skipLEB(r); err != nil {
			return err
		}
	}
	if flags&0x08 != 0 {
		return skipLEB(r)
	}
	return nil
}

func skipValType(r *reader) error {
	b, err := r.peek()
	if err != nil {
		return err
	}
	if b == 0x63 || b == 0x64 {
		return skipRefType(r)
	}
	_, err = r.readByte()
	return err
}

func skipRefType(r *reader) error {
	b, err := r.readByte()
	if err != nil {
		return err
	}
	if b == 0x63 || b == 0x64 {
		_, err = r.s33()
	}
	return err
}

// skipLEB skips one LEB128 value of up to 64 bits.
func skipLEB(r *reader) error {
	for i := 0; i < 10; i++ {
		b, err := r.readByte()
		if err != nil {
			return err
		}
		if b&0x80 == 0 {
			return nil
		}
	}
	return fmt.Errorf("LEB128 value exceeds 64 bits")
}
