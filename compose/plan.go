package compose

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/mod/semver"

	"github.com/wippyai/wasm-rpc-stubgen/component"
	"github.com/wippyai/wasm-rpc-stubgen/errors"
)

// DefaultPassThrough lists the import namespaces the host platform provides.
// Caller and stub imports in these namespaces may stay imports of the
// composed binary.
var DefaultPassThrough = []string{"wasi", "golem"}

// Input is one component binary taking part in a composition.
type Input struct {
	Name string
	Data []byte
}

// Options configures a composition.
type Options struct {
	// PassThrough extends DefaultPassThrough.
	PassThrough []string
	// Validate checks the output before it is returned; see Validate.
	Validate bool
}

func (o Options) passThrough(name string) bool {
	ns, _, found := strings.Cut(name, ":")
	if !found {
		return false
	}
	for _, allowed := range DefaultPassThrough {
		if ns == allowed {
			return true
		}
	}
	for _, allowed := range o.PassThrough {
		if ns == allowed {
			return true
		}
	}
	return false
}

// Match records a caller import satisfied by a stub export.
type Match struct {
	Import string
	Stub   string
	Export string
}

// Plan is a checked composition: every caller import is either matched to a
// stub export or passes through to the host.
type Plan struct {
	Matches []Match
	// PassThrough holds the imports of the composed binary, sorted.
	PassThrough []string

	caller *unit
	stubs  []*unit
	// satisfied maps a caller import name to the stub and export providing it.
	satisfied map[string]provider
}

type unit struct {
	name string
	data []byte
	comp *component.Component
	used bool
}

type provider struct {
	stub   int
	export component.Export
}

type candidate struct {
	provider
	sig   *component.Signature
	exact bool
}

func decodeInput(in Input) (*unit, error) {
	comp, err := component.Decode(in.Data)
	if err != nil {
		return nil, errors.New(errors.PhaseCompose, errors.KindInvalidData).
			Artifact(in.Name).
			Cause(err).
			Build()
	}
	for _, imp := range comp.Imports {
		if imp.Section >= comp.Prologue {
			return nil, errors.Unsupported(errors.PhaseCompose, []string{in.Name, imp.Name},
				"import declared after the first definition section")
		}
	}
	aliases := 0
	for _, sec := range comp.Sections[:comp.Prologue] {
		if sec.ID == component.SectionAlias {
			aliases += sec.Count
		}
	}
	for _, a := range comp.Aliases[:aliases] {
		if a.Target != component.AliasExport || a.Sort == component.SortCore {
			return nil, errors.Unsupported(errors.PhaseCompose, []string{in.Name},
				"only instance export aliases may precede definitions")
		}
	}
	return &unit{name: in.Name, data: in.Data, comp: comp}, nil
}

// splitVersion cuts "ns:pkg/iface@1.2.3" into its name and version.
func splitVersion(name string) (string, string) {
	base, ver, _ := strings.Cut(name, "@")
	return base, ver
}

// compatible reports whether an export versioned have can satisfy an import
// versioned want: same major (same minor below 1.0) and not older.
func compatible(want, have string) bool {
	if want == have {
		return true
	}
	w, h := "v"+want, "v"+have
	if want == "" || have == "" || !semver.IsValid(w) || !semver.IsValid(h) {
		return false
	}
	if semver.Major(w) != semver.Major(h) {
		return false
	}
	if semver.Major(w) == "v0" && semver.MajorMinor(w) != semver.MajorMinor(h) {
		return false
	}
	return semver.Compare(h, w) >= 0
}

// NewPlan decodes the inputs and matches every caller import against the
// exports of the stubs, in stub order.
func NewPlan(caller Input, stubs []Input, opts Options) (*Plan, error) {
	callerUnit, err := decodeInput(caller)
	if err != nil {
		return nil, err
	}
	p := &Plan{caller: callerUnit, satisfied: make(map[string]provider)}

	exports := make(map[string][]candidate)
	for i, in := range stubs {
		u, err := decodeInput(in)
		if err != nil {
			return nil, err
		}
		p.stubs = append(p.stubs, u)
		for _, exp := range u.comp.Exports {
			if exp.Sort == component.SortCore {
				continue
			}
			sig, err := u.comp.ExportSignature(exp)
			if err != nil {
				return nil, errors.New(errors.PhaseCompose, errors.KindInvalidData).
					Artifact(in.Name).
					Path(exp.Name).
					Cause(err).
					Build()
			}
			base, _ := splitVersion(exp.Name)
			exports[base] = append(exports[base], candidate{provider: provider{stub: i, export: exp}, sig: sig})
		}
	}

	var unresolved []string
	passThrough := make(map[string]struct{})
	for _, imp := range callerUnit.comp.Imports {
		prov, ok, err := p.match(imp, exports)
		if err != nil {
			return nil, err
		}
		switch {
		case ok:
			p.satisfied[imp.Name] = prov
			p.stubs[prov.stub].used = true
			p.Matches = append(p.Matches, Match{Import: imp.Name, Stub: p.stubs[prov.stub].name, Export: prov.export.Name})
			Logger().Debug("matched import",
				zap.String("import", imp.Name),
				zap.String("stub", p.stubs[prov.stub].name),
				zap.String("export", prov.export.Name))
		case opts.passThrough(imp.Name):
			passThrough[imp.Name] = struct{}{}
		default:
			unresolved = append(unresolved, imp.Name)
		}
	}

	for _, u := range p.stubs {
		if !u.used {
			Logger().Debug("stub not used by caller", zap.String("stub", u.name))
			continue
		}
		for _, imp := range u.comp.Imports {
			if opts.passThrough(imp.Name) {
				passThrough[imp.Name] = struct{}{}
				continue
			}
			unresolved = append(unresolved, imp.Name)
		}
	}
	if len(unresolved) > 0 {
		return nil, errors.NewUnresolvedImportsError(unresolved)
	}

	for name := range passThrough {
		p.PassThrough = append(p.PassThrough, name)
	}
	sort.Strings(p.PassThrough)
	return p, nil
}

func (p *Plan) match(imp component.Import, exports map[string][]candidate) (provider, bool, error) {
	base, ver := splitVersion(imp.Name)
	var cands []candidate
	for _, c := range exports[base] {
		_, have := splitVersion(c.export.Name)
		if c.export.Sort != component.SortOf(imp.Desc.Kind) || !compatible(ver, have) {
			continue
		}
		c.exact = have == ver
		cands = append(cands, c)
	}
	if len(cands) == 0 {
		return provider{}, false, nil
	}
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].exact && !cands[j].exact })

	want, err := p.caller.comp.ImportSignature(imp)
	if err != nil {
		return provider{}, false, errors.New(errors.PhaseCompose, errors.KindInvalidData).
			Artifact(p.caller.name).
			Path(imp.Name).
			Cause(err).
			Build()
	}

	if err := p.checkAmbiguous(imp.Name, cands); err != nil {
		return provider{}, false, err
	}
	for _, c := range cands {
		if c.sig == nil || want == nil {
			Logger().Debug("signature unknown",
				zap.String("import", imp.Name),
				zap.String("stub", p.stubs[c.stub].name))
			continue
		}
		if c.sig.Satisfies(want) {
			return c.provider, true, nil
		}
		Logger().Debug("signature mismatch",
			zap.String("import", imp.Name),
			zap.String("stub", p.stubs[c.stub].name),
			zap.Stringer("want", want),
			zap.Stringer("have", c.sig))
	}
	return provider{}, false, nil
}

// checkAmbiguous rejects an import offered by several stubs whose export
// signatures disagree.
func (p *Plan) checkAmbiguous(name string, cands []candidate) error {
	var first *candidate
	for i := range cands {
		c := &cands[i]
		if c.sig == nil {
			continue
		}
		if first == nil {
			first = c
			continue
		}
		if c.stub != first.stub && !c.sig.Equal(first.sig) {
			return &errors.AmbiguousImportError{
				Import: name,
				Candidates: []string{
					fmt.Sprintf("%s (%s)", p.stubs[first.stub].name, first.export.Name),
					fmt.Sprintf("%s (%s)", p.stubs[c.stub].name, c.export.Name),
				},
			}
		}
	}
	return nil
}
