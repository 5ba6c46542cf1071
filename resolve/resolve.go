package resolve

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"fortio.org/safecast"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-rpc-stubgen/errors"
	"github.com/wippyai/wasm-rpc-stubgen/resolve/internal/ast"
	"github.com/wippyai/wasm-rpc-stubgen/resolve/internal/parser"
	"github.com/wippyai/wasm-rpc-stubgen/resolve/internal/token"
)

// DepsDir is the directory under a WIT root holding dependency packages.
const DepsDir = "deps"

type state uint8

const (
	unvisited state = iota
	visiting
	done
)

type ifaceEntry struct {
	decl  *ast.Interface
	file  string
	id    InterfaceID
	state state
}

type worldEntry struct {
	decl  *ast.World
	file  string
	id    WorldID
	state state
}

// pkgEntry is a parsed but possibly not yet resolved package.
type pkgEntry struct {
	name    PackageName
	dir     string
	files   []string
	single  bool
	id      PackageID
	loaded  bool
	ifaces  map[string]*ifaceEntry
	worlds  map[string]*worldEntry
	order   []string
	worldNs []string
	aliases map[string]ast.UsePath
}

type resolver struct {
	fs   afero.Fs
	src  *Source
	root *pkgEntry
	deps map[string][]*pkgEntry
}

// scope binds type names for one interface or world during resolution.
type scope struct {
	names map[string]TypeID
	file  string
	pkg   *pkgEntry
}

// Resolve parses every WIT file under root, resolves all references and
// selects the world to generate a stub for. An empty world selects the only
// world of the root package.
func Resolve(fsys afero.Fs, root, world string) (*Source, error) {
	r := &resolver{
		fs:   fsys,
		src:  &Source{},
		deps: make(map[string][]*pkgEntry),
	}

	rootPkg, err := r.loadDir(root, false)
	if err != nil {
		return nil, err
	}
	r.root = rootPkg
	if err := r.loadDeps(path.Join(root, DepsDir)); err != nil {
		return nil, err
	}

	r.enter(rootPkg)
	for _, name := range rootPkg.order {
		if _, err := r.ensureInterface(rootPkg, name); err != nil {
			return nil, err
		}
	}
	for _, name := range rootPkg.worldNs {
		if _, err := r.ensureWorld(rootPkg, name); err != nil {
			return nil, err
		}
	}

	if err := r.checkPackageCycles(); err != nil {
		return nil, err
	}
	if err := r.checkTypeCycles(); err != nil {
		return nil, err
	}

	selected, err := r.selectWorld(world)
	if err != nil {
		return nil, err
	}
	r.src.World = selected

	Logger().Debug("resolved WIT root",
		zap.String("root", root),
		zap.String("package", rootPkg.name.String()),
		zap.String("world", r.src.Worlds[selected].Name),
		zap.Int("packages", len(r.src.Packages)),
		zap.Int("types", len(r.src.Types)))
	return r.src, nil
}

// PackageOf parses the WIT files at p, a package directory or a single file,
// and returns the package they declare without resolving any reference.
func PackageOf(fsys afero.Fs, p string) (PackageName, error) {
	r := &resolver{fs: fsys}
	isDir, err := afero.IsDir(fsys, p)
	if err != nil {
		return PackageName{}, errors.IO(errors.PhaseResolve, p, err)
	}
	if isDir {
		pkg, err := r.loadDir(p, true)
		if err != nil {
			return PackageName{}, err
		}
		return pkg.name, nil
	}
	pkg := newPkgEntry(path.Dir(p))
	if err := r.parseInto(pkg, p); err != nil {
		return PackageName{}, err
	}
	if err := checkNamed(pkg, true); err != nil {
		return PackageName{}, err
	}
	return pkg.name, nil
}

func (r *resolver) selectWorld(name string) (WorldID, error) {
	names := append([]string(nil), r.root.worldNs...)
	sort.Strings(names)

	if name != "" {
		w, ok := r.root.worlds[name]
		if !ok {
			return 0, errors.New(errors.PhaseResolve, errors.KindNotFound).
				Artifact("world "+name).
				Detail("world %q not found in package %s (available: %s)", name, r.root.name, listOrNone(names)).
				Build()
		}
		return w.id, nil
	}

	switch len(names) {
	case 0:
		return 0, errors.New(errors.PhaseResolve, errors.KindNotFound).
			Artifact(r.root.dir).
			Detail("package %s defines no world", r.root.name).
			Build()
	case 1:
		return r.root.worlds[names[0]].id, nil
	default:
		return 0, errors.New(errors.PhaseResolve, errors.KindAmbiguous).
			Artifact(r.root.dir).
			Detail("package %s defines multiple worlds, select one of: %s", r.root.name, strings.Join(names, ", ")).
			Build()
	}
}

func listOrNone(names []string) string {
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ", ")
}

// loadDir parses every .wit file directly inside dir into one package.
func (r *resolver) loadDir(dir string, dep bool) (*pkgEntry, error) {
	entries, err := afero.ReadDir(r.fs, dir)
	if err != nil {
		return nil, errors.IO(errors.PhaseResolve, dir, err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".wit") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	if len(files) == 0 {
		return nil, errors.New(errors.PhaseResolve, errors.KindNotFound).
			Artifact(dir).
			Detail("no .wit files found").
			Build()
	}

	pkg := newPkgEntry(dir)
	pkg.files = files
	for _, name := range files {
		if err := r.parseInto(pkg, path.Join(dir, name)); err != nil {
			return nil, err
		}
	}
	if err := checkNamed(pkg, dep); err != nil {
		return nil, err
	}
	return pkg, nil
}

func newPkgEntry(dir string) *pkgEntry {
	return &pkgEntry{
		dir:     dir,
		ifaces:  make(map[string]*ifaceEntry),
		worlds:  make(map[string]*worldEntry),
		aliases: make(map[string]ast.UsePath),
	}
}

func checkNamed(pkg *pkgEntry, dep bool) error {
	if pkg.name.Namespace != "" {
		return nil
	}
	what := "root"
	if dep {
		what = "dependency"
	}
	return errors.New(errors.PhaseResolve, errors.KindSyntax).
		Artifact(pkg.dir).
		Detail("%s package has no package declaration", what).
		Build()
}

func (r *resolver) parseInto(pkg *pkgEntry, file string) error {
	data, err := afero.ReadFile(r.fs, file)
	if err != nil {
		return errors.IO(errors.PhaseResolve, file, err)
	}
	f, err := parser.ParseFile(file, data)
	if err != nil {
		return errors.New(errors.PhaseResolve, errors.KindSyntax).
			Artifact(file).
			Cause(err).
			Build()
	}
	Logger().Debug("parsed WIT file", zap.String("file", file), zap.Int("items", len(f.Items)))

	if f.Package != nil {
		name := PackageName{Namespace: f.Package.Namespace, Name: f.Package.Name, Version: f.Package.Version}
		if pkg.name.Namespace != "" && pkg.name != name {
			return errors.New(errors.PhaseResolve, errors.KindSyntax).
				Artifact(fmt.Sprintf("%s:%s", file, f.Package.Pos)).
				Detail("package %s conflicts with %s declared by another file in %s", name, pkg.name, pkg.dir).
				Build()
		}
		pkg.name = name
	}

	for _, u := range f.Uses {
		alias := u.As
		if alias == "" {
			alias = u.Path.Name
		}
		pkg.aliases[alias] = u.Path
	}

	for _, item := range f.Items {
		switch it := item.(type) {
		case *ast.Interface:
			if prev, ok := pkg.ifaces[it.Name]; ok {
				return duplicate(file, it.Pos, "interface", it.Name, prev.file)
			}
			pkg.ifaces[it.Name] = &ifaceEntry{decl: it, file: file}
			pkg.order = append(pkg.order, it.Name)
		case *ast.World:
			if prev, ok := pkg.worlds[it.Name]; ok {
				return duplicate(file, it.Pos, "world", it.Name, prev.file)
			}
			pkg.worlds[it.Name] = &worldEntry{decl: it, file: file}
			pkg.worldNs = append(pkg.worldNs, it.Name)
		}
	}
	return nil
}

func duplicate(file string, pos token.Pos, what, name, prev string) error {
	return errors.New(errors.PhaseResolve, errors.KindSyntax).
		Artifact(fmt.Sprintf("%s:%s", file, pos)).
		Detail("%s %q is already defined in %s", what, name, prev).
		Build()
}

// loadDeps parses every package under deps/. A missing deps directory is
// not an error.
func (r *resolver) loadDeps(dir string) error {
	exists, err := afero.DirExists(r.fs, dir)
	if err != nil {
		return errors.IO(errors.PhaseResolve, dir, err)
	}
	if !exists {
		return nil
	}
	entries, err := afero.ReadDir(r.fs, dir)
	if err != nil {
		return errors.IO(errors.PhaseResolve, dir, err)
	}
	for _, e := range entries {
		var pkg *pkgEntry
		switch {
		case e.IsDir():
			pkg, err = r.loadDir(path.Join(dir, e.Name()), true)
		case strings.HasSuffix(e.Name(), ".wit"):
			pkg = newPkgEntry(dir)
			pkg.files = []string{e.Name()}
			pkg.single = true
			if err = r.parseInto(pkg, path.Join(dir, e.Name())); err == nil {
				err = checkNamed(pkg, true)
			}
		default:
			continue
		}
		if err != nil {
			return err
		}
		key := pkg.name.Unversioned()
		r.deps[key] = append(r.deps[key], pkg)
	}
	return nil
}

// enter registers pkg in the output the first time it is reached.
func (r *resolver) enter(pkg *pkgEntry) PackageID {
	if pkg.loaded {
		return pkg.id
	}
	pkg.loaded = true
	pkg.id = PackageID(mustU32(len(r.src.Packages)))
	r.src.Packages = append(r.src.Packages, Package{
		Name:   pkg.name,
		Dir:    pkg.dir,
		Files:  pkg.files,
		Single: pkg.single,
	})
	return pkg.id
}

func mustU32(n int) uint32 {
	v, err := safecast.Conv[uint32](n)
	if err != nil {
		panic(fmt.Errorf("index overflow: %w", err))
	}
	return v
}

// lookupPackage finds the package a path refers to, recording the
// dependency edge from the referencing package.
func (r *resolver) lookupPackage(from *pkgEntry, p ast.UsePath, file string) (*pkgEntry, error) {
	if p.IsLocal() {
		return from, nil
	}
	key := p.Namespace + ":" + p.Package
	if key == r.root.name.Unversioned() && (p.Version == "" || p.Version == r.root.name.Version) {
		return r.link(from, r.root), nil
	}

	candidates := r.deps[key]
	var match *pkgEntry
	if p.Version == "" {
		if len(candidates) > 1 {
			return nil, errors.New(errors.PhaseResolve, errors.KindAmbiguous).
				Artifact(fmt.Sprintf("%s:%s", file, p.Pos)).
				Detail("package %s is present in %d versions, reference it with a version", key, len(candidates)).
				Build()
		}
		if len(candidates) == 1 {
			match = candidates[0]
		}
	} else {
		for _, c := range candidates {
			if c.name.Version == p.Version {
				match = c
				break
			}
		}
	}
	if match == nil {
		return nil, errors.New(errors.PhaseResolve, errors.KindNotFound).
			Artifact(fmt.Sprintf("%s:%s", file, p.Pos)).
			Detail("package %s not found in %s", p.String(), path.Join(r.root.dir, DepsDir)).
			Build()
	}
	r.enter(match)
	return r.link(from, match), nil
}

func (r *resolver) link(from, to *pkgEntry) *pkgEntry {
	if from == to {
		return to
	}
	fromID := r.enter(from)
	toID := r.enter(to)
	deps := r.src.Packages[fromID].Deps
	for _, d := range deps {
		if d == toID {
			return to
		}
	}
	r.src.Packages[fromID].Deps = append(deps, toID)
	return to
}

// interfaceRef resolves a path naming an interface.
func (r *resolver) interfaceRef(from *pkgEntry, p ast.UsePath, file string) (InterfaceID, error) {
	if p.IsLocal() {
		if _, ok := from.ifaces[p.Name]; !ok {
			if alias, ok := from.aliases[p.Name]; ok {
				p = alias
			}
		}
	}
	pkg, err := r.lookupPackage(from, p, file)
	if err != nil {
		return 0, err
	}
	if _, ok := pkg.ifaces[p.Name]; !ok {
		return 0, errors.New(errors.PhaseResolve, errors.KindNotFound).
			Artifact(fmt.Sprintf("%s:%s", file, p.Pos)).
			Detail("interface %q not found in package %s", p.Name, pkg.name).
			Build()
	}
	return r.ensureInterface(pkg, p.Name)
}

func (r *resolver) ensureInterface(pkg *pkgEntry, name string) (InterfaceID, error) {
	entry := pkg.ifaces[name]
	switch entry.state {
	case done:
		return entry.id, nil
	case visiting:
		return 0, errors.New(errors.PhaseResolve, errors.KindCycle).
			Artifact(fmt.Sprintf("%s:%s", entry.file, entry.decl.Pos)).
			Detail("interface %s/%s depends on itself through use statements", pkg.name, name).
			Build()
	}
	entry.state = visiting
	pkgID := r.enter(pkg)
	entry.id = r.reserveInterface()

	iface, err := r.buildInterface(pkg, entry.decl, entry.file, pkgID, entry.id, false)
	if err != nil {
		return 0, err
	}
	r.src.Interfaces[entry.id] = iface
	entry.state = done
	return entry.id, nil
}

func (r *resolver) reserveInterface() InterfaceID {
	id := InterfaceID(mustU32(len(r.src.Interfaces)))
	r.src.Interfaces = append(r.src.Interfaces, Interface{})
	return id
}

func (r *resolver) buildInterface(pkg *pkgEntry, decl *ast.Interface, file string, pkgID PackageID, id InterfaceID, inline bool) (Interface, error) {
	iface := Interface{
		Name:    decl.Name,
		Doc:     decl.Doc,
		Package: pkgID,
		Inline:  inline,
		scope:   make(map[string]TypeID),
	}
	sc := &scope{names: iface.scope, file: file, pkg: pkg}

	uses, err := r.applyUses(sc, decl.Uses)
	if err != nil {
		return Interface{}, err
	}
	iface.Uses = uses

	ids, err := r.declareTypes(sc, decl.Types, Owner{Kind: OwnerInterface, Interface: id})
	if err != nil {
		return Interface{}, err
	}
	iface.Types = ids

	if err := r.defineTypes(sc, decl.Types, ids); err != nil {
		return Interface{}, err
	}

	for _, fn := range decl.Funcs {
		f, err := r.function(sc, fn, 0)
		if err != nil {
			return Interface{}, err
		}
		iface.Functions = append(iface.Functions, f)
	}
	for i, td := range decl.Types {
		for _, fn := range td.Funcs {
			f, err := r.function(sc, fn, ids[i])
			if err != nil {
				return Interface{}, err
			}
			iface.Functions = append(iface.Functions, f)
		}
	}
	return iface, nil
}

func (r *resolver) applyUses(sc *scope, uses []*ast.Use) ([]UsedType, error) {
	var out []UsedType
	for _, u := range uses {
		from, err := r.interfaceRef(sc.pkg, u.Path, sc.file)
		if err != nil {
			return nil, err
		}
		target := &r.src.Interfaces[from]
		for _, n := range u.Names {
			id, ok := target.LookupType(n.Name)
			if !ok {
				return nil, errors.New(errors.PhaseResolve, errors.KindNotFound).
					Artifact(fmt.Sprintf("%s:%s", sc.file, n.Pos)).
					Detail("type %q not found in interface %s", n.Name, r.src.QualifiedName(from)).
					Build()
			}
			if _, exists := sc.names[n.Local()]; exists {
				return nil, errors.New(errors.PhaseResolve, errors.KindSyntax).
					Artifact(fmt.Sprintf("%s:%s", sc.file, n.Pos)).
					Detail("name %q is already in scope", n.Local()).
					Build()
			}
			sc.names[n.Local()] = id
			out = append(out, UsedType{From: from, Type: id, Local: n.Local()})
		}
	}
	return out, nil
}

var declKinds = map[ast.TypeKind]TypeKind{
	ast.TypeAlias:    KindAlias,
	ast.TypeRecord:   KindRecord,
	ast.TypeVariant:  KindVariant,
	ast.TypeEnum:     KindEnum,
	ast.TypeFlags:    KindFlags,
	ast.TypeResource: KindResource,
}

// declareTypes allocates table slots for named types so bodies may refer to
// types declared later in the same scope.
func (r *resolver) declareTypes(sc *scope, decls []*ast.TypeDecl, owner Owner) ([]TypeID, error) {
	ids := make([]TypeID, len(decls))
	for i, d := range decls {
		if _, exists := sc.names[d.Name]; exists {
			return nil, errors.New(errors.PhaseResolve, errors.KindSyntax).
				Artifact(fmt.Sprintf("%s:%s", sc.file, d.Pos)).
				Detail("type %q is already defined", d.Name).
				Build()
		}
		ids[i] = r.addType(TypeDef{Kind: declKinds[d.Kind], Name: d.Name, Doc: d.Doc, Owner: owner})
		sc.names[d.Name] = ids[i]
	}
	return ids, nil
}

func (r *resolver) addType(def TypeDef) TypeID {
	id := TypeID(mustU32(len(r.src.Types)))
	r.src.Types = append(r.src.Types, def)
	return id
}

func (r *resolver) defineTypes(sc *scope, decls []*ast.TypeDecl, ids []TypeID) error {
	for i, d := range decls {
		def := r.src.Types[ids[i]]
		switch d.Kind {
		case ast.TypeAlias:
			t, err := r.typeOf(sc, d.Alias)
			if err != nil {
				return err
			}
			def.Elem = t
		case ast.TypeRecord:
			for _, f := range d.Fields {
				t, err := r.typeOf(sc, f.Type)
				if err != nil {
					return err
				}
				def.Fields = append(def.Fields, Field{Name: f.Name, Type: t})
			}
		case ast.TypeVariant:
			for _, c := range d.Cases {
				vc := Case{Name: c.Name}
				if c.Type != nil {
					t, err := r.typeOf(sc, c.Type)
					if err != nil {
						return err
					}
					vc.Type = &t
				}
				def.Cases = append(def.Cases, vc)
			}
		case ast.TypeEnum, ast.TypeFlags:
			def.Names = append([]string(nil), d.Names...)
		}
		r.src.Types[ids[i]] = def
	}
	return nil
}

func (r *resolver) typeOf(sc *scope, e *ast.TypeExpr) (Type, error) {
	switch e.Kind {
	case ast.ExprPrim:
		p, _ := ParsePrim(e.Name)
		return PrimType(p), nil
	case ast.ExprNamed:
		id, ok := sc.names[e.Name]
		if !ok {
			return Type{}, r.undefined(sc, e)
		}
		if r.src.Types[id].Kind == KindResource {
			return DefType(r.addType(TypeDef{Kind: KindOwn, Elem: DefType(id)})), nil
		}
		return DefType(id), nil
	case ast.ExprOwn, ast.ExprBorrow:
		id, ok := sc.names[e.Name]
		if !ok {
			return Type{}, r.undefined(sc, e)
		}
		if r.src.Types[id].Kind != KindResource {
			return Type{}, errors.New(errors.PhaseResolve, errors.KindInvalidInput).
				Artifact(fmt.Sprintf("%s:%s", sc.file, e.Pos)).
				Detail("handle to %q which is not a resource", e.Name).
				Build()
		}
		kind := KindOwn
		if e.Kind == ast.ExprBorrow {
			kind = KindBorrow
		}
		return DefType(r.addType(TypeDef{Kind: kind, Elem: DefType(id)})), nil
	case ast.ExprList, ast.ExprOption:
		elem, err := r.typeOf(sc, e.Args[0])
		if err != nil {
			return Type{}, err
		}
		kind := KindList
		if e.Kind == ast.ExprOption {
			kind = KindOption
		}
		return DefType(r.addType(TypeDef{Kind: kind, Elem: elem})), nil
	case ast.ExprTuple:
		def := TypeDef{Kind: KindTuple}
		for _, a := range e.Args {
			t, err := r.typeOf(sc, a)
			if err != nil {
				return Type{}, err
			}
			def.Tuple = append(def.Tuple, t)
		}
		return DefType(r.addType(def)), nil
	case ast.ExprResult:
		def := TypeDef{Kind: KindResult}
		if e.Args[0] != nil {
			t, err := r.typeOf(sc, e.Args[0])
			if err != nil {
				return Type{}, err
			}
			def.OK = &t
		}
		if e.Args[1] != nil {
			t, err := r.typeOf(sc, e.Args[1])
			if err != nil {
				return Type{}, err
			}
			def.Err = &t
		}
		return DefType(r.addType(def)), nil
	}
	return Type{}, errors.Invariant(errors.PhaseResolve, "unknown type expression kind %d", e.Kind)
}

func (r *resolver) undefined(sc *scope, e *ast.TypeExpr) error {
	return errors.New(errors.PhaseResolve, errors.KindNotFound).
		Artifact(fmt.Sprintf("%s:%s", sc.file, e.Pos)).
		Detail("type %q is not defined", e.Name).
		Build()
}

var funcKinds = map[ast.FuncKind]FuncKind{
	ast.FuncFreestanding: FuncFreestanding,
	ast.FuncMethod:       FuncMethod,
	ast.FuncStatic:       FuncStatic,
	ast.FuncConstructor:  FuncConstructor,
}

func (r *resolver) function(sc *scope, fn *ast.Func, resource TypeID) (Function, error) {
	f := Function{Name: fn.Name, Kind: funcKinds[fn.Kind], Resource: resource, Doc: fn.Doc}
	seen := make(map[string]bool, len(fn.Params))
	for _, p := range fn.Params {
		if seen[p.Name] {
			return Function{}, errors.New(errors.PhaseResolve, errors.KindSyntax).
				Artifact(fmt.Sprintf("%s:%s", sc.file, p.Pos)).
				Path(fn.Name).
				Detail("duplicate parameter %q", p.Name).
				Build()
		}
		seen[p.Name] = true
		t, err := r.typeOf(sc, p.Type)
		if err != nil {
			return Function{}, err
		}
		f.Params = append(f.Params, Param{Name: p.Name, Type: t})
	}
	for _, res := range fn.Results {
		t, err := r.typeOf(sc, res.Type)
		if err != nil {
			return Function{}, err
		}
		if res.Name == "" {
			f.Results.Anon = &t
			break
		}
		f.Results.Named = append(f.Results.Named, Param{Name: res.Name, Type: t})
	}
	return f, nil
}

func (r *resolver) worldRef(from *pkgEntry, p ast.UsePath, file string) (WorldID, error) {
	pkg, err := r.lookupPackage(from, p, file)
	if err != nil {
		return 0, err
	}
	if _, ok := pkg.worlds[p.Name]; !ok {
		return 0, errors.New(errors.PhaseResolve, errors.KindNotFound).
			Artifact(fmt.Sprintf("%s:%s", file, p.Pos)).
			Detail("world %q not found in package %s", p.Name, pkg.name).
			Build()
	}
	return r.ensureWorld(pkg, p.Name)
}

func (r *resolver) ensureWorld(pkg *pkgEntry, name string) (WorldID, error) {
	entry := pkg.worlds[name]
	switch entry.state {
	case done:
		return entry.id, nil
	case visiting:
		return 0, errors.New(errors.PhaseResolve, errors.KindCycle).
			Artifact(fmt.Sprintf("%s:%s", entry.file, entry.decl.Pos)).
			Detail("world %s/%s includes itself", pkg.name, name).
			Build()
	}
	entry.state = visiting
	pkgID := r.enter(pkg)
	entry.id = WorldID(mustU32(len(r.src.Worlds)))
	r.src.Worlds = append(r.src.Worlds, World{})

	w, err := r.buildWorld(pkg, entry, pkgID)
	if err != nil {
		return 0, err
	}
	r.src.Worlds[entry.id] = w
	entry.state = done
	return entry.id, nil
}

func (r *resolver) buildWorld(pkg *pkgEntry, entry *worldEntry, pkgID PackageID) (World, error) {
	decl := entry.decl
	w := World{
		Name:    decl.Name,
		Doc:     decl.Doc,
		Package: pkgID,
		scope:   make(map[string]TypeID),
	}
	sc := &scope{names: w.scope, file: entry.file, pkg: pkg}

	uses, err := r.applyUses(sc, decl.Uses)
	if err != nil {
		return World{}, err
	}
	w.Uses = uses

	ids, err := r.declareTypes(sc, decl.Types, Owner{Kind: OwnerWorld, World: entry.id})
	if err != nil {
		return World{}, err
	}
	w.Types = ids
	if err := r.defineTypes(sc, decl.Types, ids); err != nil {
		return World{}, err
	}
	for _, td := range decl.Types {
		if len(td.Funcs) > 0 {
			return World{}, errors.New(errors.PhaseResolve, errors.KindUnsupported).
				Artifact(fmt.Sprintf("%s:%s", entry.file, td.Pos)).
				Detail("resource %q with functions declared directly in world %q", td.Name, decl.Name).
				Build()
		}
	}

	for _, inc := range decl.Includes {
		incID, err := r.worldRef(pkg, inc.Path, entry.file)
		if err != nil {
			return World{}, err
		}
		included := &r.src.Worlds[incID]
		w.Imports = append(w.Imports, renameItems(included.Imports, inc.With)...)
		w.Exports = append(w.Exports, renameItems(included.Exports, inc.With)...)
	}

	imports, err := r.externs(sc, decl.Imports, pkgID)
	if err != nil {
		return World{}, err
	}
	exports, err := r.externs(sc, decl.Exports, pkgID)
	if err != nil {
		return World{}, err
	}
	w.Imports = append(w.Imports, imports...)
	w.Exports = append(w.Exports, exports...)

	if err := checkUniqueItems(entry, "import", w.Imports); err != nil {
		return World{}, err
	}
	if err := checkUniqueItems(entry, "export", w.Exports); err != nil {
		return World{}, err
	}
	return w, nil
}

func renameItems(items []WorldItem, with []ast.UseName) []WorldItem {
	out := make([]WorldItem, len(items))
	copy(out, items)
	for i := range out {
		for _, n := range with {
			if out[i].Name == n.Name {
				out[i].Name = n.As
				if out[i].Function != nil {
					fn := *out[i].Function
					fn.Name = n.As
					out[i].Function = &fn
				}
			}
		}
	}
	return out
}

func checkUniqueItems(entry *worldEntry, what string, items []WorldItem) error {
	seen := make(map[string]bool, len(items))
	for _, it := range items {
		if seen[it.Name] {
			return errors.New(errors.PhaseResolve, errors.KindSyntax).
				Artifact(fmt.Sprintf("%s:%s", entry.file, entry.decl.Pos)).
				Detail("world %q has duplicate %s %q", entry.decl.Name, what, it.Name).
				Build()
		}
		seen[it.Name] = true
	}
	return nil
}

func (r *resolver) externs(sc *scope, items []*ast.Extern, pkgID PackageID) ([]WorldItem, error) {
	var out []WorldItem
	for _, ext := range items {
		switch {
		case ext.Func != nil:
			fn, err := r.function(sc, ext.Func, 0)
			if err != nil {
				return nil, err
			}
			out = append(out, WorldItem{Name: ext.Name, Kind: ItemFunction, Function: &fn})
		case ext.Interface != nil:
			id := r.reserveInterface()
			iface, err := r.buildInterface(sc.pkg, ext.Interface, sc.file, pkgID, id, true)
			if err != nil {
				return nil, err
			}
			r.src.Interfaces[id] = iface
			out = append(out, WorldItem{Name: ext.Name, Kind: ItemInterface, Interface: id})
		default:
			id, err := r.interfaceRef(sc.pkg, *ext.Path, sc.file)
			if err != nil {
				return nil, err
			}
			out = append(out, WorldItem{Name: r.src.QualifiedName(id), Kind: ItemInterface, Interface: id})
		}
	}
	return out, nil
}

// checkTypeCycles rejects structural type cycles. Handles do not contribute
// edges: a resource may mention itself through own or borrow.
func (r *resolver) checkTypeCycles() error {
	edges := make([][]int, len(r.src.Types))
	for i := range r.src.Types {
		def := &r.src.Types[i]
		if def.Kind == KindOwn || def.Kind == KindBorrow {
			continue
		}
		for _, ref := range def.Refs() {
			if !ref.IsPrim() {
				edges[i] = append(edges[i], int(ref.Def))
			}
		}
	}
	cyclic := cyclicNodes(edges)
	if len(cyclic) == 0 {
		return nil
	}
	var names []string
	for _, id := range cyclic {
		def := &r.src.Types[id]
		if def.Name != "" {
			names = append(names, r.ownerPrefix(def)+def.Name)
		}
	}
	return errors.New(errors.PhaseResolve, errors.KindCycle).
		Detail("cyclic type reference among: %s", strings.Join(names, ", ")).
		Build()
}

func (r *resolver) ownerPrefix(def *TypeDef) string {
	switch def.Owner.Kind {
	case OwnerInterface:
		iface := &r.src.Interfaces[def.Owner.Interface]
		if iface.Inline {
			return iface.Name + "."
		}
		return r.src.QualifiedName(def.Owner.Interface) + "."
	case OwnerWorld:
		return r.src.Worlds[def.Owner.World].Name + "."
	}
	return ""
}

func (r *resolver) checkPackageCycles() error {
	edges := make([][]int, len(r.src.Packages))
	for i, p := range r.src.Packages {
		for _, d := range p.Deps {
			edges[i] = append(edges[i], int(d))
		}
	}
	cyclic := cyclicNodes(edges)
	if len(cyclic) == 0 {
		return nil
	}
	names := make([]string, len(cyclic))
	for i, id := range cyclic {
		names[i] = r.src.Packages[id].Name.String()
	}
	return errors.New(errors.PhaseResolve, errors.KindCycle).
		Detail("cyclic package dependency among: %s", strings.Join(names, ", ")).
		Build()
}
