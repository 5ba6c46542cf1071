// Package app builds the components of an application described by one or
// more manifests. A build generates and compiles the stub of every
// component another component calls remotely, merges those stubs into the
// callers' WIT roots, runs each component's build steps and links callers
// with their stubs. Every stage is skipped when its outputs are newer than
// its inputs.
package app

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/wippyai/wasm-rpc-stubgen/errors"
)

// ManifestName is the manifest file searched for in automatic mode.
const ManifestName = "stubgen-app.yaml"

// TempDir holds generated stubs and linked binaries, relative to the
// application root.
const TempDir = ".stubgen"

// Manifest is one manifest file.
type Manifest struct {
	// Include lists glob patterns of further manifests, relative to the
	// manifest's directory.
	Include    []string                 `yaml:"include,omitempty"`
	Components map[string]ComponentSpec `yaml:"components,omitempty"`
}

// Properties are the build properties of a component, either its base
// properties or those of one profile. Paths are relative to the manifest.
type Properties struct {
	SourceWit     string   `yaml:"sourceWit,omitempty"`
	ComponentWasm string   `yaml:"componentWasm,omitempty"`
	LinkedWasm    string   `yaml:"linkedWasm,omitempty"`
	Build         []Step   `yaml:"build,omitempty"`
	Clean         []string `yaml:"clean,omitempty"`
}

// ComponentSpec is a component as written in a manifest.
type ComponentSpec struct {
	Properties `yaml:",inline"`
	// Dependencies name the components this one calls remotely.
	Dependencies   []string              `yaml:"dependencies,omitempty"`
	DefaultProfile string                `yaml:"defaultProfile,omitempty"`
	Profiles       map[string]Properties `yaml:"profiles,omitempty"`
}

// Step is one build command. Sources and Targets are glob patterns or
// directories relative to Dir; a step with both is skipped while every
// target is newer than every source.
type Step struct {
	Command string   `yaml:"command"`
	Dir     string   `yaml:"dir,omitempty"`
	Sources []string `yaml:"sources,omitempty"`
	Targets []string `yaml:"targets,omitempty"`
}

// Component is a component with its profile applied and every path made
// absolute.
type Component struct {
	Name string
	// Dir is the directory of the manifest defining the component.
	Dir string
	// Manifest is the file defining the component.
	Manifest string
	// Profile is the applied profile, empty for the base properties.
	Profile string
	Properties
	Dependencies []string
	// CleanPaths is every output of the component across all profiles.
	CleanPaths []string
}

// Linked returns the binary a build of c ends with: the linked binary when
// c has dependencies, its component binary otherwise.
func (c *Component) Linked() string {
	if len(c.Dependencies) > 0 {
		return c.LinkedWasm
	}
	return c.ComponentWasm
}

// Application is the set of components of every loaded manifest.
type Application struct {
	// Root is the directory of the first manifest.
	Root       string
	Manifests  []string
	Components map[string]*Component
}

// Names returns the component names, sorted.
func (a *Application) Names() []string {
	names := make([]string, 0, len(a.Components))
	for n := range a.Components {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// StubRoot returns the directory the stub of component name is generated
// and built in.
func (a *Application) StubRoot(name string) string {
	return filepath.Join(a.Root, TempDir, "stub-"+name)
}

// StubBinary returns the built stub of component name.
func (a *Application) StubBinary(name string) string {
	return filepath.Join(a.StubRoot(name), "stub.wasm")
}

// StubWit returns the WIT root of the stub of component name.
func (a *Application) StubWit(name string) string {
	return filepath.Join(a.StubRoot(name), "wit")
}

// Targets returns the components some other component depends on, sorted.
func (a *Application) Targets() []string {
	seen := make(map[string]bool)
	for _, c := range a.Components {
		for _, d := range c.Dependencies {
			seen[d] = true
		}
	}
	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// FindManifest searches dir and its parents for ManifestName.
func FindManifest(fsys afero.Fs, dir string) (string, error) {
	for d := dir; ; {
		p := filepath.Join(d, ManifestName)
		ok, err := afero.Exists(fsys, p)
		if err != nil {
			return "", errors.IO(errors.PhaseApp, p, err)
		}
		if ok {
			return p, nil
		}
		parent := filepath.Dir(d)
		if parent == d {
			return "", errors.NotFound(errors.PhaseApp, "application manifest", ManifestName+" in "+dir+" or its parents")
		}
		d = parent
	}
}

// Load reads the manifests and everything they include, then applies
// profile to every component. With no manifests the one found from dir is
// used. An empty profile selects each component's default profile.
func Load(fsys afero.Fs, manifests []string, dir, profile string) (*Application, error) {
	if len(manifests) == 0 {
		found, err := FindManifest(fsys, dir)
		if err != nil {
			return nil, err
		}
		manifests = []string{found}
	}

	l := &loader{fsys: fsys, seen: make(map[string]bool), specs: make(map[string]ComponentSpec), defined: make(map[string]string)}
	for _, m := range manifests {
		abs, err := filepath.Abs(m)
		if err != nil {
			return nil, errors.IO(errors.PhaseApp, m, err)
		}
		if err := l.load(abs); err != nil {
			return nil, err
		}
	}

	app := &Application{
		Root:       filepath.Dir(l.order[0]),
		Manifests:  l.order,
		Components: make(map[string]*Component, len(l.specs)),
	}
	names := make([]string, 0, len(l.specs))
	for name := range l.specs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		c, err := resolveComponent(name, l.defined[name], l.specs[name], profile)
		if err != nil {
			return nil, err
		}
		app.Components[name] = c
	}
	if err := app.validate(); err != nil {
		return nil, err
	}
	Logger().Debug("loaded application",
		zap.Strings("manifests", app.Manifests),
		zap.Strings("components", app.Names()),
		zap.String("profile", profile))
	return app, nil
}

type loader struct {
	fsys    afero.Fs
	seen    map[string]bool
	order   []string
	specs   map[string]ComponentSpec
	defined map[string]string
}

func (l *loader) load(path string) error {
	if l.seen[path] {
		return nil
	}
	l.seen[path] = true
	l.order = append(l.order, path)

	data, err := afero.ReadFile(l.fsys, path)
	if err != nil {
		return errors.IO(errors.PhaseApp, path, err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return errors.New(errors.PhaseApp, errors.KindSyntax).
			Artifact(path).
			Cause(err).
			Build()
	}

	for name, spec := range m.Components {
		if prev, ok := l.defined[name]; ok {
			return errors.New(errors.PhaseApp, errors.KindAmbiguous).
				Artifact(name).
				Detail("component defined in both %s and %s", prev, path).
				Build()
		}
		l.defined[name] = path
		l.specs[name] = spec
	}

	dir := filepath.Dir(path)
	for _, pattern := range m.Include {
		matches, err := afero.Glob(l.fsys, filepath.Join(dir, pattern))
		if err != nil {
			return errors.New(errors.PhaseApp, errors.KindInvalidInput).
				Artifact(pattern).
				Cause(err).
				Detail("invalid include pattern in %s", path).
				Build()
		}
		sort.Strings(matches)
		for _, inc := range matches {
			if err := l.load(inc); err != nil {
				return err
			}
		}
	}
	return nil
}

func resolveComponent(name, manifest string, spec ComponentSpec, profile string) (*Component, error) {
	c := &Component{
		Name:         name,
		Dir:          filepath.Dir(manifest),
		Manifest:     manifest,
		Properties:   spec.Properties,
		Dependencies: append([]string(nil), spec.Dependencies...),
	}
	sort.Strings(c.Dependencies)

	if len(spec.Profiles) > 0 {
		selected := profile
		if selected == "" {
			selected = spec.DefaultProfile
		}
		if selected == "" {
			return nil, errors.New(errors.PhaseApp, errors.KindInvalidInput).
				Artifact(name).
				Detail("component has profiles but no defaultProfile").
				Build()
		}
		over, ok := spec.Profiles[selected]
		if !ok {
			return nil, errors.New(errors.PhaseApp, errors.KindNotFound).
				Artifact(name).
				Detail("unknown profile %q (have %s)", selected, strings.Join(profileNames(spec.Profiles), ", ")).
				Build()
		}
		c.Profile = selected
		c.Properties = c.Properties.with(over)
	}
	c.Properties = c.Properties.abs(c.Dir)

	outputs := []Properties{spec.Properties}
	for _, n := range profileNames(spec.Profiles) {
		outputs = append(outputs, spec.Properties.with(spec.Profiles[n]))
	}
	seen := make(map[string]bool)
	for _, p := range outputs {
		p = p.abs(c.Dir)
		for _, path := range append([]string{p.ComponentWasm, p.LinkedWasm}, p.Clean...) {
			if path != "" && !seen[path] {
				seen[path] = true
				c.CleanPaths = append(c.CleanPaths, path)
			}
		}
	}
	sort.Strings(c.CleanPaths)
	return c, nil
}

func profileNames(profiles map[string]Properties) []string {
	names := make([]string, 0, len(profiles))
	for n := range profiles {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// with returns p with every field set in over replacing its own.
func (p Properties) with(over Properties) Properties {
	if over.SourceWit != "" {
		p.SourceWit = over.SourceWit
	}
	if over.ComponentWasm != "" {
		p.ComponentWasm = over.ComponentWasm
	}
	if over.LinkedWasm != "" {
		p.LinkedWasm = over.LinkedWasm
	}
	if over.Build != nil {
		p.Build = over.Build
	}
	if over.Clean != nil {
		p.Clean = over.Clean
	}
	return p
}

func (p Properties) abs(dir string) Properties {
	join := func(s string) string {
		if s == "" || filepath.IsAbs(s) {
			return s
		}
		return filepath.Join(dir, s)
	}
	p.SourceWit = join(p.SourceWit)
	p.ComponentWasm = join(p.ComponentWasm)
	p.LinkedWasm = join(p.LinkedWasm)
	steps := make([]Step, len(p.Build))
	for i, s := range p.Build {
		s.Dir = join(s.Dir)
		if s.Dir == "" {
			s.Dir = dir
		}
		steps[i] = s
	}
	p.Build = steps
	clean := make([]string, len(p.Clean))
	for i, c := range p.Clean {
		clean[i] = join(c)
	}
	p.Clean = clean
	return p
}

func (a *Application) validate() error {
	if len(a.Components) == 0 {
		return errors.InvalidInput(errors.PhaseApp, "no components defined in "+strings.Join(a.Manifests, ", "))
	}
	targets := make(map[string]bool)
	for _, t := range a.Targets() {
		targets[t] = true
	}
	for _, name := range a.Names() {
		c := a.Components[name]
		invalid := func(format string, args ...any) error {
			return errors.New(errors.PhaseApp, errors.KindInvalidInput).
				Artifact(name).
				Detail(format, args...).
				Build()
		}
		if c.ComponentWasm == "" {
			return invalid("componentWasm is required")
		}
		if (targets[name] || len(c.Dependencies) > 0) && c.SourceWit == "" {
			return invalid("sourceWit is required for components taking part in remote calls")
		}
		for _, d := range c.Dependencies {
			if d == name {
				return invalid("component depends on itself")
			}
			if _, ok := a.Components[d]; !ok {
				return invalid("unknown dependency %q", d)
			}
		}
		for _, p := range c.CleanPaths {
			if !within(c.Dir, p) {
				return invalid("output %s is outside the component directory", p)
			}
		}
		// The default lives under TempDir, which Clean removes as a whole.
		if len(c.Dependencies) > 0 && c.LinkedWasm == "" {
			c.LinkedWasm = filepath.Join(a.Root, TempDir, "linked", name+".wasm")
		}
	}
	return nil
}

// within reports whether p is strictly inside dir.
func within(dir, p string) bool {
	rel, err := filepath.Rel(dir, p)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(os.PathSeparator))
}
