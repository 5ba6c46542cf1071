// Package merge copies a stub's WIT files into another WIT root as a
// dependency. A merge either applies every file or none: conflicting files
// are all reported before anything is written.
package merge

import (
	"bytes"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-rpc-stubgen/errors"
	"github.com/wippyai/wasm-rpc-stubgen/resolve"
)

// StubWitFile is the stub package file inside a stub WIT root and inside
// its destination directory.
const StubWitFile = "_stub.wit"

// Options configures a merge.
type Options struct {
	// StubWitRoot holds _stub.wit and the stub's deps/ directory.
	StubWitRoot string
	// DestWitRoot is the WIT root receiving the stub as a dependency.
	DestWitRoot string
	// Overwrite replaces differing destination files instead of failing.
	Overwrite bool
	// UpdateManifest declares the copied packages through Manifest.
	UpdateManifest bool
	// Manifest defaults to TOMLManifest.
	Manifest ManifestUpdater
}

// Action is what a merge does with one file.
type Action uint8

const (
	ActionCreate Action = iota
	ActionUnchanged
	ActionOverwrite
	ActionConflict
)

func (a Action) String() string {
	switch a {
	case ActionCreate:
		return "create"
	case ActionUnchanged:
		return "unchanged"
	case ActionOverwrite:
		return "overwrite"
	case ActionConflict:
		return "conflict"
	}
	return "unknown"
}

// FileOp is one planned file copy.
type FileOp struct {
	From   string
	To     string
	Action Action
	data   []byte
}

// Result lists destination files by outcome, each sorted.
type Result struct {
	Created         []string
	Unchanged       []string
	Overwritten     []string
	ManifestUpdated bool
}

// Writes returns the number of files written.
func (r *Result) Writes() int {
	return len(r.Created) + len(r.Overwritten)
}

// Plan classifies every stub file against the destination without writing.
func Plan(fsys afero.Fs, opts Options) ([]FileOp, []Dependency, error) {
	stubPkg, err := resolve.PackageOf(fsys, filepath.Join(opts.StubWitRoot, StubWitFile))
	if err != nil {
		return nil, nil, err
	}
	var destPkg resolve.PackageName
	if ok, _ := afero.DirExists(fsys, opts.DestWitRoot); ok {
		// A destination without its own package is still a valid target.
		destPkg, _ = resolve.PackageOf(fsys, opts.DestWitRoot)
	}

	stubDir := filepath.Join(resolve.DepsDir, dirName(stubPkg))
	deps := []Dependency{{Package: stubPkg.String(), Path: filepath.Join(filepath.Base(opts.DestWitRoot), stubDir)}}
	var ops []FileOp
	var errs error

	rootFiles, err := afero.ReadDir(fsys, opts.StubWitRoot)
	if err != nil {
		return nil, nil, errors.IO(errors.PhaseMerge, opts.StubWitRoot, err)
	}
	for _, e := range rootFiles {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".wit") {
			continue
		}
		ops = append(ops, FileOp{
			From: filepath.Join(opts.StubWitRoot, e.Name()),
			To:   filepath.Join(opts.DestWitRoot, stubDir, e.Name()),
		})
	}

	depsRoot := filepath.Join(opts.StubWitRoot, resolve.DepsDir)
	if ok, _ := afero.DirExists(fsys, depsRoot); ok {
		entries, err := afero.ReadDir(fsys, depsRoot)
		if err != nil {
			return nil, nil, errors.IO(errors.PhaseMerge, depsRoot, err)
		}
		for _, e := range entries {
			from := filepath.Join(depsRoot, e.Name())
			pkg, err := resolve.PackageOf(fsys, from)
			if err != nil {
				errs = multierr.Append(errs, err)
				continue
			}
			if destPkg.Namespace != "" && pkg.Unversioned() == destPkg.Unversioned() {
				Logger().Debug("skipping destination's own package", zap.String("package", pkg.String()))
				continue
			}
			deps = append(deps, Dependency{
				Package: pkg.String(),
				Path:    filepath.Join(filepath.Base(opts.DestWitRoot), resolve.DepsDir, e.Name()),
			})
			fileOps, err := treeOps(fsys, from, filepath.Join(opts.DestWitRoot, resolve.DepsDir, e.Name()))
			errs = multierr.Append(errs, err)
			ops = append(ops, fileOps...)
		}
	}
	if errs != nil {
		return nil, nil, errs
	}

	sort.Slice(ops, func(i, j int) bool { return ops[i].To < ops[j].To })
	for i := range ops {
		if err := classify(fsys, &ops[i], opts.Overwrite); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return ops, deps, errs
}

func treeOps(fsys afero.Fs, from, to string) ([]FileOp, error) {
	var ops []FileOp
	err := afero.Walk(fsys, from, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return errors.IO(errors.PhaseMerge, p, err)
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(from, p)
		if err != nil {
			return errors.IO(errors.PhaseMerge, p, err)
		}
		dest := filepath.Join(to, rel)
		if rel == "." {
			dest = to
		}
		ops = append(ops, FileOp{From: p, To: dest})
		return nil
	})
	return ops, err
}

func classify(fsys afero.Fs, op *FileOp, overwrite bool) error {
	data, err := afero.ReadFile(fsys, op.From)
	if err != nil {
		return errors.IO(errors.PhaseMerge, op.From, err)
	}
	op.data = data

	existing, err := afero.ReadFile(fsys, op.To)
	switch {
	case err != nil && isNotExist(fsys, op.To):
		op.Action = ActionCreate
	case err != nil:
		return errors.IO(errors.PhaseMerge, op.To, err)
	case bytes.Equal(existing, data):
		op.Action = ActionUnchanged
	case overwrite:
		op.Action = ActionOverwrite
	default:
		op.Action = ActionConflict
	}
	return nil
}

// Merge copies the stub WIT root into the destination root. Identical
// files are skipped. Differing files fail the whole merge with a
// *errors.ConflictError naming every one of them unless Overwrite is set.
func Merge(fsys afero.Fs, opts Options) (*Result, error) {
	if opts.StubWitRoot == "" || opts.DestWitRoot == "" {
		return nil, errors.InvalidInput(errors.PhaseMerge, "stub WIT root and destination WIT root are required")
	}
	ops, deps, err := Plan(fsys, opts)
	if err != nil {
		return nil, err
	}

	var conflicts []string
	for _, op := range ops {
		if op.Action == ActionConflict {
			conflicts = append(conflicts, op.To)
		}
	}
	if len(conflicts) > 0 {
		return nil, errors.NewConflictError(conflicts)
	}

	res := &Result{}
	for _, op := range ops {
		switch op.Action {
		case ActionUnchanged:
			res.Unchanged = append(res.Unchanged, op.To)
			continue
		case ActionCreate:
			res.Created = append(res.Created, op.To)
		case ActionOverwrite:
			res.Overwritten = append(res.Overwritten, op.To)
		}
		if err := writeAtomic(fsys, op.To, op.data); err != nil {
			return res, err
		}
		Logger().Debug("merged file", zap.String("file", op.To), zap.Stringer("action", op.Action))
	}

	if opts.UpdateManifest {
		m := opts.Manifest
		if m == nil {
			m = TOMLManifest{}
		}
		updated, err := m.Update(fsys, opts.DestWitRoot, deps)
		if err != nil {
			return res, err
		}
		res.ManifestUpdated = updated
	}

	Logger().Info("merged stub dependency",
		zap.String("stub", opts.StubWitRoot),
		zap.String("dest", opts.DestWitRoot),
		zap.Int("created", len(res.Created)),
		zap.Int("unchanged", len(res.Unchanged)),
		zap.Int("overwritten", len(res.Overwritten)))
	return res, nil
}

// writeAtomic writes data to a temporary file beside p and renames it into
// place.
func writeAtomic(fsys afero.Fs, p string, data []byte) error {
	dir := filepath.Dir(p)
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return errors.IO(errors.PhaseMerge, dir, err)
	}
	tmp, err := afero.TempFile(fsys, dir, ".stubgen-*")
	if err != nil {
		return errors.IO(errors.PhaseMerge, dir, err)
	}
	name := tmp.Name()
	_, werr := tmp.Write(data)
	cerr := tmp.Close()
	if err := multierr.Combine(werr, cerr); err != nil {
		_ = fsys.Remove(name)
		return errors.IO(errors.PhaseMerge, p, err)
	}
	if err := fsys.Rename(name, p); err != nil {
		_ = fsys.Remove(name)
		return errors.IO(errors.PhaseMerge, p, err)
	}
	return nil
}

// dirName is the directory a package is stored under in deps/.
func dirName(n resolve.PackageName) string {
	return n.Namespace + "_" + n.Name
}
