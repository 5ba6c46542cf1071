package workspace

import (
	"bytes"
	"path"
	"path/filepath"

	"github.com/spf13/afero"
	"go.uber.org/zap"
	"golang.org/x/mod/modfile"

	"github.com/wippyai/wasm-rpc-stubgen/errors"
)

// GoWorkName is the Go workspace file stub projects are added to.
const GoWorkName = "go.work"

// InitResult reports what Initialize wrote.
type InitResult struct {
	Taskfile string
	// GoWork is the updated go.work, empty when the root has none.
	GoWork string
	// Added lists the go.work use directives that were added.
	Added []string
}

// Initialize writes the Taskfile of p under root and adds every stub
// project to root's go.work when one exists. Stubs of a workspace are
// generated unsealed so they build as members of that go.work.
func Initialize(fsys afero.Fs, root string, p *Plan, opts TaskfileOptions) (*InitResult, error) {
	data, err := p.Taskfile(opts)
	if err != nil {
		return nil, err
	}
	res := &InitResult{Taskfile: filepath.Join(root, TaskfileName)}
	if err := fsys.MkdirAll(root, 0o755); err != nil {
		return nil, errors.IO(errors.PhaseWorkspace, root, err)
	}
	if err := afero.WriteFile(fsys, res.Taskfile, data, 0o644); err != nil {
		return nil, errors.IO(errors.PhaseWorkspace, res.Taskfile, err)
	}

	work := filepath.Join(root, GoWorkName)
	exists, err := afero.Exists(fsys, work)
	if err != nil {
		return nil, errors.IO(errors.PhaseWorkspace, work, err)
	}
	if !exists {
		Logger().Debug("no go.work to update", zap.String("root", root))
	} else {
		added, err := addStubsToGoWork(fsys, work, p.Targets)
		if err != nil {
			return nil, err
		}
		res.GoWork = work
		res.Added = added
	}

	Logger().Info("initialized workspace",
		zap.String("taskfile", res.Taskfile),
		zap.Strings("targets", p.Targets),
		zap.Strings("callers", p.Callers),
		zap.Strings("go_work_added", res.Added))
	return res, nil
}

func addStubsToGoWork(fsys afero.Fs, work string, targets []string) ([]string, error) {
	data, err := afero.ReadFile(fsys, work)
	if err != nil {
		return nil, errors.IO(errors.PhaseWorkspace, work, err)
	}
	wf, err := modfile.ParseWork(work, data, nil)
	if err != nil {
		return nil, errors.New(errors.PhaseWorkspace, errors.KindSyntax).
			Artifact(work).
			Cause(err).
			Build()
	}

	present := make(map[string]bool, len(wf.Use))
	for _, u := range wf.Use {
		present[path.Clean(u.Path)] = true
	}
	var added []string
	for _, t := range targets {
		dir := "./" + StubProject(t)
		if present[path.Clean(dir)] {
			continue
		}
		if err := wf.AddUse(dir, ""); err != nil {
			return nil, errors.Wrap(errors.PhaseWorkspace, errors.KindInvariant, err, "add use "+dir)
		}
		added = append(added, dir)
	}
	if len(added) == 0 {
		return nil, nil
	}

	wf.SortBlocks()
	wf.Cleanup()
	out := modfile.Format(wf.Syntax)
	if bytes.Equal(out, data) {
		return nil, nil
	}
	if err := afero.WriteFile(fsys, work, out, 0o644); err != nil {
		return nil, errors.IO(errors.PhaseWorkspace, work, err)
	}
	return added, nil
}
