package merge

import (
	"bytes"
	"path/filepath"
	"sort"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-rpc-stubgen/errors"
)

// ManifestFile is the dependency manifest kept next to a WIT root.
const ManifestFile = "stubgen.toml"

// Dependency is one WIT package copied into a destination root.
type Dependency struct {
	// Package is the package name, "ns:name@version".
	Package string
	// Path is the package directory relative to the manifest.
	Path string
}

// ManifestUpdater declares copied dependencies in a project's manifest.
type ManifestUpdater interface {
	// Update records deps for the project owning destWitRoot and reports
	// whether the manifest changed.
	Update(fsys afero.Fs, destWitRoot string, deps []Dependency) (bool, error)
}

// TOMLManifest keeps dependencies in the [dependencies] table of
// stubgen.toml in the parent directory of the WIT root.
type TOMLManifest struct{}

type manifestEntry struct {
	Path string `toml:"path"`
}

// Update implements ManifestUpdater. Other tables of the manifest are
// preserved; an unchanged manifest is not rewritten.
func (TOMLManifest) Update(fsys afero.Fs, destWitRoot string, deps []Dependency) (bool, error) {
	manifest := filepath.Join(filepath.Dir(filepath.Clean(destWitRoot)), ManifestFile)

	doc := map[string]any{}
	existing, err := afero.ReadFile(fsys, manifest)
	switch {
	case err == nil:
		if err := toml.Unmarshal(existing, &doc); err != nil {
			return false, errors.New(errors.PhaseMerge, errors.KindInvalidData).
				Artifact(manifest).
				Cause(err).
				Detail("manifest is not valid TOML").
				Build()
		}
	case !isNotExist(fsys, manifest):
		return false, errors.IO(errors.PhaseMerge, manifest, err)
	}

	table, _ := doc["dependencies"].(map[string]any)
	if table == nil {
		table = map[string]any{}
	}
	sorted := append([]Dependency(nil), deps...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Package < sorted[j].Package })
	for _, d := range sorted {
		table[d.Package] = manifestEntry{Path: filepath.ToSlash(d.Path)}
	}
	doc["dependencies"] = table

	out, err := toml.Marshal(doc)
	if err != nil {
		return false, errors.Wrap(errors.PhaseMerge, errors.KindInvariant, err, "encode manifest")
	}
	if existing != nil && bytes.Equal(canonical(existing), out) {
		return false, nil
	}
	if err := writeAtomic(fsys, manifest, out); err != nil {
		return false, err
	}
	Logger().Debug("updated manifest", zap.String("manifest", manifest), zap.Int("dependencies", len(deps)))
	return true, nil
}

// canonical re-encodes a manifest so formatting differences do not count
// as changes.
func canonical(data []byte) []byte {
	doc := map[string]any{}
	if err := toml.Unmarshal(data, &doc); err != nil {
		return data
	}
	out, err := toml.Marshal(doc)
	if err != nil {
		return data
	}
	return out
}

func isNotExist(fsys afero.Fs, p string) bool {
	ok, err := afero.Exists(fsys, p)
	return err == nil && !ok
}
