package app

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"github.com/wippyai/wasm-rpc-stubgen/errors"
)

// upToDate reports whether every target exists and none is older than the
// newest source. Patterns are globs; a matched directory counts with every
// file below it. With no sources or no targets nothing is up to date.
func upToDate(fsys afero.Fs, sources, targets []string) (bool, error) {
	if len(sources) == 0 || len(targets) == 0 {
		return false, nil
	}
	oldest, ok, err := targetTime(fsys, targets)
	if err != nil || !ok {
		return false, err
	}
	var newest time.Time
	for _, pattern := range sources {
		matches, err := afero.Glob(fsys, pattern)
		if err != nil {
			return false, errors.New(errors.PhaseApp, errors.KindInvalidInput).
				Artifact(pattern).
				Cause(err).
				Detail("invalid source pattern").
				Build()
		}
		for _, m := range matches {
			err := afero.Walk(fsys, m, func(p string, info os.FileInfo, err error) error {
				if err != nil {
					return errors.IO(errors.PhaseApp, p, err)
				}
				if !info.IsDir() && info.ModTime().After(newest) {
					newest = info.ModTime()
				}
				return nil
			})
			if err != nil {
				return false, err
			}
		}
	}
	return !oldest.Before(newest), nil
}

// targetTime returns the modification time of the oldest target, or false
// when a target is missing.
func targetTime(fsys afero.Fs, targets []string) (time.Time, bool, error) {
	var oldest time.Time
	for i, t := range targets {
		info, err := fsys.Stat(t)
		if os.IsNotExist(err) {
			return time.Time{}, false, nil
		}
		if err != nil {
			return time.Time{}, false, errors.IO(errors.PhaseApp, t, err)
		}
		if i == 0 || info.ModTime().Before(oldest) {
			oldest = info.ModTime()
		}
	}
	return oldest, true, nil
}

func joinAll(dir string, patterns []string) []string {
	out := make([]string, len(patterns))
	for i, p := range patterns {
		if filepath.IsAbs(p) {
			out[i] = p
		} else {
			out[i] = filepath.Join(dir, p)
		}
	}
	return out
}
