// Package cache is the filesystem-backed artifact cache. A lookup is a pure
// existence check against the deterministic artifact naming convention; an
// existing file at the expected path is trusted unconditionally.
package cache

import (
	"os"
	"path/filepath"

	"github.com/gilburns/intuneomator/pkgbuild"
)

// Store locates previously built artifacts and hands out per-label scratch
// space.
type Store interface {
	// Lookup returns the path of a cached artifact for the tuple and
	// whether it exists.
	Lookup(labelName string, req pkgbuild.Request) (string, bool)

	// VersionDir returns the directory artifacts for a label version are
	// placed in, creating it if needed.
	VersionDir(labelName, version string) (string, error)

	// TmpDir returns the per-label scratch directory, creating it if
	// needed. Removed at the end of every run.
	TmpDir(labelName string) (string, error)
}

type fsStore struct {
	root string
}

// NewStore returns a Store rooted at the cache directory.
func NewStore(root string) Store {
	return &fsStore{root: root}
}

func (s *fsStore) Lookup(labelName string, req pkgbuild.Request) (string, bool) {
	path := filepath.Join(s.root, labelName, req.Version, pkgbuild.ArtifactName(req))
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", false
	}
	return path, true
}

func (s *fsStore) VersionDir(labelName, version string) (string, error) {
	dir := filepath.Join(s.root, labelName, version)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	return dir, nil
}

func (s *fsStore) TmpDir(labelName string) (string, error) {
	dir := filepath.Join(s.root, labelName, "tmp")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	return dir, nil
}
