package inspect

import (
	"context"
	"encoding/xml"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// distribution mirrors the pkg-ref entries of an installer package's
// Distribution file.
type distribution struct {
	PkgRefs []pkgRef `xml:"pkg-ref"`
}

type pkgRef struct {
	ID      string `xml:"id,attr"`
	Version string `xml:"version,attr"`
}

// pkgVersion expands the installer package's Distribution file with xar and
// returns the version of the pkg-ref matching expectedBundleID.
func (i *inspector) pkgVersion(ctx context.Context, pkgPath, expectedBundleID string) (string, error) {
	tmp, err := os.MkdirTemp(filepath.Dir(pkgPath), "pkginfo")
	if err != nil {
		return "", errors.Wrap(err, "create pkg expand dir")
	}
	defer os.RemoveAll(tmp)

	if _, err := i.runner.Run(ctx, "/usr/bin/xar", "-xf", pkgPath, "-C", tmp, "Distribution"); err != nil {
		return "", errors.Wrap(err, "expand package distribution")
	}
	data, err := os.ReadFile(filepath.Join(tmp, "Distribution"))
	if err != nil {
		return "", errors.Wrap(err, "read package distribution")
	}
	return versionFromDistribution(data, expectedBundleID)
}

func versionFromDistribution(data []byte, expectedBundleID string) (string, error) {
	var dist distribution
	if err := xml.Unmarshal(data, &dist); err != nil {
		return "", errors.Wrap(err, "decode package distribution")
	}
	for _, ref := range dist.PkgRefs {
		if ref.ID == expectedBundleID && ref.Version != "" {
			return ref.Version, nil
		}
	}
	// fall back to any versioned ref when no identifier was declared.
	if expectedBundleID == "" {
		for _, ref := range dist.PkgRefs {
			if ref.Version != "" {
				return ref.Version, nil
			}
		}
	}
	return VersionNone, nil
}
