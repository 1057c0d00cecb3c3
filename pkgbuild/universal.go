package pkgbuild

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"

	"github.com/groob/plist"
	"github.com/pkg/errors"

	"github.com/gilburns/intuneomator/label"
)

type bundleIdentity struct {
	BundleID string `plist:"CFBundleIdentifier"`
	Version  string `plist:"CFBundleShortVersionString"`
}

// BuildUniversal merges two architecture-specific app bundles into one
// universal installer package. The arm64 bundle is the base; every Mach-O
// file present in both bundles is replaced with a lipo-created fat binary.
//
// Version or bundle-identifier disagreement between the two inputs is logged
// at warn level but does not abort the merge.
func (b *builder) BuildUniversal(ctx context.Context, armApp, x86App string, req Request, destDir string) (string, error) {
	b.checkIdentity(armApp, x86App, req)

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return "", errors.Wrap(err, "create artifact dir")
	}
	work, err := os.MkdirTemp(destDir, "universal")
	if err != nil {
		return "", errors.Wrap(err, "create merge dir")
	}
	defer os.RemoveAll(work)

	merged := filepath.Join(work, filepath.Base(armApp))
	if _, err := b.runner.Run(ctx, "/usr/bin/ditto", armApp, merged); err != nil {
		return "", errors.Wrap(err, "copy base bundle")
	}

	err = filepath.Walk(merged, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() || !isMachO(path) {
			return nil
		}
		rel, err := filepath.Rel(merged, path)
		if err != nil {
			return err
		}
		other := filepath.Join(x86App, rel)
		if _, err := os.Stat(other); err != nil {
			// binary only exists in one slice; keep the arm64 copy.
			return nil
		}
		armCopy := filepath.Join(armApp, rel)
		_, err = b.runner.Run(ctx, "/usr/bin/lipo", "-create", armCopy, other, "-output", path)
		return errors.Wrap(err, "lipo")
	})
	if err != nil {
		return "", errors.Wrap(err, "merge app bundles")
	}

	req.Arch = label.ArchUniversal
	return b.buildPKG(ctx, merged, req, destDir)
}

func (b *builder) checkIdentity(armApp, x86App string, req Request) {
	arm, err1 := readIdentity(armApp)
	x86, err2 := readIdentity(x86App)
	if err1 != nil || err2 != nil {
		b.logger.Log("msg", "universal merge: cannot compare bundle identity", "arm_err", err1, "x86_err", err2)
		return
	}
	if arm.Version != x86.Version {
		b.logger.Log("level", "warn", "msg", "universal merge: version mismatch", "arm64", arm.Version, "x86_64", x86.Version)
	}
	if arm.BundleID != x86.BundleID || (req.BundleID != "" && arm.BundleID != req.BundleID) {
		b.logger.Log("level", "warn", "msg", "universal merge: bundle identifier mismatch",
			"arm64", arm.BundleID, "x86_64", x86.BundleID, "expected", req.BundleID)
	}
}

func readIdentity(appPath string) (*bundleIdentity, error) {
	data, err := os.ReadFile(filepath.Join(appPath, "Contents", "Info.plist"))
	if err != nil {
		return nil, err
	}
	var id bundleIdentity
	if err := plist.Unmarshal(data, &id); err != nil {
		return nil, err
	}
	return &id, nil
}

// isMachO sniffs the first four bytes for a Mach-O or fat magic.
func isMachO(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	var magic [4]byte
	if _, err := f.Read(magic[:]); err != nil {
		return false
	}
	le := binary.LittleEndian.Uint32(magic[:])
	be := binary.BigEndian.Uint32(magic[:])
	switch {
	case le == 0xfeedface, le == 0xfeedfacf, be == 0xfeedface, be == 0xfeedfacf:
		return true
	case be == 0xcafebabe, be == 0xcafebabf:
		return true
	}
	return false
}
