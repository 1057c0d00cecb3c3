package archive

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/groob/plist"
	"github.com/pkg/errors"
)

// hdiutilAttach mirrors the plist output of `hdiutil attach -plist`.
type hdiutilAttach struct {
	SystemEntities []struct {
		ContentHint string `plist:"content-hint"`
		DevEntry    string `plist:"dev-entry"`
		MountPoint  string `plist:"mount-point"`
	} `plist:"system-entities"`
}

func (e *extractor) extractDMG(ctx context.Context, dmgPath, payloadExt string) (string, error) {
	mountPoint, err := e.attach(ctx, dmgPath)
	if err != nil {
		return "", err
	}
	defer e.detach(ctx, mountPoint)

	payload, err := findByExt(mountPoint, payloadExt)
	if err != nil {
		return "", err
	}

	// copy the payload off the image before detaching. ditto preserves
	// resource forks, symlinks and executable bits.
	dir, err := siblingDir(dmgPath, "_mounted")
	if err != nil {
		return "", err
	}
	dest := filepath.Join(dir, filepath.Base(payload))
	if _, err := e.runner.Run(ctx, "/usr/bin/ditto", payload, dest); err != nil {
		return "", errors.Wrap(err, "copy payload from disk image")
	}
	return dest, nil
}

func (e *extractor) attach(ctx context.Context, dmgPath string) (string, error) {
	out, err := e.runner.Run(ctx, "/usr/bin/hdiutil", "attach", dmgPath, "-nobrowse", "-readonly", "-plist")
	if err != nil && looksLikeLicenseAgreement(out) {
		// images carrying a license agreement cannot be attached
		// non-interactively. converting to a fresh UDZO image strips the
		// agreement, then the attach is retried once.
		converted := strings.TrimSuffix(dmgPath, filepath.Ext(dmgPath)) + "_noagreement.dmg"
		if _, cerr := e.runner.Run(ctx, "/usr/bin/hdiutil", "convert", dmgPath, "-format", "UDZO", "-o", converted); cerr != nil {
			return "", errors.Wrap(cerr, "convert license-agreement image")
		}
		out, err = e.runner.Run(ctx, "/usr/bin/hdiutil", "attach", converted, "-nobrowse", "-readonly", "-plist")
	}
	if err != nil {
		return "", errors.Wrap(err, "attach disk image")
	}
	return mountPointFromPlist(out)
}

// detach failures are logged and swallowed; the payload was already copied
// off the image, so a busy mount must not fail the label run.
func (e *extractor) detach(ctx context.Context, mountPoint string) {
	if _, err := e.runner.Run(ctx, "/usr/bin/hdiutil", "detach", mountPoint, "-quiet"); err != nil {
		e.logger.Log("msg", "detach disk image", "mount", mountPoint, "err", err)
	}
}

func mountPointFromPlist(out []byte) (string, error) {
	var attach hdiutilAttach
	if err := plist.Unmarshal(out, &attach); err != nil {
		return "", errors.Wrap(err, "parse hdiutil output")
	}
	for _, ent := range attach.SystemEntities {
		if ent.MountPoint != "" {
			return ent.MountPoint, nil
		}
	}
	return "", errors.New("hdiutil attach reported no mount point")
}

func looksLikeLicenseAgreement(out []byte) bool {
	s := strings.ToLower(string(out))
	return strings.Contains(s, "license") || strings.Contains(s, "agreement")
}
