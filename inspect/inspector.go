// Package inspect verifies the code-signing identity of extracted payloads
// and reads their version and bundle identifier.
package inspect

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-kit/kit/log"
	"github.com/groob/plist"
	"github.com/pkg/errors"

	"github.com/gilburns/intuneomator/driver"
	"github.com/gilburns/intuneomator/label"
)

// VersionNone is the sentinel returned when the expected bundle identifier
// is absent from the payload. Callers treat it as "unknown, proceed with
// caution"; it is not an extraction error.
const VersionNone = "None"

// ErrSignature is the base error for all identity failures. Fatal for a
// label run; there is no insecure fallback path.
var ErrSignature = errors.New("inspect: code signature verification failed")

// Inspector checks payload identity and reads payload versions.
type Inspector interface {
	// VerifySignature checks that path is signed by expectedTeamID.
	VerifySignature(ctx context.Context, path, expectedTeamID string) error

	// ExtractVersion returns the version of the bundle or installer
	// package identified by expectedBundleID, or VersionNone when the
	// identifier is absent.
	ExtractVersion(ctx context.Context, path, expectedBundleID string) (string, error)

	// BundleInfo reads the identifier and version of an app bundle.
	BundleInfo(appPath string) (*BundleInfo, error)

	// AppArch reports the architecture of an app bundle's main binary.
	AppArch(appPath string) (label.Arch, error)
}

// BundleInfo is the subset of Info.plist the pipeline cares about.
type BundleInfo struct {
	BundleID   string `plist:"CFBundleIdentifier"`
	Version    string `plist:"CFBundleShortVersionString"`
	Name       string `plist:"CFBundleName"`
	Executable string `plist:"CFBundleExecutable"`
}

type inspector struct {
	runner driver.Runner
	logger log.Logger
}

type config struct {
	runner driver.Runner
	logger log.Logger
}

// Option configures an Inspector.
type Option func(*config)

// Runner sets the external tool runner.
func Runner(r driver.Runner) Option {
	return func(c *config) { c.runner = r }
}

// Logger sets the inspector logger.
func Logger(logger log.Logger) Option {
	return func(c *config) { c.logger = logger }
}

// NewInspector creates an Inspector.
func NewInspector(opts ...Option) Inspector {
	conf := &config{logger: log.NewNopLogger()}
	for _, opt := range opts {
		opt(conf)
	}
	if conf.runner == nil {
		conf.runner = driver.NewRunner()
	}
	return &inspector{runner: conf.runner, logger: conf.logger}
}

var (
	teamIdentifierRe = regexp.MustCompile(`(?m)^TeamIdentifier=(\S+)$`)
	pkgSignerRe      = regexp.MustCompile(`\(([0-9A-Z]{10})\)`)
)

func (i *inspector) VerifySignature(ctx context.Context, path, expectedTeamID string) error {
	if strings.EqualFold(filepath.Ext(path), ".pkg") {
		return i.verifyPkgSignature(ctx, path, expectedTeamID)
	}
	return i.verifyAppSignature(ctx, path, expectedTeamID)
}

func (i *inspector) verifyAppSignature(ctx context.Context, path, expectedTeamID string) error {
	out, err := i.runner.Run(ctx, "/usr/bin/codesign", "-dv", "--verbose=4", path)
	if err != nil {
		return errors.Wrapf(ErrSignature, "codesign: %v", err)
	}
	if strings.Contains(string(out), "Signature=adhoc") {
		return errors.Wrapf(ErrSignature, "%s is ad-hoc signed", filepath.Base(path))
	}
	m := teamIdentifierRe.FindSubmatch(out)
	if m == nil || string(m[1]) == "not" {
		return errors.Wrapf(ErrSignature, "%s has no team identifier", filepath.Base(path))
	}
	if got := string(m[1]); got != expectedTeamID {
		return errors.Wrapf(ErrSignature, "team identifier %q, expected %q", got, expectedTeamID)
	}
	return nil
}

func (i *inspector) verifyPkgSignature(ctx context.Context, path, expectedTeamID string) error {
	out, err := i.runner.Run(ctx, "/usr/sbin/pkgutil", "--check-signature", path)
	if err != nil {
		return errors.Wrapf(ErrSignature, "pkgutil: %v", err)
	}
	if strings.Contains(string(out), "no signature") {
		return errors.Wrapf(ErrSignature, "%s is unsigned", filepath.Base(path))
	}
	m := pkgSignerRe.FindSubmatch(out)
	if m == nil {
		return errors.Wrapf(ErrSignature, "%s: no team identifier in signing chain", filepath.Base(path))
	}
	if got := string(m[1]); got != expectedTeamID {
		return errors.Wrapf(ErrSignature, "team identifier %q, expected %q", got, expectedTeamID)
	}
	return nil
}

func (i *inspector) ExtractVersion(ctx context.Context, path, expectedBundleID string) (string, error) {
	if strings.EqualFold(filepath.Ext(path), ".pkg") {
		return i.pkgVersion(ctx, path, expectedBundleID)
	}
	return i.appVersion(path, expectedBundleID)
}

func (i *inspector) appVersion(appPath, expectedBundleID string) (string, error) {
	info, err := i.BundleInfo(appPath)
	if err != nil {
		return "", err
	}
	if expectedBundleID != "" && info.BundleID != expectedBundleID {
		i.logger.Log("msg", "bundle identifier mismatch", "want", expectedBundleID, "got", info.BundleID)
		return VersionNone, nil
	}
	if info.Version == "" {
		return VersionNone, nil
	}
	return info.Version, nil
}

// BundleInfo decodes Contents/Info.plist of an app bundle.
func (i *inspector) BundleInfo(appPath string) (*BundleInfo, error) {
	data, err := os.ReadFile(filepath.Join(appPath, "Contents", "Info.plist"))
	if err != nil {
		return nil, errors.Wrap(err, "read Info.plist")
	}
	var info BundleInfo
	if err := plist.Unmarshal(data, &info); err != nil {
		return nil, errors.Wrap(err, "decode Info.plist")
	}
	return &info, nil
}
