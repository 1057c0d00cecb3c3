// Package pkgbuild produces deployable installer artifacts from extracted
// payloads: single-arch PKGs and DMGs, and universal LOB packages merged
// from two architecture-specific app bundles.
package pkgbuild

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"

	"github.com/gilburns/intuneomator/driver"
	"github.com/gilburns/intuneomator/label"
)

// Request carries the naming and identity inputs of one build.
type Request struct {
	DisplayName string
	Version     string
	BundleID    string
	Arch        label.Arch
	Deployment  label.DeploymentType
}

// ArtifactName returns the deterministic artifact filename for a request.
// LOB packages omit the architecture segment.
func ArtifactName(req Request) string {
	if req.Deployment == label.DeployLOB {
		return fmt.Sprintf("%s-%s.pkg", req.DisplayName, req.Version)
	}
	return fmt.Sprintf("%s-%s-%s.%s", req.DisplayName, req.Version, req.Arch, req.Deployment.Ext())
}

// Builder produces one deployable artifact from one or two payload inputs.
type Builder interface {
	// Build wraps a payload into the deployment format and places the
	// result at destDir under the deterministic name.
	Build(ctx context.Context, payloadPath string, req Request, destDir string) (string, error)

	// BuildUniversal merges an arm64 and an x86_64 app bundle into a
	// single universal installer package.
	BuildUniversal(ctx context.Context, armApp, x86App string, req Request, destDir string) (string, error)
}

type builder struct {
	runner driver.Runner
	logger log.Logger
}

type config struct {
	runner driver.Runner
	logger log.Logger
}

// Option configures a Builder.
type Option func(*config)

// Runner sets the external tool runner.
func Runner(r driver.Runner) Option {
	return func(c *config) { c.runner = r }
}

// Logger sets the builder logger.
func Logger(logger log.Logger) Option {
	return func(c *config) { c.logger = logger }
}

// NewBuilder creates a Builder.
func NewBuilder(opts ...Option) Builder {
	conf := &config{logger: log.NewNopLogger()}
	for _, opt := range opts {
		opt(conf)
	}
	if conf.runner == nil {
		conf.runner = driver.NewRunner()
	}
	return &builder{runner: conf.runner, logger: conf.logger}
}

func (b *builder) Build(ctx context.Context, payloadPath string, req Request, destDir string) (string, error) {
	if filepath.Ext(payloadPath) == ".pkg" {
		// payload is already an installer package; place it under the
		// deterministic name.
		return b.place(payloadPath, req, destDir)
	}
	switch req.Deployment {
	case label.DeployDMG:
		return b.buildDMG(ctx, payloadPath, req, destDir)
	case label.DeployPKG, label.DeployLOB:
		return b.buildPKG(ctx, payloadPath, req, destDir)
	}
	return "", errors.Errorf("pkgbuild: unsupported deployment type %v", req.Deployment)
}

func (b *builder) buildPKG(ctx context.Context, appPath string, req Request, destDir string) (string, error) {
	tmp, cleanup, err := tempArtifact(destDir, ".pkg")
	if err != nil {
		return "", err
	}
	defer cleanup()
	_, err = b.runner.Run(ctx, "/usr/bin/pkgbuild",
		"--component", appPath,
		"--install-location", "/Applications",
		"--identifier", req.BundleID,
		"--version", req.Version,
		tmp,
	)
	if err != nil {
		return "", errors.Wrap(err, "pkgbuild")
	}
	return b.rename(tmp, req, destDir)
}

func (b *builder) buildDMG(ctx context.Context, appPath string, req Request, destDir string) (string, error) {
	tmp, cleanup, err := tempArtifact(destDir, ".dmg")
	if err != nil {
		return "", err
	}
	defer cleanup()
	// hdiutil refuses to overwrite without -ov, but the temp name is fresh.
	os.Remove(tmp)
	_, err = b.runner.Run(ctx, "/usr/bin/hdiutil", "create",
		"-volname", req.DisplayName,
		"-srcfolder", appPath,
		"-format", "UDZO",
		tmp,
	)
	if err != nil {
		return "", errors.Wrap(err, "hdiutil create")
	}
	return b.rename(tmp, req, destDir)
}

// place copies an existing artifact to its final cache location, writing to
// a temp name first so a half-copied file never sits at the final path.
func (b *builder) place(src string, req Request, destDir string) (string, error) {
	tmp, cleanup, err := tempArtifact(destDir, filepath.Ext(src))
	if err != nil {
		return "", err
	}
	defer cleanup()
	if err := copyFile(src, tmp); err != nil {
		return "", err
	}
	return b.rename(tmp, req, destDir)
}

func (b *builder) rename(tmp string, req Request, destDir string) (string, error) {
	final := filepath.Join(destDir, ArtifactName(req))
	if err := os.Rename(tmp, final); err != nil {
		return "", errors.Wrap(err, "place artifact")
	}
	return final, nil
}

func tempArtifact(destDir, ext string) (string, func(), error) {
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return "", nil, errors.Wrap(err, "create artifact dir")
	}
	f, err := os.CreateTemp(destDir, "build-*"+ext)
	if err != nil {
		return "", nil, errors.Wrap(err, "create temp artifact")
	}
	name := f.Name()
	f.Close()
	return name, func() { os.Remove(name) }, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return errors.Wrap(err, "open source artifact")
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return errors.Wrap(err, "create destination artifact")
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return errors.Wrap(err, "copy artifact")
	}
	return out.Close()
}
