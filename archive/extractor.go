// Package archive extracts downloaded artifacts into their deployable
// payload, an .app bundle or a .pkg installer, handling zip, tbz and disk
// image containers including the nested pkg-in-dmg-in-zip variants.
package archive

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"

	"github.com/gilburns/intuneomator/driver"
	"github.com/gilburns/intuneomator/label"
)

// ErrNoPayload is returned when extraction finished but no file with the
// expected extension was found. Fatal for the label run; never retried.
var ErrNoPayload = errors.New("archive: no payload of expected type found")

// Extractor turns a downloaded file into the path of its payload.
type Extractor interface {
	Extract(ctx context.Context, downloadPath string, kind label.ArchiveType) (string, error)
}

type extractor struct {
	runner driver.Runner
	logger log.Logger
}

type config struct {
	runner driver.Runner
	logger log.Logger
}

// Option configures an Extractor.
type Option func(*config)

// Runner sets the external tool runner, used by tests to avoid hdiutil.
func Runner(r driver.Runner) Option {
	return func(c *config) { c.runner = r }
}

// Logger sets the extractor logger.
func Logger(logger log.Logger) Option {
	return func(c *config) { c.logger = logger }
}

// NewExtractor creates an Extractor.
func NewExtractor(opts ...Option) Extractor {
	conf := &config{
		logger: log.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(conf)
	}
	if conf.runner == nil {
		conf.runner = driver.NewRunner()
	}
	return &extractor{runner: conf.runner, logger: conf.logger}
}

func (e *extractor) Extract(ctx context.Context, downloadPath string, kind label.ArchiveType) (string, error) {
	switch kind {
	case label.ArchivePKG:
		return downloadPath, nil
	case label.ArchiveZip, label.ArchivePKGInZip:
		return e.extractZip(downloadPath, kind.PayloadExt())
	case label.ArchiveTbz:
		return e.extractTbz(downloadPath, kind.PayloadExt())
	case label.ArchiveDMG, label.ArchivePKGInDmg:
		return e.extractDMG(ctx, downloadPath, kind.PayloadExt())
	case label.ArchivePKGInDmgZip, label.ArchiveAppInDmgZip:
		dmg, err := e.extractZip(downloadPath, ".dmg")
		if err != nil {
			return "", err
		}
		return e.extractDMG(ctx, dmg, kind.PayloadExt())
	}
	return "", errors.Errorf("archive: unsupported type %q", kind)
}

// siblingDir returns (and creates) the extraction directory next to the
// downloaded file.
func siblingDir(downloadPath, suffix string) (string, error) {
	dir := strings.TrimSuffix(downloadPath, filepath.Ext(downloadPath)) + suffix
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", errors.Wrap(err, "create extraction dir")
	}
	return dir, nil
}

// findByExt walks root for entries matching ext. When several match, the one
// with the shortest path wins; nested duplicates inside frameworks or helper
// bundles lose the tie-break.
func findByExt(root, ext string) (string, error) {
	var best string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !strings.EqualFold(filepath.Ext(path), ext) {
			return nil
		}
		if ext == ".app" && !info.IsDir() {
			return nil
		}
		if best == "" || len(path) < len(best) {
			best = path
		}
		if info.IsDir() {
			return filepath.SkipDir
		}
		return nil
	})
	if err != nil {
		return "", errors.Wrap(err, "walk extracted tree")
	}
	if best == "" {
		return "", ErrNoPayload
	}
	return best, nil
}
