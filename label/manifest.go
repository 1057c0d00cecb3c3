package label

import (
	"io"
	"os"

	"github.com/groob/plist"
	"github.com/pkg/errors"
)

// ArchiveType describes the container format of a downloaded artifact and
// fully determines the extraction strategy.
type ArchiveType string

const (
	ArchivePKG         ArchiveType = "pkg"
	ArchivePKGInZip    ArchiveType = "pkgInZip"
	ArchivePKGInDmg    ArchiveType = "pkgInDmg"
	ArchivePKGInDmgZip ArchiveType = "pkgInDmgInZip"
	ArchiveZip         ArchiveType = "zip"
	ArchiveTbz         ArchiveType = "tbz"
	ArchiveDMG         ArchiveType = "dmg"
	ArchiveAppInDmgZip ArchiveType = "appInDmgInZip"
)

// Valid reports whether t is one of the supported archive types.
func (t ArchiveType) Valid() bool {
	switch t {
	case ArchivePKG, ArchivePKGInZip, ArchivePKGInDmg, ArchivePKGInDmgZip,
		ArchiveZip, ArchiveTbz, ArchiveDMG, ArchiveAppInDmgZip:
		return true
	}
	return false
}

// PayloadExt returns the extension of the payload the extractor should look
// for once the outer containers are removed.
func (t ArchiveType) PayloadExt() string {
	switch t {
	case ArchivePKG, ArchivePKGInZip, ArchivePKGInDmg, ArchivePKGInDmgZip:
		return ".pkg"
	}
	return ".app"
}

// Manifest is the resolved output of a label's resolution script, read from
// the plist the script writes into the label folder.
type Manifest struct {
	Name                 string      `plist:"name"`
	DownloadURL          string      `plist:"downloadURL"`
	DownloadURLSecondary string      `plist:"downloadURLx86,omitempty"`
	ExpectedTeamID       string      `plist:"expectedTeamID"`
	ExpectedBundleID     string      `plist:"packageID"`
	ArchiveType          ArchiveType `plist:"type"`
	ExpectedVersion      string      `plist:"appNewVersion,omitempty"`
}

// Validate checks the fields every pipeline run depends on.
func (m Manifest) Validate() error {
	if m.DownloadURL == "" {
		return errors.New("manifest: missing downloadURL")
	}
	if m.ExpectedTeamID == "" {
		return errors.New("manifest: missing expectedTeamID")
	}
	if !m.ArchiveType.Valid() {
		return errors.Errorf("manifest: unknown archive type %q", m.ArchiveType)
	}
	return nil
}

// DecodeManifest reads a plist manifest from r.
func DecodeManifest(r io.Reader) (Manifest, error) {
	var m Manifest
	if err := plist.NewXMLDecoder(r).Decode(&m); err != nil {
		return Manifest{}, errors.Wrap(err, "decode label manifest")
	}
	return m, nil
}

// ReadManifest decodes the manifest plist at path. If a sibling _i386 plist
// exists its download URL becomes the secondary (x86_64) URL, the layout used
// by dual-architecture titles.
func ReadManifest(path, secondaryPath string) (Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return Manifest{}, errors.Wrap(err, "open label manifest")
	}
	defer f.Close()
	m, err := DecodeManifest(f)
	if err != nil {
		return Manifest{}, err
	}
	if secondaryPath == "" {
		return m, nil
	}
	sf, err := os.Open(secondaryPath)
	if os.IsNotExist(err) {
		return m, nil
	}
	if err != nil {
		return Manifest{}, errors.Wrap(err, "open secondary manifest")
	}
	defer sf.Close()
	sec, err := DecodeManifest(sf)
	if err != nil {
		return Manifest{}, err
	}
	if m.DownloadURLSecondary == "" {
		m.DownloadURLSecondary = sec.DownloadURL
	}
	return m, nil
}
