package label

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const firefoxManifest = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>name</key>
	<string>Firefox</string>
	<key>downloadURL</key>
	<string>https://download.mozilla.org/?product=firefox-latest&amp;os=osx</string>
	<key>expectedTeamID</key>
	<string>43AQ936H96</string>
	<key>packageID</key>
	<string>org.mozilla.firefox</string>
	<key>type</key>
	<string>dmg</string>
	<key>appNewVersion</key>
	<string>122.0</string>
</dict>
</plist>
`

const firefoxManifestARM = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>name</key>
	<string>Firefox</string>
	<key>downloadURL</key>
	<string>https://download.example.com/firefox-x86_64.dmg</string>
	<key>expectedTeamID</key>
	<string>43AQ936H96</string>
	<key>packageID</key>
	<string>org.mozilla.firefox</string>
	<key>type</key>
	<string>dmg</string>
</dict>
</plist>
`

func TestDecodeManifest(t *testing.T) {
	m, err := DecodeManifest(strings.NewReader(firefoxManifest))
	if err != nil {
		t.Fatal(err)
	}
	if m.Name != "Firefox" {
		t.Fatal("expected Firefox, got", m.Name)
	}
	if m.ExpectedTeamID != "43AQ936H96" {
		t.Fatal("expected 43AQ936H96, got", m.ExpectedTeamID)
	}
	if m.ExpectedBundleID != "org.mozilla.firefox" {
		t.Fatal("expected org.mozilla.firefox, got", m.ExpectedBundleID)
	}
	if m.ArchiveType != ArchiveDMG {
		t.Fatal("expected dmg, got", m.ArchiveType)
	}
	if m.ExpectedVersion != "122.0" {
		t.Fatal("expected 122.0, got", m.ExpectedVersion)
	}
	if err := m.Validate(); err != nil {
		t.Fatal(err)
	}
}

func TestManifestValidate(t *testing.T) {
	var validateTests = []struct {
		m       Manifest
		wantErr bool
	}{
		{
			m: Manifest{DownloadURL: "https://x", ExpectedTeamID: "43AQ936H96", ArchiveType: ArchiveZip},
		},
		{
			m:       Manifest{ExpectedTeamID: "43AQ936H96", ArchiveType: ArchiveZip},
			wantErr: true,
		},
		{
			m:       Manifest{DownloadURL: "https://x", ArchiveType: ArchiveZip},
			wantErr: true,
		},
		{
			m:       Manifest{DownloadURL: "https://x", ExpectedTeamID: "43AQ936H96", ArchiveType: "rar"},
			wantErr: true,
		},
	}
	for i, tt := range validateTests {
		err := tt.m.Validate()
		if tt.wantErr && err == nil {
			t.Fatalf("case %d: expected error, got none", i)
		}
		if !tt.wantErr && err != nil {
			t.Fatalf("case %d: %v", i, err)
		}
	}
}

func TestReadManifestMergesSecondaryURL(t *testing.T) {
	dir := t.TempDir()
	primary := filepath.Join(dir, "firefox.plist")
	secondary := filepath.Join(dir, "firefox_i386.plist")
	if err := os.WriteFile(primary, []byte(firefoxManifest), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(secondary, []byte(firefoxManifestARM), 0644); err != nil {
		t.Fatal(err)
	}

	m, err := ReadManifest(primary, secondary)
	if err != nil {
		t.Fatal(err)
	}
	if m.DownloadURLSecondary != "https://download.example.com/firefox-x86_64.dmg" {
		t.Fatal("expected secondary URL from _i386 plist, got", m.DownloadURLSecondary)
	}

	// a missing secondary plist is not an error
	m, err = ReadManifest(primary, filepath.Join(dir, "nope.plist"))
	if err != nil {
		t.Fatal(err)
	}
	if m.DownloadURLSecondary != "" {
		t.Fatal("expected empty secondary URL, got", m.DownloadURLSecondary)
	}
}
