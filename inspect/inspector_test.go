package inspect

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/pkg/errors"
)

const codesignOutput = `Executable=/tmp/Firefox.app/Contents/MacOS/firefox
Identifier=org.mozilla.firefox
Format=app bundle with Mach-O universal (x86_64 arm64)
CodeDirectory v=20500 size=286701 flags=0x10000(runtime) hashes=8952+7 location=embedded
Signature size=9006
Authority=Developer ID Application: Mozilla Corporation (43AQ936H96)
Authority=Developer ID Certification Authority
Authority=Apple Root CA
Info.plist entries=37
TeamIdentifier=43AQ936H96
Runtime Version=11.3.0
Sealed Resources version=2 rules=13 files=312
Internal requirements count=1 size=220
`

const codesignAdhocOutput = `Executable=/tmp/Thing.app/Contents/MacOS/thing
Identifier=com.example.thing
Format=app bundle with Mach-O thin (arm64)
CodeDirectory v=20400 size=1024 flags=0x2(adhoc) hashes=24+7 location=embedded
Signature=adhoc
Info.plist entries=20
TeamIdentifier=not set
`

const pkgutilOutput = `Package "Install Firefox.pkg":
   Status: signed by a developer certificate issued by Apple for distribution
   Signed with a trusted timestamp on: 2026-01-12 18:20:11 +0000
   Certificate Chain:
    1. Developer ID Installer: Mozilla Corporation (43AQ936H96)
       Expires: 2027-02-01 22:12:15 +0000
       SHA256 Fingerprint:
           AB CD EF 01 23 45 67 89 AB CD EF 01 23 45 67 89 AB CD EF 01 23 45
           67 89 AB CD EF 01 23 45 67 89
    2. Developer ID Certification Authority
    3. Apple Root CA
`

const pkgutilUnsignedOutput = `Package "homebrew.pkg":
   Status: no signature
`

type fakeRunner struct {
	out []byte
	err error
}

func (f *fakeRunner) Run(ctx context.Context, name string, arg ...string) ([]byte, error) {
	return f.out, f.err
}

func TestVerifyAppSignature(t *testing.T) {
	var signatureTests = []struct {
		name    string
		out     string
		runErr  error
		teamID  string
		wantErr bool
	}{
		{
			name:   "signed by expected team",
			out:    codesignOutput,
			teamID: "43AQ936H96",
		},
		{
			name:    "team mismatch",
			out:     codesignOutput,
			teamID:  "ZZZZZZZZZZ",
			wantErr: true,
		},
		{
			name:    "adhoc signature",
			out:     codesignAdhocOutput,
			teamID:  "43AQ936H96",
			wantErr: true,
		},
		{
			name:    "codesign failed",
			out:     "",
			runErr:  errors.New("code object is not signed at all"),
			teamID:  "43AQ936H96",
			wantErr: true,
		},
	}

	for _, tt := range signatureTests {
		i := NewInspector(Runner(&fakeRunner{out: []byte(tt.out), err: tt.runErr}))
		err := i.VerifySignature(context.Background(), "/tmp/Firefox.app", tt.teamID)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("%s: expected error, got none", tt.name)
			}
			if errors.Cause(err) != ErrSignature {
				t.Fatalf("%s: expected ErrSignature cause, got %v", tt.name, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
	}
}

func TestVerifyPkgSignature(t *testing.T) {
	i := NewInspector(Runner(&fakeRunner{out: []byte(pkgutilOutput)}))
	if err := i.VerifySignature(context.Background(), "/tmp/Install Firefox.pkg", "43AQ936H96"); err != nil {
		t.Fatal(err)
	}

	i = NewInspector(Runner(&fakeRunner{out: []byte(pkgutilOutput)}))
	err := i.VerifySignature(context.Background(), "/tmp/Install Firefox.pkg", "ZZZZZZZZZZ")
	if errors.Cause(err) != ErrSignature {
		t.Fatal("expected ErrSignature for wrong team, got", err)
	}

	i = NewInspector(Runner(&fakeRunner{out: []byte(pkgutilUnsignedOutput)}))
	err = i.VerifySignature(context.Background(), "/tmp/homebrew.pkg", "43AQ936H96")
	if errors.Cause(err) != ErrSignature {
		t.Fatal("expected ErrSignature for unsigned pkg, got", err)
	}
	if !strings.Contains(err.Error(), "unsigned") {
		t.Fatal("expected unsigned in message, got", err)
	}
}

const distributionXML = `<?xml version="1.0" encoding="utf-8"?>
<installer-gui-script minSpecVersion="2">
    <title>Firefox</title>
    <options customize="never" require-scripts="false"/>
    <choices-outline>
        <line choice="default">
            <line choice="org.mozilla.firefox"/>
        </line>
    </choices-outline>
    <choice id="default"/>
    <choice id="org.mozilla.firefox" visible="false">
        <pkg-ref id="org.mozilla.firefox"/>
    </choice>
    <pkg-ref id="org.mozilla.firefox" version="122.0" onConclusion="none">firefox.pkg</pkg-ref>
</installer-gui-script>
`

func TestVersionFromDistribution(t *testing.T) {
	v, err := versionFromDistribution([]byte(distributionXML), "org.mozilla.firefox")
	if err != nil {
		t.Fatal(err)
	}
	if v != "122.0" {
		t.Fatal("expected 122.0, got", v)
	}

	// identifier absent from the package
	v, err = versionFromDistribution([]byte(distributionXML), "com.example.other")
	if err != nil {
		t.Fatal(err)
	}
	if v != VersionNone {
		t.Fatal("expected VersionNone, got", v)
	}

	// no identifier declared in the label, any versioned ref wins
	v, err = versionFromDistribution([]byte(distributionXML), "")
	if err != nil {
		t.Fatal(err)
	}
	if v != "122.0" {
		t.Fatal("expected 122.0, got", v)
	}
}

func TestVersionFromDistributionBadXML(t *testing.T) {
	if _, err := versionFromDistribution([]byte("not xml <"), "x"); err == nil {
		t.Fatal("expected decode error, got none")
	}
}

func TestAppVersion(t *testing.T) {
	app := newAppBundle(t, "org.mozilla.firefox", "122.0", "firefox", nil)
	i := NewInspector(Runner(&fakeRunner{}))

	v, err := i.ExtractVersion(context.Background(), app, "org.mozilla.firefox")
	if err != nil {
		t.Fatal(err)
	}
	if v != "122.0" {
		t.Fatal("expected 122.0, got", v)
	}

	// mismatched identifier degrades to the sentinel, not an error
	v, err = i.ExtractVersion(context.Background(), app, "com.example.other")
	if err != nil {
		t.Fatal(err)
	}
	if v != VersionNone {
		t.Fatal("expected VersionNone, got", v)
	}
}

func infoPlist(bundleID, version, executable string) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>CFBundleIdentifier</key>
	<string>%s</string>
	<key>CFBundleShortVersionString</key>
	<string>%s</string>
	<key>CFBundleName</key>
	<string>Firefox</string>
	<key>CFBundleExecutable</key>
	<string>%s</string>
</dict>
</plist>`, bundleID, version, executable)
}
