package archive

import (
	"archive/zip"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gilburns/intuneomator/label"
)

// fakeRunner records commands and dispatches canned responses so extraction
// tests never touch hdiutil or ditto.
type fakeRunner struct {
	calls []string
	run   func(name string, arg ...string) ([]byte, error)
}

func (f *fakeRunner) Run(ctx context.Context, name string, arg ...string) ([]byte, error) {
	f.calls = append(f.calls, name+" "+strings.Join(arg, " "))
	return f.run(name, arg...)
}

func writeZip(t *testing.T, path string, entries map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	w := zip.NewWriter(f)
	for name, content := range entries {
		if strings.HasSuffix(name, "/") {
			if _, err := w.Create(name); err != nil {
				t.Fatal(err)
			}
			continue
		}
		fw, err := w.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := fw.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestExtractPKGPassthrough(t *testing.T) {
	e := NewExtractor()
	path, err := e.Extract(context.Background(), "/tmp/thing.pkg", label.ArchivePKG)
	if err != nil {
		t.Fatal(err)
	}
	if path != "/tmp/thing.pkg" {
		t.Fatal("expected passthrough path, got", path)
	}
}

func TestExtractZipApp(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "firefox.zip")
	writeZip(t, src, map[string]string{
		"Firefox.app/":                    "",
		"Firefox.app/Contents/":           "",
		"Firefox.app/Contents/Info.plist": "<plist/>",
	})

	e := NewExtractor()
	payload, err := e.Extract(context.Background(), src, label.ArchiveZip)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(payload) != "Firefox.app" {
		t.Fatal("expected Firefox.app, got", payload)
	}
	if _, err := os.Stat(filepath.Join(payload, "Contents", "Info.plist")); err != nil {
		t.Fatal(err)
	}
}

func TestExtractZipShortestPathWins(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "suite.zip")
	writeZip(t, src, map[string]string{
		"Extras/CompanionHelper.app/":     "",
		"Firefox.app/":                    "",
		"Firefox.app/Contents/":           "",
		"Firefox.app/Contents/Info.plist": "<plist/>",
	})

	e := NewExtractor()
	payload, err := e.Extract(context.Background(), src, label.ArchiveZip)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(payload) != "Firefox.app" {
		t.Fatal("expected shortest path Firefox.app, got", payload)
	}
}

func TestExtractPKGInZip(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "installer.zip")
	writeZip(t, src, map[string]string{
		"Install Firefox.pkg": "xar!",
		"README.txt":          "read me",
	})

	e := NewExtractor()
	payload, err := e.Extract(context.Background(), src, label.ArchivePKGInZip)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(payload) != "Install Firefox.pkg" {
		t.Fatal("expected Install Firefox.pkg, got", payload)
	}
}

func TestExtractZipNoPayload(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "empty.zip")
	writeZip(t, src, map[string]string{"README.txt": "nothing here"})

	e := NewExtractor()
	_, err := e.Extract(context.Background(), src, label.ArchiveZip)
	if err != ErrNoPayload {
		t.Fatal("expected ErrNoPayload, got", err)
	}
}

func TestExtractTbz(t *testing.T) {
	e := NewExtractor()
	payload, err := e.Extract(context.Background(), "testdata/things.tbz", label.ArchiveTbz)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(payload) != "Things.app" {
		t.Fatal("expected Things.app, got", payload)
	}
}

func TestSanitizePath(t *testing.T) {
	if _, err := sanitizePath("/tmp/dest", "../../etc/passwd"); err == nil {
		t.Fatal("expected error for escaping entry, got none")
	}
	target, err := sanitizePath("/tmp/dest", "sub/file.txt")
	if err != nil {
		t.Fatal(err)
	}
	if target != filepath.Join("/tmp/dest", "sub", "file.txt") {
		t.Fatal("unexpected target", target)
	}
}

func attachPlist(mount string) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>system-entities</key>
	<array>
		<dict>
			<key>content-hint</key>
			<string>GUID_partition_scheme</string>
			<key>dev-entry</key>
			<string>/dev/disk4</string>
		</dict>
		<dict>
			<key>content-hint</key>
			<string>Apple_HFS</string>
			<key>dev-entry</key>
			<string>/dev/disk4s1</string>
			<key>mount-point</key>
			<string>%s</string>
		</dict>
	</array>
</dict>
</plist>`, mount)
}

func TestExtractDMG(t *testing.T) {
	dir := t.TempDir()
	dmg := filepath.Join(dir, "firefox.dmg")
	if err := os.WriteFile(dmg, []byte("dmg"), 0644); err != nil {
		t.Fatal(err)
	}

	mount := filepath.Join(dir, "Volumes", "Firefox")
	if err := os.MkdirAll(filepath.Join(mount, "Firefox.app", "Contents"), 0755); err != nil {
		t.Fatal(err)
	}

	runner := &fakeRunner{}
	runner.run = func(name string, arg ...string) ([]byte, error) {
		switch arg[0] {
		case "attach":
			return []byte(attachPlist(mount)), nil
		case "detach":
			return nil, nil
		}
		if name == "/usr/bin/ditto" {
			// src dest
			return nil, os.MkdirAll(arg[1], 0755)
		}
		return nil, fmt.Errorf("unexpected command %s %v", name, arg)
	}

	e := NewExtractor(Runner(runner))
	payload, err := e.Extract(context.Background(), dmg, label.ArchiveDMG)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(payload) != "Firefox.app" {
		t.Fatal("expected Firefox.app, got", payload)
	}
	if !strings.Contains(payload, "firefox_mounted") {
		t.Fatal("payload should live in the copy-out dir, got", payload)
	}

	var sawDetach bool
	for _, call := range runner.calls {
		if strings.Contains(call, "detach") {
			sawDetach = true
		}
	}
	if !sawDetach {
		t.Fatal("expected the image to be detached")
	}
}

func TestExtractDMGLicenseAgreement(t *testing.T) {
	dir := t.TempDir()
	dmg := filepath.Join(dir, "agree.dmg")
	if err := os.WriteFile(dmg, []byte("dmg"), 0644); err != nil {
		t.Fatal(err)
	}

	mount := filepath.Join(dir, "Volumes", "Agree")
	if err := os.MkdirAll(filepath.Join(mount, "Agree.app"), 0755); err != nil {
		t.Fatal(err)
	}

	var attaches int
	runner := &fakeRunner{}
	runner.run = func(name string, arg ...string) ([]byte, error) {
		switch arg[0] {
		case "attach":
			attaches++
			if attaches == 1 {
				return []byte("Software License Agreement"), fmt.Errorf("hdiutil: attach failed")
			}
			return []byte(attachPlist(mount)), nil
		case "convert":
			return nil, nil
		case "detach":
			return nil, nil
		}
		if name == "/usr/bin/ditto" {
			return nil, os.MkdirAll(arg[1], 0755)
		}
		return nil, fmt.Errorf("unexpected command %s %v", name, arg)
	}

	e := NewExtractor(Runner(runner))
	payload, err := e.Extract(context.Background(), dmg, label.ArchiveDMG)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(payload) != "Agree.app" {
		t.Fatal("expected Agree.app, got", payload)
	}
	if attaches != 2 {
		t.Fatal("expected attach to be retried after conversion, attaches:", attaches)
	}

	var sawConvert bool
	for _, call := range runner.calls {
		if strings.Contains(call, "convert") {
			sawConvert = true
		}
	}
	if !sawConvert {
		t.Fatal("expected a UDZO conversion for the license-agreement image")
	}
}
