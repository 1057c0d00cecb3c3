package archive

import (
	"archive/tar"
	"archive/zip"
	"compress/bzip2"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

func (e *extractor) extractZip(downloadPath, payloadExt string) (string, error) {
	dir, err := siblingDir(downloadPath, "_extracted")
	if err != nil {
		return "", err
	}
	if err := unzip(downloadPath, dir); err != nil {
		return "", err
	}
	return findByExt(dir, payloadExt)
}

func (e *extractor) extractTbz(downloadPath, payloadExt string) (string, error) {
	dir, err := siblingDir(downloadPath, "_extracted")
	if err != nil {
		return "", err
	}
	if err := untbz(downloadPath, dir); err != nil {
		return "", err
	}
	return findByExt(dir, payloadExt)
}

func unzip(src, dest string) error {
	r, err := zip.OpenReader(src)
	if err != nil {
		return errors.Wrap(err, "open zip")
	}
	defer r.Close()
	for _, f := range r.File {
		target, err := sanitizePath(dest, f.Name)
		if err != nil {
			return err
		}
		mode := f.Mode()
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return errors.Wrap(err, "unzip mkdir")
			}
			continue
		}
		if mode&os.ModeSymlink != 0 {
			// app bundles carry framework symlinks
			rc, err := f.Open()
			if err != nil {
				return errors.Wrap(err, "unzip open symlink")
			}
			link, err := io.ReadAll(rc)
			rc.Close()
			if err != nil {
				return errors.Wrap(err, "unzip read symlink")
			}
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return errors.Wrap(err, "unzip mkdir")
			}
			os.Remove(target)
			if err := os.Symlink(string(link), target); err != nil {
				return errors.Wrap(err, "unzip symlink")
			}
			continue
		}
		if err := writeEntry(target, mode, func() (io.ReadCloser, error) { return f.Open() }); err != nil {
			return err
		}
	}
	return nil
}

func untbz(src, dest string) error {
	f, err := os.Open(src)
	if err != nil {
		return errors.Wrap(err, "open tbz")
	}
	defer f.Close()
	tr := tar.NewReader(bzip2.NewReader(f))
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "read tbz")
		}
		target, err := sanitizePath(dest, hdr.Name)
		if err != nil {
			return err
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return errors.Wrap(err, "untbz mkdir")
			}
		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return errors.Wrap(err, "untbz mkdir")
			}
			os.Remove(target)
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return errors.Wrap(err, "untbz symlink")
			}
		case tar.TypeReg:
			if err := writeEntry(target, os.FileMode(hdr.Mode), func() (io.ReadCloser, error) {
				return io.NopCloser(tr), nil
			}); err != nil {
				return err
			}
		}
	}
}

func writeEntry(target string, mode os.FileMode, open func() (io.ReadCloser, error)) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return errors.Wrap(err, "mkdir")
	}
	rc, err := open()
	if err != nil {
		return errors.Wrap(err, "open archive entry")
	}
	defer rc.Close()
	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode.Perm()|0400)
	if err != nil {
		return errors.Wrap(err, "create extracted file")
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return errors.Wrap(err, "write extracted file")
	}
	return out.Close()
}

func sanitizePath(dest, name string) (string, error) {
	target := filepath.Join(dest, filepath.Clean("/"+name))
	if !strings.HasPrefix(target, filepath.Clean(dest)+string(os.PathSeparator)) && target != filepath.Clean(dest) {
		return "", errors.Errorf("archive entry %q escapes extraction dir", name)
	}
	return target, nil
}
