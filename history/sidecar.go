package history

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const sidecarName = ".uploaded"

// WriteSidecar writes the remaining catalog version count into the label
// folder's .uploaded file. External tooling reads it; the pipeline only
// writes it after a confirmed successful upload.
func WriteSidecar(folderPath string, remainingVersions int) error {
	path := filepath.Join(folderPath, sidecarName)
	data := []byte(strconv.Itoa(remainingVersions) + "\n")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.Wrap(err, "write .uploaded sidecar")
	}
	return nil
}

// ReadSidecar reads the version count written by a previous run. A missing
// sidecar returns 0 with no error.
func ReadSidecar(folderPath string) (int, error) {
	data, err := os.ReadFile(filepath.Join(folderPath, sidecarName))
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, "read .uploaded sidecar")
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, errors.Wrap(err, "parse .uploaded sidecar")
	}
	return n, nil
}
