package label

import (
	"context"
	"os/exec"
	"path/filepath"

	"github.com/pkg/errors"
)

// ScriptRunner executes a label's resolution script. The script is external
// to this system; all the pipeline consumes is the plist it writes into the
// label folder.
type ScriptRunner interface {
	// Run executes the resolution script for a folder and returns the path
	// of the manifest plist plus, for dual-arch titles, the secondary plist
	// path ("" when the title is single-arch).
	Run(ctx context.Context, def Definition) (manifestPath, secondaryPath string, err error)
}

type execRunner struct {
	labels Datastore
	shell  string
}

// NewScriptRunner returns a ScriptRunner that executes the zsh resolution
// script stored inside each label folder.
func NewScriptRunner(labels Datastore) ScriptRunner {
	return &execRunner{labels: labels, shell: "/bin/zsh"}
}

func (r *execRunner) Run(ctx context.Context, def Definition) (string, string, error) {
	dir := r.labels.FolderPath(def.FolderName())
	script := filepath.Join(dir, def.Name+".sh")
	cmd := exec.CommandContext(ctx, r.shell, script, dir)
	cmd.Dir = dir
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", "", errors.Wrapf(err, "label script %s: %s", script, out)
	}
	manifest := filepath.Join(dir, def.Name+".plist")
	secondary := filepath.Join(dir, def.Name+"_i386.plist")
	return manifest, secondary, nil
}
