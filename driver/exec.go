package driver

import (
	"bytes"
	"context"
	"os/exec"
	"strings"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"
)

// Runner executes an external command-line tool and returns its combined
// output. The packaging pipeline shells out to the platform toolchain
// (hdiutil, codesign, pkgutil, pkgbuild, lipo, xar); tests substitute a fake
// Runner instead of requiring macOS.
type Runner interface {
	Run(ctx context.Context, name string, arg ...string) ([]byte, error)
}

type execRunner struct {
	logger log.Logger
}

// NewRunner returns a Runner backed by os/exec.
func NewRunner(opts ...ConnOption) Runner {
	conf := &config{logger: log.NewNopLogger()}
	for _, opt := range opts {
		opt(conf)
	}
	return &execRunner{logger: conf.logger}
}

func (r *execRunner) Run(ctx context.Context, name string, arg ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, arg...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	r.logger.Log("cmd", name, "args", strings.Join(arg, " "), "err", err)
	if err != nil {
		return out.Bytes(), errors.Wrapf(err, "%s: %s", name, strings.TrimSpace(out.String()))
	}
	return out.Bytes(), nil
}
