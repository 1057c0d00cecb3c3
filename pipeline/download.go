package pipeline

import (
	"context"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/gilburns/intuneomator/transfer"
)

// download fetches url into dir, keeping the remote filename so the
// extractor can key off the extension. fallback names the file when the URL
// path carries no usable basename.
func (svc *service) download(ctx context.Context, url, dir, fallback string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return "", errors.Wrap(err, "build download request")
	}
	resp, err := svc.httpClient.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "download artifact")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", errors.Errorf("download returned %s", resp.Status)
	}

	name := path.Base(resp.Request.URL.Path)
	if name == "" || name == "." || name == "/" {
		name = fallback
	}
	dest := filepath.Join(dir, name)
	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return "", errors.Wrap(err, "create download file")
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		return "", errors.Wrap(err, "write download file")
	}
	if err := out.Close(); err != nil {
		return "", errors.Wrap(err, "close download file")
	}
	return dest, nil
}

func isTimeout(err error) bool {
	return errors.Is(err, transfer.ErrUploadTimeout)
}

func isCommitFailure(err error) bool {
	var ce *transfer.CommitError
	return errors.As(err, &ce)
}
