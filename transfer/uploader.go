package transfer

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"

	"github.com/gilburns/intuneomator/catalog"
	"github.com/gilburns/intuneomator/label"
)

const (
	defaultChunkSize = 6 * 1024 * 1024
	maxBlockAttempts = 3
	blockBackoffUnit = 500 * time.Millisecond
	pollInterval     = 5 * time.Second
	maxPollAttempts  = 20
)

// ErrUploadTimeout is returned when the service never reaches a terminal
// upload state within the polling budget.
var ErrUploadTimeout = errors.New("transfer: timed out waiting for upload commit")

// CommitError is a terminal commitFileFailed report from the service.
type CommitError struct {
	Code        string
	Description string
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("transfer: commit failed: %s: %s", e.Code, e.Description)
}

// Progress observes upload progress after every successful block.
type Progress func(uploadedBytes, totalBytes int64)

// Uploader encrypts an artifact and transfers it into the app's content
// version via Azure block blobs.
type Uploader struct {
	client    catalog.Client
	http      *http.Client
	logger    log.Logger
	chunkSize int64
	sleep     func(time.Duration)
	progress  Progress
}

type uploaderConfig struct {
	http      *http.Client
	logger    log.Logger
	chunkSize int64
	sleep     func(time.Duration)
	progress  Progress
}

// UploaderOption configures an Uploader.
type UploaderOption func(*uploaderConfig)

// WithHTTPClient sets the client used for block PUTs.
func WithHTTPClient(hc *http.Client) UploaderOption {
	return func(c *uploaderConfig) { c.http = hc }
}

// WithLogger sets the uploader logger.
func WithLogger(logger log.Logger) UploaderOption {
	return func(c *uploaderConfig) { c.logger = logger }
}

// WithChunkSize overrides the 6 MiB block size, used by tests.
func WithChunkSize(n int64) UploaderOption {
	return func(c *uploaderConfig) { c.chunkSize = n }
}

// WithSleep overrides the sleep function, used by tests to skip waiting.
func WithSleep(f func(time.Duration)) UploaderOption {
	return func(c *uploaderConfig) { c.sleep = f }
}

// WithProgress registers a progress observer.
func WithProgress(p Progress) UploaderOption {
	return func(c *uploaderConfig) { c.progress = p }
}

// NewUploader creates an Uploader.
func NewUploader(client catalog.Client, opts ...UploaderOption) *Uploader {
	conf := &uploaderConfig{
		http:      http.DefaultClient,
		logger:    log.NewNopLogger(),
		chunkSize: defaultChunkSize,
		sleep:     time.Sleep,
	}
	for _, opt := range opts {
		opt(conf)
	}
	return &Uploader{
		client:    client,
		http:      conf.http,
		logger:    conf.logger,
		chunkSize: conf.chunkSize,
		sleep:     conf.sleep,
		progress:  conf.progress,
	}
}

// Send encrypts the artifact and runs the full transfer protocol for the
// given app: content version, content file, block upload, block list commit,
// encryption-info commit, completion polling, content version commit.
//
// Blocks orphaned by a failed run are not cleaned up here; the blob storage
// is transient write-once and the orchestrator compensates by deleting the
// remote app record.
func (u *Uploader) Send(ctx context.Context, appID string, dt label.DeploymentType, artifactPath string) error {
	fi, err := os.Stat(artifactPath)
	if err != nil {
		return errors.Wrap(err, "stat artifact")
	}

	encPath := artifactPath + ".bin"
	encInfo, err := EncryptFile(artifactPath, encPath)
	if err != nil {
		return err
	}
	defer os.Remove(encPath)
	encFi, err := os.Stat(encPath)
	if err != nil {
		return errors.Wrap(err, "stat encrypted artifact")
	}

	versionID, err := u.client.CreateContentVersion(ctx, appID, dt)
	if err != nil {
		return err
	}
	fileID, err := u.client.CreateContentFile(ctx, appID, versionID, dt, catalog.ContentFile{
		Name:          filepath.Base(artifactPath),
		Size:          fi.Size(),
		SizeEncrypted: encFi.Size(),
	})
	if err != nil {
		return err
	}

	uploadURL, err := u.waitForStorageURI(ctx, appID, versionID, fileID, dt)
	if err != nil {
		return err
	}
	if err := u.uploadBlocks(ctx, uploadURL, encPath, encFi.Size()); err != nil {
		return err
	}
	if err := u.client.CommitContentFile(ctx, appID, versionID, fileID, dt, encInfo); err != nil {
		return err
	}
	if err := u.waitForCommit(ctx, appID, versionID, fileID, dt); err != nil {
		return err
	}
	return u.client.CommitApp(ctx, appID, versionID, dt)
}

// uploadBlocks PUTs the encrypted file in fixed-size blocks and commits the
// ordered block list. Each block gets up to three attempts with a linear
// backoff before the whole upload fails.
func (u *Uploader) uploadBlocks(ctx context.Context, uploadURL, encPath string, total int64) error {
	f, err := os.Open(encPath)
	if err != nil {
		return errors.Wrap(err, "open encrypted artifact")
	}
	defer f.Close()

	var (
		blockIDs []string
		uploaded int64
		buf      = make([]byte, u.chunkSize)
	)
	for i := 0; ; i++ {
		n, rerr := io.ReadFull(f, buf)
		if n == 0 {
			break
		}
		if rerr != nil && rerr != io.EOF && rerr != io.ErrUnexpectedEOF {
			return errors.Wrap(rerr, "read encrypted artifact")
		}
		blockID := base64.StdEncoding.EncodeToString([]byte(fmt.Sprintf("block-%04d", i)))
		if err := u.putBlock(ctx, uploadURL, blockID, buf[:n]); err != nil {
			return err
		}
		blockIDs = append(blockIDs, blockID)
		uploaded += int64(n)
		if u.progress != nil {
			u.progress(uploaded, total)
		}
		if rerr != nil {
			break
		}
	}
	return u.commitBlockList(ctx, uploadURL, blockIDs)
}

func (u *Uploader) putBlock(ctx context.Context, uploadURL, blockID string, data []byte) error {
	blockURL := uploadURL + "&comp=block&blockid=" + url.QueryEscape(blockID)
	var lastErr error
	for attempt := 1; attempt <= maxBlockAttempts; attempt++ {
		if attempt > 1 {
			u.sleep(time.Duration(attempt-1) * blockBackoffUnit)
		}
		req, err := http.NewRequestWithContext(ctx, "PUT", blockURL, bytes.NewReader(data))
		if err != nil {
			return errors.Wrap(err, "build block request")
		}
		req.Header.Set("x-ms-blob-type", "BlockBlob")
		resp, err := u.http.Do(req)
		if err != nil {
			lastErr = err
			u.logger.Log("msg", "block upload attempt failed", "attempt", attempt, "err", err)
			continue
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if resp.StatusCode == http.StatusCreated || resp.StatusCode == http.StatusOK {
			return nil
		}
		lastErr = errors.Errorf("block upload returned %s", resp.Status)
		u.logger.Log("msg", "block upload attempt failed", "attempt", attempt, "status", resp.Status)
	}
	return errors.Wrap(lastErr, "block upload exhausted retries")
}

func (u *Uploader) commitBlockList(ctx context.Context, uploadURL string, blockIDs []string) error {
	var body bytes.Buffer
	body.WriteString(`<?xml version="1.0" encoding="utf-8"?><BlockList>`)
	for _, id := range blockIDs {
		body.WriteString("<Latest>")
		body.WriteString(id)
		body.WriteString("</Latest>")
	}
	body.WriteString("</BlockList>")

	req, err := http.NewRequestWithContext(ctx, "PUT", uploadURL+"&comp=blocklist", &body)
	if err != nil {
		return errors.Wrap(err, "build block list request")
	}
	resp, err := u.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "commit block list")
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusCreated {
		return errors.Errorf("block list commit returned %s", resp.Status)
	}
	return nil
}

func (u *Uploader) waitForStorageURI(ctx context.Context, appID, versionID, fileID string, dt label.DeploymentType) (string, error) {
	for attempt := 0; attempt < maxPollAttempts; attempt++ {
		if attempt > 0 {
			u.sleep(pollInterval)
		}
		status, err := u.client.ContentFileStatus(ctx, appID, versionID, fileID, dt)
		if err != nil {
			return "", err
		}
		if status.AzureStorageURI != "" {
			return status.AzureStorageURI, nil
		}
	}
	return "", errors.Wrap(ErrUploadTimeout, "no storage uri issued")
}

func (u *Uploader) waitForCommit(ctx context.Context, appID, versionID, fileID string, dt label.DeploymentType) error {
	for attempt := 0; attempt < maxPollAttempts; attempt++ {
		if attempt > 0 {
			u.sleep(pollInterval)
		}
		status, err := u.client.ContentFileStatus(ctx, appID, versionID, fileID, dt)
		if err != nil {
			return err
		}
		switch status.UploadState {
		case catalog.UploadStateCommitSuccess:
			return nil
		case catalog.UploadStateCommitFailed:
			return &CommitError{Code: status.ErrorCode, Description: status.ErrorMessage}
		}
	}
	return ErrUploadTimeout
}
