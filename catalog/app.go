// Package catalog talks to the Intune app catalog through the Microsoft
// Graph API and reconciles uploaded versions against it.
package catalog

import (
	"time"

	"github.com/gilburns/intuneomator/label"
)

// AppRecord is one catalog entry as seen by the reconciler. Multiple records
// may share the same tracking ID when several versions coexist.
type AppRecord struct {
	ID                   string    `json:"id"`
	DisplayName          string    `json:"displayName"`
	PrimaryBundleVersion string    `json:"primaryBundleVersion"`
	IsAssigned           bool      `json:"isAssigned"`
	CreatedDateTime      time.Time `json:"createdDateTime"`
	Notes                string    `json:"notes"`
}

// AppMetadata holds everything needed to create a new catalog entry.
type AppMetadata struct {
	DisplayName   string
	Publisher     string
	Description   string
	BundleID      string
	BundleVersion string
	FileName      string
	TrackingID    string
	Deployment    label.DeploymentType
	IgnoreVersion bool
	MinimumOS     string
}

// ContentFile describes the artifact file attached to a content version.
type ContentFile struct {
	Name          string `json:"name"`
	Size          int64  `json:"size"`
	SizeEncrypted int64  `json:"sizeEncrypted"`
}

// Upload states reported by the Graph content file resource.
const (
	UploadStatePending       = "azureStorageUriRequestPending"
	UploadStateURIReady      = "azureStorageUriRequestSuccess"
	UploadStateCommitPending = "commitFilePending"
	UploadStateCommitSuccess = "commitFileSuccess"
	UploadStateCommitFailed  = "commitFileFailed"
)

// FileStatus is the polled state of a content file.
type FileStatus struct {
	UploadState     string `json:"uploadState"`
	AzureStorageURI string `json:"azureStorageUri"`
	ErrorCode       string `json:"errorCode,omitempty"`
	ErrorMessage    string `json:"errorMessage,omitempty"`
}

// FileEncryptionInfo carries the secrets the Intune service needs to decrypt
// an uploaded artifact. Never logged.
type FileEncryptionInfo struct {
	EncryptionKey        string `json:"encryptionKey"`
	MacKey               string `json:"macKey"`
	InitializationVector string `json:"initializationVector"`
	Mac                  string `json:"mac"`
	ProfileIdentifier    string `json:"profileIdentifier"`
	FileDigest           string `json:"fileDigest"`
	FileDigestAlgorithm  string `json:"fileDigestAlgorithm"`
}
