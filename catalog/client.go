package catalog

import (
	"context"

	"github.com/gilburns/intuneomator/label"
)

// Client is the catalog API surface the pipeline depends on. The production
// implementation talks to Microsoft Graph; tests substitute fakes.
type Client interface {
	// FindByTrackingID returns every catalog record whose notes carry the
	// tracking ID. Order is whatever the service returns; the reconciler
	// sorts explicitly.
	FindByTrackingID(ctx context.Context, trackingID string) ([]AppRecord, error)

	// CreateApp creates a new catalog entry and returns its id.
	CreateApp(ctx context.Context, meta AppMetadata) (string, error)

	// CreateContentVersion opens a new content version for an app.
	CreateContentVersion(ctx context.Context, appID string, dt label.DeploymentType) (string, error)

	// CreateContentFile registers the artifact file and returns its id.
	CreateContentFile(ctx context.Context, appID, versionID string, dt label.DeploymentType, file ContentFile) (string, error)

	// ContentFileStatus reads the upload state and storage URI of a file.
	ContentFileStatus(ctx context.Context, appID, versionID, fileID string, dt label.DeploymentType) (*FileStatus, error)

	// CommitContentFile submits the encryption info to finalize a file.
	CommitContentFile(ctx context.Context, appID, versionID, fileID string, dt label.DeploymentType, enc FileEncryptionInfo) error

	// CommitApp marks the content version as the committed one.
	CommitApp(ctx context.Context, appID, versionID string, dt label.DeploymentType) error

	// RemoveAssignments deletes every group assignment of an app.
	RemoveAssignments(ctx context.Context, appID string) error

	// AssignGroups sets the group assignments of an app.
	AssignGroups(ctx context.Context, appID string, groups []label.Assignment) error

	// DeleteApp removes a catalog entry.
	DeleteApp(ctx context.Context, appID string) error
}
