package catalog

import (
	"context"
	"sort"

	"github.com/go-kit/kit/log"
)

// Reconciler compares the local pipeline state against the remote catalog
// and prunes superseded versions after a confirmed upload.
type Reconciler struct {
	client Client
	logger log.Logger
}

// NewReconciler creates a Reconciler.
func NewReconciler(client Client, logger log.Logger) *Reconciler {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Reconciler{client: client, logger: logger}
}

// IsVersionPresent reports whether any record sharing the tracking ID
// already carries exactly this version string. Used both before download
// (against the manifest's expected version) and after the build (against the
// extracted version), since the two can diverge.
func (r *Reconciler) IsVersionPresent(ctx context.Context, trackingID, version string) (bool, error) {
	if version == "" {
		return false, nil
	}
	records, err := r.client.FindByTrackingID(ctx, trackingID)
	if err != nil {
		return false, err
	}
	for _, rec := range records {
		if rec.PrimaryBundleVersion == version {
			return true, nil
		}
	}
	return false, nil
}

// PruneOldVersions runs after a confirmed successful upload. Every assigned
// record whose version differs from newVersion loses its assignments, so
// only the newest version remains live. Then the excess oldest records are
// deleted, where excess = max(0, total-keep); records that were assigned
// before pruning are never deleted, and the deletion count is not backfilled
// from newer unassigned records.
//
// Records are re-fetched and sorted oldest to newest here rather than
// trusting the service's response order.
//
// Returns the number of records remaining in the catalog.
func (r *Reconciler) PruneOldVersions(ctx context.Context, trackingID, newVersion string, keep int) (int, error) {
	records, err := r.client.FindByTrackingID(ctx, trackingID)
	if err != nil {
		return 0, err
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedDateTime.Before(records[j].CreatedDateTime)
	})

	for _, rec := range records {
		if rec.PrimaryBundleVersion == newVersion || !rec.IsAssigned {
			continue
		}
		if err := r.client.RemoveAssignments(ctx, rec.ID); err != nil {
			return 0, err
		}
		r.logger.Log("msg", "unassigned superseded version", "app", rec.ID, "version", rec.PrimaryBundleVersion)
	}

	excess := len(records) - keep
	deleted := 0
	for i := 0; i < excess && i < len(records); i++ {
		rec := records[i]
		if rec.IsAssigned || rec.PrimaryBundleVersion == newVersion {
			continue
		}
		if err := r.client.DeleteApp(ctx, rec.ID); err != nil {
			return 0, err
		}
		deleted++
		r.logger.Log("msg", "deleted old version", "app", rec.ID, "version", rec.PrimaryBundleVersion)
	}
	return len(records) - deleted, nil
}
