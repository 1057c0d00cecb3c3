package pipeline

import (
	"context"
	"os"
	"path/filepath"

	"github.com/gilburns/intuneomator/catalog"
	"github.com/gilburns/intuneomator/history"
	"github.com/gilburns/intuneomator/inspect"
	"github.com/gilburns/intuneomator/label"
	"github.com/gilburns/intuneomator/notify"
	"github.com/gilburns/intuneomator/pkgbuild"
)

// run is the mutable working record threaded through the stages of one
// label run.
type run struct {
	folder      string
	def         label.Definition
	md          *label.Metadata
	assignments []label.Assignment
	manifest    label.Manifest
	dualArch    bool
	keep        int

	tmpDir           string
	payload          string
	payloadSecondary string
	version          string
	artifact         string
	sizeBytes        int64
	archs            []notify.ArchDetail

	// preChecked is the version the catalog was already queried for, so
	// the post-build check is skipped when nothing changed.
	preChecked string

	appID      string
	createdApp bool
}

// processLabel is the pipeline state machine. Stages run in strict sequence
// and the first classified error short-circuits the rest; the caller
// converts it into a per-label Outcome.
func (svc *service) processLabel(ctx context.Context, folderName string) Outcome {
	r := &run{folder: folderName}

	stages := []func(context.Context, *run) *Error{
		svc.resolveLabel,
		svc.runLabelScript,
		svc.preflightCatalogCheck,
		svc.acquireArtifact,
		svc.postBuildCatalogCheck,
		svc.uploadArtifact,
		svc.reconcileCatalog,
	}
	var failure *Error
	for _, stage := range stages {
		if err := stage(ctx, r); err != nil {
			failure = err
			break
		}
		if r.skipped() {
			break
		}
	}
	svc.cleanupTmp(r)

	out := Outcome{
		Label:     folderName,
		Version:   r.version,
		SizeBytes: r.sizeBytes,
		Archs:     r.archs,
	}
	if r.md != nil {
		out.DisplayName = r.md.DisplayName
	}
	switch {
	case failure != nil:
		out.Message = failure.Error()
		svc.logger.Log("label", folderName, "stage", failure.Op, "kind", failure.Kind.String(), "err", failure.Err)
	case r.skipped():
		out.Skipped = true
		out.Success = true
		out.Message = "version already in catalog"
	default:
		out.Success = true
	}
	return out
}

// skipped reports whether a catalog check decided the current version is
// already present.
func (r *run) skipped() bool {
	return r.preChecked != "" && r.preChecked == r.version && r.artifact == ""
}

func (svc *service) resolveLabel(ctx context.Context, r *run) *Error {
	def, err := svc.labels.Find(r.folder)
	if err != nil {
		return E(KindConfig, "resolve label", err)
	}
	r.def = def
	md, err := svc.labels.Metadata(def.FolderName())
	if err != nil {
		return E(KindConfig, "read metadata", err)
	}
	r.md = md
	r.keep = md.VersionsToKeep
	if r.keep <= 0 {
		r.keep = svc.keep
	}
	groups, err := svc.labels.Assignments(def.FolderName())
	if err != nil {
		return E(KindConfig, "read assignments", err)
	}
	r.assignments = groups
	return nil
}

func (svc *service) runLabelScript(ctx context.Context, r *run) *Error {
	manifestPath, secondaryPath, err := svc.scripts.Run(ctx, r.def)
	if err != nil {
		return E(KindConfig, "run label script", err)
	}
	m, err := label.ReadManifest(manifestPath, secondaryPath)
	if err != nil {
		return E(KindConfig, "read manifest", err)
	}
	if err := m.Validate(); err != nil {
		return E(KindConfig, "validate manifest", err)
	}
	r.manifest = m
	r.dualArch = r.md.DualArch && m.DownloadURLSecondary != ""
	return nil
}

// preflightCatalogCheck short-circuits the run when the manifest already
// declares a version known to the catalog. The declared version can be
// stale, so a second check runs after the build against the version actually
// extracted.
func (svc *service) preflightCatalogCheck(ctx context.Context, r *run) *Error {
	expected := r.manifest.ExpectedVersion
	if expected == "" {
		return nil
	}
	present, err := svc.reconciler.IsVersionPresent(ctx, r.def.TrackingID, expected)
	if err != nil {
		return E(KindNetwork, "catalog pre-check", err)
	}
	r.preChecked = expected
	if present {
		r.version = expected
		svc.logger.Log("label", r.def.Name, "msg", "expected version already in catalog", "version", expected)
	}
	return nil
}

// acquireArtifact either reuses a cached artifact or runs the
// download/extract/verify/build chain.
func (svc *service) acquireArtifact(ctx context.Context, r *run) *Error {
	req := r.buildRequest(r.manifest.ExpectedVersion)
	if r.manifest.ExpectedVersion != "" {
		if path, ok := svc.store.Lookup(r.def.Name, req); ok {
			// the filename-encoded version is authoritative on a hit.
			r.artifact = path
			r.version = r.manifest.ExpectedVersion
			if fi, err := os.Stat(path); err == nil {
				r.sizeBytes = fi.Size()
			}
			svc.logger.Log("label", r.def.Name, "msg", "cache hit", "artifact", filepath.Base(path))
			return nil
		}
	}
	if err := svc.downloadAndExtract(ctx, r); err != nil {
		return err
	}
	if err := svc.verifyAndVersion(ctx, r); err != nil {
		return err
	}
	return nil
}

func (svc *service) downloadAndExtract(ctx context.Context, r *run) *Error {
	tmp, err := svc.store.TmpDir(r.def.Name)
	if err != nil {
		return E(KindConfig, "create tmp dir", err)
	}
	r.tmpDir = tmp

	primary, err := svc.download(ctx, r.manifest.DownloadURL, tmp, "primary")
	if err != nil {
		return E(KindNetwork, "download", err)
	}
	payload, err := svc.extractor.Extract(ctx, primary, r.manifest.ArchiveType)
	if err != nil {
		return E(KindExtract, "extract", err)
	}
	r.payload = payload

	if r.dualArch {
		secondary, err := svc.download(ctx, r.manifest.DownloadURLSecondary, tmp, "secondary")
		if err != nil {
			return E(KindNetwork, "download secondary", err)
		}
		payload2, err := svc.extractor.Extract(ctx, secondary, r.manifest.ArchiveType)
		if err != nil {
			return E(KindExtract, "extract secondary", err)
		}
		r.payloadSecondary = payload2
	}
	return nil
}

// verifyAndVersion checks signing identity, extracts versions and builds the
// final artifact.
func (svc *service) verifyAndVersion(ctx context.Context, r *run) *Error {
	if err := svc.inspector.VerifySignature(ctx, r.payload, r.manifest.ExpectedTeamID); err != nil {
		return E(KindVerification, "verify signature", err)
	}
	version, err := svc.inspector.ExtractVersion(ctx, r.payload, r.manifest.ExpectedBundleID)
	if err != nil {
		return E(KindExtract, "extract version", err)
	}
	if version == inspect.VersionNone && r.manifest.ExpectedVersion != "" {
		svc.logger.Log("label", r.def.Name, "msg", "version unknown, trusting manifest", "version", r.manifest.ExpectedVersion)
		version = r.manifest.ExpectedVersion
	}
	r.version = version
	r.recordArch(svc, r.payload, version)

	if r.payloadSecondary != "" {
		if err := svc.inspector.VerifySignature(ctx, r.payloadSecondary, r.manifest.ExpectedTeamID); err != nil {
			return E(KindVerification, "verify secondary signature", err)
		}
		v2, err := svc.inspector.ExtractVersion(ctx, r.payloadSecondary, r.manifest.ExpectedBundleID)
		if err != nil {
			return E(KindExtract, "extract secondary version", err)
		}
		if v2 != version {
			// known inconsistency: the two slices can report different
			// versions; logged, not fatal.
			svc.logger.Log("level", "warn", "label", r.def.Name, "msg", "dual-arch version mismatch", "primary", version, "secondary", v2)
		}
		r.recordArch(svc, r.payloadSecondary, v2)
		if err := svc.checkDualArchSlices(r); err != nil {
			return err
		}
	}
	return svc.buildArtifact(ctx, r)
}

// checkDualArchSlices validates that a dual-arch download really contains
// two distinct architectures.
func (svc *service) checkDualArchSlices(r *run) *Error {
	if filepath.Ext(r.payload) != ".app" || filepath.Ext(r.payloadSecondary) != ".app" {
		return nil
	}
	a1, err1 := svc.inspector.AppArch(r.payload)
	a2, err2 := svc.inspector.AppArch(r.payloadSecondary)
	if err1 != nil || err2 != nil {
		svc.logger.Log("label", r.def.Name, "msg", "cannot determine payload architecture", "primary_err", err1, "secondary_err", err2)
		return nil
	}
	if a1 == a2 {
		return Ef(KindVerification, "check architectures", "dual-arch payloads both report %s", a1)
	}
	return nil
}

func (svc *service) buildArtifact(ctx context.Context, r *run) *Error {
	destDir, err := svc.store.VersionDir(r.def.Name, r.version)
	if err != nil {
		return E(KindBuild, "create cache dir", err)
	}
	req := r.buildRequest(r.version)
	var artifact string
	if r.payloadSecondary != "" && r.md.DeployAsArch == label.ArchUniversal {
		artifact, err = svc.builder.BuildUniversal(ctx, r.payload, r.payloadSecondary, req, destDir)
	} else {
		artifact, err = svc.builder.Build(ctx, r.payload, req, destDir)
	}
	if err != nil {
		return E(KindBuild, "build artifact", err)
	}
	r.artifact = artifact
	if fi, err := os.Stat(artifact); err == nil {
		r.sizeBytes = fi.Size()
	}
	return nil
}

// postBuildCatalogCheck re-checks the catalog against the version actually
// extracted, unless the pre-check already covered it.
func (svc *service) postBuildCatalogCheck(ctx context.Context, r *run) *Error {
	if r.artifact == "" || r.version == "" {
		return nil
	}
	if r.version == r.preChecked {
		return nil
	}
	present, err := svc.reconciler.IsVersionPresent(ctx, r.def.TrackingID, r.version)
	if err != nil {
		return E(KindNetwork, "catalog post-check", err)
	}
	if present {
		svc.logger.Log("label", r.def.Name, "msg", "extracted version already in catalog", "version", r.version)
		r.preChecked = r.version
		r.artifact = ""
	}
	return nil
}

func (svc *service) uploadArtifact(ctx context.Context, r *run) *Error {
	meta := catalog.AppMetadata{
		DisplayName:   r.md.DisplayName,
		Publisher:     r.md.Publisher,
		Description:   r.md.Description,
		BundleID:      r.manifest.ExpectedBundleID,
		BundleVersion: r.version,
		FileName:      filepath.Base(r.artifact),
		TrackingID:    r.def.TrackingID,
		Deployment:    r.md.DeploymentType,
		IgnoreVersion: r.md.IgnoreVersion,
	}
	appID, err := svc.client.CreateApp(ctx, meta)
	if err != nil {
		return E(KindNetwork, "create app", err)
	}
	r.appID = appID
	r.createdApp = true

	if err := svc.uploader.Send(ctx, appID, r.md.DeploymentType, r.artifact); err != nil {
		svc.rollbackApp(ctx, r)
		return E(uploadKind(err), "upload", err)
	}
	if len(r.assignments) > 0 {
		if err := svc.client.AssignGroups(ctx, appID, r.assignments); err != nil {
			return E(KindNetwork, "assign groups", err)
		}
	}
	return nil
}

func (svc *service) reconcileCatalog(ctx context.Context, r *run) *Error {
	remaining, err := svc.reconciler.PruneOldVersions(ctx, r.def.TrackingID, r.version, r.keep)
	if err != nil {
		// the uploaded app stays; the next scheduled run re-reconciles.
		return E(KindNetwork, "prune old versions", err)
	}
	if err := history.WriteSidecar(svc.labels.FolderPath(r.def.FolderName()), remaining); err != nil {
		svc.logger.Log("label", r.def.Name, "msg", "write sidecar", "err", err)
	}
	return nil
}

// rollbackApp deletes the remote record created for a failed upload.
// Best-effort: its own failure is logged, not re-thrown.
func (svc *service) rollbackApp(ctx context.Context, r *run) {
	if !r.createdApp {
		return
	}
	if err := svc.client.DeleteApp(ctx, r.appID); err != nil {
		svc.logger.Log("label", r.def.Name, "msg", "rollback remote app", "app", r.appID, "err", err)
		return
	}
	svc.logger.Log("label", r.def.Name, "msg", "rolled back remote app", "app", r.appID)
	r.createdApp = false
}

// cleanupTmp removes the per-label scratch directory on every exit path.
func (svc *service) cleanupTmp(r *run) {
	if r.tmpDir == "" {
		return
	}
	if err := os.RemoveAll(r.tmpDir); err != nil {
		svc.logger.Log("label", r.def.Name, "msg", "cleanup tmp", "err", err)
	}
}

func (r *run) buildRequest(version string) pkgbuild.Request {
	arch := r.md.DeployAsArch
	return pkgbuild.Request{
		DisplayName: r.md.DisplayName,
		Version:     version,
		BundleID:    r.manifest.ExpectedBundleID,
		Arch:        arch,
		Deployment:  r.md.DeploymentType,
	}
}

func (r *run) recordArch(svc *service, payload, version string) {
	if filepath.Ext(payload) != ".app" {
		return
	}
	arch, err := svc.inspector.AppArch(payload)
	if err != nil {
		return
	}
	r.archs = append(r.archs, notify.ArchDetail{Arch: arch.String(), Version: version})
}

func uploadKind(err error) Kind {
	switch {
	case isTimeout(err):
		return KindTimeout
	case isCommitFailure(err):
		return KindRemoteProcessing
	}
	return KindNetwork
}
