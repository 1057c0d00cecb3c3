package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"

	"github.com/gilburns/intuneomator/auth"
	"github.com/gilburns/intuneomator/label"
)

const defaultGraphURL = "https://graph.microsoft.com/beta"

type graphClient struct {
	baseURL string
	tokens  auth.Provider
	client  *http.Client
	logger  log.Logger
}

type graphConfig struct {
	baseURL string
	client  *http.Client
	logger  log.Logger
}

// GraphOption configures the Graph client.
type GraphOption func(*graphConfig)

// BaseURL overrides the Graph endpoint, used by tests.
func BaseURL(u string) GraphOption {
	return func(c *graphConfig) { c.baseURL = u }
}

// HTTPClient sets the http client.
func HTTPClient(hc *http.Client) GraphOption {
	return func(c *graphConfig) { c.client = hc }
}

// Logger sets the client logger.
func Logger(logger log.Logger) GraphOption {
	return func(c *graphConfig) { c.logger = logger }
}

// NewGraphClient returns a Client backed by the Microsoft Graph API.
func NewGraphClient(tokens auth.Provider, opts ...GraphOption) Client {
	conf := &graphConfig{
		baseURL: defaultGraphURL,
		client:  http.DefaultClient,
		logger:  log.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(conf)
	}
	return &graphClient{
		baseURL: conf.baseURL,
		tokens:  tokens,
		client:  conf.client,
		logger:  conf.logger,
	}
}

// odataType maps a deployment type onto the Graph mobile app resource type.
func odataType(dt label.DeploymentType) string {
	switch dt {
	case label.DeployDMG:
		return "microsoft.graph.macOSDmgApp"
	case label.DeployPKG:
		return "microsoft.graph.macOSPkgApp"
	default:
		return "microsoft.graph.macOSLobApp"
	}
}

func (g *graphClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	tok, err := g.tokens.Token(ctx)
	if err != nil {
		return err
	}
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "encode graph request")
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, rd)
	if err != nil {
		return errors.Wrap(err, "build graph request")
	}
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "graph %s %s", method, path)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return errors.Errorf("graph %s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "decode graph response")
	}
	return nil
}

func (g *graphClient) FindByTrackingID(ctx context.Context, trackingID string) ([]AppRecord, error) {
	filter := url.QueryEscape(fmt.Sprintf("startswith(notes,'%s')", trackingID))
	path := "/deviceAppManagement/mobileApps?$filter=" + filter
	var records []AppRecord
	for path != "" {
		var page struct {
			Value    []AppRecord `json:"value"`
			NextLink string      `json:"@odata.nextLink"`
		}
		if err := g.do(ctx, "GET", path, nil, &page); err != nil {
			return nil, err
		}
		records = append(records, page.Value...)
		path = strings.TrimPrefix(page.NextLink, g.baseURL)
		if path == page.NextLink {
			// absolute link to another host; stop rather than loop.
			path = ""
		}
	}
	return records, nil
}

func (g *graphClient) CreateApp(ctx context.Context, meta AppMetadata) (string, error) {
	minOS := meta.MinimumOS
	if minOS == "" {
		minOS = "v11_0"
	}
	body := map[string]interface{}{
		"@odata.type":            "#" + odataType(meta.Deployment),
		"displayName":            meta.DisplayName,
		"publisher":              meta.Publisher,
		"description":            meta.Description,
		"fileName":               meta.FileName,
		"notes":                  meta.TrackingID,
		"ignoreVersionDetection": meta.IgnoreVersion,
		"minimumSupportedOperatingSystem": map[string]bool{
			minOS: true,
		},
	}
	switch meta.Deployment {
	case label.DeployLOB:
		body["bundleId"] = meta.BundleID
		body["buildNumber"] = meta.BundleVersion
		body["versionNumber"] = meta.BundleVersion
	default:
		body["primaryBundleId"] = meta.BundleID
		body["primaryBundleVersion"] = meta.BundleVersion
		body["includedApps"] = []map[string]string{{
			"@odata.type":   "#microsoft.graph.macOSIncludedApp",
			"bundleId":      meta.BundleID,
			"bundleVersion": meta.BundleVersion,
		}}
	}
	var created struct {
		ID string `json:"id"`
	}
	if err := g.do(ctx, "POST", "/deviceAppManagement/mobileApps", body, &created); err != nil {
		return "", err
	}
	return created.ID, nil
}

func (g *graphClient) CreateContentVersion(ctx context.Context, appID string, dt label.DeploymentType) (string, error) {
	path := fmt.Sprintf("/deviceAppManagement/mobileApps/%s/%s/contentVersions", appID, odataType(dt))
	var created struct {
		ID string `json:"id"`
	}
	if err := g.do(ctx, "POST", path, map[string]string{}, &created); err != nil {
		return "", err
	}
	return created.ID, nil
}

func (g *graphClient) CreateContentFile(ctx context.Context, appID, versionID string, dt label.DeploymentType, file ContentFile) (string, error) {
	path := fmt.Sprintf("/deviceAppManagement/mobileApps/%s/%s/contentVersions/%s/files", appID, odataType(dt), versionID)
	body := map[string]interface{}{
		"@odata.type":   "#microsoft.graph.mobileAppContentFile",
		"name":          file.Name,
		"size":          file.Size,
		"sizeEncrypted": file.SizeEncrypted,
		"manifest":      nil,
	}
	var created struct {
		ID string `json:"id"`
	}
	if err := g.do(ctx, "POST", path, body, &created); err != nil {
		return "", err
	}
	return created.ID, nil
}

func (g *graphClient) ContentFileStatus(ctx context.Context, appID, versionID, fileID string, dt label.DeploymentType) (*FileStatus, error) {
	path := fmt.Sprintf("/deviceAppManagement/mobileApps/%s/%s/contentVersions/%s/files/%s", appID, odataType(dt), versionID, fileID)
	var status FileStatus
	if err := g.do(ctx, "GET", path, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func (g *graphClient) CommitContentFile(ctx context.Context, appID, versionID, fileID string, dt label.DeploymentType, enc FileEncryptionInfo) error {
	path := fmt.Sprintf("/deviceAppManagement/mobileApps/%s/%s/contentVersions/%s/files/%s/commit", appID, odataType(dt), versionID, fileID)
	body := map[string]interface{}{
		"fileEncryptionInfo": enc,
	}
	return g.do(ctx, "POST", path, body, nil)
}

func (g *graphClient) CommitApp(ctx context.Context, appID, versionID string, dt label.DeploymentType) error {
	body := map[string]string{
		"@odata.type":             "#" + odataType(dt),
		"committedContentVersion": versionID,
	}
	return g.do(ctx, "PATCH", "/deviceAppManagement/mobileApps/"+appID, body, nil)
}

func (g *graphClient) RemoveAssignments(ctx context.Context, appID string) error {
	var page struct {
		Value []struct {
			ID string `json:"id"`
		} `json:"value"`
	}
	if err := g.do(ctx, "GET", "/deviceAppManagement/mobileApps/"+appID+"/assignments", nil, &page); err != nil {
		return err
	}
	for _, a := range page.Value {
		path := fmt.Sprintf("/deviceAppManagement/mobileApps/%s/assignments/%s", appID, a.ID)
		if err := g.do(ctx, "DELETE", path, nil, nil); err != nil {
			return err
		}
	}
	return nil
}

func (g *graphClient) AssignGroups(ctx context.Context, appID string, groups []label.Assignment) error {
	assignments := make([]map[string]interface{}, 0, len(groups))
	for _, grp := range groups {
		target := map[string]interface{}{
			"@odata.type": "#microsoft.graph.groupAssignmentTarget",
			"groupId":     grp.GroupID,
		}
		if grp.FilterID != "" {
			target["deviceAndAppManagementAssignmentFilterId"] = grp.FilterID
			target["deviceAndAppManagementAssignmentFilterType"] = grp.FilterMode
		}
		assignments = append(assignments, map[string]interface{}{
			"@odata.type": "#microsoft.graph.mobileAppAssignment",
			"intent":      grp.Intent,
			"target":      target,
		})
	}
	body := map[string]interface{}{"mobileAppAssignments": assignments}
	return g.do(ctx, "POST", "/deviceAppManagement/mobileApps/"+appID+"/assign", body, nil)
}

func (g *graphClient) DeleteApp(ctx context.Context, appID string) error {
	return g.do(ctx, "DELETE", "/deviceAppManagement/mobileApps/"+appID, nil, nil)
}
