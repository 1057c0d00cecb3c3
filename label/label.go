// Package label manages software label definitions: the folder layout under
// ManagedTitles, the metadata and assignment sidecar files, and the plist
// manifest produced by running a label's resolution script.
package label

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	uuid "github.com/satori/go.uuid"
)

// DeploymentType selects the artifact format uploaded to Intune.
type DeploymentType int

const (
	DeployDMG DeploymentType = iota
	DeployPKG
	DeployLOB
)

func (t DeploymentType) String() string {
	switch t {
	case DeployDMG:
		return "dmg"
	case DeployPKG:
		return "pkg"
	case DeployLOB:
		return "lob"
	}
	return fmt.Sprintf("deploymentType(%d)", int(t))
}

// Ext returns the file extension of artifacts built for this deployment type.
func (t DeploymentType) Ext() string {
	if t == DeployDMG {
		return "dmg"
	}
	return "pkg"
}

// Arch identifies the CPU architecture an artifact is built for.
type Arch int

const (
	ArchARM64 Arch = iota
	ArchX86_64
	ArchUniversal
)

func (a Arch) String() string {
	switch a {
	case ArchARM64:
		return "arm64"
	case ArchX86_64:
		return "x86_64"
	case ArchUniversal:
		return "universal"
	}
	return fmt.Sprintf("arch(%d)", int(a))
}

// Definition identifies one managed software title. The folder name under
// ManagedTitles encodes both parts: "<name>_<trackingID>".
type Definition struct {
	Name       string
	TrackingID string
}

// FolderName returns the on-disk folder name for the definition.
func (d Definition) FolderName() string {
	return d.Name + "_" + d.TrackingID
}

// ParseFolderName splits a ManagedTitles folder name into a Definition.
// The tracking ID must be a valid GUID; label names themselves may contain
// underscores, so the GUID is taken from the last separator.
func ParseFolderName(folder string) (Definition, error) {
	i := strings.LastIndex(folder, "_")
	if i <= 0 || i == len(folder)-1 {
		return Definition{}, errors.Errorf("label folder %q: missing tracking id", folder)
	}
	def := Definition{Name: folder[:i], TrackingID: folder[i+1:]}
	if _, err := uuid.FromString(def.TrackingID); err != nil {
		return Definition{}, errors.Wrapf(err, "label folder %q: bad tracking id", folder)
	}
	return def, nil
}

// Assignment describes one Intune group assignment for a title.
type Assignment struct {
	GroupID     string `json:"groupId"`
	DisplayName string `json:"displayName,omitempty"`
	Intent      string `json:"intent"` // required | available | uninstall
	FilterID    string `json:"filterId,omitempty"`
	FilterMode  string `json:"filterMode,omitempty"`
}

// Metadata holds the per-title deployment settings stored in metadata.json.
type Metadata struct {
	DisplayName    string         `json:"displayName"`
	Publisher      string         `json:"publisher,omitempty"`
	Description    string         `json:"description,omitempty"`
	DeploymentType DeploymentType `json:"deploymentTypeTag"`
	DeployAsArch   Arch           `json:"deployAsArchTag"`
	DualArch       bool           `json:"deployAsDualArch"`
	VersionsToKeep int            `json:"versionsToKeep,omitempty"`
	Categories     []string       `json:"categories,omitempty"`
	IgnoreVersion  bool           `json:"ignoreVersionDetection,omitempty"`
}
