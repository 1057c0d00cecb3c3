package label

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
)

// Datastore provides access to the managed label folders on disk.
type Datastore interface {
	// Ready returns every automation-ready label folder, sorted by name.
	Ready() ([]Definition, error)

	// Find returns the definition for a single folder name.
	Find(folder string) (Definition, error)

	// Metadata reads the metadata.json sidecar for a folder.
	Metadata(folder string) (*Metadata, error)

	// Assignments reads the assignments.json sidecar. A missing file means
	// the title simply has no group assignments.
	Assignments(folder string) ([]Assignment, error)

	// FolderPath returns the absolute path of a label folder.
	FolderPath(folder string) string
}

type fsDatastore struct {
	root string // the ManagedTitles directory
}

// NewDatastore returns a Datastore backed by the ManagedTitles directory.
func NewDatastore(root string) Datastore {
	return &fsDatastore{root: root}
}

func (ds *fsDatastore) FolderPath(folder string) string {
	return filepath.Join(ds.root, folder)
}

func (ds *fsDatastore) Find(folder string) (Definition, error) {
	def, err := ParseFolderName(folder)
	if err != nil {
		return Definition{}, err
	}
	if _, err := os.Stat(ds.FolderPath(folder)); err != nil {
		return Definition{}, errors.Wrapf(err, "label folder %q", folder)
	}
	return def, nil
}

// Ready scans the ManagedTitles directory. A folder is automation-ready when
// its name parses and it contains both the label plist and metadata.json.
func (ds *fsDatastore) Ready() ([]Definition, error) {
	entries, err := os.ReadDir(ds.root)
	if err != nil {
		return nil, errors.Wrap(err, "scan managed titles")
	}
	var defs []Definition
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		def, err := ParseFolderName(e.Name())
		if err != nil {
			continue
		}
		dir := ds.FolderPath(e.Name())
		if _, err := os.Stat(filepath.Join(dir, def.Name+".plist")); err != nil {
			continue
		}
		if _, err := os.Stat(filepath.Join(dir, "metadata.json")); err != nil {
			continue
		}
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].FolderName() < defs[j].FolderName() })
	return defs, nil
}

func (ds *fsDatastore) Metadata(folder string) (*Metadata, error) {
	data, err := os.ReadFile(filepath.Join(ds.FolderPath(folder), "metadata.json"))
	if err != nil {
		return nil, errors.Wrapf(err, "read metadata for %q", folder)
	}
	var md Metadata
	if err := json.Unmarshal(data, &md); err != nil {
		return nil, errors.Wrapf(err, "decode metadata for %q", folder)
	}
	return &md, nil
}

func (ds *fsDatastore) Assignments(folder string) ([]Assignment, error) {
	data, err := os.ReadFile(filepath.Join(ds.FolderPath(folder), "assignments.json"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read assignments for %q", folder)
	}
	var groups []Assignment
	if err := json.Unmarshal(data, &groups); err != nil {
		return nil, errors.Wrapf(err, "decode assignments for %q", folder)
	}
	return groups, nil
}
