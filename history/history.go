// Package history records the outcome of every label run in a local bolt
// database and writes the .uploaded sidecar external consumers read.
package history

import (
	"encoding/json"
	"time"

	"github.com/boltdb/bolt"
	"github.com/pkg/errors"
)

// RunRecord is one completed pipeline run for a label.
type RunRecord struct {
	Label     string        `json:"label"`
	Version   string        `json:"version,omitempty"`
	Success   bool          `json:"success"`
	Skipped   bool          `json:"skipped,omitempty"`
	Message   string        `json:"message,omitempty"`
	SizeBytes int64         `json:"sizeBytes,omitempty"`
	Took      time.Duration `json:"took"`
	Time      time.Time     `json:"time"`
}

// Datastore stores run records.
type Datastore interface {
	SaveRun(rec *RunRecord) error
	Runs(labelName string) ([]RunRecord, error)
	LastRun(labelName string) (*RunRecord, error)
}

const runsBucket = "runs"

// Service is a bolt-backed run history datastore.
type Service struct {
	*bolt.DB
}

// NewDB opens (or creates) the bolt database at path.
func NewDB(path string) (*Service, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, errors.Wrap(err, "open history db")
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(runsBucket))
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "create history bucket")
	}
	return &Service{db}, nil
}

// SaveRun appends a run record under its label, keyed by timestamp so a
// cursor walk returns runs in order.
func (svc *Service) SaveRun(rec *RunRecord) error {
	if rec.Time.IsZero() {
		rec.Time = time.Now().UTC()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "encode run record")
	}
	return svc.Update(func(tx *bolt.Tx) error {
		root := tx.Bucket([]byte(runsBucket))
		bucket, err := root.CreateBucketIfNotExists([]byte(rec.Label))
		if err != nil {
			return errors.Wrap(err, "create label bucket")
		}
		return bucket.Put([]byte(rec.Time.Format(time.RFC3339Nano)), data)
	})
}

// Runs returns every recorded run for a label, oldest first.
func (svc *Service) Runs(labelName string) ([]RunRecord, error) {
	var records []RunRecord
	err := svc.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(runsBucket)).Bucket([]byte(labelName))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			var rec RunRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			records = append(records, rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// LastRun returns the most recent run for a label, or nil when none exists.
func (svc *Service) LastRun(labelName string) (*RunRecord, error) {
	var rec *RunRecord
	err := svc.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(runsBucket)).Bucket([]byte(labelName))
		if bucket == nil {
			return nil
		}
		_, v := bucket.Cursor().Last()
		if v == nil {
			return nil
		}
		rec = new(RunRecord)
		return json.Unmarshal(v, rec)
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}
