package agent

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/plfm/plfm/pkg/plan"
	"github.com/plfm/plfm/pkg/types"
)

var (
	// Bucket names
	bucketIdentity   = []byte("identity")
	bucketWorkloads  = []byte("workloads")
	bucketBootStatus = []byte("boot_status")
)

var identityKey = []byte("node")

// Identity is the node's enrollment result, persisted so restarts do
// not re-enroll.
type Identity struct {
	NodeID          string `json:"nodeId"`
	OverlayIPv6     string `json:"overlayIpv6"`
	NodeToken       string `json:"nodeToken"`
	WireGuardPubKey string `json:"wireguardPubKey"`
}

// BootRecord tracks the last reported status per instance so the agent
// only reports transitions.
type BootRecord struct {
	BootID    string               `json:"bootId"`
	Status    types.InstanceStatus `json:"status"`
	UpdatedAt time.Time            `json:"updatedAt"`
}

// Store is the agent's local BoltDB state
type Store struct {
	db *bolt.DB
}

// NewStore opens the agent database under dataDir
func NewStore(dataDir string) (*Store, error) {
	dbPath := filepath.Join(dataDir, "agent.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{bucketIdentity, bucketWorkloads, bucketBootStatus}
		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveIdentity persists the enrollment result
func (s *Store) SaveIdentity(id *Identity) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(id)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketIdentity).Put(identityKey, data)
	})
}

// LoadIdentity returns the stored identity, or nil before enrollment
func (s *Store) LoadIdentity() (*Identity, error) {
	var id *Identity
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketIdentity).Get(identityKey)
		if data == nil {
			return nil
		}
		id = &Identity{}
		return json.Unmarshal(data, id)
	})
	return id, err
}

// PutWorkload records an applied workload keyed by instance id
func (s *Store) PutWorkload(w *plan.Workload) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(w)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketWorkloads).Put([]byte(w.InstanceID), data)
	})
}

// GetWorkload returns one applied workload, or nil
func (s *Store) GetWorkload(instanceID string) (*plan.Workload, error) {
	var w *plan.Workload
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketWorkloads).Get([]byte(instanceID))
		if data == nil {
			return nil
		}
		w = &plan.Workload{}
		return json.Unmarshal(data, w)
	})
	return w, err
}

// ListWorkloads returns every applied workload
func (s *Store) ListWorkloads() ([]*plan.Workload, error) {
	var workloads []*plan.Workload
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketWorkloads).ForEach(func(k, v []byte) error {
			var w plan.Workload
			if err := json.Unmarshal(v, &w); err != nil {
				return err
			}
			workloads = append(workloads, &w)
			return nil
		})
	})
	return workloads, err
}

// DeleteWorkload removes an applied workload and its boot record
func (s *Store) DeleteWorkload(instanceID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketWorkloads).Delete([]byte(instanceID)); err != nil {
			return err
		}
		return tx.Bucket(bucketBootStatus).Delete([]byte(instanceID))
	})
}

// PutBootRecord upserts the last reported status for an instance
func (s *Store) PutBootRecord(instanceID string, rec *BootRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketBootStatus).Put([]byte(instanceID), data)
	})
}

// GetBootRecord returns the last reported status, or nil
func (s *Store) GetBootRecord(instanceID string) (*BootRecord, error) {
	var rec *BootRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketBootStatus).Get([]byte(instanceID))
		if data == nil {
			return nil
		}
		rec = &BootRecord{}
		return json.Unmarshal(data, rec)
	})
	return rec, err
}
