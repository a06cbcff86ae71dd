// Package storage persists tenant and pinned-server state in an embedded
// bbolt database. Records are JSON-marshaled into buckets; listings come
// back in a stable order so reconciliation sweeps are reproducible.
package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/panelbridge/panelbridge-go/internal/panel"
)

// ErrTenantNotFound is returned when a tenant row does not exist.
var ErrTenantNotFound = errors.New("tenant not found")

// ErrPinnedNotFound is returned when a pinned-server row does not exist.
var ErrPinnedNotFound = errors.New("pinned server not found")

// pinnedKeySep joins tenant id and server id into one bucket key.
const pinnedKeySep = "|"

// BoltStore wraps bolt database operations.
type BoltStore struct {
	db     *bbolt.DB
	logger *zap.Logger
}

// Open opens (or creates) the database under dataDir.
func Open(dataDir string, logger *zap.Logger) (*BoltStore, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	db, err := bbolt.Open(filepath.Join(dataDir, "panelbridge.db"), 0o644, &bbolt.Options{
		Timeout: 10 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database: %w", err)
	}

	store := &BoltStore{db: db, logger: logger}
	if err := store.initBuckets(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}
	logger.Debug("opened database", zap.String("path", db.Path()))
	return store, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) initBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range []string{TenantsBucket, PinnedBucket, MetaBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(bucket)); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		meta := tx.Bucket([]byte(MetaBucket))
		version := make([]byte, 8)
		binary.LittleEndian.PutUint64(version, CurrentSchemaVersion)
		return meta.Put([]byte(SchemaVersionKey), version)
	})
}

// Tenant operations

// GetTenant retrieves a tenant record by id.
func (s *BoltStore) GetTenant(id string) (*TenantRecord, error) {
	var record *TenantRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(TenantsBucket)).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrTenantNotFound, id)
		}
		record = &TenantRecord{}
		return record.UnmarshalBinary(data)
	})
	return record, err
}

// UpsertTenant creates or replaces a tenant's panel configuration. Display
// settings (status target, field preferences) and the creation timestamp
// survive re-setup.
func (s *BoltStore) UpsertTenant(record *TenantRecord) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(TenantsBucket))

		now := time.Now()
		record.Updated = now
		if existing := bucket.Get([]byte(record.ID)); existing != nil {
			var prev TenantRecord
			if err := prev.UnmarshalBinary(existing); err == nil {
				record.Created = prev.Created
				if record.StatusTarget == nil {
					record.StatusTarget = prev.StatusTarget
				}
				if record.FieldPrefs == nil {
					record.FieldPrefs = prev.FieldPrefs
				}
			}
		}
		if record.Created.IsZero() {
			record.Created = now
		}

		data, err := record.MarshalBinary()
		if err != nil {
			return err
		}
		return bucket.Put([]byte(record.ID), data)
	})
}

// updateTenant applies fn to an existing tenant record and persists it.
func (s *BoltStore) updateTenant(id string, fn func(*TenantRecord)) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(TenantsBucket))
		data := bucket.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrTenantNotFound, id)
		}
		record := &TenantRecord{}
		if err := record.UnmarshalBinary(data); err != nil {
			return err
		}
		fn(record)
		record.Updated = time.Now()
		updated, err := record.MarshalBinary()
		if err != nil {
			return err
		}
		return bucket.Put([]byte(id), updated)
	})
}

// UpdateTenantToken stores a new encrypted token and expiry.
func (s *BoltStore) UpdateTenantToken(id string, encryptedToken *string, expiresAt *int64) error {
	return s.updateTenant(id, func(t *TenantRecord) {
		t.EncryptedToken = encryptedToken
		t.TokenExpiresAt = expiresAt
	})
}

// UpdateTenantProtocol records the detected protocol kind.
func (s *BoltStore) UpdateTenantProtocol(id string, protocol panel.Protocol) error {
	return s.updateTenant(id, func(t *TenantRecord) {
		t.Protocol = protocol
	})
}

// UpdateStatusTarget sets or clears the tenant's display target.
func (s *BoltStore) UpdateStatusTarget(id string, target *string) error {
	return s.updateTenant(id, func(t *TenantRecord) {
		t.StatusTarget = target
	})
}

// UpdateFieldPrefs replaces the tenant's field preference map.
func (s *BoltStore) UpdateFieldPrefs(id string, prefs map[string]bool) error {
	return s.updateTenant(id, func(t *TenantRecord) {
		t.FieldPrefs = prefs
	})
}

// DeleteTenant removes a tenant and all of its pinned servers.
func (s *BoltStore) DeleteTenant(id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket([]byte(TenantsBucket)).Delete([]byte(id)); err != nil {
			return err
		}
		return deleteAllPinned(tx, id)
	})
}

// DeleteAllPinned removes every pin a tenant holds.
func (s *BoltStore) DeleteAllPinned(tenantID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return deleteAllPinned(tx, tenantID)
	})
}

func deleteAllPinned(tx *bbolt.Tx, tenantID string) error {
	pins := tx.Bucket([]byte(PinnedBucket))
	prefix := []byte(tenantID + pinnedKeySep)
	cursor := pins.Cursor()
	var stale [][]byte
	for k, _ := cursor.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, _ = cursor.Next() {
		stale = append(stale, append([]byte(nil), k...))
	}
	for _, k := range stale {
		if err := pins.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// ListTenants returns all tenants sorted by id.
func (s *BoltStore) ListTenants() ([]*TenantRecord, error) {
	var records []*TenantRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(TenantsBucket)).ForEach(func(_, v []byte) error {
			record := &TenantRecord{}
			if err := record.UnmarshalBinary(v); err != nil {
				return err
			}
			records = append(records, record)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	return records, nil
}

// Pinned server operations

func pinnedKey(tenantID, serverID string) []byte {
	return []byte(tenantID + pinnedKeySep + serverID)
}

// GetPinned retrieves one pinned-server record.
func (s *BoltStore) GetPinned(tenantID, serverID string) (*PinnedServerRecord, error) {
	var record *PinnedServerRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(PinnedBucket)).Get(pinnedKey(tenantID, serverID))
		if data == nil {
			return fmt.Errorf("%w: %s/%s", ErrPinnedNotFound, tenantID, serverID)
		}
		record = &PinnedServerRecord{}
		return record.UnmarshalBinary(data)
	})
	return record, err
}

// UpsertPinned creates or updates a pinned server. An existing record keeps
// its message id and creation time; only the display name refreshes.
func (s *BoltStore) UpsertPinned(record *PinnedServerRecord) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(PinnedBucket))
		key := pinnedKey(record.TenantID, record.ServerID)

		if existing := bucket.Get(key); existing != nil {
			var prev PinnedServerRecord
			if err := prev.UnmarshalBinary(existing); err == nil {
				record.MessageID = prev.MessageID
				record.Created = prev.Created
			}
		}
		if record.Created.IsZero() {
			record.Created = time.Now()
		}

		data, err := record.MarshalBinary()
		if err != nil {
			return err
		}
		return bucket.Put(key, data)
	})
}

// UpdatePinnedMessageID records the display artifact id for a pin.
func (s *BoltStore) UpdatePinnedMessageID(tenantID, serverID string, messageID *string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(PinnedBucket))
		key := pinnedKey(tenantID, serverID)
		data := bucket.Get(key)
		if data == nil {
			return fmt.Errorf("%w: %s/%s", ErrPinnedNotFound, tenantID, serverID)
		}
		record := &PinnedServerRecord{}
		if err := record.UnmarshalBinary(data); err != nil {
			return err
		}
		record.MessageID = messageID
		updated, err := record.MarshalBinary()
		if err != nil {
			return err
		}
		return bucket.Put(key, updated)
	})
}

// DeletePinned removes one pinned server. Deleting an absent pin is not an
// error; the reconciliation loop and command layer can race on removal.
func (s *BoltStore) DeletePinned(tenantID, serverID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(PinnedBucket)).Delete(pinnedKey(tenantID, serverID))
	})
}

// ListPinned returns a tenant's pinned servers sorted by server id.
func (s *BoltStore) ListPinned(tenantID string) ([]*PinnedServerRecord, error) {
	var records []*PinnedServerRecord
	prefix := []byte(tenantID + pinnedKeySep)
	err := s.db.View(func(tx *bbolt.Tx) error {
		cursor := tx.Bucket([]byte(PinnedBucket)).Cursor()
		for k, v := cursor.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, v = cursor.Next() {
			record := &PinnedServerRecord{}
			if err := record.UnmarshalBinary(v); err != nil {
				return err
			}
			records = append(records, record)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ServerID < records[j].ServerID })
	return records, nil
}
