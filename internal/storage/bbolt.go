package storage

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
	"go.etcd.io/bbolt/errors"
	"go.uber.org/zap"
)

// DBFileName is the database file inside the data directory.
const DBFileName = "hostbridge.db"

// BoltDB wraps bolt database operations
type BoltDB struct {
	db     *bbolt.DB
	logger *zap.SugaredLogger
}

// NewBoltDB opens (or creates) the database in dataDir. A database left locked
// by a crashed process is backed up and recreated.
func NewBoltDB(dataDir string, logger *zap.SugaredLogger) (*BoltDB, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", dataDir, err)
	}
	dbPath := filepath.Join(dataDir, DBFileName)

	db, err := bbolt.Open(dbPath, 0644, &bbolt.Options{
		Timeout: 10 * time.Second,
	})
	if err != nil {
		logger.Warnf("Failed to open database on first attempt: %v", err)

		if err == errors.ErrTimeout {
			logger.Info("Database timeout detected, attempting recovery...")

			if _, statErr := os.Stat(dbPath); statErr == nil {
				backupPath := dbPath + ".backup." + time.Now().Format("20060102-150405")
				logger.Infof("Creating backup at %s", backupPath)

				if cpErr := copyFile(dbPath, backupPath); cpErr != nil {
					logger.Warnf("Failed to create backup: %v", cpErr)
				}
				if rmErr := os.Remove(dbPath); rmErr != nil {
					logger.Warnf("Failed to remove locked database file: %v", rmErr)
				}
			}

			db, err = bbolt.Open(dbPath, 0644, &bbolt.Options{
				Timeout: 5 * time.Second,
			})
		}

		if err != nil {
			return nil, fmt.Errorf("failed to open bolt database after recovery attempt: %w", err)
		}
	}

	boltDB := &BoltDB{
		db:     db,
		logger: logger,
	}

	if err := boltDB.initBuckets(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}

	return boltDB, nil
}

// Close closes the database
func (b *BoltDB) Close() error {
	return b.db.Close()
}

// Path returns the database file path.
func (b *BoltDB) Path() string {
	return b.db.Path()
}

func (b *BoltDB) initBuckets() error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range []string{UpdateHistoryBucket, GlobalsBucket, MetaBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(bucket)); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}

		metaBucket := tx.Bucket([]byte(MetaBucket))
		versionBytes := make([]byte, 8)
		binary.LittleEndian.PutUint64(versionBytes, CurrentSchemaVersion)
		return metaBucket.Put([]byte(SchemaVersionKey), versionBytes)
	})
}

// GetSchemaVersion returns the current schema version
func (b *BoltDB) GetSchemaVersion() (uint64, error) {
	var version uint64
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(MetaBucket))
		if bucket == nil {
			return fmt.Errorf("meta bucket not found")
		}
		if v := bucket.Get([]byte(SchemaVersionKey)); v != nil {
			version = binary.LittleEndian.Uint64(v)
		}
		return nil
	})
	return version, err
}

func copyFile(src, dst string) error {
	sourceFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer sourceFile.Close()

	destFile, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer destFile.Close()

	_, err = io.Copy(destFile, sourceFile)
	return err
}
