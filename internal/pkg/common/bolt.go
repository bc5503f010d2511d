package common

import (
	"encoding/binary"
	"fmt"
	"os"
	"path"
	"time"

	"github.com/samber/do/v2"
	bolt "go.etcd.io/bbolt"
)

const (
	LedgerStatsBucket          = "ledger:stats"
	LedgerBattlesBucket        = "ledger:battles"
	LedgerAccountBattlesBucket = "ledger:account-battles"

	RegistryOwnersBucket    = "registry:owners"
	RegistryURIsBucket      = "registry:uris"
	RegistryApprovalsBucket = "registry:approvals"
	RegistryBalancesBucket  = "registry:balances"
	RegistryOperatorsBucket = "registry:operators"

	PredictionsBucket         = "predictions:records"
	PredictionsAccountsBucket = "predictions:accounts"
)

var Buckets = []string{
	LedgerStatsBucket,
	LedgerBattlesBucket,
	LedgerAccountBattlesBucket,

	RegistryOwnersBucket,
	RegistryURIsBucket,
	RegistryApprovalsBucket,
	RegistryBalancesBucket,
	RegistryOperatorsBucket,

	PredictionsBucket,
	PredictionsAccountsBucket,
}

type DatabaseService struct {
	DB *bolt.DB
}

func NewDatabaseService(i do.Injector) (*DatabaseService, error) {
	dataDir := do.MustInvokeNamed[string](i, "data-dir")

	return OpenDatabase(dataDir)
}

// OpenDatabase opens (or creates) kessen.db inside dataDir and makes sure
// every bucket exists.
func OpenDatabase(dataDir string) (*DatabaseService, error) {
	err := os.MkdirAll(dataDir, 0750)
	if err != nil {
		return nil, fmt.Errorf("failed to create database path: %w", err)
	}

	dbPath := path.Join(dataDir, "kessen.db")

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range Buckets {
			_, err := tx.CreateBucketIfNotExists([]byte(bucket))
			if err != nil {
				return fmt.Errorf("failed to create %s bucket: %w", bucket, err)
			}
		}

		return nil
	})
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to initialize database buckets: %w", err)
	}

	return &DatabaseService{
		DB: db,
	}, nil
}

func (s *DatabaseService) Shutdown() error {
	//nolint:wrapcheck
	return s.DB.Close()
}

// Uint64ToKey encodes i big-endian so that bbolt cursors walk keys in
// numeric order.
func Uint64ToKey(i uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, i)

	return buf
}

func KeyToUint64(b []byte) uint64 {
	if len(b) != 8 {
		return 0
	}

	return binary.BigEndian.Uint64(b)
}

// Uint64ToBytes encodes counter values such as balances. Values are never
// iterated in order, so they keep the little-endian layout; keys use Uint64ToKey.
func Uint64ToBytes(i uint64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, i)

	return buf
}

func BytesToUint64(b []byte, _default uint64) uint64 {
	if len(b) == 0 {
		return _default
	}

	return binary.LittleEndian.Uint64(b)
}
