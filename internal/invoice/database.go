package invoice

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"
)

const (
	usersBucketName    = "users"
	invoicesBucketName = "invoices"
)

// ErrNotFound is returned when an invoice does not exist for the requesting user
var ErrNotFound = errors.New("invoice not found")

// DB defines the interface for database operations
type DB interface {
	Lookup

	// GetOrCreateUser returns the id of username, creating the user on first use
	GetOrCreateUser(username string) (uint64, error)

	// CreateInvoice stores a new invoice, assigns its ID and returns it
	CreateInvoice(inv *Invoice) (uint64, error)

	// GetInvoice retrieves one of the user's invoices by ID
	GetInvoice(userID, id uint64) (*Invoice, error)

	// ListInvoices returns the user's invoices, newest first
	ListInvoices(userID uint64) ([]*Invoice, error)

	// DeleteInvoices removes the given invoices; ids the user does not own are ignored
	DeleteInvoices(userID uint64, ids []uint64) error

	// Close closes the database connection
	Close() error
}

// BoltDB implements the DB interface using BoltDB.
// Invoices live in a nested bucket per user so every query is user-scoped by construction.
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB creates a new BoltDB instance
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	// Create buckets if they don't exist
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(usersBucketName)); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(invoicesBucketName)); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

// GetOrCreateUser returns the id of username, creating the user on first use
func (b *BoltDB) GetOrCreateUser(username string) (uint64, error) {
	if username == "" {
		return 0, fmt.Errorf("username is required")
	}
	var id uint64
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(usersBucketName))
		if v := bucket.Get([]byte(username)); v != nil {
			id = binary.BigEndian.Uint64(v)
			return nil
		}
		next, err := bucket.NextSequence()
		if err != nil {
			return fmt.Errorf("allocating user id: %w", err)
		}
		id = next
		return bucket.Put([]byte(username), itob(id))
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// CreateInvoice saves a new invoice to the database
func (b *BoltDB) CreateInvoice(inv *Invoice) (uint64, error) {
	err := b.db.Update(func(tx *bbolt.Tx) error {
		root := tx.Bucket([]byte(invoicesBucketName))
		// Ids come from the root bucket so they are unique across users
		id, err := root.NextSequence()
		if err != nil {
			return fmt.Errorf("allocating invoice id: %w", err)
		}
		bucket, err := root.CreateBucketIfNotExists(itob(inv.UserID))
		if err != nil {
			return fmt.Errorf("creating user bucket: %w", err)
		}

		inv.ID = id
		data, err := json.Marshal(inv)
		if err != nil {
			return fmt.Errorf("marshaling invoice: %w", err)
		}
		return bucket.Put(itob(id), data)
	})
	if err != nil {
		inv.ID = 0
		return 0, err
	}
	return inv.ID, nil
}

// GetInvoice retrieves an invoice by ID
func (b *BoltDB) GetInvoice(userID, id uint64) (*Invoice, error) {
	var inv *Invoice
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(invoicesBucketName)).Bucket(itob(userID))
		if bucket == nil {
			return fmt.Errorf("%w: %d", ErrNotFound, id)
		}
		data := bucket.Get(itob(id))
		if data == nil {
			return fmt.Errorf("%w: %d", ErrNotFound, id)
		}
		return json.Unmarshal(data, &inv)
	})
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// ListInvoices returns the user's invoices, newest first
func (b *BoltDB) ListInvoices(userID uint64) ([]*Invoice, error) {
	invoices, err := b.filter(userID, func(*Invoice) bool { return true })
	if err != nil {
		return nil, err
	}
	sort.SliceStable(invoices, func(i, j int) bool {
		if !invoices[i].UploadTime.Equal(invoices[j].UploadTime) {
			return invoices[i].UploadTime.After(invoices[j].UploadTime)
		}
		return invoices[i].ID > invoices[j].ID
	})
	return invoices, nil
}

// DeleteInvoices removes invoices from the database
func (b *BoltDB) DeleteInvoices(userID uint64, ids []uint64) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(invoicesBucketName)).Bucket(itob(userID))
		if bucket == nil {
			return nil
		}
		for _, id := range ids {
			if err := bucket.Delete(itob(id)); err != nil {
				return fmt.Errorf("deleting invoice %d: %w", id, err)
			}
		}
		return nil
	})
}

// FindByImageHash returns the user's invoices with the given content hash
func (b *BoltDB) FindByImageHash(userID uint64, hash string) ([]*Invoice, error) {
	return b.filter(userID, func(inv *Invoice) bool { return inv.ImageHash == hash })
}

// FindByTextFingerprint returns the user's invoices with the given text fingerprint
func (b *BoltDB) FindByTextFingerprint(userID uint64, fingerprint string) ([]*Invoice, error) {
	return b.filter(userID, func(inv *Invoice) bool { return inv.TextFingerprint == fingerprint })
}

// FindByInvoiceIDSubstring returns the user's invoices whose fields blob mentions invoiceID
func (b *BoltDB) FindByInvoiceIDSubstring(userID uint64, invoiceID string) ([]*Invoice, error) {
	return b.filter(userID, func(inv *Invoice) bool { return containsInvoiceID(inv.Fields, invoiceID) })
}

// filter scans the user's bucket in id order
func (b *BoltDB) filter(userID uint64, keep func(*Invoice) bool) ([]*Invoice, error) {
	invoices := make([]*Invoice, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(invoicesBucketName)).Bucket(itob(userID))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			var inv Invoice
			if err := json.Unmarshal(v, &inv); err != nil {
				return fmt.Errorf("unmarshaling invoice: %w", err)
			}
			if keep(&inv) {
				invoices = append(invoices, &inv)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return invoices, nil
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}
