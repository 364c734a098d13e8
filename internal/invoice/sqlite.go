package invoice

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY,
	username TEXT UNIQUE NOT NULL
);

CREATE TABLE IF NOT EXISTS invoices (
	id INTEGER PRIMARY KEY,
	user_id INTEGER NOT NULL,
	filename TEXT NOT NULL,
	upload_time TEXT NOT NULL,
	raw_text TEXT NOT NULL,
	fields TEXT NOT NULL,
	file_path TEXT NOT NULL DEFAULT '',
	content_type TEXT NOT NULL DEFAULT '',
	notes TEXT NOT NULL DEFAULT '',
	image_hash TEXT NOT NULL DEFAULT '',
	text_fingerprint TEXT NOT NULL DEFAULT '',
	FOREIGN KEY (user_id) REFERENCES users (id)
);

CREATE INDEX IF NOT EXISTS idx_invoices_user_image_hash ON invoices (user_id, image_hash);
CREATE INDEX IF NOT EXISTS idx_invoices_user_text_fingerprint ON invoices (user_id, text_fingerprint);
`

// Fixed width so that upload_time sorts chronologically as text
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const invoiceColumns = `id, user_id, filename, upload_time, raw_text, fields, file_path, content_type, notes, image_hash, text_fingerprint`

// SQLiteDB implements the DB interface on a SQLite file
type SQLiteDB struct {
	db *sql.DB
}

// NewSQLiteDB opens (or creates) the database at path and applies the schema
func NewSQLiteDB(path string) (*SQLiteDB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	// A single connection serialises writers the way bbolt does
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &SQLiteDB{db: db}, nil
}

// GetOrCreateUser returns the id of username, creating the user on first use
func (s *SQLiteDB) GetOrCreateUser(username string) (uint64, error) {
	if username == "" {
		return 0, fmt.Errorf("username is required")
	}
	if _, err := s.db.Exec(`INSERT INTO users (username) VALUES (?) ON CONFLICT (username) DO NOTHING`, username); err != nil {
		return 0, fmt.Errorf("inserting user: %w", err)
	}
	var id int64
	if err := s.db.QueryRow(`SELECT id FROM users WHERE username = ?`, username).Scan(&id); err != nil {
		return 0, fmt.Errorf("querying user: %w", err)
	}
	return uint64(id), nil
}

// CreateInvoice inserts the invoice and sets its ID
func (s *SQLiteDB) CreateInvoice(inv *Invoice) (uint64, error) {
	fields, err := json.Marshal(inv.Fields)
	if err != nil {
		return 0, fmt.Errorf("marshaling fields: %w", err)
	}
	res, err := s.db.Exec(
		`INSERT INTO invoices (user_id, filename, upload_time, raw_text, fields, file_path, content_type, notes, image_hash, text_fingerprint)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		int64(inv.UserID), inv.Filename, inv.UploadTime.UTC().Format(sqliteTimeLayout), inv.RawText, string(fields),
		inv.FilePath, inv.ContentType, inv.Notes, inv.ImageHash, inv.TextFingerprint,
	)
	if err != nil {
		return 0, fmt.Errorf("inserting invoice: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading invoice id: %w", err)
	}
	inv.ID = uint64(id)
	return inv.ID, nil
}

// GetInvoice retrieves one of the user's invoices by ID
func (s *SQLiteDB) GetInvoice(userID, id uint64) (*Invoice, error) {
	row := s.db.QueryRow(`SELECT `+invoiceColumns+` FROM invoices WHERE user_id = ? AND id = ?`, int64(userID), int64(id))
	inv, err := scanInvoice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// ListInvoices returns the user's invoices, newest first
func (s *SQLiteDB) ListInvoices(userID uint64) ([]*Invoice, error) {
	return s.query(`SELECT `+invoiceColumns+` FROM invoices WHERE user_id = ? ORDER BY upload_time DESC, id DESC`, int64(userID))
}

// DeleteInvoices removes the given invoices owned by the user
func (s *SQLiteDB) DeleteInvoices(userID uint64, ids []uint64) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)+1)
	args = append(args, int64(userID))
	for _, id := range ids {
		args = append(args, int64(id))
	}
	if _, err := s.db.Exec(`DELETE FROM invoices WHERE user_id = ? AND id IN (`+placeholders+`)`, args...); err != nil {
		return fmt.Errorf("deleting invoices: %w", err)
	}
	return nil
}

// FindByImageHash returns the user's invoices with the given content hash
func (s *SQLiteDB) FindByImageHash(userID uint64, hash string) ([]*Invoice, error) {
	return s.query(`SELECT `+invoiceColumns+` FROM invoices WHERE user_id = ? AND image_hash = ? ORDER BY id`, int64(userID), hash)
}

// FindByTextFingerprint returns the user's invoices with the given text fingerprint
func (s *SQLiteDB) FindByTextFingerprint(userID uint64, fingerprint string) ([]*Invoice, error) {
	return s.query(`SELECT `+invoiceColumns+` FROM invoices WHERE user_id = ? AND text_fingerprint = ? ORDER BY id`, int64(userID), fingerprint)
}

// FindByInvoiceIDSubstring returns the user's invoices whose fields blob contains invoiceID
func (s *SQLiteDB) FindByInvoiceIDSubstring(userID uint64, invoiceID string) ([]*Invoice, error) {
	// instr is case-sensitive, matching containsInvoiceID
	return s.query(`SELECT `+invoiceColumns+` FROM invoices WHERE user_id = ? AND instr(fields, ?) > 0 ORDER BY id`, int64(userID), invoiceID)
}

// Close closes the database connection
func (s *SQLiteDB) Close() error {
	return s.db.Close()
}

func (s *SQLiteDB) query(q string, args ...any) ([]*Invoice, error) {
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying invoices: %w", err)
	}
	defer rows.Close()

	invoices := make([]*Invoice, 0)
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating invoices: %w", err)
	}
	return invoices, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInvoice(row rowScanner) (*Invoice, error) {
	var (
		inv        Invoice
		id, userID int64
		uploadTime string
		fields     string
	)
	err := row.Scan(&id, &userID, &inv.Filename, &uploadTime, &inv.RawText, &fields,
		&inv.FilePath, &inv.ContentType, &inv.Notes, &inv.ImageHash, &inv.TextFingerprint)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scanning invoice: %w", err)
	}
	inv.ID = uint64(id)
	inv.UserID = uint64(userID)
	if inv.UploadTime, err = time.Parse(sqliteTimeLayout, uploadTime); err != nil {
		return nil, fmt.Errorf("parsing upload time: %w", err)
	}
	if err := json.Unmarshal([]byte(fields), &inv.Fields); err != nil {
		return nil, fmt.Errorf("unmarshaling fields: %w", err)
	}
	return &inv, nil
}
