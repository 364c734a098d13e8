package invoice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/zombor/invoice-tracker/internal/scanning"
)

// ErrNoPages is returned when OCR produced no page text at all
var ErrNoPages = errors.New("no pages extracted")

// IDGenerator generates unique prefixes for stored files
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// defaultIDGenerator generates IDs using UnixNano timestamp
type defaultIDGenerator struct{}

func (g *defaultIDGenerator) Generate() string {
	return fmt.Sprintf("%d", time.Now().UnixNano())
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Assembly is everything learned about a submission before it is stored
type Assembly struct {
	Filename    string      `json:"filename"`
	RawText     string      `json:"raw_text"`
	Fields      FieldSet    `json:"fields"`
	PageCount   int         `json:"page_count"`
	Fingerprint Fingerprint `json:"fingerprint"`
	Match       Match       `json:"duplicates"`
	Validation  Validation  `json:"validation"`
}

// Service handles invoice operations
type Service struct {
	db          DB
	scanner     scanning.Scanner
	storage     Storage
	resolver    *Resolver
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewService creates a new Service with default ID generator and time source
func NewService(db DB, scanner scanning.Scanner, storage Storage) *Service {
	return NewServiceWithDeps(db, scanner, storage, &defaultIDGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, scanner scanning.Scanner, storage Storage, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		db:          db,
		scanner:     scanner,
		storage:     storage,
		resolver:    NewResolver(db),
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

var (
	unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	whitespaceRuns      = regexp.MustCompile(`\s+`)
)

// sanitizeFilename cleans up a filename by removing special characters and truncating length
func sanitizeFilename(filename string) string {
	ext := filepath.Ext(filename)
	if unsafeFilenameChars.MatchString(strings.TrimPrefix(ext, ".")) {
		ext = ""
	}
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))

	base = unsafeFilenameChars.ReplaceAllString(base, "")
	base = whitespaceRuns.ReplaceAllString(base, " ")
	base = strings.TrimSpace(base)

	// Phone cameras produce very long names
	maxLen := 50
	if len(base) > maxLen {
		base = base[:maxLen]
	}

	if base == "" {
		base = "invoice"
	}

	return base + ext
}

// Assemble runs OCR, field extraction, fingerprinting, duplicate resolution
// and validation for one submission. Nothing is stored.
func (s *Service) Assemble(ctx context.Context, userID uint64, filename string, data []byte) (*Assembly, error) {
	pages, err := s.scanner.ExtractPages(ctx, data, filename)
	if err != nil {
		slog.Error("Failed to extract text",
			"filename", filename,
			"file_size", len(data),
			"error", err,
		)
		return nil, fmt.Errorf("extracting text: %w", err)
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("extracting text from %s: %w", filename, ErrNoPages)
	}

	rawText := strings.Join(pages, PageBreak)
	// Only the first page is used for fields
	fields := Extract(pages[0])
	fp := NewFingerprint(data, rawText)

	match, err := s.resolver.FindDuplicates(userID, fp, fields)
	if err != nil {
		return nil, fmt.Errorf("resolving duplicates: %w", err)
	}

	return &Assembly{
		Filename:    filename,
		RawText:     rawText,
		Fields:      fields,
		PageCount:   len(pages),
		Fingerprint: fp,
		Match:       match,
		Validation:  Validate(fields),
	}, nil
}

// ProcessInvoice assembles a submission and stores it with its original bytes.
// Duplicates are reported in the returned Assembly but do not prevent saving.
func (s *Service) ProcessInvoice(ctx context.Context, userID uint64, filename string, data []byte, contentType, notes string) (*Invoice, *Assembly, error) {
	assembly, err := s.Assemble(ctx, userID, filename, data)
	if err != nil {
		return nil, nil, err
	}

	if assembly.Match.IsDuplicate() {
		slog.Warn("Possible duplicate invoice",
			"user_id", userID,
			"filename", filename,
			"kind", assembly.Match.Kind.String(),
			"matches", assembly.Match.IDs(),
		)
	}

	key := fmt.Sprintf("%d/%s_%s", userID, s.idGenerator.Generate(), sanitizeFilename(filename))
	savedPath, err := s.storage.Save(key, data)
	if err != nil {
		return nil, nil, fmt.Errorf("saving file: %w", err)
	}

	inv := &Invoice{
		UserID:     userID,
		Filename:   filename,
		UploadTime: s.timeSource.Now(),
		RawText:    truncate(assembly.RawText, maxRawTextLen),
		Fields: StoredFields{
			FieldSet:   assembly.Fields,
			PageCount:  assembly.PageCount,
			RawText:    truncate(assembly.RawText, maxSnippetLen),
			Validation: assembly.Validation,
			Duplicates: assembly.Match.IDs(),
		},
		FilePath:        savedPath,
		ContentType:     contentType,
		Notes:           notes,
		ImageHash:       assembly.Fingerprint.ImageHash,
		TextFingerprint: assembly.Fingerprint.TextFingerprint,
	}

	if _, err := s.db.CreateInvoice(inv); err != nil {
		// Clean up file if database save fails
		if delErr := s.storage.Delete(savedPath); delErr != nil {
			slog.Warn("Failed to delete file", "path", savedPath, "error", delErr)
		}
		return nil, nil, fmt.Errorf("saving invoice to database: %w", err)
	}

	slog.Info("Invoice saved", "id", inv.ID, "user_id", userID, "filename", filename, "pages", assembly.PageCount)
	return inv, assembly, nil
}

// GetOrCreateUser returns the id for username
func (s *Service) GetOrCreateUser(username string) (uint64, error) {
	id, err := s.db.GetOrCreateUser(username)
	if err != nil {
		return 0, fmt.Errorf("getting user: %w", err)
	}
	return id, nil
}

// GetInvoice retrieves one of the user's invoices
func (s *Service) GetInvoice(userID, id uint64) (*Invoice, error) {
	inv, err := s.db.GetInvoice(userID, id)
	if err != nil {
		return nil, fmt.Errorf("getting invoice: %w", err)
	}
	return inv, nil
}

// ListInvoices returns the user's invoices, newest first
func (s *Service) ListInvoices(userID uint64) ([]*Invoice, error) {
	invoices, err := s.db.ListInvoices(userID)
	if err != nil {
		return nil, fmt.Errorf("listing invoices: %w", err)
	}
	return invoices, nil
}

// GetInvoiceFile retrieves the original bytes of an invoice
func (s *Service) GetInvoiceFile(userID, id uint64) ([]byte, string, error) {
	inv, err := s.db.GetInvoice(userID, id)
	if err != nil {
		return nil, "", fmt.Errorf("getting invoice: %w", err)
	}

	data, err := s.storage.Get(inv.FilePath)
	if err != nil {
		return nil, "", fmt.Errorf("getting invoice file: %w", err)
	}

	return data, inv.ContentType, nil
}

// GetInvoiceText returns the stored raw text and a download name for it
func (s *Service) GetInvoiceText(userID, id uint64) (string, string, error) {
	inv, err := s.db.GetInvoice(userID, id)
	if err != nil {
		return "", "", fmt.Errorf("getting invoice: %w", err)
	}
	name := strings.TrimSuffix(inv.Filename, filepath.Ext(inv.Filename)) + "_extracted.txt"
	return inv.RawText, sanitizeFilename(name), nil
}

// DeleteInvoices removes the user's invoices and their files.
// Ids that do not belong to the user are skipped.
func (s *Service) DeleteInvoices(userID uint64, ids []uint64) error {
	if len(ids) == 0 {
		return fmt.Errorf("at least one invoice id is required")
	}

	owned := make([]uint64, 0, len(ids))
	for _, id := range ids {
		inv, err := s.db.GetInvoice(userID, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("getting invoice %d for deletion: %w", id, err)
		}
		if inv.FilePath != "" {
			if err := s.storage.Delete(inv.FilePath); err != nil {
				// Log error but continue with database deletion
				slog.Warn("Failed to delete file", "path", inv.FilePath, "error", err)
			}
		}
		owned = append(owned, id)
	}

	if err := s.db.DeleteInvoices(userID, owned); err != nil {
		return fmt.Errorf("deleting invoices from database: %w", err)
	}
	return nil
}

// ExportInvoices renders the user's invoice table as an XLSX workbook
func (s *Service) ExportInvoices(userID uint64) ([]byte, error) {
	invoices, err := s.ListInvoices(userID)
	if err != nil {
		return nil, err
	}
	data, err := ExportXLSX(invoices)
	if err != nil {
		return nil, fmt.Errorf("exporting invoices: %w", err)
	}
	return data, nil
}
