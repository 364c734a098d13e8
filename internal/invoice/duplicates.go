package invoice

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"
)

// totalTolerance is the largest relative difference between two totals that
// still counts as the same invoice
var totalTolerance = decimal.RequireFromString("0.02")

// Lookup is the query side of the store used to find earlier submissions.
// Every query is scoped to a single user.
type Lookup interface {
	FindByImageHash(userID uint64, hash string) ([]*Invoice, error)
	FindByTextFingerprint(userID uint64, fingerprint string) ([]*Invoice, error)
	FindByInvoiceIDSubstring(userID uint64, invoiceID string) ([]*Invoice, error)
}

// MatchKind records which layer of the cascade flagged a duplicate
type MatchKind int

const (
	NoMatch MatchKind = iota
	ExactContent
	ExactText
	FuzzyField
)

func (k MatchKind) String() string {
	switch k {
	case ExactContent:
		return "exact_content"
	case ExactText:
		return "exact_text"
	case FuzzyField:
		return "fuzzy_field"
	default:
		return "none"
	}
}

// MarshalText encodes the kind by name
func (k MatchKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText decodes a kind name
func (k *MatchKind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "none":
		*k = NoMatch
	case "exact_content":
		*k = ExactContent
	case "exact_text":
		*k = ExactText
	case "fuzzy_field":
		*k = FuzzyField
	default:
		return fmt.Errorf("unknown match kind: %q", text)
	}
	return nil
}

// Match is the outcome of duplicate resolution
type Match struct {
	Kind     MatchKind  `json:"kind"`
	Invoices []*Invoice `json:"invoices"`
}

// IsDuplicate reports whether any earlier invoice matched
func (m Match) IsDuplicate() bool {
	return m.Kind != NoMatch && len(m.Invoices) > 0
}

// IDs returns the ids of the matched invoices, never nil
func (m Match) IDs() []uint64 {
	ids := make([]uint64, 0, len(m.Invoices))
	for _, inv := range m.Invoices {
		ids = append(ids, inv.ID)
	}
	return ids
}

func noMatch() Match {
	return Match{Kind: NoMatch, Invoices: []*Invoice{}}
}

// Resolver decides whether a submission duplicates a stored invoice
type Resolver struct {
	lookup Lookup
}

// NewResolver creates a Resolver backed by lookup
func NewResolver(lookup Lookup) *Resolver {
	return &Resolver{lookup: lookup}
}

// FindDuplicates runs the cascade for userID and stops at the first layer that matches:
//  1. identical file bytes, every match returned
//  2. identical normalized text, every match returned
//  3. same invoice id and vendor with totals within 2%, first match only
func (r *Resolver) FindDuplicates(userID uint64, fp Fingerprint, fields FieldSet) (Match, error) {
	if fp.ImageHash != "" {
		found, err := r.lookup.FindByImageHash(userID, fp.ImageHash)
		if err != nil {
			return Match{}, fmt.Errorf("finding by image hash: %w", err)
		}
		if len(found) > 0 {
			return Match{Kind: ExactContent, Invoices: found}, nil
		}
	}

	if fp.TextFingerprint != "" {
		found, err := r.lookup.FindByTextFingerprint(userID, fp.TextFingerprint)
		if err != nil {
			return Match{}, fmt.Errorf("finding by text fingerprint: %w", err)
		}
		if len(found) > 0 {
			return Match{Kind: ExactText, Invoices: found}, nil
		}
	}

	total := amount(fields.TotalAmount)
	if fields.Vendor == "" || fields.InvoiceID == "" || !total.IsPositive() {
		return noMatch(), nil
	}

	candidates, err := r.lookup.FindByInvoiceIDSubstring(userID, fields.InvoiceID)
	if err != nil {
		return Match{}, fmt.Errorf("finding by invoice id: %w", err)
	}
	for _, candidate := range candidates {
		if !strings.EqualFold(candidate.Fields.Vendor, fields.Vendor) {
			continue
		}
		if withinTolerance(amount(candidate.Fields.TotalAmount), total) {
			return Match{Kind: FuzzyField, Invoices: []*Invoice{candidate}}, nil
		}
	}

	return noMatch(), nil
}

// withinTolerance reports |stored-total|/total <= 2%. total must be positive.
func withinTolerance(stored, total decimal.Decimal) bool {
	return stored.Sub(total).Abs().LessThanOrEqual(total.Mul(totalTolerance))
}

// containsInvoiceID reports whether the JSON encoding of the fields blob
// contains invoiceID. Stores without a text column search this way.
func containsInvoiceID(fields StoredFields, invoiceID string) bool {
	blob, err := json.Marshal(fields)
	if err != nil {
		slog.Warn("Failed to encode stored fields", "error", err)
		return false
	}
	return strings.Contains(string(blob), invoiceID)
}
