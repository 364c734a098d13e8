package invoice

import "time"

const (
	// PageBreak separates page texts in the stored raw text
	PageBreak = "\n\n--- PAGE BREAK ---\n\n"

	maxRawTextLen = 1000
	maxSnippetLen = 500
)

// FieldSet holds the fields extracted from an invoice page.
// A field that was not found is the empty string, never omitted.
type FieldSet struct {
	Date        string `json:"date"`
	Vendor      string `json:"vendor"`
	InvoiceID   string `json:"invoice_id"`
	Tax         string `json:"tax"`
	TotalAmount string `json:"total_amount"`
}

// Fingerprint holds the dedup keys of a submission. An empty key means the layer does not apply.
type Fingerprint struct {
	ImageHash       string `json:"image_hash"`
	TextFingerprint string `json:"text_fingerprint"`
}

// StoredFields is the fields blob persisted with every invoice
type StoredFields struct {
	FieldSet
	PageCount  int        `json:"page_count"`
	RawText    string     `json:"raw_text"` // snippet, at most maxSnippetLen characters
	Validation Validation `json:"validation"`
	Duplicates []uint64   `json:"duplicates"`
}

// Invoice represents a stored invoice with metadata
type Invoice struct {
	ID              uint64       `json:"id"`
	UserID          uint64       `json:"user_id"`
	Filename        string       `json:"filename"`
	UploadTime      time.Time    `json:"upload_time"`
	RawText         string       `json:"raw_text"` // at most maxRawTextLen characters
	Fields          StoredFields `json:"fields"`
	FilePath        string       `json:"file_path"` // key of the original bytes in Storage
	ContentType     string       `json:"content_type"`
	Notes           string       `json:"notes"`
	ImageHash       string       `json:"image_hash"`
	TextFingerprint string       `json:"text_fingerprint"`
}

// truncate cuts s to at most n characters
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
