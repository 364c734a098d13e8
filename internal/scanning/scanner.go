package scanning

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrPDFProcessing marks a failure on the PDF branch (render or OCR).
	ErrPDFProcessing = errors.New("PDF processing failed")
	// ErrImageProcessing marks a failure on the raster image branch.
	ErrImageProcessing = errors.New("image processing failed")
)

// Scanner defines the interface for turning a submitted document into page text
type Scanner interface {
	// ExtractPages returns the OCR text of every page, in page order
	ExtractPages(ctx context.Context, data []byte, filename string) ([]string, error)
	// Close closes the scanner and releases resources
	Close() error
}

// WrapExtraction tags err with the branch sentinel selected by filename
func WrapExtraction(filename string, err error) error {
	if err == nil {
		return nil
	}
	if IsPDF(filename) {
		return fmt.Errorf("%w: %w", ErrPDFProcessing, err)
	}
	return fmt.Errorf("%w: %w", ErrImageProcessing, err)
}
