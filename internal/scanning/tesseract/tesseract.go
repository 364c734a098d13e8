// Package tesseract runs local OCR through libtesseract.
package tesseract

import (
	"context"
	"fmt"
	"runtime"
	"strings"

	"github.com/otiai10/gosseract/v2"
	"golang.org/x/sync/errgroup"

	"github.com/zombor/invoice-tracker/internal/scanning"
)

// Scanner implements scanning.Scanner with one tesseract client per page
type Scanner struct {
	languages   []string
	dpi         float64
	concurrency int
}

// New creates a Scanner. language is a tesseract language string such as "eng" or "eng+deu".
func New(language string, dpi float64, concurrency int) *Scanner {
	if language == "" {
		language = "eng"
	}
	if concurrency <= 0 {
		concurrency = runtime.NumCPU()
	}
	return &Scanner{
		languages:   strings.Split(language, "+"),
		dpi:         dpi,
		concurrency: concurrency,
	}
}

// ExtractPages renders the document and runs OCR over the pages in parallel.
// The returned slice keeps page order.
func (s *Scanner) ExtractPages(ctx context.Context, data []byte, filename string) ([]string, error) {
	images, err := scanning.RenderOCRPages(data, filename, s.dpi)
	if err != nil {
		return nil, err
	}

	pages := make([]string, len(images))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, img := range images {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			text, err := s.recognize(img)
			if err != nil {
				return fmt.Errorf("page %d: %w", i+1, err)
			}
			pages[i] = text
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, scanning.WrapExtraction(filename, err)
	}
	return pages, nil
}

// recognize opens its own client; gosseract clients are not safe for concurrent use
func (s *Scanner) recognize(pageImage []byte) (string, error) {
	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(s.languages...); err != nil {
		return "", fmt.Errorf("setting language: %w", err)
	}
	// Fully automatic page segmentation with orientation detection
	if err := client.SetPageSegMode(gosseract.PSM_AUTO_OSD); err != nil {
		return "", fmt.Errorf("setting page segmentation: %w", err)
	}
	if err := client.SetImageFromBytes(pageImage); err != nil {
		return "", fmt.Errorf("loading page image: %w", err)
	}

	text, err := client.Text()
	if err != nil {
		return "", fmt.Errorf("tesseract: %w", err)
	}
	return strings.TrimSpace(text), nil
}

// Close is a no-op; clients are released after every page
func (s *Scanner) Close() error {
	return nil
}
