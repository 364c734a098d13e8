package scanning

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	"image/png"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
)

// DefaultDPI is the rasterization resolution used for PDF pages
const DefaultDPI = 200

const (
	// denoiseSigma matches a 5x5 Gaussian kernel
	denoiseSigma = 1.1
	// thresholdSigma matches the Gaussian weights of an 11x11 threshold block
	thresholdSigma = 2.0
	// thresholdOffset is subtracted from the local mean before comparing
	thresholdOffset = 2
)

// IsPDF reports whether filename selects the PDF branch
func IsPDF(filename string) bool {
	return strings.EqualFold(filepath.Ext(filename), ".pdf")
}

// RenderPages converts a submission into one grayscale PNG per page.
// PDFs are rendered page by page; anything else is decoded as a single image.
// Errors are already tagged with ErrPDFProcessing or ErrImageProcessing.
func RenderPages(data []byte, filename string, dpi float64) ([][]byte, error) {
	return renderPages(data, filename, dpi, toGray)
}

// RenderOCRPages is RenderPages followed by Preprocess, for engines that
// work on binarised input
func RenderOCRPages(data []byte, filename string, dpi float64) ([][]byte, error) {
	return renderPages(data, filename, dpi, Preprocess)
}

func renderPages(data []byte, filename string, dpi float64, prepare func(image.Image) *image.Gray) ([][]byte, error) {
	if dpi <= 0 {
		dpi = DefaultDPI
	}

	var images []image.Image
	if IsPDF(filename) {
		rendered, err := pdfToImages(data, dpi)
		if err != nil {
			return nil, WrapExtraction(filename, err)
		}
		images = rendered
	} else {
		img, err := decodeImage(data, filename)
		if err != nil {
			return nil, WrapExtraction(filename, err)
		}
		images = []image.Image{img}
	}

	pages := make([][]byte, 0, len(images))
	for i, img := range images {
		var buf bytes.Buffer
		if err := png.Encode(&buf, prepare(img)); err != nil {
			return nil, WrapExtraction(filename, fmt.Errorf("encoding page %d: %w", i+1, err))
		}
		pages = append(pages, buf.Bytes())
	}
	return pages, nil
}

// pdfToImages renders every page of a PDF
func pdfToImages(pdfData []byte, dpi float64) ([]image.Image, error) {
	doc, err := fitz.NewFromMemory(pdfData)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	n := doc.NumPage()
	if n <= 0 {
		return nil, fmt.Errorf("PDF has no pages")
	}

	images := make([]image.Image, 0, n)
	for i := 0; i < n; i++ {
		img, err := doc.ImageDPI(i, dpi)
		if err != nil {
			return nil, fmt.Errorf("rendering PDF page %d: %w", i+1, err)
		}
		images = append(images, img)
	}
	return images, nil
}

// decodeImage decodes JPEG, PNG, GIF and HEIC/HEIF data
func decodeImage(imageData []byte, filename string) (image.Image, error) {
	// Go's standard image package doesn't support HEIC (common on iPhones)
	if isHEICFormat(imageData) || isHEICExt(filename) {
		img, err := heic.Decode(bytes.NewReader(imageData))
		if err != nil {
			return nil, fmt.Errorf("decoding HEIC/HEIF image: %w", err)
		}
		return img, nil
	}

	img, _, err := image.Decode(bytes.NewReader(imageData))
	if err != nil {
		if strings.Contains(err.Error(), "unknown format") {
			return nil, fmt.Errorf("unsupported image format. Supported formats: JPEG, PNG, GIF, HEIC, HEIF, PDF. Error: %w", err)
		}
		return nil, fmt.Errorf("decoding image: %w", err)
	}
	return img, nil
}

// Preprocess prepares a page for tesseract: grayscale, Gaussian denoise, then
// an adaptive threshold against the Gaussian-weighted local mean.
// The result only contains 0 and 255.
func Preprocess(img image.Image) *image.Gray {
	blurred := toGray(imaging.Blur(toGray(img), denoiseSigma))
	local := toGray(imaging.Blur(blurred, thresholdSigma))

	bounds := blurred.Bounds()
	out := image.NewGray(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			v := int(blurred.GrayAt(x, y).Y)
			t := int(local.GrayAt(x, y).Y) - thresholdOffset
			if v > t {
				out.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	return out
}

// toGray drops colour
func toGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	bounds := img.Bounds()
	gray := image.NewGray(bounds)
	draw.Draw(gray, bounds, img, bounds.Min, draw.Src)
	return gray
}

// isHEICFormat checks if the image data is in HEIC/HEIF format
// HEIC files typically start with specific magic bytes
func isHEICFormat(data []byte) bool {
	if len(data) < 12 {
		return false
	}
	// Check for ftyp at offset 4
	if string(data[4:8]) == "ftyp" {
		brand := string(data[8:12])
		if brand == "heic" || brand == "heif" || brand == "mif1" || brand == "msf1" {
			return true
		}
	}
	return false
}

func isHEICExt(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	return ext == ".heic" || ext == ".heif"
}
