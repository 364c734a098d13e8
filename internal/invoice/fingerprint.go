package invoice

import (
	"crypto/sha256"
	"encoding/hex"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// NewFingerprint derives both dedup keys of a submission
func NewFingerprint(data []byte, rawText string) Fingerprint {
	return Fingerprint{
		ImageHash:       ImageHash(data),
		TextFingerprint: TextFingerprint(rawText),
	}
}

// ImageHash is the exact content key: any byte difference changes it.
// Empty data has no hash.
func ImageHash(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// TextFingerprint hashes the OCR text after NFKC compatibility folding,
// whitespace collapsing and case folding. Runs that differ only in spacing,
// case or compatibility forms agree: "10 m²" and "10 m2" hash the same, as do
// full-width and ASCII letters.
// Text with no visible content has no fingerprint.
func TextFingerprint(rawText string) string {
	canonical := Normalize(norm.NFKC.String(rawText))
	if canonical == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(cases.Fold().String(canonical)))
	return hex.EncodeToString(sum[:])
}
