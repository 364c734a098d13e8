package invoice

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// Rule extracts a single field. The first capture group of Pattern is the value.
type Rule struct {
	Field   string
	Pattern *regexp.Regexp
	target  func(*FieldSet) *string
}

// Match returns the value the rule finds in text, or "" when it finds nothing
func (r Rule) Match(text string) string {
	m := r.Pattern.FindStringSubmatch(text)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}

// Rules is the ordered extraction table. Rules are independent of each other;
// within a rule the leftmost match wins.
var Rules = []Rule{
	{
		Field:   "date",
		Pattern: regexp.MustCompile(`(?i)\b(\d{1,2}[/-]\d{1,2}[/-]\d{2,4}|\d{4}[/-]\d{1,2}[/-]\d{1,2})\b`),
		target:  func(f *FieldSet) *string { return &f.Date },
	},
	{
		Field:   "invoice_id",
		Pattern: regexp.MustCompile(`(?i)(?:invoice|inv)[\s#:]*([A-Z0-9-]{6,20})`),
		target:  func(f *FieldSet) *string { return &f.InvoiceID },
	},
	{
		// Capitalisation is the signal here, so this one is case-sensitive
		Field:   "vendor",
		Pattern: regexp.MustCompile(`^([A-Z][a-z]{2,}(?:\s+[A-Z][a-z]{2,}){0,3})`),
		target:  func(f *FieldSet) *string { return &f.Vendor },
	},
	{
		Field:   "total_amount",
		Pattern: regexp.MustCompile(`(?i)(?:total|amount\s+due|grand\s+total|balance\s+due)[^\d]*([\d,]+\.?\d{0,2})`),
		target:  func(f *FieldSet) *string { return &f.TotalAmount },
	},
	{
		Field:   "tax",
		Pattern: regexp.MustCompile(`(?i)(?:tax|vat|gst)[^\d]*([\d,]+\.?\d{0,2})`),
		target:  func(f *FieldSet) *string { return &f.Tax },
	},
}

// Extract runs every rule over the normalized text. Noisy OCR output with no
// recognisable structure yields empty fields, not an error.
func Extract(text string) FieldSet {
	canonical := Normalize(text)

	var fields FieldSet
	for _, rule := range Rules {
		*rule.target(&fields) = rule.Match(canonical)
	}
	return fields
}

var nonAmountChars = regexp.MustCompile(`[^\p{Nd}.]`)

// asciiDigit maps any decimal digit onto '0'..'9'. Nd ranges are runs of
// whole decades starting at zero.
func asciiDigit(r rune) rune {
	if r >= '0' && r <= '9' {
		return r
	}
	for _, rng := range unicode.Nd.R16 {
		lo, hi := rune(rng.Lo), rune(rng.Hi)
		if r >= lo && r <= hi && (r-lo)%rune(rng.Stride) == 0 {
			return '0' + (r-lo)%10
		}
	}
	for _, rng := range unicode.Nd.R32 {
		lo, hi := rune(rng.Lo), rune(rng.Hi)
		if r >= lo && r <= hi && (r-lo)%rune(rng.Stride) == 0 {
			return '0' + (r-lo)%10
		}
	}
	return r
}

// amount keeps digits of any script and the decimal point and parses the rest.
// Anything unparseable is zero.
func amount(s string) decimal.Decimal {
	cleaned := strings.Map(asciiDigit, nonAmountChars.ReplaceAllString(s, ""))
	if cleaned == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// ParseAmount parses a money string such as "$1,234.56". It returns 0 for
// empty or malformed input.
func ParseAmount(s string) float64 {
	return amount(s).InexactFloat64()
}
