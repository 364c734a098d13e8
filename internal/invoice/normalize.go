package invoice

import "strings"

// Normalize collapses every whitespace run, newlines included, into a single space
// and trims the ends. The result is the canonical text fed to Extract.
func Normalize(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
