package scanning

import (
	"strings"
)

// transcribePrompt is the shared prompt used by the vision model scanners
const transcribePrompt = `You are an OCR engine. Transcribe every piece of text visible in this scanned invoice page exactly as printed.

Rules:
- Preserve the reading order, top to bottom, left to right
- Keep numbers, currency symbols, dates and identifiers exactly as they appear
- Put each printed line on its own line
- Do not summarize, translate, correct or explain anything
- Do not use markdown code blocks
- If the page has no readable text, return an empty response`

// cleanTranscript strips the markdown fences models tend to wrap output in
func cleanTranscript(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```") {
		// Drop the opening fence line, which may carry a language tag
		if idx := strings.Index(text, "\n"); idx != -1 {
			text = text[idx+1:]
		} else {
			text = strings.TrimLeft(text, "`")
		}
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")

	return strings.TrimSpace(text)
}
