package scanning

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// Gemini implements the Scanner interface using Google Gemini as a vision OCR engine
type Gemini struct {
	client *genai.Client
	model  *genai.GenerativeModel
	dpi    float64
}

// NewGemini creates a new Gemini Scanner instance
func NewGemini(apiKey string, modelName string, dpi float64) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if modelName == "" {
		modelName = "gemini-2.5-pro"
	}

	ctx := context.Background()
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	model := client.GenerativeModel(modelName)

	return &Gemini{
		client: client,
		model:  model,
		dpi:    dpi,
	}, nil
}

// ExtractPages renders the document and transcribes each page
func (g *Gemini) ExtractPages(ctx context.Context, data []byte, filename string) ([]string, error) {
	images, err := RenderPages(data, filename, g.dpi)
	if err != nil {
		return nil, err
	}

	pages := make([]string, 0, len(images))
	for i, img := range images {
		text, err := g.transcribe(ctx, img)
		if err != nil {
			return nil, WrapExtraction(filename, fmt.Errorf("page %d: %w", i+1, err))
		}
		pages = append(pages, text)
	}
	return pages, nil
}

func (g *Gemini) transcribe(ctx context.Context, pageImage []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// genai.ImageData expects just the format suffix (e.g., "png"), not the full MIME type
	parts := []genai.Part{
		genai.ImageData("png", pageImage),
		genai.Text(transcribePrompt),
	}

	resp, err := g.model.GenerateContent(ctx, parts...)
	if err != nil {
		return "", fmt.Errorf("generating content: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("no response from gemini")
	}

	var responseText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			responseText.WriteString(string(text))
		}
	}

	return cleanTranscript(responseText.String()), nil
}

// Close closes the Gemini client
func (g *Gemini) Close() error {
	return g.client.Close()
}
