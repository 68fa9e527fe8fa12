package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// DefaultModel is the Gemini model used when none is configured.
const DefaultModel = "gemini-2.5-flash-lite"

const extractionPrompt = `List everything ordered on this restaurant bill.
Return JSON only, in this shape:
{"currency": "<ISO 4217 code>", "items": [{"name": "...", "category": "Food" or "Drinks",
"type": "item" or "surcharge", "unit_price": <price of one unit>, "quantity": <whole number>,
"confidence": <0..1>, "notes": "..."}]}
Service charges and tips are surcharges. Show unit prices, not line totals.`

// Extractor reads line items off a receipt image.
type Extractor interface {
	Extract(ctx context.Context, image []byte, mimeType string) (*Receipt, error)
	Close() error
}

// contentGenerator is the part of *genai.GenerativeModel the extractor uses.
type contentGenerator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// GeminiExtractor extracts receipts with the Google Gemini API.
type GeminiExtractor struct {
	client *genai.Client
	model  contentGenerator
}

// NewGeminiExtractor creates a Gemini-backed Extractor.
func NewGeminiExtractor(ctx context.Context, apiKey, modelName string) (*GeminiExtractor, error) {
	if apiKey == "" {
		return nil, errors.New("gemini API key required")
	}
	if modelName == "" {
		modelName = DefaultModel
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	model := client.GenerativeModel(modelName)
	model.ResponseMIMEType = "application/json"
	model.SetTemperature(0)

	return &GeminiExtractor{client: client, model: model}, nil
}

// Extract sends the image to Gemini and parses the response.
func (g *GeminiExtractor) Extract(ctx context.Context, image []byte, mimeType string) (*Receipt, error) {
	if len(image) == 0 {
		return nil, errors.New("empty image")
	}
	if !strings.HasPrefix(mimeType, "image/") {
		return nil, fmt.Errorf("unsupported content type %q", mimeType)
	}

	resp, err := g.model.GenerateContent(ctx,
		genai.Blob{MIMEType: mimeType, Data: image},
		genai.Text(extractionPrompt),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to generate content: %w", err)
	}

	text, err := responseText(resp)
	if err != nil {
		return nil, err
	}

	receipt, err := ParseResponse(text)
	if err != nil {
		slog.Warn("Unparseable extractor response", "error", err, "response_bytes", len(text))
		return nil, err
	}
	return receipt, nil
}

// Close closes the underlying Gemini client.
func (g *GeminiExtractor) Close() error {
	if g.client == nil {
		return nil
	}
	return g.client.Close()
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errors.New("no content generated")
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	if b.Len() == 0 {
		return "", errors.New("generated content is not text")
	}
	return b.String(), nil
}
