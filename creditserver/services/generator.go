package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/stylemirror/credits-server/creditserver/metering"
)

var ErrGenerationFailed = errors.New("hairstyle generation failed")

// GenerationRequest carries everything the AI backend needs for one try-on.
type GenerationRequest struct {
	AccountID string
	Feature   metering.Feature
	// Reference to the user's source photo, already uploaded by the app
	SourceImageURL string
	StyleID        string
}

// GenerationResult is the backend's output: raw image bytes plus the format
// they are encoded in.
type GenerationResult struct {
	Image       []byte
	ContentType string
}

// Generator produces a hairstyle preview image. It runs only after usage
// metering has authorized the debit; a failure here triggers the
// authorization's rollback, not a silent credit loss.
type Generator interface {
	Generate(ctx context.Context, req GenerationRequest) (*GenerationResult, error)
}

// HTTPGenerator calls the external AI image backend.
type HTTPGenerator struct {
	client  *http.Client
	baseURL string
	apiKey  string
}

func NewHTTPGenerator(baseURL, apiKey string) *HTTPGenerator {
	return &HTTPGenerator{
		client:  &http.Client{Timeout: 60 * time.Second},
		baseURL: baseURL,
		apiKey:  apiKey,
	}
}

func (g *HTTPGenerator) Generate(ctx context.Context, req GenerationRequest) (*GenerationResult, error) {
	body, err := json.Marshal(map[string]string{
		"sourceImageUrl": req.SourceImageURL,
		"styleId":        req.StyleID,
		"feature":        string(req.Feature),
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/generate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: backend returned status %d", ErrGenerationFailed, resp.StatusCode)
	}

	var parsed struct {
		Image       []byte `json:"image"`
		ContentType string `json:"contentType"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%w: malformed backend response", ErrGenerationFailed)
	}
	if len(parsed.Image) == 0 {
		return nil, fmt.Errorf("%w: empty image", ErrGenerationFailed)
	}
	if parsed.ContentType == "" {
		parsed.ContentType = "image/jpeg"
	}

	return &GenerationResult{Image: parsed.Image, ContentType: parsed.ContentType}, nil
}

// StubGenerator returns a tiny placeholder image. Selected at construction
// for development environments without the AI backend.
type StubGenerator struct{}

func NewStubGenerator() *StubGenerator {
	return &StubGenerator{}
}

// Smallest valid JPEG-ish payload; enough for end-to-end flows in dev
var stubImage = []byte{0xFF, 0xD8, 0xFF, 0xD9}

func (g *StubGenerator) Generate(_ context.Context, _ GenerationRequest) (*GenerationResult, error) {
	return &GenerationResult{Image: stubImage, ContentType: "image/jpeg"}, nil
}
