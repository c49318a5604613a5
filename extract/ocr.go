package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aluiziolira/go-scrape-promos/fetch"
	"github.com/aluiziolira/go-scrape-promos/models"
)

// ErrOCRUnavailable is returned when no OCR service is configured.
var ErrOCRUnavailable = errors.New("ocr service not configured")

// OCR turns an image into text.
type OCR interface {
	Recognize(ctx context.Context, image []byte, contentType string) (string, error)
}

// OCRService is an OCR client for an HTTP service that accepts the raw
// image at {baseURL}/ocr and answers {"text": "..."}.
type OCRService struct {
	baseURL string
	client  *fetch.Client
}

// NewOCRService returns a client for the service at baseURL.
func NewOCRService(baseURL string, client *fetch.Client) *OCRService {
	return &OCRService{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

type ocrResponse struct {
	Text  string `json:"text"`
	Error string `json:"error"`
}

// Recognize implements OCR.
func (s *OCRService) Recognize(ctx context.Context, image []byte, contentType string) (string, error) {
	if s == nil || s.baseURL == "" {
		return "", ErrOCRUnavailable
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	resp, err := s.client.Post(ctx, s.baseURL+"/ocr", contentType, image, nil)
	if err != nil {
		return "", fmt.Errorf("ocr request: %w", err)
	}
	var decoded ocrResponse
	if err := json.Unmarshal(resp.Body, &decoded); err != nil {
		return "", fmt.Errorf("decode ocr response: %w", err)
	}
	if decoded.Error != "" {
		return "", fmt.Errorf("ocr service: %s", decoded.Error)
	}
	return decoded.Text, nil
}

// FromImage recognizes an image and parses the text as price blocks.
func FromImage(ctx context.Context, ocr OCR, image []byte, contentType string) ([]models.ParsedCandidate, error) {
	if ocr == nil {
		return nil, ErrOCRUnavailable
	}
	text, err := ocr.Recognize(ctx, image, contentType)
	if err != nil {
		return nil, err
	}
	return FromText(text, StrategyOCR), nil
}
