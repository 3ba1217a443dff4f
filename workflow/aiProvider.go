package workflow

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// TextExtractor reads the raw text off a photographed or scanned shipping
// document. The only pipeline stage whose failures may be transient.
type TextExtractor interface {
	ExtractText(ctx context.Context, imageBytes []byte, mimeType string) (string, error)
}

// StructuredParser turns raw document text into the shipment JSON payload.
// Call failures may be transient like extraction; a malformed response is
// terminal, the same output would recur on retry.
type StructuredParser interface {
	ParseStructured(ctx context.Context, rawText string) (string, error)
}

// transientError marks failures worth retrying (timeouts, 5xx-class).
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

func markTransient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *transientError
	if errors.As(err, &te) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"status code: 5", "internal server error", "service unavailable", "rate limit", "connection refused", "timeout"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

const extractPrompt = `Read every piece of text on this shipping document image.
Return the raw text only, preserving line breaks. Do not summarize or interpret.`

const parsePrompt = `You are given the raw text of an outbound shipping document.
Extract the shipment data as JSON with this exact shape and nothing else:
{
  "customer_name": {"value": "", "confidence": 0.0},
  "shipment_date": {"value": "YYYY-MM-DD", "confidence": 0.0},
  "total_amount": {"value": "0.00", "confidence": 0.0},
  "items": [{"description": "", "quantity": "0", "unit_price": "0.00", "confidence": 0.0}],
  "overall_confidence": 0.0
}
Confidence is your own estimate in [0,1] of how reliably each field was read.

Document text:
`

// LLMCapability backs both extraction calls with a chat model.
type LLMCapability struct {
	model llms.Model
}

func NewLLMCapability() (*LLMCapability, error) {
	modelName := os.Getenv("OPENAI_MODEL")
	if modelName == "" {
		modelName = "gpt-4o-mini"
	}
	model, err := openai.New(openai.WithModel(modelName))
	if err != nil {
		return nil, fmt.Errorf("init llm capability: %w", err)
	}
	return &LLMCapability{model: model}, nil
}

func (c *LLMCapability) ExtractText(ctx context.Context, imageBytes []byte, mimeType string) (string, error) {
	content := []llms.MessageContent{
		{
			Role: llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{
				llms.BinaryPart(mimeType, imageBytes),
				llms.TextPart(extractPrompt),
			},
		},
	}
	resp, err := c.model.GenerateContent(ctx, content, llms.WithTemperature(0))
	if err != nil {
		if isTransient(err) {
			return "", markTransient(err)
		}
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", markTransient(errors.New("empty completion"))
	}
	return resp.Choices[0].Content, nil
}

func (c *LLMCapability) ParseStructured(ctx context.Context, rawText string) (string, error) {
	out, err := llms.GenerateFromSinglePrompt(ctx, c.model, parsePrompt+rawText, llms.WithTemperature(0))
	if err != nil {
		if isTransient(err) {
			return "", markTransient(err)
		}
		return "", err
	}
	// Models sometimes wrap JSON in a code fence.
	out = strings.TrimSpace(out)
	out = strings.TrimPrefix(out, "```json")
	out = strings.TrimPrefix(out, "```")
	out = strings.TrimSuffix(out, "```")
	return strings.TrimSpace(out), nil
}
