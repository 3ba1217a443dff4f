package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/shipdocs_backend/config"
	"bitbucket.org/mmdatafocus/shipdocs_backend/models"
	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// totalTolerance absorbs rounding noise when checking that the extracted
// total equals the sum of line items.
var totalTolerance = decimal.NewFromFloat(0.01)

type parsedField struct {
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

type parsedItem struct {
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Confidence  float64         `json:"confidence"`
}

type parsedShipment struct {
	CustomerName      parsedField  `json:"customer_name"`
	ShipmentDate      parsedField  `json:"shipment_date"`
	TotalAmount       parsedField  `json:"total_amount"`
	Items             []parsedItem `json:"items"`
	OverallConfidence float64      `json:"overall_confidence"`
}

// Pipeline drives one upload through the extraction state machine:
// Uploaded -> TextExtracted -> Parsed -> Validated ->
// {AutoApproved | PendingReview | Rejected}.
//
// Documents are processed independently; the struct holds no per-document
// state, so one Pipeline serves concurrent uploads.
type Pipeline struct {
	extractor TextExtractor
	parser    StructuredParser
	cfg       config.PipelineConfig
	logger    *logrus.Logger
}

func NewPipeline(extractor TextExtractor, parser StructuredParser) *Pipeline {
	return &Pipeline{
		extractor: extractor,
		parser:    parser,
		cfg:       config.GetPipelineConfig(),
		logger:    config.GetLogger(),
	}
}

// Process runs the state machine and persists the resulting evidence row.
// Every outcome is definite: the returned row's State is AutoApproved,
// PendingReview, or Rejected, never an intermediate state.
func (p *Pipeline) Process(ctx context.Context, documentHash, blobURL string, imageBytes []byte, mimeType string, actorId int) (*models.ExtractedShipmentData, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.DocumentTimeout)
	defer cancel()

	data := &models.ExtractedShipmentData{
		DocumentHash: documentHash,
		BlobURL:      blobURL,
		CreatedBy:    actorId,
		State:        models.PipelineStateUploaded,
	}

	// Uploaded -> TextExtracted
	rawText, err := p.extractWithRetry(ctx, imageBytes, mimeType)
	if err != nil {
		reason := models.ReasonExtractionUnavailable
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			reason = models.ReasonTimeout
		}
		p.logger.WithFields(logrus.Fields{
			"document_hash": documentHash,
			"reason":        reason,
		}).Warn("[pipeline.extract] giving up")
		return p.finish(ctx, data, models.PipelineStateRejected, &reason)
	}
	data.RawText = rawText
	data.State = models.PipelineStateTextExtracted

	// TextExtracted -> Parsed. The parse call retries transient provider
	// failures the same way extraction does; only malformed output is
	// terminal on the first attempt.
	payloadJSON, err := p.callWithRetry(ctx, func() (string, error) {
		return p.parser.ParseStructured(ctx, rawText)
	})
	if err != nil {
		// Call failures are provider failures; malformed output is caught at
		// unmarshal below.
		reason := models.ReasonExtractionUnavailable
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			reason = models.ReasonTimeout
		}
		config.LogError(p.logger, "extraction.go", "Process", "parse structured", documentHash, err)
		return p.finish(ctx, data, models.PipelineStateRejected, &reason)
	}
	var payload parsedShipment
	if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
		reason := models.ReasonParseFailure
		config.LogError(p.logger, "extraction.go", "Process", "unmarshal payload", documentHash, err)
		return p.finish(ctx, data, models.PipelineStateRejected, &reason)
	}
	p.fill(data, &payload)
	data.State = models.PipelineStateParsed

	// Parsed -> Validated. Business-rule violations are independent of
	// confidence and always route to review: they indicate structurally
	// broken extraction.
	if violation := validateShipment(&payload); violation != "" {
		p.logger.WithFields(logrus.Fields{
			"document_hash": documentHash,
			"violation":     violation,
		}).Info("[pipeline.validate] routing to review")
		reason := models.ReasonValidationFailure
		return p.finish(ctx, data, models.PipelineStatePendingReview, &reason)
	}
	data.State = models.PipelineStateValidated

	// Validated -> terminal state by confidence.
	state, reason := p.route(&payload)
	return p.finish(ctx, data, state, reason)
}

func (p *Pipeline) extractWithRetry(ctx context.Context, imageBytes []byte, mimeType string) (string, error) {
	return p.callWithRetry(ctx, func() (string, error) {
		return p.extractor.ExtractText(ctx, imageBytes, mimeType)
	})
}

// callWithRetry runs one external call under the pipeline's retry budget.
// Transient errors are retried with exponential backoff; anything else
// aborts the budget immediately.
func (p *Pipeline) callWithRetry(ctx context.Context, call func() (string, error)) (string, error) {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(p.cfg.MaxAttempts-1)),
		ctx,
	)

	var out string
	operation := func() error {
		result, err := call()
		if err != nil {
			if isTransient(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		out = result
		return nil
	}
	if err := backoff.Retry(operation, policy); err != nil {
		return "", err
	}
	return out, nil
}

func (p *Pipeline) fill(data *models.ExtractedShipmentData, payload *parsedShipment) {
	data.CustomerNameGuess = payload.CustomerName.Value
	data.CustomerNameConfidence = payload.CustomerName.Confidence
	data.ShipmentDateConfidence = payload.ShipmentDate.Confidence
	if payload.ShipmentDate.Value != "" {
		if date, err := time.Parse("2006-01-02", payload.ShipmentDate.Value); err == nil {
			data.ShipmentDateGuess = &date
		}
	}
	data.TotalAmountConfidence = payload.TotalAmount.Confidence
	if amount, err := decimal.NewFromString(payload.TotalAmount.Value); err == nil {
		data.TotalAmountGuess = amount
	}
	data.OverallConfidence = payload.OverallConfidence

	data.Items = make([]*models.ExtractedItem, 0, len(payload.Items))
	for _, item := range payload.Items {
		data.Items = append(data.Items, &models.ExtractedItem{
			DescriptionText: item.Description,
			QuantityGuess:   item.Quantity,
			UnitPriceGuess:  item.UnitPrice,
			Confidence:      item.Confidence,
		})
	}
}

// validateShipment returns the first business-rule violation, or "".
func validateShipment(payload *parsedShipment) string {
	if len(payload.Items) == 0 {
		return "no line items extracted"
	}
	lineSum := decimal.Zero
	for _, item := range payload.Items {
		if item.Quantity.LessThanOrEqual(decimal.Zero) {
			return "non-positive quantity on " + item.Description
		}
		lineSum = lineSum.Add(item.Quantity.Mul(item.UnitPrice))
	}
	if payload.TotalAmount.Value != "" {
		total, err := decimal.NewFromString(payload.TotalAmount.Value)
		if err != nil {
			return "unparseable total amount"
		}
		if total.Sub(lineSum).Abs().GreaterThan(totalTolerance) {
			return "total does not equal sum of line items"
		}
	}
	return ""
}

func (p *Pipeline) route(payload *parsedShipment) (models.PipelineState, *models.ReviewReason) {
	if payload.OverallConfidence < p.cfg.ReviewThreshold {
		reason := models.ReasonLowConfidence
		return models.PipelineStateRejected, &reason
	}

	allItemsConfident := true
	for _, item := range payload.Items {
		if item.Confidence < p.cfg.AutoApproveThreshold {
			allItemsConfident = false
			break
		}
	}
	if payload.OverallConfidence >= p.cfg.AutoApproveThreshold && allItemsConfident {
		return models.PipelineStateAutoApproved, nil
	}

	reason := models.ReasonLowConfidence
	return models.PipelineStatePendingReview, &reason
}

func (p *Pipeline) finish(ctx context.Context, data *models.ExtractedShipmentData, state models.PipelineState, reason *models.ReviewReason) (*models.ExtractedShipmentData, error) {
	data.State = state
	data.StateReason = reason
	// Persist with a fresh context: the per-document deadline must not block
	// recording the outcome.
	saveCtx := context.WithoutCancel(ctx)
	return models.SaveExtractedData(saveCtx, data)
}
