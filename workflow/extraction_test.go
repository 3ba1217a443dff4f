package workflow_test

import (
	"fmt"
	"testing"

	"bitbucket.org/mmdatafocus/shipdocs_backend/models"
	"bitbucket.org/mmdatafocus/shipdocs_backend/workflow"
)

func shipmentJSON(overall float64, itemConfidence float64, qty, unitPrice, total string) string {
	return fmt.Sprintf(`{
		"customer_name": {"value": "Acme Trading Co", "confidence": 0.95},
		"shipment_date": {"value": "2026-03-10", "confidence": 0.9},
		"total_amount": {"value": %q, "confidence": 0.9},
		"items": [{"description": "Widget", "quantity": %q, "unit_price": %q, "confidence": %v}],
		"overall_confidence": %v
	}`, total, qty, unitPrice, itemConfidence, overall)
}

func runPipeline(t *testing.T, extractor workflow.TextExtractor, parser workflow.StructuredParser, hash string) *models.ExtractedShipmentData {
	t.Helper()
	pipeline := workflow.NewPipeline(extractor, parser)
	data, err := pipeline.Process(testContext(), hash, "gs://bucket/"+hash, []byte("img"), "image/jpeg", 1)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	return data
}

func TestPipelineAutoApprovesHighConfidence(t *testing.T) {
	setupTestDB(t)

	extractor := &fakeExtractor{text: "DELIVERY NOTE\nAcme Trading Co\n10 x Widget @ 25.00"}
	parser := &fakeParser{payload: shipmentJSON(0.92, 0.95, "10", "25.00", "250.00")}

	data := runPipeline(t, extractor, parser, "hash-auto")

	if data.State != models.PipelineStateAutoApproved {
		t.Fatalf("state = %s, want AutoApproved", data.State)
	}
	if data.StateReason != nil {
		t.Fatalf("state reason = %v, want nil", *data.StateReason)
	}
	if data.RawText != extractor.text {
		t.Fatalf("raw text not preserved: %q", data.RawText)
	}
	if data.Version != 1 {
		t.Fatalf("version = %d, want 1", data.Version)
	}
	if len(data.Items) != 1 || data.Items[0].DescriptionText != "Widget" {
		t.Fatalf("items not filled: %+v", data.Items)
	}
	if data.ShipmentDateGuess == nil {
		t.Fatal("shipment date not parsed")
	}
}

func TestPipelineMidConfidenceGoesToReview(t *testing.T) {
	setupTestDB(t)

	parser := &fakeParser{payload: shipmentJSON(0.55, 0.9, "10", "25.00", "250.00")}
	data := runPipeline(t, &fakeExtractor{text: "blurry scan"}, parser, "hash-mid")

	if data.State != models.PipelineStatePendingReview {
		t.Fatalf("state = %s, want PendingReview", data.State)
	}
	if data.StateReason == nil || *data.StateReason != models.ReasonLowConfidence {
		t.Fatalf("state reason = %v, want LowConfidence", data.StateReason)
	}
}

func TestPipelineVeryLowConfidenceIsRejected(t *testing.T) {
	setupTestDB(t)

	parser := &fakeParser{payload: shipmentJSON(0.2, 0.9, "10", "25.00", "250.00")}
	data := runPipeline(t, &fakeExtractor{text: "illegible"}, parser, "hash-low")

	if data.State != models.PipelineStateRejected {
		t.Fatalf("state = %s, want Rejected", data.State)
	}
	if data.StateReason == nil || *data.StateReason != models.ReasonLowConfidence {
		t.Fatalf("state reason = %v, want LowConfidence", data.StateReason)
	}
}

func TestPipelineWeakLineItemBlocksAutoApproval(t *testing.T) {
	setupTestDB(t)

	// Overall clears the bar but the single item does not.
	parser := &fakeParser{payload: shipmentJSON(0.9, 0.5, "10", "25.00", "250.00")}
	data := runPipeline(t, &fakeExtractor{text: "partial"}, parser, "hash-item")

	if data.State != models.PipelineStatePendingReview {
		t.Fatalf("state = %s, want PendingReview", data.State)
	}
}

func TestPipelineRetriesTransientFailures(t *testing.T) {
	setupTestDB(t)

	extractor := &fakeExtractor{
		text: "eventually readable",
		errs: []error{transientErr, transientErr},
	}
	parser := &fakeParser{payload: shipmentJSON(0.9, 0.9, "2", "5.00", "10.00")}

	data := runPipeline(t, extractor, parser, "hash-retry")

	if extractor.calls != 3 {
		t.Fatalf("extractor calls = %d, want 3", extractor.calls)
	}
	if data.State != models.PipelineStateAutoApproved {
		t.Fatalf("state = %s, want AutoApproved", data.State)
	}
}

func TestPipelineExhaustedRetriesRejectWithReason(t *testing.T) {
	setupTestDB(t)
	t.Setenv("EXTRACTION_MAX_ATTEMPTS", "2")

	extractor := &fakeExtractor{
		errs: []error{transientErr, transientErr, transientErr},
	}

	data := runPipeline(t, extractor, &fakeParser{}, "hash-exhaust")

	if extractor.calls != 2 {
		t.Fatalf("extractor calls = %d, want 2", extractor.calls)
	}
	if data.State != models.PipelineStateRejected {
		t.Fatalf("state = %s, want Rejected", data.State)
	}
	if data.StateReason == nil || *data.StateReason != models.ReasonExtractionUnavailable {
		t.Fatalf("state reason = %v, want ExtractionUnavailable", data.StateReason)
	}
}

func TestPipelineRetriesTransientParseFailures(t *testing.T) {
	setupTestDB(t)

	parser := &fakeParser{
		payload: shipmentJSON(0.9, 0.9, "2", "5.00", "10.00"),
		errs:    []error{transientErr, transientErr},
	}

	data := runPipeline(t, &fakeExtractor{text: "clean scan"}, parser, "hash-parse-retry")

	if parser.calls != 3 {
		t.Fatalf("parser calls = %d, want 3", parser.calls)
	}
	if data.State != models.PipelineStateAutoApproved {
		t.Fatalf("state = %s, want AutoApproved", data.State)
	}
}

func TestPipelineExhaustedParseRetriesRejectUnavailable(t *testing.T) {
	setupTestDB(t)
	t.Setenv("EXTRACTION_MAX_ATTEMPTS", "2")

	parser := &fakeParser{
		errs: []error{transientErr, transientErr, transientErr},
	}

	data := runPipeline(t, &fakeExtractor{text: "clean scan"}, parser, "hash-parse-exhaust")

	if parser.calls != 2 {
		t.Fatalf("parser calls = %d, want 2", parser.calls)
	}
	if data.State != models.PipelineStateRejected {
		t.Fatalf("state = %s, want Rejected", data.State)
	}
	if data.StateReason == nil || *data.StateReason != models.ReasonExtractionUnavailable {
		t.Fatalf("state reason = %v, want ExtractionUnavailable", data.StateReason)
	}
}

func TestPipelinePermanentExtractorErrorSkipsRetry(t *testing.T) {
	setupTestDB(t)

	extractor := &fakeExtractor{errs: []error{permanentErr, permanentErr, permanentErr}}
	data := runPipeline(t, extractor, &fakeParser{}, "hash-perm")

	if extractor.calls != 1 {
		t.Fatalf("extractor calls = %d, want 1 (no retry on permanent error)", extractor.calls)
	}
	if data.State != models.PipelineStateRejected {
		t.Fatalf("state = %s, want Rejected", data.State)
	}
}

func TestPipelineMalformedParserOutputIsRejected(t *testing.T) {
	setupTestDB(t)

	parser := &fakeParser{payload: "I could not find any shipment data."}
	data := runPipeline(t, &fakeExtractor{text: "weird doc"}, parser, "hash-parse")

	if data.State != models.PipelineStateRejected {
		t.Fatalf("state = %s, want Rejected", data.State)
	}
	if data.StateReason == nil || *data.StateReason != models.ReasonParseFailure {
		t.Fatalf("state reason = %v, want ParseFailure", data.StateReason)
	}
	// The raw text is still preserved as evidence for the rejection.
	if data.RawText != "weird doc" {
		t.Fatalf("raw text = %q", data.RawText)
	}
}

func TestPipelineTotalMismatchRoutesToReview(t *testing.T) {
	setupTestDB(t)

	// 10 x 25.00 = 250.00, claimed total 400.00.
	parser := &fakeParser{payload: shipmentJSON(0.95, 0.95, "10", "25.00", "400.00")}
	data := runPipeline(t, &fakeExtractor{text: "sum mismatch"}, parser, "hash-total")

	if data.State != models.PipelineStatePendingReview {
		t.Fatalf("state = %s, want PendingReview", data.State)
	}
	if data.StateReason == nil || *data.StateReason != models.ReasonValidationFailure {
		t.Fatalf("state reason = %v, want ValidationFailure", data.StateReason)
	}
}

func TestPipelineEmptyItemsRoutesToReview(t *testing.T) {
	setupTestDB(t)

	parser := &fakeParser{payload: `{
		"customer_name": {"value": "Acme Trading Co", "confidence": 0.9},
		"shipment_date": {"value": "2026-03-10", "confidence": 0.9},
		"total_amount": {"value": "0.00", "confidence": 0.9},
		"items": [],
		"overall_confidence": 0.9
	}`}
	data := runPipeline(t, &fakeExtractor{text: "no table"}, parser, "hash-empty")

	if data.State != models.PipelineStatePendingReview {
		t.Fatalf("state = %s, want PendingReview", data.State)
	}
	if data.StateReason == nil || *data.StateReason != models.ReasonValidationFailure {
		t.Fatalf("state reason = %v, want ValidationFailure", data.StateReason)
	}
}
