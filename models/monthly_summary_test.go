package models_test

import (
	"bytes"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/shipdocs_backend/models"
	"bitbucket.org/mmdatafocus/shipdocs_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

func TestRegenerateMonthlySummaryAggregatesRecords(t *testing.T) {
	setupTestDB(t)
	ctx := testContext()

	customer := mustCreateCustomer(t, ctx, "Summary Cust")
	item := mustCreateItem(t, ctx, "SUM-1", "Summable", 10)
	mustAdjustStock(t, ctx, item.ID, 100)

	june := time.Date(2026, time.June, 5, 0, 0, 0, 0, time.UTC)
	commitRecord(t, "hash-sum-1", customer.ID, item.ID, 3, 10, june)
	commitRecord(t, "hash-sum-2", customer.ID, item.ID, 7, 10, june.AddDate(0, 0, 10))

	summary, err := models.RegenerateMonthlySummary(ctx, 2026, time.June, 1)
	if err != nil {
		t.Fatalf("RegenerateMonthlySummary: %v", err)
	}
	if summary.TotalShipments != 2 {
		t.Fatalf("total shipments = %d, want 2", summary.TotalShipments)
	}
	if !summary.TotalAmount.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("total amount = %s, want 100", summary.TotalAmount)
	}
	if !summary.TotalQuantity.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("total quantity = %s, want 10", summary.TotalQuantity)
	}

	// Regeneration after a new record upserts in place.
	commitRecord(t, "hash-sum-3", customer.ID, item.ID, 2, 10, june.AddDate(0, 0, 20))
	summary, err = models.RegenerateMonthlySummary(ctx, 2026, time.June, 1)
	if err != nil {
		t.Fatalf("RegenerateMonthlySummary again: %v", err)
	}
	if summary.TotalShipments != 3 {
		t.Fatalf("total shipments after regen = %d, want 3", summary.TotalShipments)
	}

	got, err := models.GetMonthlySummary(ctx, 2026, time.June)
	if err != nil {
		t.Fatalf("GetMonthlySummary: %v", err)
	}
	if got.TotalShipments != 3 {
		t.Fatalf("stored shipments = %d, want 3", got.TotalShipments)
	}
}

func TestGetMonthlySummaryNotGenerated(t *testing.T) {
	setupTestDB(t)

	if _, err := models.GetMonthlySummary(testContext(), 2026, time.January); err != utils.ErrorRecordNotFound {
		t.Fatalf("err = %v, want ErrorRecordNotFound", err)
	}
}

func TestExportMonthlySummaryExcel(t *testing.T) {
	setupTestDB(t)
	ctx := testContext()

	customer := mustCreateCustomer(t, ctx, "Export Cust")
	item := mustCreateItem(t, ctx, "EXP-1", "Exportable", 25)
	mustAdjustStock(t, ctx, item.ID, 10)

	july := time.Date(2026, time.July, 1, 0, 0, 0, 0, time.UTC)
	record := commitRecord(t, "hash-export-1", customer.ID, item.ID, 4, 25, july)

	var buf bytes.Buffer
	if err := models.ExportMonthlySummaryExcel(ctx, 2026, time.July, &buf); err != nil {
		t.Fatalf("ExportMonthlySummaryExcel: %v", err)
	}

	f, err := excelize.OpenReader(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("open exported workbook: %v", err)
	}
	defer f.Close()

	header, err := f.GetCellValue("Sheet1", "A1")
	if err != nil {
		t.Fatalf("read header: %v", err)
	}
	if header != "RecordId" {
		t.Fatalf("A1 = %q, want RecordId", header)
	}
	amount, err := f.GetCellValue("Sheet1", "E2")
	if err != nil {
		t.Fatalf("read amount: %v", err)
	}
	if amount != record.TotalAmount.String() {
		t.Fatalf("E2 = %q, want %q", amount, record.TotalAmount.String())
	}
}

func TestCacheKeysForCoversAggregates(t *testing.T) {
	keys := models.CacheKeysFor(models.EntityTypeInventoryItem, "7")
	want := map[string]bool{"ItemStock:7": true, "Item:7": true, "DashboardMetrics": true}
	if len(keys) != len(want) {
		t.Fatalf("key count = %d, want %d", len(keys), len(want))
	}
	for _, k := range keys {
		if !want[k] {
			t.Fatalf("unexpected key %q", k)
		}
	}

	if keys := models.CacheKeysFor(models.EntityTypeMonthlySummary, "2026-06"); len(keys) != 1 || keys[0] != "MonthlySummary:2026-06" {
		t.Fatalf("summary keys = %v", keys)
	}

	if keys := models.CacheKeysFor(models.EntityType("unknown"), "1"); keys != nil {
		t.Fatalf("unknown entity type produced keys %v", keys)
	}
}
