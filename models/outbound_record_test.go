package models_test

import (
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/shipdocs_backend/config"
	"bitbucket.org/mmdatafocus/shipdocs_backend/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

func commitRecord(t *testing.T, documentHash string, customerId, itemId int, qty, unitPrice int64, shipmentDate time.Time) *models.OutboundRecord {
	t.Helper()
	ctx := testContext()

	var record *models.OutboundRecord
	err := config.GetDB().Transaction(func(tx *gorm.DB) error {
		reservation, err := models.Reserve(ctx, tx, []models.ReserveLine{
			{ItemId: itemId, Quantity: decimal.NewFromInt(qty)},
		}, "test-correlation", 1)
		if err != nil {
			return err
		}

		total := decimal.NewFromInt(qty).Mul(decimal.NewFromInt(unitPrice))
		record = &models.OutboundRecord{
			DocumentHash:  documentHash,
			CustomerId:    customerId,
			TotalAmount:   total,
			ShipmentDate:  shipmentDate,
			Status:        models.RecordStatusPending,
			ReservationId: reservation.ID,
			CreatedBy:     1,
			Items: []*models.OutboundItem{{
				InventoryItemId: itemId,
				Quantity:        decimal.NewFromInt(qty),
				UnitPrice:       decimal.NewFromInt(unitPrice),
				TotalPrice:      total,
			}},
		}
		if err := record.ValidateTotals(); err != nil {
			return err
		}
		if err := tx.WithContext(ctx).Create(record).Error; err != nil {
			return err
		}
		return models.CommitReservation(ctx, tx, reservation.ID)
	})
	if err != nil {
		t.Fatalf("commit record %s: %v", documentHash, err)
	}
	return record
}

func TestValidateTotalsRejectsBadArithmetic(t *testing.T) {
	record := &models.OutboundRecord{
		TotalAmount: decimal.NewFromInt(100),
		Items: []*models.OutboundItem{{
			Quantity:   decimal.NewFromInt(3),
			UnitPrice:  decimal.NewFromInt(30),
			TotalPrice: decimal.NewFromInt(100), // 3 x 30 = 90
		}},
	}
	if err := record.ValidateTotals(); err == nil {
		t.Fatal("bad line total passed validation")
	}

	record.Items[0].TotalPrice = decimal.NewFromInt(90)
	if err := record.ValidateTotals(); err == nil {
		t.Fatal("record total differing from line sum passed validation")
	}

	record.TotalAmount = decimal.NewFromInt(90)
	if err := record.ValidateTotals(); err != nil {
		t.Fatalf("valid totals rejected: %v", err)
	}
}

func TestCancelReleasesReservedStock(t *testing.T) {
	setupTestDB(t)
	ctx := testContext()

	customer := mustCreateCustomer(t, ctx, "Cancel Cust")
	item := mustCreateItem(t, ctx, "CAN-1", "Cancellable", 10)
	mustAdjustStock(t, ctx, item.ID, 30)

	record := commitRecord(t, "hash-cancel-1", customer.ID, item.ID, 12, 10, time.Now().UTC())

	stock, _ := models.CurrentStock(ctx, item.ID)
	if !stock.Equal(decimal.NewFromInt(18)) {
		t.Fatalf("stock after commit = %s, want 18", stock)
	}

	cancelled, err := models.CancelOutboundRecord(ctx, record.ID, 1)
	if err != nil {
		t.Fatalf("CancelOutboundRecord: %v", err)
	}
	if cancelled.Status != models.RecordStatusCancelled {
		t.Fatalf("status = %s, want Cancelled", cancelled.Status)
	}

	stock, _ = models.CurrentStock(ctx, item.ID)
	if !stock.Equal(decimal.NewFromInt(30)) {
		t.Fatalf("stock after cancel = %s, want 30", stock)
	}
}

func TestAdvanceFollowsTransitionTable(t *testing.T) {
	setupTestDB(t)
	ctx := testContext()

	customer := mustCreateCustomer(t, ctx, "Advance Cust")
	item := mustCreateItem(t, ctx, "ADV-1", "Advanceable", 10)
	mustAdjustStock(t, ctx, item.ID, 10)

	record := commitRecord(t, "hash-advance-1", customer.ID, item.ID, 2, 10, time.Now().UTC())

	if _, err := models.AdvanceOutboundRecord(ctx, record.ID, models.RecordStatusDelivered); err == nil {
		t.Fatal("pending -> delivered allowed, want refusal")
	}

	shipped, err := models.AdvanceOutboundRecord(ctx, record.ID, models.RecordStatusShipped)
	if err != nil {
		t.Fatalf("advance to shipped: %v", err)
	}
	if shipped.Status != models.RecordStatusShipped {
		t.Fatalf("status = %s, want Shipped", shipped.Status)
	}

	delivered, err := models.AdvanceOutboundRecord(ctx, record.ID, models.RecordStatusDelivered)
	if err != nil {
		t.Fatalf("advance to delivered: %v", err)
	}
	if delivered.Status != models.RecordStatusDelivered {
		t.Fatalf("status = %s, want Delivered", delivered.Status)
	}

	if _, err := models.CancelOutboundRecord(ctx, record.ID, 1); err == nil {
		t.Fatal("cancelled a delivered record, want refusal")
	}
	if _, err := models.AdvanceOutboundRecord(ctx, record.ID, models.RecordStatusCancelled); err == nil {
		t.Fatal("AdvanceOutboundRecord accepted Cancelled, want refusal")
	}
}

func TestRecordsForMonthExcludesCancelled(t *testing.T) {
	setupTestDB(t)
	ctx := testContext()

	customer := mustCreateCustomer(t, ctx, "Monthly Cust")
	item := mustCreateItem(t, ctx, "MON-1", "Monthly", 10)
	mustAdjustStock(t, ctx, item.ID, 100)

	march := time.Date(2026, time.March, 15, 0, 0, 0, 0, time.UTC)
	keep := commitRecord(t, "hash-month-keep", customer.ID, item.ID, 3, 10, march)
	drop := commitRecord(t, "hash-month-drop", customer.ID, item.ID, 4, 10, march)
	commitRecord(t, "hash-other-month", customer.ID, item.ID, 5, 10, march.AddDate(0, 1, 0))

	if _, err := models.CancelOutboundRecord(ctx, drop.ID, 1); err != nil {
		t.Fatalf("CancelOutboundRecord: %v", err)
	}

	records, err := models.RecordsForMonth(ctx, 2026, time.March)
	if err != nil {
		t.Fatalf("RecordsForMonth: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("record count = %d, want 1", len(records))
	}
	if records[0].ID != keep.ID {
		t.Fatalf("kept record id = %d, want %d", records[0].ID, keep.ID)
	}
}
