package models_test

import (
	"errors"
	"sync"
	"testing"

	"bitbucket.org/mmdatafocus/shipdocs_backend/config"
	"bitbucket.org/mmdatafocus/shipdocs_backend/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

func reserveOnce(t *testing.T, lines []models.ReserveLine) (*models.StockReservation, error) {
	t.Helper()
	ctx := testContext()
	var reservation *models.StockReservation
	err := config.GetDB().Transaction(func(tx *gorm.DB) error {
		var err error
		reservation, err = models.Reserve(ctx, tx, lines, "test-correlation", 1)
		return err
	})
	return reservation, err
}

func TestReserveDeductsStockAndCommitIsStateFlipOnly(t *testing.T) {
	setupTestDB(t)
	ctx := testContext()

	item := mustCreateItem(t, ctx, "WID-1", "Widget", 100)
	mustAdjustStock(t, ctx, item.ID, 50)

	reservation, err := reserveOnce(t, []models.ReserveLine{
		{ItemId: item.ID, Quantity: decimal.NewFromInt(10)},
	})
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if reservation.Status != models.ReservationStatusHeld {
		t.Fatalf("reservation status = %s, want Held", reservation.Status)
	}

	stock, err := models.CurrentStock(ctx, item.ID)
	if err != nil {
		t.Fatalf("CurrentStock: %v", err)
	}
	if !stock.Equal(decimal.NewFromInt(40)) {
		t.Fatalf("stock after reserve = %s, want 40", stock)
	}

	err = config.GetDB().Transaction(func(tx *gorm.DB) error {
		return models.CommitReservation(ctx, tx, reservation.ID)
	})
	if err != nil {
		t.Fatalf("CommitReservation: %v", err)
	}

	// Commit writes no further movements: one adjust plus one reserve.
	movements, err := models.GetMovements(ctx, item.ID)
	if err != nil {
		t.Fatalf("GetMovements: %v", err)
	}
	if len(movements) != 2 {
		t.Fatalf("movement count = %d, want 2", len(movements))
	}
	if movements[1].Reason != models.MovementReasonReserve {
		t.Fatalf("second movement reason = %s, want reserve", movements[1].Reason)
	}
	if !movements[1].QtyDelta.Equal(decimal.NewFromInt(-10)) {
		t.Fatalf("reserve delta = %s, want -10", movements[1].QtyDelta)
	}

	stock, _ = models.CurrentStock(ctx, item.ID)
	if !stock.Equal(decimal.NewFromInt(40)) {
		t.Fatalf("stock after commit = %s, want 40", stock)
	}
}

func TestReserveIsAllOrNothingAcrossLines(t *testing.T) {
	setupTestDB(t)
	ctx := testContext()

	rich := mustCreateItem(t, ctx, "RICH-1", "Plenty", 100)
	poor := mustCreateItem(t, ctx, "POOR-1", "Scarce", 100)
	mustAdjustStock(t, ctx, rich.ID, 100)
	mustAdjustStock(t, ctx, poor.ID, 3)

	_, err := reserveOnce(t, []models.ReserveLine{
		{ItemId: rich.ID, Quantity: decimal.NewFromInt(5)},
		{ItemId: poor.ID, Quantity: decimal.NewFromInt(5)},
	})
	var stockErr *models.InsufficientStockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("Reserve err = %v, want InsufficientStockError", err)
	}
	if stockErr.ItemId != poor.ID {
		t.Fatalf("failing item = %d, want %d", stockErr.ItemId, poor.ID)
	}

	// The passing line must not have been deducted.
	stock, err := models.CurrentStock(ctx, rich.ID)
	if err != nil {
		t.Fatalf("CurrentStock: %v", err)
	}
	if !stock.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("rich stock = %s, want 100", stock)
	}
}

func TestReserveMergesDuplicateLines(t *testing.T) {
	setupTestDB(t)
	ctx := testContext()

	item := mustCreateItem(t, ctx, "DUP-1", "Duplicated", 100)
	mustAdjustStock(t, ctx, item.ID, 9)

	// 5+5 summed exceeds 9 even though each line alone would pass.
	_, err := reserveOnce(t, []models.ReserveLine{
		{ItemId: item.ID, Quantity: decimal.NewFromInt(5)},
		{ItemId: item.ID, Quantity: decimal.NewFromInt(5)},
	})
	if !errors.Is(err, models.ErrInsufficientStock) {
		t.Fatalf("Reserve err = %v, want ErrInsufficientStock", err)
	}
}

func TestReleaseWritesCompensatingRowsAndIsIdempotent(t *testing.T) {
	setupTestDB(t)
	ctx := testContext()

	item := mustCreateItem(t, ctx, "REL-1", "Releasable", 100)
	mustAdjustStock(t, ctx, item.ID, 20)

	reservation, err := reserveOnce(t, []models.ReserveLine{
		{ItemId: item.ID, Quantity: decimal.NewFromInt(8)},
	})
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	for i := 0; i < 2; i++ {
		err = config.GetDB().Transaction(func(tx *gorm.DB) error {
			return models.ReleaseReservation(ctx, tx, reservation.ID, 1)
		})
		if err != nil {
			t.Fatalf("ReleaseReservation pass %d: %v", i+1, err)
		}
	}

	stock, err := models.CurrentStock(ctx, item.ID)
	if err != nil {
		t.Fatalf("CurrentStock: %v", err)
	}
	if !stock.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("stock after release = %s, want 20", stock)
	}

	// adjust + reserve + one release row; the second release was a no-op.
	movements, _ := models.GetMovements(ctx, item.ID)
	if len(movements) != 3 {
		t.Fatalf("movement count = %d, want 3", len(movements))
	}
	if movements[2].Reason != models.MovementReasonRelease {
		t.Fatalf("third movement reason = %s, want release", movements[2].Reason)
	}
	if !movements[2].QtyDelta.Equal(decimal.NewFromInt(8)) {
		t.Fatalf("release delta = %s, want 8", movements[2].QtyDelta)
	}
}

func TestCommitAfterReleaseFails(t *testing.T) {
	setupTestDB(t)
	ctx := testContext()

	item := mustCreateItem(t, ctx, "CAR-1", "Flipflop", 100)
	mustAdjustStock(t, ctx, item.ID, 10)

	reservation, err := reserveOnce(t, []models.ReserveLine{
		{ItemId: item.ID, Quantity: decimal.NewFromInt(1)},
	})
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	err = config.GetDB().Transaction(func(tx *gorm.DB) error {
		return models.ReleaseReservation(ctx, tx, reservation.ID, 1)
	})
	if err != nil {
		t.Fatalf("ReleaseReservation: %v", err)
	}

	err = config.GetDB().Transaction(func(tx *gorm.DB) error {
		return models.CommitReservation(ctx, tx, reservation.ID)
	})
	if err == nil {
		t.Fatal("CommitReservation after release succeeded, want error")
	}
}

func TestConcurrentReservationsNeverOversell(t *testing.T) {
	setupTestDB(t)
	ctx := testContext()

	item := mustCreateItem(t, ctx, "LAST-1", "Last unit", 100)
	mustAdjustStock(t, ctx, item.ID, 1)

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = reserveOnce(t, []models.ReserveLine{
				{ItemId: item.ID, Quantity: decimal.NewFromInt(1)},
			})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
		} else if !errors.Is(err, models.ErrInsufficientStock) {
			t.Fatalf("unexpected reserve error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("successful reservations = %d, want exactly 1", succeeded)
	}

	stock, err := models.CurrentStock(ctx, item.ID)
	if err != nil {
		t.Fatalf("CurrentStock: %v", err)
	}
	if stock.IsNegative() {
		t.Fatalf("stock went negative: %s", stock)
	}
}

func TestNegativeAdjustmentCannotUndershoot(t *testing.T) {
	setupTestDB(t)
	ctx := testContext()

	item := mustCreateItem(t, ctx, "ADJ-1", "Adjustable", 100)
	mustAdjustStock(t, ctx, item.ID, 5)

	if _, err := models.AdjustStock(ctx, item.ID, decimal.NewFromInt(-6), 1); !errors.Is(err, models.ErrInsufficientStock) {
		t.Fatalf("AdjustStock err = %v, want ErrInsufficientStock", err)
	}
	if _, err := models.AdjustStock(ctx, item.ID, decimal.NewFromInt(-5), 1); err != nil {
		t.Fatalf("AdjustStock to zero: %v", err)
	}

	stock, err := models.CurrentStock(ctx, item.ID)
	if err != nil {
		t.Fatalf("CurrentStock: %v", err)
	}
	if !stock.Equal(decimal.Zero) {
		t.Fatalf("stock = %s, want 0", stock)
	}
}
