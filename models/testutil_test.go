package models_test

import (
	"context"
	"testing"

	"bitbucket.org/mmdatafocus/shipdocs_backend/config"
	"bitbucket.org/mmdatafocus/shipdocs_backend/models"
	"bitbucket.org/mmdatafocus/shipdocs_backend/utils"
	"github.com/shopspring/decimal"
)

// setupTestDB installs a fresh in-memory database as the global handle. The
// shared-cache DSN keeps the schema alive across connections within one test
// binary, so every test starts by wiping the tables.
func setupTestDB(t *testing.T) {
	t.Helper()

	if _, err := config.ConnectTestDatabase(); err != nil {
		t.Fatalf("ConnectTestDatabase: %v", err)
	}
	models.MigrateTable()

	db := config.GetDB()
	for _, table := range []string{
		"stock_movements",
		"stock_reservations",
		"outbound_items",
		"outbound_records",
		"extracted_items",
		"extracted_shipment_data",
		"review_tasks",
		"monthly_summaries",
		"inventory_items",
		"customers",
		"users",
	} {
		if err := db.Exec("DELETE FROM " + table).Error; err != nil {
			t.Fatalf("wipe %s: %v", table, err)
		}
	}
}

func testContext() context.Context {
	ctx := context.Background()
	ctx = utils.SetActorIdInContext(ctx, 1)
	ctx = utils.SetActorNameInContext(ctx, "Test")
	ctx = utils.SetCorrelationIdInContext(ctx, "test-correlation")
	return ctx
}

func mustCreateItem(t *testing.T, ctx context.Context, sku, name string, price int64) *models.InventoryItem {
	t.Helper()
	item, err := models.CreateInventoryItem(ctx, &models.NewInventoryItem{
		SKU:       sku,
		Name:      name,
		UnitPrice: decimal.NewFromInt(price),
	})
	if err != nil {
		t.Fatalf("CreateInventoryItem %s: %v", sku, err)
	}
	return item
}

func mustCreateCustomer(t *testing.T, ctx context.Context, name string) *models.Customer {
	t.Helper()
	customer, err := models.CreateCustomer(ctx, &models.NewCustomer{Name: name})
	if err != nil {
		t.Fatalf("CreateCustomer %s: %v", name, err)
	}
	return customer
}

func mustAdjustStock(t *testing.T, ctx context.Context, itemId int, qty int64) {
	t.Helper()
	if _, err := models.AdjustStock(ctx, itemId, decimal.NewFromInt(qty), 1); err != nil {
		t.Fatalf("AdjustStock item=%d qty=%d: %v", itemId, qty, err)
	}
}
