package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/shipdocs_backend/config"
	"bitbucket.org/mmdatafocus/shipdocs_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// InventoryItem owns no quantity column: current stock is derived from the
// movement ledger and cached. Mutations happen only through movements.
type InventoryItem struct {
	ID            int             `gorm:"primary_key" json:"id"`
	SKU           string          `gorm:"size:64;not null;unique" json:"sku"`
	Name          string          `gorm:"size:255;not null" json:"name"`
	UnitPrice     decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"unit_price"`
	IsActive      *bool           `gorm:"not null;default:true" json:"is_active"`
	LastMatchedAt *time.Time      `gorm:"index" json:"last_matched_at"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewInventoryItem struct {
	SKU       string          `json:"sku" binding:"required,sku"`
	Name      string          `json:"name" binding:"required"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

func itemStockCacheKey(itemId int) string {
	return fmt.Sprintf("ItemStock:%d", itemId)
}

func CreateInventoryItem(ctx context.Context, input *NewInventoryItem) (*InventoryItem, error) {
	db := config.GetDB()

	var count int64
	if err := db.WithContext(ctx).Model(&InventoryItem{}).Where("sku = ?", input.SKU).Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, errors.New("duplicate sku")
	}

	item := InventoryItem{
		SKU:       input.SKU,
		Name:      input.Name,
		UnitPrice: input.UnitPrice,
	}
	if err := db.WithContext(ctx).Create(&item).Error; err != nil {
		return nil, err
	}
	return &item, nil
}

func GetInventoryItem(ctx context.Context, id int) (*InventoryItem, error) {
	db := config.GetDB()
	var item InventoryItem
	if err := db.WithContext(ctx).Where("id = ?", id).First(&item).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &item, nil
}

func GetInventoryItems(ctx context.Context) ([]*InventoryItem, error) {
	db := config.GetDB()
	var items []*InventoryItem
	if err := db.WithContext(ctx).Order("id").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// CurrentStock serves reads from the cache; the movement ledger remains the
// source of truth and repopulates the entry on a miss.
func CurrentStock(ctx context.Context, itemId int) (decimal.Decimal, error) {
	var cached string
	exists, err := config.GetRedisObject(itemStockCacheKey(itemId), &cached)
	if err == nil && exists {
		if qty, perr := decimal.NewFromString(cached); perr == nil {
			return qty, nil
		}
	}

	qty, err := ledgerStock(config.GetDB().WithContext(ctx), itemId)
	if err != nil {
		return decimal.Zero, err
	}

	if err := config.SetRedisObject(itemStockCacheKey(itemId), qty.String(), InventoryCacheTTL); err != nil {
		config.LogError(config.GetLogger(), "item.go", "CurrentStock", "cache stock", itemId, err)
	}
	return qty, nil
}

// ledgerStock sums committed deltas inside the caller's transaction so a
// reservation sees its own uncommitted writes.
func ledgerStock(tx *gorm.DB, itemId int) (decimal.Decimal, error) {
	var exists int64
	if err := tx.Model(&InventoryItem{}).Where("id = ?", itemId).Count(&exists).Error; err != nil {
		return decimal.Zero, err
	}
	if exists == 0 {
		return decimal.Zero, ErrItemNotFound
	}

	var total decimal.NullDecimal
	if err := tx.Model(&StockMovement{}).Where("item_id = ?", itemId).
		Select("SUM(qty_delta)").Scan(&total).Error; err != nil {
		return decimal.Zero, err
	}
	if !total.Valid {
		return decimal.Zero, nil
	}
	return total.Decimal, nil
}
