package models

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"time"

	"bitbucket.org/mmdatafocus/shipdocs_backend/config"
	"bitbucket.org/mmdatafocus/shipdocs_backend/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StockMovement is the append-only ledger entry. For every item the current
// stock equals the sum of its deltas, and that running sum never goes
// negative.
type StockMovement struct {
	ID            string          `gorm:"size:36;primary_key" json:"id"` // uuid
	ItemId        int             `gorm:"index:idx_stock_move_item_date,priority:1;not null" json:"item_id"`
	QtyDelta      decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"qty_delta"`
	Reason        MovementReason  `gorm:"size:10;not null" json:"reason"`
	ReservationId string          `gorm:"size:36;index;not null" json:"reservation_id"`
	ActorId       int             `gorm:"not null" json:"actor_id"`
	CorrelationId string          `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt     time.Time       `gorm:"autoCreateTime;index:idx_stock_move_item_date,priority:2" json:"created_at"`
}

// StockReservation is the handle returned by Reserve. Deltas are applied at
// reserve time; Commit flips the state only and Release writes compensating
// rows.
type StockReservation struct {
	ID            string            `gorm:"size:36;primary_key" json:"id"` // uuid
	Status        ReservationStatus `gorm:"size:12;not null;index" json:"status"`
	ActorId       int               `gorm:"not null" json:"actor_id"`
	CorrelationId string            `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt     time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}

type ReserveLine struct {
	ItemId   int
	Quantity decimal.Decimal
}

// lockForUpdate takes per-item row locks on MySQL. sqlite (tests) serializes
// writers on its own.
func lockForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "mysql" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}

// Reserve atomically checks and deducts stock for the whole line set inside
// the caller's transaction: either every line passes and all reserve
// movements are written, or none are.
//
// Items are locked in ascending id order so overlapping concurrent
// reservations cannot deadlock.
func Reserve(ctx context.Context, tx *gorm.DB, lines []ReserveLine, correlationId string, actorId int) (*StockReservation, error) {
	if len(lines) == 0 {
		return nil, errors.New("reservation requires at least one line")
	}

	// Merge duplicate items so the check covers the summed quantity.
	merged := make(map[int]decimal.Decimal, len(lines))
	for _, line := range lines {
		if line.Quantity.LessThanOrEqual(decimal.Zero) {
			return nil, errors.New("reservation quantity must be positive")
		}
		merged[line.ItemId] = merged[line.ItemId].Add(line.Quantity)
	}
	itemIds := make([]int, 0, len(merged))
	for id := range merged {
		itemIds = append(itemIds, id)
	}
	sort.Ints(itemIds)

	reservation := StockReservation{
		ID:            uuid.NewString(),
		Status:        ReservationStatusHeld,
		ActorId:       actorId,
		CorrelationId: correlationId,
	}

	for _, itemId := range itemIds {
		var item InventoryItem
		if err := lockForUpdate(tx.WithContext(ctx)).Where("id = ?", itemId).First(&item).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrItemNotFound
			}
			return nil, err
		}

		onHand, err := ledgerStock(tx.WithContext(ctx), itemId)
		if err != nil {
			return nil, err
		}
		qty := merged[itemId]
		if onHand.Sub(qty).IsNegative() {
			return nil, &InsufficientStockError{
				ItemId:    itemId,
				SKU:       item.SKU,
				Requested: qty.String(),
				Available: onHand.String(),
			}
		}
	}

	if err := tx.WithContext(ctx).Create(&reservation).Error; err != nil {
		return nil, err
	}
	for _, itemId := range itemIds {
		movement := StockMovement{
			ID:            uuid.NewString(),
			ItemId:        itemId,
			QtyDelta:      merged[itemId].Neg(),
			Reason:        MovementReasonReserve,
			ReservationId: reservation.ID,
			ActorId:       actorId,
			CorrelationId: correlationId,
		}
		if err := tx.WithContext(ctx).Create(&movement).Error; err != nil {
			return nil, err
		}
	}

	return &reservation, nil
}

// CommitReservation finalizes a held reservation. Deltas were applied at
// reserve time, so this is a state flip only. Idempotent.
func CommitReservation(ctx context.Context, tx *gorm.DB, reservationId string) error {
	var reservation StockReservation
	if err := lockForUpdate(tx.WithContext(ctx)).Where("id = ?", reservationId).First(&reservation).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.ErrorRecordNotFound
		}
		return err
	}

	switch reservation.Status {
	case ReservationStatusCommitted:
		return nil
	case ReservationStatusReleased:
		return errors.New("cannot commit a released reservation")
	}

	return tx.WithContext(ctx).Model(&StockReservation{}).
		Where("id = ?", reservationId).
		Update("status", ReservationStatusCommitted).Error
}

// ReleaseReservation reverses a reservation's deltas with compensating
// `release` rows. Used on downstream failure and on record cancellation.
// Idempotent: releasing twice writes nothing the second time.
func ReleaseReservation(ctx context.Context, tx *gorm.DB, reservationId string, actorId int) error {
	var reservation StockReservation
	if err := lockForUpdate(tx.WithContext(ctx)).Where("id = ?", reservationId).First(&reservation).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.ErrorRecordNotFound
		}
		return err
	}
	if reservation.Status == ReservationStatusReleased {
		return nil
	}

	var reserved []*StockMovement
	if err := tx.WithContext(ctx).
		Where("reservation_id = ? AND reason = ?", reservationId, MovementReasonReserve).
		Find(&reserved).Error; err != nil {
		return err
	}

	for _, movement := range reserved {
		compensating := StockMovement{
			ID:            uuid.NewString(),
			ItemId:        movement.ItemId,
			QtyDelta:      movement.QtyDelta.Neg(),
			Reason:        MovementReasonRelease,
			ReservationId: reservationId,
			ActorId:       actorId,
			CorrelationId: movement.CorrelationId,
		}
		if err := tx.WithContext(ctx).Create(&compensating).Error; err != nil {
			return err
		}
	}

	return tx.WithContext(ctx).Model(&StockReservation{}).
		Where("id = ?", reservationId).
		Update("status", ReservationStatusReleased).Error
}

// AdjustStock writes an `adjust` movement: inbound receipts are positive
// deltas, manual corrections may be negative but can never take the running
// sum below zero.
func AdjustStock(ctx context.Context, itemId int, qtyDelta decimal.Decimal, actorId int) (*StockMovement, error) {
	if qtyDelta.IsZero() {
		return nil, errors.New("adjustment delta must be non-zero")
	}

	var movement *StockMovement
	err := config.GetDB().Transaction(func(tx *gorm.DB) error {
		var item InventoryItem
		if err := lockForUpdate(tx.WithContext(ctx)).Where("id = ?", itemId).First(&item).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrItemNotFound
			}
			return err
		}

		if qtyDelta.IsNegative() {
			onHand, err := ledgerStock(tx.WithContext(ctx), itemId)
			if err != nil {
				return err
			}
			if onHand.Add(qtyDelta).IsNegative() {
				return &InsufficientStockError{
					ItemId:    itemId,
					SKU:       item.SKU,
					Requested: qtyDelta.Neg().String(),
					Available: onHand.String(),
				}
			}
		}

		correlationId, _ := utils.GetCorrelationIdFromContext(ctx)
		movement = &StockMovement{
			ID:            uuid.NewString(),
			ItemId:        itemId,
			QtyDelta:      qtyDelta,
			Reason:        MovementReasonAdjust,
			ActorId:       actorId,
			CorrelationId: correlationId,
		}
		return tx.WithContext(ctx).Create(movement).Error
	})
	if err != nil {
		return nil, err
	}

	InvalidateEntity(ctx, EntityTypeInventoryItem, strconv.Itoa(itemId))
	return movement, nil
}

// GetMovements returns the ledger entries of one item, oldest first.
func GetMovements(ctx context.Context, itemId int) ([]*StockMovement, error) {
	db := config.GetDB()
	var movements []*StockMovement
	if err := db.WithContext(ctx).
		Where("item_id = ?", itemId).
		Order("created_at, id").
		Find(&movements).Error; err != nil {
		return nil, err
	}
	return movements, nil
}
