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

// OutboundRecord is the committed result of reconciling one shipping document.
// The unique document_hash column is the idempotency key: re-uploading the
// same document can never create a second record or movement set.
type OutboundRecord struct {
	ID               int             `gorm:"primary_key" json:"id"`
	DocumentHash     string          `gorm:"size:64;not null;unique" json:"document_hash"`
	CustomerId       int             `gorm:"index;not null" json:"customer_id"`
	TotalAmount      decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"total_amount"`
	ShipmentDate     time.Time       `gorm:"not null" json:"shipment_date"`
	Status           RecordStatus    `gorm:"size:12;not null;index" json:"status"`
	ReservationId    string          `gorm:"size:36;not null" json:"reservation_id"`
	ExtractedDataId  int             `gorm:"not null" json:"extracted_data_id"`
	CreatedBy        int             `gorm:"not null" json:"created_by"`
	CreatedAt        time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime" json:"updated_at"`

	Items []*OutboundItem `gorm:"foreignKey:RecordId" json:"items"`
}

type OutboundItem struct {
	ID              int             `gorm:"primary_key" json:"id"`
	RecordId        int             `gorm:"index;not null" json:"record_id"`
	InventoryItemId int             `gorm:"index;not null" json:"inventory_item_id"`
	Quantity        decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"quantity"`
	UnitPrice       decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"unit_price"`
	TotalPrice      decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"total_price"`
}

// ValidateTotals enforces the line-item arithmetic: each line's total equals
// quantity times unit price, and their sum equals the record total.
func (r *OutboundRecord) ValidateTotals() error {
	sum := decimal.Zero
	for _, item := range r.Items {
		expected := item.Quantity.Mul(item.UnitPrice)
		if !item.TotalPrice.Equal(expected) {
			return fmt.Errorf("line total %s does not equal %s x %s",
				item.TotalPrice, item.Quantity, item.UnitPrice)
		}
		sum = sum.Add(item.TotalPrice)
	}
	if !sum.Equal(r.TotalAmount) {
		return fmt.Errorf("record total %s does not equal line sum %s", r.TotalAmount, sum)
	}
	return nil
}

func GetOutboundRecord(ctx context.Context, id int) (*OutboundRecord, error) {
	db := config.GetDB()
	var record OutboundRecord
	if err := db.WithContext(ctx).Preload("Items").Where("id = ?", id).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &record, nil
}

// GetOutboundRecordByHash is the idempotency lookup used before reconciling.
func GetOutboundRecordByHash(ctx context.Context, documentHash string) (*OutboundRecord, error) {
	db := config.GetDB()
	var record OutboundRecord
	if err := db.WithContext(ctx).Preload("Items").
		Where("document_hash = ?", documentHash).
		First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &record, nil
}

var recordTransitions = map[RecordStatus][]RecordStatus{
	RecordStatusPending:   {RecordStatusShipped, RecordStatusCancelled},
	RecordStatusShipped:   {RecordStatusDelivered, RecordStatusCancelled},
	RecordStatusDelivered: {},
	RecordStatusCancelled: {},
}

func canTransition(from, to RecordStatus) bool {
	for _, allowed := range recordTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// AdvanceOutboundRecord moves the record forward (pending -> shipped ->
// delivered). Cancellation goes through CancelOutboundRecord because it must
// compensate the ledger.
func AdvanceOutboundRecord(ctx context.Context, id int, to RecordStatus) (*OutboundRecord, error) {
	if to == RecordStatusCancelled {
		return nil, errors.New("use CancelOutboundRecord to cancel")
	}

	record, err := GetOutboundRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canTransition(record.Status, to) {
		return nil, fmt.Errorf("cannot transition record from %s to %s", record.Status, to)
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Model(&OutboundRecord{}).
		Where("id = ?", id).Update("status", to).Error; err != nil {
		return nil, err
	}
	record.Status = to

	InvalidateEntity(ctx, EntityTypeOutboundRecord, fmt.Sprint(record.ID))
	return record, nil
}

// CancelOutboundRecord cancels the record and writes the compensating release
// movements in the same transaction.
func CancelOutboundRecord(ctx context.Context, id int, actorId int) (*OutboundRecord, error) {
	record, err := GetOutboundRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canTransition(record.Status, RecordStatusCancelled) {
		return nil, fmt.Errorf("cannot cancel record in status %s", record.Status)
	}

	db := config.GetDB()
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ReleaseReservation(ctx, tx, record.ReservationId, actorId); err != nil {
			return err
		}
		return tx.Model(&OutboundRecord{}).
			Where("id = ?", id).Update("status", RecordStatusCancelled).Error
	})
	if err != nil {
		return nil, err
	}
	record.Status = RecordStatusCancelled

	for _, item := range record.Items {
		InvalidateEntity(ctx, EntityTypeInventoryItem, fmt.Sprint(item.InventoryItemId))
	}
	InvalidateEntity(ctx, EntityTypeCustomer, fmt.Sprint(record.CustomerId))
	InvalidateEntity(ctx, EntityTypeOutboundRecord, fmt.Sprint(record.ID))
	return record, nil
}

// RecordsForMonth lists committed records whose shipment date falls in the
// given month. Cancelled records are excluded from summaries.
func RecordsForMonth(ctx context.Context, year int, month time.Month) ([]*OutboundRecord, error) {
	db := config.GetDB()
	start := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)

	var records []*OutboundRecord
	if err := db.WithContext(ctx).Preload("Items").
		Where("shipment_date >= ? AND shipment_date < ? AND status <> ?", start, end, RecordStatusCancelled).
		Order("shipment_date, id").
		Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}
