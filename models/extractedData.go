package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/shipdocs_backend/config"
	"bitbucket.org/mmdatafocus/shipdocs_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ExtractedShipmentData is the immutable evidence produced by the extraction
// pipeline for one upload attempt. It is consumed, never edited in place:
// corrections insert a new row with a bumped version for the same document hash.
type ExtractedShipmentData struct {
	ID                     int             `gorm:"primary_key" json:"id"`
	DocumentHash           string          `gorm:"size:64;not null;index:idx_extracted_doc_version,priority:1" json:"document_hash"`
	Version                int             `gorm:"not null;default:1;index:idx_extracted_doc_version,priority:2" json:"version"`
	BlobURL                string          `gorm:"size:512" json:"blob_url"`
	RawText                string          `gorm:"type:text" json:"raw_text"`
	CustomerNameGuess      string          `gorm:"size:255" json:"customer_name_guess"`
	CustomerNameConfidence float64         `json:"customer_name_confidence"`
	ShipmentDateGuess      *time.Time      `json:"shipment_date_guess"`
	ShipmentDateConfidence float64         `json:"shipment_date_confidence"`
	TotalAmountGuess       decimal.Decimal `gorm:"type:decimal(20,4)" json:"total_amount_guess"`
	TotalAmountConfidence  float64         `json:"total_amount_confidence"`
	OverallConfidence      float64         `gorm:"not null" json:"overall_confidence"`
	State                  PipelineState   `gorm:"size:20;not null" json:"state"`
	StateReason            *ReviewReason   `gorm:"size:30" json:"state_reason"`
	CreatedBy              int             `gorm:"not null" json:"created_by"`
	CreatedAt              time.Time       `gorm:"autoCreateTime" json:"created_at"`

	Items []*ExtractedItem `gorm:"foreignKey:ExtractedDataId" json:"items"`
}

// TableName pins the irregular plural.
func (ExtractedShipmentData) TableName() string {
	return "extracted_shipment_data"
}

type ExtractedItem struct {
	ID              int             `gorm:"primary_key" json:"id"`
	ExtractedDataId int             `gorm:"index;not null" json:"extracted_data_id"`
	DescriptionText string          `gorm:"size:255;not null" json:"description_text"`
	QuantityGuess   decimal.Decimal `gorm:"type:decimal(20,4)" json:"quantity_guess"`
	UnitPriceGuess  decimal.Decimal `gorm:"type:decimal(20,4)" json:"unit_price_guess"`
	Confidence      float64         `gorm:"not null" json:"confidence"`
}

// SaveExtractedData persists a new version for the document. The previous
// version, if any, stays untouched.
func SaveExtractedData(ctx context.Context, data *ExtractedShipmentData) (*ExtractedShipmentData, error) {
	db := config.GetDB()

	var latest int
	if err := db.WithContext(ctx).Model(&ExtractedShipmentData{}).
		Where("document_hash = ?", data.DocumentHash).
		Select("COALESCE(MAX(version), 0)").Scan(&latest).Error; err != nil {
		return nil, err
	}
	data.Version = latest + 1

	if err := db.WithContext(ctx).Create(data).Error; err != nil {
		return nil, err
	}
	return data, nil
}

func GetExtractedData(ctx context.Context, id int) (*ExtractedShipmentData, error) {
	db := config.GetDB()
	var data ExtractedShipmentData
	if err := db.WithContext(ctx).Preload("Items").Where("id = ?", id).First(&data).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &data, nil
}

// LatestExtractedData returns the newest version for a document hash.
func LatestExtractedData(ctx context.Context, documentHash string) (*ExtractedShipmentData, error) {
	db := config.GetDB()
	var data ExtractedShipmentData
	if err := db.WithContext(ctx).Preload("Items").
		Where("document_hash = ?", documentHash).
		Order("version DESC").
		First(&data).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &data, nil
}
