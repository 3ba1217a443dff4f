package models

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"bitbucket.org/mmdatafocus/shipdocs_backend/config"
	"bitbucket.org/mmdatafocus/shipdocs_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MonthlySummary is a derived aggregate over committed outbound records.
// Immutable once generated: its cache entry is invalidated only by explicit
// regeneration, never by inventory or customer mutation.
type MonthlySummary struct {
	Year  int `gorm:"primaryKey" json:"year"`
	Month int `gorm:"primaryKey" json:"month"`

	TotalShipments int             `gorm:"not null" json:"total_shipments"`
	TotalAmount    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_amount"`
	TotalQuantity  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_quantity"`

	GeneratedBy int       `gorm:"not null" json:"generated_by"`
	GeneratedAt time.Time `json:"generated_at"`
}

func summaryCacheId(year int, month time.Month) string {
	return fmt.Sprintf("%04d-%02d", year, int(month))
}

// RegenerateMonthlySummary recomputes the aggregate from the record table,
// upserts it, and drops the old cache entry.
func RegenerateMonthlySummary(ctx context.Context, year int, month time.Month, actorId int) (*MonthlySummary, error) {
	records, err := RecordsForMonth(ctx, year, month)
	if err != nil {
		return nil, err
	}

	summary := MonthlySummary{
		Year:        year,
		Month:       int(month),
		GeneratedBy: actorId,
		GeneratedAt: time.Now().UTC(),
	}
	for _, record := range records {
		summary.TotalShipments++
		summary.TotalAmount = summary.TotalAmount.Add(record.TotalAmount)
		for _, item := range record.Items {
			summary.TotalQuantity = summary.TotalQuantity.Add(item.Quantity)
		}
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "year"}, {Name: "month"}},
		UpdateAll: true,
	}).Create(&summary).Error; err != nil {
		return nil, err
	}

	InvalidateEntity(ctx, EntityTypeMonthlySummary, summaryCacheId(year, month))
	return &summary, nil
}

// GetMonthlySummary serves the generated aggregate through the 24h cache.
func GetMonthlySummary(ctx context.Context, year int, month time.Month) (*MonthlySummary, error) {
	cacheKey := "MonthlySummary:" + summaryCacheId(year, month)

	var cached MonthlySummary
	exists, err := config.GetRedisObject(cacheKey, &cached)
	if err == nil && exists {
		return &cached, nil
	}

	db := config.GetDB()
	var summary MonthlySummary
	if err := db.WithContext(ctx).
		Where("year = ? AND month = ?", year, int(month)).
		First(&summary).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}

	if err := config.SetRedisObject(cacheKey, &summary, SummaryCacheTTL); err != nil {
		config.LogError(config.GetLogger(), "monthlySummary.go", "GetMonthlySummary", "cache summary", cacheKey, err)
	}
	return &summary, nil
}

// ExportMonthlySummaryExcel writes the month's records as a spreadsheet.
func ExportMonthlySummaryExcel(ctx context.Context, year int, month time.Month, w io.Writer) error {
	records, err := RecordsForMonth(ctx, year, month)
	if err != nil {
		return err
	}

	f := excelize.NewFile()
	sheet := "Sheet1"
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}

	f.SetCellValue(sheet, "A1", "RecordId")
	f.SetCellValue(sheet, "B1", "CustomerId")
	f.SetCellValue(sheet, "C1", "ShipmentDate")
	f.SetCellValue(sheet, "D1", "Status")
	f.SetCellValue(sheet, "E1", "TotalAmount")

	for i, record := range records {
		row := fmt.Sprint(i + 2)
		f.SetCellValue(sheet, "A"+row, record.ID)
		f.SetCellValue(sheet, "B"+row, record.CustomerId)
		f.SetCellValue(sheet, "C"+row, record.ShipmentDate.Format("2006-01-02"))
		f.SetCellValue(sheet, "D"+row, string(record.Status))
		f.SetCellValue(sheet, "E"+row, record.TotalAmount.String())
	}

	return f.Write(w)
}
