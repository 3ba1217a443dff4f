package models

import (
	"log"

	"bitbucket.org/mmdatafocus/shipdocs_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&User{},
		&Customer{},
		&InventoryItem{},
		&StockMovement{}, &StockReservation{},
		&ExtractedShipmentData{}, &ExtractedItem{},
		&OutboundRecord{}, &OutboundItem{},
		&ReviewTask{},
		&MonthlySummary{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
