package models

import (
	"log"

	"github.com/mmdatafocus/purchase_backend/config"
	"gorm.io/gorm"
)

func allModels() []interface{} {
	return []interface{}{
		&Vendor{}, &Shop{},
		&Product{}, &VendorProductMapping{},
		&ParsedInvoice{}, &ParsedInvoiceLine{}, &ReconciliationTask{},
		&DiscountRule{},
		&PurchaseReceipt{}, &PurchaseReceiptLine{},
		&InventoryBatch{}, &InventoryReservation{},
		&OutboxEvent{},
		&IdempotencyKey{},
	}
}

func MigrateTable() {
	if err := Migrate(config.GetDB()); err != nil {
		log.Fatal(err)
	}
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(allModels()...)
}
