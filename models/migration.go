package models

import (
	"log"

	"bitbucket.org/vetmanager/caja_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Clinic{}, &Location{}, &User{},
		&CashDrawer{}, &CashTransaction{}, &Shift{},
		&History{},
		&IdempotencyKey{}, &CashEventRecord{},
		&DailyCashSummary{},
		&CashAttachment{},
		&PosConnection{}, &PosSyncRun{}, &PosSyncError{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
