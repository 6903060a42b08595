package models

import (
	"gorm.io/gorm"
)

func allModels() []interface{} {
	return []interface{}{
		&Department{}, &Unit{}, &JobGrade{}, &JobTitle{}, &Station{}, &Bank{},
		&Staff{}, &BankDetail{},
		&MonthlyPayment{}, &PaymentElement{},
		&HeadcountSession{}, &HeadcountVerification{},
		&Discrepancy{}, &DiscrepancyNote{}, &DiscrepancyResolution{},
		&ImportHistory{}, &ImportError{}, &ImportedRecord{},
		&JobRun{},
	}
}

func MigrateTable(db *gorm.DB) error {
	return db.AutoMigrate(allModels()...)
}
