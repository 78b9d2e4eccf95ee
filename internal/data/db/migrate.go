package db

import (
	"gorm.io/gorm"

	"github.com/yungbote/longcovid-cohort/internal/domain/snapshot"
)

func AutoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(
		// extract
		&snapshot.Vaccination{},
		&snapshot.TestResult{},
		&snapshot.VitalSample{},
		&snapshot.User{},

		// compute
		&snapshot.Baseline{},
		&snapshot.Deviation{},
		&snapshot.Cohort{},

		// ledger
		&snapshot.PipelineRun{},
	)
}
