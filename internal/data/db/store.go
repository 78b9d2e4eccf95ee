package db

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	apperr "github.com/yungbote/longcovid-cohort/internal/pkg/errors"
	"github.com/yungbote/longcovid-cohort/internal/platform/logger"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type StoreConfig struct {
	Driver  string `yaml:"driver"`
	DSN     string `yaml:"dsn"`
	Migrate bool   `yaml:"migrate"`
}

func (c StoreConfig) Validate() error {
	switch c.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return apperr.InvalidConfig("store driver must be postgres or sqlite, got %q", c.Driver)
	}
	if strings.TrimSpace(c.DSN) == "" {
		return apperr.InvalidConfig("store dsn is empty")
	}
	return nil
}

// Store holds the snapshot database. Unlike Source it is pooled and
// written to.
type Store struct {
	db     *gorm.DB
	log    *logger.Logger
	driver string
}

func OpenStore(cfg StoreConfig, logg *logger.Logger) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	serviceLog := logg.With("service", "Store", "driver", cfg.Driver)

	gormLog := gormLogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormLogger.Config{
			SlowThreshold:             1 * time.Second,
			LogLevel:                  gormLogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	var dialector gorm.Dialector
	switch cfg.Driver {
	case DriverPostgres:
		dialector = postgres.Open(cfg.DSN)
	case DriverSQLite:
		dialector = sqlite.Open(cfg.DSN)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		CreateBatchSize:                          500,
		Logger:                                   gormLog,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Driver, err)
	}

	if cfg.Migrate {
		if err := AutoMigrateAll(db); err != nil {
			return nil, fmt.Errorf("failed to migrate store: %w", err)
		}
	}
	serviceLog.Info("Snapshot store opened", "migrate", cfg.Migrate)
	return &Store{db: db, log: serviceLog, driver: cfg.Driver}, nil
}

func (s *Store) DB() *gorm.DB { return s.db }

func (s *Store) Driver() string { return s.driver }

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
