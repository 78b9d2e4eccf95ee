package app

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/yungbote/longcovid-cohort/internal/clients/redis"
	"github.com/yungbote/longcovid-cohort/internal/data/db"
	"github.com/yungbote/longcovid-cohort/internal/modules/vaccination"
	vitalsmod "github.com/yungbote/longcovid-cohort/internal/modules/vitals"
	"github.com/yungbote/longcovid-cohort/internal/pipeline"
	apperr "github.com/yungbote/longcovid-cohort/internal/pkg/errors"
	"github.com/yungbote/longcovid-cohort/internal/platform/envutil"
	"github.com/yungbote/longcovid-cohort/internal/platform/gcp"
)

const ConfigFileEnv = "COHORT_CONFIG_FILE"

type RedisConfig struct {
	Addr    string `yaml:"addr"`
	Channel string `yaml:"channel"`
}

type ExportConfig struct {
	// Dir enables the local directory sink.
	Dir    string                  `yaml:"dir"`
	Bucket gcp.ObjectStorageConfig `yaml:"bucket"`
}

type Config struct {
	LogMode     string          `yaml:"log_mode"`
	Environment string          `yaml:"environment"`
	SourceDSN   string          `yaml:"source_dsn"`
	Store       db.StoreConfig  `yaml:"store"`
	Pipeline    pipeline.Config `yaml:"pipeline"`
	Redis       RedisConfig     `yaml:"redis"`
	Export      ExportConfig    `yaml:"export"`
	MetricsFile string          `yaml:"metrics_file"`
}

func DefaultConfig() Config {
	return Config{
		LogMode:     "development",
		Environment: "local",
		Store: db.StoreConfig{
			Driver:  db.DriverSQLite,
			DSN:     "cohort.db",
			Migrate: true,
		},
		Pipeline: pipeline.DefaultConfig(),
		Redis:    RedisConfig{Channel: redis.DefaultChannel},
	}
}

// LoadConfig layers defaults, the YAML file at path (or $COHORT_CONFIG_FILE
// when path is empty) and environment overrides, then validates.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if strings.TrimSpace(path) == "" {
		path = envutil.String(ConfigFileEnv, "")
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := decodeYAML(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decodeYAML(raw []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return errors.Join(apperr.ErrInvalidConfig, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	cfg.LogMode = envutil.String("LOG_MODE", cfg.LogMode)
	cfg.Environment = envutil.String("APP_ENV", cfg.Environment)
	cfg.SourceDSN = envutil.String("SOURCE_DSN", cfg.SourceDSN)
	cfg.MetricsFile = envutil.String("METRICS_FILE", cfg.MetricsFile)

	cfg.Store.Driver = envutil.String("STORE_DRIVER", cfg.Store.Driver)
	cfg.Store.DSN = envutil.String("STORE_DSN", cfg.Store.DSN)
	cfg.Store.Migrate = envutil.Bool("STORE_MIGRATE", cfg.Store.Migrate)

	cfg.Redis.Addr = envutil.String("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Channel = envutil.String("REDIS_CHANNEL", cfg.Redis.Channel)

	p := &cfg.Pipeline
	p.SurveyCutoffMillis = envutil.Int64("SURVEY_CUTOFF_MS", p.SurveyCutoffMillis)
	p.VitalsMaxDate = envutil.Date("VITALS_MAX_DATE", p.VitalsMaxDate)
	p.Vaccination.Source = vaccination.Source(envutil.String("VACCINATION_SOURCE", string(p.Vaccination.Source)))
	p.Vaccination.StrictDates = envutil.Bool("STRICT_DATES", p.Vaccination.StrictDates)
	p.TestResults.StrictDates = envutil.Bool("STRICT_DATES", p.TestResults.StrictDates)
	p.Cohorts.OmicronCutoff = envutil.Date("OMICRON_CUTOFF", p.Cohorts.OmicronCutoff)
	p.Preprocess.ExcludedDevices = envutil.IntList("EXCLUDED_DEVICES", p.Preprocess.ExcludedDevices)
	p.Preprocess.AppleSleepCutoff = envutil.Date("APPLE_SLEEP_CUTOFF", p.Preprocess.AppleSleepCutoff)
	p.Preprocess.NormalizeDaily = envutil.Bool("NORMALIZE_DAILY", p.Preprocess.NormalizeDaily)
	p.Vitals.WindowMinWeek = envutil.Int("WINDOW_MIN_WEEK", p.Vitals.WindowMinWeek)
	p.Vitals.WindowMaxWeek = envutil.Int("WINDOW_MAX_WEEK", p.Vitals.WindowMaxWeek)
	p.Vitals.MinPointsPerWeek = envutil.Int("MIN_POINTS_PER_WEEK", p.Vitals.MinPointsPerWeek)
	p.Vitals.MinWeeksForBaseline = envutil.Int("MIN_WEEKS_FOR_BASELINE", p.Vitals.MinWeeksForBaseline)
	p.Vitals.ImplausibleThreshold = envutil.Float("IMPLAUSIBLE_THRESHOLD", p.Vitals.ImplausibleThreshold)
	p.Vitals.BaselineMode = vitalsmod.BaselineMode(envutil.String("BASELINE_MODE", string(p.Vitals.BaselineMode)))
	p.Users.ReferenceYear = envutil.Float("AGE_REFERENCE_YEAR", p.Users.ReferenceYear)

	cfg.Export.Dir = envutil.String("EXPORT_DIR", cfg.Export.Dir)
	bucket, err := gcp.ResolveObjectStorageConfigFromEnv(cfg.Export.Bucket)
	if err != nil {
		return errors.Join(apperr.ErrInvalidConfig, err)
	}
	cfg.Export.Bucket = bucket
	return nil
}

func (c Config) Validate() error {
	if err := c.Store.Validate(); err != nil {
		return err
	}
	if err := c.Pipeline.Validate(); err != nil {
		return err
	}
	if c.Export.Dir != "" && c.Export.Bucket.Enabled() {
		return apperr.InvalidConfig("export: set either a directory or a bucket, not both")
	}
	return nil
}

// ExportEnabled reports whether any export sink is configured.
func (c Config) ExportEnabled() bool {
	return c.Export.Dir != "" || c.Export.Bucket.Enabled()
}
