package app

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/go-cmp/cmp"

	"github.com/yungbote/longcovid-cohort/internal/data/db"
	"github.com/yungbote/longcovid-cohort/internal/modules/vaccination"
	apperr "github.com/yungbote/longcovid-cohort/internal/pkg/errors"
	"github.com/yungbote/longcovid-cohort/internal/platform/gcp"
)

func clearConfigEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		ConfigFileEnv, "LOG_MODE", "APP_ENV", "SOURCE_DSN", "METRICS_FILE",
		"STORE_DRIVER", "STORE_DSN", "STORE_MIGRATE", "REDIS_ADDR", "REDIS_CHANNEL",
		"SURVEY_CUTOFF_MS", "VITALS_MAX_DATE", "VACCINATION_SOURCE", "STRICT_DATES",
		"OMICRON_CUTOFF", "EXCLUDED_DEVICES", "APPLE_SLEEP_CUTOFF", "NORMALIZE_DAILY",
		"WINDOW_MIN_WEEK", "WINDOW_MAX_WEEK", "MIN_POINTS_PER_WEEK", "MIN_WEEKS_FOR_BASELINE",
		"IMPLAUSIBLE_THRESHOLD", "BASELINE_MODE", "AGE_REFERENCE_YEAR", "EXPORT_DIR",
		"EXPORT_GCS_BUCKET", "EXPORT_GCS_PREFIX", "EXPORT_STORAGE_MODE", "STORAGE_EMULATOR_HOST",
		"GOOGLE_APPLICATION_CREDENTIALS_JSON", "GOOGLE_APPLICATION_CREDENTIALS",
	} {
		t.Setenv(k, "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cohort.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	clearConfigEnv(t)
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if diff := cmp.Diff(DefaultConfig().Pipeline, cfg.Pipeline); diff != "" {
		t.Fatalf("pipeline config (-want +got):\n%s", diff)
	}
	if cfg.Store.Driver != db.DriverSQLite || !cfg.Store.Migrate {
		t.Fatalf("store: got=%+v", cfg.Store)
	}
	if cfg.ExportEnabled() {
		t.Fatalf("export: want disabled by default")
	}
}

func TestLoadConfigYAMLThenEnv(t *testing.T) {
	clearConfigEnv(t)
	path := writeConfig(t, `
source_dsn: postgres://reader@db:5432/study
store:
  driver: postgres
  dsn: postgres://writer@db:5432/snapshots
pipeline:
  vitals_max_date: 2022-03-01
  vaccination:
    source: update
  cohorts:
    omicron_cutoff: 2021-12-20
  vitals:
    min_points_per_week: 4
    baseline_mode: samples
  preprocess:
    excluded_devices: [19]
export:
  dir: /tmp/exports
`)
	t.Setenv("MIN_POINTS_PER_WEEK", "5")
	t.Setenv("EXCLUDED_DEVICES", "19,46")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	p := cfg.Pipeline
	if p.Vaccination.Source != vaccination.SourceUpdate {
		t.Fatalf("vaccination source: want=update got=%s", p.Vaccination.Source)
	}
	if want := (civil.Date{Year: 2022, Month: time.March, Day: 1}); p.VitalsMaxDate != want {
		t.Fatalf("vitals_max_date: want=%s got=%s", want, p.VitalsMaxDate)
	}
	if want := (civil.Date{Year: 2021, Month: time.December, Day: 20}); p.Cohorts.OmicronCutoff != want {
		t.Fatalf("omicron_cutoff: want=%s got=%s", want, p.Cohorts.OmicronCutoff)
	}
	if p.Vitals.MinPointsPerWeek != 5 {
		t.Fatalf("min_points_per_week: want env override 5 got=%d", p.Vitals.MinPointsPerWeek)
	}
	if p.Vitals.BaselineMode != "samples" {
		t.Fatalf("baseline_mode: want=samples got=%s", p.Vitals.BaselineMode)
	}
	if diff := cmp.Diff([]int{19, 46}, p.Preprocess.ExcludedDevices); diff != "" {
		t.Fatalf("excluded devices (-want +got):\n%s", diff)
	}
	if p.Vitals.MinWeeksForBaseline != 3 {
		t.Fatalf("min_weeks_for_baseline: want default 3 got=%d", p.Vitals.MinWeeksForBaseline)
	}
	if cfg.Store.Driver != db.DriverPostgres || cfg.Export.Dir != "/tmp/exports" {
		t.Fatalf("config: got store=%+v export=%+v", cfg.Store, cfg.Export)
	}
}

func TestLoadConfigFileFromEnv(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv(ConfigFileEnv, writeConfig(t, "metrics_file: /var/lib/node_exporter/cohort.prom\n"))
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.MetricsFile != "/var/lib/node_exporter/cohort.prom" {
		t.Fatalf("metrics_file: got=%q", cfg.MetricsFile)
	}
}

func TestLoadConfigRejectsUnknownKeys(t *testing.T) {
	clearConfigEnv(t)
	_, err := LoadConfig(writeConfig(t, "pipeline:\n  min_points: 3\n"))
	if !errors.Is(err, apperr.ErrInvalidConfig) {
		t.Fatalf("LoadConfig: want ErrInvalidConfig got %v", err)
	}
}

func TestLoadConfigInvalid(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
	}{
		{"inverted window", map[string]string{"WINDOW_MIN_WEEK": "5", "WINDOW_MAX_WEEK": "2"}},
		{"unknown vaccination source", map[string]string{"VACCINATION_SOURCE": "both"}},
		{"unknown baseline mode", map[string]string{"BASELINE_MODE": "median"}},
		{"unknown store driver", map[string]string{"STORE_DRIVER": "mysql"}},
		{"dir and bucket", map[string]string{"EXPORT_DIR": "/tmp/x", "EXPORT_GCS_BUCKET": "exports"}},
		{"bad storage mode", map[string]string{"EXPORT_GCS_BUCKET": "exports", "EXPORT_STORAGE_MODE": "s3"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clearConfigEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			if _, err := LoadConfig(""); !errors.Is(err, apperr.ErrInvalidConfig) {
				t.Fatalf("LoadConfig: want ErrInvalidConfig got %v", err)
			}
		})
	}
}

func TestLoadConfigBucketExport(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("EXPORT_GCS_BUCKET", "cohort-exports")
	t.Setenv("EXPORT_GCS_PREFIX", "longcovid")
	t.Setenv("STORAGE_EMULATOR_HOST", "http://fake-gcs:4443")
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	b := cfg.Export.Bucket
	if b.Mode != gcp.ObjectStorageModeGCSEmulator || !b.CompatibilityFallback || b.Prefix != "longcovid" {
		t.Fatalf("bucket: got=%+v", b)
	}
	if !cfg.ExportEnabled() {
		t.Fatalf("export: want enabled")
	}
}
