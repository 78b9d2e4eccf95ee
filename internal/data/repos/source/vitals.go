package source

import (
	"context"
	"time"

	"cloud.google.com/go/civil"
	"github.com/jackc/pgx/v5"

	"github.com/yungbote/longcovid-cohort/internal/data/db"
	"github.com/yungbote/longcovid-cohort/internal/domain/vitals"
	"github.com/yungbote/longcovid-cohort/internal/platform/logger"
)

type VitalRepo interface {
	// List returns the daily samples of the given users and vital types up to
	// and including maxDate.
	List(ctx context.Context, userIDs []int64, types []vitals.Type, maxDate civil.Date) ([]vitals.Sample, error)
}

type vitalRepo struct {
	src *db.Source
	log *logger.Logger
}

func NewVitalRepo(src *db.Source, baseLog *logger.Logger) VitalRepo {
	return &vitalRepo{src: src, log: baseLog.With("repo", "VitalRepo")}
}

const vitalsSQL = `
SELECT
	vitaldata.user_id::int8,
	vitaldata.date::date,
	vitaldata.type::int4,
	vitaldata.value::float8,
	vitaldata.source::int4
FROM datenspende.vitaldata
WHERE vitaldata.user_id = ANY($1)
	AND vitaldata.type = ANY($2)
	AND vitaldata.date <= $3`

func (r *vitalRepo) List(ctx context.Context, userIDs []int64, types []vitals.Type, maxDate civil.Date) ([]vitals.Sample, error) {
	if len(userIDs) == 0 || len(types) == 0 {
		return []vitals.Sample{}, nil
	}
	codes := make([]int32, 0, len(types))
	for _, t := range types {
		codes = append(codes, int32(t))
	}
	args := []any{userIDs, codes, maxDate.In(time.UTC)}
	out, err := db.Collect(ctx, r.src, "vitaldata", vitalsSQL, args, scanSample)
	if err != nil {
		return nil, err
	}
	r.log.Info("Loaded vital samples", "users", len(userIDs), "max_date", maxDate.String(), "rows", len(out))
	return out, nil
}

func scanSample(row pgx.CollectableRow) (vitals.Sample, error) {
	var (
		s      vitals.Sample
		date   time.Time
		typ    int32
		device *int32
		value  *float64
	)
	if err := row.Scan(&s.UserID, &date, &typ, &value, &device); err != nil {
		return vitals.Sample{}, err
	}
	s.Date = civil.DateOf(date.UTC())
	s.Type = vitals.Type(typ)
	if device != nil {
		s.DeviceID = int(*device)
	}
	if value != nil {
		s.RawValue = *value
	}
	s.Value = s.RawValue
	return s, nil
}
