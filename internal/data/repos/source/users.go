package source

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/yungbote/longcovid-cohort/internal/data/db"
	"github.com/yungbote/longcovid-cohort/internal/domain/user"
	"github.com/yungbote/longcovid-cohort/internal/platform/logger"
)

type UserRepo interface {
	List(ctx context.Context, userIDs []int64) ([]user.Record, error)
}

type userRepo struct {
	src *db.Source
	log *logger.Logger
}

func NewUserRepo(src *db.Source, baseLog *logger.Logger) UserRepo {
	return &userRepo{src: src, log: baseLog.With("repo", "UserRepo")}
}

const usersSQL = `
SELECT
	users.user_id::int8,
	users.birth_date::float8,
	users.salutation::float8,
	users.plz::text
FROM datenspende.users
WHERE users.user_id = ANY($1)
ORDER BY users.user_id`

func (r *userRepo) List(ctx context.Context, userIDs []int64) ([]user.Record, error) {
	if len(userIDs) == 0 {
		return []user.Record{}, nil
	}
	out, err := db.Collect(ctx, r.src, "users", usersSQL, []any{userIDs}, scanUser)
	if err != nil {
		return nil, err
	}
	r.log.Info("Loaded users", "requested", len(userIDs), "rows", len(out))
	return out, nil
}

func scanUser(row pgx.CollectableRow) (user.Record, error) {
	var (
		u   user.Record
		zip *string
	)
	if err := row.Scan(&u.UserID, &u.BirthYear, &u.Salutation, &zip); err != nil {
		return user.Record{}, err
	}
	if zip != nil {
		u.ZipCode = *zip
	}
	return u, nil
}
