package app

import (
	"gorm.io/gorm"

	"github.com/yungbote/longcovid-cohort/internal/data/db"
	"github.com/yungbote/longcovid-cohort/internal/data/repos/source"
	"github.com/yungbote/longcovid-cohort/internal/pipeline"
	"github.com/yungbote/longcovid-cohort/internal/platform/logger"
)

// SourceRepos read the raw survey and device tables. They are nil when no
// source DSN is configured.
type SourceRepos struct {
	Answers source.AnswerRepo
	Vitals  source.VitalRepo
	Users   source.UserRepo
}

func wireSourceRepos(src *db.Source, log *logger.Logger) SourceRepos {
	if src == nil {
		return SourceRepos{}
	}
	log.Info("Wiring source repos...")
	return SourceRepos{
		Answers: source.NewAnswerRepo(src, log),
		Vitals:  source.NewVitalRepo(src, log),
		Users:   source.NewUserRepo(src, log),
	}
}

func wireStore(gdb *gorm.DB, log *logger.Logger) pipeline.Store {
	log.Info("Wiring snapshot repos...")
	return pipeline.NewStore(gdb, log)
}
