package db

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	apperr "github.com/yungbote/longcovid-cohort/internal/pkg/errors"
)

// ClassifyError tags failures of the raw-data database that make the run
// pointless to continue as ErrUpstreamUnavailable. Everything else is
// wrapped with op and returned as is.
func ClassifyError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, apperr.ErrUpstreamUnavailable) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErrorClass(pgErr.Code) {
		case "08", "53", "57":
			// connection_exception, insufficient_resources, operator_intervention
			return apperr.Upstream(op, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return apperr.Upstream(op, err)
	}
	if pgconn.Timeout(err) {
		return apperr.Upstream(op, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return apperr.Upstream(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func pgErrorClass(code string) string {
	code = strings.TrimSpace(code)
	if len(code) < 2 {
		return ""
	}
	return code[:2]
}
