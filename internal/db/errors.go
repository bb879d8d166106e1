package db

import (
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"github.com/Spok95/ct-filing/internal/apperr"
)

const (
	sqlStateFK        = "23503"
	sqlStateUnique    = "23505"
	sqlStateCheck     = "23514"
	sqlStateExclusion = "23P01"
)

// sqlState достаёт SQLSTATE из ошибки любого из драйверов (pgx в проде, pq в тестах).
func sqlState(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}

// mapErr переводит ошибки хранилища в таксономию ядра. what: что искали/писали.
func mapErr(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NotFound("%s", what)
	}
	switch sqlState(err) {
	case sqlStateFK:
		return apperr.NotFound("%s: referenced record does not exist", what)
	case sqlStateCheck:
		return apperr.Validation("%s: %v", what, err)
	case sqlStateExclusion:
		return apperr.Conflict("%s overlaps an existing period of the same customer and ct type", what)
	case sqlStateUnique:
		return apperr.Conflict("%s already exists", what)
	}
	return err
}
