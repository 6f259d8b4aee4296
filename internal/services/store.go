package services

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sirdesai22/leadsync/internal/apperr"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const uniqueViolation = "23505"

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// classify maps a store error onto the taxonomy. Typed errors raised inside
// a transaction callback pass through untouched.
func classify(op, entity, key string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return apperr.NotFound(entity, key)
	case apperr.IsValidation(err), apperr.IsNotFound(err), apperr.IsUnavailable(err):
		return err
	}
	return apperr.Unavailable(op, err)
}

// forUpdate row-locks the selected rows on Postgres. SQLite serialises
// writers on its own.
func forUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "postgres" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}
