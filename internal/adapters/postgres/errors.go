package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"imagewatch/internal/domain"
)

const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
	codeInvalidText         = "22P02"
)

// wrapErr maps driver errors onto domain errors. Errors the server answered
// with are returned as-is; anything else means the store was unreachable.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation:
			return domain.ErrDuplicateName
		case codeInvalidText:
			// malformed uuid: no row can match it
			return domain.ErrNotFound
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return &domain.TransportError{Op: op, Err: err}
}
