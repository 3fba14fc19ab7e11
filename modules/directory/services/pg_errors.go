package services

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func mapPgErrorToServiceError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return newServiceError(http.StatusNotFound, CodeNotFound, "not found", err)
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}

	switch pgErr.Code {
	case "23505": // unique_violation
		recordWriteConflict("unique")
		switch pgErr.ConstraintName {
		case "departments_identifier_active_key":
			return newServiceError(http.StatusConflict, CodeConflict, "identifier already exists", err)
		case "departments_path_active_key":
			return newServiceError(http.StatusConflict, CodeConflict, "path already occupied", err)
		case "locations_name_active_key":
			return newServiceError(http.StatusConflict, CodeConflict, "location name already exists", err)
		case "positions_name_active_key":
			return newServiceError(http.StatusConflict, CodeConflict, "position name already exists", err)
		default:
			return newServiceError(http.StatusConflict, CodeConflict, "unique constraint violated", err)
		}
	case "23503": // foreign_key_violation
		recordWriteConflict("foreign_key")
		switch pgErr.ConstraintName {
		case "departments_parent_id_fkey":
			return newServiceError(http.StatusUnprocessableEntity, CodeParentNotFound, "parent department not found", err)
		default:
			return newServiceError(http.StatusUnprocessableEntity, CodeParentNotFound, "foreign key violation", err)
		}
	case "40001", "40P01": // serialization_failure, deadlock_detected
		recordWriteConflict("serialization")
		return newServiceError(http.StatusConflict, CodeConflict, "concurrent modification, retry", err)
	default:
		return newServiceError(http.StatusInternalServerError, CodeInternal, fmt.Sprintf("database error (%s)", pgErr.Code), err)
	}
}
