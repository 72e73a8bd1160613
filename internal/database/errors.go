package database

import (
	"database/sql"
	"errors"

	"github.com/lib/pq"
)

var (
	ErrNotFound          = errors.New("record not found")
	ErrDuplicateUsername = errors.New("username already exists")
	ErrDuplicateEmail    = errors.New("email already registered")
)

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"

	usernameConstraint  = "users_username_key"
	emailConstraint     = "users_email_key"
	directKeyConstraint = "conversations_direct_key_key"
)

// mapError converts driver errors into the package's sentinel errors.
// Anything it does not recognize is returned unchanged.
func mapError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case uniqueViolation:
			switch pqErr.Constraint {
			case usernameConstraint:
				return ErrDuplicateUsername
			case emailConstraint:
				return ErrDuplicateEmail
			}
		case foreignKeyViolation:
			return ErrNotFound
		}
	}

	return err
}

func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation && pqErr.Constraint == constraint
}
