// Package repository defines error types that are reused across multiple
// repositories. These sentinel values allow higher layers such as
// services to distinguish between different failure scenarios. For
// example, ErrForbidden indicates that the current user is not
// the owner of a patient or upload, while ErrDuplicatePatient signals
// that the owner already registered a patient with the same ID number.
package repository

import (
	"errors"

	"github.com/go-sql-driver/mysql"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// ErrForbidden is returned when the caller attempts an operation
// on a resource they do not own. Services translate this into a
// forbidden error (HTTP 403).
var ErrForbidden = errors.New("forbidden")

// ErrEmailExists is returned when a user with the same email exists.
var ErrEmailExists = errors.New("email already exists")

// ErrDuplicatePatient is returned when the owner already has a patient
// with the given ID number.
var ErrDuplicatePatient = errors.New("patient id number already exists")

// ErrTokenInvalid is returned when a password reset token is unknown,
// expired or already used.
var ErrTokenInvalid = errors.New("reset token invalid")

// mysqlDuplicateEntry is the server error number for unique key violations.
const mysqlDuplicateEntry = 1062

func isDuplicate(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == mysqlDuplicateEntry
}
