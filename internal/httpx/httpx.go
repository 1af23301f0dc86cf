// Package httpx carries the request admission pipeline: the JSON helpers,
// the error taxonomy, and the middleware every request traverses before a
// handler sees it.
package httpx

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/lib/pq"
)

// JSON writes a JSON response.
func JSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// Detail writes the canonical {"detail": ...} error envelope.
func Detail(w http.ResponseWriter, code int, msg string) {
	JSON(w, code, map[string]string{"detail": msg})
}

// Error is an HTTP-mappable error. Handlers return these; the dispatcher
// writes the envelope.
type Error struct {
	Status int
	Detail string
}

func (e *Error) Error() string { return e.Detail }

// Errorf builds an Error with a formatted detail string.
func Errorf(status int, format string, args ...any) *Error {
	return &Error{Status: status, Detail: fmt.Sprintf(format, args...)}
}

// Common taxonomy constructors. Login failure is deliberately opaque so the
// response cannot be used for user enumeration, and ownership failures reuse
// NotFound so existence is not leaked.
func MissingAPIKey() *Error {
	return &Error{http.StatusNotAcceptable, "Missing required header: X-API-Key"}
}
func InvalidAPIKey() *Error { return &Error{http.StatusUnauthorized, "Invalid API key"} }
func InvalidCredentials() *Error {
	return &Error{http.StatusUnauthorized, "Incorrect email or password"}
}
func InvalidToken() *Error {
	return &Error{http.StatusUnauthorized, "Could not validate credentials"}
}
func InactiveUser() *Error { return &Error{http.StatusBadRequest, "Inactive user"} }
func Forbidden(msg string) *Error {
	if msg == "" {
		msg = "Not enough permissions"
	}
	return &Error{http.StatusForbidden, msg}
}
func NotFound(what string) *Error {
	return &Error{http.StatusNotFound, what + " not found"}
}
func Conflict(msg string) *Error   { return &Error{http.StatusConflict, msg} }
func Validation(msg string) *Error { return &Error{http.StatusUnprocessableEntity, msg} }
func BadRequest(msg string) *Error { return &Error{http.StatusBadRequest, msg} }
func Unavailable(msg string) *Error {
	return &Error{http.StatusServiceUnavailable, msg}
}

// Postgres error classes the handlers care about.
const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
	pqUndefinedColumn     = "42703"
	pqUndefinedTable      = "42P01"
)

// MapDBError converts driver errors into taxonomy errors. Unique violations
// become 409 so callers can apply their idempotency rules; shape violations
// become 400; missing rows become 404.
func MapDBError(err error, entity string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return NotFound(entity)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch string(pqErr.Code) {
		case pqUniqueViolation:
			return Conflict(entity + " already exists")
		case pqForeignKeyViolation, pqUndefinedColumn:
			return BadRequest(pqErr.Message)
		case pqUndefinedTable:
			return NotFound(entity)
		}
	}
	return err
}

// IsUniqueViolation reports whether err is a Postgres unique-key violation.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == pqUniqueViolation
}

// WriteError maps an error onto the wire. Anything outside the taxonomy is a
// 500 with the stringified error as detail.
func WriteError(w http.ResponseWriter, err error) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		Detail(w, apiErr.Status, apiErr.Detail)
		return
	}
	Detail(w, http.StatusInternalServerError, err.Error())
}
