package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/lib/pq"
)

// ErrRegistryUnavailable is the retryable failure surfaced when the database
// cannot be reached.
var ErrRegistryUnavailable = errors.New("registry unavailable")

func IsNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// IsUnavailable reports connection-level failures as opposed to query errors.
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "08", "53", "57": // connection exception, insufficient resources, operator intervention
			return true
		}
	}
	return false
}

func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func IsForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23503"
}

// QueryError converts a failed query into an API error: 503 when the database
// is unreachable, otherwise 500 with message.
func QueryError(err error, message string) error {
	if IsUnavailable(err) {
		return httperror.NewHTTPError(http.StatusServiceUnavailable, ErrRegistryUnavailable.Error())
	}
	return httperror.NewHTTPError(http.StatusInternalServerError, message)
}

// IsStatus reports whether err is an API error carrying code.
func IsStatus(err error, code int) bool {
	return err != nil && httperror.IsHTTPError(err) && httperror.GetStatusCode(err) == code
}
