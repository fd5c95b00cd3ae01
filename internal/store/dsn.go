package store

import (
	"strconv"
	"strings"
)

const defaultStatementTimeoutMs = 60000

// WithStatementTimeout appends statement_timeout to a DSN that does not
// already set one. Both URL and key=value forms are supported.
func WithStatementTimeout(dsn string, timeoutMs int) string {
	if dsn == "" || strings.Contains(dsn, "statement_timeout") {
		return dsn
	}
	if timeoutMs <= 0 {
		timeoutMs = defaultStatementTimeoutMs
	}
	param := "statement_timeout=" + strconv.Itoa(timeoutMs)

	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		if strings.Contains(dsn, "?") {
			return dsn + "&" + param
		}
		return dsn + "?" + param
	}
	return dsn + " " + param
}
