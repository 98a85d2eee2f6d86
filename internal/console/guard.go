// Package console runs ad-hoc read-only SQL against the document store.
package console

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrForbiddenStatement is returned when the statement contains a denied keyword.
	ErrForbiddenStatement = errors.New("console: only SELECT queries are allowed in this playground")
	// ErrEmptyStatement is returned for blank input.
	ErrEmptyStatement = errors.New("console: statement is empty")
	// ErrUnsupported is returned by backends without a SQL engine.
	ErrUnsupported = errors.New("console: query console requires the postgres store")
)

// deniedKeywords are matched as case-insensitive substrings anywhere in the text. This is a
// coarse filter, not a parser: comments and string literals can hide or trigger matches.
var deniedKeywords = []string{"DROP", "DELETE", "UPDATE", "INSERT", "ALTER", "TRUNCATE", "CREATE"}

// Check rejects blank statements and statements containing a denied keyword.
func Check(sql string) error {
	trimmed := strings.TrimSpace(sql)
	if trimmed == "" {
		return ErrEmptyStatement
	}
	upper := strings.ToUpper(trimmed)
	for _, kw := range deniedKeywords {
		if strings.Contains(upper, kw) {
			return fmt.Errorf("%w (found %s)", ErrForbiddenStatement, kw)
		}
	}
	return nil
}
