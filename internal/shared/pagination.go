package shared

import (
	"net/url"
	"strconv"
)

// SkipLimit reads skip/limit query parameters, falling back to defaults on bad input.
func SkipLimit(q url.Values, defaultLimit int) (skip, limit int) {
	limit = defaultLimit
	if v, err := strconv.Atoi(q.Get("skip")); err == nil && v >= 0 {
		skip = v
	}
	if v, err := strconv.Atoi(q.Get("limit")); err == nil && v > 0 {
		limit = v
	}
	return skip, limit
}
