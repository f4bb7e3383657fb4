package api

import (
	"net/url"
	"strconv"
)

// Page is the paging window requested through ?page=&limit=.
type Page struct {
	Page   int // 1-based
	Limit  int
	Offset int
}

const (
	MaxPageLimit     = 100
	DefaultPageLimit = 100
)

// GetPaginationParams reads page and limit from q. Missing or invalid values
// fall back to the first page of DefaultPageLimit items; limit is capped at
// MaxPageLimit.
func GetPaginationParams(q url.Values) Page {
	p := Page{Page: 1, Limit: DefaultPageLimit}

	if v, err := strconv.Atoi(q.Get("page")); err == nil && v > 0 {
		p.Page = v
	}
	if v, err := strconv.Atoi(q.Get("limit")); err == nil && v > 0 {
		p.Limit = v
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}

	p.Offset = (p.Page - 1) * p.Limit
	return p
}

// HasNext reports whether items remain after this page.
func (p Page) HasNext(total int64) bool {
	return int64(p.Offset+p.Limit) < total
}
