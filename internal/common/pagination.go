package common

import (
	"net/http"
	"strconv"
)

// Pagination holds pagination metadata for list responses.
type Pagination struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	TotalItems int `json:"total_items"`
}

// Offset returns the zero-based row offset for the page.
func (p Pagination) Offset() int {
	if p.Page <= 1 {
		return 0
	}
	return (p.Page - 1) * p.PerPage
}

// ParsePagination extracts page and per-page parameters from query values.
// perPage is capped at maxPerPage when maxPerPage is positive.
func ParsePagination(r *http.Request, defaultPerPage, maxPerPage int) Pagination {
	p := Pagination{Page: 1, PerPage: defaultPerPage}
	if v, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && v > 0 {
		p.Page = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		p.PerPage = v
	}
	if maxPerPage > 0 && p.PerPage > maxPerPage {
		p.PerPage = maxPerPage
	}
	return p
}
