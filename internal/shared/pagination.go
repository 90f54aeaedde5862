package shared

import (
	"net/http"
	"strconv"
)

const (
	defaultPerPage = 50
	maxPerPage     = 200
)

// PageRequest is a 1-based page window parsed from a listing request.
type PageRequest struct {
	Page    int
	PerPage int
}

// Limit returns the row count for the window.
func (p PageRequest) Limit() int {
	return p.PerPage
}

// Offset returns the number of rows to skip.
func (p PageRequest) Offset() int {
	return (p.Page - 1) * p.PerPage
}

// ParsePageRequest reads ?page= and ?per_page=. Missing or invalid values
// fall back to the first page of defaultPerPage rows; per_page is capped.
func ParsePageRequest(r *http.Request) PageRequest {
	q := r.URL.Query()
	page, err := strconv.Atoi(q.Get("page"))
	if err != nil || page <= 0 {
		page = 1
	}
	perPage, err := strconv.Atoi(q.Get("per_page"))
	if err != nil || perPage <= 0 {
		perPage = defaultPerPage
	}
	if perPage > maxPerPage {
		perPage = maxPerPage
	}
	return PageRequest{Page: page, PerPage: perPage}
}

// Pagination contains metadata for paginated listings.
type Pagination struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// NewPagination computes pagination metadata.
func NewPagination(req PageRequest, total int) Pagination {
	totalPages := 0
	if req.PerPage > 0 {
		totalPages = (total + req.PerPage - 1) / req.PerPage
	}
	return Pagination{Page: req.Page, PerPage: req.PerPage, Total: total, TotalPages: totalPages}
}
