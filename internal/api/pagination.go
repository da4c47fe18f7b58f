package api

import (
	"net/http"
	"strconv"
)

// PageRequest is the window requested through ?page=&limit= or
// ?offset=&limit=. An explicit offset wins over page.
type PageRequest struct {
	Page   int
	Limit  int
	Offset int
}

// PaginationMeta describes where a page sits in the full result.
type PaginationMeta struct {
	Page       int  `json:"page"`
	Limit      int  `json:"limit"`
	Total      int  `json:"total"`
	TotalPages int  `json:"total_pages"`
	HasMore    bool `json:"has_more"`
}

// Page is one window of a list response.
type Page[T any] struct {
	Data       []T            `json:"data"`
	Pagination PaginationMeta `json:"pagination"`
}

// ParsePagination reads the window from the query string. limit falls back
// to def and is capped at max.
func ParsePagination(r *http.Request, def, max int) PageRequest {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	if limit < 1 {
		limit = def
	}
	if limit > max {
		limit = max
	}

	if raw := q.Get("offset"); raw != "" {
		if off, err := strconv.Atoi(raw); err == nil && off >= 0 {
			return PageRequest{Page: off/limit + 1, Limit: limit, Offset: off}
		}
	}
	page, _ := strconv.Atoi(q.Get("page"))
	if page < 1 {
		page = 1
	}
	return PageRequest{Page: page, Limit: limit, Offset: (page - 1) * limit}
}

// NewPage wraps items with metadata for a result of total rows. A nil slice
// renders as [].
func NewPage[T any](items []T, req PageRequest, total int) Page[T] {
	if items == nil {
		items = []T{}
	}
	pages := (total + req.Limit - 1) / req.Limit
	if pages < 1 {
		pages = 1
	}
	return Page[T]{
		Data: items,
		Pagination: PaginationMeta{
			Page:       req.Page,
			Limit:      req.Limit,
			Total:      total,
			TotalPages: pages,
			HasMore:    req.Offset+len(items) < total,
		},
	}
}
