package shared

import (
	"math"
	"strconv"
)

const (
	defaultPerPage = 20
	maxPerPage     = 200
	// maxPage keeps (page-1)*perPage well inside int range for SQL offsets.
	maxPage = 1_000_000
)

// Pagination contains metadata for paginated listings.
type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// NewPagination computes pagination metadata.
func NewPagination(page, perPage, total int) Pagination {
	page, perPage = NormalizePage(page, perPage)
	totalPages := int(math.Ceil(float64(total) / float64(perPage)))
	return Pagination{Page: page, Limit: perPage, Total: total, TotalPages: totalPages}
}

// NormalizePage clamps page and page size to sane bounds.
func NormalizePage(page, perPage int) (int, int) {
	if perPage <= 0 {
		perPage = defaultPerPage
	}
	if perPage > maxPerPage {
		perPage = maxPerPage
	}
	if page <= 0 {
		page = 1
	}
	if page > maxPage {
		page = maxPage
	}
	return page, perPage
}

// Offset returns the zero-based offset of the first row on the page.
func (p Pagination) Offset() int {
	return (p.Page - 1) * p.Limit
}

// ParsePage reads page/limit query values, falling back to defaults on garbage.
func ParsePage(pageRaw, limitRaw string) (int, int) {
	page, _ := strconv.Atoi(pageRaw)
	limit, _ := strconv.Atoi(limitRaw)
	return NormalizePage(page, limit)
}

// Window returns the [start, end) bounds of a page over n items.
func Window(page, perPage, n int) (int, int) {
	page, perPage = NormalizePage(page, perPage)
	if n <= 0 || page-1 > (n-1)/perPage {
		return max(n, 0), max(n, 0)
	}
	start := (page - 1) * perPage
	end := start + perPage
	if end > n {
		end = n
	}
	return start, end
}
