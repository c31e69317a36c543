package pagination

import (
	"fmt"
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// Params holds pagination parameters extracted from a request.
// Page numbering is 1-based.
type Params struct {
	PageNumber int
	PageSize   int
}

// FromContext extracts pagination parameters from the echo context, clamping
// out-of-range values.
func FromContext(c echo.Context) Params {
	page, _ := strconv.Atoi(c.QueryParam("pageNumber"))
	if page < 1 {
		page = 1
	}

	size, _ := strconv.Atoi(c.QueryParam("pageSize"))
	if size <= 0 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}

	return Params{PageNumber: page, PageSize: size}
}

// Limit returns the row limit for backend queries.
func (p Params) Limit() int {
	return p.PageSize
}

// Offset returns the row offset for backend queries.
func (p Params) Offset() int {
	return (p.PageNumber - 1) * p.PageSize
}

// TotalPages returns the number of pages needed for total items.
func (p Params) TotalPages(total int) int {
	if total <= 0 {
		return 0
	}
	return (total + p.PageSize - 1) / p.PageSize
}

// Response wraps a paginated API response. First, last, next, and previous
// are relative links; next and previous are omitted at the edges.
type Response struct {
	Data         interface{} `json:"data"`
	PageNumber   int         `json:"pageNumber"`
	PageSize     int         `json:"pageSize"`
	TotalCount   int         `json:"totalCount"`
	TotalPages   int         `json:"totalPages"`
	FirstPage    string      `json:"firstPage"`
	LastPage     string      `json:"lastPage"`
	NextPage     string      `json:"nextPage,omitempty"`
	PreviousPage string      `json:"previousPage,omitempty"`
}

// NewResponse builds the paged envelope for data served at route.
func NewResponse(route string, p Params, total int, data interface{}) *Response {
	totalPages := p.TotalPages(total)

	lastPage := totalPages
	if lastPage < 1 {
		lastPage = 1
	}

	resp := &Response{
		Data:       data,
		PageNumber: p.PageNumber,
		PageSize:   p.PageSize,
		TotalCount: total,
		TotalPages: totalPages,
		FirstPage:  pageLink(route, 1, p.PageSize),
		LastPage:   pageLink(route, lastPage, p.PageSize),
	}

	if p.PageNumber < totalPages {
		resp.NextPage = pageLink(route, p.PageNumber+1, p.PageSize)
	}
	if p.PageNumber > 1 && p.PageNumber <= totalPages {
		resp.PreviousPage = pageLink(route, p.PageNumber-1, p.PageSize)
	}

	return resp
}

func pageLink(route string, page, size int) string {
	return fmt.Sprintf("%s?pageNumber=%d&pageSize=%d", route, page, size)
}
