package pagination

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	DefaultLimit = 100
	MaxLimit     = 500

	// TotalCountHeader carries the unpaginated row count on list responses.
	TotalCountHeader = "X-Total-Count"
	// NextOffsetHeader is set only when another page exists.
	NextOffsetHeader = "X-Next-Offset"
)

// Params holds pagination parameters extracted from a request.
type Params struct {
	Limit  int
	Offset int
}

// FromContext extracts limit/offset from the query string, clamping limit to
// [1, MaxLimit] and offset to >= 0.
func FromContext(c echo.Context) Params {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	if offset < 0 {
		offset = 0
	}

	return Params{Limit: limit, Offset: offset}
}

// SetTotal writes the X-Total-Count header. List endpoints return a bare
// JSON array, so the total travels out of band.
func SetTotal(c echo.Context, total int) {
	c.Response().Header().Set(TotalCountHeader, strconv.Itoa(total))
}

// SetPage writes the total and, when more rows follow, the next offset.
func SetPage(c echo.Context, p Params, total int) {
	SetTotal(c, total)
	if p.HasNext(total) {
		c.Response().Header().Set(NextOffsetHeader, strconv.Itoa(p.NextOffset()))
	}
}

// HasNext returns true if there are more results after the current page.
func (p Params) HasNext(total int) bool {
	return p.Offset+p.Limit < total
}

// NextOffset returns the offset for the next page.
func (p Params) NextOffset() int {
	return p.Offset + p.Limit
}
