package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func paramsFromURL(t *testing.T, url string) Params {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, url, nil)
	rec := httptest.NewRecorder()
	return FromContext(e.NewContext(req, rec))
}

func TestFromContext_Defaults(t *testing.T) {
	p := paramsFromURL(t, "/")

	if p.PageNumber != 1 {
		t.Errorf("expected default page 1, got %d", p.PageNumber)
	}
	if p.PageSize != DefaultPageSize {
		t.Errorf("expected default page size %d, got %d", DefaultPageSize, p.PageSize)
	}
}

func TestFromContext_CustomValues(t *testing.T) {
	p := paramsFromURL(t, "/?pageNumber=2&pageSize=25")

	if p.PageNumber != 2 {
		t.Errorf("expected page 2, got %d", p.PageNumber)
	}
	if p.PageSize != 25 {
		t.Errorf("expected page size 25, got %d", p.PageSize)
	}
}

func TestFromContext_ClampsOutOfRange(t *testing.T) {
	p := paramsFromURL(t, "/?pageNumber=0&pageSize=9999")

	if p.PageNumber != 1 {
		t.Errorf("expected page clamped to 1, got %d", p.PageNumber)
	}
	if p.PageSize != MaxPageSize {
		t.Errorf("expected page size clamped to %d, got %d", MaxPageSize, p.PageSize)
	}

	p = paramsFromURL(t, "/?pageNumber=-3&pageSize=-1")
	if p.PageNumber != 1 || p.PageSize != DefaultPageSize {
		t.Errorf("expected clamped defaults, got %+v", p)
	}
}

func TestParams_LimitOffset(t *testing.T) {
	p := Params{PageNumber: 3, PageSize: 20}

	if p.Limit() != 20 {
		t.Errorf("expected limit 20, got %d", p.Limit())
	}
	if p.Offset() != 40 {
		t.Errorf("expected offset 40, got %d", p.Offset())
	}
}

func TestNewResponse_MiddlePage(t *testing.T) {
	p := Params{PageNumber: 2, PageSize: 3}
	resp := NewResponse("/payloads", p, 9, []string{"a", "b", "c"})

	if resp.TotalCount != 9 {
		t.Errorf("expected totalCount 9, got %d", resp.TotalCount)
	}
	if resp.TotalPages != 3 {
		t.Errorf("expected totalPages 3, got %d", resp.TotalPages)
	}
	if resp.FirstPage != "/payloads?pageNumber=1&pageSize=3" {
		t.Errorf("unexpected firstPage %q", resp.FirstPage)
	}
	if resp.LastPage != "/payloads?pageNumber=3&pageSize=3" {
		t.Errorf("unexpected lastPage %q", resp.LastPage)
	}
	if resp.NextPage != "/payloads?pageNumber=3&pageSize=3" {
		t.Errorf("unexpected nextPage %q", resp.NextPage)
	}
	if resp.PreviousPage != "/payloads?pageNumber=1&pageSize=3" {
		t.Errorf("unexpected previousPage %q", resp.PreviousPage)
	}
}

func TestNewResponse_FirstPageHasNoPrevious(t *testing.T) {
	p := Params{PageNumber: 1, PageSize: 3}
	resp := NewResponse("/payloads", p, 9, nil)

	if resp.PreviousPage != "" {
		t.Errorf("expected no previous link, got %q", resp.PreviousPage)
	}
	if resp.NextPage != "/payloads?pageNumber=2&pageSize=3" {
		t.Errorf("unexpected nextPage %q", resp.NextPage)
	}
}

func TestNewResponse_LastPageHasNoNext(t *testing.T) {
	p := Params{PageNumber: 3, PageSize: 3}
	resp := NewResponse("/payloads", p, 9, nil)

	if resp.NextPage != "" {
		t.Errorf("expected no next link, got %q", resp.NextPage)
	}
	if resp.PreviousPage != "/payloads?pageNumber=2&pageSize=3" {
		t.Errorf("unexpected previousPage %q", resp.PreviousPage)
	}
}

func TestNewResponse_EmptyResult(t *testing.T) {
	p := Params{PageNumber: 1, PageSize: 10}
	resp := NewResponse("/payloads", p, 0, nil)

	if resp.TotalPages != 0 {
		t.Errorf("expected totalPages 0, got %d", resp.TotalPages)
	}
	if resp.NextPage != "" || resp.PreviousPage != "" {
		t.Error("expected no navigation links for empty result")
	}
	if resp.FirstPage != "/payloads?pageNumber=1&pageSize=10" {
		t.Errorf("unexpected firstPage %q", resp.FirstPage)
	}
}

func TestNewResponse_UnevenLastPage(t *testing.T) {
	p := Params{PageNumber: 1, PageSize: 4}
	resp := NewResponse("/inference", p, 10, nil)

	if resp.TotalPages != 3 {
		t.Errorf("expected totalPages 3 for 10 items of 4, got %d", resp.TotalPages)
	}
	if resp.LastPage != "/inference?pageNumber=3&pageSize=4" {
		t.Errorf("unexpected lastPage %q", resp.LastPage)
	}
}
