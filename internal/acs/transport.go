package acs

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/tract-rollup/internal/fetcher"
	"github.com/sells-group/tract-rollup/internal/resilience"
)

// Request is one Census API call: every tract of one county for one vintage.
type Request struct {
	Year      int
	State     string
	County    string
	Variables []string
	Key       string
}

// Table is a decoded API response: a header row plus data rows.
type Table struct {
	Header []string
	Rows   [][]string
}

// Index returns the header position of name, or -1.
func (t *Table) Index(name string) int {
	for i, h := range t.Header {
		if h == name {
			return i
		}
	}
	return -1
}

// Transport performs a single request. Implementations classify failures
// with the resilience error wrappers and never retry on their own.
type Transport interface {
	Query(ctx context.Context, req Request) (*Table, error)
}

// HTTPTransport queries the Census Data API over HTTP.
type HTTPTransport struct {
	BaseURL string // e.g. https://api.census.gov/data
	Dataset string // e.g. acs/acs5
	Fetcher fetcher.Fetcher
}

// NewHTTPTransport returns a transport using f for downloads.
func NewHTTPTransport(baseURL, dataset string, f fetcher.Fetcher) *HTTPTransport {
	return &HTTPTransport{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Dataset: strings.Trim(dataset, "/"),
		Fetcher: f,
	}
}

// URL builds the request URL.
func (h *HTTPTransport) URL(req Request) string {
	params := url.Values{}
	params.Set("get", strings.Join(req.Variables, ","))
	params.Set("for", "tract:*")
	params.Set("in", "state:"+req.State+" county:"+req.County)
	if req.Key != "" {
		params.Set("key", req.Key)
	}
	return h.BaseURL + "/" + strconv.Itoa(req.Year) + "/" + h.Dataset + "?" + params.Encode()
}

// Query downloads and decodes one table.
func (h *HTTPTransport) Query(ctx context.Context, req Request) (*Table, error) {
	body, err := h.Fetcher.Download(ctx, h.URL(req))
	if err != nil {
		return nil, eris.Wrapf(err, "acs: query %d county %s", req.Year, req.County)
	}
	defer body.Close() //nolint:errcheck

	header, rows, err := fetcher.DecodeTable(ctx, body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "acs: decode cancelled")
		}
		return nil, resilience.NewMalformedError(
			eris.Wrapf(err, "acs: decode %d county %s", req.Year, req.County))
	}

	for _, col := range []string{ColState, ColCounty, ColTract} {
		found := false
		for _, h := range header {
			if h == col {
				found = true
				break
			}
		}
		if !found {
			return nil, resilience.NewPermanentError(
				eris.Errorf("acs: response for %d county %s lacks %q column", req.Year, req.County, col), 0)
		}
	}
	return &Table{Header: header, Rows: rows}, nil
}
