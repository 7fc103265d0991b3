package audithttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/ledgergate/ledgergate/internal/audit"
)

type stubService struct {
	got    audit.TimelineFilters
	result audit.Result
	err    error
}

func (s *stubService) Timeline(ctx context.Context, filters audit.TimelineFilters) (audit.Result, error) {
	s.got = filters
	return s.result, s.err
}

func newTestServer(t *testing.T, svc TimelineService) *httptest.Server {
	t.Helper()
	router := chi.NewRouter()
	NewHandler(nil, svc).MountRoutes(router)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, srv *httptest.Server, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestTimelineEndpoint(t *testing.T) {
	svc := &stubService{result: audit.Result{
		Rows: []audit.TimelineRow{{
			At:     time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
			Actor:  "svc:fees",
			Action: "ledger.entry.posted",
			Entity: "ledger_entry",
		}},
		Paging: audit.PagingInfo{Page: 1, PageSize: 20},
	}}
	srv := newTestServer(t, svc)

	resp := get(t, srv, "/audit?actor=svc:fees&action=ledger.entry.posted&page=2&page_size=10")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "svc:fees", svc.got.Actor)
	require.Equal(t, "ledger.entry.posted", svc.got.Action)
	require.Equal(t, 2, svc.got.Page)
	require.Equal(t, 10, svc.got.PageSize)

	var body audit.Result
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Rows, 1)
	require.Equal(t, "svc:fees", body.Rows[0].Actor)
}

func TestTimelineEmptyRowsSerializeAsArray(t *testing.T) {
	srv := newTestServer(t, &stubService{})
	resp := get(t, srv, "/audit")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var raw map[string]json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))
	require.JSONEq(t, "[]", string(raw["rows"]))
}

func TestTimelineDateRangeValidation(t *testing.T) {
	srv := newTestServer(t, &stubService{})

	cases := map[string]string{
		"bad from":         "/audit?from=yesterday",
		"bad to":           "/audit?to=tomorrow",
		"inverted range":   "/audit?from=2024-06-02T00:00:00Z&to=2024-06-01T00:00:00Z",
		"range over limit": "/audit?from=2024-01-01T00:00:00Z&to=2024-06-01T00:00:00Z",
		"bad page":         "/audit?page=0",
		"bad page size":    "/audit?page_size=-1",
	}
	for name, path := range cases {
		t.Run(name, func(t *testing.T) {
			resp := get(t, srv, path)
			require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestTimelineFromToForwarded(t *testing.T) {
	svc := &stubService{}
	srv := newTestServer(t, svc)

	resp := get(t, srv, "/audit?from=2024-06-01T00:00:00Z&to=2024-06-30T00:00:00Z")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), svc.got.From)
	require.Equal(t, time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC), svc.got.To)
}
