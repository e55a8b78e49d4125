package services

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/flashbots/ledgermix/mixer"
	"github.com/flashbots/ledgermix/testutil"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

func setupTestAPI(t *testing.T, adminToken string) (*SessionManager, *mixer.MockLedger, *httptest.Server) {
	t.Helper()

	ml := testutil.NewFundedLedger(testutil.NewTestParams())
	m, _ := newTestManager(t, ml)

	r := chi.NewRouter()
	NewSessionAPI(m, adminToken).RegisterRoutes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return m, ml, srv
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)

	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeRecord(t *testing.T, resp *http.Response) *SessionRecord {
	t.Helper()
	var rec SessionRecord
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rec))
	return &rec
}

func TestHandleStartAndGet(t *testing.T) {
	m, ml, srv := setupTestAPI(t, "")

	resp := postJSON(t, srv.URL+"/sessions", &StartSessionRequest{
		ID:            "http-1",
		Origin:        string(testutil.Origin),
		Destination:   string(testutil.Destination),
		Amount:        "800",
		InitialAmount: "1000",
		NumRounds:     1,
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	rec := decodeRecord(t, resp)
	require.Equal(t, "http-1", rec.ID)
	require.Equal(t, 4, rec.Params.NumMixAccounts)
	require.Equal(t, 1, rec.Params.NumRounds)
	require.Equal(t, "1000", rec.Params.FundingAmount.String())

	waitFor(t, m, "http-1")

	getResp, err := http.Get(srv.URL + "/sessions/http-1")
	require.NoError(t, err)
	defer getResp.Body.Close()
	require.Equal(t, http.StatusOK, getResp.StatusCode)
	require.Equal(t, StateCompleted, decodeRecord(t, getResp).State)
	require.Equal(t, "800", ml.Balances()[testutil.Destination].String())

	listResp, err := http.Get(srv.URL + "/sessions?state=completed")
	require.NoError(t, err)
	defer listResp.Body.Close()

	var list SessionListResponse
	require.NoError(t, json.NewDecoder(listResp.Body).Decode(&list))
	require.Len(t, list.Sessions, 1)
	require.EqualValues(t, 0, list.Active)

	statsResp, err := http.Get(srv.URL + "/sessions/stats")
	require.NoError(t, err)
	defer statsResp.Body.Close()

	var stats ManagerStats
	require.NoError(t, json.NewDecoder(statsResp.Body).Decode(&stats))
	require.EqualValues(t, 1, stats.Completed)
}

func TestHandleStartInitialAmountDefaultsToAmount(t *testing.T) {
	m, _, srv := setupTestAPI(t, "")

	resp := postJSON(t, srv.URL+"/sessions", &StartSessionRequest{
		ID:          "exact",
		Origin:      string(testutil.Origin),
		Destination: string(testutil.Destination),
		Amount:      "1000",
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Equal(t, "1000", decodeRecord(t, resp).Params.FundingAmount.String())

	require.Equal(t, StateCompleted, waitFor(t, m, "exact").State)
}

func TestHandleStartRejects(t *testing.T) {
	_, _, srv := setupTestAPI(t, "")

	tests := []struct {
		name string
		req  *StartSessionRequest
	}{
		{"fractional amount", &StartSessionRequest{Origin: "a", Destination: "b", Amount: "1.5"}},
		{"missing amount", &StartSessionRequest{Origin: "a", Destination: "b"}},
		{"funding below amount", &StartSessionRequest{Origin: "a", Destination: "b", Amount: "10", InitialAmount: "5"}},
		{"same accounts", &StartSessionRequest{Origin: "a", Destination: "a", Amount: "10"}},
		{"one mix account", &StartSessionRequest{Origin: "a", Destination: "b", Amount: "10", NumMixAccounts: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJSON(t, srv.URL+"/sessions", tt.req)
			require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}

	resp, err := http.Post(srv.URL+"/sessions", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleNotFoundAndConflicts(t *testing.T) {
	m, _, srv := setupTestAPI(t, "")

	resp, err := http.Get(srv.URL + "/sessions/nope")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	startResp := postJSON(t, srv.URL+"/sessions", &StartSessionRequest{
		ID: "c1", Origin: string(testutil.Origin), Destination: string(testutil.Destination), Amount: "100",
	})
	require.Equal(t, http.StatusAccepted, startResp.StatusCode)
	waitFor(t, m, "c1")

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/sessions/c1", nil)
	require.NoError(t, err)
	delResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	delResp.Body.Close()
	require.Equal(t, http.StatusConflict, delResp.StatusCode)

	recResp := postJSON(t, srv.URL+"/sessions/c1/recover", nil)
	require.Equal(t, http.StatusConflict, recResp.StatusCode)
}

func TestHandleRecoverRequiresAdmin(t *testing.T) {
	m, _, srv := setupTestAPI(t, "admin:secret")

	startResp := postJSON(t, srv.URL+"/sessions", &StartSessionRequest{
		ID: "a1", Origin: string(testutil.Origin), Destination: string(testutil.Destination), Amount: "100",
	})
	require.Equal(t, http.StatusAccepted, startResp.StatusCode)
	waitFor(t, m, "a1")

	resp := postJSON(t, srv.URL+"/sessions/a1/recover", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/sessions/a1/recover", nil)
	require.NoError(t, err)
	req.SetBasicAuth("admin", "wrong")
	wrong, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	wrong.Body.Close()
	require.Equal(t, http.StatusUnauthorized, wrong.StatusCode)

	req, err = http.NewRequest(http.MethodPost, srv.URL+"/sessions/a1/recover", nil)
	require.NoError(t, err)
	req.SetBasicAuth("admin", "secret")
	ok, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	ok.Body.Close()
	require.Equal(t, http.StatusConflict, ok.StatusCode)
}

func TestParseAdminToken(t *testing.T) {
	user, pass := parseAdminToken("admin:pa:ss")
	require.Equal(t, "admin", user)
	require.Equal(t, "pa:ss", pass)

	user, pass = parseAdminToken("solo")
	require.Equal(t, "solo", user)
	require.Empty(t, pass)
}
