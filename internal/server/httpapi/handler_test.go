package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/placesync/internal/auth"
	"github.com/and161185/placesync/internal/errs"
	"github.com/and161185/placesync/internal/model"
	"github.com/and161185/placesync/internal/protocol"
	"github.com/and161185/placesync/internal/repository/memory"
	"github.com/and161185/placesync/internal/service"
)

var key = []byte("k")

func newServer(t *testing.T, svc service.SyncService) *httptest.Server {
	t.Helper()
	if svc == nil {
		svc = service.NewSyncService(memory.NewPlaceRepo())
	}
	srv := httptest.NewServer(New(svc, auth.NewVerifier(key), zaptest.NewLogger(t)))
	t.Cleanup(srv.Close)
	return srv
}

func token(t *testing.T, owner uuid.UUID) string {
	t.Helper()
	tok, _, err := auth.NewIssuer(key, time.Hour).Issue(owner)
	require.NoError(t, err)
	return tok
}

func do(t *testing.T, method, url, tok string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestHTTP_SyncRoundtrip(t *testing.T) {
	t.Parallel()
	srv := newServer(t, nil)
	owner := uuid.Must(uuid.NewV4())
	tok := token(t, owner)

	env := protocol.ChangeEnvelope{
		ID: uuid.Must(uuid.NewV4()).String(), RegionType: "australian_state", RegionCode: "NSW",
		RegionName: "New South Wales", Status: "bucket_list", VisitType: "visited",
		SyncVersion: 1, LastModifiedAt: "2024-08-01T00:00:00Z",
	}
	resp := do(t, http.MethodPost, srv.URL+"/sync", tok, protocol.SyncRequest{DeviceID: "web", Changes: []protocol.ChangeEnvelope{env}})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out protocol.SyncResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out.Changes, 1)
	require.NotNil(t, out.Conflicts)
	require.Equal(t, owner.String(), out.Changes[0].OwnerID)

	resp = do(t, http.MethodGet, srv.URL+"/sync/status", tok, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var st protocol.StatusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	require.Equal(t, int64(1), st.SyncCount)
	require.Equal(t, "web", st.LastSyncDevice)
}

func TestHTTP_StatusCodes(t *testing.T) {
	t.Parallel()
	srv := newServer(t, nil)
	tok := token(t, uuid.Must(uuid.NewV4()))

	resp := do(t, http.MethodPost, srv.URL+"/sync", "", protocol.SyncRequest{DeviceID: "x"})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = do(t, http.MethodPost, srv.URL+"/sync", "garbage", protocol.SyncRequest{DeviceID: "x"})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/sync", strings.NewReader("{not json"))
	req.Header.Set("Authorization", "Bearer "+tok)
	raw, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = raw.Body.Close()
	require.Equal(t, http.StatusBadRequest, raw.StatusCode)

	bad := "yesterday"
	resp = do(t, http.MethodPost, srv.URL+"/sync", tok, protocol.SyncRequest{DeviceID: "x", LastSyncAt: &bad})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, http.MethodPost, srv.URL+"/sync", tok, protocol.SyncRequest{})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var e protocol.ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&e))
	require.Contains(t, e.Error, "device_id")

	resp = do(t, http.MethodGet, srv.URL+"/sync", tok, nil)
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp = do(t, http.MethodGet, srv.URL+"/healthz", "", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
}

type stubSync struct {
	err   error
	panic bool
}

var _ service.SyncService = (*stubSync)(nil)

func (s *stubSync) Sync(context.Context, uuid.UUID, model.SyncBatch) (model.SyncResult, error) {
	if s.panic {
		panic("boom")
	}
	return model.SyncResult{}, s.err
}

func (s *stubSync) Status(context.Context, uuid.UUID) (model.SyncStatus, error) {
	return model.SyncStatus{}, s.err
}

func TestHTTP_ServiceErrors(t *testing.T) {
	t.Parallel()
	tok := token(t, uuid.Must(uuid.NewV4()))
	req := protocol.SyncRequest{DeviceID: "x"}

	cases := []struct {
		svc  *stubSync
		want int
	}{
		{&stubSync{err: errs.ErrVersionConflict}, http.StatusConflict},
		{&stubSync{err: errs.ErrRateLimited}, http.StatusTooManyRequests},
		{&stubSync{err: errs.ErrUnauthorized}, http.StatusForbidden},
		{&stubSync{err: errors.New("db down")}, http.StatusInternalServerError},
		{&stubSync{panic: true}, http.StatusInternalServerError},
	}
	for _, c := range cases {
		srv := newServer(t, c.svc)
		resp := do(t, http.MethodPost, srv.URL+"/sync", tok, req)
		require.Equal(t, c.want, resp.StatusCode)
	}
}
