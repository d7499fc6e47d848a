package syncer

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/placesync/internal/auth"
	"github.com/and161185/placesync/internal/client/credentials"
	"github.com/and161185/placesync/internal/client/store"
	"github.com/and161185/placesync/internal/client/transport"
	"github.com/and161185/placesync/internal/model"
	"github.com/and161185/placesync/internal/protocol"
	"github.com/and161185/placesync/internal/repository/memory"
	"github.com/and161185/placesync/internal/server/httpapi"
	"github.com/and161185/placesync/internal/service"
)

var (
	signKey = []byte("syncer-test")
	base    = time.Date(2024, 7, 1, 9, 0, 0, 0, time.UTC)
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

// newBackend starts the HTTP sync endpoint over an in-memory repository and
// returns a transport for it plus a token for a fresh owner.
func newBackend(t *testing.T, opts ...service.Option) (transport.Transport, credentials.Provider) {
	t.Helper()
	svc := service.NewSyncService(memory.NewPlaceRepo(), opts...)
	srv := httptest.NewServer(httpapi.New(svc, auth.NewVerifier(signKey), zap.NewNop()))
	t.Cleanup(srv.Close)

	tok, _, err := auth.NewIssuer(signKey, time.Hour).Issue(uuid.Must(uuid.NewV4()))
	require.NoError(t, err)
	return transport.NewHTTP(srv.URL, srv.Client()), credentials.Static(tok)
}

type device struct {
	st  *store.Store
	c   *Client
	clk *clock
}

func newDevice(t *testing.T, tr transport.Transport, creds credentials.Provider, opts ...Option) *device {
	t.Helper()
	clk := &clock{t: base}
	st, err := store.Open(context.Background(), ":memory:", store.WithClock(clk.now))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	opts = append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)
	return &device{st: st, c: New(st, tr, creds, opts...), clk: clk}
}

func (d *device) mark(t *testing.T, at time.Duration, code string, status model.PlaceStatus) model.PlaceRecord {
	t.Helper()
	d.clk.set(base.Add(at))
	rec, err := d.st.UpsertByKey(context.Background(), model.PlaceInput{
		RegionType: model.RegionCountry, RegionCode: code, RegionName: code,
		Status: status, VisitType: model.VisitFull,
	})
	require.NoError(t, err)
	return rec
}

func (d *device) sync(t *testing.T) Result {
	t.Helper()
	res := d.c.RunCycle(context.Background())
	require.Equal(t, OutcomeSynced, res.Outcome, "cycle error: %v", res.Err)
	return res
}

func (d *device) get(t *testing.T, id uuid.UUID) model.PlaceRecord {
	t.Helper()
	rec, err := d.st.Get(context.Background(), id)
	require.NoError(t, err)
	return rec
}

func (d *device) pending(t *testing.T) int {
	t.Helper()
	n, err := d.st.PendingCount(context.Background())
	require.NoError(t, err)
	return n
}

func (d *device) cursor(t *testing.T) time.Time {
	t.Helper()
	cur, err := d.st.Cursor(context.Background())
	require.NoError(t, err)
	return cur
}

// stubTransport answers every call with fn.
type stubTransport struct {
	mu     sync.Mutex
	tokens []string
	fn     func(token string, req protocol.SyncRequest) (protocol.SyncResponse, error)
}

func (s *stubTransport) Sync(_ context.Context, token string, req protocol.SyncRequest) (protocol.SyncResponse, error) {
	s.mu.Lock()
	s.tokens = append(s.tokens, token)
	s.mu.Unlock()
	return s.fn(token, req)
}

func (s *stubTransport) Status(context.Context, string) (protocol.StatusResponse, error) {
	return protocol.StatusResponse{}, nil
}

func (s *stubTransport) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}

func okResponse(string, protocol.SyncRequest) (protocol.SyncResponse, error) {
	return protocol.SyncResponse{ServerTime: protocol.FormatTime(base.Add(time.Hour))}, nil
}

// hookTransport lets a test act between the service answering and the client seeing the answer.
type hookTransport struct {
	transport.Transport
	after func(resp *protocol.SyncResponse, err *error)
}

func (h *hookTransport) Sync(ctx context.Context, token string, req protocol.SyncRequest) (protocol.SyncResponse, error) {
	resp, err := h.Transport.Sync(ctx, token, req)
	if h.after != nil {
		h.after(&resp, &err)
	}
	return resp, err
}
