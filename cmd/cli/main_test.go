package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/placesync/internal/auth"
	"github.com/and161185/placesync/internal/errs"
	"github.com/and161185/placesync/internal/protocol"
	"github.com/and161185/placesync/internal/repository/memory"
	"github.com/and161185/placesync/internal/resolve"
	"github.com/and161185/placesync/internal/server/httpapi"
	"github.com/and161185/placesync/internal/service"
)

var cliKey = []byte("cli-test")

type env struct {
	t      *testing.T
	server string
	token  string
	dir    string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	svc := service.NewSyncService(memory.NewPlaceRepo())
	srv := httptest.NewServer(httpapi.New(svc, auth.NewVerifier(cliKey), zap.NewNop()))
	t.Cleanup(srv.Close)

	tok, _, err := auth.NewIssuer(cliKey, time.Hour).Issue(uuid.Must(uuid.NewV4()))
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	return &env{t: t, server: srv.URL, token: tok, dir: t.TempDir()}
}

// exec runs the CLI as device dev and returns its stdout.
func (e *env) exec(dev string, args ...string) (string, error) {
	e.t.Helper()
	global := []string{
		"--db", filepath.Join(e.dir, dev+".db"),
		"--server", e.server,
		"--token-file", filepath.Join(e.dir, dev+"-token.json"),
	}
	var out bytes.Buffer
	err := run(context.Background(), &out, append(args, global...))
	return out.String(), err
}

func (e *env) must(dev string, args ...string) string {
	e.t.Helper()
	out, err := e.exec(dev, args...)
	if err != nil {
		e.t.Fatalf("%v: %v\n%s", args, err, out)
	}
	return out
}

func Test_TwoDevicesConverge(t *testing.T) {
	e := newEnv(t)
	e.must("a", "token", e.token)
	e.must("b", "token", e.token)

	out := e.must("a", "mark", "country", "fr", "--name", "France", "--visited", "2024-06-01")
	if !strings.Contains(out, "country#FR visited v1") {
		t.Fatalf("mark output: %q", out)
	}
	e.must("a", "mark", "state", "ca", "-s", "bucket")
	if out := e.must("a", "pending"); !strings.Contains(out, "2 pending") {
		t.Fatalf("pending: %q", out)
	}

	if out := e.must("a", "sync"); !strings.Contains(out, "pushed 2") {
		t.Fatalf("sync a: %q", out)
	}
	if out := e.must("b", "sync"); !strings.Contains(out, "pulled 2") {
		t.Fatalf("sync b: %q", out)
	}

	var got []protocol.ChangeEnvelope
	if err := json.Unmarshal([]byte(e.must("b", "list", "--json")), &got); err != nil {
		t.Fatalf("list json: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("want 2 records on b, got %d", len(got))
	}

	// delete on b travels back to a
	e.must("b", "remove", "country", "FR")
	e.must("b", "sync")
	e.must("a", "sync")
	out = e.must("a", "list", "--type", "country")
	if strings.Contains(out, "France") {
		t.Fatalf("FR still listed on a:\n%s", out)
	}
	if out := e.must("a", "list", "-s", "bucket"); !strings.Contains(out, "us_state") {
		t.Fatalf("bucket list on a:\n%s", out)
	}
}

func Test_MarkKeepsUnsetFields(t *testing.T) {
	e := newEnv(t)
	e.must("a", "mark", "country", "JP", "--name", "Japan", "--notes", "sushi")
	e.must("a", "mark", "country", "JP", "--transit")

	var got []protocol.ChangeEnvelope
	if err := json.Unmarshal([]byte(e.must("a", "list", "--json")), &got); err != nil {
		t.Fatalf("list json: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("want one record, got %d", len(got))
	}
	r := got[0]
	if r.RegionName != "Japan" || r.Notes == nil || *r.Notes != "sushi" || r.VisitType != "transit" || r.SyncVersion != 2 {
		t.Fatalf("unexpected record: %+v", r)
	}
}

func Test_SyncWithoutToken(t *testing.T) {
	e := newEnv(t)
	e.must("a", "mark", "country", "IT")

	out, err := e.exec("a", "sync")
	if err == nil {
		t.Fatalf("want error without token, got output %q", out)
	}
	if exitCode(err) != 3 {
		t.Fatalf("exit code %d for %v", exitCode(err), err)
	}
	if !strings.Contains(out, "reauth_required") {
		t.Fatalf("output: %q", out)
	}
	if out := e.must("a", "pending"); !strings.Contains(out, "1 pending") {
		t.Fatalf("pending after failed sync: %q", out)
	}
}

func Test_Status(t *testing.T) {
	e := newEnv(t)
	e.must("a", "token", e.token)
	e.must("a", "mark", "country", "PT")
	e.must("a", "sync")

	var v statusView
	if err := json.Unmarshal([]byte(e.must("a", "status")), &v); err != nil {
		t.Fatalf("status json: %v", err)
	}
	if v.Service == nil || v.Service.SyncCount != 1 || v.Service.LastSyncDevice != v.DeviceID {
		t.Fatalf("service status: %+v (err %q)", v.Service, v.ServiceErr)
	}
	if v.LastSyncAt == nil || v.Pending != 0 {
		t.Fatalf("local status: %+v", v)
	}

	if err := json.Unmarshal([]byte(e.must("a", "status", "--local")), &v); err != nil {
		t.Fatalf("status json: %v", err)
	}
}

func Test_ArgErrors(t *testing.T) {
	e := newEnv(t)
	for _, args := range [][]string{
		{"mark", "planet", "X"},
		{"mark", "country"},
		{"mark", "country", "F R"},
		{"mark", "country", "FR", "-s", "maybe"},
		{"mark", "country", "FR", "--visited", "June"},
		{"remove", "country", "ZZ"},
		{"list", "--type", "galaxy"},
		{"sync", "--transport", "smtp"},
		{"sync", "--policy", "oldest"},
	} {
		if _, err := e.exec("a", args...); err == nil {
			t.Fatalf("%v: want error", args)
		}
	}
}

func Test_exitCode(t *testing.T) {
	t.Parallel()

	if exitCode(errs.ErrReauthRequired) != 3 {
		t.Fatalf("reauth")
	}
	if exitCode(&errs.AuthError{Err: errs.ErrUnauthorized}) != 3 {
		t.Fatalf("auth error")
	}
	if exitCode(errs.ErrBusy) != 4 {
		t.Fatalf("busy")
	}
	if exitCode(context.DeadlineExceeded) != 1 {
		t.Fatalf("other")
	}
}

func Test_tokenExpiry(t *testing.T) {
	t.Parallel()

	now := time.Now()
	tok, exp, err := auth.NewIssuer(cliKey, 2*time.Hour).Issue(uuid.Must(uuid.NewV4()))
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	// exp claims carry whole seconds
	if got := tokenExpiry(tok, now); exp.Sub(got) < 0 || exp.Sub(got) >= time.Second {
		t.Fatalf("expiry %v, want %v", got, exp)
	}
	if got := tokenExpiry("opaque", now); !got.Equal(now.Add(24 * time.Hour)) {
		t.Fatalf("fallback expiry %v", got)
	}
}

func Test_clientPolicy(t *testing.T) {
	for env, want := range map[string]resolve.Policy{"": resolve.LastWriteWins, "delete-wins": resolve.DeleteWins} {
		t.Setenv("PLACESYNC_POLICY", env)

		a := &app{out: &bytes.Buffer{}}
		root := a.rootCmd()
		if err := root.ParseFlags([]string{"--db", ":memory:", "--server", "http://127.0.0.1:1"}); err != nil {
			t.Fatalf("flags: %v", err)
		}
		a.log = zap.NewNop()
		c, err := a.client(context.Background())
		if err != nil {
			t.Fatalf("client: %v", err)
		}
		if c.Policy() != want {
			t.Fatalf("PLACESYNC_POLICY=%q: policy %v, want %v", env, c.Policy(), want)
		}
		_ = a.close()
	}
}
