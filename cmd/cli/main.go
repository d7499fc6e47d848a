// Command placesync is the device client: it records visited and bucket-list
// regions in a local store and syncs them with the placesync service.
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/and161185/placesync/internal/client/credentials"
	"github.com/and161185/placesync/internal/client/store"
	"github.com/and161185/placesync/internal/client/syncer"
	"github.com/and161185/placesync/internal/client/transport"
	"github.com/and161185/placesync/internal/errs"
	"github.com/and161185/placesync/internal/resolve"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// app holds global flags and lazily opened resources for one invocation.
type app struct {
	dbPath    string
	server    string
	proto     string
	tokenFile string
	caPath    string
	insecure  bool
	plaintext bool
	batch     int
	policy    string
	verbose   bool

	out io.Writer
	log *zap.Logger
	st  *store.Store

	closers []func() error
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func defaultDBPath() string { return filepath.Join(credentials.ConfigDir(), "places.db") }

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "placesync",
		Short:         "Track visited and bucket-list places and sync them across devices",
		Version:       fmt.Sprintf("%s (%s)", version, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			a.log = zap.NewNop()
			if a.verbose {
				l, err := zap.NewDevelopment()
				if err != nil {
					return err
				}
				a.log = l
			}
			return nil
		},
	}
	root.SetOut(a.out)

	f := root.PersistentFlags()
	f.StringVar(&a.dbPath, "db", envOr("PLACESYNC_DB", defaultDBPath()), "local store path (env PLACESYNC_DB)")
	f.StringVar(&a.server, "server", envOr("PLACESYNC_SERVER", "http://localhost:8080"), "service address: base URL for http, host:port for grpc (env PLACESYNC_SERVER)")
	f.StringVar(&a.proto, "transport", "http", "transport: http|grpc")
	f.StringVar(&a.tokenFile, "token-file", envOr("PLACESYNC_TOKEN_FILE", credentials.DefaultTokenPath()), "bearer token file (env PLACESYNC_TOKEN_FILE)")
	f.StringVar(&a.caPath, "cacert", "", "CA certificate (PEM) for TLS")
	f.BoolVar(&a.insecure, "insecure", false, "skip TLS certificate verification (dev)")
	f.BoolVar(&a.plaintext, "plaintext", false, "grpc without TLS")
	f.IntVar(&a.batch, "batch", store.DefaultBatch, "max local changes pushed per cycle")
	f.StringVar(&a.policy, "policy", envOr("PLACESYNC_POLICY", "lww"), "conflict policy, must match the service: lww|delete-wins (env PLACESYNC_POLICY)")
	f.BoolVarP(&a.verbose, "verbose", "v", false, "debug logging to stderr")

	root.AddCommand(
		a.markCmd(),
		a.removeCmd(),
		a.listCmd(),
		a.pendingCmd(),
		a.syncCmd(),
		a.watchCmd(),
		a.statusCmd(),
		a.statsCmd(),
		a.regionsCmd(),
		a.tokenCmd(),
	)
	return root
}

// store opens the local store on first use.
func (a *app) store(ctx context.Context) (*store.Store, error) {
	if a.st != nil {
		return a.st, nil
	}
	if a.dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(a.dbPath), 0o700); err != nil {
			return nil, err
		}
	}
	st, err := store.Open(ctx, a.dbPath, store.WithLogger(a.log))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", a.dbPath, err)
	}
	a.st = st
	a.closers = append(a.closers, st.Close)
	return st, nil
}

func (a *app) tlsConfig() (*tls.Config, error) {
	if a.insecure {
		return &tls.Config{InsecureSkipVerify: true}, nil //nolint:gosec // explicit dev flag
	}
	if a.caPath == "" {
		return nil, nil
	}
	pem, err := os.ReadFile(a.caPath)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.New("bad CA cert")
	}
	return &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}

func (a *app) transport() (transport.Transport, error) {
	tlsCfg, err := a.tlsConfig()
	if err != nil {
		return nil, err
	}
	switch a.proto {
	case "http":
		hc := &http.Client{Timeout: 30 * time.Second}
		if tlsCfg != nil {
			hc.Transport = &http.Transport{TLSClientConfig: tlsCfg}
		}
		return transport.NewHTTP(a.server, hc), nil
	case "grpc":
		if tlsCfg == nil && !a.plaintext {
			tlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		cc, err := transport.DialGRPC(a.server, tlsCfg)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, cc.Close)
		return transport.NewGRPC(cc), nil
	default:
		return nil, fmt.Errorf("unknown transport %q (http|grpc)", a.proto)
	}
}

func (a *app) creds() credentials.Provider { return credentials.NewFile(a.tokenFile) }

func (a *app) client(ctx context.Context) (*syncer.Client, error) {
	policy, err := resolve.ParsePolicy(a.policy)
	if err != nil {
		return nil, err
	}
	st, err := a.store(ctx)
	if err != nil {
		return nil, err
	}
	tr, err := a.transport()
	if err != nil {
		return nil, err
	}
	return syncer.New(st, tr, a.creds(), syncer.WithBatch(a.batch), syncer.WithPolicy(policy), syncer.WithLogger(a.log)), nil
}

func (a *app) close() error {
	var err error
	for i := len(a.closers) - 1; i >= 0; i-- {
		err = errors.Join(err, a.closers[i]())
	}
	a.closers, a.st = nil, nil
	if a.log != nil {
		_ = a.log.Sync()
	}
	return err
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// exitCode maps failures to distinct process exit codes for scripting.
func exitCode(err error) int {
	var auth *errs.AuthError
	switch {
	case errors.Is(err, errs.ErrReauthRequired), errors.As(err, &auth):
		return 3
	case errors.Is(err, errs.ErrBusy):
		return 4
	default:
		return 1
	}
}

// run executes one command line and releases everything it opened.
func run(ctx context.Context, out io.Writer, args []string) (err error) {
	a := &app{out: out}
	defer func() { err = errors.Join(err, a.close()) }()

	root := a.rootCmd()
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// main runs the command tree until done or interrupted.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "placesync:", err)
		if errors.Is(err, errs.ErrReauthRequired) {
			fmt.Fprintln(os.Stderr, "sign in again and store the token with `placesync token <token>`")
		}
		stop()
		os.Exit(exitCode(err))
	}
}
