// Package credentials supplies the bearer token used by the sync client.
//
// Token issuance is out of scope: a Provider only hands out what it was given
// and, on Refresh, looks for a newer credential. When none exists it returns
// errs.ErrReauthRequired.
package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/and161185/placesync/internal/errs"
)

// Provider is an opaque, refreshable bearer credential.
type Provider interface {
	// Token returns the current credential.
	Token(ctx context.Context) (string, error)
	// Refresh is called after the service rejected the current credential.
	Refresh(ctx context.Context) (string, error)
}

// Static is a fixed token. It cannot be refreshed.
type Static string

func (s Static) Token(context.Context) (string, error) {
	if s == "" {
		return "", errs.ErrReauthRequired
	}
	return string(s), nil
}

func (s Static) Refresh(context.Context) (string, error) { return "", errs.ErrReauthRequired }

// tokenFile is the on-disk layout, shared with the token command.
type tokenFile struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// ConfigDir returns $XDG_CONFIG_HOME/placesync, or ~/.config/placesync.
func ConfigDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "placesync")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "placesync")
}

// DefaultTokenPath is the token file under ConfigDir.
func DefaultTokenPath() string { return filepath.Join(ConfigDir(), "token.json") }

// File reads the token from a JSON file that another process (a sign-in tool,
// or `placesync token`) rewrites. Refresh re-reads the file and succeeds only
// if it now holds a different, unexpired token.
type File struct {
	path string
	now  func() time.Time

	mu       sync.Mutex
	issued   string // last token handed out
	rejected string
}

// NewFile returns a Provider over the token file at path.
func NewFile(path string) *File {
	return &File{path: path, now: time.Now}
}

func (f *File) Token(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tok, err := f.load()
	if err == nil {
		f.issued = tok
	}
	return tok, err
}

func (f *File) Refresh(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.rejected = f.issued
	tok, err := f.load()
	if err != nil {
		return "", err
	}
	f.issued = tok
	return tok, nil
}

// load returns the file's token unless it is missing, expired or known to be rejected.
func (f *File) load() (string, error) {
	tf, err := readToken(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("%w: no token at %s", errs.ErrReauthRequired, f.path)
	}
	if err != nil {
		return "", err
	}
	switch {
	case tf.AccessToken == "":
		return "", fmt.Errorf("%w: empty token file", errs.ErrReauthRequired)
	case !tf.ExpiresAt.IsZero() && f.now().After(tf.ExpiresAt):
		return "", fmt.Errorf("%w: token expired at %s", errs.ErrReauthRequired, tf.ExpiresAt.Format(time.RFC3339))
	case tf.AccessToken == f.rejected:
		return "", fmt.Errorf("%w: token was rejected", errs.ErrReauthRequired)
	}
	return tf.AccessToken, nil
}

func readToken(path string) (tokenFile, error) {
	var tf tokenFile
	b, err := os.ReadFile(path)
	if err != nil {
		return tf, err
	}
	if err := json.Unmarshal(b, &tf); err != nil {
		return tf, fmt.Errorf("token file %s: %w", path, err)
	}
	return tf, nil
}

// SaveToken writes tok to path with owner-only permissions.
func SaveToken(path, tok string, exp time.Time) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	b, err := json.MarshalIndent(tokenFile{AccessToken: tok, ExpiresAt: exp}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(b, '\n'), 0o600)
}
