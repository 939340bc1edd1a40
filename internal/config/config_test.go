package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"

	"github.com/go-playground/assert/v2"
)

func TestLoad_MissingFileGivesDefaults(t *testing.T) {
	l := NewLoaderWithFS(fstest.MapFS{}, "config.toml")
	s, err := l.Load()
	assert.Equal(t, err, nil)
	assert.Equal(t, s.DefaultHost, "floobits.com")
	assert.Equal(t, s.Transport, TransportTCP)
	assert.Equal(t, s.RestoreDelay(), 50*time.Millisecond)
	assert.Equal(t, s.CrashReports, true)
}

func TestLoad_TOML(t *testing.T) {
	fsys := fstest.MapFS{
		"config.toml": {Data: []byte(`
default_host = "floo.example.com"
transport = "websocket"
log_level = 2
restore_delay_ms = 10

[auth."floo.example.com"]
username = "alice"
api_key = "key"
secret = "s3cret"
`)},
	}
	s, err := NewLoaderWithFS(fsys, "config.toml").Load()
	assert.Equal(t, err, nil)
	assert.Equal(t, s.DefaultHost, "floo.example.com")
	assert.Equal(t, s.Transport, TransportWebSocket)
	assert.Equal(t, s.LogLevel, 2)
	assert.Equal(t, s.RestoreDelay(), 10*time.Millisecond)
	// Unset keys keep their defaults.
	assert.Equal(t, s.CrashReports, true)

	creds, ok := s.CredentialsFor("floo.example.com")
	assert.Equal(t, ok, true)
	assert.Equal(t, creds.Username, "alice")
	assert.Equal(t, creds.Secret, "s3cret")

	_, ok = s.CredentialsFor("floobits.com")
	assert.Equal(t, ok, false)
}

func TestLoad_YAML(t *testing.T) {
	fsys := fstest.MapFS{
		"config.yaml": {Data: []byte(`
default_host: floo.example.com
crash_reports: false
auth:
  floo.example.com:
    username: bob
    secret: pw
`)},
	}
	s, err := NewLoaderWithFS(fsys, "config.yaml").Load()
	assert.Equal(t, err, nil)
	assert.Equal(t, s.CrashReports, false)
	creds, ok := s.CredentialsFor("floo.example.com")
	assert.Equal(t, ok, true)
	assert.Equal(t, creds.Username, "bob")
}

func TestLoad_ParseError(t *testing.T) {
	fsys := fstest.MapFS{
		"config.toml": {Data: []byte("transport = \"tcp\"\ndefault_host = = 1\n")},
		"config.yml":  {Data: []byte("log_level: [1\n")},
	}

	_, err := NewLoaderWithFS(fsys, "config.toml").Load()
	var perr *ParseError
	assert.Equal(t, errors.As(err, &perr), true)
	assert.Equal(t, perr.Path, "config.toml")
	assert.Equal(t, perr.Line, 2)

	_, err = NewLoaderWithFS(fsys, "config.yml").Load()
	assert.Equal(t, errors.As(err, &perr), true)
	assert.Equal(t, perr.Path, "config.yml")
}

func TestLoad_Invalid(t *testing.T) {
	fsys := fstest.MapFS{
		"config.toml": {Data: []byte(`transport = "carrier-pigeon"`)},
		"config.ini":  {Data: []byte(`x=1`)},
	}
	_, err := NewLoaderWithFS(fsys, "config.toml").Load()
	assert.Equal(t, errors.Is(err, ErrInvalidTransport), true)

	_, err = NewLoaderWithFS(fsys, "config.ini").Load()
	assert.Equal(t, errors.Is(err, ErrUnsupportedFormat), true)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("FLOO_HOST", "env.example.com")
	t.Setenv("FLOO_TRANSPORT", "WebSocket")
	t.Setenv("FLOO_CHECK_WORKSPACE", "true")
	t.Setenv("FLOO_USERNAME", "carol")
	t.Setenv("FLOO_SECRET", "pw")

	s, err := NewLoaderWithFS(fstest.MapFS{}, "config.toml").Load()
	assert.Equal(t, err, nil)
	assert.Equal(t, s.DefaultHost, "env.example.com")
	assert.Equal(t, s.Transport, TransportWebSocket)
	assert.Equal(t, s.CheckWorkspace, true)

	creds, ok := s.CredentialsFor("env.example.com")
	assert.Equal(t, ok, true)
	assert.Equal(t, creds.Username, "carol")
}

func TestLoad_EnvInvalidValue(t *testing.T) {
	t.Setenv("FLOO_LOG_LEVEL", "loud")
	_, err := NewLoaderWithFS(fstest.MapFS{}, "config.toml").Load()
	assert.Equal(t, errors.Is(err, ErrInvalidValue), true)
}

func TestSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "floo", "config.toml")
	l := NewLoader(path)

	s := Default()
	s.Transport = TransportWebSocket
	s.SetCredentials("floobits.com", Credentials{Username: "dave", APIKey: "k", Secret: "s"})
	assert.Equal(t, l.Save(s), nil)

	info, err := os.Stat(path)
	assert.Equal(t, err, nil)
	assert.Equal(t, info.Mode().Perm(), os.FileMode(0o600))

	got, err := l.Load()
	assert.Equal(t, err, nil)
	assert.Equal(t, got.Transport, TransportWebSocket)
	creds, ok := got.CredentialsFor("floobits.com")
	assert.Equal(t, ok, true)
	assert.Equal(t, creds, Credentials{Username: "dave", APIKey: "k", Secret: "s"})
	assert.Equal(t, got.Hosts(), []string{"floobits.com"})

	// No temp files are left behind.
	entries, err := os.ReadDir(filepath.Dir(path))
	assert.Equal(t, err, nil)
	assert.Equal(t, len(entries), 1)
}

func TestCredentials_Complete(t *testing.T) {
	assert.Equal(t, Credentials{}.Complete(), false)
	assert.Equal(t, Credentials{Username: "u"}.Complete(), false)
	assert.Equal(t, Credentials{Username: "u", Secret: "s"}.Complete(), true)
	assert.Equal(t, Credentials{APIKey: "k", Secret: "s"}.Complete(), true)
}
