package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/dshills/floo/internal/floourl"
)

// Transport names.
const (
	TransportTCP       = "tcp"
	TransportWebSocket = "websocket"
)

// Credentials authenticate against one host.
type Credentials struct {
	Username string `toml:"username,omitempty" yaml:"username,omitempty"`
	APIKey   string `toml:"api_key,omitempty" yaml:"api_key,omitempty"`
	Secret   string `toml:"secret,omitempty" yaml:"secret,omitempty"`
}

// Complete reports whether the credentials can be used to authenticate.
func (c Credentials) Complete() bool {
	return c.Secret != "" && (c.Username != "" || c.APIKey != "")
}

// Settings is the full user configuration.
type Settings struct {
	// DefaultHost is used when a workspace URL or link names no host.
	DefaultHost string `toml:"default_host" yaml:"default_host"`
	// Transport is "tcp" (newline framed, TLS when secure) or "websocket".
	Transport string `toml:"transport" yaml:"transport"`
	// ShareDir is where workspaces without a known local path are placed.
	ShareDir string `toml:"share_dir" yaml:"share_dir"`
	// LogLevel is the glog verbosity.
	LogLevel int `toml:"log_level" yaml:"log_level"`
	// RestoreDelayMS is how long, in milliseconds, a blocked edit stays
	// visible before it is reverted.
	RestoreDelayMS int `toml:"restore_delay_ms" yaml:"restore_delay_ms"`
	// CrashReports enables sending crash reports to the default host.
	CrashReports bool `toml:"crash_reports" yaml:"crash_reports"`
	// CheckWorkspace asks the REST API whether a workspace exists before
	// joining it.
	CheckWorkspace bool `toml:"check_workspace" yaml:"check_workspace"`

	// Auth holds credentials keyed by host.
	Auth map[string]Credentials `toml:"auth,omitempty" yaml:"auth,omitempty"`
}

// Default returns the built-in settings.
func Default() *Settings {
	return &Settings{
		DefaultHost:    floourl.DefaultHost,
		Transport:      TransportTCP,
		ShareDir:       defaultShareDir(),
		RestoreDelayMS: 50,
		CrashReports:   true,
		CheckWorkspace: false,
		Auth:           make(map[string]Credentials),
	}
}

func defaultShareDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join("floobits", "share")
	}
	return filepath.Join(home, "floobits", "share")
}

// DefaultPath returns the settings file location.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "floo", "config.toml")
}

// RestoreDelay returns RestoreDelayMS as a duration.
func (s *Settings) RestoreDelay() time.Duration {
	return time.Duration(s.RestoreDelayMS) * time.Millisecond
}

// Validate checks settings for values no component can use.
func (s *Settings) Validate() error {
	switch s.Transport {
	case TransportTCP, TransportWebSocket:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidTransport, s.Transport)
	}
	if s.RestoreDelayMS < 0 {
		return fmt.Errorf("%w: restore_delay_ms %d", ErrInvalidValue, s.RestoreDelayMS)
	}
	return nil
}

// CredentialsFor returns the credentials stored for host.
func (s *Settings) CredentialsFor(host string) (Credentials, bool) {
	c, ok := s.Auth[host]
	return c, ok && c.Complete()
}

// SetCredentials stores credentials for host.
func (s *Settings) SetCredentials(host string, c Credentials) {
	if s.Auth == nil {
		s.Auth = make(map[string]Credentials)
	}
	s.Auth[host] = c
}

// Hosts returns every host with stored credentials, sorted.
func (s *Settings) Hosts() []string {
	hosts := make([]string, 0, len(s.Auth))
	for h := range s.Auth {
		hosts = append(hosts, h)
	}
	sort.Strings(hosts)
	return hosts
}
