// Package floourl parses and formats workspace identities.
//
// A workspace is addressed by a URL of the form
//
//	https://floobits.com/owner/workspace
//	https://host:3448/owner/workspace/
//	http://host/owner/workspace       (insecure, port 3148)
//
// The parsed URL is immutable and comparable, so it can be used as a map key.
package floourl

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// Defaults used when the URL omits them.
const (
	DefaultHost         = "floobits.com"
	DefaultPort         = 3448
	DefaultInsecurePort = 3148
)

// Common errors.
var (
	ErrEmpty       = errors.New("workspace url is empty")
	ErrScheme      = errors.New("unsupported url scheme")
	ErrMissingPath = errors.New("workspace url must name an owner and a workspace")
	ErrInvalidPort = errors.New("invalid port")
)

// URL identifies a remote workspace.
type URL struct {
	Owner     string
	Workspace string
	Host      string
	Port      int
	Secure    bool
}

// Parse parses a workspace URL.
func Parse(raw string) (URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return URL{}, ErrEmpty
	}

	u, err := url.Parse(raw)
	if err != nil {
		return URL{}, fmt.Errorf("parse %q: %w", raw, err)
	}

	var f URL
	switch u.Scheme {
	case "https", "":
		f.Secure = true
	case "http":
		f.Secure = false
	default:
		return URL{}, fmt.Errorf("%w: %s", ErrScheme, u.Scheme)
	}

	f.Host = u.Hostname()
	if f.Host == "" {
		f.Host = DefaultHost
	}

	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil || port <= 0 || port > 65535 {
			return URL{}, fmt.Errorf("%w: %s", ErrInvalidPort, p)
		}
		f.Port = port
	} else if f.Secure {
		f.Port = DefaultPort
	} else {
		f.Port = DefaultInsecurePort
	}

	parts := strings.FieldsFunc(u.Path, func(r rune) bool { return r == '/' })
	if len(parts) < 2 {
		return URL{}, ErrMissingPath
	}
	f.Owner = parts[0]
	f.Workspace = parts[1]

	return f, nil
}

// MustParse is like Parse but panics on error. Intended for tests and constants.
func MustParse(raw string) URL {
	u, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return u
}

// New builds a URL from its parts, applying defaults for host and port.
func New(host, owner, workspace string, port int, secure bool) URL {
	if host == "" {
		host = DefaultHost
	}
	if port == 0 {
		port = DefaultPort
		if !secure {
			port = DefaultInsecurePort
		}
	}
	return URL{Owner: owner, Workspace: workspace, Host: host, Port: port, Secure: secure}
}

// Validate reports whether the URL names a workspace.
func (u URL) Validate() error {
	if u.Owner == "" || u.Workspace == "" {
		return ErrMissingPath
	}
	if u.Port <= 0 || u.Port > 65535 {
		return ErrInvalidPort
	}
	return nil
}

// Address returns host:port for dialing.
func (u URL) Address() string {
	return net.JoinHostPort(u.Host, strconv.Itoa(u.Port))
}

// String returns the canonical workspace URL. The port is only rendered when
// it differs from the default for the scheme.
func (u URL) String() string {
	scheme := "https"
	def := DefaultPort
	if !u.Secure {
		scheme = "http"
		def = DefaultInsecurePort
	}
	host := u.Host
	if u.Port != 0 && u.Port != def {
		host = u.Address()
	}
	return fmt.Sprintf("%s://%s/%s/%s/", scheme, host, u.Owner, u.Workspace)
}

// WebURL returns the https URL used by the web dashboard for this workspace.
func (u URL) WebURL() string {
	return fmt.Sprintf("https://%s/%s/%s/", u.Host, u.Owner, u.Workspace)
}
