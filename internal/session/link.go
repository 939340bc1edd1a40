package session

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/golang/glog"
	"github.com/google/uuid"

	"github.com/dshills/floo/internal/config"
	"github.com/dshills/floo/internal/conn"
	"github.com/dshills/floo/internal/floourl"
	"github.com/dshills/floo/internal/outbound"
	"github.com/dshills/floo/internal/presence"
	"github.com/dshills/floo/internal/protocol"
	"github.com/dshills/floo/internal/state"
)

// ErrIncompleteCredentials is returned when the service sends credentials
// that cannot authenticate.
var ErrIncompleteCredentials = errors.New("received incomplete credentials")

// LinkOptions configures Link.
type LinkOptions struct {
	// URL is the service to link against. Owner and workspace are unused.
	URL    floourl.URL
	Dialer conn.Dialer
	UI     presence.UI
	// Open is shown the browser URL that approves the link. It may launch a
	// browser; the default prints it through UI.
	Open func(url string)
	// Save stores the received credentials.
	Save func(host string, c config.Credentials) error
}

// NewLinkToken returns a random account link token.
func NewLinkToken() string {
	return hex.EncodeToString([]byte(uuid.NewString()))
}

// LinkURL is the page that approves token on host.
func LinkURL(host, token string) string {
	return fmt.Sprintf("https://%s/dash/link_editor/%s/", host, token)
}

// Link connects to the service, asks it for credentials matching a new
// token, and waits until the user approves the link in a browser. The
// credentials are saved before Link returns them.
func Link(ctx context.Context, opts LinkOptions) (config.Credentials, error) {
	ui := opts.UI
	if ui == nil {
		ui = presence.Nop{}
	}
	open := opts.Open
	if open == nil {
		open = func(url string) {
			ui.StatusMessage(fmt.Sprintf("Open %s in a browser to link this client to your account.", url))
		}
	}
	token := NewLinkToken()

	type result struct {
		creds config.Credentials
		err   error
	}
	results := make(chan result, 1)
	var once sync.Once
	finish := func(r result) {
		once.Do(func() { results <- r })
	}

	var c *conn.Conn
	c = conn.New(opts.URL, opts.Dialer, conn.Callbacks{
		OnConnect: func() {
			outbound.New(state.New(opts.URL, ""), c).RequestCredentials(token)
			open(LinkURL(opts.URL.Host, token))
		},
		OnMessage: func(name string, payload json.RawMessage) {
			if name != protocol.NameCredentials {
				return
			}
			var msg protocol.Credentials
			if err := protocol.Unmarshal(name, payload, &msg); err != nil {
				finish(result{err: err})
				c.Shutdown()
				return
			}
			creds := config.Credentials{
				Username: msg.Credentials["username"],
				APIKey:   msg.Credentials["api_key"],
				Secret:   msg.Credentials["secret"],
			}
			if !creds.Complete() {
				finish(result{err: ErrIncompleteCredentials})
			} else if opts.Save != nil {
				finish(result{creds: creds, err: opts.Save(opts.URL.Host, creds)})
			} else {
				finish(result{creds: creds})
			}
			c.Shutdown()
		},
		OnClose: func(err error) {
			if err == nil {
				err = conn.ErrClosed
			}
			finish(result{err: err})
		},
	})

	glog.Infof("[link]linking with %s\n", opts.URL.Host)
	c.Start(ctx)
	defer c.Shutdown()

	select {
	case r := <-results:
		if r.err != nil {
			ui.ErrorMessage(fmt.Sprintf("Linking failed: %v", r.err))
			return config.Credentials{}, r.err
		}
		ui.StatusMessage(fmt.Sprintf("Linked as %s.", r.creds.Username))
		return r.creds, nil
	case <-ctx.Done():
		return config.Credentials{}, ctx.Err()
	}
}
