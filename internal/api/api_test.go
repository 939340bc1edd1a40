package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-playground/assert/v2"

	"github.com/dshills/floo/internal/config"
	"github.com/dshills/floo/internal/floourl"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	auth := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if !ok || user != "alice" || pass != "s3cret" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			next(w, r)
		}
	}
	mux.HandleFunc("/api/workspace/acme/proj/", auth(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"name":"proj"}`))
	}))
	mux.HandleFunc("/api/user/", auth(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"username":"alice","auto_created":true}`))
	}))
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestWorkspaceExists(t *testing.T) {
	srv := newServer(t)
	c := &Client{BaseURL: srv.URL, Credentials: config.Credentials{Username: "alice", Secret: "s3cret"}}
	ctx := context.Background()

	ok, err := c.WorkspaceExists(ctx, floourl.MustParse("https://floobits.com/acme/proj"))
	assert.Equal(t, err, nil)
	assert.Equal(t, ok, true)

	ok, err = c.WorkspaceExists(ctx, floourl.MustParse("https://floobits.com/acme/missing"))
	assert.Equal(t, err, nil)
	assert.Equal(t, ok, false)

	bad := &Client{BaseURL: srv.URL, Credentials: config.Credentials{Username: "alice", Secret: "wrong"}}
	_, err = bad.WorkspaceExists(ctx, floourl.MustParse("https://floobits.com/acme/proj"))
	assert.Equal(t, errors.Is(err, ErrUnauthorized), true)
}

func TestUser(t *testing.T) {
	srv := newServer(t)
	c := &Client{BaseURL: srv.URL, Credentials: config.Credentials{Username: "alice", Secret: "s3cret"}}
	d, err := c.User(context.Background(), "floobits.com")
	assert.Equal(t, err, nil)
	assert.Equal(t, d, UserDetail{Username: "alice", AutoCreated: true})
}
