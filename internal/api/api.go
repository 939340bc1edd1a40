// Package api talks to the workspace service's REST API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang/glog"

	"github.com/dshills/floo/internal/config"
	"github.com/dshills/floo/internal/floourl"
)

// ErrUnauthorized is returned when the credentials are rejected.
var ErrUnauthorized = errors.New("unauthorized")

// Client is a REST API client.
type Client struct {
	// Credentials authenticate requests with basic auth.
	Credentials config.Credentials
	// BaseURL overrides https://<host>, mainly for tests.
	BaseURL string
	// HTTPClient defaults to a client with a ten second timeout.
	HTTPClient *http.Client
}

// UserDetail describes the authenticated user.
type UserDetail struct {
	Username    string `json:"username"`
	AutoCreated bool   `json:"auto_created"`
}

func (c *Client) base(host string) string {
	if c.BaseURL != "" {
		return c.BaseURL
	}
	return "https://" + host
}

func (c *Client) do(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	user := c.Credentials.Username
	if user == "" {
		user = c.Credentials.APIKey
	}
	if user != "" {
		req.SetBasicAuth(user, c.Credentials.Secret)
	}
	req.Header.Set("Accept", "application/json")

	client := c.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	glog.V(2).Infof("[api]GET %s\n", url)
	return client.Do(req)
}

// WorkspaceExists reports whether u names a workspace the credentials can
// see.
func (c *Client) WorkspaceExists(ctx context.Context, u floourl.URL) (bool, error) {
	url := fmt.Sprintf("%s/api/workspace/%s/%s/", c.base(u.Host), u.Owner, u.Workspace)
	resp, err := c.do(ctx, url)
	if err != nil {
		return false, fmt.Errorf("checking %s: %w", u, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		return true, nil
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return false, ErrUnauthorized
	default:
		return false, fmt.Errorf("checking %s: unexpected status %s", u, resp.Status)
	}
}

// User returns the authenticated user's details on host.
func (c *Client) User(ctx context.Context, host string) (UserDetail, error) {
	var d UserDetail
	resp, err := c.do(ctx, c.base(host)+"/api/user/")
	if err != nil {
		return d, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return d, ErrUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		return d, fmt.Errorf("fetching user: unexpected status %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(&d); err != nil {
		return d, fmt.Errorf("decoding user: %w", err)
	}
	return d, nil
}
