// Package telemetry sends crash reports for errors that escape a session's
// message handling. Reports are fire-and-forget: a failed upload is logged and
// dropped.
package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/klauspost/compress/gzip"
	"github.com/oklog/ulid/v2"
)

// Reporter receives errors worth reporting. where names the place the error
// happened, for example the message being handled.
type Reporter interface {
	Report(where string, err error)
}

// Nop discards every report.
type Nop struct{}

// Report implements Reporter.
func (Nop) Report(string, error) {}

// Crash is the uploaded report body.
type Crash struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Message   Message   `json:"message"`
	Username  string    `json:"username,omitempty"`
	Workspace string    `json:"workspace,omitempty"`
	Client    string    `json:"client"`
	Version   string    `json:"version"`
	Platform  string    `json:"platform"`
	Time      time.Time `json:"time"`
}

// Message describes the failure.
type Message struct {
	Context     string `json:"context"`
	Description string `json:"description"`
}

// HTTPReporter posts gzip compressed JSON crash reports.
type HTTPReporter struct {
	// URL receives the POST, for example https://floobits.com/api/log.
	URL string
	// Username and Workspace identify the reporter, when known.
	Username  string
	Workspace string
	Client    string
	Version   string
	// HTTPClient defaults to a client with a ten second timeout.
	HTTPClient *http.Client

	wg sync.WaitGroup
}

// URLFor returns the crash endpoint of host.
func URLFor(host string) string {
	return fmt.Sprintf("https://%s/api/log", host)
}

// Report uploads a report in the background.
func (r *HTTPReporter) Report(where string, err error) {
	if err == nil {
		return
	}
	c := Crash{
		ID:   ulid.Make().String(),
		Name: fmt.Sprintf("%s %s crash", r.Client, r.Version),
		Message: Message{
			Context:     where,
			Description: err.Error(),
		},
		Username:  r.Username,
		Workspace: r.Workspace,
		Client:    r.Client,
		Version:   r.Version,
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
		Time:      time.Now().UTC(),
	}
	glog.Warningf("[telemetry]report %s %s error = %s\n", c.ID, where, err)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.send(c); err != nil {
			glog.Warningf("[telemetry]upload %s error = %s\n", c.ID, err)
		}
	}()
}

// Wait blocks until every report started so far has finished uploading.
func (r *HTTPReporter) Wait() {
	r.wg.Wait()
}

func (r *HTTPReporter) send(c Crash) error {
	var body bytes.Buffer
	zw := gzip.NewWriter(&body)
	if err := json.NewEncoder(zw).Encode(c); err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.URL, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Content-Encoding", "gzip")

	client := r.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return nil
}
