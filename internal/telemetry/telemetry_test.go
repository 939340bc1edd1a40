package telemetry

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-playground/assert/v2"
	"github.com/klauspost/compress/gzip"
)

func TestHTTPReporter_Report(t *testing.T) {
	var (
		mu      sync.Mutex
		crashes []Crash
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, r.Method, http.MethodPost)
		assert.Equal(t, r.Header.Get("Content-Encoding"), "gzip")
		zr, err := gzip.NewReader(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var c Crash
		if err := json.NewDecoder(zr).Decode(&c); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		mu.Lock()
		crashes = append(crashes, c)
		mu.Unlock()
	}))
	defer srv.Close()

	r := &HTTPReporter{URL: srv.URL, Username: "alice", Workspace: "acme/proj", Client: "floo-go", Version: "0.1.0"}
	r.Report("patch", errors.New("boom"))
	r.Report("highlight", errors.New("bang"))
	r.Report("ignored", nil)
	r.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, len(crashes), 2)
	for _, c := range crashes {
		assert.Equal(t, len(c.ID), 26)
		assert.Equal(t, c.Username, "alice")
		assert.Equal(t, c.Workspace, "acme/proj")
	}
	contexts := map[string]string{}
	for _, c := range crashes {
		contexts[c.Message.Context] = c.Message.Description
	}
	assert.Equal(t, contexts, map[string]string{"patch": "boom", "highlight": "bang"})
}

func TestHTTPReporter_ServerErrorIsDropped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	r := &HTTPReporter{URL: srv.URL}
	r.Report("patch", errors.New("boom"))
	r.Wait()
}

func TestURLFor(t *testing.T) {
	assert.Equal(t, URLFor("floobits.com"), "https://floobits.com/api/log")
}
