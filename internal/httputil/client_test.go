package httputil

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestClientSetsUserAgent(t *testing.T) {
	var got []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = append(got, r.Header.Get("User-Agent"))
	}))
	defer srv.Close()

	client := NewClient()
	if client.Timeout != DefaultTimeout {
		t.Errorf("Timeout = %v, want %v", client.Timeout, DefaultTimeout)
	}

	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	req, _ := http.NewRequest("GET", srv.URL, nil)
	req.Header.Set("User-Agent", "custom")
	resp, err = client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if len(got) != 2 || got[0] != UserAgent || got[1] != "custom" {
		t.Errorf("User-Agent headers = %q", got)
	}
}

func TestNewClientWithTimeout(t *testing.T) {
	if c := NewClientWithTimeout(5 * time.Second); c.Timeout != 5*time.Second {
		t.Errorf("Timeout = %v", c.Timeout)
	}
}
