package registry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"regwatch/pkg/logx"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := New(Config{
		BaseURL:    srv.URL,
		UserAgent:  "regwatch-test (test@example.com)",
		RatePerSec: 1000, // tests must not wait on crawler pacing
	}, logx.Nop())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func TestNewRequiresUserAgent(t *testing.T) {
	if _, err := New(Config{UserAgent: "  "}, logx.Nop()); err == nil {
		t.Fatal("want error for empty user agent")
	}
}

func TestSearchDecodesPage(t *testing.T) {
	var gotPath, gotUA string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.RequestURI()
		gotUA = r.Header.Get("User-Agent")
		_, _ = w.Write([]byte(`{
			"crates": [
				{"id": "serde", "name": "serde", "max_version": "1.0.210", "downloads": 500},
				{"id": "serde_json", "name": "serde_json", "max_version": "1.0.128", "downloads": 400}
			],
			"meta": {"total": 2431}
		}`))
	})

	page, err := c.Search(context.Background(), "serde json")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if gotPath != "/crates?q=serde+json&sort=relevance" {
		t.Fatalf("unexpected request path %q", gotPath)
	}
	if gotUA != "regwatch-test (test@example.com)" {
		t.Fatalf("user agent not sent, got %q", gotUA)
	}
	if page.Total != 2431 || len(page.Packages) != 2 {
		t.Fatalf("unexpected page: %+v", page)
	}
	if page.Packages[0].ID != "serde" || page.Packages[0].MaxVersion != "1.0.210" {
		t.Fatalf("unexpected first result: %+v", page.Packages[0])
	}
}

func TestGetDecodesPackage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/crates/tokio" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"crate": {"id": "tokio", "name": "tokio", "max_version": "1.40.0"}}`))
	})

	pkg, err := c.Get(context.Background(), "tokio")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if pkg.ID != "tokio" || pkg.MaxVersion != "1.40.0" {
		t.Fatalf("unexpected package: %+v", pkg)
	}
}

func TestNon2xxBecomesAPIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"errors": [{"detail": "Not Found"}]}`))
	})

	_, err := c.Get(context.Background(), "does-not-exist")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("want *APIError, got %T: %v", err, err)
	}
	if apiErr.StatusCode != http.StatusNotFound {
		t.Fatalf("unexpected status: %d", apiErr.StatusCode)
	}
	if apiErr.Body == "" {
		t.Fatal("error body should carry the upstream message")
	}
}

func TestGetEscapesPackageID(t *testing.T) {
	var gotPath string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		_, _ = w.Write([]byte(`{"crate": {"id": "weird"}}`))
	})

	if _, err := c.Get(context.Background(), "a/b"); err != nil {
		t.Fatalf("get: %v", err)
	}
	if gotPath != "/crates/a%2Fb" {
		t.Fatalf("id not escaped, path %q", gotPath)
	}
}

func TestCancelledContextStopsWait(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"crate": {"id": "x"}}`))
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Get(ctx, "x"); !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
}
