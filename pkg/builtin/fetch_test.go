package builtin

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func serve(t *testing.T, contentType, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") == "" {
			t.Error("missing user agent")
		}
		w.Header().Set("Content-Type", contentType)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetch_HTMLExtraction(t *testing.T) {
	srv := serve(t, "text/html; charset=utf-8",
		`<html><head><title>Test</title></head><body><h1>Hello</h1><p>World</p><script>alert("x")</script></body></html>`)

	tool := &FetchTool{HTTPClient: srv.Client()}
	res, err := tool.Execute(context.Background(), map[string]any{"url": srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success {
		t.Fatalf("unexpected failure: %s", res.Error)
	}
	text := res.Text()
	if !strings.Contains(text, "Hello") || !strings.Contains(text, "World") {
		t.Errorf("expected visible text, got %q", text)
	}
	if strings.Contains(text, "alert") || strings.Contains(text, "Test") {
		t.Errorf("hidden content leaked: %q", text)
	}
}

func TestFetch_RawHTML(t *testing.T) {
	srv := serve(t, "text/html", `<p>kept</p>`)
	tool := &FetchTool{HTTPClient: srv.Client()}
	res, _ := tool.Execute(context.Background(), map[string]any{"url": srv.URL, "raw": true})
	if !strings.Contains(res.Text(), "<p>kept</p>") {
		t.Errorf("raw mode should keep markup, got %q", res.Text())
	}
}

func TestFetch_PlainText(t *testing.T) {
	srv := serve(t, "text/plain", "plain text content")
	tool := &FetchTool{HTTPClient: srv.Client()}
	res, _ := tool.Execute(context.Background(), map[string]any{"url": srv.URL})
	if !res.Success || !strings.Contains(res.Text(), "plain text content") {
		t.Errorf("got %+v", res)
	}
	if !strings.HasPrefix(res.Text(), "Contents of "+srv.URL) {
		t.Errorf("missing header: %q", res.Text())
	}
}

func TestFetch_Paging(t *testing.T) {
	srv := serve(t, "text/plain", "abcdefghij")
	tool := &FetchTool{HTTPClient: srv.Client()}

	res, _ := tool.Execute(context.Background(), map[string]any{"url": srv.URL, "max_length": float64(4)})
	if !strings.Contains(res.Text(), "\nabcd\n") || !strings.Contains(res.Text(), "start_index=4") {
		t.Errorf("first page: %q", res.Text())
	}
	res, _ = tool.Execute(context.Background(), map[string]any{"url": srv.URL, "max_length": float64(4), "start_index": float64(8)})
	if !strings.HasSuffix(res.Text(), "\nij") {
		t.Errorf("last page: %q", res.Text())
	}
}

func TestFetch_Failures(t *testing.T) {
	notFound := httptest.NewServer(http.NotFoundHandler())
	defer notFound.Close()
	badPDF := serve(t, "application/pdf", "this is not a pdf")

	tests := []struct {
		name string
		args map[string]any
		want string
	}{
		{"missing url", map[string]any{}, "url is required"},
		{"bad scheme", map[string]any{"url": "ftp://example.com"}, "must start with"},
		{"http error", map[string]any{"url": notFound.URL}, "HTTP 404"},
		{"malformed pdf", map[string]any{"url": badPDF.URL}, "parse PDF"},
	}
	tool := &FetchTool{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := tool.Execute(context.Background(), tt.args)
			if err != nil {
				t.Fatalf("tool failures must be results: %v", err)
			}
			if res.Success || !strings.Contains(res.Error, tt.want) {
				t.Errorf("got %+v, want error containing %q", res, tt.want)
			}
		})
	}
}

func TestWindow(t *testing.T) {
	tests := []struct {
		s            string
		start, limit int
		want         string
		next         int
	}{
		{"hello", 0, 0, "hello", 0},
		{"hello", 0, 10, "hello", 0},
		{"hello", 1, 3, "ell", 4},
		{"hello", 9, 3, "", 0},
		{"héllo", 1, 1, "é", 2},
	}
	for _, tt := range tests {
		got, next := window(tt.s, tt.start, tt.limit)
		if got != tt.want || next != tt.next {
			t.Errorf("window(%q, %d, %d) = %q, %d; want %q, %d", tt.s, tt.start, tt.limit, got, next, tt.want, tt.next)
		}
	}
}

func TestRegistry(t *testing.T) {
	r := Default()
	if _, ok := r.Get("fetch"); !ok {
		t.Error("fetch should be registered by default")
	}
	if names := r.Names(); len(names) != 1 || names[0] != "fetch" {
		t.Errorf("names: %v", names)
	}
	var nilReg *Registry
	if _, ok := nilReg.Get("fetch"); ok {
		t.Error("nil registry has no tools")
	}
	if err := r.tools["fetch"].InputSchema().Validate(map[string]any{"url": 5}); err == nil {
		t.Error("schema should reject a non-string url")
	}
}
