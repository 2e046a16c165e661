package httputil

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	svcerrors "github.com/qltv/library_service/internal/errors"
	"github.com/qltv/library_service/pkg/logger"
)

func TestNewClient_Defaults(t *testing.T) {
	client := NewClient(ClientConfig{BaseURL: "http://localhost:8080/"})
	if client.rc.RetryCount != 2 {
		t.Errorf("default retry count = %d, want 2", client.rc.RetryCount)
	}
	if client.rc.BaseURL != "http://localhost:8080" {
		t.Errorf("base url = %s, want trailing slash trimmed", client.rc.BaseURL)
	}
}

func TestClient_PostJSONRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Api-Key") != "secret" {
			t.Errorf("missing api key header")
		}
		if r.Header.Get("X-Trace-ID") != "trace-9" {
			t.Errorf("trace id not propagated")
		}
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	client := NewClient(ClientConfig{
		BaseURL: srv.URL,
		Backoff: time.Millisecond,
		Headers: map[string]string{"X-Api-Key": "secret"},
	})

	ctx := logger.WithTraceID(context.Background(), "trace-9")
	data, err := client.PostJSON(ctx, "/v1/chat", map[string]string{"q": "hi"})
	if err != nil {
		t.Fatalf("PostJSON() error = %v", err)
	}
	if string(data) != `{"ok":true}` {
		t.Fatalf("unexpected body %s", data)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestClient_PostJSONDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("bad"))
	}))
	defer srv.Close()

	client := NewClient(ClientConfig{BaseURL: srv.URL, Backoff: time.Millisecond})
	if _, err := client.PostJSON(context.Background(), "/", nil); err == nil || !strings.Contains(err.Error(), "400") {
		t.Fatalf("expected 400 error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single call, got %d", calls)
	}
}

func TestWriteError_ServiceError(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/books/1", nil)
	req = req.WithContext(logger.WithTraceID(req.Context(), "abc"))

	WriteError(rec, req, svcerrors.NotFound("book", "1"))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	var body ErrorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error.Code != "NOT_FOUND" || body.TraceID != "abc" {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestWriteError_PlainErrorHidesMessage(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, httptest.NewRequest(http.MethodGet, "/", nil), context.DeadlineExceeded)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "deadline") {
		t.Fatalf("internal error leaked: %s", rec.Body.String())
	}
}

func TestDecodeJSON(t *testing.T) {
	var dst struct {
		Name string `json:"name"`
	}
	if err := DecodeJSON(strings.NewReader(`{"name":"x"}`), &dst); err != nil || dst.Name != "x" {
		t.Fatalf("decode failed: %v", err)
	}
	if err := DecodeJSON(strings.NewReader(`{"other":1}`), &dst); !svcerrors.HasCode(err, svcerrors.CodeInvalidInput) {
		t.Fatalf("expected invalid input for unknown field, got %v", err)
	}
	if err := DecodeJSON(strings.NewReader(``), &dst); !svcerrors.HasCode(err, svcerrors.CodeInvalidInput) {
		t.Fatalf("expected invalid input for empty body, got %v", err)
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	req.Header.Set("X-Forwarded-For", "203.0.113.7")
	if ip := ClientIP(req); ip != "10.0.0.1" {
		t.Fatalf("ClientIP without resolution = %s", ip)
	}
	if ip := (TrustedProxies{}).Resolve(req); ip != "10.0.0.1" {
		t.Fatalf("untrusted peer forwarded header honoured: %s", ip)
	}
	req = req.WithContext(WithClientIP(req.Context(), "192.0.2.9"))
	if ip := ClientIP(req); ip != "192.0.2.9" {
		t.Fatalf("ClientIP ignored resolved address: %s", ip)
	}
}

func TestTrustedProxiesResolve(t *testing.T) {
	trusted, err := ParseTrustedProxies([]string{"10.0.0.0/8", " 192.168.1.5 ", ""})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, err := ParseTrustedProxies([]string{"not-an-ip"}); err == nil {
		t.Fatalf("expected parse error")
	}

	cases := []struct {
		name, peer, forwarded, real, want string
	}{
		{"untrusted peer", "198.51.100.1:1", "203.0.113.7", "", "198.51.100.1"},
		{"single hop", "10.0.0.2:1", "203.0.113.7", "", "203.0.113.7"},
		{"spoofed left hops", "10.0.0.2:1", "1.2.3.4, 203.0.113.7, 10.9.9.9", "", "203.0.113.7"},
		{"all trusted", "192.168.1.5:1", "10.0.0.3, 10.0.0.4", "", "10.0.0.3"},
		{"real ip header", "10.0.0.2:1", "", "203.0.113.9", "203.0.113.9"},
		{"garbage header", "10.0.0.2:1", "nonsense", "", "10.0.0.2"},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = tc.peer
		if tc.forwarded != "" {
			req.Header.Set("X-Forwarded-For", tc.forwarded)
		}
		if tc.real != "" {
			req.Header.Set("X-Real-IP", tc.real)
		}
		if got := trusted.Resolve(req); got != tc.want {
			t.Errorf("%s: Resolve = %s, want %s", tc.name, got, tc.want)
		}
	}
}
