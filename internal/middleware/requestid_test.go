package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRequestID_GeneratesWhenAbsent(t *testing.T) {
	var gotID string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID = GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if gotID == "" {
		t.Fatal("expected a generated request ID")
	}
	if rec.Header().Get(RequestIDHeader) != gotID {
		t.Errorf("response header = %q, want %q", rec.Header().Get(RequestIDHeader), gotID)
	}
}

func TestRequestID_PreservesIncoming(t *testing.T) {
	var gotID string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID = GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "upstream-id-1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if gotID != "upstream-id-1" {
		t.Errorf("request ID = %q, want upstream-id-1", gotID)
	}
}

func TestGetRequestID_EmptyWithoutMiddleware(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	if id := GetRequestID(req.Context()); id != "" {
		t.Errorf("request ID = %q, want empty", id)
	}
}

func TestSetErrorCode_NoOpOutsideLogging(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	// Must not panic without the holder installed.
	SetErrorCode(req.Context(), "not_found")
}

func TestResponseWriter_FirstStatusWins(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := newResponseWriter(rec)

	rw.WriteHeader(http.StatusNotFound)
	rw.WriteHeader(http.StatusOK)

	if rw.statusCode != http.StatusNotFound {
		t.Errorf("statusCode = %d, want 404", rw.statusCode)
	}
}
