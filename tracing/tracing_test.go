package tracing

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

// TestInitialize tests that the trace pipeline comes up and serves the
// tracez debug page
func TestInitialize(t *testing.T) {
	handler, cleanup, err := Initialize("tracing-test")
	if err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}
	defer cleanup()
	if handler == nil {
		t.Fatal("Initialize() returned nil handler")
	}

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/tracez", nil))
	if rr.Code != http.StatusOK {
		t.Errorf("GET /tracez = %d, want %d", rr.Code, http.StatusOK)
	}
}
