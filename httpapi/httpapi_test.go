package httpapi

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/yawning/tickcap/factory"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	c, err := factory.NewController(factory.TestPolicy(), nil, nil)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	return NewServer(c, nil)
}

// TestHandleDrainEmpty checks that a fresh controller's frame stream
// starts empty and returns a JSON array, not null or an error.
func TestHandleDrainEmpty(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/frames", nil)
	rr := httptest.NewRecorder()
	s.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	if got := strings.TrimSpace(rr.Body.String()); got != "[]" {
		t.Fatalf("body = %q, want []", got)
	}
}

// TestHandleStartWithoutDeviceReturnsBadRequest checks that starting
// live capture before selecting a device reports factory.ErrNoDeviceSelected
// as a 400, not a 500.
func TestHandleStartWithoutDeviceReturnsBadRequest(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/start", nil)
	rr := httptest.NewRecorder()
	s.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

// TestRequestIDMiddlewareSetsHeader checks every response carries a
// correlation ID.
func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/frames", nil)
	rr := httptest.NewRecorder()
	s.ServeHTTP(rr, req)

	if rr.Header().Get("X-Request-Id") == "" {
		t.Fatalf("X-Request-Id header missing")
	}
}

// TestHandleSelectDeviceRejectsMalformedBody checks that a non-JSON body
// is a 400, not a panic or 500.
func TestHandleSelectDeviceRejectsMalformedBody(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/device", strings.NewReader("not json"))
	rr := httptest.NewRecorder()
	s.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

// TestHandleSelectDeviceThenStopIsNoop checks that selecting a device
// followed by Stop (with nothing ever started) is a harmless no-op, not
// an error.
func TestHandleSelectDeviceThenStopIsNoop(t *testing.T) {
	s := newTestServer(t)

	selectReq := httptest.NewRequest(http.MethodPost, "/device", strings.NewReader(`{"device":"eth0"}`))
	selectRR := httptest.NewRecorder()
	s.ServeHTTP(selectRR, selectReq)
	if selectRR.Code != http.StatusNoContent {
		t.Fatalf("select-device status = %d, want %d", selectRR.Code, http.StatusNoContent)
	}

	stopReq := httptest.NewRequest(http.MethodPost, "/stop", nil)
	stopRR := httptest.NewRecorder()
	s.ServeHTTP(stopRR, stopReq)
	if stopRR.Code != http.StatusNoContent {
		t.Fatalf("stop status = %d, want %d", stopRR.Code, http.StatusNoContent)
	}
}
