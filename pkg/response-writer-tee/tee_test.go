package tee

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSavedResponseIsParsable(t *testing.T) {
	rw := NewResponseSaver(nil)
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(http.StatusCreated)
	rw.Write([]byte(`{"ok":true}`))

	res, err := rw.HTTPResponse(httptest.NewRequest("POST", "/", nil))
	if err != nil {
		t.Fatalf("Could not parse response: %v", err)
	}
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("Status is %d", res.StatusCode)
	}
	if ct := res.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("Content-Type is %s", ct)
	}
	if body, _ := io.ReadAll(res.Body); string(body) != `{"ok":true}` {
		t.Fatalf("Body is %s", body)
	}
}

func TestTeeWritesToUnderlyingWriter(t *testing.T) {
	rr := httptest.NewRecorder()
	rw := NewResponseSaver(rr)
	rw.Header().Set("X-Test", "1")
	rw.Write([]byte("Hello world"))

	if rr.Code != http.StatusOK || rr.Body.String() != "Hello world" {
		t.Fatalf("Underlying writer got %d %q", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("X-Test") != "1" {
		t.Fatalf("Header not copied: %v", rr.Header())
	}
	if rw.StatusCode() != http.StatusOK {
		t.Fatalf("Status is %d", rw.StatusCode())
	}
}

func TestEmptyHandlerIsOK(t *testing.T) {
	rw := NewResponseSaver(nil)
	res, err := rw.HTTPResponse(httptest.NewRequest("GET", "/", nil))
	if err != nil {
		t.Fatalf("Could not parse response: %v", err)
	}
	if res.StatusCode != http.StatusOK {
		t.Fatalf("Status is %d", res.StatusCode)
	}
}
