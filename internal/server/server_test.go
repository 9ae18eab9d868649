package server

import (
	"net/http/httptest"
	"testing"

	"github.com/KLayOnStudio/dojogo-sub000/internal/config"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		JWTSecret:     "secret",
		ServerPort:    ":0",
		BlobDir:       t.TempDir(),
		BlobContainer: "imu-alpha",
		APIBaseURL:    "http://localhost:8080",
	}
}

func TestHealthRoute(t *testing.T) {
	s, err := NewServer(testConfig(t), nil, nil)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}

	req := httptest.NewRequest("GET", "/health", nil)
	resp, err := s.App.Test(req)
	if err != nil {
		t.Fatalf("test request: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200 status")
	}
}

func TestProtectedRoutesRequireAuth(t *testing.T) {
	s, err := NewServer(testConfig(t), nil, nil)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}

	for _, path := range []string{"/imu/sessions", "/imu/sessions/sess-1"} {
		req := httptest.NewRequest("GET", path, nil)
		resp, err := s.App.Test(req)
		if err != nil {
			t.Fatalf("test request: %v", err)
		}
		if resp.StatusCode != 401 {
			t.Fatalf("expected 401 for %s without a token, got %d", path, resp.StatusCode)
		}
	}
}

func TestBlobRoutesRejectMissingToken(t *testing.T) {
	s, err := NewServer(testConfig(t), nil, nil)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}

	req := httptest.NewRequest("PUT", "/blob/imu-alpha/users/u/sessions/s/chunk_000.ndjson", nil)
	resp, err := s.App.Test(req)
	if err != nil {
		t.Fatalf("test request: %v", err)
	}
	if resp.StatusCode != 401 {
		t.Fatalf("expected 401 without capability token, got %d", resp.StatusCode)
	}
}
