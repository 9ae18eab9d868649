package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/KLayOnStudio/dojogo-sub000/internal/auth"
	"github.com/KLayOnStudio/dojogo-sub000/internal/config"
	"github.com/KLayOnStudio/dojogo-sub000/internal/ingest"
)

type stubAPI struct {
	srv *httptest.Server

	mu      sync.Mutex
	blobs   map[string][]byte
	created []ingest.CreateSessionRequest
}

func newStubAPI(t *testing.T) *stubAPI {
	t.Helper()
	api := &stubAPI{blobs: map[string][]byte{}}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /imu/sessions", func(w http.ResponseWriter, r *http.Request) {
		var req ingest.CreateSessionRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		api.mu.Lock()
		api.created = append(api.created, req)
		api.mu.Unlock()

		path := auth.SessionPath("user-1", "sess-1")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(ingest.CreateSessionResponse{
			SessionID: "sess-1",
			UserID:    "user-1",
			DeviceID:  "dev-1",
			Capability: auth.CapabilityToken{
				Container: "imu-alpha",
				Path:      path,
				Token:     "tok",
				UploadURL: fmt.Sprintf("%s/blob/imu-alpha/%s?token=tok", api.srv.URL, path),
				ExpiresAt: time.Now().Add(time.Hour),
			},
		})
	})
	mux.HandleFunc("PUT /blob/imu-alpha/{object...}", func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		api.mu.Lock()
		api.blobs[r.PathValue("object")] = data
		api.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("POST /imu/sessions/{id}/finalize", func(w http.ResponseWriter, r *http.Request) {
		var req ingest.FinalizeRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		var samples int64
		for _, f := range req.Files {
			if f.NumSamples != nil {
				samples += *f.NumSamples
			}
		}
		_ = json.NewEncoder(w).Encode(ingest.FinalizeSummary{
			Message:      "Manifest finalized successfully",
			SessionID:    r.PathValue("id"),
			TotalFiles:   int64(len(req.Files)),
			TotalSamples: samples,
			EndTimeUTC:   req.EndTimeUTC,
		})
	})

	api.srv = httptest.NewServer(mux)
	t.Cleanup(api.srv.Close)
	return api
}

func TestRunRecordsStdinStream(t *testing.T) {
	api := newStubAPI(t)
	cfg := config.Config{
		APIBaseURL: api.srv.URL,
		CaptureDir: t.TempDir(),
		NominalHz:  100,
		AuthToken:  "bearer-token",
		ActionType: "men",
	}

	var in bytes.Buffer
	for i := 0; i < 25; i++ {
		fmt.Fprintf(&in, `{"t_ns":%d,"seq":%d,"accel":{"x":0.2,"y":0,"z":0},"gyro":{"x":0,"y":0,"z":0},"raw_accel":{"x":0.2,"y":0,"z":9.8}}`+"\n",
			i*10_000_000, i)
	}

	var out bytes.Buffer
	if err := run(cfg, &in, &out); err != nil {
		t.Fatalf("run: %v", err)
	}

	var summary ingest.FinalizeSummary
	if err := json.Unmarshal(out.Bytes(), &summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if summary.SessionID != "sess-1" || summary.TotalSamples != 25 {
		t.Fatalf("unexpected summary %+v", summary)
	}

	api.mu.Lock()
	defer api.mu.Unlock()
	if len(api.created) != 1 {
		t.Fatalf("expected one session creation, got %d", len(api.created))
	}
	if api.created[0].GravityRemoved == nil || !*api.created[0].GravityRemoved {
		t.Fatalf("expected session registered as gravity-removed, got %+v", api.created[0].GravityRemoved)
	}
	prefix := auth.SessionPath("user-1", "sess-1")
	if _, ok := api.blobs[prefix+"chunk_000.ndjson"]; !ok {
		t.Fatalf("expected chunk upload, have %v", keys(api.blobs))
	}
	if _, ok := api.blobs[prefix+"device.json"]; !ok {
		t.Fatalf("expected device snapshot upload")
	}
}

func TestRunRejectsMalformedSample(t *testing.T) {
	api := newStubAPI(t)
	cfg := config.Config{
		APIBaseURL: api.srv.URL,
		CaptureDir: t.TempDir(),
		NominalHz:  100,
	}

	in := strings.NewReader("{\"t_ns\":0,\"seq\":0}\nnot json\n")
	if err := run(cfg, in, io.Discard); err == nil {
		t.Fatalf("expected parse error")
	}
}

func keys(m map[string][]byte) []string {
	var out []string
	for k := range m {
		out = append(out, k)
	}
	return out
}
