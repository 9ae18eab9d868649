package capture

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/KLayOnStudio/dojogo-sub000/internal/auth"
	"github.com/KLayOnStudio/dojogo-sub000/internal/ingest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientErrorClassification(t *testing.T) {
	var status int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", status)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "tok")
	ctx := context.Background()

	status = http.StatusInternalServerError
	_, err := client.CreateSession(ctx, ingest.CreateSessionRequest{})
	assert.ErrorIs(t, err, ErrNetworkTransient)

	status = http.StatusUnauthorized
	_, err = client.CreateSession(ctx, ingest.CreateSessionRequest{})
	assert.ErrorIs(t, err, auth.ErrTokenExpired)

	status = http.StatusBadRequest
	_, err = client.FinalizeManifest(ctx, "sess-1", ingest.FinalizeRequest{})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNetworkTransient)
	assert.Contains(t, err.Error(), "nope")
}

func TestClientConnectionErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // nothing listening anymore

	client := NewClient(srv.URL, "tok")
	_, err := client.CreateSession(context.Background(), ingest.CreateSessionRequest{})
	assert.ErrorIs(t, err, ErrNetworkTransient)

	err = client.Upload(context.Background(), auth.CapabilityToken{UploadURL: srv.URL + "/blob/x/?token=t"},
		"chunk_000.ndjson", strings.NewReader("data"))
	assert.ErrorIs(t, err, ErrNetworkTransient)
}

func TestClientUploadStatuses(t *testing.T) {
	var status int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		if status >= 400 {
			http.Error(w, "denied", status)
			return
		}
		w.WriteHeader(status)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "tok")
	grant := auth.CapabilityToken{UploadURL: srv.URL + "/blob/imu-alpha/users/u/sessions/s/?token=abc"}
	ctx := context.Background()

	status = http.StatusCreated
	assert.NoError(t, client.Upload(ctx, grant, "a.json", strings.NewReader("{}")))

	status = http.StatusUnauthorized
	assert.ErrorIs(t, client.Upload(ctx, grant, "a.json", strings.NewReader("{}")), auth.ErrTokenExpired)

	status = http.StatusBadGateway
	assert.ErrorIs(t, client.Upload(ctx, grant, "a.json", strings.NewReader("{}")), ErrNetworkTransient)

	status = http.StatusForbidden
	err := client.Upload(ctx, grant, "a.json", strings.NewReader("{}"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNetworkTransient)
}

func TestClientCreatedFlagTracksStatus(t *testing.T) {
	first := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if first {
			w.WriteHeader(http.StatusCreated)
			first = false
		}
		_, _ = w.Write([]byte(`{"imu_session_id":"sess-1","user_id":"user-1","device_id":"dev-1",` +
			`"start_time_utc":"2026-03-01T09:00:00Z","coord_frame":"device","capability_token":{}}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "tok")
	resp, err := client.CreateSession(context.Background(), ingest.CreateSessionRequest{})
	require.NoError(t, err)
	assert.True(t, resp.Created)

	resp, err = client.CreateSession(context.Background(), ingest.CreateSessionRequest{})
	require.NoError(t, err)
	assert.False(t, resp.Created)
	assert.Equal(t, "sess-1", resp.SessionID)
}
