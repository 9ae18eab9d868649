package capture

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/KLayOnStudio/dojogo-sub000/internal/auth"
	"github.com/KLayOnStudio/dojogo-sub000/internal/ingest"
)

// Client talks to the ingestion API on behalf of the capture controller.
// All methods classify failures: timeouts, connection errors and 5xx map to
// ErrNetworkTransient (retryable), 401 on uploads maps to
// auth.ErrTokenExpired (re-create the session for a fresh token), anything
// else is permanent.
type Client struct {
	baseURL   string
	authToken string
	http      *http.Client
}

func NewClient(baseURL, authToken string) *Client {
	return &Client{
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		authToken: authToken,
		http:      &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) CreateSession(ctx context.Context, req ingest.CreateSessionRequest) (ingest.CreateSessionResponse, error) {
	var resp ingest.CreateSessionResponse
	status, err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/imu/sessions", req, &resp)
	if err != nil {
		return ingest.CreateSessionResponse{}, err
	}
	resp.Created = status == http.StatusCreated
	return resp, nil
}

func (c *Client) FinalizeManifest(ctx context.Context, sessionID string, req ingest.FinalizeRequest) (ingest.FinalizeSummary, error) {
	var summary ingest.FinalizeSummary
	url := fmt.Sprintf("%s/imu/sessions/%s/finalize", c.baseURL, sessionID)
	if _, err := c.doJSON(ctx, http.MethodPost, url, req, &summary); err != nil {
		return ingest.FinalizeSummary{}, err
	}
	return summary, nil
}

// Upload PUTs one stored file to the capability-scoped blob URL.
func (c *Client) Upload(ctx context.Context, capability auth.CapabilityToken, filename string, body io.Reader) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, objectURL(capability, filename), body)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNetworkTransient, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusCreated || resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusUnauthorized:
		return auth.ErrTokenExpired
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: upload %s: status %d", ErrNetworkTransient, filename, resp.StatusCode)
	default:
		return fmt.Errorf("upload %s rejected: %s", filename, readError(resp.Body))
	}
}

// objectURL splices the object filename into the capability upload URL,
// which ends at the session prefix with the token in the query string.
func objectURL(capability auth.CapabilityToken, filename string) string {
	base, query, found := strings.Cut(capability.UploadURL, "?")
	if !found {
		return base + filename
	}
	return base + filename + "?" + query
}

func (c *Client) doJSON(ctx context.Context, method, url string, payload, out any) (int, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(raw))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.authToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrNetworkTransient, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return resp.StatusCode, fmt.Errorf("%w: %s %s: status %d", ErrNetworkTransient, method, url, resp.StatusCode)
	case resp.StatusCode == http.StatusUnauthorized:
		return resp.StatusCode, auth.ErrTokenExpired
	case resp.StatusCode >= 400:
		return resp.StatusCode, fmt.Errorf("%s %s: %s", method, url, readError(resp.Body))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func readError(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, 4096))
	msg := strings.TrimSpace(string(raw))
	if msg == "" {
		return "no error detail"
	}
	return msg
}
