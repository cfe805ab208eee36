package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"yardwatch/native/internal/domain"
	"yardwatch/native/internal/metrics"
)

// Client talks to the media gateway and the alert store. Both live behind
// the same base origin.
type Client struct {
	baseURL    string
	httpClient *http.Client
	metrics    *metrics.Metrics
}

// NewClient creates an API client for baseURL. A zero timeout disables the
// per-request timeout.
func NewClient(baseURL string, timeout time.Duration, m *metrics.Metrics) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		metrics:    m,
	}
}

// HTTPClient exposes the underlying client so tests can intercept it.
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

// StartStream asks the gateway to begin pulling the camera stream.
func (c *Client) StartStream(ctx context.Context, req domain.StartStreamRequest) error {
	log.Printf("[api] start-stream id=%s url=%s", req.ID, RedactURL(req.URL))
	err := c.do(ctx, http.MethodPost, "/start-stream/", req, nil)
	c.metrics.GatewayRequest("start_stream", err)
	return err
}

// StopStream asks the gateway to tear down the camera stream.
func (c *Client) StopStream(ctx context.Context, id string) error {
	log.Printf("[api] stop-stream id=%s", id)
	err := c.do(ctx, http.MethodPost, "/stop-stream/"+url.PathEscape(id), nil, nil)
	c.metrics.GatewayRequest("stop_stream", err)
	return err
}

// ActiveCameras lists the streams currently running on the gateway.
func (c *Client) ActiveCameras(ctx context.Context) ([]domain.ActiveCamera, error) {
	var resp domain.ActiveCamerasResponse
	err := c.do(ctx, http.MethodGet, "/active-cameras", nil, &resp)
	c.metrics.GatewayRequest("active_cameras", err)
	if err != nil {
		return nil, err
	}
	return resp.ActiveCameras, nil
}

// Offer posts the local SDP offer and returns the gateway's answer.
func (c *Client) Offer(ctx context.Context, id string, offer domain.SDPPayload) (domain.SDPPayload, error) {
	var answer domain.SDPPayload
	err := c.do(ctx, http.MethodPost, "/offer/"+url.PathEscape(id), offer, &answer)
	c.metrics.GatewayRequest("offer", err)
	if err != nil {
		return domain.SDPPayload{}, err
	}
	return answer, nil
}

// FetchAlerts returns the persisted incident history.
func (c *Client) FetchAlerts(ctx context.Context) ([]domain.IncidentRecord, error) {
	var records []domain.IncidentRecord
	err := c.do(ctx, http.MethodGet, "/api/alerts", nil, &records)
	c.metrics.GatewayRequest("fetch_alerts", err)
	if err != nil {
		return nil, err
	}
	return records, nil
}

// EvidenceURL resolves an incident's evidence image reference against the
// base origin.
func (c *Client) EvidenceURL(ref string) string {
	if ref == "" {
		return ""
	}
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}
	if !strings.HasPrefix(ref, "/") {
		ref = "/" + ref
	}
	return c.baseURL + ref
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create http request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", domain.ErrTransport, method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response: %v", domain.ErrTransport, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: %s %s: http %d: %s", domain.ErrTransport, method, path, resp.StatusCode, errorDetail(respBody))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%w: unmarshal %s response: %v", domain.ErrProtocol, path, err)
	}
	return nil
}

// errorDetail extracts the "detail" field the gateway puts in error bodies,
// falling back to a truncated raw body.
func errorDetail(body []byte) string {
	var e struct {
		Detail any `json:"detail"`
	}
	if err := json.Unmarshal(body, &e); err == nil && e.Detail != nil {
		return fmt.Sprint(e.Detail)
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 512 {
		s = s[:512]
	}
	return s
}

// RedactURL hides the password of a credential-bearing URL.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<unparseable url>"
	}
	return u.Redacted()
}
