// Package alert implements the push-notification client the camera
// worker dispatches fire-and-forget jobs to on ConfirmedInProgress and
// Completed transitions.
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Priority mirrors the integer scale the alert endpoint expects.
// Ignore suppresses the request entirely before any network I/O happens.
type Priority int

const (
	PriorityIgnore    Priority = -3
	PriorityLowest    Priority = -2
	PriorityLow       Priority = -1
	PriorityNormal    Priority = 0
	PriorityHigh      Priority = 1
	PriorityEmergency Priority = 2
)

// Attachment is an optional binary payload carried alongside an alert,
// typically an animated preview produced by internal/preview.
type Attachment struct {
	Bytes    []byte
	Mime     string
	Filename string
}

// Alert is the payload handed to Client.Send.
type Alert struct {
	Title      string
	Message    string
	Timestamp  time.Time
	Priority   Priority
	Attachment *Attachment
}

// Config configures a Client.
type Config struct {
	Endpoint   string
	SigningKey []byte
	Timeout    time.Duration
}

// Client posts alerts to a single webhook endpoint, signing each request
// with a short-lived bearer token.
type Client struct {
	endpoint   string
	signingKey []byte
	httpClient *http.Client
}

// NewClient builds a Client from cfg. A zero Timeout defaults to 30s.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		endpoint:   cfg.Endpoint,
		signingKey: cfg.SigningKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// apiResponse is the minimal shape the alert endpoint is expected to
// return. On a non-2xx status a non-empty Description is surfaced in the
// error; OK itself is not inspected, so any 2xx status counts as success.
type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description,omitempty"`
}

// Send posts a to the configured endpoint on behalf of cameraName. A
// PriorityIgnore alert is a no-op: it never reaches the network.
func (c *Client) Send(ctx context.Context, cameraName string, a Alert) error {
	if a.Priority == PriorityIgnore {
		return nil
	}
	if c.endpoint == "" {
		return fmt.Errorf("alert: endpoint not configured")
	}

	token, err := c.sign(cameraName)
	if err != nil {
		return fmt.Errorf("alert: signing token: %w", err)
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	fields := map[string]string{
		"camera":    cameraName,
		"title":     a.Title,
		"message":   a.Message,
		"timestamp": a.Timestamp.Format(time.RFC3339),
		"priority":  fmt.Sprintf("%d", a.Priority),
	}
	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			return fmt.Errorf("alert: write field %s: %w", k, err)
		}
	}

	if a.Attachment != nil {
		part, err := writer.CreateFormFile("attachment", a.Attachment.Filename)
		if err != nil {
			return fmt.Errorf("alert: create attachment part: %w", err)
		}
		if _, err := part.Write(a.Attachment.Bytes); err != nil {
			return fmt.Errorf("alert: write attachment: %w", err)
		}
	}

	if err := writer.Close(); err != nil {
		return fmt.Errorf("alert: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, &body)
	if err != nil {
		return fmt.Errorf("alert: build request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("alert: send request: %w", err)
	}
	defer resp.Body.Close()

	return handleResponse(resp)
}

// sign issues a 1-minute HS256 bearer token carrying the camera name, so
// the receiving endpoint can attribute and rate-limit per camera without
// trusting the unauthenticated multipart fields.
func (c *Client) sign(cameraName string) (string, error) {
	claims := jwt.MapClaims{
		"camera": cameraName,
		"iat":    time.Now().Unix(),
		"exp":    time.Now().Add(time.Minute).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(c.signingKey)
}

func handleResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("alert: read response body: %w", err)
	}

	var parsed apiResponse
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Description != "" {
		return fmt.Errorf("alert: endpoint returned %d: %s", resp.StatusCode, parsed.Description)
	}
	return fmt.Errorf("alert: endpoint returned %d", resp.StatusCode)
}
