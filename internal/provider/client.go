// Package provider talks to the external image-generation service through
// its chat-style interaction protocol: submit a request message into a
// channel, then poll the shared message feed for a correlated response.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/iago/imagegen-back/internal/domain"
)

var ErrProviderDisabled = errors.New("provider not configured for tenant")

type ClientConfig struct {
	BaseURL    string
	Settings   domain.ProviderSettings
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client owns one provider session for one generation attempt. It is built
// from the job's settings snapshot and discarded afterwards, so credential
// changes never leak across tenants or in-flight jobs.
type Client struct {
	baseURL    string
	settings   domain.ProviderSettings
	timeout    time.Duration
	httpClient *http.Client

	sessionID string
	commandID int
}

func NewClient(config ClientConfig) (*Client, error) {
	if !config.Settings.Enabled {
		return nil, ErrProviderDisabled
	}
	if strings.TrimSpace(config.BaseURL) == "" {
		return nil, errors.New("provider base url is required")
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{}
	}
	return &Client{
		baseURL:    strings.TrimSuffix(config.BaseURL, "/"),
		settings:   config.Settings,
		timeout:    config.Timeout,
		httpClient: config.HTTPClient,
	}, nil
}

type providerHTTPError struct {
	StatusCode int
	Message    string
}

func (e *providerHTTPError) Error() string {
	return fmt.Sprintf("provider status %d: %s", e.StatusCode, e.Message)
}

type sessionResponse struct {
	SessionID string `json:"session_id"`
	CommandID int    `json:"command_id"`
}

// Initialize fetches the scoped session identity and the numeric command
// descriptor required by every later call. Must run before Submit.
func (c *Client) Initialize(ctx context.Context) error {
	var session sessionResponse
	err := c.getJSON(ctx, fmt.Sprintf("%s/api/session?channel=%s", c.baseURL, c.settings.ChannelRef), &session)
	if err != nil {
		return fmt.Errorf("fetch session: %w", err)
	}
	if session.SessionID == "" || session.CommandID == 0 {
		return errors.New("provider returned an incomplete session")
	}
	c.sessionID = session.SessionID
	c.commandID = session.CommandID
	return nil
}

// Submit sends the request message into the channel feed.
func (c *Client) Submit(ctx context.Context, content string) error {
	if c.sessionID == "" {
		return errors.New("client not initialized")
	}
	payload, err := json.Marshal(map[string]any{
		"session_id": c.sessionID,
		"command_id": c.commandID,
		"content":    content,
	})
	if err != nil {
		return fmt.Errorf("marshal submit payload: %w", err)
	}

	url := fmt.Sprintf("%s/api/channels/%s/requests", c.baseURL, c.settings.ChannelRef)
	if _, err := c.do(ctx, http.MethodPost, url, payload); err != nil {
		return fmt.Errorf("submit request: %w", err)
	}
	return nil
}

// FetchFeed returns the most recent window of channel messages, newest
// first, capped at limit.
func (c *Client) FetchFeed(ctx context.Context, limit int) ([]FeedMessage, error) {
	if limit <= 0 {
		limit = 20
	}
	var messages []FeedMessage
	url := fmt.Sprintf("%s/api/channels/%s/messages?limit=%d", c.baseURL, c.settings.ChannelRef, limit)
	if err := c.getJSON(ctx, url, &messages); err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}
	return messages, nil
}

// DownloadAttachment fetches the raw bytes behind an attachment URL. Remote
// references expire quickly, so callers download before doing anything else
// with the message. A 404-class response is reported distinctly so callers
// can fall back to keeping the URL.
func (c *Client) DownloadAttachment(ctx context.Context, url string) ([]byte, error) {
	data, err := c.do(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("download attachment: %w", err)
	}
	return data, nil
}

// IsExpiredAsset reports whether err looks like the remote asset aged out.
func IsExpiredAsset(err error) bool {
	var httpErr *providerHTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == http.StatusNotFound || httpErr.StatusCode == http.StatusGone
	}
	return false
}

func (c *Client) getJSON(ctx context.Context, url string, target any) error {
	body, err := c.do(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, target); err != nil {
		return fmt.Errorf("decode provider response: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, url string, payload []byte) ([]byte, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	request, err := http.NewRequestWithContext(timeoutCtx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("create provider request: %w", err)
	}
	request.Header.Set("Authorization", c.settings.Credential)
	request.Header.Set("Accept", "application/json")
	if payload != nil {
		request.Header.Set("Content-Type", "application/json")
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("provider timeout: %w", err)
		}
		return nil, fmt.Errorf("provider transport error: %w", err)
	}
	defer response.Body.Close()

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, fmt.Errorf("read provider body: %w", err)
	}

	if response.StatusCode < 200 || response.StatusCode > 299 {
		message := strings.TrimSpace(string(body))
		if len(message) > 700 {
			message = message[:700]
		}
		return nil, &providerHTTPError{
			StatusCode: response.StatusCode,
			Message:    message,
		}
	}
	return body, nil
}
