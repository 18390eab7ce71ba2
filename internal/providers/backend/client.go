package backend

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

	"voxlink/internal/domain"
)

// Config controls the collaborator HTTP client.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// HTTPError is returned for non-2xx responses.
type HTTPError struct {
	Status  int
	Message string
}

func (e *HTTPError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP %d: %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Message)
}

// Client implements ports.Collaborator against the agent's HTTP API.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		http:    &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *Client) CreateBot(ctx context.Context, req domain.BotRequest) (domain.BotInfo, error) {
	if strings.TrimSpace(req.MeetingLink) == "" {
		return domain.BotInfo{}, errors.New("meeting link is required")
	}
	var info domain.BotInfo
	if err := c.do(ctx, http.MethodPost, "/api/meetstream/create-bot", req, &info); err != nil {
		return domain.BotInfo{}, fmt.Errorf("create bot: %w", err)
	}
	return info, nil
}

func (c *Client) RemoveBot(ctx context.Context, botID string) error {
	if strings.TrimSpace(botID) == "" {
		return errors.New("bot id is required")
	}
	body := map[string]string{"bot_id": botID}
	if err := c.do(ctx, http.MethodPost, "/api/meetstream/remove-bot", body, nil); err != nil {
		return fmt.Errorf("remove bot: %w", err)
	}
	return nil
}

func (c *Client) AddManualTranscription(ctx context.Context, payload json.RawMessage) error {
	if !json.Valid(payload) {
		return errors.New("manual transcription payload is not valid JSON")
	}
	if err := c.do(ctx, http.MethodPost, "/api/manual-transcription", payload, nil); err != nil {
		return fmt.Errorf("manual transcription: %w", err)
	}
	return nil
}

func (c *Client) TestTranscription(ctx context.Context) error {
	if err := c.do(ctx, http.MethodPost, "/api/test-transcription", nil, nil); err != nil {
		return fmt.Errorf("test transcription: %w", err)
	}
	return nil
}

func (c *Client) FetchTranscriptions(ctx context.Context) ([]domain.TranscriptEntry, error) {
	var out struct {
		Transcriptions []domain.TranscriptEntry `json:"transcriptions"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/transcription", nil, &out); err != nil {
		return nil, fmt.Errorf("fetch transcriptions: %w", err)
	}
	if out.Transcriptions == nil {
		return []domain.TranscriptEntry{}, nil
	}
	return out.Transcriptions, nil
}

func (c *Client) InvokeTool(ctx context.Context, tool string, params map[string]any) (domain.ToolResult, error) {
	if strings.TrimSpace(tool) == "" {
		return domain.ToolResult{}, errors.New("tool name is required")
	}
	body := map[string]any{"tool": tool, "params": params}
	var result domain.ToolResult
	if err := c.do(ctx, http.MethodPost, "/api/test-tool", body, &result); err != nil {
		return domain.ToolResult{}, fmt.Errorf("invoke tool %s: %w", tool, err)
	}
	return result, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	if c.baseURL == "" {
		return errors.New("collaborator base url is not configured")
	}

	var reader io.Reader
	if body != nil {
		var encoded []byte
		if raw, ok := body.(json.RawMessage); ok {
			encoded = raw
		} else {
			var err error
			if encoded, err = json.Marshal(body); err != nil {
				return fmt.Errorf("failed to encode request: %w", err)
			}
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil || method == http.MethodPost {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &HTTPError{Status: resp.StatusCode, Message: errorMessage(payload)}
	}
	if out == nil || len(bytes.TrimSpace(payload)) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func errorMessage(payload []byte) string {
	var body struct {
		Detail string `json:"detail"`
		Error  string `json:"error"`
	}
	if err := json.Unmarshal(payload, &body); err == nil {
		if body.Detail != "" {
			return body.Detail
		}
		if body.Error != "" {
			return body.Error
		}
	}
	return strings.TrimSpace(string(payload))
}
