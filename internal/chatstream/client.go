package chatstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"pkt.systems/tunnelchat/core"
	"pkt.systems/tunnelchat/internal/logx"
	"pkt.systems/tunnelchat/internal/version"
	"pkt.systems/tunnelchat/schema"
)

// DefaultStallTimeout bounds the wait for each stream line.
const DefaultStallTimeout = 2 * time.Minute

const maxErrorBody = 4096

// Client talks to an OpenAI-compatible chat endpoint.
type Client struct {
	baseURL string
	model   schema.ModelID
	apiKey  string
	http    *http.Client
	stall   time.Duration
}

// Option customizes a Client.
type Option func(*Client)

// WithAPIKey sets the bearer token sent with every request.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = strings.TrimSpace(key)
	}
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.http = client
		}
	}
}

// WithStallTimeout overrides the per-line stall timeout. Zero disables it.
func WithStallTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout >= 0 {
			c.stall = timeout
		}
	}
}

// New returns a client for the API root baseURL (e.g. http://127.0.0.1:8888/v1).
func New(baseURL string, model schema.ModelID, opts ...Option) *Client {
	client := &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		model:   model,
		http:    &http.Client{},
		stall:   DefaultStallTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client
}

// Factory returns a core.SourceFactory binding new clients to a tunnel handle.
func Factory(model schema.ModelID, opts ...Option) core.SourceFactory {
	return func(handle core.TunnelHandle) core.ChatSource {
		return New(handle.BaseURL(), model, opts...)
	}
}

// Model returns the configured model id.
func (c *Client) Model() schema.ModelID {
	return c.model
}

type chatRequest struct {
	Model    schema.ModelID   `json:"model"`
	Messages []schema.Message `json:"messages"`
	Stream   bool             `json:"stream"`
}

type completionRequest struct {
	Model  schema.ModelID `json:"model"`
	Prompt string         `json:"prompt"`
	Stream bool           `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message schema.Message `json:"message"`
		Text    string         `json:"text"`
	} `json:"choices"`
}

type modelList struct {
	Object string             `json:"object"`
	Data   []schema.ModelInfo `json:"data"`
}

// Send starts a streaming chat completion for the given history.
func (c *Client) Send(ctx context.Context, history []schema.Message) (core.EventStream, error) {
	log := logx.WithModel(ctx, c.model)
	ctx = logx.ContextWithModelLogger(ctx, log, c.model)
	body := chatRequest{Model: c.model, Messages: history, Stream: true}
	resp, err := c.do(ctx, http.MethodPost, "/chat/completions", body, "text/event-stream")
	if err != nil {
		return nil, err
	}
	log.Debug("chat stream open", "messages", len(history), "status", resp.StatusCode)
	return newEventStream(ctx, resp.Body, c.stall), nil
}

// ChatOnce runs a non-streaming chat completion and returns the reply text.
func (c *Client) ChatOnce(ctx context.Context, history []schema.Message) (string, error) {
	var out chatResponse
	if err := c.doJSON(ctx, http.MethodPost, "/chat/completions", chatRequest{Model: c.model, Messages: history}, &out); err != nil {
		return "", err
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return out.Choices[0].Message.Content, nil
}

// Complete runs a non-streaming text completion.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	var out chatResponse
	if err := c.doJSON(ctx, http.MethodPost, "/completions", completionRequest{Model: c.model, Prompt: prompt}, &out); err != nil {
		return "", err
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("text completion returned no choices")
	}
	return out.Choices[0].Text, nil
}

// ListModels returns the models served by the endpoint.
func (c *Client) ListModels(ctx context.Context) ([]schema.ModelInfo, error) {
	var out modelList
	if err := c.doJSON(ctx, http.MethodGet, "/models", nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// GetModel returns metadata for one model.
func (c *Client) GetModel(ctx context.Context, id schema.ModelID) (schema.ModelInfo, error) {
	var out schema.ModelInfo
	if err := c.doJSON(ctx, http.MethodGet, "/models/"+url.PathEscape(string(id)), nil, &out); err != nil {
		return schema.ModelInfo{}, err
	}
	return out, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	resp, err := c.do(ctx, method, path, body, "application/json")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// do issues the request and returns the response for a 2xx status. Any other
// status is a *schema.RequestError carrying a prefix of the body.
func (c *Client) do(ctx context.Context, method, path string, body any, accept string) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode %s request: %w", path, err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("User-Agent", version.UserAgent())
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &schema.RequestError{Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	return resp, nil
}
