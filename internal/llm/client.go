package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/nimbuslabs/azurechat/internal/config"
)

const (
	defaultTemperature = 0.7

	titleSystemInstruction = "You are a helpful assistant that generates concise titles for chat conversations. " +
		"The title should be 3-5 words maximum. Just return the title itself, nothing else."
)

// ErrNotConfigured is returned before any network call when the Azure
// endpoint, key or deployment is missing.
var ErrNotConfigured = errors.New("azure openai is not configured")

// ChatMessage is one turn in the outbound payload. Content is either a plain
// string or a slice of ContentPart when attachments are present.
type ChatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type ContentPart struct {
	Type     string    `json:"type"` // "text" or "image_url"
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

type ImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

// Request describes one generation. The continuation manager decides what
// goes in: a Chained request carries only the new turn plus
// PreviousResponseID, a Fresh one carries a bounded trailing history window.
type Request struct {
	// Stateful selects the responses-API wire shape with response chaining.
	Stateful           bool
	Messages           []ChatMessage
	PreviousResponseID string
}

type Client struct {
	endpoint        string
	apiKey          string
	deployment      string
	apiVersion      string
	useResponses    bool
	maxOutputTokens int
	httpClient      *http.Client
}

func NewClient() *Client {
	return &Client{
		endpoint:        strings.TrimRight(config.AppConfig.AzureEndpoint, "/"),
		apiKey:          config.AppConfig.AzureAPIKey,
		deployment:      config.AppConfig.AzureDeployment,
		apiVersion:      config.AppConfig.AzureAPIVersion,
		useResponses:    config.AppConfig.UseResponsesAPI,
		maxOutputTokens: config.AppConfig.MaxOutputTokens,
		// No overall client timeout: generations run until the remote side
		// closes the stream. Callers cancel via context.
		httpClient: &http.Client{},
	}
}

func (c *Client) IsConfigured() bool {
	return c.apiKey != "" && c.endpoint != "" && c.deployment != ""
}

// SupportsChaining reports whether the backend can hold conversation context
// server-side via previous_response_id.
func (c *Client) SupportsChaining() bool {
	return c.useResponses
}

// OpenStream issues exactly one streaming completion request and returns the
// raw response body for decoding. No automatic retry: a failure here is
// surfaced to the caller. Error messages never include the endpoint or key.
func (c *Client) OpenStream(ctx context.Context, req Request) (io.ReadCloser, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}

	var url string
	body := map[string]any{"stream": true, "temperature": defaultTemperature}

	if req.Stateful {
		url = fmt.Sprintf("%s/openai/v1/responses", c.endpoint)
		body["model"] = c.deployment
		body["max_output_tokens"] = c.maxOutputTokens
		if req.PreviousResponseID != "" {
			// Chain to the previous response; the server holds prior turns.
			body["previous_response_id"] = req.PreviousResponseID
		}
		if len(req.Messages) == 1 && req.PreviousResponseID != "" {
			body["input"] = req.Messages[0].Content
		} else {
			body["input"] = req.Messages
		}
	} else {
		url = fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
			c.endpoint, c.deployment, c.apiVersion)
		body["messages"] = req.Messages
		body["max_tokens"] = c.maxOutputTokens
	}

	resp, err := c.post(ctx, url, body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, fmt.Errorf("completion endpoint returned status %d", resp.StatusCode)
	}
	return resp.Body, nil
}

// GenerateTitle asks the backend for a short conversation title based on the
// first exchange. Non-streaming; uses the legacy chat-completions endpoint.
func (c *Client) GenerateTitle(ctx context.Context, basis string) (string, error) {
	if !c.IsConfigured() {
		return "", ErrNotConfigured
	}

	url := fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
		c.endpoint, c.deployment, c.apiVersion)

	prompt := fmt.Sprintf("Generate a very concise title (3-5 words maximum) for a conversation that starts with or is about: %q.", basis)
	body := map[string]any{
		"messages": []ChatMessage{
			{Role: "system", Content: titleSystemInstruction},
			{Role: "user", Content: prompt},
		},
		"max_tokens":  20,
		"temperature": 0.3,
	}

	resp, err := c.post(ctx, url, body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("title request returned status %d", resp.StatusCode)
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("failed to decode title response: %w", err)
	}
	if len(parsed.Choices) == 0 || parsed.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("title response was empty")
	}

	return strings.Trim(parsed.Choices[0].Message.Content, "\"'\n\r\t ."), nil
}

func (c *Client) post(ctx context.Context, url string, body map[string]any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("api-key", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		// Strip the wrapped *url.Error so the endpoint never leaks into
		// user-visible messages.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.New("completion request failed: network error")
	}
	return resp, nil
}
