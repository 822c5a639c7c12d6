// Package llm is the OpenRouter chat-completions client used for the final
// synthesis pass and for vision captioning.
package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrSynthesisUnavailable reports that the completion call failed after all
// retry attempts (network failure or timeout).
var ErrSynthesisUnavailable = errors.New("synthesis unavailable")

const (
	openRouterURL       = "https://openrouter.ai/api/v1/chat/completions"
	defaultTimeout      = 45 * time.Second
	defaultMaxRetries   = 3
	defaultRetryBackoff = 1 * time.Second

	synthesisSystemPrompt = "You are a helpful assistant that analyzes screenshots."

	captionPrompt = "Describe the visual content of this image in one or two sentences. " +
		"Focus on layout, diagrams, pictures and the kind of interface shown. " +
		"Do not transcribe text."
)

type Config struct {
	APIKey       string
	Model        string // completion model for synthesis
	CaptionModel string // vision model for captioning; falls back to Model
	Providers    []string
	BaseURL      string        // defaults to the OpenRouter endpoint
	Timeout      time.Duration // per-request timeout
	MaxRetries   int
	RetryBackoff time.Duration
}

type Client struct {
	cfg        Config
	httpClient *http.Client
}

func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = openRouterURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = defaultRetryBackoff
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// OpenRouter API structures
type Message struct {
	Role    string    `json:"role"`
	Content []Content `json:"content"`
}

type Content struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

type ImageURL struct {
	URL string `json:"url"`
}

type ProviderPreferences struct {
	Order          []string `json:"order,omitempty"`
	Quantizations  []string `json:"quantizations,omitempty"`
	AllowFallbacks *bool    `json:"allow_fallbacks,omitempty"`
}

type ChatRequest struct {
	Model       string               `json:"model"`
	Messages    []Message            `json:"messages"`
	Temperature float64              `json:"temperature"`
	MaxTokens   int                  `json:"max_tokens"`
	Provider    *ProviderPreferences `json:"provider,omitempty"`
}

type ChatResponse struct {
	Choices []Choice  `json:"choices"`
	Error   *APIError `json:"error,omitempty"`
}

type Choice struct {
	Message ResponseMessage `json:"message"`
}

type ResponseMessage struct {
	Content string `json:"content"`
}

type APIError struct {
	Message string      `json:"message"`
	Type    string      `json:"type"`
	Code    interface{} `json:"code"` // Can be string or number
}

// Complete sends prompt to the completion model and returns the synthesized
// text. Transient failures are retried with growing backoff; exhausting the
// retry budget (or running out the context) yields ErrSynthesisUnavailable.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	if err := c.check(); err != nil {
		return "", err
	}

	request := ChatRequest{
		Model: c.cfg.Model,
		Messages: []Message{
			{
				Role:    "system",
				Content: []Content{{Type: "text", Text: synthesisSystemPrompt}},
			},
			{
				Role:    "user",
				Content: []Content{{Type: "text", Text: prompt}},
			},
		},
		Temperature: 0.7,
		MaxTokens:   600,
		Provider:    c.providerPreferences(),
	}

	text, err := c.chatWithRetries(ctx, request)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSynthesisUnavailable, err)
	}
	return text, nil
}

// Describe sends a PNG to the vision model and returns a free-text caption.
func (c *Client) Describe(ctx context.Context, imageData []byte) (string, error) {
	if err := c.check(); err != nil {
		return "", err
	}

	base64Image := base64.StdEncoding.EncodeToString(imageData)
	imageURL := fmt.Sprintf("data:image/png;base64,%s", base64Image)

	request := ChatRequest{
		Model: c.ModelID(),
		Messages: []Message{
			{
				Role: "user",
				Content: []Content{
					{Type: "text", Text: captionPrompt},
					{Type: "image_url", ImageURL: &ImageURL{URL: imageURL}},
				},
			},
		},
		Temperature: 0.7,
		MaxTokens:   100,
		Provider:    c.providerPreferences(),
	}

	return c.chatWithRetries(ctx, request)
}

// ModelID returns the identifier of the vision model used for captions.
func (c *Client) ModelID() string {
	if c.cfg.CaptionModel != "" {
		return c.cfg.CaptionModel
	}
	return c.cfg.Model
}

func (c *Client) check() error {
	if c.cfg.APIKey == "" {
		return fmt.Errorf("API key is required")
	}
	if c.cfg.Model == "" {
		return fmt.Errorf("model is required")
	}
	return nil
}

func (c *Client) providerPreferences() *ProviderPreferences {
	if len(c.cfg.Providers) == 0 {
		// No providers specified, use default OpenRouter routing
		return nil
	}
	allowFallbacks := false
	return &ProviderPreferences{
		Order:          c.cfg.Providers,
		AllowFallbacks: &allowFallbacks,
	}
}

func (c *Client) chatWithRetries(ctx context.Context, request ChatRequest) (string, error) {
	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(float64(c.cfg.RetryBackoff) * (1.5 * float64(attempt)))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		response, err := c.makeAPIRequest(ctx, request)
		if err != nil {
			lastErr = err
			continue
		}

		if len(response.Choices) == 0 {
			lastErr = fmt.Errorf("no choices in API response")
			continue
		}
		return response.Choices[0].Message.Content, nil
	}
	return "", fmt.Errorf("failed after %d attempts: %v", c.cfg.MaxRetries, lastErr)
}

func (c *Client) makeAPIRequest(ctx context.Context, request ChatRequest) (*ChatResponse, error) {
	jsonData, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.BaseURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %v", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.cfg.APIKey))
	req.Header.Set("X-Title", "Screen Explain Tool")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %v", err)
	}
	defer resp.Body.Close()

	var response ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode response: %v", err)
	}

	if response.Error != nil {
		return nil, fmt.Errorf("API error: %s (type: %s, code: %v)", response.Error.Message, response.Error.Type, response.Error.Code)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API returned status %d", resp.StatusCode)
	}

	return &response, nil
}
