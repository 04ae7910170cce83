package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"finance-coach/internal/domain"
)

const (
	defaultBaseURL   = "https://api.openai.com/v1"
	defaultModel     = "gpt-4o-mini"
	defaultMaxTokens = 600
	defaultTimeout   = 20 * time.Second
)

// KeySource resolves the API key. An empty key with a nil error means no
// credential is configured.
type KeySource interface {
	APIKey(ctx context.Context) (string, error)
}

type Config struct {
	Enabled     bool
	Model       string
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
}

// CallError is a failed model call. Reason is a short tag suitable for logs.
type CallError struct {
	Reason     string
	StatusCode int
	Err        error
}

func (e *CallError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("openai: call failed (%s)", e.Reason)
	}
	return fmt.Sprintf("openai: call failed (%s): %v", e.Reason, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

func (e *CallError) HTTPStatusCode() int { return e.StatusCode }

// ErrorReason exposes the tag without forcing callers to import this package.
func (e *CallError) ErrorReason() string { return e.Reason }

// Client is a chat completion gateway for any OpenAI-compatible endpoint. It
// makes exactly one attempt per call.
type Client struct {
	cfg        Config
	keys       KeySource
	baseURL    string
	httpClient *http.Client

	mu     sync.Mutex
	api    *goopenai.Client
	apiKey string
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func NewClient(keys KeySource, cfg Config, opts ...Option) (*Client, error) {
	if keys == nil {
		return nil, errors.New("openai: key source must not be nil")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = defaultModel
	}
	if cfg.Temperature < 0 {
		return nil, errors.New("openai: temperature must not be negative")
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	c := &Client{
		cfg:     cfg,
		keys:    keys,
		baseURL: defaultBaseURL,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return c, nil
}

// Model is the configured model name.
func (c *Client) Model() string { return c.cfg.Model }

// Complete sends the ordered messages and returns the first choice. It
// returns domain.ErrModelUnavailable when the gateway is disabled or has no
// key, and a *CallError for every other failure.
func (c *Client) Complete(ctx context.Context, messages []domain.ChatMessage) (domain.Completion, error) {
	if !c.cfg.Enabled {
		return domain.Completion{}, domain.ErrModelUnavailable
	}
	api, err := c.client(ctx)
	if err != nil {
		return domain.Completion{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req := goopenai.ChatCompletionRequest{
		Model:       c.cfg.Model,
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
		Messages:    make([]goopenai.ChatCompletionMessage, 0, len(messages)),
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, goopenai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	resp, err := api.CreateChatCompletion(ctx, req)
	if err != nil {
		return domain.Completion{}, classify(err)
	}
	if len(resp.Choices) == 0 {
		return domain.Completion{}, &CallError{Reason: "empty_choices"}
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return domain.Completion{}, &CallError{Reason: "blank_content"}
	}
	model := resp.Model
	if model == "" {
		model = c.cfg.Model
	}
	return domain.Completion{
		Content: content,
		Model:   model,
		Usage: domain.TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

// client builds the SDK client on first use with a key. It is rebuilt if the
// key source starts returning a different key.
func (c *Client) client(ctx context.Context) (*goopenai.Client, error) {
	key, err := c.keys.APIKey(ctx)
	if err != nil {
		return nil, &CallError{Reason: "credential", Err: err}
	}
	if key == "" {
		return nil, domain.ErrModelUnavailable
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.api != nil && c.apiKey == key {
		return c.api, nil
	}
	conf := goopenai.DefaultConfig(key)
	conf.BaseURL = apiBaseURL(c.baseURL)
	conf.HTTPClient = c.httpClient
	c.api = goopenai.NewClientWithConfig(conf)
	c.apiKey = key
	return c.api, nil
}

// apiBaseURL makes sure the base ends with /v1; the SDK appends the
// endpoint path to it.
func apiBaseURL(baseURL string) string {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		return defaultBaseURL
	}
	if strings.HasSuffix(base, "/v1") {
		return base
	}
	return base + "/v1"
}

func classify(err error) *CallError {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		if isQuotaError(apiErr) {
			return &CallError{Reason: "quota_exceeded", StatusCode: apiErr.HTTPStatusCode, Err: err}
		}
		return &CallError{Reason: statusReason(apiErr.HTTPStatusCode), StatusCode: apiErr.HTTPStatusCode, Err: err}
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		if strings.Contains(err.Error(), "insufficient_quota") {
			return &CallError{Reason: "quota_exceeded", StatusCode: reqErr.HTTPStatusCode, Err: err}
		}
		return &CallError{Reason: statusReason(reqErr.HTTPStatusCode), StatusCode: reqErr.HTTPStatusCode, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &CallError{Reason: "timeout", Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &CallError{Reason: "timeout", Err: err}
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return &CallError{Reason: "decode", Err: err}
	}
	return &CallError{Reason: "network", Err: err}
}

func isQuotaError(e *goopenai.APIError) bool {
	if e.Type == "insufficient_quota" || strings.Contains(e.Message, "insufficient_quota") {
		return true
	}
	code, ok := e.Code.(string)
	return ok && code == "insufficient_quota"
}

func statusReason(status int) string {
	switch {
	case status == http.StatusTooManyRequests:
		return "rate_limited"
	case status > 0:
		return fmt.Sprintf("http_%d", status)
	default:
		return "network"
	}
}
