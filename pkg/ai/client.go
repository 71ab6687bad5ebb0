package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/tidwall/gjson"

	stdlog "log"
)

// Config controls the chat-completions client used for risk verdicts.
type Config struct {
	APIKey     string
	Model      string
	Endpoint   string
	MaxRetries int
	RetryDelay time.Duration
	Timeout    time.Duration
}

const (
	defaultModel      = "gpt-4.1-mini"
	defaultEndpoint   = "https://api.openai.com/v1/chat/completions"
	defaultMaxRetries = 3
	defaultRetryDelay = 20 * time.Second
	defaultTimeout    = 30 * time.Second
)

// Verdict is the parsed model answer for one item. Level is the raw
// level string; callers normalize it into their own enum.
type Verdict struct {
	Level      string
	Confidence float64
	Reason     string

	InputTokens  int
	OutputTokens int
}

// Client talks to an OpenAI-compatible chat-completions endpoint.
type Client struct {
	apiKey   string
	model    string
	endpoint string
	http     *retryablehttp.Client
}

// NewClient validates the config and builds a client. Auth and
// not-found errors are terminal; 429 and 5xx responses are retried with
// a fixed delay, as are transport-level failures.
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("ai classification requires an API key (set ai.api-key in config or OPENAI_API_KEY)")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModel
	}
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = defaultRetryDelay
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	rc := retryablehttp.NewClient()
	rc.Logger = stdlog.New(io.Discard, "", 0)
	rc.RetryMax = maxRetries
	rc.HTTPClient.Timeout = timeout
	rc.Backoff = func(min, max time.Duration, attemptNum int, resp *http.Response) time.Duration {
		return retryDelay
	}
	rc.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if err != nil {
			return true, nil
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return true, nil
		}
		return false, nil
	}

	return &Client{
		apiKey:   apiKey,
		model:    model,
		endpoint: endpoint,
		http:     rc,
	}, nil
}

// Classify sends prompt to the model and parses the JSON verdict from
// the answer. A verdict fenced in a markdown code block is accepted.
func (c *Client) Classify(ctx context.Context, prompt string) (*Verdict, error) {
	reqBody := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "user", Content: prompt},
		},
		Temperature: 0.1,
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 300 {
		msg := gjson.GetBytes(raw, "error.message").String()
		switch resp.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			if msg == "" {
				msg = "invalid or expired API key"
			}
			return nil, fmt.Errorf("ai classification rejected (HTTP %d): %s", resp.StatusCode, msg)
		case http.StatusNotFound:
			if msg == "" {
				msg = "endpoint or model not found"
			}
			return nil, fmt.Errorf("ai classification rejected (HTTP %d): %s", resp.StatusCode, msg)
		}
		if msg != "" {
			return nil, fmt.Errorf("ai classification: %s", msg)
		}
		return nil, fmt.Errorf("ai classification failed with HTTP %d", resp.StatusCode)
	}

	content := strings.TrimSpace(gjson.GetBytes(raw, "choices.0.message.content").String())
	if content == "" {
		return nil, errors.New("ai classification returned an empty response")
	}

	verdict, err := parseVerdict(content)
	if err != nil {
		return nil, err
	}
	verdict.InputTokens = int(gjson.GetBytes(raw, "usage.prompt_tokens").Int())
	verdict.OutputTokens = int(gjson.GetBytes(raw, "usage.completion_tokens").Int())
	return verdict, nil
}

var fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

func parseVerdict(content string) (*Verdict, error) {
	body := content
	if !gjson.Valid(body) {
		if m := fencedJSON.FindStringSubmatch(content); m != nil {
			body = m[1]
		} else if start, end := strings.Index(content, "{"), strings.LastIndex(content, "}"); start >= 0 && end > start {
			body = content[start : end+1]
		}
	}
	if !gjson.Valid(body) {
		return nil, fmt.Errorf("unable to parse AI verdict: %q", content)
	}

	level := strings.TrimSpace(gjson.Get(body, "risk_level").String())
	if level == "" {
		return nil, fmt.Errorf("AI verdict missing risk_level: %q", content)
	}

	confidence := gjson.Get(body, "confidence").Float()
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	return &Verdict{
		Level:      level,
		Confidence: confidence,
		Reason:     strings.TrimSpace(gjson.Get(body, "reason").String()),
	}, nil
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
