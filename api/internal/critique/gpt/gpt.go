package gpt

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"photo-critic/api/internal/critique"
	"photo-critic/api/internal/util"
)

const DefaultBaseURL = "https://api.openai.com/v1"

// StatusError is a non-200 answer from the API.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("openai %d: %s", e.Code, e.Body)
}

func (e *StatusError) retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

type Engine struct {
	APIKey     string
	Model      string
	BaseURL    string
	MaxRetries int

	httpc *http.Client
	log   *zap.Logger
}

func New(key, model string) *Engine {
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 10 * time.Second,
		// vision answers are slow to start
		ResponseHeaderTimeout: 120 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   100,
	}
	return &Engine{
		APIKey:     key,
		Model:      model,
		BaseURL:    DefaultBaseURL,
		MaxRetries: 1,
		// deadline comes from ctx
		httpc: &http.Client{Timeout: 0, Transport: tr},
		log:   zap.NewNop(),
	}
}

// WithHTTPClient overrides the internal HTTP client (e.g., for custom timeouts or tracing).
func (e *Engine) WithHTTPClient(c *http.Client) *Engine {
	if c != nil {
		e.httpc = c
	}
	return e
}

func (e *Engine) WithLogger(l *zap.Logger) *Engine {
	if l != nil {
		e.log = l.Named("gpt")
	}
	return e
}

func (e *Engine) WithBaseURL(u string) *Engine {
	if u = strings.TrimRight(strings.TrimSpace(u), "/"); u != "" {
		e.BaseURL = u
	}
	return e
}

func (e *Engine) Name() string     { return "gpt" }
func (e *Engine) GetModel() string { return e.Model }

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// Complete calls /chat/completions once, retrying only on 429/5xx and
// transport errors while ctx is alive.
func (e *Engine) Complete(ctx context.Context, in critique.Completion) (string, error) {
	if e.APIKey == "" {
		return "", fmt.Errorf("OPENAI_API_KEY is empty")
	}
	payload, err := json.Marshal(e.body(in))
	if err != nil {
		return "", err
	}

	var lastErr error
	for attempt := 0; attempt <= e.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := time.Duration(attempt) * 500 * time.Millisecond
			e.log.Warn("retrying completion", zap.Int("attempt", attempt), zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(wait):
			}
		}
		out, err := e.do(ctx, payload)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		var se *StatusError
		if errors.As(err, &se) && !se.retryable() {
			return "", err
		}
	}
	return "", lastErr
}

func (e *Engine) body(in critique.Completion) map[string]any {
	mime := in.MIME
	if !isOpenAIImageMIME(mime) {
		mime = util.SniffMimeHTTP(in.Image)
	}
	dataURL := util.MakeDataURL(mime, base64.StdEncoding.EncodeToString(in.Image))

	messages := []any{}
	if in.System != "" {
		messages = append(messages, map[string]any{"role": "system", "content": in.System})
	}
	messages = append(messages, map[string]any{
		"role": "user",
		"content": []any{
			map[string]any{"type": "text", "text": in.Prompt},
			map[string]any{"type": "image_url", "image_url": map[string]any{"url": dataURL, "detail": "high"}},
		},
	})

	body := map[string]any{
		"model":       e.Model,
		"messages":    messages,
		"temperature": in.Temperature,
	}
	if in.MaxTokens > 0 {
		body["max_tokens"] = in.MaxTokens
	}
	return body
}

func (e *Engine) do(ctx context.Context, payload []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.APIKey)

	resp, err := e.httpc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", &StatusError{Code: resp.StatusCode, Body: truncateBytes(bytes.TrimSpace(raw), 512)}
	}

	var cr chatResponse
	if err := json.Unmarshal(raw, &cr); err != nil {
		return "", fmt.Errorf("openai: bad response: %w", err)
	}
	if len(cr.Choices) == 0 {
		return "", fmt.Errorf("openai: no choices; body=%s", truncateBytes(raw, 256))
	}
	ch := cr.Choices[0]
	if ch.FinishReason == "length" {
		e.log.Warn("completion truncated by max_tokens", zap.String("model", e.Model))
	}
	return ch.Message.Content, nil
}

func truncateBytes(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}

func isOpenAIImageMIME(m string) bool {
	switch strings.ToLower(strings.TrimSpace(m)) {
	case "image/jpeg", "image/jpg", "image/png", "image/webp", "image/gif":
		return true
	}
	return false
}
