package gemini

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"photo-critic/api/internal/critique"
	"photo-critic/api/internal/util"
)

type Engine struct {
	APIKey     string
	Model      string
	MaxRetries int

	opts []option.ClientOption
	log  *zap.Logger
}

func New(apiKey, model string) *Engine {
	return &Engine{
		APIKey:     strings.TrimSpace(apiKey),
		Model:      strings.TrimSpace(model),
		MaxRetries: 1,
		log:        zap.NewNop(),
	}
}

// WithClientOptions adds options (endpoint, http client) to every genai client.
func (e *Engine) WithClientOptions(opts ...option.ClientOption) *Engine {
	e.opts = append(e.opts, opts...)
	return e
}

func (e *Engine) WithLogger(l *zap.Logger) *Engine {
	if l != nil {
		e.log = l.Named("gemini")
	}
	return e
}

func (e *Engine) Name() string     { return "gemini" }
func (e *Engine) GetModel() string { return e.Model }

func (e *Engine) Complete(ctx context.Context, in critique.Completion) (string, error) {
	if e.APIKey == "" {
		return "", errors.New("GEMINI_API_KEY is empty")
	}
	cl, err := genai.NewClient(ctx, append([]option.ClientOption{option.WithAPIKey(e.APIKey)}, e.opts...)...)
	if err != nil {
		return "", err
	}
	defer cl.Close()

	m := cl.GenerativeModel(e.Model)
	m.GenerationConfig = genai.GenerationConfig{
		Temperature: ptrFloat32(float32(in.Temperature)),
	}
	if in.MaxTokens > 0 {
		m.GenerationConfig.MaxOutputTokens = ptrInt32(int32(in.MaxTokens))
	}
	if in.System != "" {
		m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(in.System)}}
	}

	mime := util.PickMIME(in.MIME, "", in.Image)
	parts := []genai.Part{
		genai.Text(in.Prompt),
		&genai.Blob{MIMEType: mime, Data: in.Image},
	}

	var lastErr error
	for attempt := 0; attempt <= e.MaxRetries; attempt++ {
		if attempt > 0 {
			e.log.Warn("retrying completion", zap.Int("attempt", attempt), zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(attempt) * 300 * time.Millisecond):
			}
		}
		resp, err := m.GenerateContent(ctx, parts...)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			continue
		}
		if truncated(resp) {
			e.log.Warn("completion truncated by max tokens", zap.String("model", e.Model))
		}
		return allText(resp), nil
	}
	return "", lastErr
}

// allText joins the text parts of the first candidate that has any.
func allText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	for _, c := range resp.Candidates {
		if c == nil || c.Content == nil {
			continue
		}
		var b strings.Builder
		for _, p := range c.Content.Parts {
			if t, ok := p.(genai.Text); ok {
				b.WriteString(string(t))
			}
		}
		if b.Len() > 0 {
			return b.String()
		}
	}
	return ""
}

func truncated(resp *genai.GenerateContentResponse) bool {
	if resp == nil {
		return false
	}
	for _, c := range resp.Candidates {
		if c != nil && c.FinishReason == genai.FinishReasonMaxTokens {
			return true
		}
	}
	return false
}

func ptrFloat32(v float32) *float32 { return &v }
func ptrInt32(v int32) *int32       { return &v }
