package critique

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Completion is a single multimodal request to a model.
type Completion struct {
	System      string
	Prompt      string
	Image       []byte
	MIME        string
	MaxTokens   int
	Temperature float64
}

// Completer sends one completion and returns the model's raw text.
type Completer interface {
	Name() string
	GetModel() string
	Complete(ctx context.Context, in Completion) (string, error)
}

var (
	ErrUnknownEngine       = errors.New("unknown llm_name; use 'gpt' or 'gemini'")
	ErrEngineNotConfigured = errors.New("engine is not configured")
)

type Engines struct {
	OpenAI  Completer
	Gemini  Completer
	Default string
}

// GetEngine resolves an llm_name. Empty name means the configured default.
func (e *Engines) GetEngine(llmName string) (Completer, error) {
	name := strings.ToLower(strings.TrimSpace(llmName))
	if name == "" {
		name = e.Default
	}
	if name == "" {
		name = "gpt"
	}
	var c Completer
	switch name {
	case "gpt", "openai":
		c = e.OpenAI
	case "gemini", "google":
		c = e.Gemini
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEngine, llmName)
	}
	if c == nil {
		return nil, fmt.Errorf("%w: %s", ErrEngineNotConfigured, name)
	}
	return c, nil
}

// Names lists the configured engines.
func (e *Engines) Names() []string {
	var out []string
	if e.OpenAI != nil {
		out = append(out, e.OpenAI.Name())
	}
	if e.Gemini != nil {
		out = append(out, e.Gemini.Name())
	}
	return out
}
