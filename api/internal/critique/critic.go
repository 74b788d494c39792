// Package critique runs one photo critique: prompt, single model call,
// region extraction.
package critique

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"photo-critic/api/internal/critique/extract"
	"photo-critic/api/internal/critique/prompt"
	"photo-critic/api/internal/critique/types"
)

const (
	DefaultMaxTokens   = 1200
	DefaultTemperature = 0.7
)

// Extractor turns raw model text into a result.
type Extractor interface {
	Extract(raw string, expectRegions bool) types.Result
}

type Options struct {
	MaxTokens   int
	Temperature float64
}

type Critic struct {
	engines   *Engines
	prompts   *prompt.Builder
	extractor Extractor
	opts      Options
	log       *zap.Logger
}

// New wires a critic. The extractor uses the same coordinate scale as the prompts.
func New(engines *Engines, prompts *prompt.Builder, opts Options, log *zap.Logger) *Critic {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultMaxTokens
	}
	if opts.Temperature <= 0 {
		opts.Temperature = DefaultTemperature
	}
	return &Critic{
		engines:   engines,
		prompts:   prompts,
		extractor: extract.New(prompts.Scale(), log),
		opts:      opts,
		log:       log.Named("critique"),
	}
}

// WithExtractor swaps the extractor.
func (c *Critic) WithExtractor(x Extractor) *Critic {
	if x != nil {
		c.extractor = x
	}
	return c
}

func (c *Critic) Engines() *Engines { return c.engines }

// Critique makes exactly one completion call. Any failure of that call is
// returned as *UpstreamError and extraction is skipped; extraction itself
// never fails the request.
func (c *Critic) Critique(ctx context.Context, req types.Request) (types.Result, error) {
	if len(req.Image) == 0 {
		return types.Result{}, ErrEmptyImage
	}
	eng, err := c.engines.GetEngine(req.Engine)
	if err != nil {
		return types.Result{}, err
	}
	system, user, err := c.prompts.Build(req.ViewerLevel, req.Detailed)
	if err != nil {
		return types.Result{}, err
	}

	mime := req.MIME
	if mime == "" {
		mime = "image/jpeg"
	}

	start := time.Now()
	text, err := eng.Complete(ctx, Completion{
		System:      system,
		Prompt:      user,
		Image:       req.Image,
		MIME:        mime,
		MaxTokens:   c.opts.MaxTokens,
		Temperature: c.opts.Temperature,
	})
	took := time.Since(start)
	if err == nil && strings.TrimSpace(text) == "" {
		err = ErrEmptyCompletion
	}
	if err != nil {
		c.log.Error("completion failed",
			zap.String("engine", eng.Name()),
			zap.String("model", eng.GetModel()),
			zap.Duration("took", took),
			zap.Error(err))
		return types.Result{}, &UpstreamError{Engine: eng.Name(), Model: eng.GetModel(), Err: err}
	}

	res := c.extractor.Extract(text, req.Detailed)
	res.Diagnostics.Engine = eng.Name()
	res.Diagnostics.Model = eng.GetModel()
	c.log.Info("critique done",
		zap.String("engine", eng.Name()),
		zap.String("model", eng.GetModel()),
		zap.Bool("detailed", req.Detailed),
		zap.Int("regions", len(res.Regions)),
		zap.String("strategy", res.Diagnostics.Strategy),
		zap.Bool("degraded", res.Diagnostics.Degraded),
		zap.Duration("took", took))
	return res, nil
}
