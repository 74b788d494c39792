// Package extract recovers region annotations from free-form model output.
//
// Extraction never fails: when the structured part is missing or broken the
// caller still gets the prose, and the problem is only logged.
package extract

import (
	"go.uber.org/zap"

	"photo-critic/api/internal/critique/types"
)

type Extractor struct {
	scale      types.CoordinateScale
	strategies []Strategy
	log        *zap.Logger
}

// New returns an extractor with the default strategies.
// scale must match what the prompt asked the model to emit.
func New(scale types.CoordinateScale, log *zap.Logger) *Extractor {
	if scale == "" {
		scale = types.ScaleFraction
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Extractor{
		scale:      scale,
		strategies: DefaultStrategies(),
		log:        log.Named("extract"),
	}
}

// WithStrategies replaces the strategy list (tried in the given order).
func (e *Extractor) WithStrategies(s ...Strategy) *Extractor {
	if len(s) > 0 {
		e.strategies = s
	}
	return e
}

func (e *Extractor) Scale() types.CoordinateScale { return e.scale }

// Extract turns raw model text into a Result. It never fails.
func (e *Extractor) Extract(raw string, expectRegions bool) types.Result {
	if !expectRegions {
		return types.Result{FullText: raw, Regions: []types.Region{}}
	}

	for _, s := range e.strategies {
		p, ok := s.TryExtract(raw)
		if !ok {
			continue
		}
		return e.build(raw, s.Name(), p)
	}

	e.log.Warn("extraction degraded: no structured payload found",
		zap.Int("text_len", len(raw)))
	return types.Result{
		FullText:    raw,
		Regions:     []types.Region{},
		Diagnostics: types.Diagnostics{Degraded: true},
	}
}

func (e *Extractor) build(raw, strategy string, p Payload) types.Result {
	scale := e.scale
	if p.Scale != "" {
		scale = p.Scale
	}
	div := scale.Divisor()

	diag := types.Diagnostics{Strategy: strategy}
	regions := make([]types.Region, 0, len(p.Candidates))
	for i, c := range p.Candidates {
		r, ok := toRegion(c, div)
		if !ok {
			diag.Skipped++
			e.log.Debug("region skipped", zap.String("strategy", strategy), zap.Int("index", i))
			continue
		}
		if exceedsFrame(r) {
			diag.OutOfBounds++
		}
		regions = append(regions, r)
	}
	diag.Degraded = diag.Skipped > 0

	text := stripSpans(raw, p.Spans)
	if text == "" {
		text = p.Summary
	}
	if text == "" {
		text = raw
	}

	if diag.Degraded {
		e.log.Warn("extraction degraded: regions dropped",
			zap.String("strategy", strategy),
			zap.Int("kept", len(regions)),
			zap.Int("skipped", diag.Skipped))
	}
	if diag.OutOfBounds > 0 {
		e.log.Info("regions exceed frame",
			zap.String("strategy", strategy),
			zap.Int("count", diag.OutOfBounds))
	}

	return types.Result{
		FullText:    text,
		Regions:     regions,
		Score:       p.Score,
		Diagnostics: diag,
	}
}
