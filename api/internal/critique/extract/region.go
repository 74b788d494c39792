package extract

import (
	"encoding/json"
	"math"
	"strings"

	"photo-critic/api/internal/critique/types"
)

// toRegion validates one candidate and converts it to fractions.
// Coordinates are clamped to [0,1]; boxes with no area after clamping are rejected.
func toRegion(c map[string]any, divisor float64) (types.Region, bool) {
	if c == nil {
		return types.Region{}, false
	}
	x, okX := number(c, "x")
	y, okY := number(c, "y")
	w, okW := number(c, "width", "w")
	h, okH := number(c, "height", "h")
	if !okX || !okY || !okW || !okH {
		return types.Region{}, false
	}
	comment, _ := c["comment"].(string)
	comment = strings.TrimSpace(comment)
	if comment == "" {
		return types.Region{}, false
	}

	r := types.Region{
		X:       clamp01(x / divisor),
		Y:       clamp01(y / divisor),
		Width:   clamp01(w / divisor),
		Height:  clamp01(h / divisor),
		Comment: comment,
	}
	if r.Width <= 0 || r.Height <= 0 {
		return types.Region{}, false
	}
	return r, true
}

func number(c map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		v, ok := c[k]
		if !ok {
			continue
		}
		var f float64
		switch n := v.(type) {
		case float64:
			f = n
		case json.Number:
			var err error
			if f, err = n.Float64(); err != nil {
				return 0, false
			}
		default:
			return 0, false
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

func exceedsFrame(r types.Region) bool {
	return r.X+r.Width > 1 || r.Y+r.Height > 1
}
