package types

import (
	"fmt"
	"strings"
)

// Request is one critique call. Image is already normalized by the caller.
type Request struct {
	Image       []byte `json:"-"`
	MIME        string `json:"mime,omitempty"`         // "image/jpeg" after normalization
	ViewerLevel string `json:"viewer_level,omitempty"` // "новичок" | "любитель" | "профессионал" | free text
	Detailed    bool   `json:"detailed"`               // ask for region annotations
	Engine      string `json:"llm_name,omitempty"`     // "" = configured default
}

// Region is a normalized bounding box (fractions of image width/height) plus a comment.
// X+Width and Y+Height may exceed 1: the model is not forced to stay inside the frame.
type Region struct {
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Width   float64 `json:"width"`
	Height  float64 `json:"height"`
	Comment string  `json:"comment"`
}

// Result is the only output type of the critique pipeline.
type Result struct {
	FullText string   `json:"full_text"`
	Regions  []Region `json:"regions"`
	Score    *float64 `json:"score,omitempty"`

	Diagnostics Diagnostics `json:"-"`
}

// Diagnostics describes how the structured part was recovered. Internal only.
type Diagnostics struct {
	Strategy    string // winning strategy, "" when none matched
	Degraded    bool   // structured data expected but missing, invalid or partial
	Skipped     int    // region candidates dropped by validation
	OutOfBounds int    // regions with x+width > 1 or y+height > 1

	Engine string // set by the critic
	Model  string
}

// CoordinateScale says how the prompt asked the model to express coordinates.
type CoordinateScale string

const (
	ScaleFraction CoordinateScale = "fraction" // 0..1
	ScalePercent  CoordinateScale = "percent"  // 0..100
)

// ParseCoordinateScale accepts "fraction"/"percent" (and a few spellings); "" means fraction.
func ParseCoordinateScale(s string) (CoordinateScale, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "fraction", "fractions", "ratio":
		return ScaleFraction, nil
	case "percent", "percents", "percentage", "%":
		return ScalePercent, nil
	default:
		return "", fmt.Errorf("unknown coordinate scale %q: use fraction|percent", s)
	}
}

// Divisor converts a coordinate in this scale to a fraction.
func (s CoordinateScale) Divisor() float64 {
	if s == ScalePercent {
		return 100
	}
	return 1
}
