package extract

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"photo-critic/api/internal/critique/types"
)

var (
	reFencedJSON = regexp.MustCompile("(?s)```[ \\t]*(?i:json)[ \\t]*\\r?\\n(.*?)```")
	reBlankRun   = regexp.MustCompile(`\n[ \t]*\n(?:[ \t]*\n)+`)

	// [Зона 1] x=10%, y=20%, w=30%, h=15% — пересвет на небе
	reBracketLine = regexp.MustCompile(`(?mi)^[ \t]*(?:[-*•][ \t]*)?\[([^\]\n]*)\][ \t]*` +
		`x[ \t]*=[ \t]*(-?\d+(?:\.\d+)?)[ \t]*%?[ \t]*[,;][ \t]*` +
		`y[ \t]*=[ \t]*(-?\d+(?:\.\d+)?)[ \t]*%?[ \t]*[,;][ \t]*` +
		`w[ \t]*=[ \t]*(-?\d+(?:\.\d+)?)[ \t]*%?[ \t]*[,;][ \t]*` +
		`h[ \t]*=[ \t]*(-?\d+(?:\.\d+)?)[ \t]*%?[ \t]*` +
		`(?:(?:—|–|-|:)[ \t]*)?([^\r\n]*)`)
)

// maxBraceStarts bounds the streaming attempts of BalancedBrace on long texts.
const maxBraceStarts = 32

// DefaultStrategies returns the strategies in priority order.
func DefaultStrategies() []Strategy {
	return []Strategy{FencedBlock{}, BalancedBrace{}, BracketNotation{}}
}

// FencedBlock finds ```json fenced blocks and decodes the first valid one.
type FencedBlock struct{}

func (FencedBlock) Name() string { return "fenced_block" }

func (FencedBlock) TryExtract(text string) (Payload, bool) {
	for _, m := range reFencedJSON.FindAllStringSubmatchIndex(text, -1) {
		p, ok := decodePayload(text[m[2]:m[3]])
		if !ok {
			continue
		}
		p.Spans = []Span{{Start: m[0], End: m[1]}}
		return p, true
	}
	return Payload{}, false
}

// BalancedBrace decodes the text between the first '{' and the last '}'.
// If that fails it stream-decodes one JSON value from each '{' so an object
// followed by prose containing braces is still recovered.
type BalancedBrace struct{}

func (BalancedBrace) Name() string { return "balanced_brace" }

func (BalancedBrace) TryExtract(text string) (Payload, bool) {
	first := strings.IndexByte(text, '{')
	last := strings.LastIndexByte(text, '}')
	if first < 0 || last < first {
		return Payload{}, false
	}
	if p, ok := decodePayload(text[first : last+1]); ok {
		p.Spans = []Span{widenToFence(text, Span{Start: first, End: last + 1})}
		return p, true
	}

	start, tries := first, 0
	for start >= 0 && start < last && tries < maxBraceStarts {
		tries++
		dec := json.NewDecoder(strings.NewReader(text[start:]))
		var raw json.RawMessage
		if err := dec.Decode(&raw); err == nil {
			if p, ok := decodePayload(string(raw)); ok {
				end := start + int(dec.InputOffset())
				p.Spans = []Span{widenToFence(text, Span{Start: start, End: end})}
				return p, true
			}
		}
		next := strings.IndexByte(text[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return Payload{}, false
}

// BracketNotation reads "[Label N] x=P%, y=P%, w=P%, h=P% — comment" lines.
// The notation is percent-based whatever scale the prompt asked for.
type BracketNotation struct{}

func (BracketNotation) Name() string { return "bracket_notation" }

func (BracketNotation) TryExtract(text string) (Payload, bool) {
	matches := reBracketLine.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return Payload{}, false
	}
	p := Payload{Scale: types.ScalePercent}
	for _, m := range matches {
		c := map[string]any{
			"comment": strings.TrimSpace(text[m[12]:m[13]]),
		}
		for i, key := range []string{"x", "y", "width", "height"} {
			v, err := strconv.ParseFloat(text[m[4+2*i]:m[5+2*i]], 64)
			if err != nil {
				continue
			}
			c[key] = v
		}
		p.Candidates = append(p.Candidates, c)
		p.Spans = append(p.Spans, Span{Start: m[0], End: m[1]})
	}
	return p, true
}
