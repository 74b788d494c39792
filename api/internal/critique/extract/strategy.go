package extract

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"

	"photo-critic/api/internal/critique/types"
)

// Strategy is one way of locating a structured payload inside free-form model text.
type Strategy interface {
	Name() string
	TryExtract(text string) (Payload, bool)
}

// Span is a byte range [Start, End) of the model text consumed by a payload.
type Span struct {
	Start, End int
}

// Payload is structured data recovered from the model text.
// Candidates are unvalidated region records; nil entries are non-object array items.
type Payload struct {
	Candidates []map[string]any
	Score      *float64
	Summary    string
	Spans      []Span

	// Scale overrides the extractor scale when the notation itself fixes it.
	Scale types.CoordinateScale
}

// decodePayload strictly decodes s as an object with a "regions" array.
// Anything else (arrays, scalars, missing key, regions not an array) is rejected.
func decodePayload(s string) (Payload, bool) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(s), &obj); err != nil || obj == nil {
		return Payload{}, false
	}
	rawRegions, ok := obj["regions"]
	if !ok || !bytes.HasPrefix(bytes.TrimSpace(rawRegions), []byte("[")) {
		return Payload{}, false
	}
	var items []json.RawMessage
	if err := json.Unmarshal(rawRegions, &items); err != nil {
		return Payload{}, false
	}

	p := Payload{Candidates: make([]map[string]any, 0, len(items))}
	for _, it := range items {
		var m map[string]any
		if err := json.Unmarshal(it, &m); err != nil {
			m = nil
		}
		p.Candidates = append(p.Candidates, m)
	}

	if raw, ok := obj["score"]; ok {
		var f float64
		if err := json.Unmarshal(raw, &f); err == nil {
			p.Score = &f
		}
	}
	if raw, ok := obj["summary"]; ok {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			p.Summary = strings.TrimSpace(s)
		}
	}
	return p, true
}

// widenToFence grows a span to an enclosing ``` fence (any label) so that
// stripping does not leave empty fences behind.
func widenToFence(text string, sp Span) Span {
	before := strings.TrimRight(text[:sp.Start], " \t\r\n")
	after := strings.TrimLeft(text[sp.End:], " \t\r\n")
	if !strings.HasPrefix(after, "```") {
		return sp
	}
	open := strings.LastIndex(before, "```")
	if open < 0 {
		return sp
	}
	// only a language label may sit between the fence and the payload
	if label := before[open+3:]; strings.ContainsAny(label, " \t\r\n{}") {
		return sp
	}
	end := len(text) - len(after) + 3
	return Span{Start: open, End: end}
}

// stripSpans removes the spans from text, collapses the blank lines left behind and trims.
func stripSpans(text string, spans []Span) string {
	if len(spans) == 0 {
		return strings.TrimSpace(text)
	}
	ss := append([]Span(nil), spans...)
	sort.Slice(ss, func(i, j int) bool { return ss[i].Start < ss[j].Start })

	var b strings.Builder
	pos := 0
	for _, sp := range ss {
		if sp.End <= pos {
			continue
		}
		if sp.Start > pos {
			b.WriteString(text[pos:sp.Start])
		}
		pos = sp.End
	}
	if pos < len(text) {
		b.WriteString(text[pos:])
	}
	out := reBlankRun.ReplaceAllString(b.String(), "\n\n")
	return strings.TrimSpace(out)
}
