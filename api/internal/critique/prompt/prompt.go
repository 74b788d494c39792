// Package prompt renders the system and user prompts sent to the model.
//
// Built-in templates are embedded; a directory set via PROMPT_DIR (or
// prompt.dir in the config) may override either of them with
// critique.system.txt / critique.user.txt.
package prompt

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"photo-critic/api/internal/critique/types"
)

// DefaultLevel is used when the viewer level is blank.
const DefaultLevel = "любитель"

//go:embed templates/*.txt
var builtin embed.FS

// Data is what the templates see.
type Data struct {
	Level    string
	Detailed bool
	Percent  bool
}

type Builder struct {
	system *template.Template
	user   *template.Template
	scale  types.CoordinateScale
}

// New loads templates from dir (may be empty) falling back to the embedded ones.
func New(dir string, scale types.CoordinateScale) (*Builder, error) {
	if scale == "" {
		scale = types.ScaleFraction
	}
	sys, err := load(dir, "system")
	if err != nil {
		return nil, err
	}
	usr, err := load(dir, "user")
	if err != nil {
		return nil, err
	}
	return &Builder{system: sys, user: usr, scale: scale}, nil
}

// MustDefault returns a builder over the embedded templates.
func MustDefault(scale types.CoordinateScale) *Builder {
	b, err := New("", scale)
	if err != nil {
		panic(err)
	}
	return b
}

func (b *Builder) Scale() types.CoordinateScale { return b.scale }

// Build renders both prompts for a viewer level and detail flag.
func (b *Builder) Build(level string, detailed bool) (system, user string, err error) {
	level = strings.TrimSpace(level)
	if level == "" {
		level = DefaultLevel
	}
	d := Data{Level: level, Detailed: detailed, Percent: b.scale == types.ScalePercent}
	if system, err = render(b.system, d); err != nil {
		return "", "", fmt.Errorf("system prompt: %w", err)
	}
	if user, err = render(b.user, d); err != nil {
		return "", "", fmt.Errorf("user prompt: %w", err)
	}
	return system, user, nil
}

func render(t *template.Template, d Data) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, d); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}

func load(dir, kind string) (*template.Template, error) {
	if dir != "" {
		p := filepath.Join(dir, "critique."+kind+".txt")
		b, err := os.ReadFile(p)
		switch {
		case err == nil && len(bytes.TrimSpace(b)) > 0:
			t, err := template.New(kind).Parse(string(b))
			if err != nil {
				return nil, fmt.Errorf("prompt %s: %w", p, err)
			}
			return t, nil
		case err != nil && !errors.Is(err, os.ErrNotExist):
			return nil, fmt.Errorf("prompt %s: %w", p, err)
		}
	}
	b, err := builtin.ReadFile("templates/" + kind + ".txt")
	if err != nil {
		return nil, err
	}
	return template.New(kind).Parse(string(b))
}
