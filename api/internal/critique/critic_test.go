package critique

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"photo-critic/api/internal/critique/prompt"
	"photo-critic/api/internal/critique/types"
)

type fakeCompleter struct {
	name  string
	text  string
	err   error
	wait  bool
	calls int
	last  Completion
}

func (f *fakeCompleter) Name() string     { return f.name }
func (f *fakeCompleter) GetModel() string { return f.name + "-model" }

func (f *fakeCompleter) Complete(ctx context.Context, in Completion) (string, error) {
	f.calls++
	f.last = in
	if f.wait {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return f.text, f.err
}

type countingExtractor struct{ calls int }

func (c *countingExtractor) Extract(raw string, expectRegions bool) types.Result {
	c.calls++
	return types.Result{FullText: raw, Regions: []types.Region{}}
}

func newTestCritic(t *testing.T, gpt, gemini Completer) *Critic {
	t.Helper()
	engines := &Engines{OpenAI: gpt, Gemini: gemini, Default: "gpt"}
	return New(engines, prompt.MustDefault(types.ScaleFraction), Options{}, nil)
}

var jpeg = []byte{0xFF, 0xD8, 0xFF, 0xE0}

func TestCritiqueDetailed(t *testing.T) {
	gpt := &fakeCompleter{name: "gpt", text: "Great photo! ```json\n{\"regions\":[{\"x\":0.1,\"y\":0.2,\"width\":0.3,\"height\":0.1,\"comment\":\"blurry\"}]}\n```"}
	c := newTestCritic(t, gpt, nil)

	res, err := c.Critique(context.Background(), types.Request{Image: jpeg, ViewerLevel: "новичок", Detailed: true})
	if err != nil {
		t.Fatalf("Critique: %v", err)
	}
	if res.FullText != "Great photo!" || len(res.Regions) != 1 {
		t.Errorf("result = %+v", res)
	}
	if gpt.calls != 1 {
		t.Errorf("completion calls = %d, want 1", gpt.calls)
	}
	if gpt.last.MaxTokens != DefaultMaxTokens || gpt.last.Temperature != DefaultTemperature {
		t.Errorf("defaults not applied: %+v", gpt.last)
	}
	if gpt.last.MIME != "image/jpeg" {
		t.Errorf("mime = %q", gpt.last.MIME)
	}
	if !strings.Contains(gpt.last.Prompt, "новичок") || !strings.Contains(gpt.last.Prompt, `"regions"`) {
		t.Errorf("prompt missing level or regions instruction:\n%s", gpt.last.Prompt)
	}
}

func TestCritiqueBriefKeepsTextVerbatim(t *testing.T) {
	gpt := &fakeCompleter{name: "gpt", text: "Nice shot overall, score 8/10."}
	c := newTestCritic(t, gpt, nil)

	res, err := c.Critique(context.Background(), types.Request{Image: jpeg, Detailed: false})
	if err != nil {
		t.Fatal(err)
	}
	if res.FullText != "Nice shot overall, score 8/10." {
		t.Errorf("full_text = %q", res.FullText)
	}
	if res.Regions == nil || len(res.Regions) != 0 {
		t.Errorf("regions = %#v, want empty", res.Regions)
	}
}

func TestCritiqueUpstreamFailures(t *testing.T) {
	boom := errors.New("status 500")

	tests := []struct {
		name    string
		gpt     *fakeCompleter
		timeout time.Duration
		wantErr error
	}{
		{name: "transport error", gpt: &fakeCompleter{name: "gpt", err: boom}, wantErr: boom},
		{name: "timeout", gpt: &fakeCompleter{name: "gpt", wait: true}, timeout: 20 * time.Millisecond, wantErr: context.DeadlineExceeded},
		{name: "empty text", gpt: &fakeCompleter{name: "gpt", text: "  \n"}, wantErr: ErrEmptyCompletion},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x := &countingExtractor{}
			c := newTestCritic(t, tt.gpt, nil).WithExtractor(x)

			ctx := context.Background()
			if tt.timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, tt.timeout)
				defer cancel()
			}

			_, err := c.Critique(ctx, types.Request{Image: jpeg, Detailed: true})
			var ue *UpstreamError
			if !errors.As(err, &ue) {
				t.Fatalf("err = %v, want *UpstreamError", err)
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want wrapping %v", err, tt.wantErr)
			}
			if ue.Engine != "gpt" || ue.Model != "gpt-model" {
				t.Errorf("upstream = %+v", ue)
			}
			if x.calls != 0 {
				t.Errorf("extractor called %d times after upstream failure", x.calls)
			}
			if tt.gpt.calls != 1 {
				t.Errorf("completion calls = %d, want exactly 1", tt.gpt.calls)
			}
		})
	}
}

func TestCritiqueEngineSelection(t *testing.T) {
	gpt := &fakeCompleter{name: "gpt", text: "from gpt"}
	gem := &fakeCompleter{name: "gemini", text: "from gemini"}
	c := newTestCritic(t, gpt, gem)

	res, err := c.Critique(context.Background(), types.Request{Image: jpeg, Engine: "Gemini"})
	if err != nil {
		t.Fatal(err)
	}
	if res.FullText != "from gemini" || gpt.calls != 0 {
		t.Errorf("wrong engine used: %q, gpt calls %d", res.FullText, gpt.calls)
	}

	_, err = c.Critique(context.Background(), types.Request{Image: jpeg, Engine: "claude"})
	if !errors.Is(err, ErrUnknownEngine) {
		t.Errorf("err = %v, want ErrUnknownEngine", err)
	}
	if IsUpstream(err) {
		t.Error("unknown engine must not be an upstream error")
	}
}

func TestCritiqueRejectsEmptyImage(t *testing.T) {
	gpt := &fakeCompleter{name: "gpt", text: "x"}
	c := newTestCritic(t, gpt, nil)

	_, err := c.Critique(context.Background(), types.Request{})
	if !errors.Is(err, ErrEmptyImage) {
		t.Fatalf("err = %v, want ErrEmptyImage", err)
	}
	if gpt.calls != 0 {
		t.Error("model must not be called without an image")
	}
}

func TestGetEngine(t *testing.T) {
	gpt := &fakeCompleter{name: "gpt"}
	e := &Engines{OpenAI: gpt}

	for _, name := range []string{"", "gpt", "openai", " GPT "} {
		got, err := e.GetEngine(name)
		if err != nil || got != Completer(gpt) {
			t.Errorf("GetEngine(%q) = %v, %v", name, got, err)
		}
	}
	if _, err := e.GetEngine("gemini"); err == nil {
		t.Error("expected error for unconfigured gemini")
	}
	if names := e.Names(); len(names) != 1 || names[0] != "gpt" {
		t.Errorf("Names() = %v", names)
	}
}
