package handle

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"photo-critic/api/internal/critique"
	"photo-critic/api/internal/critique/types"
	"photo-critic/api/internal/imaging"
	"photo-critic/api/internal/store"
)

type fakeCritic struct {
	res  types.Result
	err  error
	got  types.Request
	hasD bool
}

func (f *fakeCritic) Critique(ctx context.Context, req types.Request) (types.Result, error) {
	f.got = req
	_, f.hasD = ctx.Deadline()
	return f.res, f.err
}

type fakeHistory struct {
	enabled  bool
	inserted []*store.Record
	list     []store.Record
	err      error
}

func (f *fakeHistory) Enabled() bool { return f.enabled }

func (f *fakeHistory) Insert(_ context.Context, rec *store.Record) error {
	f.inserted = append(f.inserted, rec)
	return f.err
}

func (f *fakeHistory) ListByHash(context.Context, string, int) ([]store.Record, error) {
	return f.list, f.err
}

func testPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 32, 16))
	for x := 0; x < 32; x++ {
		img.Set(x, 8, color.RGBA{R: 255, A: 255})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func newTestRouter(t *testing.T, c Critic, h History, opts Options) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	New(c, h, opts, nil).Register(r)
	return r
}

func multipartBody(t *testing.T, field string, file []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if file != nil {
		fw, err := mw.CreateFormFile(field, "photo.png")
		if err != nil {
			t.Fatal(err)
		}
		_, _ = fw.Write(file)
	}
	for k, v := range fields {
		_ = mw.WriteField(k, v)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

func TestAnalyzeMultipart(t *testing.T) {
	fc := &fakeCritic{res: types.Result{
		FullText: "Great photo!",
		Regions:  []types.Region{{X: 0.1, Y: 0.2, Width: 0.3, Height: 0.1, Comment: "blurry"}},
	}}
	r := newTestRouter(t, fc, nil, Options{})

	for _, path := range []string{"/analyze", "/upload"} {
		t.Run(path, func(t *testing.T) {
			body, ct := multipartBody(t, "file", testPNG(t), map[string]string{
				"user_level": "новичок",
				"detailed":   "True",
				"llm_name":   "gemini",
			})
			req := httptest.NewRequest(http.MethodPost, path, body)
			req.Header.Set("Content-Type", ct)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, body %s", w.Code, w.Body)
			}
			var out struct {
				Feedback struct {
					FullText string         `json:"full_text"`
					Regions  []types.Region `json:"regions"`
				} `json:"feedback"`
			}
			if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
				t.Fatal(err)
			}
			if out.Feedback.FullText != "Great photo!" || len(out.Feedback.Regions) != 1 {
				t.Errorf("feedback = %+v", out.Feedback)
			}
			if fc.got.ViewerLevel != "новичок" || !fc.got.Detailed || fc.got.Engine != "gemini" {
				t.Errorf("request = %+v", fc.got)
			}
			if fc.got.MIME != "image/jpeg" || len(fc.got.Image) == 0 {
				t.Errorf("image not normalized: mime %q, %d bytes", fc.got.MIME, len(fc.got.Image))
			}
			if !fc.hasD {
				t.Error("critic context has no deadline")
			}
		})
	}
}

func TestAnalyzeJSON(t *testing.T) {
	fc := &fakeCritic{res: types.Result{FullText: "Nice shot overall, score 8/10.", Regions: []types.Region{}}}
	r := newTestRouter(t, fc, nil, Options{})

	payload, _ := json.Marshal(map[string]any{
		"image_base64": "data:image/png;base64," + base64.StdEncoding.EncodeToString(testPNG(t)),
		"user_level":   "профи",
		"detailed":     "false",
	})
	req := httptest.NewRequest(http.MethodPost, "/analyze", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body)
	}
	if !strings.Contains(w.Body.String(), `"regions":[]`) {
		t.Errorf("regions must serialize as empty array: %s", w.Body)
	}
	if fc.got.Detailed || fc.got.ViewerLevel != "профи" {
		t.Errorf("request = %+v", fc.got)
	}
}

func TestAnalyzeErrors(t *testing.T) {
	upstream := &critique.UpstreamError{Engine: "gpt", Model: "gpt-4o", Err: context.DeadlineExceeded}

	tests := []struct {
		name     string
		critic   *fakeCritic
		build    func(t *testing.T) (*bytes.Buffer, string)
		opts     Options
		wantCode int
	}{
		{
			name:   "upstream timeout",
			critic: &fakeCritic{err: upstream},
			build: func(t *testing.T) (*bytes.Buffer, string) {
				return multipartBody(t, "file", testPNG(t), map[string]string{"detailed": "true"})
			},
			wantCode: http.StatusBadGateway,
		},
		{
			name:   "unknown engine",
			critic: &fakeCritic{err: fmt.Errorf("%w: %q", critique.ErrUnknownEngine, "x")},
			build: func(t *testing.T) (*bytes.Buffer, string) {
				return multipartBody(t, "image", testPNG(t), nil)
			},
			wantCode: http.StatusBadRequest,
		},
		{
			name:   "internal",
			critic: &fakeCritic{err: errors.New("prompt template broken")},
			build: func(t *testing.T) (*bytes.Buffer, string) {
				return multipartBody(t, "file", testPNG(t), nil)
			},
			wantCode: http.StatusInternalServerError,
		},
		{
			name:   "missing file",
			critic: &fakeCritic{},
			build: func(t *testing.T) (*bytes.Buffer, string) {
				return multipartBody(t, "file", nil, map[string]string{"detailed": "true"})
			},
			wantCode: http.StatusBadRequest,
		},
		{
			name:   "not an image",
			critic: &fakeCritic{},
			build: func(t *testing.T) (*bytes.Buffer, string) {
				return multipartBody(t, "file", []byte("hello"), nil)
			},
			wantCode: http.StatusBadRequest,
		},
		{
			name:   "upload too large",
			critic: &fakeCritic{},
			build: func(t *testing.T) (*bytes.Buffer, string) {
				return multipartBody(t, "file", bytes.Repeat([]byte{1}, 4096), nil)
			},
			opts:     Options{MaxUpload: 1024},
			wantCode: http.StatusRequestEntityTooLarge,
		},
		{
			name:   "too many pixels",
			critic: &fakeCritic{},
			build: func(t *testing.T) (*bytes.Buffer, string) {
				return multipartBody(t, "file", testPNG(t), nil)
			},
			opts:     Options{Image: imaging.Options{MaxPixels: 100}},
			wantCode: http.StatusRequestEntityTooLarge,
		},
		{
			name:   "wrong content type",
			critic: &fakeCritic{},
			build: func(t *testing.T) (*bytes.Buffer, string) {
				return bytes.NewBufferString("x"), "text/plain"
			},
			wantCode: http.StatusUnsupportedMediaType,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRouter(t, tt.critic, nil, tt.opts)
			body, ct := tt.build(t)
			req := httptest.NewRequest(http.MethodPost, "/analyze", body)
			req.Header.Set("Content-Type", ct)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d; body %s", w.Code, tt.wantCode, w.Body)
			}
			var out map[string]string
			if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil || out["error"] == "" {
				t.Errorf("want {\"error\": ...} body, got %s", w.Body)
			}
			if strings.Contains(w.Body.String(), "goroutine") {
				t.Error("stack trace leaked")
			}
		})
	}
}

func TestAnalyzeRecordsHistory(t *testing.T) {
	fc := &fakeCritic{res: types.Result{
		FullText:    "ok",
		Regions:     []types.Region{},
		Diagnostics: types.Diagnostics{Engine: "gpt", Model: "gpt-4o", Strategy: "fenced_block"},
	}}
	hist := &fakeHistory{enabled: true}
	r := newTestRouter(t, fc, hist, Options{})

	body, ct := multipartBody(t, "file", testPNG(t), map[string]string{"viewer_level": "любитель", "detailed": "1"})
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", ct)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if len(hist.inserted) != 1 {
		t.Fatalf("inserted %d records", len(hist.inserted))
	}
	rec := hist.inserted[0]
	if rec.Engine != "gpt" || rec.Strategy != "fenced_block" || !rec.Detailed || len(rec.ImageHash) != 64 {
		t.Errorf("record = %+v", rec)
	}
	if w.Header().Get("X-Image-Hash") != rec.ImageHash {
		t.Error("X-Image-Hash header missing")
	}
}

func TestAnalyzeHistoryFailureDoesNotFailRequest(t *testing.T) {
	fc := &fakeCritic{res: types.Result{FullText: "ok", Regions: []types.Region{}}}
	hist := &fakeHistory{enabled: true, err: errors.New("db down")}
	r := newTestRouter(t, fc, hist, Options{})

	body, ct := multipartBody(t, "file", testPNG(t), nil)
	req := httptest.NewRequest(http.MethodPost, "/analyze", body)
	req.Header.Set("Content-Type", ct)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		r := newTestRouter(t, &fakeCritic{}, nil, Options{})
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/critiques/abc", nil))
		if w.Code != http.StatusNotFound {
			t.Errorf("status = %d", w.Code)
		}
	})

	t.Run("lists records", func(t *testing.T) {
		id := uuid.New()
		hist := &fakeHistory{enabled: true, list: []store.Record{{
			ID:        id,
			CreatedAt: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
			Engine:    "gpt",
			Result:    types.Result{FullText: "ok", Regions: []types.Region{}},
		}}}
		r := newTestRouter(t, &fakeCritic{}, hist, Options{})
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/critiques/abc?limit=5", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d", w.Code)
		}
		if !strings.Contains(w.Body.String(), id.String()) || !strings.Contains(w.Body.String(), `"full_text":"ok"`) {
			t.Errorf("body = %s", w.Body)
		}
	})
}

func TestDeadlineOverrides(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := New(&fakeCritic{}, nil, Options{RequestTimeout: time.Minute}, nil)

	tests := []struct {
		header, query string
		want          time.Duration
	}{
		{"", "", time.Minute},
		{"5", "", 5 * time.Second},
		{"", "7", 7 * time.Second},
		{"bad", "", time.Minute},
		{"3", "9", 3 * time.Second},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		target := "/analyze"
		if tt.query != "" {
			target += "?timeoutSec=" + tt.query
		}
		c.Request = httptest.NewRequest(http.MethodPost, target, nil)
		if tt.header != "" {
			c.Request.Header.Set("X-Request-Timeout", tt.header)
		}
		if got := h.deadline(c); got != tt.want {
			t.Errorf("deadline(header=%q, query=%q) = %v, want %v", tt.header, tt.query, got, tt.want)
		}
	}
}

func TestHealthAndVersion(t *testing.T) {
	r := newTestRouter(t, &fakeCritic{}, nil, Options{Version: "1.2.3"})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK || w.Body.String() != "ok" {
		t.Errorf("healthz = %d %q", w.Code, w.Body)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/version", nil))
	if !strings.Contains(w.Body.String(), "1.2.3") {
		t.Errorf("version = %s", w.Body)
	}
}
