package handle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"photo-critic/api/internal/critique"
	"photo-critic/api/internal/critique/types"
	"photo-critic/api/internal/imaging"
	"photo-critic/api/internal/store"
	"photo-critic/api/internal/util"
)

var (
	errNoImage      = errors.New("image is required (multipart field file or image, or image_base64)")
	errBadImageB64  = errors.New("bad image_base64")
	errContentType  = errors.New("use multipart/form-data or application/json")
	errBodyTooLarge = errors.New("upload too large")
)

// flexBool accepts true/false as well as the form strings "true", "1", "yes", "on".
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	var v bool
	if err := json.Unmarshal(data, &v); err == nil {
		*b = flexBool(v)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("detailed: expected bool or string")
	}
	*b = flexBool(util.ParseBool(s))
	return nil
}

type analyzeJSON struct {
	ImageBase64 string   `json:"image_base64"`
	UserLevel   string   `json:"user_level"`
	ViewerLevel string   `json:"viewer_level"`
	Detailed    flexBool `json:"detailed"`
	LLMName     string   `json:"llm_name"`
}

type upload struct {
	raw  []byte
	mime string
	req  types.Request
}

// Analyze serves POST /analyze and POST /upload.
func (h *Handle) Analyze(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.opts.MaxUpload)

	up, err := h.readUpload(c)
	if err != nil {
		switch {
		case errors.Is(err, errBodyTooLarge):
			writeError(c, http.StatusRequestEntityTooLarge, err.Error())
		case errors.Is(err, errContentType):
			writeError(c, http.StatusUnsupportedMediaType, err.Error())
		default:
			writeError(c, http.StatusBadRequest, err.Error())
		}
		return
	}

	img, err := imaging.Prepare(up.raw, h.opts.Image)
	if err != nil {
		if errors.Is(err, imaging.ErrTooLarge) {
			writeError(c, http.StatusRequestEntityTooLarge, err.Error())
			return
		}
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	h.log.Debug("image prepared",
		zap.String("declared_mime", up.mime),
		zap.String("format", img.Format),
		zap.Int("bytes_in", len(up.raw)),
		zap.Int("width", img.Width),
		zap.Int("height", img.Height))
	req := up.req
	req.Image = img.Data
	req.MIME = img.MIME

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.deadline(c))
	defer cancel()

	res, err := h.critic.Critique(ctx, req)
	if err != nil {
		var ue *critique.UpstreamError
		switch {
		case errors.As(err, &ue):
			writeError(c, http.StatusBadGateway, "critique error: "+err.Error())
		case errors.Is(err, critique.ErrUnknownEngine),
			errors.Is(err, critique.ErrEngineNotConfigured),
			errors.Is(err, critique.ErrEmptyImage):
			writeError(c, http.StatusBadRequest, err.Error())
		default:
			h.log.Error("critique failed", zap.Error(err))
			writeError(c, http.StatusInternalServerError, "internal error")
		}
		return
	}

	h.record(c, up, res)
	c.JSON(http.StatusOK, gin.H{"feedback": res})
}

func (h *Handle) readUpload(c *gin.Context) (upload, error) {
	ct := c.ContentType()
	switch {
	case strings.HasPrefix(ct, "multipart/"):
		return h.readMultipart(c)
	case ct == "application/json":
		return h.readJSON(c)
	default:
		return upload{}, errContentType
	}
}

func (h *Handle) readMultipart(c *gin.Context) (upload, error) {
	fh, err := c.FormFile("file")
	if err != nil {
		if tooLarge(err) {
			return upload{}, errBodyTooLarge
		}
		if fh, err = c.FormFile("image"); err != nil {
			if tooLarge(err) {
				return upload{}, errBodyTooLarge
			}
			return upload{}, errNoImage
		}
	}
	raw, err := readFile(fh)
	if err != nil {
		return upload{}, err
	}
	if len(raw) == 0 {
		return upload{}, errNoImage
	}

	level := c.PostForm("viewer_level")
	if level == "" {
		level = c.PostForm("user_level")
	}
	return upload{
		raw:  raw,
		mime: fh.Header.Get("Content-Type"),
		req: types.Request{
			ViewerLevel: strings.TrimSpace(level),
			Detailed:    util.ParseBool(c.PostForm("detailed")),
			Engine:      c.PostForm("llm_name"),
		},
	}, nil
}

func (h *Handle) readJSON(c *gin.Context) (upload, error) {
	var in analyzeJSON
	if err := json.NewDecoder(c.Request.Body).Decode(&in); err != nil {
		if tooLarge(err) {
			return upload{}, errBodyTooLarge
		}
		return upload{}, fmt.Errorf("bad json: %w", err)
	}
	if strings.TrimSpace(in.ImageBase64) == "" {
		return upload{}, errNoImage
	}
	raw, hint, err := util.DecodeBase64MaybeDataURL(in.ImageBase64)
	if err != nil || len(raw) == 0 {
		return upload{}, errBadImageB64
	}
	level := in.ViewerLevel
	if level == "" {
		level = in.UserLevel
	}
	return upload{
		raw:  raw,
		mime: hint,
		req: types.Request{
			ViewerLevel: strings.TrimSpace(level),
			Detailed:    bool(in.Detailed),
			Engine:      in.LLMName,
		},
	}, nil
}

func readFile(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func tooLarge(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe) || strings.Contains(err.Error(), "request body too large")
}

// record writes the answered critique to history. Failures are only logged.
func (h *Handle) record(c *gin.Context, up upload, res types.Result) {
	if !h.history.Enabled() {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), 3*time.Second)
	defer cancel()

	rec := &store.Record{
		ImageHash:   util.SHA256Hex(up.raw),
		Engine:      res.Diagnostics.Engine,
		Model:       res.Diagnostics.Model,
		ViewerLevel: up.req.ViewerLevel,
		Detailed:    up.req.Detailed,
		Result:      res,
		Strategy:    res.Diagnostics.Strategy,
		Degraded:    res.Diagnostics.Degraded,
	}
	if err := h.history.Insert(ctx, rec); err != nil {
		h.log.Warn("history insert failed", zap.Error(err))
		return
	}
	c.Header("X-Image-Hash", rec.ImageHash)
}
