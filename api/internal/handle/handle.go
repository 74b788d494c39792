package handle

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"photo-critic/api/internal/critique/types"
	"photo-critic/api/internal/imaging"
	"photo-critic/api/internal/store"
)

const defaultDeadline = 180 * time.Second

type Critic interface {
	Critique(ctx context.Context, req types.Request) (types.Result, error)
}

type History interface {
	Enabled() bool
	Insert(ctx context.Context, rec *store.Record) error
	ListByHash(ctx context.Context, imageHash string, limit int) ([]store.Record, error)
}

type Options struct {
	RequestTimeout time.Duration
	MaxUpload      int64
	Image          imaging.Options
	Version        string
}

type Handle struct {
	critic  Critic
	history History
	opts    Options
	log     *zap.Logger
}

// New builds the HTTP handlers. history may be nil.
func New(critic Critic, history History, opts Options, log *zap.Logger) *Handle {
	if history == nil {
		history = (*store.CritiqueRepo)(nil)
	}
	if log == nil {
		log = zap.NewNop()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultDeadline
	}
	if opts.MaxUpload <= 0 {
		opts.MaxUpload = 20 << 20
	}
	if opts.Image == (imaging.Options{}) {
		opts.Image = imaging.DefaultOptions()
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	return &Handle{critic: critic, history: history, opts: opts, log: log.Named("http")}
}

func (h *Handle) Register(r gin.IRouter) {
	r.GET("/healthz", h.Healthz)
	r.GET("/version", h.Version)
	r.POST("/analyze", h.Analyze)
	r.POST("/upload", h.Analyze)
	r.GET("/v1/critiques/:hash", h.History)
}

func (h *Handle) Healthz(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

func (h *Handle) Version(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"version": h.opts.Version})
}

// deadline: X-Request-Timeout header or timeoutSec query, in seconds.
func (h *Handle) deadline(c *gin.Context) time.Duration {
	d := h.opts.RequestTimeout
	if ts := c.GetHeader("X-Request-Timeout"); ts != "" {
		if v, _ := strconv.Atoi(ts); v > 0 {
			d = time.Duration(v) * time.Second
		}
	} else if ts := c.Query("timeoutSec"); ts != "" {
		if v, _ := strconv.Atoi(ts); v > 0 {
			d = time.Duration(v) * time.Second
		}
	}
	return d
}

func writeError(c *gin.Context, code int, msg string) {
	c.AbortWithStatusJSON(code, gin.H{"error": msg})
}
