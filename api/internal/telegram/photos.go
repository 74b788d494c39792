package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"photo-critic/api/internal/critique"
	"photo-critic/api/internal/critique/types"
	"photo-critic/api/internal/imaging"
	"photo-critic/api/internal/store"
	"photo-critic/api/internal/util"
)

const defaultTimeout = 180 * time.Second

func (r *Router) acceptPhoto(ctx context.Context, cid int64, fileID string) {
	url, err := r.Bot.GetFileDirectURL(fileID)
	if err != nil {
		r.SendError(cid, err)
		return
	}
	raw, err := r.fetch(ctx, url)
	if err != nil {
		r.SendError(cid, fmt.Errorf("скачивание: %w", err))
		return
	}

	opts := r.Image
	if opts == (imaging.Options{}) {
		opts = imaging.DefaultOptions()
	}
	img, err := imaging.Prepare(raw, opts)
	if err != nil {
		r.send(cid, "Не удалось прочитать изображение. Пришлите JPEG, PNG или WebP.")
		return
	}

	settings, err := r.Settings.Get(ctx, cid)
	if err != nil {
		r.log().Warn("settings unavailable, using defaults", zap.Int64("chat_id", cid), zap.Error(err))
	}

	r.send(cid, "📷 Фото принято, анализирую…")
	_, _ = r.Bot.Request(tgbotapi.NewChatAction(cid, tgbotapi.ChatTyping))

	timeout := r.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req := types.Request{
		Image:       img.Data,
		MIME:        img.MIME,
		ViewerLevel: settings.ViewerLevel,
		Detailed:    settings.Detailed,
		Engine:      settings.Engine,
	}
	res, err := r.Critic.Critique(cctx, req)
	if err != nil {
		if critique.IsUpstream(err) {
			r.log().Error("critique upstream failure", zap.Int64("chat_id", cid), zap.Error(err))
			r.send(cid, "⚠️ Сервис анализа сейчас недоступен. Попробуйте ещё раз чуть позже.")
			return
		}
		r.SendError(cid, err)
		return
	}

	for _, part := range util.SplitText(FormatResult(res), maxMessage) {
		r.send(cid, part)
	}
	r.record(ctx, raw, req, res)
}

func (r *Router) record(ctx context.Context, raw []byte, req types.Request, res types.Result) {
	if !r.History.Enabled() {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	err := r.History.Insert(ctx, &store.Record{
		ImageHash:   util.SHA256Hex(raw),
		Engine:      res.Diagnostics.Engine,
		Model:       res.Diagnostics.Model,
		ViewerLevel: req.ViewerLevel,
		Detailed:    req.Detailed,
		Result:      res,
		Strategy:    res.Diagnostics.Strategy,
		Degraded:    res.Diagnostics.Degraded,
	})
	if err != nil && !errors.Is(err, store.ErrDisabled) {
		r.log().Warn("history insert failed", zap.Error(err))
	}
}

func (r *Router) fetch(ctx context.Context, url string) ([]byte, error) {
	if r.Fetch != nil {
		return r.Fetch(ctx, url)
	}
	return download(ctx, url)
}

func download(ctx context.Context, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(b))
	}
	return io.ReadAll(resp.Body)
}
