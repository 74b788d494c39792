package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"regexp"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"photo-critic/api/internal/httpserver"
	"photo-critic/api/internal/store"
	"photo-critic/api/internal/telegram"
	"photo-critic/api/internal/util"
)

func newBotCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bot",
		Short: "Run the Telegram bot (webhook when telegram.webhook_url is set, polling otherwise)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runBot(ctx)
		},
	}
}

func runBot(ctx context.Context) error {
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return errors.New("telegram token is empty: set TELEGRAM_BOT_TOKEN")
	}
	critic, err := buildCritic(cfg, log)
	if err != nil {
		return err
	}
	history, closeDB, err := openHistory(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeDB()
	settings, closeSettings, err := openSettings(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeSettings()

	bot, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	bot.Debug = false
	log.Info("telegram authorized", zap.String("bot", bot.Self.UserName))

	router := &telegram.Router{
		Bot:      bot,
		Critic:   critic,
		Settings: settings,
		History:  history,
		Image:    imageOptions(cfg),
		Timeout:  cfg.Server.RequestTimeout,
		Log:      log.Named("telegram"),
	}

	r := httpserver.NewEngine(cfg.Server.Mode, log)
	r.GET("/healthz", healthz(history))
	srv := httpserver.New(cfg.Addr(), r)

	if webhookURL := strings.TrimSpace(cfg.Telegram.WebhookURL); webhookURL != "" {
		// секретный путь вебхука
		path := "/webhook/" + shortHash(cfg.Telegram.Token)
		public := strings.TrimRight(webhookURL, "/") + path

		wh, err := tgbotapi.NewWebhook(public)
		if err != nil {
			return err
		}
		wh.DropPendingUpdates = true
		if _, err := bot.Request(wh); err != nil {
			return fmt.Errorf("set webhook: %w", err)
		}
		r.POST(path, webhookHandler(ctx, bot, router))
		log.Info("webhook mode", zap.String("path", path))
		return httpserver.Run(ctx, srv, log)
	}

	// polling: удалить вебхук, иначе getUpdates вернёт 409
	if _, err := bot.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
		log.Warn("delete webhook failed", zap.Error(err))
	}
	go func() {
		if err := httpserver.Run(ctx, srv, log); err != nil {
			log.Error("health server", zap.Error(err))
		}
	}()
	log.Info("polling mode")
	runPolling(ctx, bot, func(upd tgbotapi.Update) {
		go router.HandleUpdate(ctx, upd)
	}, log)
	return nil
}

func webhookHandler(ctx context.Context, bot *tgbotapi.BotAPI, router *telegram.Router) gin.HandlerFunc {
	return func(c *gin.Context) {
		upd, err := bot.HandleUpdate(c.Request)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		// Telegram re-sends the update if we answer late
		go router.HandleUpdate(ctx, *upd)
		c.Status(http.StatusOK)
	}
}

func healthz(history *store.CritiqueRepo) gin.HandlerFunc {
	return func(c *gin.Context) {
		if history.Enabled() {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := history.DB.PingContext(ctx); err != nil {
				c.String(http.StatusServiceUnavailable, "db: not ok\n"+err.Error())
				return
			}
		}
		c.String(http.StatusOK, "ok")
	}
}

// Updater is the polling part of *tgbotapi.BotAPI.
type Updater interface {
	GetUpdates(config tgbotapi.UpdateConfig) ([]tgbotapi.Update, error)
}

var reRetryAfter = regexp.MustCompile(`(?i)retry after\s+(\d+)`)

func retryDelayFromError(err error) time.Duration {
	if err == nil {
		return 0
	}
	s := strings.ToLower(err.Error())
	if strings.Contains(s, "too many requests") { // HTTP 429 от Telegram
		if m := reRetryAfter.FindStringSubmatch(s); len(m) == 2 {
			if n, _ := strconv.Atoi(m[1]); n > 0 {
				return time.Duration(n) * time.Second
			}
		}
		return 3 * time.Second
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return 2 * time.Second
	}
	return 1 * time.Second
}

func runPolling(ctx context.Context, bot Updater, handle func(tgbotapi.Update), log *zap.Logger) {
	offset := 0
	baseDelay := 1 * time.Second
	maxDelay := 15 * time.Second

	for {
		if ctx.Err() != nil {
			log.Info("polling: context cancelled")
			return
		}

		u := tgbotapi.NewUpdate(offset)
		u.Timeout = 30 // long polling, seconds

		updates, err := bot.GetUpdates(u)
		if err != nil {
			d := min(max(retryDelayFromError(err), baseDelay), maxDelay)
			log.Warn("polling error", zap.Error(err), zap.Duration("retry_in", d))
			sleep(ctx, d)
			continue
		}

		for _, upd := range updates {
			if upd.UpdateID >= offset {
				offset = upd.UpdateID + 1
			}
			handle(upd)
		}
		if len(updates) == 0 {
			sleep(ctx, 200*time.Millisecond)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// shortHash keeps the bot token out of the webhook path.
func shortHash(s string) string {
	return util.ShortHash([]byte(s))
}

func init() { rootCmd.AddCommand(newBotCmd()) }
