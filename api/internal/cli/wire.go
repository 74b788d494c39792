package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"photo-critic/api/internal/config"
	"photo-critic/api/internal/critique"
	"photo-critic/api/internal/critique/gemini"
	"photo-critic/api/internal/critique/gpt"
	"photo-critic/api/internal/critique/prompt"
	"photo-critic/api/internal/imaging"
	"photo-critic/api/internal/store"
)

const settingsTTL = 90 * 24 * time.Hour

// buildEngines registers only engines that have an API key.
func buildEngines(c *config.Config, log *zap.Logger) *critique.Engines {
	engines := &critique.Engines{Default: c.LLM.DefaultEngine}
	if strings.TrimSpace(c.OpenAI.APIKey) != "" {
		e := gpt.New(c.OpenAI.APIKey, c.OpenAI.Model).
			WithBaseURL(c.OpenAI.BaseURL).
			WithLogger(log)
		e.MaxRetries = c.OpenAI.MaxRetries
		engines.OpenAI = e
	}
	if strings.TrimSpace(c.Gemini.APIKey) != "" {
		engines.Gemini = gemini.New(c.Gemini.APIKey, c.Gemini.Model).WithLogger(log)
	}
	// default to whatever has a key
	if _, err := engines.GetEngine(""); err != nil {
		if names := engines.Names(); len(names) > 0 {
			log.Warn("default engine not configured, falling back",
				zap.String("default", c.LLM.DefaultEngine), zap.String("using", names[0]))
			engines.Default = names[0]
		}
	}
	return engines
}

func buildCritic(c *config.Config, log *zap.Logger) (*critique.Critic, error) {
	engines := buildEngines(c, log)
	if len(engines.Names()) == 0 {
		return nil, fmt.Errorf("no engine configured: set OPENAI_API_KEY or GEMINI_API_KEY")
	}
	prompts, err := prompt.New(c.Prompt.Dir, c.Scale())
	if err != nil {
		return nil, err
	}
	log.Info("critic ready",
		zap.Strings("engines", engines.Names()),
		zap.String("default", c.LLM.DefaultEngine),
		zap.String("coordinate_scale", string(c.Scale())))
	return critique.New(engines, prompts, critique.Options{
		MaxTokens:   c.Critique.MaxTokens,
		Temperature: c.Critique.Temperature,
	}, log), nil
}

func imageOptions(c *config.Config) imaging.Options {
	return imaging.Options{MaxSide: c.Image.MaxSide, MaxPixels: c.Image.MaxPixels}
}

// openHistory returns a disabled repo when no DSN is configured.
func openHistory(ctx context.Context, c *config.Config, log *zap.Logger) (*store.CritiqueRepo, func(), error) {
	dsn := store.ResolveDSN(c.Database.URL)
	if dsn == "" {
		log.Info("history disabled: no database configured")
		return nil, func() {}, nil
	}
	db, err := store.Open(ctx, dsn)
	if err != nil {
		return nil, nil, err
	}
	repo := store.NewCritiqueRepo(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	log.Info("db connected", zap.String("dsn", store.SafeDSNSummary(dsn)))
	return repo, func() { _ = db.Close() }, nil
}

// openSettings uses Redis when redis.addr is set, memory otherwise.
func openSettings(ctx context.Context, c *config.Config, log *zap.Logger) (store.SettingsStore, func(), error) {
	def := store.ChatSettings{ViewerLevel: prompt.DefaultLevel}
	if strings.TrimSpace(c.Redis.Addr) == "" {
		log.Info("chat settings kept in memory")
		return store.NewMemorySettings(def), func() {}, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     c.Redis.Addr,
		Password: c.Redis.Password,
		DB:       c.Redis.DB,
	})
	rs := store.NewRedisSettings(client, def, settingsTTL)
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rs.Ping(pctx); err != nil {
		_ = rs.Close()
		return nil, nil, fmt.Errorf("redis ping: %w", err)
	}
	log.Info("chat settings in redis", zap.String("addr", c.Redis.Addr))
	return rs, func() { _ = rs.Close() }, nil
}
