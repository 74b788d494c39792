package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ChatSettings are the per-chat critique preferences of the Telegram bot.
type ChatSettings struct {
	ViewerLevel string `json:"viewer_level"`
	Detailed    bool   `json:"detailed"`
	Engine      string `json:"engine"`
}

type SettingsStore interface {
	Get(ctx context.Context, chatID int64) (ChatSettings, error)
	Set(ctx context.Context, chatID int64, s ChatSettings) error
}

// MemorySettings keeps settings in process memory.
type MemorySettings struct {
	def ChatSettings
	m   sync.Map // chatID -> ChatSettings
}

func NewMemorySettings(def ChatSettings) *MemorySettings {
	return &MemorySettings{def: def}
}

func (s *MemorySettings) Get(_ context.Context, chatID int64) (ChatSettings, error) {
	if v, ok := s.m.Load(chatID); ok {
		return v.(ChatSettings), nil
	}
	return s.def, nil
}

func (s *MemorySettings) Set(_ context.Context, chatID int64, cs ChatSettings) error {
	s.m.Store(chatID, cs)
	return nil
}

// RedisSettings keeps settings in Redis so several bot replicas share them.
type RedisSettings struct {
	client *redis.Client
	def    ChatSettings
	ttl    time.Duration
}

func NewRedisSettings(client *redis.Client, def ChatSettings, ttl time.Duration) *RedisSettings {
	return &RedisSettings{client: client, def: def, ttl: ttl}
}

func settingsKey(chatID int64) string {
	return "critic:chat:" + strconv.FormatInt(chatID, 10)
}

func (s *RedisSettings) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisSettings) Get(ctx context.Context, chatID int64) (ChatSettings, error) {
	data, err := s.client.Get(ctx, settingsKey(chatID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return s.def, nil
		}
		return s.def, err
	}
	cs := s.def
	if err := json.Unmarshal(data, &cs); err != nil {
		return s.def, err
	}
	return cs, nil
}

func (s *RedisSettings) Set(ctx context.Context, chatID int64, cs ChatSettings) error {
	data, err := json.Marshal(cs)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, settingsKey(chatID), data, s.ttl).Err()
}

func (s *RedisSettings) Close() error {
	return s.client.Close()
}
