package telegram

import (
	"context"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"photo-critic/api/internal/critique/types"
	"photo-critic/api/internal/imaging"
	"photo-critic/api/internal/store"
	"photo-critic/api/internal/util"
)

// Bot is the part of *tgbotapi.BotAPI the router uses.
type Bot interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
}

type Critic interface {
	Critique(ctx context.Context, req types.Request) (types.Result, error)
}

type Router struct {
	Bot      Bot
	Critic   Critic
	Settings store.SettingsStore
	History  *store.CritiqueRepo // optional
	Image    imaging.Options
	Timeout  time.Duration
	Log      *zap.Logger

	// Fetch downloads a Telegram file URL; nil means plain HTTP GET.
	Fetch func(ctx context.Context, url string) ([]byte, error)
}

const helpText = `Пришлите фото — я разберу его как фотокритик: композиция, свет и цвет, история, техника, оценка и совет.

Команды:
/level <уровень> — ваш уровень (новичок, любитель, профи…)
/detailed on|off — разметка проблемных зон на снимке
/engine gpt|gemini — модель для анализа
/settings — текущие настройки`

func (r *Router) log() *zap.Logger {
	if r.Log == nil {
		return zap.NewNop()
	}
	return r.Log
}

func (r *Router) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	if upd.CallbackQuery != nil {
		r.handleCallback(ctx, *upd.CallbackQuery)
		return
	}
	if upd.Message == nil || upd.Message.Chat == nil {
		return
	}
	msg := upd.Message
	cid := msg.Chat.ID

	if msg.IsCommand() {
		clearMode(cid)
		r.HandleCommand(ctx, msg)
		return
	}

	if len(msg.Photo) > 0 {
		ph := msg.Photo[len(msg.Photo)-1]
		r.acceptPhoto(ctx, cid, ph.FileID)
		return
	}
	if msg.Document != nil && util.IsImageMIME(msg.Document.MimeType) {
		r.acceptPhoto(ctx, cid, msg.Document.FileID)
		return
	}

	if getMode(cid) == modeAwaitLevel && strings.TrimSpace(msg.Text) != "" {
		clearMode(cid)
		r.setLevel(ctx, cid, msg.Text)
		return
	}
	if msg.Text != "" {
		r.send(cid, "Пришлите фотографию для разбора. /help — список команд.")
	}
}

func (r *Router) HandleCommand(ctx context.Context, msg *tgbotapi.Message) {
	cid := msg.Chat.ID
	args := strings.TrimSpace(msg.CommandArguments())

	switch msg.Command() {
	case "start", "help":
		r.send(cid, helpText)
	case "level":
		if args == "" {
			setMode(cid, modeAwaitLevel)
			r.send(cid, "Напишите ваш уровень: например, новичок, любитель или профи.")
			return
		}
		r.setLevel(ctx, cid, args)
	case "detailed":
		switch strings.ToLower(args) {
		case "":
			r.sendWithKeyboard(cid, "Разметка зон на снимке:", detailedKeyboard())
		case "on", "вкл", "да", "1", "true":
			r.setDetailed(ctx, cid, true)
		case "off", "выкл", "нет", "0", "false":
			r.setDetailed(ctx, cid, false)
		default:
			r.send(cid, "Использование: /detailed on|off")
		}
	case "engine":
		if args == "" {
			r.sendWithKeyboard(cid, "Выберите модель:", engineKeyboard())
			return
		}
		r.setEngine(ctx, cid, args)
	case "settings":
		s, err := r.Settings.Get(ctx, cid)
		if err != nil {
			r.SendError(cid, err)
			return
		}
		r.send(cid, FormatSettings(s))
	default:
		r.send(cid, "Неизвестная команда. /help — список команд.")
	}
}

func (r *Router) handleCallback(ctx context.Context, cb tgbotapi.CallbackQuery) {
	_, _ = r.Bot.Request(tgbotapi.NewCallback(cb.ID, "")) // ack
	if cb.Message == nil || cb.Message.Chat == nil {
		return
	}
	cid := cb.Message.Chat.ID

	switch cb.Data {
	case cbDetailedOn:
		r.setDetailed(ctx, cid, true)
	case cbDetailedOff:
		r.setDetailed(ctx, cid, false)
	case cbEngineGPT:
		r.setEngine(ctx, cid, "gpt")
	case cbEngineGemini:
		r.setEngine(ctx, cid, "gemini")
	default:
		return
	}
	// убрать клавиатуру
	edit := tgbotapi.NewEditMessageReplyMarkup(cid, cb.Message.MessageID, tgbotapi.InlineKeyboardMarkup{
		InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{},
	})
	_, _ = r.Bot.Send(edit)
}

func (r *Router) update(ctx context.Context, chatID int64, fn func(*store.ChatSettings)) (store.ChatSettings, error) {
	s, err := r.Settings.Get(ctx, chatID)
	if err != nil {
		return s, err
	}
	fn(&s)
	return s, r.Settings.Set(ctx, chatID, s)
}

func (r *Router) setLevel(ctx context.Context, chatID int64, level string) {
	level = strings.TrimSpace(level)
	if len([]rune(level)) > 64 {
		level = string([]rune(level)[:64])
	}
	if _, err := r.update(ctx, chatID, func(s *store.ChatSettings) { s.ViewerLevel = level }); err != nil {
		r.SendError(chatID, err)
		return
	}
	r.send(chatID, "✅ Уровень: "+level)
}

func (r *Router) setDetailed(ctx context.Context, chatID int64, on bool) {
	if _, err := r.update(ctx, chatID, func(s *store.ChatSettings) { s.Detailed = on }); err != nil {
		r.SendError(chatID, err)
		return
	}
	if on {
		r.send(chatID, "✅ Разметка зон включена.")
	} else {
		r.send(chatID, "✅ Разметка зон выключена.")
	}
}

func (r *Router) setEngine(ctx context.Context, chatID int64, name string) {
	name = strings.ToLower(strings.TrimSpace(name))
	switch name {
	case "gpt", "openai":
		name = "gpt"
	case "gemini":
	default:
		r.send(chatID, "Неизвестный движок. Доступны: gpt | gemini")
		return
	}
	if _, err := r.update(ctx, chatID, func(s *store.ChatSettings) { s.Engine = name }); err != nil {
		r.SendError(chatID, err)
		return
	}
	r.send(chatID, "✅ Движок: "+name)
}

func (r *Router) send(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := r.Bot.Send(msg); err != nil {
		r.log().Warn("telegram send failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

func (r *Router) sendWithKeyboard(chatID int64, text string, kb tgbotapi.InlineKeyboardMarkup) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = kb
	_, _ = r.Bot.Send(msg)
}

func (r *Router) SendError(chatID int64, err error) {
	r.log().Error("telegram handler error", zap.Int64("chat_id", chatID), zap.Error(err))
	r.send(chatID, fmt.Sprintf("Ошибка: %v", err))
}
