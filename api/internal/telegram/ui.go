package telegram

import (
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"photo-critic/api/internal/critique/prompt"
	"photo-critic/api/internal/critique/types"
	"photo-critic/api/internal/store"
)

// maxMessage stays under Telegram's 4096 limit.
const maxMessage = 4000

const (
	cbDetailedOn   = "detailed_on"
	cbDetailedOff  = "detailed_off"
	cbEngineGPT    = "engine_gpt"
	cbEngineGemini = "engine_gemini"
)

func detailedKeyboard() tgbotapi.InlineKeyboardMarkup {
	on := tgbotapi.NewInlineKeyboardButtonData("Включить", cbDetailedOn)
	off := tgbotapi.NewInlineKeyboardButtonData("Выключить", cbDetailedOff)
	return tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(on, off))
}

func engineKeyboard() tgbotapi.InlineKeyboardMarkup {
	gpt := tgbotapi.NewInlineKeyboardButtonData("GPT", cbEngineGPT)
	gem := tgbotapi.NewInlineKeyboardButtonData("Gemini", cbEngineGemini)
	return tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(gpt, gem))
}

func FormatSettings(s store.ChatSettings) string {
	level := s.ViewerLevel
	if level == "" {
		level = prompt.DefaultLevel
	}
	detailed := "выкл"
	if s.Detailed {
		detailed = "вкл"
	}
	engine := s.Engine
	if engine == "" {
		engine = "по умолчанию"
	}
	return fmt.Sprintf("Уровень: %s\nРазметка зон: %s\nДвижок: %s", level, detailed, engine)
}

// FormatResult renders a critique as plain text: the prose, then numbered zones in percent.
func FormatResult(res types.Result) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(res.FullText))
	if res.Score != nil && !strings.Contains(res.FullText, "/10") {
		fmt.Fprintf(&b, "\n\nОценка: %s/10", strconv.FormatFloat(*res.Score, 'f', -1, 64))
	}
	if len(res.Regions) > 0 {
		b.WriteString("\n\n📍 Зоны на снимке:")
		for i, reg := range res.Regions {
			fmt.Fprintf(&b, "\n%d. x=%s, y=%s, w=%s, h=%s — %s",
				i+1, pct(reg.X), pct(reg.Y), pct(reg.Width), pct(reg.Height), reg.Comment)
		}
	}
	return b.String()
}

func pct(v float64) string {
	return strconv.FormatFloat(v*100, 'f', 0, 64) + "%"
}
