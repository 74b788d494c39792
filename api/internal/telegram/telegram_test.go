package telegram

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"photo-critic/api/internal/critique"
	"photo-critic/api/internal/critique/types"
	"photo-critic/api/internal/store"
)

type fakeBot struct {
	sent     []string
	requests int
}

func (b *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if m, ok := c.(tgbotapi.MessageConfig); ok {
		b.sent = append(b.sent, m.Text)
	}
	return tgbotapi.Message{}, nil
}

func (b *fakeBot) Request(tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	b.requests++
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (b *fakeBot) GetFileDirectURL(fileID string) (string, error) {
	return "https://files.example/" + fileID, nil
}

func (b *fakeBot) last() string {
	if len(b.sent) == 0 {
		return ""
	}
	return b.sent[len(b.sent)-1]
}

type fakeCritic struct {
	res types.Result
	err error
	got types.Request
}

func (f *fakeCritic) Critique(_ context.Context, req types.Request) (types.Result, error) {
	f.got = req
	return f.res, f.err
}

func tinyPNG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, 8, 8))); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func newTestRouter(t *testing.T, c *fakeCritic) (*Router, *fakeBot) {
	t.Helper()
	bot := &fakeBot{}
	img := tinyPNG(t)
	r := &Router{
		Bot:      bot,
		Critic:   c,
		Settings: store.NewMemorySettings(store.ChatSettings{Engine: "gpt"}),
		Fetch: func(context.Context, string) ([]byte, error) {
			return img, nil
		},
	}
	return r, bot
}

func command(chatID int64, text string) tgbotapi.Update {
	name := strings.Fields(text)[0]
	return tgbotapi.Update{Message: &tgbotapi.Message{
		Chat:     &tgbotapi.Chat{ID: chatID},
		Text:     text,
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(name)}},
	}}
}

func photo(chatID int64) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{
		Chat:  &tgbotapi.Chat{ID: chatID},
		Photo: []tgbotapi.PhotoSize{{FileID: "small"}, {FileID: "large"}},
	}}
}

func TestCommandsUpdateSettings(t *testing.T) {
	r, bot := newTestRouter(t, &fakeCritic{})
	ctx := context.Background()

	r.HandleUpdate(ctx, command(1, "/level профи"))
	r.HandleUpdate(ctx, command(1, "/detailed on"))
	r.HandleUpdate(ctx, command(1, "/engine Gemini"))

	s, _ := r.Settings.Get(ctx, 1)
	want := store.ChatSettings{ViewerLevel: "профи", Detailed: true, Engine: "gemini"}
	if s != want {
		t.Errorf("settings = %+v, want %+v", s, want)
	}

	r.HandleUpdate(ctx, command(1, "/settings"))
	if !strings.Contains(bot.last(), "Уровень: профи") || !strings.Contains(bot.last(), "вкл") {
		t.Errorf("settings reply = %q", bot.last())
	}

	r.HandleUpdate(ctx, command(1, "/engine claude"))
	if !strings.Contains(bot.last(), "Неизвестный движок") {
		t.Errorf("reply = %q", bot.last())
	}
}

func TestLevelPrompt(t *testing.T) {
	r, _ := newTestRouter(t, &fakeCritic{})
	ctx := context.Background()

	r.HandleUpdate(ctx, command(5, "/level"))
	r.HandleUpdate(ctx, tgbotapi.Update{Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 5}, Text: "новичок"}})

	if s, _ := r.Settings.Get(ctx, 5); s.ViewerLevel != "новичок" {
		t.Errorf("level = %q", s.ViewerLevel)
	}
	if getMode(5) != "" {
		t.Error("mode not cleared")
	}
}

func TestCallbackTogglesDetailed(t *testing.T) {
	r, bot := newTestRouter(t, &fakeCritic{})
	ctx := context.Background()

	r.HandleUpdate(ctx, tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb1",
		Data:    cbDetailedOn,
		Message: &tgbotapi.Message{MessageID: 10, Chat: &tgbotapi.Chat{ID: 3}},
	}})
	if s, _ := r.Settings.Get(ctx, 3); !s.Detailed {
		t.Error("detailed not enabled by callback")
	}
	if bot.requests == 0 {
		t.Error("callback not acknowledged")
	}
}

func TestPhotoUsesChatSettings(t *testing.T) {
	score := 8.0
	fc := &fakeCritic{res: types.Result{
		FullText: "Хороший кадр.",
		Regions:  []types.Region{{X: 0.1, Y: 0.2, Width: 0.3, Height: 0.15, Comment: "пересвет"}},
		Score:    &score,
	}}
	r, bot := newTestRouter(t, fc)
	ctx := context.Background()
	_ = r.Settings.Set(ctx, 9, store.ChatSettings{ViewerLevel: "любитель", Detailed: true, Engine: "gemini"})

	r.HandleUpdate(ctx, photo(9))

	if fc.got.ViewerLevel != "любитель" || !fc.got.Detailed || fc.got.Engine != "gemini" {
		t.Errorf("request = %+v", fc.got)
	}
	if fc.got.MIME != "image/jpeg" {
		t.Errorf("mime = %q", fc.got.MIME)
	}
	reply := bot.last()
	for _, want := range []string{"Хороший кадр.", "Оценка: 8/10", "1. x=10%, y=20%, w=30%, h=15% — пересвет"} {
		if !strings.Contains(reply, want) {
			t.Errorf("reply %q lacks %q", reply, want)
		}
	}
}

func TestPhotoUpstreamFailure(t *testing.T) {
	fc := &fakeCritic{err: &critique.UpstreamError{Engine: "gpt", Err: errors.New("503")}}
	r, bot := newTestRouter(t, fc)

	r.HandleUpdate(context.Background(), photo(2))

	if !strings.Contains(bot.last(), "недоступен") {
		t.Errorf("reply = %q", bot.last())
	}
}

func TestFormatResultSplitsLongText(t *testing.T) {
	res := types.Result{FullText: strings.Repeat("слово ", 1500), Regions: []types.Region{}}
	r, bot := newTestRouter(t, &fakeCritic{res: res})

	r.HandleUpdate(context.Background(), photo(4))

	// "Фото принято" plus at least two parts
	if len(bot.sent) < 3 {
		t.Fatalf("sent %d messages", len(bot.sent))
	}
	for _, m := range bot.sent {
		if len([]rune(m)) > maxMessage {
			t.Errorf("message of %d runes exceeds limit", len([]rune(m)))
		}
	}
}

func TestFormatResult(t *testing.T) {
	got := FormatResult(types.Result{FullText: " Итог: 7/10 ", Score: ptr(7)})
	if got != "Итог: 7/10" {
		t.Errorf("score duplicated or text not trimmed: %q", got)
	}
}

func ptr(v float64) *float64 { return &v }
