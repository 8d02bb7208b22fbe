package bot

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const webApp = "https://shop.example.com/app"

func TestBuildReply(t *testing.T) {
	cases := []struct {
		name    string
		text    string
		want    string
		withURL bool
	}{
		{"start", "/start", startText, true},
		{"start with payload", "/start ref42", startText, true},
		{"start addressed to bot", "/START@shop_bot", startText, true},
		{"help", "/help", helpText, false},
		{"unknown command", "/orders", hintText, false},
		{"plain text", "hello", hintText, false},
		{"empty", "   ", hintText, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := BuildReply(tc.text, webApp)
			assert.Equal(t, tc.want, r.Text)
			if tc.withURL {
				assert.Equal(t, webApp, r.WebAppURL)
			} else {
				assert.Empty(t, r.WebAppURL)
			}
		})
	}
}

func TestSendParams(t *testing.T) {
	p := sendParams(7, BuildReply("/start", webApp))
	assert.Equal(t, int64(7), p.ChatID)

	kb, ok := p.ReplyMarkup.(*models.InlineKeyboardMarkup)
	require.True(t, ok)
	require.Len(t, kb.InlineKeyboard, 1)
	require.Len(t, kb.InlineKeyboard[0], 1)
	btn := kb.InlineKeyboard[0][0]
	assert.Equal(t, openShopButton, btn.Text)
	require.NotNil(t, btn.WebApp)
	assert.Equal(t, webApp, btn.WebApp.URL)

	assert.Nil(t, sendParams(7, BuildReply("/help", webApp)).ReplyMarkup)
}

func TestNewLauncher_EmptyToken(t *testing.T) {
	_, err := NewLauncher("", webApp, nil)
	assert.Error(t, err)
}

// Bot API の代わり。sendMessage のフォームを記録する。
type fakeTelegram struct {
	mu   sync.Mutex
	sent []map[string]string
}

func (f *fakeTelegram) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if strings.HasSuffix(r.URL.Path, "/sendMessage") {
		_ = r.ParseMultipartForm(1 << 20)
		f.mu.Lock()
		f.sent = append(f.sent, map[string]string{
			"chat_id":      r.FormValue("chat_id"),
			"text":         r.FormValue("text"),
			"reply_markup": r.FormValue("reply_markup"),
		})
		f.mu.Unlock()
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":42,"type":"private"}}}`))
}

func TestLauncher_HandleStart(t *testing.T) {
	api := &fakeTelegram{}
	srv := httptest.NewServer(api)
	defer srv.Close()

	l, err := NewLauncher("123456:test-token", webApp, nil,
		tgbot.WithServerURL(srv.URL),
		tgbot.WithSkipGetMe(),
	)
	require.NoError(t, err)

	l.handle(context.Background(), l.b, &models.Update{
		Message: &models.Message{Text: "/start", Chat: models.Chat{ID: 42}},
	})
	// メッセージ以外は無視
	l.handle(context.Background(), l.b, &models.Update{})

	api.mu.Lock()
	defer api.mu.Unlock()
	require.Len(t, api.sent, 1)
	assert.Equal(t, "42", api.sent[0]["chat_id"])
	assert.Equal(t, startText, api.sent[0]["text"])
	assert.Contains(t, api.sent[0]["reply_markup"], webApp)
}
