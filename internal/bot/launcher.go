// Package bot は Telegram 上の入口。/start で WebApp を開くボタンを返すだけで、
// カートや注文には触れない。
package bot

import (
	"context"
	"errors"
	"strings"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"go.uber.org/zap"
)

const (
	startText = "Welcome to the shop! Tap the button below to browse products, fill your cart and check out."
	helpText  = "Commands:\n/start - open the shop\n/help - show this message"
	hintText  = "Send /start to open the shop."

	openShopButton = "Open shop"
)

// Reply は1メッセージ分の返信。WebAppURL があればボタンを付ける。
type Reply struct {
	Text      string
	WebAppURL string
}

// BuildReply は受け取ったテキストに対する返信を決める。
func BuildReply(text, webAppURL string) Reply {
	switch command(text) {
	case "/start":
		return Reply{Text: startText, WebAppURL: webAppURL}
	case "/help":
		return Reply{Text: helpText}
	default:
		return Reply{Text: hintText}
	}
}

// "/start@shop_bot payload" → "/start"
func command(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return ""
	}
	cmd, _, _ := strings.Cut(fields[0], "@")
	return strings.ToLower(cmd)
}

func sendParams(chatID int64, r Reply) *tgbot.SendMessageParams {
	p := &tgbot.SendMessageParams{
		ChatID: chatID,
		Text:   r.Text,
	}
	if r.WebAppURL != "" {
		p.ReplyMarkup = &models.InlineKeyboardMarkup{
			InlineKeyboard: [][]models.InlineKeyboardButton{
				{{Text: openShopButton, WebApp: &models.WebAppInfo{URL: r.WebAppURL}}},
			},
		}
	}
	return p
}

type Launcher struct {
	b         *tgbot.Bot
	webAppURL string
	logger    *zap.Logger
}

// DI（opts はテストで送信先を差し替えるため）
func NewLauncher(token, webAppURL string, logger *zap.Logger, opts ...tgbot.Option) (*Launcher, error) {
	if token == "" {
		return nil, errors.New("bot token is empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	l := &Launcher{webAppURL: webAppURL, logger: logger}
	opts = append([]tgbot.Option{tgbot.WithDefaultHandler(l.handle)}, opts...)

	b, err := tgbot.New(token, opts...)
	if err != nil {
		return nil, err
	}
	l.b = b
	return l, nil
}

// Run は ctx が終わるまで long polling する。
func (l *Launcher) Run(ctx context.Context) {
	l.logger.Info("bot polling started")
	l.b.Start(ctx)
	l.logger.Info("bot stopped")
}

func (l *Launcher) handle(ctx context.Context, b *tgbot.Bot, update *models.Update) {
	if update == nil || update.Message == nil {
		return
	}
	msg := update.Message

	reply := BuildReply(msg.Text, l.webAppURL)
	if _, err := b.SendMessage(ctx, sendParams(msg.Chat.ID, reply)); err != nil {
		l.logger.Warn("send message failed", zap.Int64("chat_id", msg.Chat.ID), zap.Error(err))
		return
	}
	l.logger.Debug("replied", zap.Int64("chat_id", msg.Chat.ID), zap.String("command", command(msg.Text)))
}
