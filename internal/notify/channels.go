package notify

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/MikeMC777/ordenes-pagos/internal/events"
)

// Telegram posts to the operations chat.
type Telegram struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

// NewTelegram authenticates the bot token against the Bot API.
func NewTelegram(token string, chatID int64) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return &Telegram{bot: bot, chatID: chatID}, nil
}

func (*Telegram) Name() string { return "telegram" }

func (t *Telegram) Send(_ context.Context, m Message) error {
	msg := tgbotapi.NewMessage(t.chatID, m.HTML)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	_, err := t.bot.Send(msg)
	return err
}

// Email mails the buyer through SendGrid.
type Email struct {
	client *sendgrid.Client
	from   *mail.Email
}

func NewEmail(apiKey, from string) *Email {
	return &Email{
		client: sendgrid.NewSendClient(apiKey),
		from:   mail.NewEmail("Ordenes", from),
	}
}

func (*Email) Name() string { return "email" }

func (e *Email) Send(ctx context.Context, m Message) error {
	if m.Order == nil || m.Order.CustomerEmail == "" {
		return nil
	}
	to := mail.NewEmail("", m.Order.CustomerEmail)
	msg := mail.NewSingleEmail(e.from, m.Title, to, m.Text, fmt.Sprintf("<pre>%s</pre>", m.Text))
	resp, err := e.client.SendWithContext(ctx, msg)
	if err != nil {
		return fmt.Errorf("sendgrid send: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("sendgrid send failed: status=%d body=%s", resp.StatusCode, resp.Body)
	}
	return nil
}

// InApp publishes a notification event the storefront relays to the
// buyer's open sessions.
type InApp struct {
	sink events.Sink
}

func NewInApp(sink events.Sink) *InApp { return &InApp{sink: sink} }

func (*InApp) Name() string { return "in-app" }

func (a *InApp) Send(ctx context.Context, m Message) error {
	e := events.New(events.NotificationInApp)
	e.OrderID = m.Order.ID
	e.UserID = m.Order.UserID
	e.Payload = map[string]string{
		"title":   m.Title,
		"message": fmt.Sprintf("Order %s is %s", m.Order.ID, m.Order.Status),
		"status":  string(m.Order.Status),
	}
	return a.sink.Publish(ctx, e)
}
