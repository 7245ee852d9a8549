package notify

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram posts new bookings to a staff chat.
type Telegram struct {
	bot    sender
	chatID int64
}

func NewTelegram(token string, chatID int64) (*Telegram, error) {
	if chatID == 0 {
		return nil, fmt.Errorf("telegram chat id is required")
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &Telegram{bot: bot, chatID: chatID}, nil
}

func (t *Telegram) Notify(ctx context.Context, n Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(t.chatID, telegramText(n))
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("send telegram notification: %w", err)
	}
	return nil
}

func telegramText(n Notification) string {
	var b strings.Builder
	fmt.Fprintf(&b, "New meeting booked\n\n%s %s", n.Date, n.Time)
	if !n.StartsAt.IsZero() {
		fmt.Fprintf(&b, " (%s)", n.StartsAt.Format("Mon Jan 2, 3:04 PM MST"))
	}
	b.WriteString("\n")
	line := func(label, v string) {
		if v != "" {
			fmt.Fprintf(&b, "%s: %s\n", label, v)
		}
	}
	line("Name", n.Name)
	line("Company", n.Company)
	line("Email", n.Email)
	line("Phone", n.Phone)
	line("Notes", n.Notes)
	line("Reservation", n.ReservationID)
	return b.String()
}
