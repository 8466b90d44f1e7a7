package notify

import (
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/Freeeeeet/appointment_scheduler/internal/model"
	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// MessageSender часть API бота, нужная для отправки сообщений
type MessageSender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
}

// TelegramDispatcher отправляет события в чат Telegram
type TelegramDispatcher struct {
	sender MessageSender
	chatID int64
}

func NewTelegramDispatcher(sender MessageSender, chatID int64) *TelegramDispatcher {
	return &TelegramDispatcher{sender: sender, chatID: chatID}
}

func (d *TelegramDispatcher) Notify(ctx context.Context, event model.NotificationEvent, a *model.Appointment) error {
	_, err := d.sender.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    d.chatID,
		Text:      FormatEvent(event, a),
		ParseMode: models.ParseModeHTML,
	})
	if err != nil {
		return fmt.Errorf("send telegram notification: %w", err)
	}
	return nil
}

var eventTitles = map[model.NotificationEvent]string{
	model.EventAppointmentCreated:       "🆕 Новая запись",
	model.EventAppointmentConfirmed:     "✅ Запись подтверждена",
	model.EventAppointmentCancelled:     "❌ Запись отменена",
	model.EventAppointmentRescheduled:   "🔄 Запись перенесена",
	model.EventAppointmentStatusChanged: "ℹ️ Статус записи изменён",
}

// FormatEvent текст уведомления в HTML-разметке Telegram
func FormatEvent(event model.NotificationEvent, a *model.Appointment) string {
	title, ok := eventTitles[event]
	if !ok {
		title = string(event)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "<b>%s</b>\n\n", title)
	fmt.Fprintf(&b, "📋 %s\n", html.EscapeString(a.ReferenceNumber))
	fmt.Fprintf(&b, "📅 %s %s–%s\n", a.AppointmentDate.Format("02.01.2006"), a.StartTime, a.EndTime)
	fmt.Fprintf(&b, "📌 Статус: %s\n", a.Status)
	if a.StudentName != "" {
		fmt.Fprintf(&b, "👤 %s\n", html.EscapeString(a.StudentName))
	}
	if a.Purpose != "" {
		fmt.Fprintf(&b, "💬 %s\n", html.EscapeString(a.Purpose))
	}
	if a.CancellationReason != "" {
		fmt.Fprintf(&b, "Причина: %s\n", html.EscapeString(a.CancellationReason))
	}
	return b.String()
}
