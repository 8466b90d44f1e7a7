// Package notify доставляет события о записях: в лог, в Telegram
// и асинхронно через ограниченную очередь.
package notify

import (
	"context"

	"github.com/Freeeeeet/appointment_scheduler/internal/model"
	"go.uber.org/zap"
)

// Dispatcher получатель событий о записях
type Dispatcher interface {
	Notify(ctx context.Context, event model.NotificationEvent, appointment *model.Appointment) error
}

// LogDispatcher пишет события в лог
type LogDispatcher struct {
	logger *zap.Logger
}

func NewLogDispatcher(logger *zap.Logger) *LogDispatcher {
	return &LogDispatcher{logger: logger}
}

func (d *LogDispatcher) Notify(ctx context.Context, event model.NotificationEvent, a *model.Appointment) error {
	d.logger.Info("Appointment event",
		zap.String("event", string(event)),
		zap.Int64("appointment_id", a.ID),
		zap.String("reference", a.ReferenceNumber),
		zap.Int64("institution_id", a.InstitutionID),
		zap.String("date", model.DateKey(a.AppointmentDate)),
		zap.String("start_time", a.StartTime.String()),
		zap.String("status", string(a.Status)))
	return nil
}

// Multi рассылает событие всем получателям, возвращает первую ошибку
type Multi []Dispatcher

func (m Multi) Notify(ctx context.Context, event model.NotificationEvent, a *model.Appointment) error {
	var first error
	for _, d := range m {
		if err := d.Notify(ctx, event, a); err != nil && first == nil {
			first = err
		}
	}
	return first
}
