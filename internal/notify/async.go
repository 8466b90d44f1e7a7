package notify

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/Freeeeeet/appointment_scheduler/internal/model"
	"go.uber.org/zap"
)

type job struct {
	ctx         context.Context
	event       model.NotificationEvent
	appointment *model.Appointment
}

// Async доставляет события в фоне через ограниченную очередь.
// Notify никогда не блокируется: при заполненной очереди событие отбрасывается.
type Async struct {
	next     Dispatcher
	queue    chan job
	logger   *zap.Logger
	stopChan chan struct{}
	done     chan struct{}
	once     sync.Once
	started  atomic.Bool
}

// NewAsync создаёт обёртку с очередью заданного размера
func NewAsync(next Dispatcher, size int, logger *zap.Logger) *Async {
	if size <= 0 {
		size = 1
	}
	return &Async{
		next:     next,
		queue:    make(chan job, size),
		logger:   logger,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start запускает обработчик очереди
func (a *Async) Start(ctx context.Context) {
	if !a.started.CompareAndSwap(false, true) {
		return
	}
	a.logger.Info("Starting notification worker", zap.Int("queue_size", cap(a.queue)))
	go a.run(ctx)
}

// Stop останавливает обработчик, оставшиеся в очереди события доставляются
func (a *Async) Stop() {
	a.once.Do(func() {
		a.logger.Info("Stopping notification worker")
		close(a.stopChan)
	})
	if a.started.Load() {
		<-a.done
	}
}

func (a *Async) Notify(ctx context.Context, event model.NotificationEvent, appointment *model.Appointment) error {
	select {
	case a.queue <- job{ctx: ctx, event: event, appointment: appointment}:
	default:
		a.logger.Warn("Notification queue is full, dropping event",
			zap.String("event", string(event)),
			zap.Int64("appointment_id", appointment.ID))
	}
	return nil
}

func (a *Async) run(ctx context.Context) {
	defer close(a.done)

	for {
		select {
		case j := <-a.queue:
			a.deliver(j)
		case <-a.stopChan:
			a.drain()
			a.logger.Info("Notification worker stopped")
			return
		case <-ctx.Done():
			a.logger.Info("Notification worker cancelled")
			return
		}
	}
}

func (a *Async) drain() {
	for {
		select {
		case j := <-a.queue:
			a.deliver(j)
		default:
			return
		}
	}
}

func (a *Async) deliver(j job) {
	if err := a.next.Notify(j.ctx, j.event, j.appointment); err != nil {
		a.logger.Warn("Failed to deliver notification",
			zap.String("event", string(j.event)),
			zap.Int64("appointment_id", j.appointment.ID),
			zap.Error(err))
	}
}
