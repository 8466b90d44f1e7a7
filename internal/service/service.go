package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Freeeeeet/appointment_scheduler/internal/apperr"
	"github.com/Freeeeeet/appointment_scheduler/internal/model"
	"github.com/Freeeeeet/appointment_scheduler/internal/repository"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// AccessPolicyGate внешняя политика доступа
type AccessPolicyGate interface {
	CanManageInstitutionAppointments(ctx context.Context, actor model.Actor, institutionID int64) (bool, error)
	CanAccessAppointment(ctx context.Context, actor model.Actor, appointment *model.Appointment) (bool, error)
	AccessibleInstitutionIDs(ctx context.Context, actor model.Actor) ([]int64, error)
}

// NotificationDispatcher рассылка уведомлений; ошибки доставки не влияют на операции
type NotificationDispatcher interface {
	Notify(ctx context.Context, event model.NotificationEvent, appointment *model.Appointment) error
}

// Options общие настройки сервисов
type Options struct {
	Now      func() time.Time
	Location *time.Location // часовой пояс, в котором заданы времена слотов
}

func (o Options) withDefaults() Options {
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Location == nil {
		o.Location = time.UTC
	}
	return o
}

// Services все сервисы планировщика
type Services struct {
	Templates    *SlotTemplateService
	Availability *AvailabilityService
	Appointments *AppointmentService
}

// New собирает сервисы поверх репозиториев
func New(repo *repository.Repository, gate AccessPolicyGate, notifier NotificationDispatcher, opts Options, logger *zap.Logger) *Services {
	opts = opts.withDefaults()
	g := &guard{gate: gate, logger: logger}
	return &Services{
		Templates:    NewSlotTemplateService(repo, g, opts, logger),
		Availability: NewAvailabilityService(repo, g, opts, logger),
		Appointments: NewAppointmentService(repo, g, notifier, opts, logger),
	}
}

// guard проверяет доступ через политику; любая ошибка политики означает отказ
type guard struct {
	gate   AccessPolicyGate
	logger *zap.Logger
}

func (g *guard) requireManage(ctx context.Context, actor model.Actor, institutionID int64, action string) error {
	ok, err := g.gate.CanManageInstitutionAppointments(ctx, actor, institutionID)
	if err != nil {
		g.logger.Warn("Access policy failed, denying",
			zap.Int64("actor_id", actor.ID),
			zap.Int64("institution_id", institutionID),
			zap.Error(err))
		return apperr.Wrap(apperr.ErrUnauthorized, err, "not allowed to %s", action)
	}
	if !ok {
		return apperr.Unauthorized(action)
	}
	return nil
}

// canView может ли аккаунт видеть данные учреждения
func (g *guard) canView(ctx context.Context, actor model.Actor, institutionID int64) (bool, error) {
	ok, err := g.gate.CanManageInstitutionAppointments(ctx, actor, institutionID)
	if err != nil || ok {
		return ok, err
	}

	ids, err := g.gate.AccessibleInstitutionIDs(ctx, actor)
	if err != nil {
		return false, err
	}
	for _, id := range ids {
		if id == institutionID {
			return true, nil
		}
	}
	return false, nil
}

func (g *guard) requireView(ctx context.Context, actor model.Actor, institutionID int64, action string) error {
	ok, err := g.canView(ctx, actor, institutionID)
	if err != nil {
		g.logger.Warn("Access policy failed, denying",
			zap.Int64("actor_id", actor.ID),
			zap.Int64("institution_id", institutionID),
			zap.Error(err))
		return apperr.Wrap(apperr.ErrUnauthorized, err, "not allowed to %s", action)
	}
	if !ok {
		return apperr.Unauthorized(action)
	}
	return nil
}

func (g *guard) requireAppointment(ctx context.Context, actor model.Actor, a *model.Appointment, action string) error {
	ok, err := g.gate.CanAccessAppointment(ctx, actor, a)
	if err != nil {
		g.logger.Warn("Access policy failed, denying",
			zap.Int64("actor_id", actor.ID),
			zap.Int64("appointment_id", a.ID),
			zap.Error(err))
		return apperr.Wrap(apperr.ErrUnauthorized, err, "not allowed to %s", action)
	}
	if !ok {
		return apperr.Unauthorized(action)
	}
	return nil
}

var validate = validator.New()

// validateInput проверяет теги структуры и возвращает ValidationError
func validateInput(input interface{}) error {
	err := validate.Struct(input)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return apperr.Wrap(apperr.ErrInvalidInput, err, "invalid input")
	}

	parts := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s must satisfy %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("%s must satisfy %s", fe.Field(), fe.Tag()))
		}
	}

	return apperr.Wrap(apperr.ErrInvalidInput, err, "invalid input: %s", strings.Join(parts, "; "))
}
