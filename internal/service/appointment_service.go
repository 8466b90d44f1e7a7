package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Freeeeeet/appointment_scheduler/internal/apperr"
	"github.com/Freeeeeet/appointment_scheduler/internal/availability"
	"github.com/Freeeeeet/appointment_scheduler/internal/model"
	"github.com/Freeeeeet/appointment_scheduler/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// referenceAttempts сколько раз генерируется номер записи при коллизии
const referenceAttempts = 3

// AppointmentService создаёт записи и ведёт их по жизненному циклу
type AppointmentService struct {
	repo     *repository.Repository
	guard    *guard
	notifier NotificationDispatcher
	opts     Options
	logger   *zap.Logger
}

// NewAppointmentService создаёт новый сервис записей
func NewAppointmentService(
	repo *repository.Repository,
	g *guard,
	notifier NotificationDispatcher,
	opts Options,
	logger *zap.Logger,
) *AppointmentService {
	return &AppointmentService{
		repo:     repo,
		guard:    g,
		notifier: notifier,
		opts:     opts.withDefaults(),
		logger:   logger,
	}
}

// CreateAppointmentInput параметры новой записи
type CreateAppointmentInput struct {
	InstitutionID   int64            `validate:"required,gt=0"`
	SlotTemplateID  *int64           `validate:"omitempty,gt=0"`
	StaffID         *int64           `validate:"omitempty,gt=0"`
	RequesterID     *int64           `validate:"omitempty,gt=0"`
	AppointmentDate time.Time        `validate:"required"`
	StartTime       *model.TimeOfDay `validate:"omitempty,gte=0,lt=1440"`
	EndTime         *model.TimeOfDay `validate:"omitempty,gte=0,lte=1440"`

	StudentName  string `validate:"max=200"`
	ParentName   string `validate:"max=200"`
	ContactEmail string `validate:"omitempty,email,max=254"`
	ContactPhone string `validate:"omitempty,max=32"`
	Purpose      string `validate:"max=1000"`
	Notes        string `validate:"max=2000"`
}

// RescheduleInput новое время записи; без шаблона используется шаблон исходной записи
type RescheduleInput struct {
	NewDate        time.Time        `validate:"required"`
	SlotTemplateID *int64           `validate:"omitempty,gt=0"`
	StartTime      *model.TimeOfDay `validate:"omitempty,gte=0,lt=1440"`
	EndTime        *model.TimeOfDay `validate:"omitempty,gte=0,lte=1440"`
}

// RescheduleResult исходная запись и созданная вместо неё
type RescheduleResult struct {
	Original    *model.Appointment `json:"original"`
	Rescheduled *model.Appointment `json:"rescheduled"`
}

type slotChoice struct {
	template *model.SlotTemplate
	start    model.TimeOfDay
	end      model.TimeOfDay
}

// Create создаёт запись. Проверка свободного места и вставка выполняются атомарно.
func (s *AppointmentService) Create(ctx context.Context, actor model.Actor, input CreateAppointmentInput) (*model.Appointment, error) {
	if err := validateInput(input); err != nil {
		return nil, err
	}

	manager, err := s.authorizeBooking(ctx, actor, input.InstitutionID)
	if err != nil {
		return nil, err
	}

	institution, err := s.repo.Directory.GetInstitution(ctx, input.InstitutionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get institution: %w", err)
	}
	if institution == nil || !institution.IsActive {
		return nil, apperr.NotFound("institution", input.InstitutionID)
	}

	now := s.opts.Now()
	date := model.Date(input.AppointmentDate)

	slot, err := s.resolveSlot(ctx, input.InstitutionID, input.SlotTemplateID, date, input.StartTime, input.EndTime, now)
	if err != nil {
		return nil, err
	}

	// Сотрудник по умолчанию берётся из шаблона
	staffID := input.StaffID
	if staffID == nil && slot.template != nil {
		staffID = slot.template.StaffID
	}
	if err := s.checkStaff(ctx, input.InstitutionID, staffID); err != nil {
		return nil, err
	}

	// Без прав управления запись создаётся только от своего имени
	requesterID := input.RequesterID
	if !manager {
		id := actor.ID
		requesterID = &id
	}

	a := &model.Appointment{
		InstitutionID:   input.InstitutionID,
		StaffID:         staffID,
		RequesterID:     requesterID,
		AppointmentDate: date,
		StartTime:       slot.start,
		EndTime:         slot.end,
		StudentName:     input.StudentName,
		ParentName:      input.ParentName,
		ContactEmail:    input.ContactEmail,
		ContactPhone:    input.ContactPhone,
		Purpose:         input.Purpose,
		Notes:           input.Notes,
		CreatedBy:       actor.ID,
	}
	if slot.template != nil {
		templateID := slot.template.ID
		a.SlotTemplateID = &templateID
	}
	setInitialStatus(a, slot.template, actor, now)

	err = s.withReference(ctx, func(ctx context.Context, reference string) error {
		if slot.template != nil {
			if err := s.reserve(ctx, slot.template, date); err != nil {
				return err
			}
		}
		a.ReferenceNumber = reference
		return s.repo.Appointments.Create(ctx, a)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Appointment created",
		zap.Int64("appointment_id", a.ID),
		zap.String("reference", a.ReferenceNumber),
		zap.Int64("institution_id", a.InstitutionID),
		zap.String("date", model.DateKey(a.AppointmentDate)),
		zap.String("start_time", a.StartTime.String()),
		zap.String("status", string(a.Status)),
		zap.Int64("actor_id", actor.ID))

	s.notify(ctx, model.EventAppointmentCreated, a)

	return a, nil
}

// Get получает запись по ID
func (s *AppointmentService) Get(ctx context.Context, actor model.Actor, id int64) (*model.Appointment, error) {
	a, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := s.guard.requireAppointment(ctx, actor, a, "view appointment"); err != nil {
		return nil, err
	}

	return a, nil
}

// GetByReference получает запись по номеру
func (s *AppointmentService) GetByReference(ctx context.Context, actor model.Actor, reference string) (*model.Appointment, error) {
	a, err := s.repo.Appointments.GetByReference(ctx, strings.ToUpper(strings.TrimSpace(reference)))
	if err != nil {
		return nil, fmt.Errorf("failed to get appointment: %w", err)
	}
	if a == nil {
		return nil, apperr.New(apperr.ErrNotFound, "appointment %s not found", reference)
	}

	if err := s.guard.requireAppointment(ctx, actor, a, "view appointment"); err != nil {
		return nil, err
	}

	return a, nil
}

// ListByInstitution получает записи учреждения за период
func (s *AppointmentService) ListByInstitution(ctx context.Context, actor model.Actor, institutionID int64, from, to time.Time) ([]*model.Appointment, error) {
	from, to = model.Date(from), model.Date(to)
	if from.After(to) {
		return nil, apperr.New(apperr.ErrInvalidInput,
			"start date %s is after end date %s", model.DateKey(from), model.DateKey(to))
	}
	if span := int(to.Sub(from).Hours()/24) + 1; span > MaxRangeDays {
		return nil, apperr.New(apperr.ErrInvalidInput,
			"date range of %d days exceeds maximum of %d", span, MaxRangeDays)
	}

	if err := s.guard.requireManage(ctx, actor, institutionID, "view appointments"); err != nil {
		return nil, err
	}

	appointments, err := s.repo.Appointments.ListByInstitution(ctx, institutionID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to get appointments: %w", err)
	}

	return appointments, nil
}

// Confirm подтверждает запись, ожидающую одобрения
func (s *AppointmentService) Confirm(ctx context.Context, actor model.Actor, id int64) (*model.Appointment, error) {
	a, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := s.guard.requireManage(ctx, actor, a.InstitutionID, "confirm appointments"); err != nil {
		return nil, err
	}

	now := s.opts.Now()

	var confirmed *model.Appointment
	err = s.repo.Tx.WithinTx(ctx, func(ctx context.Context) error {
		cur, err := s.lock(ctx, id)
		if err != nil {
			return err
		}

		if cur.Status != model.AppointmentStatusPending {
			return apperr.New(apperr.ErrInvalidTransition,
				"appointment %s is %s, only PENDING appointments can be confirmed", cur.ReferenceNumber, cur.Status)
		}

		by := actor.ID
		cur.Status = model.AppointmentStatusConfirmed
		cur.ConfirmedBy = &by
		cur.ConfirmedAt = &now

		if err := s.repo.Appointments.Update(ctx, cur); err != nil {
			return err
		}
		confirmed = cur
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Appointment confirmed",
		zap.Int64("appointment_id", id),
		zap.Int64("actor_id", actor.ID))

	s.notify(ctx, model.EventAppointmentConfirmed, confirmed)

	return confirmed, nil
}

// Cancel отменяет запись и освобождает место в слоте
func (s *AppointmentService) Cancel(ctx context.Context, actor model.Actor, id int64, reason string) (*model.Appointment, error) {
	if err := validate.Var(reason, "max=500"); err != nil {
		return nil, apperr.Wrap(apperr.ErrInvalidInput, err, "cancellation reason is too long")
	}

	a, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := s.guard.requireAppointment(ctx, actor, a, "cancel appointment"); err != nil {
		return nil, err
	}

	now := s.opts.Now()

	var cancelled *model.Appointment
	err = s.repo.Tx.WithinTx(ctx, func(ctx context.Context) error {
		cur, err := s.lock(ctx, id)
		if err != nil {
			return err
		}

		t, err := s.templateOf(ctx, cur)
		if err != nil {
			return err
		}

		if err := s.checkCancellable(cur, t, actor, now, "cancelled"); err != nil {
			return err
		}

		by := actor.ID
		cur.Status = model.AppointmentStatusCancelled
		cur.CancelledBy = &by
		cur.CancelledAt = &now
		cur.CancellationReason = reason

		if err := s.repo.Appointments.Update(ctx, cur); err != nil {
			return err
		}
		if err := s.release(ctx, cur); err != nil {
			return err
		}
		cancelled = cur
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Appointment cancelled",
		zap.Int64("appointment_id", id),
		zap.Int64("actor_id", actor.ID),
		zap.String("reason", reason))

	s.notify(ctx, model.EventAppointmentCancelled, cancelled)

	return cancelled, nil
}

// UpdateStatus переводит запись в новый статус по графу переходов
func (s *AppointmentService) UpdateStatus(ctx context.Context, actor model.Actor, id int64, status model.AppointmentStatus, reason string) (*model.Appointment, error) {
	if !status.Valid() {
		return nil, apperr.New(apperr.ErrInvalidInput, "unknown appointment status %q", status)
	}

	a, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := s.guard.requireManage(ctx, actor, a.InstitutionID, "change appointment status"); err != nil {
		return nil, err
	}

	switch status {
	case model.AppointmentStatusConfirmed:
		return s.Confirm(ctx, actor, id)
	case model.AppointmentStatusCancelled:
		return s.Cancel(ctx, actor, id, reason)
	case model.AppointmentStatusRescheduled:
		return nil, apperr.New(apperr.ErrInvalidTransition,
			"status %s is set only by rescheduling", status)
	}

	var updated *model.Appointment
	var previous model.AppointmentStatus
	err = s.repo.Tx.WithinTx(ctx, func(ctx context.Context) error {
		cur, err := s.lock(ctx, id)
		if err != nil {
			return err
		}

		if !cur.Status.CanTransitionTo(status) {
			return apperr.New(apperr.ErrInvalidTransition,
				"cannot change appointment %s from %s to %s", cur.ReferenceNumber, cur.Status, status)
		}

		previous = cur.Status
		cur.Status = status
		if err := s.repo.Appointments.Update(ctx, cur); err != nil {
			return err
		}
		updated = cur
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Appointment status changed",
		zap.Int64("appointment_id", id),
		zap.String("from", string(previous)),
		zap.String("to", string(status)),
		zap.Int64("actor_id", actor.ID))

	s.notify(ctx, model.EventAppointmentStatusChanged, updated)

	return updated, nil
}

// Reschedule создаёт новую запись на другое время и помечает исходную как перенесённую.
// Обе записи сохраняются в одной транзакции.
func (s *AppointmentService) Reschedule(ctx context.Context, actor model.Actor, id int64, input RescheduleInput) (*RescheduleResult, error) {
	if err := validateInput(input); err != nil {
		return nil, err
	}

	a, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := s.guard.requireAppointment(ctx, actor, a, "reschedule appointment"); err != nil {
		return nil, err
	}

	now := s.opts.Now()
	date := model.Date(input.NewDate)

	var result *RescheduleResult
	err = s.withReference(ctx, func(ctx context.Context, reference string) error {
		old, err := s.lock(ctx, id)
		if err != nil {
			return err
		}

		if old.RescheduleCount >= model.MaxRescheduleCount {
			return apperr.New(apperr.ErrRescheduleLimitExceeded,
				"appointment %s has reached the limit of %d reschedules", old.ReferenceNumber, model.MaxRescheduleCount)
		}

		t, err := s.templateOf(ctx, old)
		if err != nil {
			return err
		}
		if err := s.checkCancellable(old, t, actor, now, "rescheduled"); err != nil {
			return err
		}

		templateID := input.SlotTemplateID
		if templateID == nil {
			templateID = old.SlotTemplateID
		}
		start, end := input.StartTime, input.EndTime
		if templateID == nil && start == nil && end == nil {
			oldStart, oldEnd := old.StartTime, old.EndTime
			start, end = &oldStart, &oldEnd
		}

		slot, err := s.resolveSlot(ctx, old.InstitutionID, templateID, date, start, end, now)
		if err != nil {
			return err
		}

		// Место исходной записи освобождается до резервирования нового
		if err := s.release(ctx, old); err != nil {
			return err
		}
		if slot.template != nil {
			if err := s.reserve(ctx, slot.template, date); err != nil {
				return err
			}
		}

		target := model.RescheduleTarget{
			Date:      date,
			StartTime: slot.start,
			EndTime:   slot.end,
		}
		if slot.template != nil {
			newTemplateID := slot.template.ID
			target.SlotTemplateID = &newTemplateID
			target.StaffID = slot.template.StaffID
		}

		next := old.CopyForReschedule(target)
		next.ReferenceNumber = reference
		next.CreatedBy = actor.ID
		setInitialStatus(next, slot.template, actor, now)

		if err := s.repo.Appointments.Create(ctx, next); err != nil {
			return err
		}

		nextID := next.ID
		old.Status = model.AppointmentStatusRescheduled
		old.RescheduledToID = &nextID
		if err := s.repo.Appointments.Update(ctx, old); err != nil {
			return err
		}

		result = &RescheduleResult{Original: old, Rescheduled: next}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Appointment rescheduled",
		zap.Int64("appointment_id", id),
		zap.Int64("new_appointment_id", result.Rescheduled.ID),
		zap.String("new_reference", result.Rescheduled.ReferenceNumber),
		zap.String("date", model.DateKey(result.Rescheduled.AppointmentDate)),
		zap.Int("reschedule_count", result.Rescheduled.RescheduleCount),
		zap.Int64("actor_id", actor.ID))

	s.notify(ctx, model.EventAppointmentRescheduled, result.Rescheduled)

	return result, nil
}

// RescheduleChain возвращает цепочку переносов от первой записи до последней
func (s *AppointmentService) RescheduleChain(ctx context.Context, actor model.Actor, id int64) ([]*model.Appointment, error) {
	a, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := s.guard.requireAppointment(ctx, actor, a, "view appointment"); err != nil {
		return nil, err
	}

	chain := []*model.Appointment{a}

	// Назад до исходной записи
	cur := a
	for i := 0; i < model.MaxRescheduleCount && cur.RescheduledFromID != nil; i++ {
		prev, err := s.repo.Appointments.GetByID(ctx, *cur.RescheduledFromID)
		if err != nil {
			return nil, fmt.Errorf("failed to get appointment: %w", err)
		}
		if prev == nil {
			break
		}
		chain = append([]*model.Appointment{prev}, chain...)
		cur = prev
	}

	// Вперёд до актуальной записи
	cur = a
	for i := 0; i < model.MaxRescheduleCount && cur.RescheduledToID != nil; i++ {
		next, err := s.repo.Appointments.GetByID(ctx, *cur.RescheduledToID)
		if err != nil {
			return nil, fmt.Errorf("failed to get appointment: %w", err)
		}
		if next == nil {
			break
		}
		chain = append(chain, next)
		cur = next
	}

	return chain, nil
}

// authorizeBooking возвращает true если аккаунт управляет записями учреждения
func (s *AppointmentService) authorizeBooking(ctx context.Context, actor model.Actor, institutionID int64) (bool, error) {
	manager, err := s.guard.gate.CanManageInstitutionAppointments(ctx, actor, institutionID)
	if err != nil {
		s.logger.Warn("Access policy failed, denying",
			zap.Int64("actor_id", actor.ID),
			zap.Int64("institution_id", institutionID),
			zap.Error(err))
		return false, apperr.Wrap(apperr.ErrUnauthorized, err, "not allowed to book appointments")
	}
	if manager {
		return true, nil
	}

	if err := s.guard.requireView(ctx, actor, institutionID, "book appointments"); err != nil {
		return false, err
	}
	return false, nil
}

// resolveSlot проверяет что дата и время соответствуют шаблону и политике бронирования
func (s *AppointmentService) resolveSlot(
	ctx context.Context,
	institutionID int64,
	templateID *int64,
	date time.Time,
	start, end *model.TimeOfDay,
	now time.Time,
) (slotChoice, error) {
	loc := s.opts.Location

	if templateID == nil {
		if start == nil || end == nil {
			return slotChoice{}, apperr.New(apperr.ErrInvalidInput,
				"start and end time are required without a slot template")
		}
		if *start >= *end {
			return slotChoice{}, apperr.New(apperr.ErrInvalidTimeWindow,
				"start time %s must be before end time %s", *start, *end)
		}
		if date.Before(model.Date(now.In(loc))) {
			return slotChoice{}, apperr.New(apperr.ErrOutsideBookingWindow,
				"appointment date %s is in the past", model.DateKey(date))
		}
		return slotChoice{start: *start, end: *end}, nil
	}

	t, err := s.repo.Templates.GetByID(ctx, *templateID)
	if err != nil {
		return slotChoice{}, fmt.Errorf("failed to get slot template: %w", err)
	}
	if t == nil {
		return slotChoice{}, apperr.NotFound("slot template", *templateID)
	}

	if t.InstitutionID != institutionID {
		return slotChoice{}, apperr.New(apperr.ErrSlotMismatch,
			"slot template %d does not belong to institution %d", t.ID, institutionID)
	}
	if !t.IsActive {
		return slotChoice{}, apperr.New(apperr.ErrSlotMismatch, "slot template %d is inactive", t.ID)
	}
	if date.Weekday() != t.DayOfWeek {
		return slotChoice{}, apperr.New(apperr.ErrSlotMismatch,
			"%s is a %s, slot template %d runs on %s", model.DateKey(date), date.Weekday(), t.ID, t.DayOfWeek)
	}
	if (start != nil && *start != t.StartTime) || (end != nil && *end != t.EndTime) {
		return slotChoice{}, apperr.New(apperr.ErrSlotMismatch,
			"requested time does not match slot template %d (%s-%s)", t.ID, t.StartTime, t.EndTime)
	}

	if bookErr := availability.CheckBookable(t, date, now, loc); bookErr != nil {
		return slotChoice{}, bookErr
	}

	exclusions, err := s.repo.Templates.ListExclusions(ctx, []int64{t.ID}, date, date)
	if err != nil {
		return slotChoice{}, fmt.Errorf("failed to get exclusions: %w", err)
	}
	if exclusions.Excluded(t.ID, date) {
		return slotChoice{}, apperr.New(apperr.ErrSlotExcluded,
			"slot template %d is closed on %s", t.ID, model.DateKey(date))
	}

	return slotChoice{template: t, start: t.StartTime, end: t.EndTime}, nil
}

func (s *AppointmentService) checkStaff(ctx context.Context, institutionID int64, staffID *int64) error {
	if staffID == nil {
		return nil
	}

	staff, err := s.repo.Directory.GetStaff(ctx, *staffID)
	if err != nil {
		return fmt.Errorf("failed to get staff member: %w", err)
	}
	if staff == nil || !staff.IsActive {
		return apperr.NotFound("staff member", *staffID)
	}
	if staff.InstitutionID != institutionID {
		return apperr.New(apperr.ErrInvalidInput,
			"staff member %d does not belong to institution %d", staff.ID, institutionID)
	}

	return nil
}

// checkCancellable отменить или перенести можно только PENDING и CONFIRMED записи
// не позже чем за CancellationHours шаблона до начала.
// Запись без шаблона и системный аккаунт окно не проверяют.
func (s *AppointmentService) checkCancellable(a *model.Appointment, t *model.SlotTemplate, actor model.Actor, now time.Time, verb string) error {
	if a.Status != model.AppointmentStatusPending && a.Status != model.AppointmentStatusConfirmed {
		return apperr.New(apperr.ErrInvalidTransition,
			"appointment %s is %s and cannot be %s", a.ReferenceNumber, a.Status, verb)
	}

	if actor.System || t == nil {
		return nil
	}

	hours := t.CancellationHours
	if a.HoursUntil(now, s.opts.Location) < float64(hours) {
		return apperr.New(apperr.ErrCancellationWindowViolated,
			"appointments can be %s no later than %d hours before start", verb, hours)
	}

	return nil
}

func (s *AppointmentService) load(ctx context.Context, id int64) (*model.Appointment, error) {
	a, err := s.repo.Appointments.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get appointment: %w", err)
	}
	if a == nil {
		return nil, apperr.NotFound("appointment", id)
	}
	return a, nil
}

// lock перечитывает запись с блокировкой строки внутри транзакции
func (s *AppointmentService) lock(ctx context.Context, id int64) (*model.Appointment, error) {
	a, err := s.repo.Appointments.GetByIDForUpdate(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to lock appointment: %w", err)
	}
	if a == nil {
		return nil, apperr.NotFound("appointment", id)
	}
	return a, nil
}

func (s *AppointmentService) templateOf(ctx context.Context, a *model.Appointment) (*model.SlotTemplate, error) {
	if a.SlotTemplateID == nil {
		return nil, nil
	}
	t, err := s.repo.Templates.GetByID(ctx, *a.SlotTemplateID)
	if err != nil {
		return nil, fmt.Errorf("failed to get slot template: %w", err)
	}
	return t, nil
}

func (s *AppointmentService) reserve(ctx context.Context, t *model.SlotTemplate, date time.Time) error {
	err := s.repo.Appointments.ReserveSeat(ctx, repository.SeatKey{
		TemplateID: t.ID,
		Date:       date,
		StartTime:  t.StartTime,
	})
	switch {
	case errors.Is(err, repository.ErrNoCapacity):
		return apperr.Wrap(apperr.ErrCapacityExceeded, err,
			"slot template %d on %s at %s is fully booked", t.ID, model.DateKey(date), t.StartTime)
	case errors.Is(err, repository.ErrTemplateUnavailable):
		return apperr.Wrap(apperr.ErrSlotMismatch, err, "slot template %d is inactive", t.ID)
	}
	return err
}

func (s *AppointmentService) release(ctx context.Context, a *model.Appointment) error {
	if a.SlotTemplateID == nil {
		return nil
	}
	return s.repo.Appointments.ReleaseSeat(ctx, repository.SeatKey{
		TemplateID: *a.SlotTemplateID,
		Date:       a.AppointmentDate,
		StartTime:  a.StartTime,
	})
}

// withReference выполняет fn в транзакции с новым номером записи, повторяя при коллизии номера
func (s *AppointmentService) withReference(ctx context.Context, fn func(ctx context.Context, reference string) error) error {
	var err error
	for attempt := 1; attempt <= referenceAttempts; attempt++ {
		reference := newReferenceNumber(s.opts.Now().In(s.opts.Location))
		err = s.repo.Tx.WithinTx(ctx, func(ctx context.Context) error {
			return fn(ctx, reference)
		})
		if !errors.Is(err, repository.ErrDuplicateReference) {
			return err
		}
		s.logger.Warn("Reference number collision, retrying",
			zap.String("reference", reference),
			zap.Int("attempt", attempt))
	}
	return fmt.Errorf("failed to generate unique reference number: %w", err)
}

// newReferenceNumber номер вида APT-YYMMDD-XXXXXXXXXX
func newReferenceNumber(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:10]
	return "APT-" + now.Format("060102") + "-" + suffix
}

func setInitialStatus(a *model.Appointment, t *model.SlotTemplate, actor model.Actor, now time.Time) {
	if t != nil && t.RequiresApproval {
		a.Status = model.AppointmentStatusPending
		return
	}

	by := actor.ID
	at := now
	a.Status = model.AppointmentStatusConfirmed
	a.ConfirmedBy = &by
	a.ConfirmedAt = &at
}

// notify отправляет событие; ошибка доставки только логируется
func (s *AppointmentService) notify(ctx context.Context, event model.NotificationEvent, a *model.Appointment) {
	if s.notifier == nil || a == nil {
		return
	}

	snapshot := *a
	if err := s.notifier.Notify(context.WithoutCancel(ctx), event, &snapshot); err != nil {
		s.logger.Warn("Failed to dispatch notification",
			zap.String("event", string(event)),
			zap.Int64("appointment_id", a.ID),
			zap.Error(err))
	}
}
