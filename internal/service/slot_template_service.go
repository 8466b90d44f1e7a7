package service

import (
	"context"
	"fmt"
	"time"

	"github.com/Freeeeeet/appointment_scheduler/internal/apperr"
	"github.com/Freeeeeet/appointment_scheduler/internal/model"
	"github.com/Freeeeeet/appointment_scheduler/internal/repository"
	"go.uber.org/zap"
)

// SlotTemplateService управляет шаблонами слотов учреждений
type SlotTemplateService struct {
	repo   *repository.Repository
	guard  *guard
	opts   Options
	logger *zap.Logger
}

// NewSlotTemplateService создаёт новый сервис шаблонов
func NewSlotTemplateService(repo *repository.Repository, g *guard, opts Options, logger *zap.Logger) *SlotTemplateService {
	return &SlotTemplateService{
		repo:   repo,
		guard:  g,
		opts:   opts.withDefaults(),
		logger: logger,
	}
}

// CreateSlotTemplateInput параметры нового шаблона; nil поля получают значения по умолчанию
type CreateSlotTemplateInput struct {
	InstitutionID         int64           `validate:"required,gt=0"`
	StaffID               *int64          `validate:"omitempty,gt=0"`
	DayOfWeek             time.Weekday    `validate:"gte=0,lte=6"`
	StartTime             model.TimeOfDay `validate:"gte=0,lt=1440"`
	EndTime               model.TimeOfDay `validate:"gte=0,lte=1440"`
	DurationMinutes       int             `validate:"required,gt=0"`
	Capacity              *int            `validate:"omitempty,gt=0"`
	ValidFrom             *time.Time
	ValidUntil            *time.Time
	AdvanceBookingHours   *int `validate:"omitempty,gte=0"`
	MaxAdvanceBookingDays *int `validate:"omitempty,gt=0"`
	CancellationHours     *int `validate:"omitempty,gte=0"`
	RequiresApproval      bool
}

// UpdateSlotTemplateInput частичное изменение шаблона; nil поля не меняются
type UpdateSlotTemplateInput struct {
	StaffID               *int64           `validate:"omitempty,gt=0"`
	ClearStaff            bool             // сделать слот общим для учреждения
	DayOfWeek             *time.Weekday    `validate:"omitempty,gte=0,lte=6"`
	StartTime             *model.TimeOfDay `validate:"omitempty,gte=0,lt=1440"`
	EndTime               *model.TimeOfDay `validate:"omitempty,gte=0,lte=1440"`
	DurationMinutes       *int             `validate:"omitempty,gt=0"`
	Capacity              *int             `validate:"omitempty,gt=0"`
	ValidFrom             *time.Time
	ValidUntil            *time.Time
	AdvanceBookingHours   *int `validate:"omitempty,gte=0"`
	MaxAdvanceBookingDays *int `validate:"omitempty,gt=0"`
	CancellationHours     *int `validate:"omitempty,gte=0"`
	RequiresApproval      *bool
}

func intOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

func dateOrNil(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	d := model.Date(*t)
	return &d
}

// Create создаёт шаблон слота после проверки окна времени и пересечений
func (s *SlotTemplateService) Create(ctx context.Context, actor model.Actor, input CreateSlotTemplateInput) (*model.SlotTemplate, error) {
	if err := validateInput(input); err != nil {
		return nil, err
	}

	if err := s.guard.requireManage(ctx, actor, input.InstitutionID, "manage slot templates"); err != nil {
		return nil, err
	}

	t := &model.SlotTemplate{
		InstitutionID:         input.InstitutionID,
		StaffID:               input.StaffID,
		DayOfWeek:             input.DayOfWeek,
		StartTime:             input.StartTime,
		EndTime:               input.EndTime,
		DurationMinutes:       input.DurationMinutes,
		Capacity:              intOr(input.Capacity, model.DefaultCapacity),
		ValidFrom:             dateOrNil(input.ValidFrom),
		ValidUntil:            dateOrNil(input.ValidUntil),
		AdvanceBookingHours:   intOr(input.AdvanceBookingHours, model.DefaultAdvanceBookingHours),
		MaxAdvanceBookingDays: intOr(input.MaxAdvanceBookingDays, model.DefaultMaxAdvanceBookingDays),
		CancellationHours:     intOr(input.CancellationHours, model.DefaultCancellationHours),
		RequiresApproval:      input.RequiresApproval,
		IsActive:              true,
		CreatedBy:             actor.ID,
	}

	if err := validateTimeWindow(t); err != nil {
		return nil, err
	}

	if err := s.checkOwner(ctx, t); err != nil {
		return nil, err
	}

	err := s.repo.Tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Templates.LockInstitution(ctx, t.InstitutionID); err != nil {
			return err
		}
		if err := s.checkOverlap(ctx, t); err != nil {
			return err
		}
		return s.repo.Templates.Create(ctx, t)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Slot template created",
		zap.Int64("template_id", t.ID),
		zap.Int64("institution_id", t.InstitutionID),
		zap.String("day_of_week", t.DayOfWeek.String()),
		zap.String("start_time", t.StartTime.String()),
		zap.String("end_time", t.EndTime.String()),
		zap.Int("capacity", t.Capacity))

	return t, nil
}

// Get получает шаблон по ID
func (s *SlotTemplateService) Get(ctx context.Context, actor model.Actor, id int64) (*model.SlotTemplate, error) {
	t, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := s.guard.requireView(ctx, actor, t.InstitutionID, "view slot templates"); err != nil {
		return nil, err
	}

	return t, nil
}

// ListByInstitution получает шаблоны учреждения
func (s *SlotTemplateService) ListByInstitution(ctx context.Context, actor model.Actor, institutionID int64, activeOnly bool) ([]*model.SlotTemplate, error) {
	if err := s.guard.requireView(ctx, actor, institutionID, "view slot templates"); err != nil {
		return nil, err
	}

	templates, err := s.repo.Templates.ListByInstitution(ctx, institutionID, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("failed to get slot templates: %w", err)
	}

	return templates, nil
}

// Update изменяет шаблон с повторной проверкой всех ограничений
func (s *SlotTemplateService) Update(ctx context.Context, actor model.Actor, id int64, input UpdateSlotTemplateInput) (*model.SlotTemplate, error) {
	if err := validateInput(input); err != nil {
		return nil, err
	}

	existing, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := s.guard.requireManage(ctx, actor, existing.InstitutionID, "manage slot templates"); err != nil {
		return nil, err
	}

	today := model.Date(s.opts.Now().In(s.opts.Location))

	var updated model.SlotTemplate
	err = s.repo.Tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Templates.LockInstitution(ctx, existing.InstitutionID); err != nil {
			return err
		}

		// Строка шаблона блокируется до проверки занятых мест, резерв места ждёт этой транзакции
		cur, err := s.lock(ctx, id)
		if err != nil {
			return err
		}

		updated = *cur
		applyUpdate(&updated, input)

		if err := validateTimeWindow(&updated); err != nil {
			return err
		}
		if err := s.checkOwner(ctx, &updated); err != nil {
			return err
		}

		if updated.IsActive {
			if err := s.checkOverlap(ctx, &updated); err != nil {
				return err
			}
		}

		if updated.Capacity < cur.Capacity {
			booked, err := s.repo.Appointments.MaxBookedFrom(ctx, id, today)
			if err != nil {
				return err
			}
			if updated.Capacity < booked {
				return apperr.New(apperr.ErrCapacityBelowBookings,
					"capacity %d is below %d existing bookings for slot template %d", updated.Capacity, booked, id)
			}
		}

		if scheduleChanged(cur, &updated) {
			active, err := s.repo.Appointments.CountActiveFrom(ctx, id, today)
			if err != nil {
				return err
			}
			if active > 0 {
				return apperr.New(apperr.ErrTemplateInUse,
					"slot template %d has %d upcoming appointments, schedule cannot change", id, active)
			}
		}

		return s.repo.Templates.Update(ctx, &updated)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Slot template updated",
		zap.Int64("template_id", id),
		zap.Int64("actor_id", actor.ID))

	return &updated, nil
}

// Deactivate выключает шаблон, если на него нет предстоящих записей
func (s *SlotTemplateService) Deactivate(ctx context.Context, actor model.Actor, id int64) error {
	t, err := s.load(ctx, id)
	if err != nil {
		return err
	}

	if err := s.guard.requireManage(ctx, actor, t.InstitutionID, "manage slot templates"); err != nil {
		return err
	}

	if !t.IsActive {
		return nil
	}

	today := model.Date(s.opts.Now().In(s.opts.Location))

	err = s.repo.Tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := s.lock(ctx, id); err != nil {
			return err
		}

		active, err := s.repo.Appointments.CountActiveFrom(ctx, id, today)
		if err != nil {
			return err
		}
		if active > 0 {
			return apperr.New(apperr.ErrTemplateInUse,
				"slot template %d has %d upcoming appointments", id, active)
		}
		return s.repo.Templates.Deactivate(ctx, id)
	})
	if err != nil {
		return err
	}

	s.logger.Info("Slot template deactivated",
		zap.Int64("template_id", id),
		zap.Int64("actor_id", actor.ID))

	return nil
}

// AddExclusions закрывает запись на шаблон в указанные даты
func (s *SlotTemplateService) AddExclusions(ctx context.Context, actor model.Actor, id int64, dates []time.Time) error {
	if len(dates) == 0 {
		return apperr.New(apperr.ErrInvalidInput, "at least one date is required")
	}

	t, err := s.load(ctx, id)
	if err != nil {
		return err
	}

	if err := s.guard.requireManage(ctx, actor, t.InstitutionID, "manage slot templates"); err != nil {
		return err
	}

	normalized := make([]time.Time, 0, len(dates))
	for _, d := range dates {
		normalized = append(normalized, model.Date(d))
	}

	if err := s.repo.Templates.AddExclusions(ctx, id, normalized); err != nil {
		return err
	}

	s.logger.Info("Slot template exclusions added",
		zap.Int64("template_id", id),
		zap.Int("dates", len(normalized)))

	return nil
}

// RemoveExclusion снова открывает дату для записи
func (s *SlotTemplateService) RemoveExclusion(ctx context.Context, actor model.Actor, id int64, date time.Time) error {
	t, err := s.load(ctx, id)
	if err != nil {
		return err
	}

	if err := s.guard.requireManage(ctx, actor, t.InstitutionID, "manage slot templates"); err != nil {
		return err
	}

	return s.repo.Templates.RemoveExclusion(ctx, id, model.Date(date))
}

func (s *SlotTemplateService) load(ctx context.Context, id int64) (*model.SlotTemplate, error) {
	t, err := s.repo.Templates.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get slot template: %w", err)
	}
	if t == nil {
		return nil, apperr.NotFound("slot template", id)
	}
	return t, nil
}

// lock перечитывает шаблон с блокировкой строки внутри транзакции
func (s *SlotTemplateService) lock(ctx context.Context, id int64) (*model.SlotTemplate, error) {
	t, err := s.repo.Templates.GetByIDForUpdate(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to lock slot template: %w", err)
	}
	if t == nil {
		return nil, apperr.NotFound("slot template", id)
	}
	return t, nil
}

// checkOwner учреждение существует, сотрудник работает в нём
func (s *SlotTemplateService) checkOwner(ctx context.Context, t *model.SlotTemplate) error {
	institution, err := s.repo.Directory.GetInstitution(ctx, t.InstitutionID)
	if err != nil {
		return fmt.Errorf("failed to get institution: %w", err)
	}
	if institution == nil || !institution.IsActive {
		return apperr.NotFound("institution", t.InstitutionID)
	}

	if t.StaffID == nil {
		return nil
	}

	staff, err := s.repo.Directory.GetStaff(ctx, *t.StaffID)
	if err != nil {
		return fmt.Errorf("failed to get staff member: %w", err)
	}
	if staff == nil || !staff.IsActive {
		return apperr.NotFound("staff member", *t.StaffID)
	}
	if staff.InstitutionID != t.InstitutionID {
		return apperr.New(apperr.ErrInvalidInput,
			"staff member %d does not belong to institution %d", staff.ID, t.InstitutionID)
	}

	return nil
}

// checkOverlap активные шаблоны одного владельца не пересекаются во времени
func (s *SlotTemplateService) checkOverlap(ctx context.Context, t *model.SlotTemplate) error {
	siblings, err := s.repo.Templates.ListByInstitution(ctx, t.InstitutionID, true)
	if err != nil {
		return err
	}

	for _, other := range siblings {
		if other.ID == t.ID || !t.SameOwner(other) {
			continue
		}
		if t.Overlaps(other) {
			return apperr.New(apperr.ErrOverlappingTemplate,
				"overlaps slot template %d (%s %s-%s)",
				other.ID, other.DayOfWeek, other.StartTime, other.EndTime)
		}
	}

	return nil
}

// validateTimeWindow начало раньше конца, длительность в допустимых пределах
func validateTimeWindow(t *model.SlotTemplate) error {
	if t.StartTime >= t.EndTime {
		return apperr.New(apperr.ErrInvalidTimeWindow,
			"start time %s must be before end time %s", t.StartTime, t.EndTime)
	}

	window := int(t.EndTime - t.StartTime)
	if window < model.MinSlotDurationMinutes || window > model.MaxSlotDurationMinutes {
		return apperr.New(apperr.ErrInvalidTimeWindow,
			"slot duration must be between %d and %d minutes", model.MinSlotDurationMinutes, model.MaxSlotDurationMinutes)
	}

	if t.DurationMinutes != window {
		return apperr.New(apperr.ErrInvalidTimeWindow,
			"duration %d minutes does not match time window %s-%s", t.DurationMinutes, t.StartTime, t.EndTime)
	}

	if t.ValidFrom != nil && t.ValidUntil != nil && t.ValidFrom.After(*t.ValidUntil) {
		return apperr.New(apperr.ErrInvalidTimeWindow,
			"valid_from %s is after valid_until %s", model.DateKey(*t.ValidFrom), model.DateKey(*t.ValidUntil))
	}

	return nil
}

func applyUpdate(t *model.SlotTemplate, input UpdateSlotTemplateInput) {
	switch {
	case input.ClearStaff:
		t.StaffID = nil
	case input.StaffID != nil:
		t.StaffID = input.StaffID
	}
	if input.DayOfWeek != nil {
		t.DayOfWeek = *input.DayOfWeek
	}
	if input.StartTime != nil {
		t.StartTime = *input.StartTime
	}
	if input.EndTime != nil {
		t.EndTime = *input.EndTime
	}
	if input.DurationMinutes != nil {
		t.DurationMinutes = *input.DurationMinutes
	} else if input.StartTime != nil || input.EndTime != nil {
		t.DurationMinutes = int(t.EndTime - t.StartTime)
	}
	if input.Capacity != nil {
		t.Capacity = *input.Capacity
	}
	if input.ValidFrom != nil {
		t.ValidFrom = dateOrNil(input.ValidFrom)
	}
	if input.ValidUntil != nil {
		t.ValidUntil = dateOrNil(input.ValidUntil)
	}
	if input.AdvanceBookingHours != nil {
		t.AdvanceBookingHours = *input.AdvanceBookingHours
	}
	if input.MaxAdvanceBookingDays != nil {
		t.MaxAdvanceBookingDays = *input.MaxAdvanceBookingDays
	}
	if input.CancellationHours != nil {
		t.CancellationHours = *input.CancellationHours
	}
	if input.RequiresApproval != nil {
		t.RequiresApproval = *input.RequiresApproval
	}
}

// scheduleChanged затрагивает ли изменение день, время или владельца слота
func scheduleChanged(before, after *model.SlotTemplate) bool {
	if before.DayOfWeek != after.DayOfWeek || before.StartTime != after.StartTime || before.EndTime != after.EndTime {
		return true
	}
	if (before.StaffID == nil) != (after.StaffID == nil) {
		return true
	}
	return before.StaffID != nil && *before.StaffID != *after.StaffID
}
