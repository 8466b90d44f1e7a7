package service

import (
	"context"
	"fmt"
	"time"

	"github.com/Freeeeeet/appointment_scheduler/internal/apperr"
	"github.com/Freeeeeet/appointment_scheduler/internal/availability"
	"github.com/Freeeeeet/appointment_scheduler/internal/model"
	"github.com/Freeeeeet/appointment_scheduler/internal/repository"
	"go.uber.org/zap"
)

// MaxRangeDays максимальная длина запрашиваемого диапазона дат
const MaxRangeDays = 92

// AvailabilityService считает свободные слоты учреждения
type AvailabilityService struct {
	repo   *repository.Repository
	guard  *guard
	opts   Options
	logger *zap.Logger
}

// NewAvailabilityService создаёт новый сервис доступности
func NewAvailabilityService(repo *repository.Repository, g *guard, opts Options, logger *zap.Logger) *AvailabilityService {
	return &AvailabilityService{
		repo:   repo,
		guard:  g,
		opts:   opts.withDefaults(),
		logger: logger,
	}
}

// AvailabilityQuery параметры запроса доступности
type AvailabilityQuery struct {
	InstitutionID int64 `validate:"required,gt=0"`
	From          time.Time
	To            time.Time
	IncludeClosed bool
}

// GetAvailability возвращает доступность по дням диапазона.
// Шаблоны, исключения и занятые места загружаются по одному запросу на весь диапазон.
func (s *AvailabilityService) GetAvailability(ctx context.Context, actor model.Actor, q AvailabilityQuery) ([]model.AvailabilityDay, error) {
	if err := validateInput(q); err != nil {
		return nil, err
	}

	from, to := model.Date(q.From), model.Date(q.To)
	if from.After(to) {
		return nil, apperr.New(apperr.ErrInvalidInput,
			"start date %s is after end date %s", model.DateKey(from), model.DateKey(to))
	}
	if span := int(to.Sub(from).Hours()/24) + 1; span > MaxRangeDays {
		return nil, apperr.New(apperr.ErrInvalidInput,
			"date range of %d days exceeds maximum of %d", span, MaxRangeDays)
	}

	if err := s.guard.requireView(ctx, actor, q.InstitutionID, "view availability"); err != nil {
		return nil, err
	}

	institution, err := s.repo.Directory.GetInstitution(ctx, q.InstitutionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get institution: %w", err)
	}
	if institution == nil {
		return nil, apperr.NotFound("institution", q.InstitutionID)
	}

	templates, err := s.repo.Templates.ListByInstitution(ctx, q.InstitutionID, true)
	if err != nil {
		return nil, fmt.Errorf("failed to get slot templates: %w", err)
	}

	ids := make([]int64, 0, len(templates))
	for _, t := range templates {
		ids = append(ids, t.ID)
	}

	exclusions, err := s.repo.Templates.ListExclusions(ctx, ids, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to get exclusions: %w", err)
	}

	booked, err := s.repo.Appointments.BookedCounts(ctx, q.InstitutionID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to get booked counts: %w", err)
	}

	days := availability.Calculate(availability.Input{
		InstitutionID: q.InstitutionID,
		From:          from,
		To:            to,
		Templates:     templates,
		Exclusions:    exclusions,
		Booked:        booked,
		Now:           s.opts.Now(),
		Location:      s.opts.Location,
		IncludeClosed: q.IncludeClosed,
	})

	s.logger.Debug("Availability calculated",
		zap.Int64("institution_id", q.InstitutionID),
		zap.String("from", model.DateKey(from)),
		zap.String("to", model.DateKey(to)),
		zap.Int("templates", len(templates)),
		zap.Int("days", len(days)))

	return days, nil
}

// GetDayAvailability доступность одной даты, включая закрытые дни
func (s *AvailabilityService) GetDayAvailability(ctx context.Context, actor model.Actor, institutionID int64, date time.Time) (*model.AvailabilityDay, error) {
	days, err := s.GetAvailability(ctx, actor, AvailabilityQuery{
		InstitutionID: institutionID,
		From:          date,
		To:            date,
		IncludeClosed: true,
	})
	if err != nil {
		return nil, err
	}
	return &days[0], nil
}
