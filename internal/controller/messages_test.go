package controller

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/Freeeeeet/appointment_scheduler/internal/apperr"
	"github.com/Freeeeeet/appointment_scheduler/internal/model"
	"github.com/Freeeeeet/appointment_scheduler/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var now = time.Date(2026, 9, 1, 9, 30, 0, 0, time.UTC)

func TestParseAvailabilityArgs(t *testing.T) {
	args, err := parseAvailabilityArgs("/availability 12", now)
	require.NoError(t, err)
	assert.Equal(t, int64(12), args.institutionID)
	assert.Equal(t, time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC), args.from)
	assert.Equal(t, time.Date(2026, 9, 7, 0, 0, 0, 0, time.UTC), args.to)

	args, err = parseAvailabilityArgs("/availability 12 10.09.2026", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 9, 10, 0, 0, 0, 0, time.UTC), args.from)
	assert.Equal(t, time.Date(2026, 9, 16, 0, 0, 0, 0, time.UTC), args.to)

	args, err = parseAvailabilityArgs("/availability 12 2026-09-10 2026-09-30", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 9, 30, 0, 0, 0, 0, time.UTC), args.to)
}

func TestParseAvailabilityArgs_Errors(t *testing.T) {
	for _, text := range []string{
		"/availability",
		"/availability abc",
		"/availability -1",
		"/availability 1 2 3 4",
	} {
		_, err := parseAvailabilityArgs(text, now)
		assert.ErrorIs(t, err, errUsage, text)
	}

	_, err := parseAvailabilityArgs("/availability 1 31.02", now)
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func TestFormatAvailability(t *testing.T) {
	days := []model.AvailabilityDay{
		{Date: time.Date(2026, 9, 7, 0, 0, 0, 0, time.UTC), TotalSlots: 4, AvailableCount: 1, Availability: model.AvailabilityLimited},
		{Date: time.Date(2026, 9, 8, 0, 0, 0, 0, time.UTC), Availability: model.AvailabilityFullyBooked},
	}

	text := formatAvailability(days)
	assert.Contains(t, text, "07.09 Пн · Мало мест (1 из 4)")
	assert.NotContains(t, text, "08.09")

	assert.Contains(t, formatAvailability(nil), "Нет расписания на выбранные даты")
}

func TestErrorMessage(t *testing.T) {
	assert.Contains(t, ErrorMessage(errUsage), "Формат")
	assert.Contains(t, ErrorMessage(fmt.Errorf("x: %w", apperr.Unauthorized("view availability"))), "нет доступа")
	assert.Contains(t, ErrorMessage(apperr.NotFound("institution", 3)), "не найдено")
	assert.Equal(t, "❌ date range of 100 days exceeds maximum of 92",
		ErrorMessage(apperr.New(apperr.ErrInvalidInput, "date range of 100 days exceeds maximum of 92")))
	assert.Contains(t, ErrorMessage(errors.New("db down")), "Попробуйте позже")
}

type fakeReader struct {
	actor model.Actor
	query service.AvailabilityQuery
	days  []model.AvailabilityDay
	err   error
}

func (r *fakeReader) GetAvailability(_ context.Context, actor model.Actor, q service.AvailabilityQuery) ([]model.AvailabilityDay, error) {
	r.actor, r.query = actor, q
	return r.days, r.err
}

func TestAvailabilityReply(t *testing.T) {
	monday := time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)
	reader := &fakeReader{days: []model.AvailabilityDay{{
		Date:           monday,
		TotalSlots:     1,
		AvailableCount: 1,
		Availability:   model.AvailabilityAbundant,
		Slots: []model.OpenSlot{{
			TemplateID:        1,
			StartTime:         model.NewTimeOfDay(10, 0),
			EndTime:           model.NewTimeOfDay(10, 30),
			Capacity:          1,
			RemainingCapacity: 1,
		}},
	}}}
	h := NewHandlers(reader, Options{Now: func() time.Time { return now }}, zap.NewNop())

	text, photo, err := h.availabilityReply(context.Background(), 42, "/availability 5 31.08.2026")
	require.NoError(t, err)
	assert.Equal(t, model.Actor{ID: 42}, reader.actor)
	assert.Equal(t, int64(5), reader.query.InstitutionID)
	assert.True(t, reader.query.IncludeClosed)
	assert.Contains(t, text, "Много мест")
	require.NotEmpty(t, photo)
	assert.Equal(t, []byte("\x89PNG"), photo[:4])

	reader.err = apperr.Unauthorized("view availability")
	_, _, err = h.availabilityReply(context.Background(), 42, "/availability 5")
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
}
