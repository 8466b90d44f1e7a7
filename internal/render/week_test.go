package render

import (
	"bytes"
	"image/png"
	"testing"
	"time"

	"github.com/Freeeeeet/appointment_scheduler/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWeekStart(t *testing.T) {
	monday := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, monday, WeekStart(monday))
	assert.Equal(t, monday, WeekStart(time.Date(2026, 3, 4, 15, 0, 0, 0, time.UTC)))
	assert.Equal(t, monday, WeekStart(time.Date(2026, 3, 8, 23, 0, 0, 0, time.UTC)))
}

func TestWeekImage(t *testing.T) {
	monday := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	days := []model.AvailabilityDay{
		{
			Date:           monday,
			TotalSlots:     2,
			AvailableCount: 2,
			Availability:   model.AvailabilityAbundant,
			Slots: []model.OpenSlot{
				{TemplateID: 1, StartTime: model.NewTimeOfDay(9, 0), EndTime: model.NewTimeOfDay(9, 30), Capacity: 2, RemainingCapacity: 1},
				{TemplateID: 2, StartTime: model.NewTimeOfDay(14, 0), EndTime: model.NewTimeOfDay(15, 0), Capacity: 1, RemainingCapacity: 1},
			},
		},
		{Date: monday.AddDate(0, 0, 1), Availability: model.AvailabilityFullyBooked, Slots: []model.OpenSlot{}},
	}

	data, err := WeekImage(Week{
		Title: "Гимназия №5",
		Start: monday.AddDate(0, 0, 3),
		Days:  days,
		Now:   monday.Add(11 * time.Hour),
	})
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, imageWidth, img.Bounds().Dx())
	assert.Equal(t, imageHeight, img.Bounds().Dy())
}

func TestCalculateHourRange(t *testing.T) {
	empty := calculateHourRange(nil)
	assert.Equal(t, defaultMinHour-hourPaddingTop, empty.start)

	r := calculateHourRange([]model.AvailabilityDay{{Slots: []model.OpenSlot{
		{StartTime: model.NewTimeOfDay(1, 0), EndTime: model.NewTimeOfDay(23, 15)},
	}}})
	assert.Equal(t, 0, r.start)
	assert.Equal(t, 24, r.end)
	assert.Equal(t, 24, r.total)
}

func TestTierLabel(t *testing.T) {
	assert.Equal(t, "Нет мест", TierLabel(model.AvailabilityFullyBooked))
	assert.Equal(t, "UNKNOWN", TierLabel("UNKNOWN"))
}
