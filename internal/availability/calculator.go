// Package availability вычисляет доступность слотов по диапазону дат.
// Все функции чистые: данные загружаются вызывающим кодом один раз на весь диапазон.
package availability

import (
	"sort"
	"time"

	"github.com/Freeeeeet/appointment_scheduler/internal/apperr"
	"github.com/Freeeeeet/appointment_scheduler/internal/model"
)

// Input исходные данные для расчёта
type Input struct {
	InstitutionID int64
	From          time.Time
	To            time.Time
	Templates     []*model.SlotTemplate // только активные шаблоны учреждения
	Exclusions    model.ExclusionSet
	Booked        model.BookedCounts
	Now           time.Time
	Location      *time.Location
	IncludeClosed bool // включать дни без свободных мест
}

// Calculate строит доступность по дням от From до To включительно
func Calculate(in Input) []model.AvailabilityDay {
	loc := in.Location
	if loc == nil {
		loc = time.UTC
	}

	byWeekday := make(map[time.Weekday][]*model.SlotTemplate)
	for _, t := range in.Templates {
		if !t.IsActive {
			continue
		}
		byWeekday[t.DayOfWeek] = append(byWeekday[t.DayOfWeek], t)
	}
	for _, list := range byWeekday {
		sort.Slice(list, func(i, j int) bool {
			if list[i].StartTime != list[j].StartTime {
				return list[i].StartTime < list[j].StartTime
			}
			return list[i].ID < list[j].ID
		})
	}

	from := model.Date(in.From)
	to := model.Date(in.To)

	var days []model.AvailabilityDay
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		day := calculateDay(in, byWeekday[d.Weekday()], d, loc)
		if day.AvailableCount == 0 && !in.IncludeClosed {
			continue
		}
		days = append(days, day)
	}

	return days
}

// calculateDay считает доступность одной даты
func calculateDay(in Input, templates []*model.SlotTemplate, date time.Time, loc *time.Location) model.AvailabilityDay {
	day := model.AvailabilityDay{
		InstitutionID: in.InstitutionID,
		Date:          date,
		Slots:         []model.OpenSlot{},
		TotalSlots:    len(templates),
	}

	for _, t := range templates {
		booked := in.Booked.Get(date, t.ID)
		day.BookedSlots += booked

		if in.Exclusions.Excluded(t.ID, date) {
			continue
		}
		if CheckBookable(t, date, in.Now, loc) != nil {
			continue
		}

		remaining := t.Capacity - booked
		if remaining <= 0 {
			continue
		}

		day.Slots = append(day.Slots, model.OpenSlot{
			TemplateID:        t.ID,
			StaffID:           t.StaffID,
			StartTime:         t.StartTime,
			EndTime:           t.EndTime,
			Capacity:          t.Capacity,
			RemainingCapacity: remaining,
			RequiresApproval:  t.RequiresApproval,
		})
	}

	day.AvailableCount = len(day.Slots)
	day.Availability = Tier(day.AvailableCount, day.TotalSlots)

	return day
}

// Tier определяет уровень доступности дня
func Tier(available, total int) model.AvailabilityTier {
	switch {
	case available <= 0 || total <= 0:
		return model.AvailabilityFullyBooked
	case available*4 <= total:
		return model.AvailabilityLimited
	case available*4 <= total*3:
		return model.AvailabilityAvailable
	default:
		return model.AvailabilityAbundant
	}
}

// CheckBookable проверяет политику бронирования шаблона для даты.
// Возвращает nil если на дату можно записаться.
func CheckBookable(t *model.SlotTemplate, date time.Time, now time.Time, loc *time.Location) *apperr.Error {
	if loc == nil {
		loc = time.UTC
	}

	d := model.Date(date)
	today := model.Date(now.In(loc))

	if d.Before(today) {
		return apperr.New(apperr.ErrOutsideBookingWindow, "appointment date %s is in the past", model.DateKey(d))
	}

	if !t.CoversDate(d) {
		return apperr.New(apperr.ErrOutsideBookingWindow, "slot template %d is not valid on %s", t.ID, model.DateKey(d))
	}

	start := t.Start(d, loc)
	if start.Sub(now) < time.Duration(t.AdvanceBookingHours)*time.Hour {
		return apperr.New(apperr.ErrOutsideBookingWindow, "must book at least %d hours in advance", t.AdvanceBookingHours)
	}

	if daysBetween(today, d) > t.MaxAdvanceBookingDays {
		return apperr.New(apperr.ErrOutsideBookingWindow, "cannot book more than %d days in advance", t.MaxAdvanceBookingDays)
	}

	return nil
}

// daysBetween количество календарных дней между датами
func daysBetween(from, to time.Time) int {
	return int(to.Sub(from).Hours() / 24)
}
