package controller

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Freeeeeet/appointment_scheduler/internal/apperr"
	"github.com/Freeeeeet/appointment_scheduler/internal/model"
	"github.com/Freeeeeet/appointment_scheduler/internal/render"
)

// defaultRangeDays длина периода, если конечная дата не указана
const defaultRangeDays = 7

// errUsage неверный формат команды
var errUsage = errors.New("usage: /availability <institution_id> [from] [to]")

const helpText = "📚 Справка по командам:\n\n" +
	"/start - Начать работу с ботом\n" +
	"/availability <id> [с] [по] - Свободное время учреждения\n" +
	"/help - Показать эту справку\n\n" +
	"Даты в формате ДД.ММ.ГГГГ или ГГГГ-ММ-ДД.\n" +
	"Без дат показывается неделя начиная с сегодняшнего дня."

func welcomeText(firstName string) string {
	return fmt.Sprintf(
		"👋 Привет, %s!\n\n"+
			"Бот показывает свободное время для записи в учреждение.\n\n"+
			"Пример: /availability 12 01.09.2026 07.09.2026\n\n"+
			"/help - Справка",
		firstName,
	)
}

type availabilityArgs struct {
	institutionID int64
	from          time.Time
	to            time.Time
}

// parseAvailabilityArgs разбирает "/availability <id> [from] [to]"
func parseAvailabilityArgs(text string, now time.Time) (availabilityArgs, error) {
	fields := strings.Fields(text)
	if len(fields) < 2 || len(fields) > 4 {
		return availabilityArgs{}, errUsage
	}

	id, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil || id <= 0 {
		return availabilityArgs{}, errUsage
	}

	args := availabilityArgs{institutionID: id, from: model.Date(now)}
	if len(fields) >= 3 {
		if args.from, err = parseUserDate(fields[2]); err != nil {
			return availabilityArgs{}, err
		}
	}

	args.to = args.from.AddDate(0, 0, defaultRangeDays-1)
	if len(fields) == 4 {
		if args.to, err = parseUserDate(fields[3]); err != nil {
			return availabilityArgs{}, err
		}
	}

	return args, nil
}

func parseUserDate(s string) (time.Time, error) {
	if t, err := time.Parse("02.01.2006", s); err == nil {
		return t, nil
	}
	t, err := model.ParseDate(s)
	if err != nil {
		return time.Time{}, apperr.Wrap(apperr.ErrInvalidInput, err, "invalid date %s", s)
	}
	return t, nil
}

// formatAvailability текстовая сводка по дням; дни без слотов пропускаются
func formatAvailability(days []model.AvailabilityDay) string {
	var b strings.Builder
	b.WriteString("<b>📅 Свободное время</b>\n\n")

	shown := 0
	for _, d := range days {
		if d.TotalSlots == 0 {
			continue
		}
		shown++
		fmt.Fprintf(&b, "%s %s · %s (%d из %d)\n",
			d.Date.Format("02.01"), weekdayName(d.Date.Weekday()), render.TierLabel(d.Availability),
			d.AvailableCount, d.TotalSlots)
	}

	if shown == 0 {
		b.WriteString("Нет расписания на выбранные даты")
	}

	return b.String()
}

func weekdayName(w time.Weekday) string {
	return [...]string{"Вс", "Пн", "Вт", "Ср", "Чт", "Пт", "Сб"}[w]
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

// ErrorMessage возвращает пользовательское сообщение для ошибки
func ErrorMessage(err error) string {
	switch {
	case errors.Is(err, errUsage):
		return "❌ Формат: /availability <id учреждения> [с] [по]"
	case errors.Is(err, apperr.ErrUnauthorized):
		return "❌ У вас нет доступа к этому учреждению"
	case errors.Is(err, apperr.ErrNotFound):
		return "❌ Учреждение не найдено"
	case apperr.KindOf(err) == apperr.KindValidation:
		return "❌ " + err.Error()
	default:
		return "❌ Произошла ошибка. Попробуйте позже."
	}
}
