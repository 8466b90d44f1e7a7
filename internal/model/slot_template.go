package model

import "time"

// Значения по умолчанию для политики бронирования
const (
	DefaultCapacity              = 1
	DefaultAdvanceBookingHours   = 24
	DefaultMaxAdvanceBookingDays = 30
	DefaultCancellationHours     = 4

	MinSlotDurationMinutes = 15
	MaxSlotDurationMinutes = 480
)

// SlotTemplate шаблон регулярного слота на день недели
type SlotTemplate struct {
	ID              int64        `json:"id"`
	InstitutionID   int64        `json:"institution_id"`
	StaffID         *int64       `json:"staff_id"` // nil - слот всего учреждения
	DayOfWeek       time.Weekday `json:"day_of_week"`
	StartTime       TimeOfDay    `json:"start_time"`
	EndTime         TimeOfDay    `json:"end_time"`
	DurationMinutes int          `json:"duration_minutes"`
	Capacity        int          `json:"capacity"`
	ValidFrom       *time.Time   `json:"valid_from"`
	ValidUntil      *time.Time   `json:"valid_until"`

	AdvanceBookingHours   int  `json:"advance_booking_hours"`
	MaxAdvanceBookingDays int  `json:"max_advance_booking_days"`
	CancellationHours     int  `json:"cancellation_hours"`
	RequiresApproval      bool `json:"requires_approval"`

	IsActive  bool      `json:"is_active"`
	CreatedBy int64     `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SameOwner проверяет что шаблоны принадлежат одному учреждению и сотруднику
func (t *SlotTemplate) SameOwner(other *SlotTemplate) bool {
	if t.InstitutionID != other.InstitutionID {
		return false
	}
	if t.StaffID == nil || other.StaffID == nil {
		return t.StaffID == nil && other.StaffID == nil
	}
	return *t.StaffID == *other.StaffID
}

// Overlaps проверяет пересечение по дню недели и времени
func (t *SlotTemplate) Overlaps(other *SlotTemplate) bool {
	if t.DayOfWeek != other.DayOfWeek {
		return false
	}
	return t.StartTime < other.EndTime && other.StartTime < t.EndTime
}

// CoversDate проверяет попадание даты в окно действия шаблона
func (t *SlotTemplate) CoversDate(date time.Time) bool {
	d := Date(date)
	if t.ValidFrom != nil && d.Before(Date(*t.ValidFrom)) {
		return false
	}
	if t.ValidUntil != nil && d.After(Date(*t.ValidUntil)) {
		return false
	}
	return true
}

// Start момент начала слота в указанную дату
func (t *SlotTemplate) Start(date time.Time, loc *time.Location) time.Time {
	return t.StartTime.On(date, loc)
}

// ExclusionSet набор исключённых дат по ID шаблона
type ExclusionSet map[int64]map[string]struct{}

// Add добавляет дату в набор
func (s ExclusionSet) Add(templateID int64, date time.Time) {
	dates, ok := s[templateID]
	if !ok {
		dates = make(map[string]struct{})
		s[templateID] = dates
	}
	dates[DateKey(date)] = struct{}{}
}

// Excluded проверяет исключена ли дата для шаблона
func (s ExclusionSet) Excluded(templateID int64, date time.Time) bool {
	dates, ok := s[templateID]
	if !ok {
		return false
	}
	_, excluded := dates[DateKey(date)]
	return excluded
}
