package model

import "time"

type AvailabilityTier string

const (
	AvailabilityFullyBooked AvailabilityTier = "FULLY_BOOKED"
	AvailabilityLimited     AvailabilityTier = "LIMITED"
	AvailabilityAvailable   AvailabilityTier = "AVAILABLE"
	AvailabilityAbundant    AvailabilityTier = "ABUNDANT"
)

// OpenSlot свободный экземпляр слота в конкретную дату
type OpenSlot struct {
	TemplateID        int64     `json:"template_id"`
	StaffID           *int64    `json:"staff_id"`
	StartTime         TimeOfDay `json:"start_time"`
	EndTime           TimeOfDay `json:"end_time"`
	Capacity          int       `json:"capacity"`
	RemainingCapacity int       `json:"remaining_capacity"`
	RequiresApproval  bool      `json:"requires_approval"`
}

// AvailabilityDay доступность учреждения на дату (не хранится в БД)
type AvailabilityDay struct {
	InstitutionID  int64            `json:"institution_id"`
	Date           time.Time        `json:"date"`
	Slots          []OpenSlot       `json:"slots"`
	TotalSlots     int              `json:"total_slots"`
	AvailableCount int              `json:"available_count"`
	BookedSlots    int              `json:"booked_slots"`
	Availability   AvailabilityTier `json:"availability"`
}

// BookedKey ключ счётчика занятых мест
type BookedKey struct {
	Date       string
	TemplateID int64
}

// BookedCounts количество занятых мест по (дата, шаблон)
type BookedCounts map[BookedKey]int

// Get возвращает количество занятых мест
func (c BookedCounts) Get(date time.Time, templateID int64) int {
	return c[BookedKey{Date: DateKey(date), TemplateID: templateID}]
}

// Add увеличивает счётчик
func (c BookedCounts) Add(date time.Time, templateID int64, n int) {
	c[BookedKey{Date: DateKey(date), TemplateID: templateID}] += n
}
