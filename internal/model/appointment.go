package model

import "time"

type AppointmentStatus string

const (
	AppointmentStatusPending     AppointmentStatus = "PENDING"     // Ожидает одобрения
	AppointmentStatusConfirmed   AppointmentStatus = "CONFIRMED"   // Подтверждено
	AppointmentStatusInProgress  AppointmentStatus = "IN_PROGRESS" // Идёт приём
	AppointmentStatusCompleted   AppointmentStatus = "COMPLETED"   // Завершено
	AppointmentStatusCancelled   AppointmentStatus = "CANCELLED"   // Отменено
	AppointmentStatusRescheduled AppointmentStatus = "RESCHEDULED" // Перенесено на другую запись
)

// MaxRescheduleCount максимальная длина цепочки переносов
const MaxRescheduleCount = 3

// transitions допустимые переходы между статусами
var transitions = map[AppointmentStatus][]AppointmentStatus{
	AppointmentStatusPending:    {AppointmentStatusConfirmed, AppointmentStatusCancelled, AppointmentStatusRescheduled},
	AppointmentStatusConfirmed:  {AppointmentStatusInProgress, AppointmentStatusCancelled, AppointmentStatusRescheduled},
	AppointmentStatusInProgress: {AppointmentStatusCompleted},
}

// Valid проверяет что статус известен
func (s AppointmentStatus) Valid() bool {
	switch s {
	case AppointmentStatusPending, AppointmentStatusConfirmed, AppointmentStatusInProgress,
		AppointmentStatusCompleted, AppointmentStatusCancelled, AppointmentStatusRescheduled:
		return true
	}
	return false
}

// CanTransitionTo проверяет допустимость перехода
func (s AppointmentStatus) CanTransitionTo(next AppointmentStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// CountsAgainstCapacity занимает ли запись место в слоте
func (s AppointmentStatus) CountsAgainstCapacity() bool {
	return s != AppointmentStatusCancelled && s != AppointmentStatusRescheduled
}

// Active запись ещё не завершена и не отменена
func (s AppointmentStatus) Active() bool {
	return s == AppointmentStatusPending || s == AppointmentStatusConfirmed || s == AppointmentStatusInProgress
}

type Appointment struct {
	ID              int64             `json:"id"`
	ReferenceNumber string            `json:"reference_number"`
	InstitutionID   int64             `json:"institution_id"`
	SlotTemplateID  *int64            `json:"slot_template_id"`
	StaffID         *int64            `json:"staff_id"`
	RequesterID     *int64            `json:"requester_id"`
	AppointmentDate time.Time         `json:"appointment_date"`
	StartTime       TimeOfDay         `json:"start_time"`
	EndTime         TimeOfDay         `json:"end_time"`
	Status          AppointmentStatus `json:"status"`

	StudentName  string `json:"student_name"`
	ParentName   string `json:"parent_name"`
	ContactEmail string `json:"contact_email"`
	ContactPhone string `json:"contact_phone"`
	Purpose      string `json:"purpose"`
	Notes        string `json:"notes"`

	RescheduledFromID *int64 `json:"rescheduled_from_id"`
	RescheduledToID   *int64 `json:"rescheduled_to_id"`
	RescheduleCount   int    `json:"reschedule_count"`

	CreatedBy          int64      `json:"created_by"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
	ConfirmedBy        *int64     `json:"confirmed_by"`
	ConfirmedAt        *time.Time `json:"confirmed_at"`
	CancelledBy        *int64     `json:"cancelled_by"`
	CancelledAt        *time.Time `json:"cancelled_at"`
	CancellationReason string     `json:"cancellation_reason"`
}

// Start момент начала записи
func (a *Appointment) Start(loc *time.Location) time.Time {
	return a.StartTime.On(a.AppointmentDate, loc)
}

// HoursUntil сколько часов осталось до начала записи
func (a *Appointment) HoursUntil(now time.Time, loc *time.Location) float64 {
	return a.Start(loc).Sub(now).Hours()
}

// IsRequester является ли аккаунт автором записи
func (a *Appointment) IsRequester(accountID int64) bool {
	return a.RequesterID != nil && *a.RequesterID == accountID
}

// IsAssignedStaff назначен ли сотрудник на запись
func (a *Appointment) IsAssignedStaff(staffID int64) bool {
	return a.StaffID != nil && *a.StaffID == staffID
}

// RescheduleTarget параметры новой записи при переносе
type RescheduleTarget struct {
	Date           time.Time
	StartTime      TimeOfDay
	EndTime        TimeOfDay
	SlotTemplateID *int64
	StaffID        *int64
}

// CopyForReschedule создаёт новую запись из исходной: копируются все поля,
// кроме идентичности, даты/времени/слота, статуса и аудита
func (a *Appointment) CopyForReschedule(target RescheduleTarget) *Appointment {
	next := *a

	next.ID = 0
	next.ReferenceNumber = ""
	next.AppointmentDate = Date(target.Date)
	next.StartTime = target.StartTime
	next.EndTime = target.EndTime
	next.SlotTemplateID = target.SlotTemplateID
	if target.StaffID != nil {
		next.StaffID = target.StaffID
	}
	next.Status = ""

	fromID := a.ID
	next.RescheduledFromID = &fromID
	next.RescheduledToID = nil
	next.RescheduleCount = a.RescheduleCount + 1

	next.CreatedAt = time.Time{}
	next.UpdatedAt = time.Time{}
	next.ConfirmedBy = nil
	next.ConfirmedAt = nil
	next.CancelledBy = nil
	next.CancelledAt = nil
	next.CancellationReason = ""

	return &next
}
