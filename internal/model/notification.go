package model

// NotificationEvent событие для рассылки уведомлений
type NotificationEvent string

const (
	EventAppointmentCreated       NotificationEvent = "appointment.created"
	EventAppointmentConfirmed     NotificationEvent = "appointment.confirmed"
	EventAppointmentCancelled     NotificationEvent = "appointment.cancelled"
	EventAppointmentRescheduled   NotificationEvent = "appointment.rescheduled"
	EventAppointmentStatusChanged NotificationEvent = "appointment.status_changed"
)
