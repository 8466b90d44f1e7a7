package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Freeeeeet/appointment_scheduler/internal/access"
	"github.com/Freeeeeet/appointment_scheduler/internal/model"
	"github.com/Freeeeeet/appointment_scheduler/internal/repository/memory"
	"github.com/Freeeeeet/appointment_scheduler/internal/service"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// 2026-03-02 понедельник, 08:00 UTC
var (
	today    = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	fixedNow = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	nextWeek = today.AddDate(0, 0, 7)
)

var (
	managerActor  = model.Actor{ID: 100}
	viewerActor   = model.Actor{ID: 200}
	strangerActor = model.Actor{ID: 300}
	systemActor   = model.Actor{ID: 1, System: true}
)

type sentEvent struct {
	event       model.NotificationEvent
	appointment model.Appointment
}

type recorder struct {
	mu     sync.Mutex
	events []sentEvent
}

func (r *recorder) Notify(_ context.Context, event model.NotificationEvent, a *model.Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, sentEvent{event: event, appointment: *a})
	return nil
}

func (r *recorder) kinds() []model.NotificationEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]model.NotificationEvent, 0, len(r.events))
	for _, e := range r.events {
		kinds = append(kinds, e.event)
	}
	return kinds
}

type fixture struct {
	ctx         context.Context
	store       *memory.Store
	svc         *service.Services
	gate        *access.GrantGate
	events      *recorder
	institution *model.Institution
	staff       *model.Staff
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	ctx := context.Background()
	store := memory.NewStore()
	institution := store.AddInstitution("Гимназия №5")
	staff := store.AddStaff(institution.ID, "Иванова Мария Петровна")

	gate := access.NewGrantGate(store.Grants, zap.NewNop())
	_, err := gate.Grant(ctx, managerActor.ID, institution.ID, model.AccessLevelManager)
	require.NoError(t, err)
	_, err = gate.Grant(ctx, viewerActor.ID, institution.ID, model.AccessLevelViewer)
	require.NoError(t, err)

	events := &recorder{}
	svc := service.New(store.Repository(), gate, events, service.Options{
		Now:      func() time.Time { return fixedNow },
		Location: time.UTC,
	}, zap.NewNop())

	return &fixture{
		ctx:         ctx,
		store:       store,
		svc:         svc,
		gate:        gate,
		events:      events,
		institution: institution,
		staff:       staff,
	}
}

func intPtr(v int) *int { return &v }

func todPtr(v model.TimeOfDay) *model.TimeOfDay { return &v }

// templateInput понедельничный слот на 30 минут без минимального срока записи
func (f *fixture) templateInput(start model.TimeOfDay, capacity int) service.CreateSlotTemplateInput {
	return service.CreateSlotTemplateInput{
		InstitutionID:       f.institution.ID,
		DayOfWeek:           time.Monday,
		StartTime:           start,
		EndTime:             start + 30,
		DurationMinutes:     30,
		Capacity:            intPtr(capacity),
		AdvanceBookingHours: intPtr(0),
	}
}

func (f *fixture) template(t *testing.T, start model.TimeOfDay, capacity int) *model.SlotTemplate {
	t.Helper()
	tmpl, err := f.svc.Templates.Create(f.ctx, managerActor, f.templateInput(start, capacity))
	require.NoError(t, err)
	return tmpl
}

func (f *fixture) bookingInput(tmpl *model.SlotTemplate, date time.Time) service.CreateAppointmentInput {
	templateID := tmpl.ID
	return service.CreateAppointmentInput{
		InstitutionID:   f.institution.ID,
		SlotTemplateID:  &templateID,
		AppointmentDate: date,
		StudentName:     "Петров Илья",
		ParentName:      "Петрова Анна",
		ContactEmail:    "petrova@example.com",
		Purpose:         "Консультация по успеваемости",
	}
}

func (f *fixture) book(t *testing.T, tmpl *model.SlotTemplate, date time.Time) *model.Appointment {
	t.Helper()
	a, err := f.svc.Appointments.Create(f.ctx, managerActor, f.bookingInput(tmpl, date))
	require.NoError(t, err)
	return a
}

// failingGate политика доступа, которая всегда возвращает ошибку
type failingGate struct {
	err error
}

func (g failingGate) CanManageInstitutionAppointments(context.Context, model.Actor, int64) (bool, error) {
	return false, g.err
}

func (g failingGate) CanAccessAppointment(context.Context, model.Actor, *model.Appointment) (bool, error) {
	return false, g.err
}

func (g failingGate) AccessibleInstitutionIDs(context.Context, model.Actor) ([]int64, error) {
	return nil, g.err
}
