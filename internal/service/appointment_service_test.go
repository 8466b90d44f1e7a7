package service_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Freeeeeet/appointment_scheduler/internal/apperr"
	"github.com/Freeeeeet/appointment_scheduler/internal/model"
	"github.com/Freeeeeet/appointment_scheduler/internal/repository"
	"github.com/Freeeeeet/appointment_scheduler/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestCreate_CapacityExceeded(t *testing.T) {
	f := newFixture(t)
	tmpl := f.template(t, model.NewTimeOfDay(10, 0), 2)

	first := f.book(t, tmpl, nextWeek)
	second := f.book(t, tmpl, nextWeek)
	assert.NotEqual(t, first.ReferenceNumber, second.ReferenceNumber)

	_, err := f.svc.Appointments.Create(f.ctx, managerActor, f.bookingInput(tmpl, nextWeek))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrCapacityExceeded)
	assert.True(t, apperr.IsRetryable(err))

	// Другая дата того же шаблона свободна
	f.book(t, tmpl, nextWeek.AddDate(0, 0, 7))
}

func TestCreate_LastSeatConcurrent(t *testing.T) {
	f := newFixture(t)
	tmpl := f.template(t, model.NewTimeOfDay(10, 0), 1)

	const workers = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		rejected  int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Appointments.Create(f.ctx, managerActor, f.bookingInput(tmpl, nextWeek))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, apperr.ErrCapacityExceeded):
				rejected++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, workers-1, rejected)
}

// shrinkOnRead меняет шаблон сразу после того, как сервис записи его прочитал
type shrinkOnRead struct {
	repository.TemplateStore
	once   sync.Once
	shrink func()
}

func (s *shrinkOnRead) GetByID(ctx context.Context, id int64) (*model.SlotTemplate, error) {
	t, err := s.TemplateStore.GetByID(ctx, id)
	s.once.Do(s.shrink)
	return t, err
}

func TestCreate_CapacityShrunkAfterTemplateRead(t *testing.T) {
	f := newFixture(t)
	tmpl := f.template(t, model.NewTimeOfDay(10, 0), 2)
	f.book(t, tmpl, nextWeek)

	var shrinkErr error
	repo := f.store.Repository()
	repo.Templates = &shrinkOnRead{
		TemplateStore: repo.Templates,
		shrink: func() {
			_, shrinkErr = f.svc.Templates.Update(f.ctx, managerActor, tmpl.ID, service.UpdateSlotTemplateInput{Capacity: intPtr(1)})
		},
	}
	svc := service.New(repo, f.gate, f.events, service.Options{
		Now:      func() time.Time { return fixedNow },
		Location: time.UTC,
	}, zap.NewNop())

	_, err := svc.Appointments.Create(f.ctx, managerActor, f.bookingInput(tmpl, nextWeek))
	require.NoError(t, shrinkErr)
	assert.ErrorIs(t, err, apperr.ErrCapacityExceeded)

	stored, err := f.store.Templates.GetByID(f.ctx, tmpl.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Capacity)

	booked, err := f.store.Appointments.MaxBookedFrom(f.ctx, tmpl.ID, today)
	require.NoError(t, err)
	assert.Equal(t, 1, booked)
}

func TestCreate_TemplateDeactivatedAfterRead(t *testing.T) {
	f := newFixture(t)
	tmpl := f.template(t, model.NewTimeOfDay(10, 0), 2)

	var deactivateErr error
	repo := f.store.Repository()
	repo.Templates = &shrinkOnRead{
		TemplateStore: repo.Templates,
		shrink: func() {
			deactivateErr = f.svc.Templates.Deactivate(f.ctx, managerActor, tmpl.ID)
		},
	}
	svc := service.New(repo, f.gate, f.events, service.Options{
		Now:      func() time.Time { return fixedNow },
		Location: time.UTC,
	}, zap.NewNop())

	_, err := svc.Appointments.Create(f.ctx, managerActor, f.bookingInput(tmpl, nextWeek))
	require.NoError(t, deactivateErr)
	assert.ErrorIs(t, err, apperr.ErrSlotMismatch)

	booked, err := f.store.Appointments.MaxBookedFrom(f.ctx, tmpl.ID, today)
	require.NoError(t, err)
	assert.Zero(t, booked)
}

func TestCreate_InitialStatus(t *testing.T) {
	f := newFixture(t)
	auto := f.template(t, model.NewTimeOfDay(9, 0), 5)

	approvalInput := f.templateInput(model.NewTimeOfDay(11, 0), 5)
	approvalInput.RequiresApproval = true
	approval, err := f.svc.Templates.Create(f.ctx, managerActor, approvalInput)
	require.NoError(t, err)

	confirmed := f.book(t, auto, nextWeek)
	assert.Equal(t, model.AppointmentStatusConfirmed, confirmed.Status)
	require.NotNil(t, confirmed.ConfirmedAt)
	assert.Equal(t, fixedNow, *confirmed.ConfirmedAt)
	assert.True(t, strings.HasPrefix(confirmed.ReferenceNumber, "APT-260302-"))
	assert.Len(t, confirmed.ReferenceNumber, len("APT-260302-")+10)

	pending := f.book(t, approval, nextWeek)
	assert.Equal(t, model.AppointmentStatusPending, pending.Status)
	assert.Nil(t, pending.ConfirmedAt)

	got, err := f.svc.Appointments.Confirm(f.ctx, managerActor, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AppointmentStatusConfirmed, got.Status)
	require.NotNil(t, got.ConfirmedBy)
	assert.Equal(t, managerActor.ID, *got.ConfirmedBy)

	_, err = f.svc.Appointments.Confirm(f.ctx, managerActor, pending.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)
}

func TestCreate_SlotChecks(t *testing.T) {
	f := newFixture(t)
	tmpl := f.template(t, model.NewTimeOfDay(10, 0), 2)

	// Вторник для понедельничного шаблона
	_, err := f.svc.Appointments.Create(f.ctx, managerActor, f.bookingInput(tmpl, nextWeek.AddDate(0, 0, 1)))
	assert.ErrorIs(t, err, apperr.ErrSlotMismatch)

	input := f.bookingInput(tmpl, nextWeek)
	input.StartTime = todPtr(model.NewTimeOfDay(10, 15))
	_, err = f.svc.Appointments.Create(f.ctx, managerActor, input)
	assert.ErrorIs(t, err, apperr.ErrSlotMismatch)

	_, err = f.svc.Appointments.Create(f.ctx, managerActor, f.bookingInput(tmpl, today.AddDate(0, 0, -7)))
	assert.ErrorIs(t, err, apperr.ErrOutsideBookingWindow)

	_, err = f.svc.Appointments.Create(f.ctx, managerActor, f.bookingInput(tmpl, today.AddDate(0, 0, 35)))
	assert.ErrorIs(t, err, apperr.ErrOutsideBookingWindow)

	require.NoError(t, f.svc.Templates.AddExclusions(f.ctx, managerActor, tmpl.ID, []time.Time{nextWeek}))
	_, err = f.svc.Appointments.Create(f.ctx, managerActor, f.bookingInput(tmpl, nextWeek))
	assert.ErrorIs(t, err, apperr.ErrSlotExcluded)

	missing := int64(999)
	input = f.bookingInput(tmpl, nextWeek)
	input.SlotTemplateID = &missing
	_, err = f.svc.Appointments.Create(f.ctx, managerActor, input)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	input = f.bookingInput(tmpl, nextWeek)
	input.ContactEmail = "not-an-email"
	_, err = f.svc.Appointments.Create(f.ctx, managerActor, input)
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func TestCreate_WithoutTemplate(t *testing.T) {
	f := newFixture(t)

	input := service.CreateAppointmentInput{
		InstitutionID:   f.institution.ID,
		StaffID:         &f.staff.ID,
		AppointmentDate: nextWeek.AddDate(0, 0, 2),
		StartTime:       todPtr(model.NewTimeOfDay(15, 0)),
		EndTime:         todPtr(model.NewTimeOfDay(15, 45)),
		StudentName:     "Смирнов Олег",
	}
	a, err := f.svc.Appointments.Create(f.ctx, managerActor, input)
	require.NoError(t, err)
	assert.Nil(t, a.SlotTemplateID)
	assert.Equal(t, model.AppointmentStatusConfirmed, a.Status)

	input.EndTime = nil
	_, err = f.svc.Appointments.Create(f.ctx, managerActor, input)
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	input.EndTime = todPtr(model.NewTimeOfDay(14, 0))
	_, err = f.svc.Appointments.Create(f.ctx, managerActor, input)
	assert.ErrorIs(t, err, apperr.ErrInvalidTimeWindow)
}

func TestCreate_Authorization(t *testing.T) {
	f := newFixture(t)
	tmpl := f.template(t, model.NewTimeOfDay(10, 0), 3)

	// Зритель записывается только от своего имени
	other := int64(555)
	input := f.bookingInput(tmpl, nextWeek)
	input.RequesterID = &other
	a, err := f.svc.Appointments.Create(f.ctx, viewerActor, input)
	require.NoError(t, err)
	require.NotNil(t, a.RequesterID)
	assert.Equal(t, viewerActor.ID, *a.RequesterID)

	// Менеджер может записать другого
	a, err = f.svc.Appointments.Create(f.ctx, managerActor, input)
	require.NoError(t, err)
	assert.Equal(t, other, *a.RequesterID)

	_, err = f.svc.Appointments.Create(f.ctx, strangerActor, input)
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)

	_, err = f.svc.Appointments.Confirm(f.ctx, viewerActor, a.ID)
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)

	_, err = f.svc.Appointments.Get(f.ctx, strangerActor, a.ID)
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
}

func TestCreate_FailingGateDenies(t *testing.T) {
	f := newFixture(t)
	tmpl := f.template(t, model.NewTimeOfDay(10, 0), 3)

	cause := errors.New("policy backend unavailable")
	svc := service.New(f.store.Repository(), failingGate{err: cause}, nil, service.Options{
		Now: func() time.Time { return fixedNow },
	}, zap.NewNop())

	_, err := svc.Appointments.Create(f.ctx, managerActor, f.bookingInput(tmpl, nextWeek))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
	assert.ErrorIs(t, err, cause)

	_, err = svc.Templates.Create(f.ctx, managerActor, f.templateInput(model.NewTimeOfDay(12, 0), 1))
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)

	_, err = svc.Availability.GetAvailability(f.ctx, managerActor, service.AvailabilityQuery{
		InstitutionID: f.institution.ID, From: today, To: nextWeek,
	})
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
}

func TestGetByReference(t *testing.T) {
	f := newFixture(t)
	tmpl := f.template(t, model.NewTimeOfDay(10, 0), 1)
	a := f.book(t, tmpl, nextWeek)

	got, err := f.svc.Appointments.GetByReference(f.ctx, managerActor, " "+strings.ToLower(a.ReferenceNumber))
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)

	_, err = f.svc.Appointments.GetByReference(f.ctx, managerActor, "APT-000000-0000000000")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestCancel_Window(t *testing.T) {
	f := newFixture(t)
	tmpl := f.template(t, model.NewTimeOfDay(10, 0), 1)

	// До начала 2 часа при окне отмены 4 часа
	soon := f.book(t, tmpl, today)
	_, err := f.svc.Appointments.Cancel(f.ctx, managerActor, soon.ID, "заболел")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrCancellationWindowViolated)

	got, err := f.svc.Appointments.Get(f.ctx, managerActor, soon.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AppointmentStatusConfirmed, got.Status)

	// Системный аккаунт окно не проверяет
	cancelled, err := f.svc.Appointments.Cancel(f.ctx, systemActor, soon.ID, "учреждение закрыто")
	require.NoError(t, err)
	assert.Equal(t, model.AppointmentStatusCancelled, cancelled.Status)
	assert.Equal(t, "учреждение закрыто", cancelled.CancellationReason)

	_, err = f.svc.Appointments.Cancel(f.ctx, systemActor, soon.ID, "")
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)
}

func TestCancel_WithoutTemplateIgnoresWindow(t *testing.T) {
	f := newFixture(t)

	// Сегодня в 10:00, до начала 2 часа
	a, err := f.svc.Appointments.Create(f.ctx, managerActor, service.CreateAppointmentInput{
		InstitutionID:   f.institution.ID,
		AppointmentDate: today,
		StartTime:       todPtr(model.NewTimeOfDay(10, 0)),
		EndTime:         todPtr(model.NewTimeOfDay(10, 30)),
		StudentName:     "Смирнов Олег",
	})
	require.NoError(t, err)
	require.Nil(t, a.SlotTemplateID)

	cancelled, err := f.svc.Appointments.Cancel(f.ctx, managerActor, a.ID, "переезд")
	require.NoError(t, err)
	assert.Equal(t, model.AppointmentStatusCancelled, cancelled.Status)

	_, err = f.svc.Appointments.Cancel(f.ctx, managerActor, a.ID, "")
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)
}

func TestCancel_ReleasesSeat(t *testing.T) {
	f := newFixture(t)
	tmpl := f.template(t, model.NewTimeOfDay(10, 0), 1)

	a := f.book(t, tmpl, nextWeek)
	_, err := f.svc.Appointments.Create(f.ctx, managerActor, f.bookingInput(tmpl, nextWeek))
	require.ErrorIs(t, err, apperr.ErrCapacityExceeded)

	// Автор записи может её отменить
	own, err := f.svc.Appointments.Create(f.ctx, viewerActor, f.bookingInput(tmpl, nextWeek.AddDate(0, 0, 7)))
	require.NoError(t, err)
	_, err = f.svc.Appointments.Cancel(f.ctx, viewerActor, own.ID, "")
	require.NoError(t, err)

	_, err = f.svc.Appointments.Cancel(f.ctx, managerActor, a.ID, "")
	require.NoError(t, err)
	f.book(t, tmpl, nextWeek)

	_, err = f.svc.Appointments.Cancel(f.ctx, managerActor, a.ID, strings.Repeat("x", 501))
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func TestUpdateStatus(t *testing.T) {
	f := newFixture(t)
	tmpl := f.template(t, model.NewTimeOfDay(10, 0), 1)
	a := f.book(t, tmpl, nextWeek)

	_, err := f.svc.Appointments.UpdateStatus(f.ctx, managerActor, a.ID, model.AppointmentStatusCompleted, "")
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)

	_, err = f.svc.Appointments.UpdateStatus(f.ctx, managerActor, a.ID, model.AppointmentStatusRescheduled, "")
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)

	_, err = f.svc.Appointments.UpdateStatus(f.ctx, managerActor, a.ID, "DONE", "")
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	got, err := f.svc.Appointments.UpdateStatus(f.ctx, managerActor, a.ID, model.AppointmentStatusInProgress, "")
	require.NoError(t, err)
	assert.Equal(t, model.AppointmentStatusInProgress, got.Status)

	got, err = f.svc.Appointments.UpdateStatus(f.ctx, managerActor, a.ID, model.AppointmentStatusCompleted, "")
	require.NoError(t, err)
	assert.Equal(t, model.AppointmentStatusCompleted, got.Status)

	// Завершённая запись продолжает занимать место
	_, err = f.svc.Appointments.Create(f.ctx, managerActor, f.bookingInput(tmpl, nextWeek))
	assert.ErrorIs(t, err, apperr.ErrCapacityExceeded)

	_, err = f.svc.Appointments.UpdateStatus(f.ctx, viewerActor, a.ID, model.AppointmentStatusCancelled, "")
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
}

func TestReschedule_LimitAndChain(t *testing.T) {
	f := newFixture(t)
	tmpl := f.template(t, model.NewTimeOfDay(10, 0), 1)
	original := f.book(t, tmpl, nextWeek)

	current := original
	for i := 1; i <= model.MaxRescheduleCount; i++ {
		res, err := f.svc.Appointments.Reschedule(f.ctx, managerActor, current.ID, service.RescheduleInput{
			NewDate: nextWeek.AddDate(0, 0, 7*i),
		})
		require.NoError(t, err)

		assert.Equal(t, model.AppointmentStatusRescheduled, res.Original.Status)
		require.NotNil(t, res.Original.RescheduledToID)
		assert.Equal(t, res.Rescheduled.ID, *res.Original.RescheduledToID)
		require.NotNil(t, res.Rescheduled.RescheduledFromID)
		assert.Equal(t, current.ID, *res.Rescheduled.RescheduledFromID)
		assert.Equal(t, i, res.Rescheduled.RescheduleCount)
		assert.NotEqual(t, current.ReferenceNumber, res.Rescheduled.ReferenceNumber)
		assert.Equal(t, original.StudentName, res.Rescheduled.StudentName)
		assert.Equal(t, original.Purpose, res.Rescheduled.Purpose)

		current = res.Rescheduled
	}

	_, err := f.svc.Appointments.Reschedule(f.ctx, managerActor, current.ID, service.RescheduleInput{NewDate: nextWeek})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrRescheduleLimitExceeded)

	got, err := f.svc.Appointments.Get(f.ctx, managerActor, current.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MaxRescheduleCount, got.RescheduleCount)
	assert.Equal(t, model.AppointmentStatusConfirmed, got.Status)

	chain, err := f.svc.Appointments.RescheduleChain(f.ctx, managerActor, original.ID)
	require.NoError(t, err)
	require.Len(t, chain, model.MaxRescheduleCount+1)
	assert.Equal(t, original.ID, chain[0].ID)
	assert.Equal(t, current.ID, chain[len(chain)-1].ID)

	chain, err = f.svc.Appointments.RescheduleChain(f.ctx, managerActor, current.ID)
	require.NoError(t, err)
	assert.Len(t, chain, model.MaxRescheduleCount+1)

	// Исходная дата снова свободна
	f.book(t, tmpl, nextWeek)
}

func TestReschedule_FullTargetKeepsOriginal(t *testing.T) {
	f := newFixture(t)
	morning := f.template(t, model.NewTimeOfDay(10, 0), 1)
	noon := f.template(t, model.NewTimeOfDay(12, 0), 1)

	a := f.book(t, morning, nextWeek)
	f.book(t, noon, nextWeek)

	noonID := noon.ID
	_, err := f.svc.Appointments.Reschedule(f.ctx, managerActor, a.ID, service.RescheduleInput{
		NewDate:        nextWeek,
		SlotTemplateID: &noonID,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrCapacityExceeded)

	got, err := f.svc.Appointments.Get(f.ctx, managerActor, a.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AppointmentStatusConfirmed, got.Status)
	assert.Nil(t, got.RescheduledToID)
	assert.Zero(t, got.RescheduleCount)

	// Место исходной записи осталось занятым
	_, err = f.svc.Appointments.Create(f.ctx, managerActor, f.bookingInput(morning, nextWeek))
	assert.ErrorIs(t, err, apperr.ErrCapacityExceeded)

	list, err := f.svc.Appointments.ListByInstitution(f.ctx, managerActor, f.institution.ID, nextWeek, nextWeek)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestReschedule_Window(t *testing.T) {
	f := newFixture(t)
	tmpl := f.template(t, model.NewTimeOfDay(10, 0), 1)
	soon := f.book(t, tmpl, today)

	_, err := f.svc.Appointments.Reschedule(f.ctx, managerActor, soon.ID, service.RescheduleInput{NewDate: nextWeek})
	assert.ErrorIs(t, err, apperr.ErrCancellationWindowViolated)

	res, err := f.svc.Appointments.Reschedule(f.ctx, systemActor, soon.ID, service.RescheduleInput{NewDate: nextWeek})
	require.NoError(t, err)
	assert.Equal(t, nextWeek, res.Rescheduled.AppointmentDate)
}

func TestReschedule_WithoutTemplateIgnoresWindow(t *testing.T) {
	f := newFixture(t)

	a, err := f.svc.Appointments.Create(f.ctx, managerActor, service.CreateAppointmentInput{
		InstitutionID:   f.institution.ID,
		AppointmentDate: today,
		StartTime:       todPtr(model.NewTimeOfDay(10, 0)),
		EndTime:         todPtr(model.NewTimeOfDay(10, 30)),
		StudentName:     "Смирнов Олег",
	})
	require.NoError(t, err)

	res, err := f.svc.Appointments.Reschedule(f.ctx, managerActor, a.ID, service.RescheduleInput{NewDate: nextWeek})
	require.NoError(t, err)
	assert.Equal(t, model.AppointmentStatusRescheduled, res.Original.Status)
	assert.Equal(t, nextWeek, res.Rescheduled.AppointmentDate)
	assert.Equal(t, model.NewTimeOfDay(10, 0), res.Rescheduled.StartTime)
	assert.Nil(t, res.Rescheduled.SlotTemplateID)
}

func TestNotifications(t *testing.T) {
	f := newFixture(t)
	tmpl := f.template(t, model.NewTimeOfDay(10, 0), 2)

	a := f.book(t, tmpl, nextWeek)
	res, err := f.svc.Appointments.Reschedule(f.ctx, managerActor, a.ID, service.RescheduleInput{NewDate: nextWeek.AddDate(0, 0, 7)})
	require.NoError(t, err)
	_, err = f.svc.Appointments.Cancel(f.ctx, managerActor, res.Rescheduled.ID, "")
	require.NoError(t, err)

	// Отклонённая операция уведомлений не отправляет
	_, err = f.svc.Appointments.Cancel(f.ctx, managerActor, res.Rescheduled.ID, "")
	require.Error(t, err)

	assert.Equal(t, []model.NotificationEvent{
		model.EventAppointmentCreated,
		model.EventAppointmentRescheduled,
		model.EventAppointmentCancelled,
	}, f.events.kinds())
}
