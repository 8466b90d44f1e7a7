package repository_test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/Freeeeeet/appointment_scheduler/internal/app"
	"github.com/Freeeeeet/appointment_scheduler/internal/model"
	"github.com/Freeeeeet/appointment_scheduler/internal/repository"
	"github.com/Freeeeeet/appointment_scheduler/internal/repository/base"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// Тесты на PostgreSQL запускаются только при заданном TEST_DB_DSN
func newPostgres(t *testing.T) (*base.Repository, int64) {
	t.Helper()

	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		t.Skip("TEST_DB_DSN is not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	migrator, err := app.NewMigrator(pool, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, migrator.Run(ctx))
	t.Cleanup(func() { _ = migrator.Close() })

	var institutionID int64
	err = pool.QueryRow(ctx, `INSERT INTO institutions (name) VALUES ($1) RETURNING id`, t.Name()).Scan(&institutionID)
	require.NoError(t, err)

	return base.NewRepository(pool), institutionID
}

func createTemplate(t *testing.T, templates *repository.SlotTemplateRepository, institutionID int64, capacity int) *model.SlotTemplate {
	t.Helper()
	tmpl := &model.SlotTemplate{
		InstitutionID:         institutionID,
		DayOfWeek:             time.Monday,
		StartTime:             model.NewTimeOfDay(10, 0),
		EndTime:               model.NewTimeOfDay(10, 30),
		DurationMinutes:       30,
		Capacity:              capacity,
		MaxAdvanceBookingDays: 30,
		CancellationHours:     model.DefaultCancellationHours,
		IsActive:              true,
		CreatedBy:             1,
	}
	require.NoError(t, templates.Create(context.Background(), tmpl))
	return tmpl
}

func seatOf(tmpl *model.SlotTemplate) repository.SeatKey {
	return repository.SeatKey{
		TemplateID: tmpl.ID,
		Date:       time.Date(2030, 3, 4, 0, 0, 0, 0, time.UTC),
		StartTime:  tmpl.StartTime,
	}
}

func reserveInTx(ctx context.Context, db *base.Repository, appointments *repository.AppointmentRepository, key repository.SeatKey) error {
	return db.WithinTx(ctx, func(ctx context.Context) error {
		return appointments.ReserveSeat(ctx, key)
	})
}

func TestReserveSeat_FollowsTemplateCapacity(t *testing.T) {
	db, institutionID := newPostgres(t)
	ctx := context.Background()
	templates := repository.NewSlotTemplateRepository(db)
	appointments := repository.NewAppointmentRepository(db)

	tmpl := createTemplate(t, templates, institutionID, 2)
	key := seatOf(tmpl)

	require.NoError(t, reserveInTx(ctx, db, appointments, key))
	require.NoError(t, reserveInTx(ctx, db, appointments, key))
	assert.ErrorIs(t, reserveInTx(ctx, db, appointments, key), repository.ErrNoCapacity)

	tmpl.Capacity = 3
	require.NoError(t, templates.Update(ctx, tmpl))
	require.NoError(t, reserveInTx(ctx, db, appointments, key))

	require.NoError(t, appointments.ReleaseSeat(ctx, key))
	var booked int
	err := db.Pool().QueryRow(ctx,
		`SELECT booked FROM slot_occupancy WHERE template_id = $1 AND slot_date = $2 AND start_minute = $3`,
		key.TemplateID, key.Date, int(key.StartTime)).Scan(&booked)
	require.NoError(t, err)
	assert.Equal(t, 2, booked)

	require.NoError(t, templates.Deactivate(ctx, tmpl.ID))
	assert.ErrorIs(t, reserveInTx(ctx, db, appointments, key), repository.ErrTemplateUnavailable)
}

func TestReserveSeat_ConcurrentLastSeats(t *testing.T) {
	db, institutionID := newPostgres(t)
	ctx := context.Background()
	templates := repository.NewSlotTemplateRepository(db)
	appointments := repository.NewAppointmentRepository(db)

	key := seatOf(createTemplate(t, templates, institutionID, 3))

	const workers = 10
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		reserved int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := reserveInTx(ctx, db, appointments, key); err == nil {
				mu.Lock()
				reserved++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, reserved)
}

func TestReserveSeat_BlocksTemplateLock(t *testing.T) {
	db, institutionID := newPostgres(t)
	ctx := context.Background()
	templates := repository.NewSlotTemplateRepository(db)
	appointments := repository.NewAppointmentRepository(db)

	tmpl := createTemplate(t, templates, institutionID, 2)

	err := db.WithinTx(ctx, func(txCtx context.Context) error {
		require.NoError(t, appointments.ReserveSeat(txCtx, seatOf(tmpl)))

		// Пока резерв не завершён, изменить шаблон нельзя
		lockErr := db.WithinTx(ctx, func(other context.Context) error {
			if _, err := db.Conn(other).Exec(other, `SET LOCAL lock_timeout = '100ms'`); err != nil {
				return err
			}
			_, err := templates.GetByIDForUpdate(other, tmpl.ID)
			return err
		})
		assert.Error(t, lockErr)
		return nil
	})
	require.NoError(t, err)

	locked, err := templates.GetByIDForUpdate(ctx, tmpl.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, locked.Capacity)
}
