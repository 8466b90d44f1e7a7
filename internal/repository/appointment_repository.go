package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/Freeeeeet/appointment_scheduler/internal/model"
	"github.com/Freeeeeet/appointment_scheduler/internal/repository/base"
	"github.com/jackc/pgx/v5"
)

const appointmentColumns = `
	id, reference_number, institution_id, slot_template_id, staff_id, requester_id,
	appointment_date, start_minute, end_minute, status,
	student_name, parent_name, contact_email, contact_phone, purpose, notes,
	rescheduled_from_id, rescheduled_to_id, reschedule_count,
	created_by, created_at, updated_at, confirmed_by, confirmed_at, cancelled_by, cancelled_at, cancellation_reason`

// Статусы, которые не занимают место в слоте
const nonCountingStatuses = `('CANCELLED', 'RESCHEDULED')`

type AppointmentRepository struct {
	db *base.Repository
}

func NewAppointmentRepository(db *base.Repository) *AppointmentRepository {
	return &AppointmentRepository{db: db}
}

func scanAppointment(row pgx.Row) (*model.Appointment, error) {
	var a model.Appointment
	err := row.Scan(
		&a.ID,
		&a.ReferenceNumber,
		&a.InstitutionID,
		&a.SlotTemplateID,
		&a.StaffID,
		&a.RequesterID,
		&a.AppointmentDate,
		&a.StartTime,
		&a.EndTime,
		&a.Status,
		&a.StudentName,
		&a.ParentName,
		&a.ContactEmail,
		&a.ContactPhone,
		&a.Purpose,
		&a.Notes,
		&a.RescheduledFromID,
		&a.RescheduledToID,
		&a.RescheduleCount,
		&a.CreatedBy,
		&a.CreatedAt,
		&a.UpdatedAt,
		&a.ConfirmedBy,
		&a.ConfirmedAt,
		&a.CancelledBy,
		&a.CancelledAt,
		&a.CancellationReason,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// Create создаёт новую запись
func (r *AppointmentRepository) Create(ctx context.Context, a *model.Appointment) error {
	query := `
		INSERT INTO appointments (
			reference_number, institution_id, slot_template_id, staff_id, requester_id,
			appointment_date, start_minute, end_minute, status,
			student_name, parent_name, contact_email, contact_phone, purpose, notes,
			rescheduled_from_id, reschedule_count, created_by, confirmed_by, confirmed_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		RETURNING id, created_at, updated_at
	`

	err := r.db.Conn(ctx).QueryRow(
		ctx, query,
		a.ReferenceNumber,
		a.InstitutionID,
		a.SlotTemplateID,
		a.StaffID,
		a.RequesterID,
		a.AppointmentDate,
		int(a.StartTime),
		int(a.EndTime),
		string(a.Status),
		a.StudentName,
		a.ParentName,
		a.ContactEmail,
		a.ContactPhone,
		a.Purpose,
		a.Notes,
		a.RescheduledFromID,
		a.RescheduleCount,
		a.CreatedBy,
		a.ConfirmedBy,
		a.ConfirmedAt,
	).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)

	if err != nil {
		if base.IsUniqueViolation(err) {
			return ErrDuplicateReference
		}
		return fmt.Errorf("create appointment: %w", err)
	}

	return nil
}

// GetByID получает запись по ID
func (r *AppointmentRepository) GetByID(ctx context.Context, id int64) (*model.Appointment, error) {
	return r.getOne(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id)
}

// GetByIDForUpdate получает запись и блокирует строку до конца транзакции
func (r *AppointmentRepository) GetByIDForUpdate(ctx context.Context, id int64) (*model.Appointment, error) {
	return r.getOne(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1 FOR UPDATE`, id)
}

// GetByReference получает запись по номеру
func (r *AppointmentRepository) GetByReference(ctx context.Context, reference string) (*model.Appointment, error) {
	return r.getOne(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE reference_number = $1`, reference)
}

func (r *AppointmentRepository) getOne(ctx context.Context, query string, args ...interface{}) (*model.Appointment, error) {
	a, err := scanAppointment(r.db.Conn(ctx).QueryRow(ctx, query, args...))
	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return a, nil
}

// ListByInstitution получает записи учреждения за период
func (r *AppointmentRepository) ListByInstitution(ctx context.Context, institutionID int64, from, to time.Time) ([]*model.Appointment, error) {
	query := `
		SELECT ` + appointmentColumns + `
		FROM appointments
		WHERE institution_id = $1 AND appointment_date BETWEEN $2 AND $3
		ORDER BY appointment_date, start_minute, id
	`

	rows, err := r.db.Conn(ctx).Query(ctx, query, institutionID, from, to)
	if err != nil {
		return nil, fmt.Errorf("get appointments by institution: %w", err)
	}
	defer rows.Close()

	var appointments []*model.Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan appointment: %w", err)
		}
		appointments = append(appointments, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate appointments: %w", err)
	}

	return appointments, nil
}

// Update сохраняет статус, аудит и ссылки цепочки переносов
func (r *AppointmentRepository) Update(ctx context.Context, a *model.Appointment) error {
	query := `
		UPDATE appointments
		SET status = $2, rescheduled_to_id = $3, confirmed_by = $4, confirmed_at = $5,
		    cancelled_by = $6, cancelled_at = $7, cancellation_reason = $8, notes = $9, updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`

	err := r.db.Conn(ctx).QueryRow(
		ctx, query,
		a.ID,
		string(a.Status),
		a.RescheduledToID,
		a.ConfirmedBy,
		a.ConfirmedAt,
		a.CancelledBy,
		a.CancelledAt,
		a.CancellationReason,
		a.Notes,
	).Scan(&a.UpdatedAt)

	if err != nil {
		if base.IsNotFound(err) {
			return fmt.Errorf("appointment not found")
		}
		return fmt.Errorf("update appointment: %w", err)
	}

	return nil
}

// BookedCounts считает занятые места по (дата, шаблон) за период одним запросом
func (r *AppointmentRepository) BookedCounts(ctx context.Context, institutionID int64, from, to time.Time) (model.BookedCounts, error) {
	query := `
		SELECT appointment_date, slot_template_id, COUNT(*)
		FROM appointments
		WHERE institution_id = $1
		  AND slot_template_id IS NOT NULL
		  AND appointment_date BETWEEN $2 AND $3
		  AND status NOT IN ` + nonCountingStatuses + `
		GROUP BY appointment_date, slot_template_id
	`

	rows, err := r.db.Conn(ctx).Query(ctx, query, institutionID, from, to)
	if err != nil {
		return nil, fmt.Errorf("get booked counts: %w", err)
	}
	defer rows.Close()

	counts := make(model.BookedCounts)
	for rows.Next() {
		var date time.Time
		var templateID int64
		var n int
		if err := rows.Scan(&date, &templateID, &n); err != nil {
			return nil, fmt.Errorf("scan booked count: %w", err)
		}
		counts.Add(date, templateID, n)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate booked counts: %w", err)
	}

	return counts, nil
}

// CountActiveFrom считает незавершённые записи шаблона начиная с даты
func (r *AppointmentRepository) CountActiveFrom(ctx context.Context, templateID int64, from time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM appointments
		WHERE slot_template_id = $1
		  AND appointment_date >= $2
		  AND status IN ('PENDING', 'CONFIRMED', 'IN_PROGRESS')
	`

	var n int
	if err := r.db.Conn(ctx).QueryRow(ctx, query, templateID, from).Scan(&n); err != nil {
		return 0, fmt.Errorf("count active appointments: %w", err)
	}

	return n, nil
}

// MaxBookedFrom максимальное число занятых мест шаблона в одну дату начиная с from
func (r *AppointmentRepository) MaxBookedFrom(ctx context.Context, templateID int64, from time.Time) (int, error) {
	query := `
		SELECT COALESCE(MAX(n), 0)
		FROM (
			SELECT COUNT(*) AS n
			FROM appointments
			WHERE slot_template_id = $1
			  AND appointment_date >= $2
			  AND status NOT IN ` + nonCountingStatuses + `
			GROUP BY appointment_date, start_minute
		) per_slot
	`

	var n int
	if err := r.db.Conn(ctx).QueryRow(ctx, query, templateID, from).Scan(&n); err != nil {
		return 0, fmt.Errorf("max booked per slot: %w", err)
	}

	return n, nil
}

// ReserveSeat атомарно занимает место в слоте, вызывается внутри транзакции.
// Строка шаблона читается под FOR SHARE, поэтому изменение вместимости
// ждёт завершения резерва и видит занятые места, а резерв видит новую вместимость.
// Upsert блокирует строку счётчика, поэтому конкурентные транзакции на тот же слот
// выполняются по очереди; если мест нет, строка не обновляется и возвращается ErrNoCapacity.
func (r *AppointmentRepository) ReserveSeat(ctx context.Context, key SeatKey) error {
	var (
		capacity int
		active   bool
	)
	err := r.db.Conn(ctx).QueryRow(ctx,
		`SELECT capacity, is_active FROM slot_templates WHERE id = $1 FOR SHARE`, key.TemplateID,
	).Scan(&capacity, &active)
	if base.IsNotFound(err) {
		return ErrTemplateUnavailable
	}
	if err != nil {
		return fmt.Errorf("lock slot template: %w", err)
	}
	if !active {
		return ErrTemplateUnavailable
	}

	query := `
		INSERT INTO slot_occupancy (template_id, slot_date, start_minute, booked)
		VALUES ($1, $2, $3, 1)
		ON CONFLICT (template_id, slot_date, start_minute)
		DO UPDATE SET booked = slot_occupancy.booked + 1
		WHERE slot_occupancy.booked < $4
		RETURNING booked
	`

	var booked int
	err = r.db.Conn(ctx).QueryRow(ctx, query, key.TemplateID, key.Date, int(key.StartTime), capacity).Scan(&booked)
	if err != nil {
		if base.IsNotFound(err) {
			return ErrNoCapacity
		}
		return fmt.Errorf("reserve seat: %w", err)
	}

	return nil
}

// ReleaseSeat освобождает место в слоте
func (r *AppointmentRepository) ReleaseSeat(ctx context.Context, key SeatKey) error {
	query := `
		UPDATE slot_occupancy
		SET booked = booked - 1
		WHERE template_id = $1 AND slot_date = $2 AND start_minute = $3 AND booked > 0
	`

	_, err := r.db.Conn(ctx).Exec(ctx, query, key.TemplateID, key.Date, int(key.StartTime))
	if err != nil {
		return fmt.Errorf("release seat: %w", err)
	}

	return nil
}
