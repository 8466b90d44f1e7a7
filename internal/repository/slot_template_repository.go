package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/Freeeeeet/appointment_scheduler/internal/model"
	"github.com/Freeeeeet/appointment_scheduler/internal/repository/base"
	"github.com/jackc/pgx/v5"
)

const slotTemplateColumns = `
	id, institution_id, staff_id, day_of_week, start_minute, end_minute, duration_minutes, capacity,
	valid_from, valid_until, advance_booking_hours, max_advance_booking_days, cancellation_hours,
	requires_approval, is_active, created_by, created_at, updated_at`

// SlotTemplateRepository управляет шаблонами слотов в базе данных
type SlotTemplateRepository struct {
	db *base.Repository
}

// NewSlotTemplateRepository создаёт новый репозиторий
func NewSlotTemplateRepository(db *base.Repository) *SlotTemplateRepository {
	return &SlotTemplateRepository{db: db}
}

func scanSlotTemplate(row pgx.Row) (*model.SlotTemplate, error) {
	t := &model.SlotTemplate{}
	err := row.Scan(
		&t.ID,
		&t.InstitutionID,
		&t.StaffID,
		&t.DayOfWeek,
		&t.StartTime,
		&t.EndTime,
		&t.DurationMinutes,
		&t.Capacity,
		&t.ValidFrom,
		&t.ValidUntil,
		&t.AdvanceBookingHours,
		&t.MaxAdvanceBookingDays,
		&t.CancellationHours,
		&t.RequiresApproval,
		&t.IsActive,
		&t.CreatedBy,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// Create создаёт новый шаблон слота
func (r *SlotTemplateRepository) Create(ctx context.Context, t *model.SlotTemplate) error {
	query := `
		INSERT INTO slot_templates (
			institution_id, staff_id, day_of_week, start_minute, end_minute, duration_minutes, capacity,
			valid_from, valid_until, advance_booking_hours, max_advance_booking_days, cancellation_hours,
			requires_approval, is_active, created_by
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id, created_at, updated_at
	`

	err := r.db.Conn(ctx).QueryRow(
		ctx,
		query,
		t.InstitutionID,
		t.StaffID,
		int(t.DayOfWeek),
		int(t.StartTime),
		int(t.EndTime),
		t.DurationMinutes,
		t.Capacity,
		t.ValidFrom,
		t.ValidUntil,
		t.AdvanceBookingHours,
		t.MaxAdvanceBookingDays,
		t.CancellationHours,
		t.RequiresApproval,
		t.IsActive,
		t.CreatedBy,
	).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)

	if err != nil {
		return fmt.Errorf("create slot template: %w", err)
	}

	return nil
}

// GetByID получает шаблон по ID
func (r *SlotTemplateRepository) GetByID(ctx context.Context, id int64) (*model.SlotTemplate, error) {
	query := `SELECT ` + slotTemplateColumns + ` FROM slot_templates WHERE id = $1`

	t, err := scanSlotTemplate(r.db.Conn(ctx).QueryRow(ctx, query, id))
	if base.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get slot template by id: %w", err)
	}

	return t, nil
}

// GetByIDForUpdate получает шаблон и блокирует строку до конца транзакции
func (r *SlotTemplateRepository) GetByIDForUpdate(ctx context.Context, id int64) (*model.SlotTemplate, error) {
	query := `SELECT ` + slotTemplateColumns + ` FROM slot_templates WHERE id = $1 FOR UPDATE`

	t, err := scanSlotTemplate(r.db.Conn(ctx).QueryRow(ctx, query, id))
	if base.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lock slot template: %w", err)
	}

	return t, nil
}

// ListByInstitution получает шаблоны учреждения
func (r *SlotTemplateRepository) ListByInstitution(ctx context.Context, institutionID int64, activeOnly bool) ([]*model.SlotTemplate, error) {
	query := `
		SELECT ` + slotTemplateColumns + `
		FROM slot_templates
		WHERE institution_id = $1 AND (is_active OR NOT $2)
		ORDER BY day_of_week, start_minute, id
	`

	rows, err := r.db.Conn(ctx).Query(ctx, query, institutionID, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("get slot templates by institution: %w", err)
	}
	defer rows.Close()

	var templates []*model.SlotTemplate
	for rows.Next() {
		t, err := scanSlotTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan slot template: %w", err)
		}
		templates = append(templates, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate slot templates: %w", err)
	}

	return templates, nil
}

// Update обновляет шаблон
func (r *SlotTemplateRepository) Update(ctx context.Context, t *model.SlotTemplate) error {
	query := `
		UPDATE slot_templates
		SET staff_id = $2, day_of_week = $3, start_minute = $4, end_minute = $5, duration_minutes = $6,
		    capacity = $7, valid_from = $8, valid_until = $9, advance_booking_hours = $10,
		    max_advance_booking_days = $11, cancellation_hours = $12, requires_approval = $13,
		    is_active = $14, updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`

	err := r.db.Conn(ctx).QueryRow(
		ctx,
		query,
		t.ID,
		t.StaffID,
		int(t.DayOfWeek),
		int(t.StartTime),
		int(t.EndTime),
		t.DurationMinutes,
		t.Capacity,
		t.ValidFrom,
		t.ValidUntil,
		t.AdvanceBookingHours,
		t.MaxAdvanceBookingDays,
		t.CancellationHours,
		t.RequiresApproval,
		t.IsActive,
	).Scan(&t.UpdatedAt)

	if err != nil {
		return fmt.Errorf("update slot template: %w", err)
	}

	return nil
}

// Deactivate деактивирует шаблон
func (r *SlotTemplateRepository) Deactivate(ctx context.Context, id int64) error {
	query := `UPDATE slot_templates SET is_active = false, updated_at = now() WHERE id = $1`

	affected, err := r.db.ExecAffected(ctx, query, id)
	if err != nil {
		return fmt.Errorf("deactivate slot template: %w", err)
	}

	if affected == 0 {
		return fmt.Errorf("slot template not found")
	}

	return nil
}

// AddExclusions добавляет исключённые даты
func (r *SlotTemplateRepository) AddExclusions(ctx context.Context, templateID int64, dates []time.Time) error {
	query := `
		INSERT INTO slot_template_exclusions (template_id, excluded_date)
		SELECT $1, d FROM unnest($2::date[]) AS d
		ON CONFLICT (template_id, excluded_date) DO NOTHING
	`

	_, err := r.db.Conn(ctx).Exec(ctx, query, templateID, dates)
	if err != nil {
		return fmt.Errorf("add slot template exclusions: %w", err)
	}

	return nil
}

// RemoveExclusion удаляет исключённую дату
func (r *SlotTemplateRepository) RemoveExclusion(ctx context.Context, templateID int64, date time.Time) error {
	query := `DELETE FROM slot_template_exclusions WHERE template_id = $1 AND excluded_date = $2`

	_, err := r.db.Conn(ctx).Exec(ctx, query, templateID, date)
	if err != nil {
		return fmt.Errorf("remove slot template exclusion: %w", err)
	}

	return nil
}

// ListExclusions загружает исключения для набора шаблонов за период одним запросом
func (r *SlotTemplateRepository) ListExclusions(ctx context.Context, templateIDs []int64, from, to time.Time) (model.ExclusionSet, error) {
	set := make(model.ExclusionSet)
	if len(templateIDs) == 0 {
		return set, nil
	}

	query := `
		SELECT template_id, excluded_date
		FROM slot_template_exclusions
		WHERE template_id = ANY($1) AND excluded_date BETWEEN $2 AND $3
	`

	rows, err := r.db.Conn(ctx).Query(ctx, query, templateIDs, from, to)
	if err != nil {
		return nil, fmt.Errorf("get slot template exclusions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var templateID int64
		var date time.Time
		if err := rows.Scan(&templateID, &date); err != nil {
			return nil, fmt.Errorf("scan slot template exclusion: %w", err)
		}
		set.Add(templateID, date)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate slot template exclusions: %w", err)
	}

	return set, nil
}

// LockInstitution берёт advisory-блокировку на учреждение до конца транзакции
func (r *SlotTemplateRepository) LockInstitution(ctx context.Context, institutionID int64) error {
	if _, err := r.db.Conn(ctx).Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, institutionID); err != nil {
		return fmt.Errorf("lock institution %d: %w", institutionID, err)
	}
	return nil
}
