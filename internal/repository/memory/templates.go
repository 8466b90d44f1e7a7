package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/Freeeeeet/appointment_scheduler/internal/model"
	"github.com/Freeeeeet/appointment_scheduler/internal/repository"
)

type TemplateRepository struct {
	s *Store
}

var _ repository.TemplateStore = (*TemplateRepository)(nil)

func (r *TemplateRepository) Create(ctx context.Context, t *model.SlotTemplate) error {
	return r.s.write(ctx, func(d *data) error {
		now := r.s.now()
		t.ID = d.id()
		t.CreatedAt = now
		t.UpdatedAt = now
		d.templates[t.ID] = *t
		return nil
	})
}

func (r *TemplateRepository) GetByID(ctx context.Context, id int64) (*model.SlotTemplate, error) {
	var found *model.SlotTemplate
	r.s.read(ctx, func(d *data) {
		if t, ok := d.templates[id]; ok {
			found = &t
		}
	})
	return found, nil
}

// GetByIDForUpdate транзакция хранилища уже эксклюзивна
func (r *TemplateRepository) GetByIDForUpdate(ctx context.Context, id int64) (*model.SlotTemplate, error) {
	return r.GetByID(ctx, id)
}

func (r *TemplateRepository) ListByInstitution(ctx context.Context, institutionID int64, activeOnly bool) ([]*model.SlotTemplate, error) {
	var templates []*model.SlotTemplate
	r.s.read(ctx, func(d *data) {
		for _, t := range d.templates {
			if t.InstitutionID != institutionID || (activeOnly && !t.IsActive) {
				continue
			}
			t := t
			templates = append(templates, &t)
		}
	})

	sort.Slice(templates, func(i, j int) bool {
		a, b := templates[i], templates[j]
		if a.DayOfWeek != b.DayOfWeek {
			return a.DayOfWeek < b.DayOfWeek
		}
		if a.StartTime != b.StartTime {
			return a.StartTime < b.StartTime
		}
		return a.ID < b.ID
	})

	return templates, nil
}

func (r *TemplateRepository) Update(ctx context.Context, t *model.SlotTemplate) error {
	return r.s.write(ctx, func(d *data) error {
		existing, ok := d.templates[t.ID]
		if !ok {
			return fmt.Errorf("update slot template: not found")
		}
		t.InstitutionID = existing.InstitutionID
		t.CreatedBy = existing.CreatedBy
		t.CreatedAt = existing.CreatedAt
		t.UpdatedAt = r.s.now()
		d.templates[t.ID] = *t
		return nil
	})
}

func (r *TemplateRepository) Deactivate(ctx context.Context, id int64) error {
	return r.s.write(ctx, func(d *data) error {
		t, ok := d.templates[id]
		if !ok {
			return fmt.Errorf("slot template not found")
		}
		t.IsActive = false
		t.UpdatedAt = r.s.now()
		d.templates[id] = t
		return nil
	})
}

func (r *TemplateRepository) AddExclusions(ctx context.Context, templateID int64, dates []time.Time) error {
	return r.s.write(ctx, func(d *data) error {
		set, ok := d.exclusions[templateID]
		if !ok {
			set = make(map[string]time.Time)
			d.exclusions[templateID] = set
		}
		for _, date := range dates {
			set[model.DateKey(date)] = model.Date(date)
		}
		return nil
	})
}

func (r *TemplateRepository) RemoveExclusion(ctx context.Context, templateID int64, date time.Time) error {
	return r.s.write(ctx, func(d *data) error {
		delete(d.exclusions[templateID], model.DateKey(date))
		return nil
	})
}

func (r *TemplateRepository) ListExclusions(ctx context.Context, templateIDs []int64, from, to time.Time) (model.ExclusionSet, error) {
	set := make(model.ExclusionSet)
	from, to = model.Date(from), model.Date(to)
	r.s.read(ctx, func(d *data) {
		for _, id := range templateIDs {
			for _, date := range d.exclusions[id] {
				if date.Before(from) || date.After(to) {
					continue
				}
				set.Add(id, date)
			}
		}
	})
	return set, nil
}

// LockInstitution транзакция хранилища уже эксклюзивна
func (r *TemplateRepository) LockInstitution(ctx context.Context, institutionID int64) error {
	return nil
}
