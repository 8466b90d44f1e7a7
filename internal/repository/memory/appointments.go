package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/Freeeeeet/appointment_scheduler/internal/model"
	"github.com/Freeeeeet/appointment_scheduler/internal/repository"
)

type AppointmentRepository struct {
	s *Store
}

var _ repository.AppointmentStore = (*AppointmentRepository)(nil)

func (r *AppointmentRepository) Create(ctx context.Context, a *model.Appointment) error {
	return r.s.write(ctx, func(d *data) error {
		if _, taken := d.references[a.ReferenceNumber]; taken {
			return repository.ErrDuplicateReference
		}
		now := r.s.now()
		a.ID = d.id()
		a.AppointmentDate = model.Date(a.AppointmentDate)
		a.CreatedAt = now
		a.UpdatedAt = now
		d.appointments[a.ID] = *a
		d.references[a.ReferenceNumber] = a.ID
		return nil
	})
}

func (r *AppointmentRepository) GetByID(ctx context.Context, id int64) (*model.Appointment, error) {
	var found *model.Appointment
	r.s.read(ctx, func(d *data) {
		if a, ok := d.appointments[id]; ok {
			found = &a
		}
	})
	return found, nil
}

// GetByIDForUpdate внутри транзакции хранилище уже заблокировано целиком
func (r *AppointmentRepository) GetByIDForUpdate(ctx context.Context, id int64) (*model.Appointment, error) {
	return r.GetByID(ctx, id)
}

func (r *AppointmentRepository) GetByReference(ctx context.Context, reference string) (*model.Appointment, error) {
	var found *model.Appointment
	r.s.read(ctx, func(d *data) {
		if id, ok := d.references[reference]; ok {
			a := d.appointments[id]
			found = &a
		}
	})
	return found, nil
}

func (r *AppointmentRepository) ListByInstitution(ctx context.Context, institutionID int64, from, to time.Time) ([]*model.Appointment, error) {
	from, to = model.Date(from), model.Date(to)

	var appointments []*model.Appointment
	r.s.read(ctx, func(d *data) {
		for _, a := range d.appointments {
			if a.InstitutionID != institutionID || a.AppointmentDate.Before(from) || a.AppointmentDate.After(to) {
				continue
			}
			a := a
			appointments = append(appointments, &a)
		}
	})

	sort.Slice(appointments, func(i, j int) bool {
		a, b := appointments[i], appointments[j]
		if !a.AppointmentDate.Equal(b.AppointmentDate) {
			return a.AppointmentDate.Before(b.AppointmentDate)
		}
		if a.StartTime != b.StartTime {
			return a.StartTime < b.StartTime
		}
		return a.ID < b.ID
	})

	return appointments, nil
}

func (r *AppointmentRepository) Update(ctx context.Context, a *model.Appointment) error {
	return r.s.write(ctx, func(d *data) error {
		existing, ok := d.appointments[a.ID]
		if !ok {
			return fmt.Errorf("appointment not found")
		}
		existing.Status = a.Status
		existing.RescheduledToID = a.RescheduledToID
		existing.ConfirmedBy = a.ConfirmedBy
		existing.ConfirmedAt = a.ConfirmedAt
		existing.CancelledBy = a.CancelledBy
		existing.CancelledAt = a.CancelledAt
		existing.CancellationReason = a.CancellationReason
		existing.Notes = a.Notes
		existing.UpdatedAt = r.s.now()
		d.appointments[a.ID] = existing
		a.UpdatedAt = existing.UpdatedAt
		return nil
	})
}

func (r *AppointmentRepository) BookedCounts(ctx context.Context, institutionID int64, from, to time.Time) (model.BookedCounts, error) {
	from, to = model.Date(from), model.Date(to)
	counts := make(model.BookedCounts)
	r.s.read(ctx, func(d *data) {
		for _, a := range d.appointments {
			if a.InstitutionID != institutionID || a.SlotTemplateID == nil || !a.Status.CountsAgainstCapacity() {
				continue
			}
			if a.AppointmentDate.Before(from) || a.AppointmentDate.After(to) {
				continue
			}
			counts.Add(a.AppointmentDate, *a.SlotTemplateID, 1)
		}
	})
	return counts, nil
}

func (r *AppointmentRepository) CountActiveFrom(ctx context.Context, templateID int64, from time.Time) (int, error) {
	from = model.Date(from)
	n := 0
	r.s.read(ctx, func(d *data) {
		for _, a := range d.appointments {
			if a.SlotTemplateID == nil || *a.SlotTemplateID != templateID || a.AppointmentDate.Before(from) {
				continue
			}
			if a.Status.Active() {
				n++
			}
		}
	})
	return n, nil
}

func (r *AppointmentRepository) MaxBookedFrom(ctx context.Context, templateID int64, from time.Time) (int, error) {
	from = model.Date(from)
	perSlot := make(map[seatKey]int)
	r.s.read(ctx, func(d *data) {
		for _, a := range d.appointments {
			if a.SlotTemplateID == nil || *a.SlotTemplateID != templateID || a.AppointmentDate.Before(from) {
				continue
			}
			if a.Status.CountsAgainstCapacity() {
				perSlot[seatKey{templateID: templateID, date: model.DateKey(a.AppointmentDate), start: a.StartTime}]++
			}
		}
	})

	highest := 0
	for _, n := range perSlot {
		if n > highest {
			highest = n
		}
	}
	return highest, nil
}

// ReserveSeat вместимость шаблона, проверка и увеличение счётчика читаются под одной блокировкой
func (r *AppointmentRepository) ReserveSeat(ctx context.Context, key repository.SeatKey) error {
	return r.s.write(ctx, func(d *data) error {
		t, ok := d.templates[key.TemplateID]
		if !ok || !t.IsActive {
			return repository.ErrTemplateUnavailable
		}
		k := seatKey{templateID: key.TemplateID, date: model.DateKey(key.Date), start: key.StartTime}
		if d.occupancy[k] >= t.Capacity {
			return repository.ErrNoCapacity
		}
		d.occupancy[k]++
		return nil
	})
}

func (r *AppointmentRepository) ReleaseSeat(ctx context.Context, key repository.SeatKey) error {
	return r.s.write(ctx, func(d *data) error {
		k := seatKey{templateID: key.TemplateID, date: model.DateKey(key.Date), start: key.StartTime}
		if d.occupancy[k] > 0 {
			d.occupancy[k]--
		}
		return nil
	})
}
