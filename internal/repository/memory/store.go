// Package memory реализует репозитории в памяти процесса.
// Транзакция берёт эксклюзивную блокировку хранилища и при ошибке
// восстанавливает снимок данных, сделанный до её начала.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/Freeeeeet/appointment_scheduler/internal/model"
	"github.com/Freeeeeet/appointment_scheduler/internal/repository"
)

type seatKey struct {
	templateID int64
	date       string
	start      model.TimeOfDay
}

type grantKey struct {
	accountID     int64
	institutionID int64
}

type data struct {
	nextID       int64
	templates    map[int64]model.SlotTemplate
	exclusions   map[int64]map[string]time.Time
	appointments map[int64]model.Appointment
	references   map[string]int64
	occupancy    map[seatKey]int
	institutions map[int64]model.Institution
	staff        map[int64]model.Staff
	grants       map[grantKey]model.AccessGrant
}

func newData() *data {
	return &data{
		templates:    make(map[int64]model.SlotTemplate),
		exclusions:   make(map[int64]map[string]time.Time),
		appointments: make(map[int64]model.Appointment),
		references:   make(map[string]int64),
		occupancy:    make(map[seatKey]int),
		institutions: make(map[int64]model.Institution),
		staff:        make(map[int64]model.Staff),
		grants:       make(map[grantKey]model.AccessGrant),
	}
}

func (d *data) clone() *data {
	c := newData()
	c.nextID = d.nextID
	for k, v := range d.templates {
		c.templates[k] = v
	}
	for k, v := range d.exclusions {
		dates := make(map[string]time.Time, len(v))
		for dk, dv := range v {
			dates[dk] = dv
		}
		c.exclusions[k] = dates
	}
	for k, v := range d.appointments {
		c.appointments[k] = v
	}
	for k, v := range d.references {
		c.references[k] = v
	}
	for k, v := range d.occupancy {
		c.occupancy[k] = v
	}
	for k, v := range d.institutions {
		c.institutions[k] = v
	}
	for k, v := range d.staff {
		c.staff[k] = v
	}
	for k, v := range d.grants {
		c.grants[k] = v
	}
	return c
}

func (d *data) id() int64 {
	d.nextID++
	return d.nextID
}

type txKey struct{}

// Store хранилище в памяти, реализующее все репозитории
type Store struct {
	mu   sync.RWMutex
	data *data
	now  func() time.Time

	Templates    *TemplateRepository
	Appointments *AppointmentRepository
	Directory    *DirectoryRepository
	Grants       *GrantRepository
}

// NewStore создаёт пустое хранилище
func NewStore() *Store {
	s := &Store{data: newData(), now: time.Now}
	s.Templates = &TemplateRepository{s: s}
	s.Appointments = &AppointmentRepository{s: s}
	s.Directory = &DirectoryRepository{s: s}
	s.Grants = &GrantRepository{s: s}
	return s
}

// Repository возвращает набор репозиториев для сервисов
func (s *Store) Repository() *repository.Repository {
	return &repository.Repository{
		Tx:           s,
		Templates:    s.Templates,
		Appointments: s.Appointments,
		Directory:    s.Directory,
		Grants:       s.Grants,
	}
}

func (s *Store) inTx(ctx context.Context) bool {
	owner, ok := ctx.Value(txKey{}).(*Store)
	return ok && owner == s
}

// WithinTx выполняет fn атомарно относительно остальных операций хранилища
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.inTx(ctx) {
		return fn(ctx)
	}

	s.mu.Lock()
	snapshot := s.data.clone()
	committed := false
	defer func() {
		if !committed {
			s.data = snapshot
		}
		s.mu.Unlock()
	}()

	if err := fn(context.WithValue(ctx, txKey{}, s)); err != nil {
		return err
	}

	committed = true
	return nil
}

func (s *Store) read(ctx context.Context, fn func(d *data)) {
	if s.inTx(ctx) {
		fn(s.data)
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s.data)
}

func (s *Store) write(ctx context.Context, fn func(d *data) error) error {
	if s.inTx(ctx) {
		return fn(s.data)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.data)
}

// AddInstitution добавляет учреждение в справочник
func (s *Store) AddInstitution(name string) *model.Institution {
	var institution model.Institution
	s.write(context.Background(), func(d *data) error {
		institution = model.Institution{ID: d.id(), Name: name, IsActive: true, CreatedAt: s.now()}
		d.institutions[institution.ID] = institution
		return nil
	})
	return &institution
}

// AddStaff добавляет сотрудника учреждения
func (s *Store) AddStaff(institutionID int64, fullName string) *model.Staff {
	var staff model.Staff
	s.write(context.Background(), func(d *data) error {
		staff = model.Staff{ID: d.id(), InstitutionID: institutionID, FullName: fullName, IsActive: true, CreatedAt: s.now()}
		d.staff[staff.ID] = staff
		return nil
	})
	return &staff
}

var _ repository.TxManager = (*Store)(nil)
