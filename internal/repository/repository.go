package repository

import (
	"context"
	"errors"
	"time"

	"github.com/Freeeeeet/appointment_scheduler/internal/model"
	"github.com/Freeeeeet/appointment_scheduler/internal/repository/base"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNoCapacity в слоте не осталось мест
	ErrNoCapacity = errors.New("no remaining capacity")
	// ErrDuplicateReference номер записи уже занят
	ErrDuplicateReference = errors.New("duplicate reference number")
	// ErrTemplateUnavailable шаблон удалён или выключен к моменту резервирования
	ErrTemplateUnavailable = errors.New("slot template is unavailable")
)

// TxManager выполняет функцию атомарно
type TxManager interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// SeatKey экземпляр слота, на который считаются места
type SeatKey struct {
	TemplateID int64
	Date       time.Time
	StartTime  model.TimeOfDay
}

// TemplateStore хранилище шаблонов слотов и исключённых дат
type TemplateStore interface {
	Create(ctx context.Context, template *model.SlotTemplate) error
	GetByID(ctx context.Context, id int64) (*model.SlotTemplate, error)
	// GetByIDForUpdate блокирует строку шаблона до конца транзакции
	GetByIDForUpdate(ctx context.Context, id int64) (*model.SlotTemplate, error)
	ListByInstitution(ctx context.Context, institutionID int64, activeOnly bool) ([]*model.SlotTemplate, error)
	Update(ctx context.Context, template *model.SlotTemplate) error
	Deactivate(ctx context.Context, id int64) error
	AddExclusions(ctx context.Context, templateID int64, dates []time.Time) error
	RemoveExclusion(ctx context.Context, templateID int64, date time.Time) error
	ListExclusions(ctx context.Context, templateIDs []int64, from, to time.Time) (model.ExclusionSet, error)
	// LockInstitution сериализует изменения шаблонов учреждения до конца транзакции
	LockInstitution(ctx context.Context, institutionID int64) error
}

// AppointmentStore журнал записей, источник занятых мест
type AppointmentStore interface {
	Create(ctx context.Context, appointment *model.Appointment) error
	GetByID(ctx context.Context, id int64) (*model.Appointment, error)
	GetByIDForUpdate(ctx context.Context, id int64) (*model.Appointment, error)
	GetByReference(ctx context.Context, reference string) (*model.Appointment, error)
	ListByInstitution(ctx context.Context, institutionID int64, from, to time.Time) ([]*model.Appointment, error)
	Update(ctx context.Context, appointment *model.Appointment) error
	BookedCounts(ctx context.Context, institutionID int64, from, to time.Time) (model.BookedCounts, error)
	CountActiveFrom(ctx context.Context, templateID int64, from time.Time) (int, error)
	MaxBookedFrom(ctx context.Context, templateID int64, from time.Time) (int, error)
	// ReserveSeat сверяет счётчик с текущей вместимостью шаблона
	ReserveSeat(ctx context.Context, key SeatKey) error
	ReleaseSeat(ctx context.Context, key SeatKey) error
}

type DirectoryStore interface {
	GetInstitution(ctx context.Context, id int64) (*model.Institution, error)
	GetStaff(ctx context.Context, id int64) (*model.Staff, error)
}

type GrantStore interface {
	GetLevel(ctx context.Context, accountID, institutionID int64) (model.AccessLevel, bool, error)
	ListInstitutionIDs(ctx context.Context, accountID int64) ([]int64, error)
	Grant(ctx context.Context, grant *model.AccessGrant) error
	Revoke(ctx context.Context, accountID, institutionID int64) error
}

var (
	_ TemplateStore    = (*SlotTemplateRepository)(nil)
	_ AppointmentStore = (*AppointmentRepository)(nil)
	_ DirectoryStore   = (*DirectoryRepository)(nil)
	_ GrantStore       = (*AccessRepository)(nil)
	_ TxManager        = (*base.Repository)(nil)
)

// Repository набор репозиториев приложения
type Repository struct {
	Tx           TxManager
	Templates    TemplateStore
	Appointments AppointmentStore
	Directory    DirectoryStore
	Grants       GrantStore
}

// NewPostgres собирает репозитории поверх пула PostgreSQL
func NewPostgres(pool *pgxpool.Pool) *Repository {
	db := base.NewRepository(pool)
	return &Repository{
		Tx:           db,
		Templates:    NewSlotTemplateRepository(db),
		Appointments: NewAppointmentRepository(db),
		Directory:    NewDirectoryRepository(db),
		Grants:       NewAccessRepository(db),
	}
}
