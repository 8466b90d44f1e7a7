package repository

import (
	"context"
	"fmt"

	"github.com/Freeeeeet/appointment_scheduler/internal/model"
	"github.com/Freeeeeet/appointment_scheduler/internal/repository/base"
)

// DirectoryRepository справочник учреждений и сотрудников
type DirectoryRepository struct {
	db *base.Repository
}

func NewDirectoryRepository(db *base.Repository) *DirectoryRepository {
	return &DirectoryRepository{db: db}
}

// GetInstitution получает учреждение по ID
func (r *DirectoryRepository) GetInstitution(ctx context.Context, id int64) (*model.Institution, error) {
	query := `
		SELECT id, name, is_active, created_at
		FROM institutions
		WHERE id = $1
	`

	var institution model.Institution
	err := r.db.Conn(ctx).QueryRow(ctx, query, id).Scan(
		&institution.ID,
		&institution.Name,
		&institution.IsActive,
		&institution.CreatedAt,
	)

	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil // Учреждение не найдено
		}
		return nil, fmt.Errorf("get institution by id: %w", err)
	}

	return &institution, nil
}

// GetStaff получает сотрудника по ID
func (r *DirectoryRepository) GetStaff(ctx context.Context, id int64) (*model.Staff, error) {
	query := `
		SELECT id, institution_id, full_name, is_active, created_at
		FROM staff_members
		WHERE id = $1
	`

	var staff model.Staff
	err := r.db.Conn(ctx).QueryRow(ctx, query, id).Scan(
		&staff.ID,
		&staff.InstitutionID,
		&staff.FullName,
		&staff.IsActive,
		&staff.CreatedAt,
	)

	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get staff by id: %w", err)
	}

	return &staff, nil
}
