package repository

import (
	"context"
	"fmt"

	"github.com/Freeeeeet/appointment_scheduler/internal/model"
	"github.com/Freeeeeet/appointment_scheduler/internal/repository/base"
)

// AccessRepository хранит доступы аккаунтов к учреждениям
type AccessRepository struct {
	db *base.Repository
}

func NewAccessRepository(db *base.Repository) *AccessRepository {
	return &AccessRepository{db: db}
}

// GetLevel возвращает уровень доступа аккаунта к учреждению
func (r *AccessRepository) GetLevel(ctx context.Context, accountID, institutionID int64) (model.AccessLevel, bool, error) {
	query := `
		SELECT level
		FROM institution_access_grants
		WHERE account_id = $1 AND institution_id = $2
	`

	var level string
	err := r.db.Conn(ctx).QueryRow(ctx, query, accountID, institutionID).Scan(&level)
	if err != nil {
		if base.IsNotFound(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("get access level: %w", err)
	}

	return model.AccessLevel(level), true, nil
}

// ListInstitutionIDs получает ID всех учреждений аккаунта
func (r *AccessRepository) ListInstitutionIDs(ctx context.Context, accountID int64) ([]int64, error) {
	query := `
		SELECT institution_id
		FROM institution_access_grants
		WHERE account_id = $1
		ORDER BY institution_id
	`

	rows, err := r.db.Conn(ctx).Query(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("get account institutions: %w", err)
	}
	defer rows.Close()

	var institutionIDs []int64
	for rows.Next() {
		var institutionID int64
		if err := rows.Scan(&institutionID); err != nil {
			return nil, fmt.Errorf("scan institution id: %w", err)
		}
		institutionIDs = append(institutionIDs, institutionID)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate institution ids: %w", err)
	}

	return institutionIDs, nil
}

// Grant предоставляет или меняет доступ аккаунта к учреждению
func (r *AccessRepository) Grant(ctx context.Context, grant *model.AccessGrant) error {
	query := `
		INSERT INTO institution_access_grants (account_id, institution_id, level)
		VALUES ($1, $2, $3)
		ON CONFLICT (account_id, institution_id) DO UPDATE SET level = EXCLUDED.level
		RETURNING id, granted_at
	`

	err := r.db.Conn(ctx).QueryRow(ctx, query, grant.AccountID, grant.InstitutionID, string(grant.Level)).
		Scan(&grant.ID, &grant.GrantedAt)
	if err != nil {
		return fmt.Errorf("grant access: %w", err)
	}

	return nil
}

// Revoke отзывает доступ
func (r *AccessRepository) Revoke(ctx context.Context, accountID, institutionID int64) error {
	query := `
		DELETE FROM institution_access_grants
		WHERE account_id = $1 AND institution_id = $2
	`

	affected, err := r.db.ExecAffected(ctx, query, accountID, institutionID)
	if err != nil {
		return fmt.Errorf("revoke access: %w", err)
	}

	if affected == 0 {
		return fmt.Errorf("access record not found")
	}

	return nil
}
