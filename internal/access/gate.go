// Package access реализует политику доступа поверх таблицы выданных прав.
package access

import (
	"context"
	"fmt"

	"github.com/Freeeeeet/appointment_scheduler/internal/model"
	"github.com/Freeeeeet/appointment_scheduler/internal/repository"
	"go.uber.org/zap"
)

// GrantGate политика доступа: manager управляет записями учреждения,
// viewer видит доступность и записывается от своего имени
type GrantGate struct {
	grants repository.GrantStore
	logger *zap.Logger
}

func NewGrantGate(grants repository.GrantStore, logger *zap.Logger) *GrantGate {
	return &GrantGate{grants: grants, logger: logger}
}

// CanManageInstitutionAppointments может ли аккаунт управлять записями учреждения
func (g *GrantGate) CanManageInstitutionAppointments(ctx context.Context, actor model.Actor, institutionID int64) (bool, error) {
	if actor.System {
		return true, nil
	}

	level, found, err := g.grants.GetLevel(ctx, actor.ID, institutionID)
	if err != nil {
		return false, fmt.Errorf("get access level: %w", err)
	}

	return found && level == model.AccessLevelManager, nil
}

// CanAccessAppointment доступ есть у менеджера учреждения, автора записи и назначенного сотрудника
func (g *GrantGate) CanAccessAppointment(ctx context.Context, actor model.Actor, a *model.Appointment) (bool, error) {
	if a.IsRequester(actor.ID) {
		return true, nil
	}
	if actor.StaffID != nil && a.IsAssignedStaff(*actor.StaffID) {
		return true, nil
	}
	return g.CanManageInstitutionAppointments(ctx, actor, a.InstitutionID)
}

// AccessibleInstitutionIDs учреждения, к которым у аккаунта есть любой доступ
func (g *GrantGate) AccessibleInstitutionIDs(ctx context.Context, actor model.Actor) ([]int64, error) {
	ids, err := g.grants.ListInstitutionIDs(ctx, actor.ID)
	if err != nil {
		return nil, fmt.Errorf("list accessible institutions: %w", err)
	}
	return ids, nil
}

// Grant выдаёт или меняет уровень доступа
func (g *GrantGate) Grant(ctx context.Context, accountID, institutionID int64, level model.AccessLevel) (*model.AccessGrant, error) {
	if level != model.AccessLevelViewer && level != model.AccessLevelManager {
		return nil, fmt.Errorf("unknown access level %q", level)
	}

	grant := &model.AccessGrant{
		AccountID:     accountID,
		InstitutionID: institutionID,
		Level:         level,
	}
	if err := g.grants.Grant(ctx, grant); err != nil {
		return nil, fmt.Errorf("grant access: %w", err)
	}

	g.logger.Info("Access granted",
		zap.Int64("account_id", accountID),
		zap.Int64("institution_id", institutionID),
		zap.String("level", string(level)))

	return grant, nil
}

// Revoke отзывает доступ
func (g *GrantGate) Revoke(ctx context.Context, accountID, institutionID int64) error {
	if err := g.grants.Revoke(ctx, accountID, institutionID); err != nil {
		return fmt.Errorf("revoke access: %w", err)
	}

	g.logger.Info("Access revoked",
		zap.Int64("account_id", accountID),
		zap.Int64("institution_id", institutionID))

	return nil
}
