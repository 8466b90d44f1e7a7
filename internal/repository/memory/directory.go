package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/Freeeeeet/appointment_scheduler/internal/model"
	"github.com/Freeeeeet/appointment_scheduler/internal/repository"
)

type DirectoryRepository struct {
	s *Store
}

var _ repository.DirectoryStore = (*DirectoryRepository)(nil)

func (r *DirectoryRepository) GetInstitution(ctx context.Context, id int64) (*model.Institution, error) {
	var found *model.Institution
	r.s.read(ctx, func(d *data) {
		if i, ok := d.institutions[id]; ok {
			found = &i
		}
	})
	return found, nil
}

func (r *DirectoryRepository) GetStaff(ctx context.Context, id int64) (*model.Staff, error) {
	var found *model.Staff
	r.s.read(ctx, func(d *data) {
		if st, ok := d.staff[id]; ok {
			found = &st
		}
	})
	return found, nil
}

type GrantRepository struct {
	s *Store
}

var _ repository.GrantStore = (*GrantRepository)(nil)

func (r *GrantRepository) GetLevel(ctx context.Context, accountID, institutionID int64) (model.AccessLevel, bool, error) {
	var (
		level model.AccessLevel
		found bool
	)
	r.s.read(ctx, func(d *data) {
		if g, ok := d.grants[grantKey{accountID: accountID, institutionID: institutionID}]; ok {
			level, found = g.Level, true
		}
	})
	return level, found, nil
}

func (r *GrantRepository) ListInstitutionIDs(ctx context.Context, accountID int64) ([]int64, error) {
	var ids []int64
	r.s.read(ctx, func(d *data) {
		for k := range d.grants {
			if k.accountID == accountID {
				ids = append(ids, k.institutionID)
			}
		}
	})
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (r *GrantRepository) Grant(ctx context.Context, grant *model.AccessGrant) error {
	return r.s.write(ctx, func(d *data) error {
		k := grantKey{accountID: grant.AccountID, institutionID: grant.InstitutionID}
		if existing, ok := d.grants[k]; ok {
			grant.ID = existing.ID
			grant.GrantedAt = existing.GrantedAt
		} else {
			grant.ID = d.id()
			grant.GrantedAt = r.s.now()
		}
		d.grants[k] = *grant
		return nil
	})
}

func (r *GrantRepository) Revoke(ctx context.Context, accountID, institutionID int64) error {
	return r.s.write(ctx, func(d *data) error {
		k := grantKey{accountID: accountID, institutionID: institutionID}
		if _, ok := d.grants[k]; !ok {
			return fmt.Errorf("access record not found")
		}
		delete(d.grants, k)
		return nil
	})
}
