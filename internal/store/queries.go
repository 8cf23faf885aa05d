package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"machine-catalog-backend/internal/apperr"
	"machine-catalog-backend/internal/model"
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// ClampPage normalizes paging input: page is at least 1, pageSize lies in
// [1, MaxPageSize].
func ClampPage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return page, pageSize
}

// ListMachines returns one page of the machines visible in scope, ordered by
// name then id. Count and page are read in one transaction so the totals
// match the items.
func (s *gormStore) ListMachines(ctx context.Context, scope Scope, page, pageSize int) (MachinePage, error) {
	page, pageSize = ClampPage(page, pageSize)
	out := MachinePage{Items: []MachineSummary{}, Page: page, PageSize: pageSize}
	if !scope.All() && scope.UserID() == "" {
		return out, nil
	}

	err := s.readTx(ctx, func(tx *gorm.DB) error {
		if err := applyScope(tx.Model(&model.Machine{}), scope).Count(&out.Total).Error; err != nil {
			return fmt.Errorf("failed to count machines: %w", err)
		}
		out.TotalPages = int((out.Total + int64(pageSize) - 1) / int64(pageSize))

		offset := (page - 1) * pageSize
		if int64(offset) >= out.Total {
			return nil
		}

		err := applyScope(tx.Model(&model.Machine{}), scope).
			Select("machines.id, machines.name, machines.image_ref, machines.version, " +
				"machines.created_at, machines.updated_at, COUNT(placements.id) AS total_pecas").
			Joins("LEFT JOIN placements ON placements.machine_id = machines.id").
			Group("machines.id, machines.name, machines.image_ref, machines.version, machines.created_at, machines.updated_at").
			Order("machines.name, machines.id").
			Limit(pageSize).
			Offset(offset).
			Scan(&out.Items).Error
		if err != nil {
			return fmt.Errorf("failed to list machines: %w", err)
		}
		return nil
	})
	if err != nil {
		return MachinePage{}, translate("list machines", err)
	}
	return out, nil
}

// GetMachine returns a machine and its placements joined to part data. A
// machine outside scope is reported as not found.
func (s *gormStore) GetMachine(ctx context.Context, scope Scope, id int64) (MachineDetail, error) {
	notFound := apperr.NotFound(fmt.Sprintf("machine %d not found", id))
	if !scope.All() && scope.UserID() == "" {
		return MachineDetail{}, notFound
	}

	var out MachineDetail
	err := s.readTx(ctx, func(tx *gorm.DB) error {
		var m model.Machine
		err := applyScope(tx.Model(&model.Machine{}), scope).
			Select("machines.*").
			Where("machines.id = ?", id).
			Take(&m).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return notFound
		}
		if err != nil {
			return fmt.Errorf("failed to load machine %d: %w", id, err)
		}

		out = MachineDetail{
			ID:         m.ID,
			Name:       m.Name,
			ImageRef:   m.ImageRef,
			Version:    m.Version,
			CreatedAt:  m.CreatedAt,
			UpdatedAt:  m.UpdatedAt,
			Placements: []PlacementDetail{},
		}
		err = tx.Model(&model.Placement{}).
			Select("placements.id, placements.part_id, parts.name, parts.store_link, placements.location").
			Joins("JOIN parts ON parts.id = placements.part_id").
			Where("placements.machine_id = ?", id).
			Order("placements.location").
			Scan(&out.Placements).Error
		if err != nil {
			return fmt.Errorf("failed to load placements of machine %d: %w", id, err)
		}
		return nil
	})
	if err != nil {
		return MachineDetail{}, translate("get machine", err)
	}
	return out, nil
}

func (s *gormStore) ListMachineRefs(ctx context.Context) ([]MachineRef, error) {
	refs := []MachineRef{}
	err := s.db.WithContext(ctx).Model(&model.Machine{}).
		Select("id, name").
		Order("name, id").
		Scan(&refs).Error
	if err != nil {
		return nil, translate("list machine refs", fmt.Errorf("failed to list machines: %w", err))
	}
	return refs, nil
}

func (s *gormStore) ListParts(ctx context.Context) ([]model.Part, error) {
	parts := []model.Part{}
	if err := s.db.WithContext(ctx).Order("name, id").Find(&parts).Error; err != nil {
		return nil, translate("list parts", fmt.Errorf("failed to list parts: %w", err))
	}
	return parts, nil
}

func (s *gormStore) GetPart(ctx context.Context, id int64) (model.Part, error) {
	var part model.Part
	if err := loadPart(s.db.WithContext(ctx), id, &part); err != nil {
		return model.Part{}, translate("get part", err)
	}
	return part, nil
}

// readTx runs fn in a read-only transaction. On postgres it asks for
// repeatable read so multi-statement reads see one snapshot.
func (s *gormStore) readTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	var opts []*sql.TxOptions
	if s.db.Dialector.Name() == "postgres" {
		opts = append(opts, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	}
	return s.db.WithContext(ctx).Transaction(fn, opts...)
}

func applyScope(q *gorm.DB, scope Scope) *gorm.DB {
	if scope.All() {
		return q
	}
	return q.Joins("JOIN user_machine_assignments uma ON uma.machine_id = machines.id AND uma.user_id = ?", scope.UserID())
}
