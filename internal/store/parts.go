package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"machine-catalog-backend/internal/apperr"
	"machine-catalog-backend/internal/model"
)

func (s *gormStore) CreatePart(ctx context.Context, name, storeLink string) (model.Part, error) {
	part := model.Part{Name: strings.TrimSpace(name), StoreLink: strings.TrimSpace(storeLink)}
	if err := checkPart(part.Name, part.StoreLink); err != nil {
		return model.Part{}, err
	}
	if err := s.db.WithContext(ctx).Create(&part).Error; err != nil {
		return model.Part{}, translate("create part", fmt.Errorf("failed to create part: %w", err))
	}
	return part, nil
}

// UpdatePart renames a part or changes its link. Every machine that places
// the part is reported back, since their detail views changed too.
func (s *gormStore) UpdatePart(ctx context.Context, id int64, name, storeLink string) (model.Part, []int64, error) {
	name = strings.TrimSpace(name)
	storeLink = strings.TrimSpace(storeLink)
	if err := checkPart(name, storeLink); err != nil {
		return model.Part{}, nil, err
	}

	var (
		part     model.Part
		machines []int64
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := loadPart(tx, id, &part); err != nil {
			return err
		}
		part.Name = name
		part.StoreLink = storeLink
		part.UpdatedAt = time.Now().UTC()
		if err := tx.Model(&model.Part{}).Where("id = ?", id).Updates(map[string]any{
			"name":       part.Name,
			"store_link": part.StoreLink,
			"updated_at": part.UpdatedAt,
		}).Error; err != nil {
			return fmt.Errorf("failed to update part %d: %w", id, err)
		}

		var err error
		machines, err = machinesPlacing(tx, id)
		return err
	})
	if err != nil {
		return model.Part{}, nil, translate("update part", err)
	}
	return part, machines, nil
}

// DeletePart removes a part and every placement of it, returning the
// machines that lost a placement. Their versions are bumped so pending
// optimistic edits see the change.
func (s *gormStore) DeletePart(ctx context.Context, id int64) ([]int64, error) {
	var machines []int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var part model.Part
		if err := loadPart(tx, id, &part); err != nil {
			return err
		}

		var err error
		if machines, err = machinesPlacing(tx, id); err != nil {
			return err
		}
		if err := tx.Where("part_id = ?", id).Delete(&model.Placement{}).Error; err != nil {
			return fmt.Errorf("failed to delete placements of part %d: %w", id, err)
		}
		if err := tx.Delete(&model.Part{}, id).Error; err != nil {
			return fmt.Errorf("failed to delete part %d: %w", id, err)
		}
		if len(machines) > 0 {
			if err := tx.Model(&model.Machine{}).Where("id IN ?", machines).Updates(map[string]any{
				"version":    gorm.Expr("version + ?", 1),
				"updated_at": time.Now().UTC(),
			}).Error; err != nil {
				return fmt.Errorf("failed to touch machines of part %d: %w", id, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, translate("delete part", err)
	}
	return machines, nil
}

func loadPart(tx *gorm.DB, id int64, part *model.Part) error {
	if err := tx.First(part, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.NotFound(fmt.Sprintf("part %d not found", id))
		}
		return fmt.Errorf("failed to load part %d: %w", id, err)
	}
	return nil
}

func machinesPlacing(tx *gorm.DB, partID int64) ([]int64, error) {
	var ids []int64
	err := tx.Model(&model.Placement{}).
		Distinct("machine_id").
		Where("part_id = ?", partID).
		Order("machine_id").
		Pluck("machine_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list machines placing part %d: %w", partID, err)
	}
	return ids, nil
}
