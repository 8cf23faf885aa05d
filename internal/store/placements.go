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

const placementBatchSize = 200

// CreateMachine inserts a machine together with its initial placement set.
// The set is checked before any write: an empty set or a location outside
// the grid is a validation error, a location used twice is a conflict.
func (s *gormStore) CreateMachine(ctx context.Context, name, imageRef string, placements []PlacementInput) (int64, error) {
	name = strings.TrimSpace(name)
	imageRef = strings.TrimSpace(imageRef)

	fields := apperr.FieldErrors{}
	checkMachineMeta(name, imageRef, fields)
	dups := s.checkPlacements(placements, fields)
	if len(fields) > 0 {
		for field, msgs := range duplicateFields(dups) {
			fields[field] = append(fields[field], msgs...)
		}
		return 0, apperr.Validation("invalid machine", fields)
	}
	if len(dups) > 0 {
		return 0, apperr.Conflict("two parts cannot share a location", duplicateFields(dups))
	}

	machine := model.Machine{Name: name, ImageRef: imageRef, Version: 1}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensurePartsExist(tx, placements); err != nil {
			return err
		}
		if err := tx.Create(&machine).Error; err != nil {
			return fmt.Errorf("failed to create machine: %w", err)
		}
		return insertPlacements(tx, machine.ID, placements)
	})
	if err != nil {
		return 0, translate("create machine", err)
	}
	return machine.ID, nil
}

// ReplacePlacements reconciles the stored placements of a machine with the
// target set: inside one transaction every stored placement is deleted and
// the full target set inserted. Calling it twice with the same target leaves
// the same stored set.
func (s *gormStore) ReplacePlacements(ctx context.Context, machineID int64, placements []PlacementInput, expectedVersion *int64) error {
	fields := apperr.FieldErrors{}
	dups := s.checkPlacements(placements, fields)
	for field, msgs := range duplicateFields(dups) {
		fields[field] = append(fields[field], msgs...)
	}
	if len(fields) > 0 {
		return apperr.Validation("invalid placement set", fields)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := loadMachine(tx, machineID, expectedVersion); err != nil {
			return err
		}
		if err := ensurePartsExist(tx, placements); err != nil {
			return err
		}
		if err := replaceAll(tx, machineID, placements); err != nil {
			return err
		}
		return bumpMachine(tx, machineID, expectedVersion, nil)
	})
	return translate("replace placements", err)
}

// UpdateMachineMeta changes name and image only; placements are untouched.
// It returns the image reference the machine had before.
func (s *gormStore) UpdateMachineMeta(ctx context.Context, machineID int64, name, imageRef string, expectedVersion *int64) (string, error) {
	name = strings.TrimSpace(name)
	imageRef = strings.TrimSpace(imageRef)

	fields := apperr.FieldErrors{}
	checkMachineMeta(name, imageRef, fields)
	if len(fields) > 0 {
		return "", apperr.Validation("invalid machine", fields)
	}

	var previousImage string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m, err := loadMachine(tx, machineID, expectedVersion)
		if err != nil {
			return err
		}
		previousImage = m.ImageRef
		return bumpMachine(tx, machineID, expectedVersion, map[string]any{
			"name":      name,
			"image_ref": imageRef,
		})
	})
	if err != nil {
		return "", translate("update machine", err)
	}
	return previousImage, nil
}

// EditMachine applies a metadata update and a full placement replacement in
// one transaction. It returns the image reference the machine had before the
// edit so the caller can release a replaced blob.
func (s *gormStore) EditMachine(ctx context.Context, machineID int64, name, imageRef string, placements []PlacementInput, expectedVersion *int64) (string, error) {
	name = strings.TrimSpace(name)
	imageRef = strings.TrimSpace(imageRef)

	fields := apperr.FieldErrors{}
	checkMachineMeta(name, imageRef, fields)
	dups := s.checkPlacements(placements, fields)
	for field, msgs := range duplicateFields(dups) {
		fields[field] = append(fields[field], msgs...)
	}
	if len(fields) > 0 {
		return "", apperr.Validation("invalid machine", fields)
	}

	var previousImage string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m, err := loadMachine(tx, machineID, expectedVersion)
		if err != nil {
			return err
		}
		previousImage = m.ImageRef

		if err := ensurePartsExist(tx, placements); err != nil {
			return err
		}
		if err := bumpMachine(tx, machineID, expectedVersion, map[string]any{
			"name":      name,
			"image_ref": imageRef,
		}); err != nil {
			return err
		}
		return replaceAll(tx, machineID, placements)
	})
	if err != nil {
		return "", translate("edit machine", err)
	}
	return previousImage, nil
}

// DeleteMachine removes a machine, its placements and its assignments, and
// returns the image reference it pointed at.
func (s *gormStore) DeleteMachine(ctx context.Context, machineID int64) (string, error) {
	var imageRef string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m, err := loadMachine(tx, machineID, nil)
		if err != nil {
			return err
		}
		imageRef = m.ImageRef

		if err := tx.Where("machine_id = ?", machineID).Delete(&model.Placement{}).Error; err != nil {
			return fmt.Errorf("failed to delete placements of machine %d: %w", machineID, err)
		}
		if err := tx.Where("machine_id = ?", machineID).Delete(&model.UserMachineAssignment{}).Error; err != nil {
			return fmt.Errorf("failed to delete assignments of machine %d: %w", machineID, err)
		}
		if err := tx.Delete(&model.Machine{}, machineID).Error; err != nil {
			return fmt.Errorf("failed to delete machine %d: %w", machineID, err)
		}
		return nil
	})
	if err != nil {
		return "", translate("delete machine", err)
	}
	return imageRef, nil
}

// loadMachine reads a machine inside tx and checks the caller's expected
// version, when one is given.
func loadMachine(tx *gorm.DB, machineID int64, expectedVersion *int64) (model.Machine, error) {
	var m model.Machine
	if err := tx.First(&m, machineID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return m, apperr.NotFound(fmt.Sprintf("machine %d not found", machineID))
		}
		return m, fmt.Errorf("failed to load machine %d: %w", machineID, err)
	}
	if expectedVersion != nil && *expectedVersion != m.Version {
		return m, staleVersion(machineID, *expectedVersion, m.Version)
	}
	return m, nil
}

// bumpMachine increments the machine version and applies extra column
// updates. With an expected version the update is conditional on it, so a
// concurrent writer that committed first turns this call into a conflict.
func bumpMachine(tx *gorm.DB, machineID int64, expectedVersion *int64, extra map[string]any) error {
	updates := map[string]any{
		"version":    gorm.Expr("version + ?", 1),
		"updated_at": time.Now().UTC(),
	}
	for k, v := range extra {
		updates[k] = v
	}

	q := tx.Model(&model.Machine{}).Where("id = ?", machineID)
	if expectedVersion != nil {
		q = q.Where("version = ?", *expectedVersion)
	}
	res := q.Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("failed to update machine %d: %w", machineID, res.Error)
	}
	if expectedVersion != nil && res.RowsAffected == 0 {
		return staleVersion(machineID, *expectedVersion, -1)
	}
	return nil
}

func staleVersion(machineID, expected, actual int64) error {
	fields := apperr.FieldErrors{}
	if actual >= 0 {
		fields.Add("version", fmt.Sprintf("expected version %d, machine is at version %d", expected, actual))
	} else {
		fields.Add("version", fmt.Sprintf("expected version %d is no longer current", expected))
	}
	return apperr.Conflict(fmt.Sprintf("machine %d was modified by another edit", machineID), fields)
}

func replaceAll(tx *gorm.DB, machineID int64, placements []PlacementInput) error {
	if err := tx.Where("machine_id = ?", machineID).Delete(&model.Placement{}).Error; err != nil {
		return fmt.Errorf("failed to clear placements of machine %d: %w", machineID, err)
	}
	return insertPlacements(tx, machineID, placements)
}

func insertPlacements(tx *gorm.DB, machineID int64, placements []PlacementInput) error {
	rows := make([]model.Placement, 0, len(placements))
	for _, p := range placements {
		rows = append(rows, model.Placement{MachineID: machineID, PartID: p.PartID, Location: p.Location})
	}
	if err := tx.CreateInBatches(&rows, placementBatchSize).Error; err != nil {
		return fmt.Errorf("failed to insert placements for machine %d: %w", machineID, err)
	}
	return nil
}
