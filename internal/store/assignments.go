package store

import (
	"context"
	"fmt"
	"slices"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"machine-catalog-backend/internal/apperr"
	"machine-catalog-backend/internal/model"
)

// AssignMachines grants userID visibility of machineIDs. Ids already assigned
// are skipped; unknown ids fail the whole batch.
func (s *gormStore) AssignMachines(ctx context.Context, userID string, machineIDs []int64) (AssignResult, error) {
	userID = strings.TrimSpace(userID)
	fields := apperr.FieldErrors{}
	if userID == "" {
		fields.Add(fieldUserID, "user id is required")
	}
	if len(machineIDs) == 0 {
		fields.Add(fieldMachineIDs, "at least one machine id is required")
	}
	if len(fields) > 0 {
		return AssignResult{}, apperr.Validation("invalid assignment", fields)
	}

	wanted := mapset.NewThreadUnsafeSet(machineIDs...)
	result := AssignResult{Total: wanted.Cardinality()}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var found []int64
		if err := tx.Model(&model.Machine{}).Where("id IN ?", wanted.ToSlice()).Pluck("id", &found).Error; err != nil {
			return fmt.Errorf("failed to look up machines: %w", err)
		}
		if missing := sortedIDs(wanted.Difference(mapset.NewThreadUnsafeSet(found...))); len(missing) > 0 {
			return apperr.NotFound("machine(s) not found: " + joinIDs(missing))
		}

		var existing []int64
		if err := tx.Model(&model.UserMachineAssignment{}).
			Where("user_id = ? AND machine_id IN ?", userID, found).
			Pluck("machine_id", &existing).Error; err != nil {
			return fmt.Errorf("failed to load assignments of %s: %w", userID, err)
		}

		fresh := sortedIDs(wanted.Difference(mapset.NewThreadUnsafeSet(existing...)))
		result.Skipped = result.Total - len(fresh)
		if len(fresh) == 0 {
			return nil
		}

		rows := make([]model.UserMachineAssignment, 0, len(fresh))
		for _, id := range fresh {
			rows = append(rows, model.UserMachineAssignment{UserID: userID, MachineID: id})
		}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows)
		if res.Error != nil {
			return fmt.Errorf("failed to insert assignments: %w", res.Error)
		}
		result.Added = int(res.RowsAffected)
		result.Skipped = result.Total - result.Added
		return nil
	})
	if err != nil {
		return AssignResult{}, translate("assign machines", err)
	}
	return result, nil
}

func (s *gormStore) UnassignMachine(ctx context.Context, userID string, machineID int64) error {
	res := s.db.WithContext(ctx).
		Where("user_id = ? AND machine_id = ?", userID, machineID).
		Delete(&model.UserMachineAssignment{})
	if res.Error != nil {
		return translate("unassign machine", fmt.Errorf("failed to delete assignment: %w", res.Error))
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound(fmt.Sprintf("machine %d is not assigned to %s", machineID, userID))
	}
	return nil
}

func sortedIDs(set mapset.Set[int64]) []int64 {
	ids := set.ToSlice()
	slices.Sort(ids)
	return ids
}
