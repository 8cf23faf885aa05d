package store

import (
	"fmt"
	"slices"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"gorm.io/gorm"

	"machine-catalog-backend/internal/apperr"
	"machine-catalog-backend/internal/model"
)

const (
	fieldName       = "name"
	fieldImageRef   = "imageRef"
	fieldPlacements = "placements"
	fieldStoreLink  = "storeLink"
	fieldUserID     = "userId"
	fieldMachineIDs = "machineIds"
)

func checkMachineMeta(name, imageRef string, fields apperr.FieldErrors) {
	if name == "" {
		fields.Add(fieldName, "name is required")
	}
	if imageRef == "" {
		fields.Add(fieldImageRef, "image is required")
	}
}

// checkPlacements records shape problems of a target set in fields and
// returns the locations used more than once, ascending.
func (s *gormStore) checkPlacements(placements []PlacementInput, fields apperr.FieldErrors) []int {
	if len(placements) == 0 {
		fields.Add(fieldPlacements, "at least one part must be placed")
		return nil
	}

	seen := mapset.NewThreadUnsafeSet[int]()
	dups := mapset.NewThreadUnsafeSet[int]()
	for _, p := range placements {
		if p.PartID <= 0 {
			fields.Add(fieldPlacements, fmt.Sprintf("part id %d is invalid", p.PartID))
		}
		if !s.grid.Contains(p.Location) {
			fields.Add(fieldPlacements, fmt.Sprintf("location %d is outside the %dx%d grid", p.Location, s.grid.Columns, s.grid.Rows))
			continue
		}
		if !seen.Add(p.Location) {
			dups.Add(p.Location)
		}
	}

	out := dups.ToSlice()
	slices.Sort(out)
	return out
}

func duplicateFields(dups []int) apperr.FieldErrors {
	fields := apperr.FieldErrors{}
	for _, loc := range dups {
		fields.Add(fieldPlacements, fmt.Sprintf("location %d is used more than once", loc))
	}
	return fields
}

func checkPart(name, storeLink string) error {
	fields := apperr.FieldErrors{}
	if name == "" {
		fields.Add(fieldName, "name is required")
	}
	if storeLink == "" {
		fields.Add(fieldStoreLink, "store link is required")
	}
	if len(fields) > 0 {
		return apperr.Validation("invalid part", fields)
	}
	return nil
}

// ensurePartsExist fails with a not-found error naming every part id of
// placements that is missing from the catalog.
func ensurePartsExist(tx *gorm.DB, placements []PlacementInput) error {
	wanted := mapset.NewThreadUnsafeSet[int64]()
	for _, p := range placements {
		wanted.Add(p.PartID)
	}

	var found []int64
	if err := tx.Model(&model.Part{}).Where("id IN ?", wanted.ToSlice()).Pluck("id", &found).Error; err != nil {
		return fmt.Errorf("failed to look up parts: %w", err)
	}

	missing := sortedIDs(wanted.Difference(mapset.NewThreadUnsafeSet(found...)))
	if len(missing) == 0 {
		return nil
	}
	return apperr.NotFound("part(s) not found: " + joinIDs(missing))
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprint(id)
	}
	return strings.Join(parts, ", ")
}
