package store

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"machine-catalog-backend/internal/apperr"
	"machine-catalog-backend/internal/grid"
	"machine-catalog-backend/internal/model"
)

// Store defines the interface for all catalog database operations.
type Store interface {
	CreateMachine(ctx context.Context, name, imageRef string, placements []PlacementInput) (int64, error)
	ReplacePlacements(ctx context.Context, machineID int64, placements []PlacementInput, expectedVersion *int64) error
	UpdateMachineMeta(ctx context.Context, machineID int64, name, imageRef string, expectedVersion *int64) (string, error)
	EditMachine(ctx context.Context, machineID int64, name, imageRef string, placements []PlacementInput, expectedVersion *int64) (string, error)
	DeleteMachine(ctx context.Context, machineID int64) (string, error)

	CreatePart(ctx context.Context, name, storeLink string) (model.Part, error)
	UpdatePart(ctx context.Context, id int64, name, storeLink string) (model.Part, []int64, error)
	DeletePart(ctx context.Context, id int64) ([]int64, error)

	AssignMachines(ctx context.Context, userID string, machineIDs []int64) (AssignResult, error)
	UnassignMachine(ctx context.Context, userID string, machineID int64) error

	ListMachines(ctx context.Context, scope Scope, page, pageSize int) (MachinePage, error)
	GetMachine(ctx context.Context, scope Scope, id int64) (MachineDetail, error)
	ListMachineRefs(ctx context.Context) ([]MachineRef, error)
	ListParts(ctx context.Context) ([]model.Part, error)
	GetPart(ctx context.Context, id int64) (model.Part, error)

	DB() *gorm.DB
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db   *gorm.DB
	grid grid.Grid
}

// NewGormStore creates a new GORM-backed store whose placements live on g.
func NewGormStore(db *gorm.DB, g grid.Grid) Store {
	return &gormStore{db: db, grid: g}
}

// DB exposes the underlying handle for collaborators that run their own
// read queries (notification fan-out, subscriptions).
func (s *gormStore) DB() *gorm.DB {
	return s.db
}

// translate maps a failure that escaped a transaction onto the error
// taxonomy. Errors already classified pass through untouched.
func translate(op string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := apperr.As(err); ok {
		return err
	}
	switch {
	case isUniqueViolation(err):
		e := apperr.Conflict("a placement already occupies that location", nil)
		e.Err = err
		return e
	case errors.Is(err, gorm.ErrForeignKeyViolated):
		e := apperr.NotFound("a referenced machine or part does not exist")
		e.Err = err
		return e
	}
	return apperr.Storage(op+" failed", err)
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "duplicate key value")
}
