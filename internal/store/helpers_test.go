package store

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	catalogdb "machine-catalog-backend/internal/db"
	"machine-catalog-backend/internal/grid"
	"machine-catalog-backend/internal/model"
)

// newTestStore opens a private in-memory sqlite database named after the
// test, with foreign keys enforced and the catalog schema migrated.
func newTestStore(t *testing.T) (Store, *gorm.DB) {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=on", name)
	testDB, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	sqlDB, err := testDB.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, catalogdb.Migrate(testDB))
	return NewGormStore(testDB, grid.Default), testDB
}

func seedParts(t *testing.T, s Store, names ...string) []int64 {
	t.Helper()
	ids := make([]int64, 0, len(names))
	for _, n := range names {
		p, err := s.CreatePart(context.Background(), n, "https://shop.example/"+n)
		require.NoError(t, err)
		ids = append(ids, p.ID)
	}
	return ids
}

func storedPlacements(t *testing.T, db *gorm.DB, machineID int64) []PlacementInput {
	t.Helper()
	var rows []model.Placement
	require.NoError(t, db.Where("machine_id = ?", machineID).Order("location").Find(&rows).Error)
	out := make([]PlacementInput, 0, len(rows))
	for _, r := range rows {
		out = append(out, PlacementInput{PartID: r.PartID, Location: r.Location})
	}
	return out
}

func countRows(t *testing.T, db *gorm.DB, m any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(m).Count(&n).Error)
	return n
}

func ptr[T any](v T) *T { return &v }
