// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the row-store functions that back the
// ledger sheets (Users, Codes, Logs).
//
// A sheet is an ordered list of rows numbered from 1. Rows are addressed by
// (sheet, row number) for updates and by their first cell for lookups, which
// mirrors how the ledger treats a spreadsheet: find a row by key, append a
// row, update one cell, read one column.
//
// Error semantics:
//   - A missing row yields ErrNotFound (gorm.ErrRecordNotFound).
//   - Other DB errors are propagated unchanged.
package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/tbourn/go-assistant-bot/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = gorm.ErrRecordNotFound

// appendAttempts bounds retries when two writers race for the same row number.
const appendAttempts = 3

// FindRowByKey returns the first row of sheet whose first cell equals key.
func FindRowByKey(ctx context.Context, db *gorm.DB, sheet, key string) (*domain.Row, error) {
	var r domain.Row
	err := db.WithContext(ctx).
		Where("sheet = ? AND key = ?", sheet, key).
		Order("num ASC").
		First(&r).Error
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// AppendRow adds a row after the last row of sheet and returns it.
func AppendRow(ctx context.Context, db *gorm.DB, sheet string, values []string) (*domain.Row, error) {
	var (
		out *domain.Row
		err error
	)
	for attempt := 0; attempt < appendAttempts; attempt++ {
		out, err = appendOnce(ctx, db, sheet, values)
		if err == nil || !isUniqueViolation(err) {
			return out, err
		}
	}
	return nil, err
}

func appendOnce(ctx context.Context, db *gorm.DB, sheet string, values []string) (*domain.Row, error) {
	var out *domain.Row
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var last int
		if err := tx.Model(&domain.Row{}).
			Where("sheet = ?", sheet).
			Select("COALESCE(MAX(num), 0)").
			Scan(&last).Error; err != nil {
			return err
		}
		cells := make([]string, len(values))
		copy(cells, values)
		r := &domain.Row{Sheet: sheet, Num: last + 1, Cells: cells}
		if err := tx.Create(r).Error; err != nil {
			return err
		}
		out = r
		return nil
	})
	return out, err
}

// UpdateCell sets the 1-based column col of row num in sheet to value,
// padding the row with empty cells when it is shorter than col.
func UpdateCell(ctx context.Context, db *gorm.DB, sheet string, num, col int, value string) error {
	if col < 1 {
		return fmt.Errorf("invalid column %d", col)
	}
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var r domain.Row
		if err := tx.Where("sheet = ? AND num = ?", sheet, num).First(&r).Error; err != nil {
			return err
		}
		for len(r.Cells) < col {
			r.Cells = append(r.Cells, "")
		}
		r.Cells[col-1] = value
		return tx.Save(&r).Error
	})
}

// ListColumn returns the values of the 1-based column col for every row of
// sheet in row order. Rows shorter than col contribute an empty string.
func ListColumn(ctx context.Context, db *gorm.DB, sheet string, col int) ([]string, error) {
	if col < 1 {
		return nil, fmt.Errorf("invalid column %d", col)
	}
	var rows []domain.Row
	if err := db.WithContext(ctx).
		Where("sheet = ?", sheet).
		Order("num ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		v, _ := r.Cell(col)
		out = append(out, v)
	}
	return out, nil
}

// isUniqueViolation recognizes UNIQUE constraint failures.
// glebarez/sqlite often returns plain-text errors for them.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique")
}
