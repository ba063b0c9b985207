package repo

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/tbourn/go-assistant-bot/internal/domain"
)

// Sheets adapts the row-store free functions to the method set the ledger
// expects, keeping the ledger decoupled from GORM.
type Sheets struct {
	DB *gorm.DB
}

// NewSheets returns a Sheets bound to db.
func NewSheets(db *gorm.DB) *Sheets { return &Sheets{DB: db} }

// FindByKey proxies FindRowByKey. A missing row is reported as (nil, nil).
func (s *Sheets) FindByKey(ctx context.Context, sheet, key string) (*domain.Row, error) {
	r, err := FindRowByKey(ctx, s.DB, sheet, key)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return r, err
}

// AppendRow proxies AppendRow and returns the new row number.
func (s *Sheets) AppendRow(ctx context.Context, sheet string, values []string) (int, error) {
	r, err := AppendRow(ctx, s.DB, sheet, values)
	if err != nil {
		return 0, err
	}
	return r.Num, nil
}

// UpdateCell proxies UpdateCell.
func (s *Sheets) UpdateCell(ctx context.Context, sheet string, row, col int, value string) error {
	return UpdateCell(ctx, s.DB, sheet, row, col, value)
}

// ListColumn proxies ListColumn.
func (s *Sheets) ListColumn(ctx context.Context, sheet string, col int) ([]string, error) {
	return ListColumn(ctx, s.DB, sheet, col)
}
