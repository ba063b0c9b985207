// Package domain defines the persistence models and value types shared by the
// ledger, the conversation memory and the session orchestrator. Row is mapped
// with GORM and backs the spreadsheet-like ledger tables (Users, Codes, Logs).
package domain

import (
	"time"

	"gorm.io/gorm"
)

// Sheet names of the row store. Each sheet is a flat, ordered list of rows.
const (
	SheetUsers = "Users"
	SheetCodes = "Codes"
	SheetLogs  = "Logs"
)

// Column positions (1-based) in the Users sheet.
const (
	ColUserID = 1
	ColUsed   = 2
	ColLimit  = 3
)

// Row is a single row of a sheet in the row store.
//
// Fields:
//   - ID: surrogate primary key.
//   - Sheet: owning sheet name ("Users", "Codes", "Logs").
//   - Num: 1-based row number, unique per sheet; used as the row key by callers.
//   - Key: copy of the first cell, indexed for lookups by key.
//   - Cells: row values in column order, stored as a JSON array.
//   - CreatedAt / UpdatedAt: timestamps managed by GORM.
type Row struct {
	ID        uint      `json:"-"          gorm:"primaryKey;autoIncrement"`
	Sheet     string    `json:"sheet"      gorm:"type:varchar(32);not null;uniqueIndex:ux_sheet_row,priority:1;index:idx_sheet_key,priority:1"`
	Num       int       `json:"row"        gorm:"not null;uniqueIndex:ux_sheet_row,priority:2"`
	Key       string    `json:"key"        gorm:"type:varchar(255);not null;index:idx_sheet_key,priority:2"`
	Cells     []string  `json:"cells"      gorm:"type:text;not null;serializer:json"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for Row.
func (Row) TableName() string { return "sheet_rows" }

// Cell returns the value at the 1-based column col and whether it exists.
func (r Row) Cell(col int) (string, bool) {
	if col < 1 || col > len(r.Cells) {
		return "", false
	}
	return r.Cells[col-1], true
}

// BeforeSave keeps Key in sync with the first cell.
func (r *Row) BeforeSave(*gorm.DB) error {
	if len(r.Cells) > 0 {
		r.Key = r.Cells[0]
	}
	return nil
}

// UserQuota is the typed view of a Users row.
type UserQuota struct {
	UserID string `json:"user_id"`
	Row    int    `json:"row"`
	Used   int    `json:"used_count"`
	Limit  int    `json:"limit"`
}

// Exhausted reports whether no further request may be answered.
func (q UserQuota) Exhausted() bool { return q.Used >= q.Limit }

// Remaining returns how many requests are left, never negative.
func (q UserQuota) Remaining() int {
	if q.Used >= q.Limit {
		return 0
	}
	return q.Limit - q.Used
}

// LogRecord is one append-only audit row written after a completed exchange.
type LogRecord struct {
	Timestamp time.Time
	UserID    string
	UserName  string
	Request   string
	Reply     string
}

// LogTimeLayout is the timestamp layout used in the Logs sheet.
const LogTimeLayout = "2006-01-02 15:04:05"

// Values returns the record as Logs sheet cells.
func (l LogRecord) Values() []string {
	return []string{l.Timestamp.Format(LogTimeLayout), l.UserID, l.UserName, l.Request, l.Reply}
}
