package ledger

import (
	"context"
	"fmt"

	"github.com/tbourn/go-assistant-bot/internal/domain"
)

// LogSink appends completed exchanges to the Logs sheet.
type LogSink struct {
	store RowStore
}

// NewLogSink returns a LogSink over store.
func NewLogSink(store RowStore) *LogSink {
	return &LogSink{store: store}
}

// Append writes rec as a new Logs row.
func (s *LogSink) Append(ctx context.Context, rec domain.LogRecord) error {
	if _, err := s.store.AppendRow(ctx, domain.SheetLogs, rec.Values()); err != nil {
		return fmt.Errorf("append log row: %w", err)
	}
	return nil
}
