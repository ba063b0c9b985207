package ledger

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-assistant-bot/internal/domain"
)

// Registry answers whether a redemption code is valid. Codes live in the
// first column of the Codes sheet and are reusable: a valid code stays valid.
type Registry struct {
	store RowStore
}

// NewRegistry returns a Registry over store.
func NewRegistry(store RowStore) *Registry {
	return &Registry{store: store}
}

// IsValid reports whether code is listed. Comparison is exact after trimming
// surrounding whitespace. Store failures are logged and reported as invalid.
func (r *Registry) IsValid(ctx context.Context, code string) bool {
	code = strings.TrimSpace(code)
	if code == "" {
		return false
	}
	codes, err := r.store.ListColumn(ctx, domain.SheetCodes, 1)
	if err != nil {
		log.Warn().Err(err).Msg("redemption registry unavailable")
		return false
	}
	for _, c := range codes {
		if strings.TrimSpace(c) == code {
			return true
		}
	}
	return false
}

// Add lists code in the registry. Adding a code that is already present is a
// no-op.
func (r *Registry) Add(ctx context.Context, code string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return errors.New("code is empty")
	}
	if r.IsValid(ctx, code) {
		return nil
	}
	if _, err := r.store.AppendRow(ctx, domain.SheetCodes, []string{code}); err != nil {
		return unavailable("add code", err)
	}
	return nil
}
