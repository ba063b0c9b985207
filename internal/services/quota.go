package services

import (
	"context"

	"github.com/tbourn/go-assistant-bot/internal/domain"
	"github.com/tbourn/go-assistant-bot/internal/ledger"
)

// Reservation is one quota slot held while an answer is produced.
type Reservation interface {
	Commit(ctx context.Context) (domain.UserQuota, error)
	Release()
}

// QuotaLedger is the part of the quota ledger the orchestrator uses.
type QuotaLedger interface {
	Reserve(ctx context.Context, userID string) (Reservation, domain.UserQuota, error)
	GetOrCreate(ctx context.Context, userID string) (domain.UserQuota, error)
	GrantBonus(ctx context.Context, userID string, amount int) (domain.UserQuota, error)
}

// LedgerQuota adapts a ledger.Client to QuotaLedger.
func LedgerQuota(c *ledger.Client) QuotaLedger { return clientQuota{c} }

type clientQuota struct{ *ledger.Client }

func (q clientQuota) Reserve(ctx context.Context, userID string) (Reservation, domain.UserQuota, error) {
	r, uq, err := q.Client.Reserve(ctx, userID)
	if err != nil {
		return nil, uq, err
	}
	return r, uq, nil
}
