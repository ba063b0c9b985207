package ledger

import (
	"context"
	"errors"
	"sync"

	"github.com/tbourn/go-assistant-bot/internal/domain"
)

var errAlreadySettled = errors.New("reservation already settled")

// Reservation is one quota slot held for an answer in flight. Commit and
// Release are each effective at most once; whichever runs first wins.
type Reservation struct {
	client *Client
	userID string

	once sync.Once
}

// Commit counts the answer: the user's row is re-read and used_count is
// written as its current value plus one. The slot is freed even when the
// write fails.
func (r *Reservation) Commit(ctx context.Context) (domain.UserQuota, error) {
	var (
		q   domain.UserQuota
		err error
		ran bool
	)
	r.once.Do(func() {
		ran = true
		q, err = r.client.commit(ctx, r.userID)
	})
	if !ran {
		return domain.UserQuota{}, errAlreadySettled
	}
	return q, err
}

// Release frees the slot without counting. It is a no-op after Commit.
func (r *Reservation) Release() {
	r.once.Do(func() { r.client.release(r.userID) })
}
