// Package ledger implements the quota ledger, the redemption registry and the
// audit log sink on top of a spreadsheet-like row store.
//
// The Users sheet holds one row per user: user_id, used_count, limit. Rows
// are created lazily on first contact. Every read-modify-write of a user's
// row happens under that user's key lock, and answers in flight are counted
// as reservations, so concurrent requests can neither lose an increment nor
// push a user past the limit.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-assistant-bot/internal/domain"
)

// DefaultLimit is the limit given to users on first contact.
const DefaultLimit = 10

// RowStore is the minimal key-row API the ledger needs from the external
// store. FindByKey returns (nil, nil) when no row has the key.
type RowStore interface {
	FindByKey(ctx context.Context, sheet, key string) (*domain.Row, error)
	AppendRow(ctx context.Context, sheet string, values []string) (int, error)
	UpdateCell(ctx context.Context, sheet string, row, col int, value string) error
	ListColumn(ctx context.Context, sheet string, col int) ([]string, error)
}

// Client is the quota ledger. It is safe for concurrent use.
type Client struct {
	store        RowStore
	defaultLimit int
	locks        *keyLock

	mu       sync.Mutex
	inflight map[string]int
}

// New returns a Client over store. A non-positive defaultLimit falls back to
// DefaultLimit.
func New(store RowStore, defaultLimit int) *Client {
	if defaultLimit <= 0 {
		defaultLimit = DefaultLimit
	}
	return &Client{
		store:        store,
		defaultLimit: defaultLimit,
		locks:        newKeyLock(),
		inflight:     make(map[string]int),
	}
}

// GetOrCreate returns userID's quota, creating a row with used_count=0 and the
// default limit when none exists. Store failures and malformed rows are
// reported as domain.ErrLedgerUnavailable.
func (c *Client) GetOrCreate(ctx context.Context, userID string) (domain.UserQuota, error) {
	unlock := c.locks.Lock(userID)
	defer unlock()
	return c.getOrCreate(ctx, userID)
}

// Get returns userID's quota without creating a row. It returns
// domain.ErrUserNotFound when the user has never been seen.
func (c *Client) Get(ctx context.Context, userID string) (domain.UserQuota, error) {
	row, err := c.store.FindByKey(ctx, domain.SheetUsers, userID)
	if err != nil {
		return domain.UserQuota{}, unavailable("find user", err)
	}
	if row == nil {
		return domain.UserQuota{}, domain.ErrUserNotFound
	}
	q, err := decodeQuota(row)
	if err != nil {
		return domain.UserQuota{}, unavailable("decode user row", err)
	}
	return q, nil
}

// IncrementUsage writes current+1 into the used_count cell of row.
func (c *Client) IncrementUsage(ctx context.Context, row, current int) error {
	if err := c.store.UpdateCell(ctx, domain.SheetUsers, row, domain.ColUsed, strconv.Itoa(current+1)); err != nil {
		return unavailable("update usage", err)
	}
	return nil
}

// GrantBonus raises userID's limit by amount and returns the new quota.
func (c *Client) GrantBonus(ctx context.Context, userID string, amount int) (domain.UserQuota, error) {
	if amount <= 0 {
		return domain.UserQuota{}, fmt.Errorf("bonus amount must be positive, got %d", amount)
	}
	ctx, span := otel.Tracer("ledger/Client").Start(ctx, "GrantBonus",
		trace.WithAttributes(attribute.String("user.id", userID), attribute.Int("amount", amount)),
	)
	defer span.End()

	unlock := c.locks.Lock(userID)
	defer unlock()

	q, err := c.getOrCreate(ctx, userID)
	if err != nil {
		return domain.UserQuota{}, err
	}
	newLimit := q.Limit + amount
	if err := c.store.UpdateCell(ctx, domain.SheetUsers, q.Row, domain.ColLimit, strconv.Itoa(newLimit)); err != nil {
		return domain.UserQuota{}, unavailable("update limit", err)
	}
	q.Limit = newLimit
	return q, nil
}

// Reserve checks userID's quota and, when a request may still be answered,
// holds one slot for it. The returned quota reflects the row as read.
//
// It returns domain.ErrQuotaExceeded when used_count plus the slots already
// held reaches the limit, and domain.ErrLedgerUnavailable on store failures.
// The caller must Commit the reservation after a successful answer or
// Release it otherwise.
func (c *Client) Reserve(ctx context.Context, userID string) (*Reservation, domain.UserQuota, error) {
	ctx, span := otel.Tracer("ledger/Client").Start(ctx, "Reserve",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer span.End()

	unlock := c.locks.Lock(userID)
	defer unlock()

	q, err := c.getOrCreate(ctx, userID)
	if err != nil {
		return nil, domain.UserQuota{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	held := c.inflight[userID]
	if q.Used+held >= q.Limit {
		span.SetAttributes(attribute.Bool("quota.exceeded", true))
		return nil, q, domain.ErrQuotaExceeded
	}
	c.inflight[userID] = held + 1
	return &Reservation{client: c, userID: userID}, q, nil
}

// InFlight returns the number of reservations currently held for userID.
func (c *Client) InFlight(userID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inflight[userID]
}

func (c *Client) release(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n := c.inflight[userID]; n > 1 {
		c.inflight[userID] = n - 1
	} else {
		delete(c.inflight, userID)
	}
}

// commit re-reads the row and writes used_count+1. The slot is released
// whether or not the write succeeds.
func (c *Client) commit(ctx context.Context, userID string) (domain.UserQuota, error) {
	unlock := c.locks.Lock(userID)
	defer unlock()
	defer c.release(userID)

	q, err := c.getOrCreate(ctx, userID)
	if err != nil {
		return domain.UserQuota{}, err
	}
	if err := c.IncrementUsage(ctx, q.Row, q.Used); err != nil {
		return q, err
	}
	q.Used++
	return q, nil
}

// getOrCreate must be called with userID's key lock held.
func (c *Client) getOrCreate(ctx context.Context, userID string) (domain.UserQuota, error) {
	row, err := c.store.FindByKey(ctx, domain.SheetUsers, userID)
	if err != nil {
		return domain.UserQuota{}, unavailable("find user", err)
	}
	if row != nil {
		q, err := decodeQuota(row)
		if err != nil {
			return domain.UserQuota{}, unavailable("decode user row", err)
		}
		return q, nil
	}

	num, err := c.store.AppendRow(ctx, domain.SheetUsers, []string{userID, "0", strconv.Itoa(c.defaultLimit)})
	if err != nil {
		return domain.UserQuota{}, unavailable("create user", err)
	}
	log.Info().Str("user_id", userID).Int("row", num).Int("limit", c.defaultLimit).Msg("ledger user created")
	return domain.UserQuota{UserID: userID, Row: num, Used: 0, Limit: c.defaultLimit}, nil
}

// decodeQuota turns a Users row into a UserQuota, naming the offending field
// when a cell is missing or not a number.
func decodeQuota(row *domain.Row) (domain.UserQuota, error) {
	id, ok := row.Cell(domain.ColUserID)
	if !ok || id == "" {
		return domain.UserQuota{}, fmt.Errorf("row %d: missing user_id", row.Num)
	}
	used, err := intCell(row, domain.ColUsed, "used_count")
	if err != nil {
		return domain.UserQuota{}, err
	}
	limit, err := intCell(row, domain.ColLimit, "limit")
	if err != nil {
		return domain.UserQuota{}, err
	}
	if used < 0 {
		return domain.UserQuota{}, fmt.Errorf("row %d: negative used_count %d", row.Num, used)
	}
	return domain.UserQuota{UserID: id, Row: row.Num, Used: used, Limit: limit}, nil
}

func intCell(row *domain.Row, col int, name string) (int, error) {
	raw, ok := row.Cell(col)
	if !ok || raw == "" {
		return 0, fmt.Errorf("row %d: missing %s", row.Num, name)
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("row %d: non-numeric %s %q", row.Num, name, raw)
	}
	return n, nil
}

func unavailable(op string, err error) error {
	if errors.Is(err, domain.ErrLedgerUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", domain.ErrLedgerUnavailable, op, err)
}
