package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-assistant-bot/internal/domain"
	"github.com/tbourn/go-assistant-bot/internal/http/middleware"
)

// QuotaAdmin is the ledger surface used by the admin endpoints.
// *ledger.Client satisfies it.
type QuotaAdmin interface {
	Get(ctx context.Context, userID string) (domain.UserQuota, error)
	GrantBonus(ctx context.Context, userID string, amount int) (domain.UserQuota, error)
	InFlight(userID string) int
}

// CodeAdmin seeds the redemption registry. *ledger.Registry satisfies it.
type CodeAdmin interface {
	Add(ctx context.Context, code string) error
}

// HistoryAdmin inspects and clears conversation windows. *history.Store
// satisfies it.
type HistoryAdmin interface {
	Entries(userID string) []domain.ConversationEntry
	Reset(userID string)
}

// Handlers groups the admin endpoints.
type Handlers struct {
	quotas  QuotaAdmin
	codes   CodeAdmin
	history HistoryAdmin
}

// New returns Handlers bound to the given collaborators.
func New(quotas QuotaAdmin, codes CodeAdmin, history HistoryAdmin) *Handlers {
	return &Handlers{quotas: quotas, codes: codes, history: history}
}

// QuotaView is a user's ledger row plus requests currently being answered.
type QuotaView struct {
	UserID    string `json:"user_id"`
	Used      int    `json:"used_count"`
	Limit     int    `json:"limit"`
	Remaining int    `json:"remaining"`
	InFlight  int    `json:"in_flight"`
}

// BonusRequest is the body of POST /quotas/:user_id/bonus.
type BonusRequest struct {
	Amount int `json:"amount" binding:"required,gt=0"`
}

// CodeRequest is the body of POST /codes.
type CodeRequest struct {
	Code string `json:"code" binding:"required"`
}

// EntryView is one remembered conversation turn.
type EntryView struct {
	Role    string `json:"role"`
	Kind    string `json:"kind"`
	Content string `json:"content"`
}

// GetQuota handles GET /quotas/:user_id. Unknown users are not created.
func (h *Handlers) GetQuota(c *gin.Context) {
	userID, okID := userParam(c)
	if !okID {
		return
	}
	q, err := h.quotas.Get(c.Request.Context(), userID)
	if err != nil {
		ledgerFail(c, err)
		return
	}
	ok(c, http.StatusOK, h.view(q))
}

// GrantBonus handles POST /quotas/:user_id/bonus. The user is created on
// first contact, like a redemption would.
func (h *Handlers) GrantBonus(c *gin.Context) {
	userID, okID := userParam(c)
	if !okID {
		return
	}
	var req BonusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "amount must be a positive integer")
		return
	}
	q, err := h.quotas.GrantBonus(c.Request.Context(), userID, req.Amount)
	if err != nil {
		ledgerFail(c, err)
		return
	}
	middleware.LoggerFrom(c).Info().Str("user_id", userID).Int("amount", req.Amount).Int("limit", q.Limit).Msg("admin bonus granted")
	ok(c, http.StatusOK, h.view(q))
}

// AddCode handles POST /codes.
func (h *Handlers) AddCode(c *gin.Context) {
	var req CodeRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Code) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "code is required")
		return
	}
	code := strings.TrimSpace(req.Code)
	if err := h.codes.Add(c.Request.Context(), code); err != nil {
		ledgerFail(c, err)
		return
	}
	ok(c, http.StatusCreated, gin.H{"code": code})
}

// GetHistory handles GET /history/:user_id. A user without history gets an
// empty list.
func (h *Handlers) GetHistory(c *gin.Context) {
	userID, okID := userParam(c)
	if !okID {
		return
	}
	entries := h.history.Entries(userID)
	out := make([]EntryView, 0, len(entries))
	for _, e := range entries {
		out = append(out, EntryView{Role: strings.ToLower(e.Role.String()), Kind: e.Kind.String(), Content: e.Content})
	}
	ok(c, http.StatusOK, gin.H{"user_id": userID, "entries": out})
}

// ResetHistory handles DELETE /history/:user_id.
func (h *Handlers) ResetHistory(c *gin.Context) {
	userID, okID := userParam(c)
	if !okID {
		return
	}
	h.history.Reset(userID)
	noContent(c)
}

func (h *Handlers) view(q domain.UserQuota) QuotaView {
	return QuotaView{
		UserID:    q.UserID,
		Used:      q.Used,
		Limit:     q.Limit,
		Remaining: q.Remaining(),
		InFlight:  h.quotas.InFlight(q.UserID),
	}
}

func userParam(c *gin.Context) (string, bool) {
	id := strings.TrimSpace(c.Param("user_id"))
	if id == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "user_id is required")
		return "", false
	}
	return id, true
}

// ledgerFail maps ledger errors onto HTTP statuses.
func ledgerFail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrUserNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "user not found")
	case errors.Is(err, domain.ErrLedgerUnavailable):
		_ = c.Error(err)
		fail(c, http.StatusServiceUnavailable, ErrCodeLedgerUnavailable, "ledger unavailable")
	default:
		_ = c.Error(err)
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "internal error")
	}
}
