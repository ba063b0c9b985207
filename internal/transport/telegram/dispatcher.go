package telegram

import (
	"context"
	"errors"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-assistant-bot/internal/domain"
	"github.com/tbourn/go-assistant-bot/internal/observability"
	"github.com/tbourn/go-assistant-bot/internal/ratelimit"
	"github.com/tbourn/go-assistant-bot/internal/repo"
	"github.com/tbourn/go-assistant-bot/internal/services"
)

const (
	// DefaultHandlerTimeout bounds one update's handling, AI call included.
	DefaultHandlerTimeout = 3 * time.Minute

	purgeEvery = 500
)

// UpdateSource yields long-polled updates. *tgbotapi.BotAPI satisfies it.
type UpdateSource interface {
	GetUpdatesChan(cfg tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Handler answers one inbound message.
type Handler interface {
	Handle(ctx context.Context, in domain.Inbound) services.Outcome
}

// Deduper remembers handled update ids. MarkProcessed returns
// repo.ErrDuplicate for an update that was already handled.
type Deduper interface {
	MarkProcessed(ctx context.Context, updateID int64, userID string) error
	Purge(ctx context.Context) (int64, error)
}

// Dispatcher pulls updates and runs the handler for each in its own
// goroutine. Limiter and Dedup are optional.
type Dispatcher struct {
	Source         UpdateSource
	Handler        Handler
	Limiter        *ratelimit.Limiter
	Dedup          Deduper
	PollTimeout    time.Duration
	HandlerTimeout time.Duration

	wg   sync.WaitGroup
	seen int
}

// Run polls until ctx is done or the update channel closes, then waits for
// in-flight handlers. Handlers keep running after ctx is canceled, bounded
// by HandlerTimeout, so an answer in progress is delivered and counted.
func (d *Dispatcher) Run(ctx context.Context) error {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = int(d.PollTimeout / time.Second)
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60
	}
	cfg.AllowedUpdates = []string{"message"}
	updates := d.Source.GetUpdatesChan(cfg)

	log.Info().Int("poll_timeout_s", cfg.Timeout).Msg("telegram polling started")
	defer func() {
		d.wg.Wait()
		log.Info().Msg("telegram dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			d.Source.StopReceivingUpdates()
			return nil
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			d.Dispatch(ctx, u)
		}
	}
}

// Dispatch filters one update and, when accepted, starts its handler.
func (d *Dispatcher) Dispatch(ctx context.Context, u tgbotapi.Update) {
	in, ok := ToInbound(u)
	if !ok {
		observability.ObserveDropped("unsupported")
		return
	}
	logger := log.With().Int64("update_id", in.UpdateID).Str("user_id", in.UserID).Logger()

	if d.Dedup != nil {
		err := d.Dedup.MarkProcessed(ctx, in.UpdateID, in.UserID)
		switch {
		case errors.Is(err, repo.ErrDuplicate):
			logger.Info().Msg("duplicate update skipped")
			observability.ObserveDropped("duplicate")
			return
		case err != nil:
			// fail open
			logger.Warn().Err(err).Msg("update dedupe unavailable")
		}
		d.maybePurge(ctx)
	}

	if d.Limiter != nil && !d.Limiter.Allow(in.UserID) {
		logger.Warn().Msg("user rate limited, update dropped")
		observability.ObserveDropped("rate_limited")
		return
	}

	timeout := d.HandlerTimeout
	if timeout <= 0 {
		timeout = DefaultHandlerTimeout
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		d.Handler.Handle(hctx, in)
	}()
}

// Wait blocks until every started handler has returned.
func (d *Dispatcher) Wait() { d.wg.Wait() }

// maybePurge drops expired dedupe records every purgeEvery updates. It runs
// on the polling goroutine only.
func (d *Dispatcher) maybePurge(ctx context.Context) {
	d.seen++
	if d.seen < purgeEvery {
		return
	}
	d.seen = 0
	n, err := d.Dedup.Purge(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("purge processed updates failed")
		return
	}
	log.Debug().Int64("purged", n).Msg("expired processed updates purged")
}
