// Package services – SessionService
//
// SessionService answers one inbound message per call to Handle. A text or
// photo message walks QuotaCheck → HistoryLoad → Generate → Format&Deliver →
// Persist; commands greet or redeem a code. Quota is reserved before the AI
// call and only committed after the answer was delivered, so failed requests
// never consume quota or touch conversation memory.
package services

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-assistant-bot/internal/domain"
	"github.com/tbourn/go-assistant-bot/internal/format"
	"github.com/tbourn/go-assistant-bot/internal/observability"
)

// ChatAction is the activity indicator shown while an answer is prepared.
type ChatAction string

const (
	ActionTyping      ChatAction = "typing"
	ActionUploadPhoto ChatAction = "upload_photo"
)

// Transport sends messages to a chat. markup is HTML.
type Transport interface {
	SendText(ctx context.Context, chatID int64, markup string) error
	SendTyping(ctx context.Context, chatID int64, action ChatAction) error
}

// PhotoFetcher downloads an inbound photo by its transport reference.
type PhotoFetcher interface {
	FetchPhoto(ctx context.Context, ref string) (*domain.Image, error)
}

// Generator produces the AI answer for a prompt and optional image.
type Generator interface {
	Generate(ctx context.Context, prompt string, img *domain.Image) (string, error)
}

// CodeRegistry validates redemption codes.
type CodeRegistry interface {
	IsValid(ctx context.Context, code string) bool
}

// History is the per-user conversation memory.
type History interface {
	AppendExchange(userID, request string, kind domain.EntryKind, answer string)
	Summary(userID string) string
}

// LogSink records completed exchanges.
type LogSink interface {
	Append(ctx context.Context, rec domain.LogRecord) error
}

// Outcome labels how a request ended. Used for metrics, spans and tests.
type Outcome string

const (
	OutcomeAnswered          Outcome = "answered"
	OutcomeQuotaExceeded     Outcome = "quota_exceeded"
	OutcomeLedgerUnavailable Outcome = "ledger_unavailable"
	OutcomeGenerationFailed  Outcome = "generation_failed"
	OutcomeDeliveryFailed    Outcome = "delivery_failed"
	OutcomeRedeemed          Outcome = "redeemed"
	OutcomeInvalidCode       Outcome = "invalid_code"
	OutcomeEmptyCode         Outcome = "empty_code"
	OutcomeGreeted           Outcome = "greeted"
	OutcomeIgnored           Outcome = "ignored"
	OutcomePanic             Outcome = "panic"
)

// DefaultBonus is the number of rights a valid code grants.
const DefaultBonus = 10

// SessionService composes the ledger, history, AI backend and transport.
// Logs may be nil. Now defaults to time.Now.
type SessionService struct {
	Ledger    QuotaLedger
	Codes     CodeRegistry
	History   History
	AI        Generator
	Transport Transport
	Photos    PhotoFetcher
	Logs      LogSink

	BotName     string
	BonusAmount int
	Now         func() time.Time
}

// Handle processes one inbound message and reports how it ended. It never
// panics: a panic in any collaborator is recovered, logged and answered with
// the generic error text.
func (s *SessionService) Handle(ctx context.Context, in domain.Inbound) (out Outcome) {
	tr := otel.Tracer("services/SessionService")
	ctx, span := tr.Start(ctx, "Handle",
		trace.WithAttributes(
			attribute.Int64("update.id", in.UpdateID),
			attribute.String("user.id", in.UserID),
			attribute.String("message.kind", in.Kind.String()),
		),
	)
	defer span.End()
	defer observability.TrackInflight()()

	logger := log.With().
		Int64("update_id", in.UpdateID).
		Str("user_id", in.UserID).
		Int64("chat_id", in.ChatID).
		Str("kind", in.Kind.String()).
		Logger()
	ctx = logger.WithContext(ctx)

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("handler panic recovered")
			observability.FailSpan(span, fmt.Errorf("panic: %v", r), "panic")
			s.reply(ctx, in.ChatID, ReplyTryAgain)
			out = OutcomePanic
		}
		span.SetAttributes(attribute.String("outcome", string(out)))
		observability.ObserveRequest(in.Kind.String(), string(out))
		logger.Debug().Str("outcome", string(out)).Msg("request handled")
	}()

	switch in.Kind {
	case domain.MessageCommand:
		return s.handleCommand(ctx, in)
	case domain.MessageText:
		return s.handleText(ctx, in)
	case domain.MessagePhoto:
		return s.handlePhoto(ctx, in)
	default:
		logger.Debug().Err(ErrUnsupported).Msg("inbound ignored")
		return OutcomeIgnored
	}
}

func (s *SessionService) handleCommand(ctx context.Context, in domain.Inbound) Outcome {
	cmd := strings.ToLower(in.Command)
	switch {
	case cmd == "start":
		s.reply(ctx, in.ChatID, ReplyGreeting(s.BotName))
		return OutcomeGreeted
	case isCodeCommand(cmd):
		return s.Redeem(ctx, in)
	default:
		return OutcomeIgnored
	}
}

func (s *SessionService) handleText(ctx context.Context, in domain.Inbound) Outcome {
	if strings.TrimSpace(in.Text) == "" {
		return OutcomeIgnored
	}
	res, out, ok := s.reserve(ctx, in, ReplyQuotaExceeded)
	if !ok {
		return out
	}
	defer res.Release()

	prompt := BuildTextPrompt(s.History.Summary(in.UserID), in.Text, in.Quoted)
	s.typing(ctx, in.ChatID, ActionTyping)

	answer, err := s.generate(ctx, in.Kind, prompt, nil)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("ai error")
		s.reply(ctx, in.ChatID, ReplyTryAgain)
		return OutcomeGenerationFailed
	}
	if err := s.deliver(ctx, in.ChatID, answer); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("answer not delivered")
		return OutcomeDeliveryFailed
	}
	s.persist(ctx, in, res, in.Text, domain.KindText, answer)
	return OutcomeAnswered
}

func (s *SessionService) handlePhoto(ctx context.Context, in domain.Inbound) Outcome {
	if in.PhotoRef == "" {
		return OutcomeIgnored
	}
	res, out, ok := s.reserve(ctx, in, ReplyPhotoQuotaExceeded)
	if !ok {
		return out
	}
	defer res.Release()

	s.typing(ctx, in.ChatID, ActionUploadPhoto)
	img, err := s.fetchPhoto(ctx, in.PhotoRef)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("image error")
		s.reply(ctx, in.ChatID, ReplyPhotoError)
		return OutcomeGenerationFailed
	}

	caption := strings.TrimSpace(in.Caption)
	prompt := BuildPhotoPrompt(s.History.Summary(in.UserID), caption)
	answer, err := s.generate(ctx, in.Kind, prompt, img)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("image error")
		s.reply(ctx, in.ChatID, ReplyPhotoError)
		return OutcomeGenerationFailed
	}
	if err := s.deliver(ctx, in.ChatID, answer); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("answer not delivered")
		return OutcomeDeliveryFailed
	}
	s.persist(ctx, in, res, PhotoNote(caption), domain.KindPhoto, answer)
	return OutcomeAnswered
}

// Redeem handles "/code <value>". It never touches history or usage.
func (s *SessionService) Redeem(ctx context.Context, in domain.Inbound) Outcome {
	logger := zerolog.Ctx(ctx)
	if _, err := s.Ledger.GetOrCreate(ctx, in.UserID); err != nil {
		logger.Error().Err(err).Msg("ledger read failed")
		s.reply(ctx, in.ChatID, ReplySystemError)
		return OutcomeLedgerUnavailable
	}

	code := ParseCode(in.Text, in.Args)
	if code == "" {
		s.reply(ctx, in.ChatID, ReplyEmptyCode)
		return OutcomeEmptyCode
	}
	if !s.Codes.IsValid(ctx, code) {
		logger.Info().Err(domain.ErrInvalidCode).Msg("redemption rejected")
		s.reply(ctx, in.ChatID, ReplyInvalidCode)
		return OutcomeInvalidCode
	}

	amount := s.bonus()
	q, err := s.Ledger.GrantBonus(ctx, in.UserID, amount)
	if err != nil {
		logger.Error().Err(err).Msg("bonus grant failed")
		s.reply(ctx, in.ChatID, ReplySystemError)
		return OutcomeLedgerUnavailable
	}
	logger.Info().Int("amount", amount).Int("limit", q.Limit).Int("used", q.Used).Msg("code redeemed")
	s.reply(ctx, in.ChatID, ReplyCodeAccepted(amount))
	return OutcomeRedeemed
}

// reserve runs QuotaCheck. On rejection it has already replied.
func (s *SessionService) reserve(ctx context.Context, in domain.Inbound, exhausted string) (Reservation, Outcome, bool) {
	res, q, err := s.Ledger.Reserve(ctx, in.UserID)
	switch {
	case err == nil:
		return res, "", true
	case errors.Is(err, domain.ErrQuotaExceeded):
		zerolog.Ctx(ctx).Info().Int("used", q.Used).Int("limit", q.Limit).Msg("quota exhausted")
		s.reply(ctx, in.ChatID, exhausted)
		return nil, OutcomeQuotaExceeded, false
	default:
		zerolog.Ctx(ctx).Error().Err(err).Msg("ledger read failed")
		s.reply(ctx, in.ChatID, ReplySystemError)
		return nil, OutcomeLedgerUnavailable, false
	}
}

func (s *SessionService) generate(ctx context.Context, kind domain.MessageKind, prompt string, img *domain.Image) (string, error) {
	start := time.Now()
	answer, err := s.AI.Generate(ctx, prompt, img)
	if err == nil && strings.TrimSpace(answer) == "" {
		err = fmt.Errorf("%w: empty answer", domain.ErrGeneration)
	}
	observability.ObserveGeneration(kind.String(), time.Since(start), err == nil)
	if err != nil {
		observability.FailSpan(trace.SpanFromContext(ctx), err, "generation failed")
		return "", err
	}
	return answer, nil
}

func (s *SessionService) fetchPhoto(ctx context.Context, ref string) (*domain.Image, error) {
	if s.Photos == nil {
		return nil, ErrPhotoFetch
	}
	img, err := s.Photos.FetchPhoto(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPhotoFetch, err)
	}
	if img == nil || len(img.Data) == 0 {
		return nil, fmt.Errorf("%w: empty image", ErrPhotoFetch)
	}
	return img, nil
}

// deliver formats the raw answer once and sends it.
func (s *SessionService) deliver(ctx context.Context, chatID int64, answer string) error {
	if err := s.Transport.SendText(ctx, chatID, format.Render(answer)); err != nil {
		return fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	return nil
}

// persist runs after a delivered answer. It is detached from request
// cancellation; its failures are logged and never reach the user.
func (s *SessionService) persist(ctx context.Context, in domain.Inbound, res Reservation, request string, kind domain.EntryKind, answer string) {
	ctx = context.WithoutCancel(ctx)
	logger := zerolog.Ctx(ctx)

	s.History.AppendExchange(in.UserID, request, kind, answer)

	if q, err := res.Commit(ctx); err != nil {
		logger.Error().Err(err).Msg("usage increment failed")
	} else {
		logger.Debug().Int("used", q.Used).Int("limit", q.Limit).Msg("usage committed")
	}

	if s.Logs == nil {
		return
	}
	rec := domain.LogRecord{
		Timestamp: s.now(),
		UserID:    in.UserID,
		UserName:  in.UserName,
		Request:   request,
		Reply:     answer,
	}
	if err := s.Logs.Append(ctx, rec); err != nil {
		logger.Warn().Err(err).Msg("log row not written")
	}
}

// reply sends a fixed text. Failures are logged only.
func (s *SessionService) reply(ctx context.Context, chatID int64, text string) {
	if err := s.Transport.SendText(ctx, chatID, format.Escape(text)); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("reply not delivered")
	}
}

func (s *SessionService) typing(ctx context.Context, chatID int64, action ChatAction) {
	if err := s.Transport.SendTyping(ctx, chatID, action); err != nil {
		zerolog.Ctx(ctx).Debug().Err(err).Msg("chat action failed")
	}
}

func (s *SessionService) bonus() int {
	if s.BonusAmount > 0 {
		return s.BonusAmount
	}
	return DefaultBonus
}

func (s *SessionService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
