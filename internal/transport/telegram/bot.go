// Package telegram adapts the Telegram Bot API to the session orchestrator:
// Bot sends replies and downloads photos, Dispatcher turns long-polled
// updates into domain.Inbound values and runs one handler per update.
package telegram

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/tbourn/go-assistant-bot/internal/domain"
	"github.com/tbourn/go-assistant-bot/internal/services"
)

// DefaultMaxPhotoBytes caps photo downloads.
const DefaultMaxPhotoBytes = 10 << 20

// botAPI is the subset of *tgbotapi.BotAPI used for outgoing calls.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
}

// Bot implements services.Transport and services.PhotoFetcher.
type Bot struct {
	api           botAPI
	client        *http.Client
	maxPhotoBytes int64
}

// NewBot wraps api. A nil client uses http.DefaultClient.
func NewBot(api botAPI, client *http.Client) *Bot {
	if client == nil {
		client = http.DefaultClient
	}
	return &Bot{api: api, client: client, maxPhotoBytes: DefaultMaxPhotoBytes}
}

// SendText sends markup to chatID with HTML parse mode.
func (b *Bot) SendText(ctx context.Context, chatID int64, markup string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(chatID, markup)
	msg.ParseMode = tgbotapi.ModeHTML
	if _, err := b.api.Send(msg); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

// SendTyping shows action in chatID.
func (b *Bot) SendTyping(ctx context.Context, chatID int64, action services.ChatAction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := b.api.Request(tgbotapi.NewChatAction(chatID, string(action))); err != nil {
		return fmt.Errorf("telegram chat action: %w", err)
	}
	return nil
}

// FetchPhoto downloads the file behind a photo file id into memory.
func (b *Bot) FetchPhoto(ctx context.Context, ref string) (*domain.Image, error) {
	url, err := b.api.GetFileDirectURL(ref)
	if err != nil {
		return nil, fmt.Errorf("resolve file: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download file: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, b.maxPhotoBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	if int64(len(data)) > b.maxPhotoBytes {
		return nil, fmt.Errorf("photo larger than %d bytes", b.maxPhotoBytes)
	}
	return &domain.Image{Data: data, MIMEType: imageMIME(resp.Header.Get("Content-Type"), data)}, nil
}

// imageMIME prefers a served image/* type and falls back to sniffing.
func imageMIME(header string, data []byte) string {
	if mt, _, _ := strings.Cut(header, ";"); strings.HasPrefix(strings.TrimSpace(mt), "image/") {
		return strings.TrimSpace(mt)
	}
	if mt := http.DetectContentType(data); strings.HasPrefix(mt, "image/") {
		return mt
	}
	return "image/jpeg"
}
