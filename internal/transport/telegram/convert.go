package telegram

import (
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/tbourn/go-assistant-bot/internal/domain"
)

var foldCommand = cases.Fold()

// ToInbound converts an update into a transport-neutral message. It reports
// false for updates the bot does not answer (edits, channel posts, stickers,
// messages without a sender).
func ToInbound(u tgbotapi.Update) (domain.Inbound, bool) {
	m := u.Message
	if m == nil || m.From == nil || m.Chat == nil {
		return domain.Inbound{}, false
	}
	in := domain.Inbound{
		UpdateID: int64(u.UpdateID),
		UserID:   strconv.FormatInt(m.From.ID, 10),
		UserName: displayName(m.From),
		ChatID:   m.Chat.ID,
		Text:     m.Text,
		Caption:  m.Caption,
	}
	if r := m.ReplyToMessage; r != nil {
		in.Quoted = r.Text
		if in.Quoted == "" {
			in.Quoted = r.Caption
		}
	}

	switch {
	case m.IsCommand():
		in.Kind = domain.MessageCommand
		in.Command = foldCommand.String(m.Command())
		in.Args = strings.Fields(m.CommandArguments())
	case len(m.Photo) > 0:
		in.Kind = domain.MessagePhoto
		// sizes are ordered smallest first
		in.PhotoRef = m.Photo[len(m.Photo)-1].FileID
	case strings.TrimSpace(m.Text) != "":
		in.Kind = domain.MessageText
	default:
		return domain.Inbound{}, false
	}
	return in, true
}

// displayName is the sender's first name, falling back to the username,
// NFC-normalized so log rows compare equal regardless of client encoding.
func displayName(u *tgbotapi.User) string {
	name := strings.TrimSpace(u.FirstName)
	if name == "" {
		name = strings.TrimSpace(u.UserName)
	}
	return norm.NFC.String(name)
}
