package telegram

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// ZeroLogger routes the library's internal messages (poll retries, debug
// dumps) into zerolog.
type ZeroLogger struct {
	l zerolog.Logger
}

// NewZeroLogger returns a tgbotapi.BotLogger writing to l at warn level.
func NewZeroLogger(l zerolog.Logger) *ZeroLogger {
	return &ZeroLogger{l: l.With().Str("component", "tgbotapi").Logger()}
}

func (b *ZeroLogger) Println(v ...interface{}) {
	b.l.Warn().Msg(strings.TrimSuffix(fmt.Sprintln(v...), "\n"))
}

func (b *ZeroLogger) Printf(format string, v ...interface{}) {
	b.l.Warn().Msg(strings.TrimSuffix(fmt.Sprintf(format, v...), "\n"))
}
