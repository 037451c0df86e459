package publisher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf16"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/ryosukesatoh/feed-digest/internal/retry"
)

const telegramMaxMessage = 4096

// TelegramPublisher sends messages to a chat through the Bot API.
type TelegramPublisher struct {
	token    string
	chatID   int64
	endpoint string
	client   *http.Client
}

func NewTelegramPublisher(token, chatID string, timeout time.Duration) (*TelegramPublisher, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(chatID), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("telegram: invalid chat id %q: %w", chatID, err)
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &TelegramPublisher{
		token:    token,
		chatID:   id,
		endpoint: tgbotapi.APIEndpoint,
		client:   &http.Client{Timeout: timeout},
	}, nil
}

func (p *TelegramPublisher) Publish(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	bot, err := tgbotapi.NewBotAPIWithClient(p.token, p.endpoint, p.client)
	if err != nil {
		return fmt.Errorf("telegram: failed to connect bot: %w", telegramError(err))
	}

	text := msg.Title + "\n\n" + msg.Body
	for i, chunk := range splitMessage(text, telegramMaxMessage) {
		if err := ctx.Err(); err != nil {
			return err
		}
		m := tgbotapi.NewMessage(p.chatID, chunk)
		m.DisableWebPagePreview = true
		if _, err := bot.Send(m); err != nil {
			return fmt.Errorf("telegram: failed to send part %d: %w", i+1, telegramError(err))
		}
	}
	return nil
}

// telegramError maps Bot API failures onto StatusError so retry policies
// can tell rate limits and server errors from permanent rejections. The
// bot token is stripped from transport errors.
func telegramError(err error) error {
	var te *tgbotapi.Error
	if errors.As(err, &te) && te.Code != 0 {
		return &retry.StatusError{Code: te.Code, Body: te.Message}
	}
	var tv tgbotapi.Error
	if errors.As(err, &tv) && tv.Code != 0 {
		return &retry.StatusError{Code: tv.Code, Body: tv.Message}
	}
	return stripURL(err)
}

// splitMessage breaks text into chunks of at most limit UTF-16 code units,
// which is how the Bot API measures message length, preferring line
// boundaries. Surrogate pairs are never split.
func splitMessage(text string, limit int) []string {
	var chunks []string
	var cur strings.Builder
	curLen := 0

	flush := func() {
		if c := strings.TrimRight(cur.String(), "\n"); c != "" {
			chunks = append(chunks, c)
		}
		cur.Reset()
		curLen = 0
	}

	for _, line := range strings.SplitAfter(text, "\n") {
		n := utf16Len(line)
		if curLen+n > limit {
			flush()
		}
		if n <= limit {
			cur.WriteString(line)
			curLen += n
			continue
		}
		for _, r := range line {
			w := utf16.RuneLen(r)
			if curLen+w > limit {
				flush()
			}
			cur.WriteRune(r)
			curLen += w
		}
	}
	flush()
	return chunks
}

func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		n += utf16.RuneLen(r)
	}
	return n
}
