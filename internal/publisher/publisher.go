package publisher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"

	"github.com/ryosukesatoh/feed-digest/internal/config"
	"github.com/ryosukesatoh/feed-digest/internal/digest"
)

// Message is one notification.
type Message struct {
	Title string
	Body  string // Markdown

	// Digest is nil for the empty-run confirmation.
	Digest     *digest.Digest
	ArchiveURL string
}

// Publisher delivers a message to some output destination. Implementations
// make a single attempt; retries are the caller's concern.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// New creates the publisher selected by publisher.type.
func New(cfg *config.Config) (Publisher, error) {
	return newPublisher(cfg, os.Stdout)
}

func newPublisher(cfg *config.Config, out io.Writer) (Publisher, error) {
	pc := cfg.Publisher
	switch pc.Type {
	case "serverchan":
		return NewServerChanPublisher(cfg.Secrets.WebhookURL, pc.Timeout), nil
	case "discord":
		return NewDiscordPublisher(cfg.Secrets.WebhookURL, pc.Timeout), nil
	case "telegram":
		p, err := NewTelegramPublisher(cfg.Secrets.TelegramToken, cfg.Secrets.TelegramChatID, pc.Timeout)
		if err != nil {
			return nil, err
		}
		return p, nil
	case "stdout", "":
		return NewStdoutPublisher(out), nil
	default:
		return nil, fmt.Errorf("publisher: unsupported type %q", pc.Type)
	}
}

// stripURL drops the request URL from transport errors; webhook URLs embed
// credentials.
func stripURL(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return fmt.Errorf("%s: %w", ue.Op, ue.Err)
	}
	return err
}
