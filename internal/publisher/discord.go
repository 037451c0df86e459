package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ryosukesatoh/feed-digest/internal/classify"
	"github.com/ryosukesatoh/feed-digest/internal/digest"
	"github.com/ryosukesatoh/feed-digest/internal/retry"
)

const (
	discordColor      = 0x5865F2 // Discord blurple
	discordFlagColor  = 0xE67E22
	discordBatchDelay = 500 * time.Millisecond
)

type discordEmbedFooter struct {
	Text string `json:"text"`
}

type discordEmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

type discordEmbed struct {
	Title       string              `json:"title,omitempty"`
	URL         string              `json:"url,omitempty"`
	Description string              `json:"description,omitempty"`
	Color       int                 `json:"color,omitempty"`
	Fields      []discordEmbedField `json:"fields,omitempty"`
	Footer      *discordEmbedFooter `json:"footer,omitempty"`
	Timestamp   string              `json:"timestamp,omitempty"`
}

type discordWebhookPayload struct {
	Embeds []discordEmbed `json:"embeds"`
}

// DiscordPublisher publishes digests to a Discord channel via webhook.
type DiscordPublisher struct {
	webhookURL string
	client     *http.Client
	batchDelay time.Duration
}

// NewDiscordPublisher creates a new DiscordPublisher.
func NewDiscordPublisher(webhookURL string, timeout time.Duration) *DiscordPublisher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &DiscordPublisher{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: timeout},
		batchDelay: discordBatchDelay,
	}
}

// Publish sends the message to Discord as a series of rich embeds.
func (d *DiscordPublisher) Publish(ctx context.Context, msg Message) error {
	embeds := d.buildEmbeds(msg)
	batches := batchEmbeds(embeds)

	for i, batch := range batches {
		if err := d.sendWebhook(ctx, batch); err != nil {
			return fmt.Errorf("discord: failed to send batch %d: %w", i+1, err)
		}

		// Delay between batches to avoid rate limits.
		if i < len(batches)-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d.batchDelay):
			}
		}
	}
	return nil
}

// buildEmbeds creates the header embed and one embed per digest entry.
func (d *DiscordPublisher) buildEmbeds(msg Message) []discordEmbed {
	if msg.Digest == nil || msg.Digest.Empty() {
		return []discordEmbed{{
			Title:       truncate(msg.Title, 256),
			Description: truncate(msg.Body, 4096),
			Color:       discordColor,
		}}
	}

	dg := msg.Digest
	header := discordEmbed{
		Title:       truncate(msg.Title, 256),
		Description: truncate(dg.Footer(), 4096),
		Color:       discordColor,
		Footer:      &discordEmbedFooter{Text: dg.GeneratedAt.Format("2006-01-02 15:04 -07:00")},
		Timestamp:   dg.GeneratedAt.Format(time.RFC3339),
	}
	if msg.ArchiveURL != "" {
		header.URL = msg.ArchiveURL
		header.Fields = []discordEmbedField{{Name: "Full digest", Value: msg.ArchiveURL}}
	}
	embeds := []discordEmbed{header}

	for _, sec := range dg.Sections {
		for _, e := range sec.Entries {
			embeds = append(embeds, entryEmbed(sec.Source, e))
		}
	}
	return embeds
}

func entryEmbed(source string, e digest.Entry) discordEmbed {
	em := discordEmbed{
		Title:       truncate(fmt.Sprintf("【%s】%s", source, e.Article.Title), 256),
		URL:         e.Article.Link,
		Description: truncate(e.Summary, 4096),
		Color:       discordColor,
	}
	if e.Category != "" && e.Category != classify.Normal {
		em.Color = discordFlagColor
		em.Fields = append(em.Fields, discordEmbedField{Name: "Category", Value: string(e.Category), Inline: true})
	}
	if len(e.Tags) > 0 {
		em.Fields = append(em.Fields, discordEmbedField{
			Name:   "Tags",
			Value:  truncate(formatTags(e.Tags), 1024),
			Inline: true,
		})
	}

	var footerParts []string
	if e.Article.Author != "" {
		footerParts = append(footerParts, e.Article.Author)
	}
	if e.Fallback {
		footerParts = append(footerParts, "feed excerpt")
	}
	if len(footerParts) > 0 {
		em.Footer = &discordEmbedFooter{Text: truncate(strings.Join(footerParts, " | "), 2048)}
	}
	if !e.Article.Published.IsZero() {
		em.Timestamp = e.Article.Published.Format(time.RFC3339)
	}
	return em
}

// batchEmbeds splits embeds into batches respecting Discord limits:
// max 10 embeds per message, max 6000 total characters per message.
func batchEmbeds(embeds []discordEmbed) [][]discordEmbed {
	var batches [][]discordEmbed
	var current []discordEmbed
	currentChars := 0

	for _, e := range embeds {
		ec := embedCharCount(e)

		if len(current) > 0 && (len(current) >= 10 || currentChars+ec > 6000) {
			batches = append(batches, current)
			current = nil
			currentChars = 0
		}

		current = append(current, e)
		currentChars += ec
	}

	if len(current) > 0 {
		batches = append(batches, current)
	}

	return batches
}

// sendWebhook posts a batch of embeds to the Discord webhook.
func (d *DiscordPublisher) sendWebhook(ctx context.Context, embeds []discordEmbed) error {
	body, err := json.Marshal(discordWebhookPayload{Embeds: embeds})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", stripURL(err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", stripURL(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &retry.StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	return nil
}

// truncate shortens s to at most max bytes, preferring a sentence boundary.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}

	cut := s[:max-len("…")]
	for !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}
	// Try to cut at a sentence boundary.
	if idx := strings.LastIndexAny(cut, ".!?"); idx > max/2 {
		return cut[:idx+1]
	}
	return cut + "…"
}

// formatTags renders tags as inline hashtags.
func formatTags(tags []string) string {
	out := make([]string, len(tags))
	for i, t := range tags {
		out[i] = "#" + strings.ReplaceAll(t, " ", "_")
	}
	return strings.Join(out, " ")
}

// embedCharCount returns the total character count of an embed for batching purposes.
func embedCharCount(e discordEmbed) int {
	n := len(e.Title) + len(e.Description)
	for _, f := range e.Fields {
		n += len(f.Name) + len(f.Value)
	}
	if e.Footer != nil {
		n += len(e.Footer.Text)
	}
	return n
}
