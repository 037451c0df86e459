package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ryosukesatoh/feed-digest/internal/fetcher"
	"github.com/ryosukesatoh/feed-digest/internal/retry"
)

const serverChanTitleRunes = 32

// ServerChanPublisher pushes messages through a ServerChan send URL
// (https://sctapi.ftqq.com/<sendkey>.send).
type ServerChanPublisher struct {
	sendURL string
	client  *http.Client
}

func NewServerChanPublisher(sendURL string, timeout time.Duration) *ServerChanPublisher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &ServerChanPublisher{
		sendURL: sendURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type serverChanResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (p *ServerChanPublisher) Publish(ctx context.Context, msg Message) error {
	form := url.Values{}
	form.Set("title", fetcher.Truncate(msg.Title, serverChanTitleRunes))
	form.Set("desp", msg.Body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.sendURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("serverchan: failed to create request: %w", stripURL(err))
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("serverchan: request failed: %w", stripURL(err))
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("serverchan: %w", &retry.StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))})
	}

	var sr serverChanResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return fmt.Errorf("serverchan: failed to parse response: %w", err)
	}
	if sr.Code != 0 {
		return fmt.Errorf("serverchan: push rejected (code %d): %s", sr.Code, sr.Message)
	}
	return nil
}
