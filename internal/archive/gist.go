package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ryosukesatoh/feed-digest/internal/config"
	"github.com/ryosukesatoh/feed-digest/internal/retry"
)

const defaultGistEndpoint = "https://api.github.com/gists"

// Archiver uploads the full digest and returns a permanent URL for it.
type Archiver interface {
	Archive(ctx context.Context, name, content string) (string, error)
}

// New returns nil when archiving is disabled or no token is configured.
func New(cfg *config.Config) Archiver {
	if !cfg.ArchiveEnabled() {
		return nil
	}
	return NewGistArchiver(cfg.Archive.Endpoint, cfg.Secrets.ArchiveToken, cfg.Archive.Public, cfg.Publisher.Timeout)
}

// GistArchiver stores each digest as a GitHub gist.
type GistArchiver struct {
	endpoint string
	token    string
	public   bool
	client   *http.Client
}

func NewGistArchiver(endpoint, token string, public bool, timeout time.Duration) *GistArchiver {
	if endpoint == "" {
		endpoint = defaultGistEndpoint
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &GistArchiver{
		endpoint: endpoint,
		token:    token,
		public:   public,
		client:   &http.Client{Timeout: timeout},
	}
}

type gistFile struct {
	Content string `json:"content"`
}

type gistRequest struct {
	Description string              `json:"description"`
	Public      bool                `json:"public"`
	Files       map[string]gistFile `json:"files"`
}

type gistResponse struct {
	HTMLURL string `json:"html_url"`
}

func (g *GistArchiver) Archive(ctx context.Context, name, content string) (string, error) {
	body, err := json.Marshal(gistRequest{
		Description: strings.TrimSuffix(name, ".md"),
		Public:      g.public,
		Files:       map[string]gistFile{name: {Content: content}},
	})
	if err != nil {
		return "", fmt.Errorf("gist: failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("gist: failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Authorization", "Bearer "+g.token)
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("gist: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("gist: %w", &retry.StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))})
	}

	var gr gistResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return "", fmt.Errorf("gist: failed to parse response: %w", err)
	}
	if gr.HTMLURL == "" {
		return "", fmt.Errorf("gist: response has no html_url")
	}
	return gr.HTMLURL, nil
}
