package summarizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ryosukesatoh/feed-digest/internal/config"
	"github.com/ryosukesatoh/feed-digest/internal/fetcher"
	"github.com/ryosukesatoh/feed-digest/internal/retry"
)

const maxTags = 5

// DefaultSystemPrompt asks for tags and a short summary in a parseable form.
const DefaultSystemPrompt = `You summarize articles for a daily news digest.
Reply in the language the article is written in.
Output exactly two sections and nothing else:
TAGS: 3-5 short topic tags separated by commas
SUMMARY: the article's core points and key figures in at most five short sentences`

// ErrUnsupportedProvider is returned when an unsupported provider is specified
var ErrUnsupportedProvider = errors.New("unsupported summarizer provider")

var errEmptySummary = errors.New("summarizer: response contained no summary")

// Completer is a black-box text completion service.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// Result is the summary of one article.
type Result struct {
	Summary  string
	Tags     []string
	Fallback bool  // Summary is the feed excerpt
	Err      error // last error when Fallback is set
}

// Summarizer turns articles into short summaries, degrading to the feed
// excerpt when the completion service keeps failing.
type Summarizer struct {
	completer Completer
	system    string
	maxInput  int
	timeout   time.Duration
	policy    retry.Policy
	logger    *slog.Logger
}

// New creates a summarizer for the configured provider.
func New(cfg *config.Config, logger *slog.Logger) (*Summarizer, error) {
	sc := cfg.Summarizer
	var c Completer
	switch sc.Provider {
	case "openai", "":
		c = NewOpenAICompleter(sc.Endpoint, cfg.Secrets.AIAPIKey, sc.Model, sc.MaxTokens)
	case "anthropic":
		c = NewAnthropicCompleter(sc.Endpoint, cfg.Secrets.AIAPIKey, sc.Model, sc.MaxTokens)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, sc.Provider)
	}
	s := NewSummarizer(c, retry.FromConfig(sc.Retry), logger)
	s.timeout = sc.Timeout
	if sc.MaxInputChars > 0 {
		s.maxInput = sc.MaxInputChars
	}
	if sc.SystemPrompt != "" {
		s.system = sc.SystemPrompt
	}
	return s, nil
}

func NewSummarizer(c Completer, policy retry.Policy, logger *slog.Logger) *Summarizer {
	return &Summarizer{
		completer: c,
		system:    DefaultSystemPrompt,
		maxInput:  4000,
		timeout:   60 * time.Second,
		policy:    policy,
		logger:    logger,
	}
}

// Summarize never fails: after the retry policy is exhausted the feed
// excerpt is returned with Fallback set.
func (s *Summarizer) Summarize(ctx context.Context, a fetcher.Article) Result {
	prompt := s.buildPrompt(a)

	var res Result
	err := s.policy.Do(ctx, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()

		text, err := s.completer.Complete(callCtx, s.system, prompt)
		if err != nil {
			return err
		}
		summary, tags := ParseResponse(text)
		if summary == "" {
			return errEmptySummary
		}
		res = Result{Summary: summary, Tags: tags}
		return nil
	}, func(attempt int, err error, wait time.Duration) {
		s.logger.Warn("summarize attempt failed, retrying", "title", a.Title, "attempt", attempt, "wait", wait.Round(time.Millisecond), "error", err)
	})
	if err != nil {
		s.logger.Warn("summarization failed, using feed excerpt", "source", a.Source, "title", a.Title, "error", err)
		return Result{Summary: Excerpt(a), Fallback: true, Err: err}
	}
	return res
}

// Excerpt is the feed-provided text shown when no AI summary exists.
func Excerpt(a fetcher.Article) string {
	if a.Excerpt != "" {
		return a.Excerpt
	}
	return fetcher.Truncate(a.Body, 200)
}

func (s *Summarizer) buildPrompt(a fetcher.Article) string {
	body := a.Body
	if strings.TrimSpace(body) == "" {
		body = a.Excerpt
	}
	var sb strings.Builder
	sb.WriteString("Title: ")
	sb.WriteString(a.Title)
	sb.WriteString("\n")
	if a.Author != "" {
		sb.WriteString("Author: ")
		sb.WriteString(a.Author)
		sb.WriteString("\n")
	}
	sb.WriteString("Source: ")
	sb.WriteString(a.Source)
	sb.WriteString("\n\nContent:\n")
	sb.WriteString(fetcher.Truncate(body, s.maxInput))
	return sb.String()
}

var (
	tagMarkers     = []string{"tags:", "tags：", "【标签】"}
	summaryMarkers = []string{"summary:", "summary：", "【总结】"}
)

// ParseResponse extracts the summary and tags from a completion. Text with
// no section markers is taken as the summary verbatim.
func ParseResponse(text string) (summary string, tags []string) {
	text = strings.TrimSpace(text)
	var (
		summaryLines []string
		otherLines   []string
		inSummary    bool
		sawSummary   bool
	)
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimLeft(strings.TrimSpace(line), "*#> ")
		trimmed = strings.ReplaceAll(trimmed, "**", "")
		if rest, ok := cutMarker(trimmed, tagMarkers); ok {
			tags = splitTags(rest)
			inSummary = false
			continue
		}
		if rest, ok := cutMarker(trimmed, summaryMarkers); ok {
			inSummary, sawSummary = true, true
			if rest != "" {
				summaryLines = append(summaryLines, rest)
			}
			continue
		}
		if inSummary {
			summaryLines = append(summaryLines, line)
		} else {
			otherLines = append(otherLines, line)
		}
	}
	if sawSummary {
		return strings.TrimSpace(strings.Join(summaryLines, "\n")), tags
	}
	return strings.TrimSpace(strings.Join(otherLines, "\n")), tags
}

func cutMarker(line string, markers []string) (string, bool) {
	lower := strings.ToLower(line)
	for _, m := range markers {
		if strings.HasPrefix(lower, m) {
			return strings.TrimSpace(line[len(m):]), true
		}
	}
	return "", false
}

func splitTags(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		switch r {
		case ',', '，', '、', ';', '；', '/':
			return true
		}
		return false
	})
	seen := make(map[string]bool)
	var tags []string
	for _, f := range fields {
		f = strings.Trim(strings.TrimSpace(f), "#")
		if f == "" || seen[strings.ToLower(f)] {
			continue
		}
		seen[strings.ToLower(f)] = true
		tags = append(tags, f)
		if len(tags) == maxTags {
			break
		}
	}
	return tags
}
