package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables holding secrets. They are read once by Load and
// never written back to the config, the state file, or the logs.
const (
	EnvConfigPath     = "FEED_DIGEST_CONFIG"
	EnvAIAPIKey       = "AI_API_KEY"
	EnvWebhookURL     = "WEBHOOK_URL"
	EnvRSSDomain      = "RSS_DOMAIN"
	EnvRSSToken       = "RSS_TOKEN"
	EnvArchiveToken   = "ARCHIVE_TOKEN"
	EnvTelegramToken  = "TELEGRAM_BOT_TOKEN"
	EnvTelegramChatID = "TELEGRAM_CHAT_ID"
)

const (
	placeholderDomain = "{domain}"
	placeholderToken  = "{token}"
)

type Config struct {
	Timezone   string           `yaml:"timezone"`
	LogLevel   string           `yaml:"log_level"`
	Schedule   string           `yaml:"schedule"`
	Sources    []Source         `yaml:"sources"`
	Fetch      FetchConfig      `yaml:"fetch"`
	Filters    FilterConfig     `yaml:"filters"`
	Classify   ClassifyConfig   `yaml:"classify"`
	Summarizer SummarizerConfig `yaml:"summarizer"`
	Publisher  PublisherConfig  `yaml:"publisher"`
	Archive    ArchiveConfig    `yaml:"archive"`
	Store      StoreConfig      `yaml:"store"`

	Secrets Secrets `yaml:"-"`

	location *time.Location
}

// Source is one monitored feed. URLTemplate is what the config file says and
// is safe to log; the resolved URL may embed a token and is only handed to the
// fetcher.
type Source struct {
	Name        string `yaml:"name"`
	URLTemplate string `yaml:"url"`
	Enabled     bool   `yaml:"enabled"`

	url string
}

// NewSource builds an enabled source whose URL needs no resolution.
func NewSource(name, rawURL string) Source {
	return Source{Name: name, URLTemplate: rawURL, Enabled: true, url: rawURL}
}

// URL returns the resolved feed URL.
func (s Source) URL() string {
	if s.url == "" {
		return s.URLTemplate
	}
	return s.url
}

type FetchConfig struct {
	Timeout          time.Duration `yaml:"timeout"`
	Concurrency      int           `yaml:"concurrency"`
	UserAgent        string        `yaml:"user_agent"`
	FullText         bool          `yaml:"full_text"`
	FullTextMinChars int           `yaml:"full_text_min_chars"`
}

// FilterConfig bounds what a run considers. MaxHours of 0 (or unset) means
// the default 24-hour window; the window cannot be turned off from config.
type FilterConfig struct {
	MaxHours          int      `yaml:"max_hours"`
	MaxArticlesPerRun *int     `yaml:"max_articles_per_run"`
	QuietHours        []string `yaml:"quiet_hours"`
}

type ClassifyConfig struct {
	Rules    []RuleConfig      `yaml:"rules"`
	Policies map[string]string `yaml:"policies"`
}

type RuleConfig struct {
	Category   string   `yaml:"category"`
	Pattern    string   `yaml:"pattern"`
	Keywords   []string `yaml:"keywords"`
	MinMatches int      `yaml:"min_matches"`
}

type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

type SummarizerConfig struct {
	Provider      string        `yaml:"provider"`
	Endpoint      string        `yaml:"endpoint"`
	Model         string        `yaml:"model"`
	MaxTokens     int           `yaml:"max_tokens"`
	MaxInputChars int           `yaml:"max_input_chars"`
	SystemPrompt  string        `yaml:"system_prompt"`
	Timeout       time.Duration `yaml:"timeout"`
	Retry         RetryConfig   `yaml:"retry"`
}

type PublisherConfig struct {
	Type        string        `yaml:"type"`
	TitlePrefix string        `yaml:"title_prefix"`
	Timeout     time.Duration `yaml:"timeout"`
	Retry       RetryConfig   `yaml:"retry"`
}

type ArchiveConfig struct {
	Type     string `yaml:"type"`
	Endpoint string `yaml:"endpoint"`
	Public   bool   `yaml:"public"`
}

type StoreConfig struct {
	Backend   string `yaml:"backend"`
	Path      string `yaml:"path"`
	Retention string `yaml:"retention"`
}

// Secrets are resolved from the environment at load time.
type Secrets struct {
	AIAPIKey       string
	WebhookURL     string
	RSSDomain      string
	RSSToken       string
	ArchiveToken   string
	TelegramToken  string
	TelegramChatID string
}

// SecretsFromEnv reads all secret values from the process environment.
func SecretsFromEnv() Secrets {
	return Secrets{
		AIAPIKey:       os.Getenv(EnvAIAPIKey),
		WebhookURL:     os.Getenv(EnvWebhookURL),
		RSSDomain:      os.Getenv(EnvRSSDomain),
		RSSToken:       os.Getenv(EnvRSSToken),
		ArchiveToken:   os.Getenv(EnvArchiveToken),
		TelegramToken:  os.Getenv(EnvTelegramToken),
		TelegramChatID: os.Getenv(EnvTelegramChatID),
	}
}

// Location returns the fixed zone every timestamp is normalized to.
func (c *Config) Location() *time.Location {
	if c.location != nil {
		return c.location
	}
	loc, err := parseLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// EnabledSources returns the sources with enabled: true, in config order.
func (c *Config) EnabledSources() []Source {
	var out []Source
	for _, s := range c.Sources {
		if s.Enabled {
			out = append(out, s)
		}
	}
	return out
}

// ArchiveEnabled reports whether a digest archive should be uploaded.
func (c *Config) ArchiveEnabled() bool {
	return c.Archive.Type != "" && c.Archive.Type != "none" && c.Secrets.ArchiveToken != ""
}

// RetentionDuration parses store.retention, accepting "Nd" in addition to
// Go durations.
func (c *Config) RetentionDuration() time.Duration {
	d, err := ParseRetention(c.Store.Retention)
	if err != nil {
		return 30 * 24 * time.Hour
	}
	return d
}

// ParseRetention parses "30d", "720h" and similar values.
func ParseRetention(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty retention")
	}
	if strings.HasSuffix(s, "d") {
		var days int
		if _, err := fmt.Sscanf(s, "%dd", &days); err == nil && days > 0 {
			return time.Duration(days) * 24 * time.Hour, nil
		}
		return 0, fmt.Errorf("invalid retention %q", s)
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid retention %q: %w", s, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("retention must be positive, got %q", s)
	}
	return d, nil
}

// QuietWindow returns quiet_hours as offsets from local midnight.
func (c *Config) QuietWindow() (start, end time.Duration, ok bool) {
	if len(c.Filters.QuietHours) != 2 {
		return 0, 0, false
	}
	start, err := parseClock(c.Filters.QuietHours[0])
	if err != nil {
		return 0, 0, false
	}
	end, err = parseClock(c.Filters.QuietHours[1])
	if err != nil {
		return 0, 0, false
	}
	return start, end, start != end
}

func parseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid clock time %q (want HH:MM)", s)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

func parseLocation(tz string) (*time.Location, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return nil, fmt.Errorf("empty timezone")
	}
	if tz[0] == '+' || tz[0] == '-' {
		t, err := time.Parse("-07:00", tz)
		if err != nil {
			return nil, fmt.Errorf("invalid offset %q: %w", tz, err)
		}
		_, offset := t.Zone()
		return time.FixedZone("UTC"+tz, offset), nil
	}
	return time.LoadLocation(tz)
}

var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with environment variable values.
func expandEnvVars(s string) string {
	return envVarRegex.ReplaceAllStringFunc(s, func(match string) string {
		varName := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

// checkSourceURLs rejects ${VAR} references in source URLs. Those would be
// expanded into URLTemplate, which is logged; secrets belong in the {domain}
// and {token} placeholders.
func checkSourceURLs(data []byte) error {
	var raw struct {
		Sources []struct {
			Name string `yaml:"name"`
			URL  string `yaml:"url"`
		} `yaml:"sources"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil
	}
	for _, s := range raw.Sources {
		if envVarRegex.MatchString(s.URL) {
			return fmt.Errorf("config: source %q: url must not use ${...}, use the %s and %s placeholders", s.Name, placeholderDomain, placeholderToken)
		}
	}
	return nil
}

// resolveTemplate substitutes {domain} and {token} in a source URL.
func resolveTemplate(tmpl string, sec Secrets) string {
	r := strings.NewReplacer(placeholderDomain, sec.RSSDomain, placeholderToken, sec.RSSToken)
	return r.Replace(tmpl)
}

func setDefaults(cfg *Config) {
	if cfg.Timezone == "" {
		cfg.Timezone = "+08:00"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Schedule == "" {
		cfg.Schedule = "0 * * * *"
	}
	if cfg.Fetch.Timeout == 0 {
		cfg.Fetch.Timeout = 30 * time.Second
	}
	if cfg.Fetch.Concurrency == 0 {
		cfg.Fetch.Concurrency = 4
	}
	if cfg.Fetch.UserAgent == "" {
		cfg.Fetch.UserAgent = "feed-digest/1.0"
	}
	if cfg.Fetch.FullTextMinChars == 0 {
		cfg.Fetch.FullTextMinChars = 200
	}
	if cfg.Filters.MaxHours == 0 {
		cfg.Filters.MaxHours = 24
	}
	if cfg.Summarizer.Provider == "" {
		cfg.Summarizer.Provider = "openai"
	}
	if cfg.Summarizer.Model == "" {
		switch cfg.Summarizer.Provider {
		case "anthropic":
			cfg.Summarizer.Model = "claude-sonnet-4-20250514"
		default:
			cfg.Summarizer.Model = "gpt-4o-mini"
		}
	}
	if cfg.Summarizer.MaxTokens == 0 {
		cfg.Summarizer.MaxTokens = 1000
	}
	if cfg.Summarizer.MaxInputChars == 0 {
		cfg.Summarizer.MaxInputChars = 4000
	}
	if cfg.Summarizer.Timeout == 0 {
		cfg.Summarizer.Timeout = 60 * time.Second
	}
	setRetryDefaults(&cfg.Summarizer.Retry, 3, 2*time.Second)
	if cfg.Publisher.Type == "" {
		cfg.Publisher.Type = "stdout"
	}
	if cfg.Publisher.Timeout == 0 {
		cfg.Publisher.Timeout = 15 * time.Second
	}
	setRetryDefaults(&cfg.Publisher.Retry, 2, 3*time.Second)
	if cfg.Archive.Type == "" {
		cfg.Archive.Type = "gist"
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = "json"
	}
	if cfg.Store.Path == "" {
		if cfg.Store.Backend == "sqlite" {
			cfg.Store.Path = "data/seen_articles.db"
		} else {
			cfg.Store.Path = "data/seen_articles.json"
		}
	}
	if cfg.Store.Retention == "" {
		cfg.Store.Retention = "30d"
	}
}

func setRetryDefaults(r *RetryConfig, attempts int, base time.Duration) {
	if r.MaxAttempts == 0 {
		r.MaxAttempts = attempts
	}
	if r.BaseDelay == 0 {
		r.BaseDelay = base
	}
	if r.MaxDelay == 0 {
		r.MaxDelay = 10 * r.BaseDelay
	}
}

var validPolicies = map[string]bool{"summarize": true, "flag": true, "drop": true}

func validate(cfg *Config) error {
	loc, err := parseLocation(cfg.Timezone)
	if err != nil {
		return fmt.Errorf("config: timezone: %w", err)
	}
	cfg.location = loc

	if len(cfg.EnabledSources()) == 0 {
		return fmt.Errorf("config: at least one enabled source is required")
	}
	seen := make(map[string]bool)
	for i, s := range cfg.Sources {
		if s.Name == "" {
			return fmt.Errorf("config: sources[%d]: name is required", i)
		}
		if seen[s.Name] {
			return fmt.Errorf("config: duplicate source name %q", s.Name)
		}
		seen[s.Name] = true
		if s.URLTemplate == "" {
			return fmt.Errorf("config: source %q: url is required", s.Name)
		}
		if !s.Enabled {
			continue
		}
		if strings.Contains(s.URLTemplate, placeholderDomain) && cfg.Secrets.RSSDomain == "" {
			return fmt.Errorf("config: source %q uses %s but %s is not set", s.Name, placeholderDomain, EnvRSSDomain)
		}
		if strings.Contains(s.URLTemplate, placeholderToken) && cfg.Secrets.RSSToken == "" {
			return fmt.Errorf("config: source %q uses %s but %s is not set", s.Name, placeholderToken, EnvRSSToken)
		}
	}

	if cfg.Filters.MaxHours < 0 {
		return fmt.Errorf("config: filters.max_hours must be positive")
	}
	if n := cfg.Filters.MaxArticlesPerRun; n != nil && *n <= 0 {
		return fmt.Errorf("config: filters.max_articles_per_run must be positive or null")
	}
	switch len(cfg.Filters.QuietHours) {
	case 0:
	case 2:
		for _, v := range cfg.Filters.QuietHours {
			if _, err := parseClock(v); err != nil {
				return fmt.Errorf("config: filters.quiet_hours: %w", err)
			}
		}
	default:
		return fmt.Errorf("config: filters.quiet_hours must be [start, end]")
	}

	for i, r := range cfg.Classify.Rules {
		if r.Category == "" {
			return fmt.Errorf("config: classify.rules[%d]: category is required", i)
		}
		if r.Pattern == "" && len(r.Keywords) == 0 {
			return fmt.Errorf("config: classify.rules[%d]: pattern or keywords is required", i)
		}
		if r.Pattern != "" {
			if _, err := regexp.Compile(r.Pattern); err != nil {
				return fmt.Errorf("config: classify.rules[%d]: %w", i, err)
			}
		}
	}
	for cat, p := range cfg.Classify.Policies {
		if !validPolicies[p] {
			return fmt.Errorf("config: classify.policies.%s: unsupported policy %q (supported: summarize, flag, drop)", cat, p)
		}
	}

	switch cfg.Summarizer.Provider {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("config: unsupported summarizer provider %q (supported: openai, anthropic)", cfg.Summarizer.Provider)
	}
	if cfg.Secrets.AIAPIKey == "" {
		return fmt.Errorf("config: %s is required", EnvAIAPIKey)
	}

	switch cfg.Publisher.Type {
	case "serverchan", "discord":
		if cfg.Secrets.WebhookURL == "" {
			return fmt.Errorf("config: %s is required for %s publisher", EnvWebhookURL, cfg.Publisher.Type)
		}
	case "telegram":
		if cfg.Secrets.TelegramToken == "" || cfg.Secrets.TelegramChatID == "" {
			return fmt.Errorf("config: %s and %s are required for telegram publisher", EnvTelegramToken, EnvTelegramChatID)
		}
	case "stdout":
	default:
		return fmt.Errorf("config: unsupported publisher type %q (supported: serverchan, discord, telegram, stdout)", cfg.Publisher.Type)
	}

	switch cfg.Archive.Type {
	case "gist", "none":
	default:
		return fmt.Errorf("config: unsupported archive type %q (supported: gist, none)", cfg.Archive.Type)
	}

	switch cfg.Store.Backend {
	case "json", "sqlite":
	default:
		return fmt.Errorf("config: unsupported store backend %q (supported: json, sqlite)", cfg.Store.Backend)
	}
	retention, err := ParseRetention(cfg.Store.Retention)
	if err != nil {
		return fmt.Errorf("config: store.retention: %w", err)
	}
	if window := time.Duration(cfg.Filters.MaxHours) * time.Hour; retention > 0 && retention <= window {
		return fmt.Errorf("config: store.retention (%s) must be longer than filters.max_hours (%dh)", cfg.Store.Retention, cfg.Filters.MaxHours)
	}
	return nil
}

// Load reads the config file, expands environment variables, resolves
// secrets, applies defaults, and validates the configuration.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	if err := checkSourceURLs(data); err != nil {
		return nil, err
	}
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	cfg.Secrets = SecretsFromEnv()
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	for i := range cfg.Sources {
		cfg.Sources[i].url = resolveTemplate(cfg.Sources[i].URLTemplate, cfg.Secrets)
	}

	return &cfg, nil
}

// LoadEnvFile loads KEY=VALUE pairs from a .env file without overriding
// variables already set. A missing file is not an error.
func LoadEnvFile(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("config: failed to load %s: %w", path, err)
	}
	return nil
}

// ResolvePath picks the config file: explicit flag, then $FEED_DIGEST_CONFIG,
// then ./config.yaml, then feed-digest/config.yaml in the XDG config dirs.
func ResolvePath(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p, nil
	}
	if _, err := os.Stat("config.yaml"); err == nil {
		return "config.yaml", nil
	}
	p, err := xdg.SearchConfigFile("feed-digest/config.yaml")
	if err != nil {
		return "", fmt.Errorf("config: no config file found (tried ./config.yaml and XDG config dirs)")
	}
	return p, nil
}
