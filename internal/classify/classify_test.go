package classify

import (
	"testing"
	"time"

	"github.com/ryosukesatoh/feed-digest/internal/config"
	"github.com/ryosukesatoh/feed-digest/internal/fetcher"
)

var runTime = time.Date(2024, 1, 15, 12, 0, 0, 0, time.FixedZone("+08:00", 8*3600))

func art(title, body string, age time.Duration) fetcher.Article {
	return fetcher.Article{
		ID:        fetcher.ID(title),
		Title:     title,
		Body:      body,
		Published: runTime.Add(-age),
	}
}

func TestCategorizeDefaultRules(t *testing.T) {
	c := NewClassifier(DefaultRules(), nil, 0, 0)
	tests := []struct {
		title string
		body  string
		want  Category
	}{
		{"Understanding Go generics", "A deep dive into type parameters.", Normal},
		{"字节跳动招聘", "后端职位，欢迎投递简历", Recruiting},
		{"We're hiring", "Send your resume to jobs@example.com", Recruiting},
		{"Big sale", "Use this coupon for a discount, limited time only", Promotional},
		{"年终大促", "限时秒杀，立即抢购，包邮", Promotional},
		{"本文由某品牌赞助", "广告合作请联系", Advertisement},
		{"Startup news", "The company closed a funding round at a $1B valuation", OtherNoise},
		{"One keyword only", "This article mentions a salary once.", Normal},
	}
	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			if got := c.Categorize(fetcher.Article{Title: tt.title, Body: tt.body}); got != tt.want {
				t.Errorf("Categorize(%q) = %s, want %s", tt.title, got, tt.want)
			}
		})
	}
}

func TestRuleTableFirstMatchWins(t *testing.T) {
	rules, err := CompileRules([]config.RuleConfig{
		{Category: "advertisement", Pattern: `^\[ad\]`},
		{Category: "recruiting", Pattern: `hiring`},
	})
	if err != nil {
		t.Fatalf("CompileRules: %v", err)
	}
	c := NewClassifier(rules, nil, 0, 0)

	if got := c.Categorize(fetcher.Article{Title: "[AD] We are hiring"}); got != Advertisement {
		t.Errorf("expected first rule to win, got %s", got)
	}
	if got := c.Categorize(fetcher.Article{Title: "Now HIRING"}); got != Recruiting {
		t.Errorf("expected case-insensitive pattern match, got %s", got)
	}
}

func TestCompileRulesErrors(t *testing.T) {
	tests := []struct {
		name  string
		rules []config.RuleConfig
	}{
		{"unknown category", []config.RuleConfig{{Category: "spam", Pattern: "x"}}},
		{"bad pattern", []config.RuleConfig{{Category: "recruiting", Pattern: "("}}},
		{"empty rule", []config.RuleConfig{{Category: "recruiting"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := CompileRules(tt.rules); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestCompileRulesEmptyUsesDefaults(t *testing.T) {
	rules, err := CompileRules(nil)
	if err != nil {
		t.Fatalf("CompileRules: %v", err)
	}
	if len(rules) != len(DefaultRules()) {
		t.Errorf("expected default table, got %d rules", len(rules))
	}
}

func TestKeywordMinMatches(t *testing.T) {
	r := Rule{Category: Recruiting, Keywords: []string{"alpha", "beta", "gamma"}, MinMatches: 3}
	if r.Match("alpha beta") {
		t.Error("two hits should not satisfy min_matches 3")
	}
	if !r.Match("alpha beta gamma") {
		t.Error("three hits should satisfy min_matches 3")
	}
}

func TestApplyWindow(t *testing.T) {
	c := NewClassifier(nil, nil, 24*time.Hour, 0)
	fresh := art("fresh", "", time.Hour)
	stale := art("stale", "", 25*time.Hour)
	undated := fetcher.Article{ID: "undated", Title: "undated"}

	res := c.Apply([]fetcher.Article{fresh, stale, undated}, runTime)
	if len(res.Stale) != 1 || res.Stale[0].ID != stale.ID {
		t.Fatalf("expected the 25h old article to be stale, got %+v", res.Stale)
	}
	if len(res.Summarize) != 2 {
		t.Errorf("expected fresh and undated articles to be kept, got %d", len(res.Summarize))
	}
	for _, a := range res.Processed() {
		if a.ID == stale.ID {
			t.Error("stale articles must not be recorded")
		}
	}
}

func TestApplyPolicies(t *testing.T) {
	c := NewClassifier(DefaultRules(), map[Category]Policy{
		Normal:      Summarize,
		Recruiting:  Flag,
		Promotional: Drop,
	}, 0, 0)

	res := c.Apply([]fetcher.Article{
		art("Go release notes", "Details about the release.", time.Hour),
		art("招聘", "职位 简历", time.Hour),
		art("Sale", "coupon discount", time.Hour),
	}, runTime)

	if len(res.Summarize) != 1 || len(res.Flagged) != 1 || len(res.Dropped) != 1 {
		t.Fatalf("unexpected partition: summarize=%d flagged=%d dropped=%d", len(res.Summarize), len(res.Flagged), len(res.Dropped))
	}
	if res.Flagged[0].Category != Recruiting || res.Flagged[0].Policy != Flag {
		t.Errorf("unexpected flagged item %+v", res.Flagged[0])
	}
	if len(res.Processed()) != 3 {
		t.Errorf("all classified articles should be recordable, got %d", len(res.Processed()))
	}
	counts := res.Counts()
	if counts[Normal] != 1 || counts[Recruiting] != 1 || counts[Promotional] != 1 {
		t.Errorf("unexpected counts %v", counts)
	}
}

func TestApplyCapMostRecentFirst(t *testing.T) {
	c := NewClassifier(nil, nil, 0, 2)
	res := c.Apply([]fetcher.Article{
		art("oldest", "", 3*time.Hour),
		art("newest", "", time.Hour),
		fetcher.Article{ID: "undated", Title: "undated"},
		art("middle", "", 2*time.Hour),
	}, runTime)

	if len(res.Summarize) != 2 {
		t.Fatalf("expected 2 summarized articles, got %d", len(res.Summarize))
	}
	if res.Summarize[0].Article.Title != "newest" || res.Summarize[1].Article.Title != "middle" {
		t.Errorf("expected newest and middle, got %s and %s", res.Summarize[0].Article.Title, res.Summarize[1].Article.Title)
	}
	if len(res.Deferred) != 2 {
		t.Errorf("expected 2 deferred articles, got %d", len(res.Deferred))
	}
	for _, a := range res.Processed() {
		if a.Title == "oldest" || a.Title == "undated" {
			t.Errorf("deferred article %q must not be recorded", a.Title)
		}
	}
}

func TestNewFromConfig(t *testing.T) {
	limit := 5
	cfg := &config.Config{
		Filters:  config.FilterConfig{MaxHours: 24, MaxArticlesPerRun: &limit},
		Classify: config.ClassifyConfig{Policies: map[string]string{"promotional": "flag"}},
	}
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.limit != 5 || c.maxAge != 24*time.Hour {
		t.Errorf("unexpected classifier %+v", c)
	}
	if c.policyFor(Promotional) != Flag {
		t.Errorf("expected configured policy override")
	}
	if c.policyFor(Advertisement) != Drop {
		t.Errorf("expected default policy for advertisement")
	}

	cfg.Classify.Policies = map[string]string{"spam": "drop"}
	if _, err := New(cfg); err == nil {
		t.Error("expected error for unknown category in policies")
	}
}
