package digest

import (
	"fmt"
	"strings"
	"time"

	"github.com/ryosukesatoh/feed-digest/internal/classify"
)

const timeLayout = "2006-01-02 15:04"

// Title is the notification title for a digest.
func (d *Digest) Title(prefix string) string {
	return withPrefix(prefix, fmt.Sprintf("%d new articles · %s", d.Count(), d.GeneratedAt.Format(timeLayout)))
}

// Markdown renders the complete digest.
func (d *Digest) Markdown() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Digest %s\n\n", d.GeneratedAt.Format(timeLayout))

	for _, s := range d.Sections {
		fmt.Fprintf(&b, "## 【%s】\n\n", s.Source)
		for i, e := range s.Entries {
			writeEntry(&b, i+1, e)
		}
	}

	b.WriteString("---\n")
	b.WriteString(d.Footer())
	b.WriteString("\n")
	return b.String()
}

func writeEntry(b *strings.Builder, n int, e Entry) {
	a := e.Article
	if a.Link != "" {
		fmt.Fprintf(b, "### %d. [%s](%s)\n", n, a.Title, a.Link)
	} else {
		fmt.Fprintf(b, "### %d. %s\n", n, a.Title)
	}
	if meta := entryMeta(e); meta != "" {
		b.WriteString(meta)
		b.WriteString("\n")
	}
	b.WriteString("\n")
	summary := strings.TrimSpace(e.Summary)
	if summary == "" {
		summary = "_No summary available._"
	}
	b.WriteString(summary)
	b.WriteString("\n\n")
}

func entryMeta(e Entry) string {
	var parts []string
	if badge := Badge(e.Category); badge != "" {
		parts = append(parts, badge)
	}
	if !e.Article.Published.IsZero() {
		parts = append(parts, e.Article.Published.Format(timeLayout))
	}
	if e.Article.Author != "" {
		parts = append(parts, e.Article.Author)
	}
	if len(e.Tags) > 0 {
		tags := make([]string, len(e.Tags))
		for i, t := range e.Tags {
			tags[i] = "#" + strings.ReplaceAll(t, " ", "_")
		}
		parts = append(parts, strings.Join(tags, " "))
	}
	if e.Fallback {
		parts = append(parts, "_feed excerpt_")
	}
	return strings.Join(parts, " · ")
}

// Badge marks non-normal categories.
func Badge(c classify.Category) string {
	if c == "" || c == classify.Normal {
		return ""
	}
	return "`" + string(c) + "`"
}

// Brief renders a compact digest: titles and links per source plus a link
// to the archived full text.
func (d *Digest) Brief(archiveURL string) string {
	var b strings.Builder
	for _, s := range d.Sections {
		fmt.Fprintf(&b, "**【%s】**\n", s.Source)
		for _, e := range s.Entries {
			line := e.Article.Title
			if e.Article.Link != "" {
				line = fmt.Sprintf("[%s](%s)", e.Article.Title, e.Article.Link)
			}
			if badge := Badge(e.Category); badge != "" {
				line += " " + badge
			}
			fmt.Fprintf(&b, "- %s\n", line)
		}
		b.WriteString("\n")
	}
	if archiveURL != "" {
		fmt.Fprintf(&b, "Full digest: %s\n\n", archiveURL)
	}
	b.WriteString(d.Footer())
	b.WriteString("\n")
	return b.String()
}

// Body is the notification body: the brief form when the full text was
// archived, otherwise the complete digest inline.
func (d *Digest) Body(archiveURL string) string {
	if archiveURL != "" {
		return d.Brief(archiveURL)
	}
	return d.Markdown()
}

// Footer summarizes the run statistics on one line.
func (d *Digest) Footer() string {
	return d.Stats.String()
}

func (s Stats) String() string {
	parts := []string{fmt.Sprintf("%d new", s.New)}
	if s.Summarized > 0 || s.Fallback > 0 {
		p := fmt.Sprintf("%d summarized", s.Summarized)
		if s.Fallback > 0 {
			p += fmt.Sprintf(" (%d from feed excerpt)", s.Fallback)
		}
		parts = append(parts, p)
	}
	if s.Flagged > 0 {
		parts = append(parts, fmt.Sprintf("%d flagged", s.Flagged))
	}
	if s.Dropped > 0 {
		parts = append(parts, fmt.Sprintf("%d filtered", s.Dropped))
	}
	if s.Stale > 0 {
		parts = append(parts, fmt.Sprintf("%d too old", s.Stale))
	}
	if s.Deferred > 0 {
		parts = append(parts, fmt.Sprintf("%d deferred", s.Deferred))
	}
	var cats []string
	for _, c := range classify.AllCategories() {
		if c == classify.Normal {
			continue
		}
		if n := s.Categories[c]; n > 0 {
			cats = append(cats, fmt.Sprintf("%s %d", c, n))
		}
	}
	if len(cats) > 0 {
		parts = append(parts, "noise: "+strings.Join(cats, ", "))
	}
	if len(s.FailedSources) > 0 {
		parts = append(parts, "failed sources: "+strings.Join(s.FailedSources, ", "))
	}
	return strings.Join(parts, " · ")
}

// NoNewArticles is the title and body of the empty-run confirmation.
func NoNewArticles(prefix string, now time.Time, sources int, stats Stats) (title, body string) {
	title = withPrefix(prefix, "No new articles · "+now.Format(timeLayout))
	var b strings.Builder
	fmt.Fprintf(&b, "No new articles as of %s (checked %d sources).", now.Format(timeLayout+" -07:00"), sources)
	if footer := stats.String(); stats.Stale+stats.Dropped+stats.Deferred+len(stats.FailedSources) > 0 {
		b.WriteString("\n\n")
		b.WriteString(footer)
	}
	return title, b.String()
}

func withPrefix(prefix, s string) string {
	if prefix == "" {
		return s
	}
	return prefix + " " + s
}
