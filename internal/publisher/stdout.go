package publisher

import (
	"context"
	"fmt"
	"io"
	"strings"
)

// StdoutPublisher prints messages to a writer, for dry runs.
type StdoutPublisher struct {
	out io.Writer
}

func NewStdoutPublisher(out io.Writer) *StdoutPublisher {
	return &StdoutPublisher{out: out}
}

func (p *StdoutPublisher) Publish(_ context.Context, msg Message) error {
	var b strings.Builder
	b.WriteString(strings.Repeat("=", 72))
	b.WriteString("\n")
	b.WriteString(msg.Title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", 72))
	b.WriteString("\n\n")
	b.WriteString(strings.TrimRight(msg.Body, "\n"))
	b.WriteString("\n\n")
	if msg.ArchiveURL != "" {
		fmt.Fprintf(&b, "Archive: %s\n", msg.ArchiveURL)
	}
	b.WriteString(strings.Repeat("=", 72))
	b.WriteString("\n")

	if _, err := io.WriteString(p.out, b.String()); err != nil {
		return fmt.Errorf("stdout: write failed: %w", err)
	}
	return nil
}
