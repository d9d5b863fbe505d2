package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/calmline-ai/counsel-chat/internal/model"
)

// transcriptPrinter renders incremental view updates. Render runs both from
// the session's hook goroutine and from main, so the cursor is guarded.
type transcriptPrinter struct {
	mu      sync.Mutex
	out     io.Writer
	printed int
}

func newTranscriptPrinter(out io.Writer) *transcriptPrinter {
	return &transcriptPrinter{out: out}
}

// Render prints every message past the cursor, each exactly once.
func (p *transcriptPrinter) Render(messages []model.ViewMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for ; p.printed < len(messages); p.printed++ {
		msg := messages[p.printed]
		marker := "  "
		if msg.Position == model.PositionSelf {
			marker = "> "
		}
		fmt.Fprintf(p.out, "%s%s: %s\n", marker, msg.Title, msg.Text)
	}
}

// Members prints the current member set.
func (p *transcriptPrinter) Members(members []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, "-- members: %s\n", strings.Join(members, ", "))
}
