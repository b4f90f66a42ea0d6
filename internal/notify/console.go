package notify

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"
)

// ConsoleBroadcaster prints news banners to a terminal.
type ConsoleBroadcaster struct {
	mu     sync.Mutex
	out    io.Writer
	colors bool
}

// NewConsoleBroadcaster creates a console sink writing to out.
func NewConsoleBroadcaster(out io.Writer, colors bool) *ConsoleBroadcaster {
	return &ConsoleBroadcaster{out: out, colors: colors}
}

// Name returns the sink name.
func (c *ConsoleBroadcaster) Name() string { return "console" }

// Send writes msg as a banner.
func (c *ConsoleBroadcaster) Send(_ context.Context, msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := io.WriteString(c.out, FormatBanner(msg, c.colors))
	return err
}

// FormatBanner renders msg as a multi-line news banner.
func FormatBanner(msg Message, colors bool) string {
	arrow, paint := "▲", color.New(color.FgGreen, color.Bold)
	if msg.ChangePct < 0 {
		arrow, paint = "▼", color.New(color.FgRed, color.Bold)
	}
	if !colors {
		paint.DisableColor()
	}

	var sb strings.Builder
	sb.WriteString(paint.Sprintf("📰 MARKET FLASH %s [%s]\n", arrow, msg.Channel.String()))
	sb.WriteString(msg.Text)
	sb.WriteString("\n")
	sb.WriteString(paint.Sprintf("%s: %.2f → %.2f (%+.1f%%)\n", msg.Symbol, msg.OldPrice, msg.NewPrice, msg.ChangePct*100))
	return sb.String()
}
