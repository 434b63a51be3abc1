package report

import (
	"fmt"
	"io"
	"os"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
)

const (
	colorReset   = "\x1b[0m"
	colorRed     = "\x1b[31m"
	colorGreen   = "\x1b[32m"
	colorYellow  = "\x1b[33m"
	colorBlue    = "\x1b[34m"
	colorMagenta = "\x1b[35m"
	colorCyan    = "\x1b[36m"
	colorGray    = "\x1b[90m"
)

// Console prints human-friendly, colorized events.
type Console struct {
	out      io.Writer
	overview *Overview
	once     sync.Once
	mu       sync.Mutex
	banner   lipgloss.Style
}

// NewConsole creates a Console writing to out, or os.Stdout when out is nil.
// A non-nil overview is printed before the first event.
func NewConsole(out io.Writer, overview *Overview) *Console {
	if out == nil {
		out = os.Stdout
	}
	r := lipgloss.NewRenderer(out)
	return &Console{
		out:      out,
		overview: overview,
		banner: r.NewStyle().
			Border(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("9")).
			Foreground(lipgloss.Color("9")).
			Padding(0, 1),
	}
}

func (c *Console) printOverview() {
	if c.overview == nil {
		return
	}
	ov := c.overview
	fmt.Fprintln(c.out, "Device Simulator:")
	tw := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Device:\t%s\n", ov.DeviceID)
	fmt.Fprintf(tw, "Mode:\t%s\n", ov.Mode)
	if ov.Interval > 0 {
		fmt.Fprintf(tw, "Interval:\t%s\n", ov.Interval)
	}
	if ov.Transport != "" {
		fmt.Fprintf(tw, "Transport:\t%s\n", ov.Transport)
	}
	if ov.Rates.Warning > 0 || ov.Rates.Critical > 0 {
		fmt.Fprintf(tw, "Warning Rate (%%):\t%.1f\n", ov.Rates.Warning)
		fmt.Fprintf(tw, "Critical Rate (%%):\t%.1f\n", ov.Rates.Critical)
	}
	tw.Flush()
	fmt.Fprintln(c.out)
}

// Report implements Reporter.
func (c *Console) Report(e Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.once.Do(c.printOverview)

	if e.Kind == KindCommand {
		fmt.Fprintln(c.out, c.commandBanner(e))
		return nil
	}
	_, err := fmt.Fprintln(c.out, formatLine(e, ansi))
	return err
}

func (c *Console) commandBanner(e Event) string {
	body := fmt.Sprintf("COMMAND RECEIVED  %s\nMessage ID:     %s\nCorrelation ID: %s\nContent:        %s",
		e.Time.UTC().Format(time.RFC3339), orNone(e.MessageID), orNone(e.CorrelationID), commandContent(e))
	return c.banner.Render(body)
}

func orNone(s string) string {
	if s == "" {
		return "<none>"
	}
	return s
}
