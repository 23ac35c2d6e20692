// Package output renders run progress and summaries for the terminal.
package output

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/wesleyorama2/swarm/internal/swarm/metrics"
	"github.com/wesleyorama2/swarm/internal/swarm/runner"
)

const ruleWidth = 60

// Palette holds the colors used by Console.
type Palette struct {
	Title   *color.Color
	Rule    *color.Color
	Value   *color.Color
	Good    *color.Color
	Warn    *color.Color
	Bad     *color.Color
	Section *color.Color
}

// DefaultPalette returns the colored palette.
func DefaultPalette() *Palette {
	return &Palette{
		Title:   color.New(color.Bold),
		Rule:    color.New(color.FgCyan),
		Value:   color.New(color.FgCyan),
		Good:    color.New(color.FgGreen),
		Warn:    color.New(color.FgYellow),
		Bad:     color.New(color.FgRed, color.Bold),
		Section: color.New(color.Bold, color.Underline),
	}
}

// PlainPalette returns a palette with every color disabled.
func PlainPalette() *Palette {
	p := DefaultPalette()
	for _, c := range []*color.Color{p.Title, p.Rule, p.Value, p.Good, p.Warn, p.Bad, p.Section} {
		c.DisableColor()
	}
	return p
}

// ConsoleConfig configures a Console.
type ConsoleConfig struct {
	Writer io.Writer
	Quiet  bool

	// NoColor disables colors even on a terminal.
	NoColor bool

	// ForceColor enables colors on any writer.
	ForceColor bool
}

// Console prints the run header, periodic progress lines and the final
// summary.
type Console struct {
	w       io.Writer
	quiet   bool
	palette *Palette

	mu sync.Mutex
}

// NewConsole creates a console. Colors are used only when the writer is a
// terminal, unless forced.
func NewConsole(cfg ConsoleConfig) *Console {
	if cfg.Writer == nil {
		cfg.Writer = os.Stdout
	}
	useColor := cfg.ForceColor || (!cfg.NoColor && isTerminal(cfg.Writer) && os.Getenv("NO_COLOR") == "")

	palette := PlainPalette()
	if useColor {
		palette = DefaultPalette()
		for _, c := range []*color.Color{palette.Title, palette.Rule, palette.Value, palette.Good, palette.Warn, palette.Bad, palette.Section} {
			c.EnableColor()
		}
	}

	return &Console{
		w:       cfg.Writer,
		quiet:   cfg.Quiet,
		palette: palette,
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// PrintHeader announces a run.
func (c *Console) PrintHeader(name string, users int, spawnRate float64, runTime time.Duration) {
	if c.quiet {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if name == "" {
		name = "swarm"
	}
	limit := "until interrupted"
	if runTime > 0 {
		limit = "for " + formatDuration(runTime)
	}

	c.rule()
	c.printf("%s\n", c.palette.Title.Sprint(name))
	c.printf("%d users, spawning %.4g/s, running %s\n", users, spawnRate, limit)
	c.rule()
}

// PrintProgress prints a one-line status.
func (c *Console) PrintProgress(snap *metrics.Snapshot) {
	if c.quiet || snap == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.printf("[%s] users: %d | reqs: %s | rps: %.1f | fails: %s | p95: %s\n",
		formatDuration(snap.Elapsed),
		snap.ActiveUsers,
		formatNumber(snap.TotalRequests),
		snap.RPS,
		c.rateColor(snap.ErrorRate).Sprintf("%s (%.1f%%)", formatNumber(snap.FailedRequests), snap.ErrorRate*100),
		formatLatency(snap.Latency.P95))
}

// PrintSummary prints the final report of a run.
func (c *Console) PrintSummary(name string, res *runner.Result) {
	if res == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := res.Metrics
	if snap == nil {
		snap = &metrics.Snapshot{}
	}

	if c.quiet {
		c.printf("%s requests, %s failed, %d users failed\n",
			formatNumber(snap.TotalRequests), formatNumber(snap.FailedRequests), res.Failed)
		return
	}

	status := c.palette.Good.Sprint("completed")
	if res.Failed > 0 || snap.FailedRequests > 0 {
		status = c.palette.Warn.Sprint("completed with failures")
	}
	if name == "" {
		name = "swarm"
	}

	c.printf("\n")
	c.rule()
	c.printf("%s - %s\n", c.palette.Title.Sprint(name), status)
	c.rule()
	c.printf("Run ID:        %s\n", res.RunID)
	c.printf("Duration:      %s\n", c.palette.Value.Sprint(formatDuration(res.Duration)))
	c.printf("Users:         %s (peak %d, %s failed)\n",
		c.palette.Value.Sprint(res.Users), snap.PeakUsers, c.countColor(int64(res.Failed)).Sprint(res.Failed))
	c.printf("Requests:      %s (%.1f/s)\n", c.palette.Value.Sprint(formatNumber(snap.TotalRequests)), snap.RPS)
	c.printf("Success rate:  %s\n", c.rateColor(snap.ErrorRate).Sprintf("%.1f%%", (1-snap.ErrorRate)*100))
	c.printf("\n")

	if snap.Latency.Count > 0 {
		c.printf("%s\n", c.palette.Section.Sprint("Latency"))
		c.printf("  min %s  p50 %s  p90 %s  p95 %s  p99 %s  max %s\n\n",
			formatLatency(snap.Latency.Min),
			formatLatency(snap.Latency.P50),
			formatLatency(snap.Latency.P90),
			formatLatency(snap.Latency.P95),
			formatLatency(snap.Latency.P99),
			formatLatency(snap.Latency.Max))
	}

	if len(snap.Requests) > 0 {
		c.printf("%s\n", c.palette.Section.Sprint("Requests"))
		tw := tabwriter.NewWriter(c.w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "  METHOD\tNAME\tREQS\tFAILS\tAVG\tP95\tMAX")
		for _, rs := range snap.Requests {
			fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				rs.Method, rs.Name,
				formatNumber(rs.Latency.Count),
				formatNumber(rs.Failures),
				formatLatency(rs.Latency.Mean),
				formatLatency(rs.Latency.P95),
				formatLatency(rs.Latency.Max))
		}
		tw.Flush()
		c.printf("\n")

		if errs := topErrors(snap.Requests); len(errs) > 0 {
			c.printf("%s\n", c.palette.Section.Sprint("Errors"))
			for _, e := range errs {
				c.printf("  %s  %s %s: %s\n", c.palette.Bad.Sprint(formatNumber(e.count)), e.method, e.name, e.message)
			}
			c.printf("\n")
		}
	}

	if len(snap.Tasks) > 0 {
		c.printf("%s\n", c.palette.Section.Sprint("Tasks"))
		tw := tabwriter.NewWriter(c.w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "  CLASS\tTASK\tDONE\tFAILED\tINTERRUPTED\tSTOPPED")
		for _, ts := range snap.Tasks {
			task := ts.Task
			if ts.TaskSet != "" {
				task = ts.TaskSet + "/" + ts.Task
			}
			fmt.Fprintf(tw, "  %s\t%s\t%d\t%d\t%d\t%d\n",
				ts.Class, task, ts.Completed, ts.Failed, ts.Interrupted, ts.Stopped)
		}
		tw.Flush()
		c.printf("\n")
	}
}

type errorLine struct {
	method, name, message string
	count                 int64
}

func topErrors(requests []metrics.RequestStats) []errorLine {
	var out []errorLine
	for _, rs := range requests {
		for msg, n := range rs.Errors {
			out = append(out, errorLine{method: rs.Method, name: rs.Name, message: msg, count: n})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].count != out[j].count {
			return out[i].count > out[j].count
		}
		return out[i].name+out[i].message < out[j].name+out[j].message
	})
	if len(out) > 10 {
		out = out[:10]
	}
	return out
}

func (c *Console) rule() {
	c.printf("%s\n", c.palette.Rule.Sprint(strings.Repeat("━", ruleWidth)))
}

func (c *Console) printf(format string, args ...interface{}) {
	fmt.Fprintf(c.w, format, args...)
}

func (c *Console) rateColor(errorRate float64) *color.Color {
	switch {
	case errorRate > 0.05:
		return c.palette.Bad
	case errorRate > 0.01:
		return c.palette.Warn
	default:
		return c.palette.Good
	}
}

func (c *Console) countColor(n int64) *color.Color {
	if n > 0 {
		return c.palette.Bad
	}
	return c.palette.Good
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	case d < time.Hour:
		return fmt.Sprintf("%dm %02ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh %02dm %02ds", int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60)
	}
}

func formatLatency(d time.Duration) string {
	switch {
	case d < time.Microsecond:
		return "0ms"
	case d < time.Millisecond:
		return fmt.Sprintf("%dµs", d.Microseconds())
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	default:
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
}

// formatNumber adds thousands separators.
func formatNumber(n int64) string {
	s := fmt.Sprintf("%d", n)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}
