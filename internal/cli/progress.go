// Package cli renders action progress and shell completion for tokenctl.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	apperrors "github.com/R3E-Network/tokenization_layer/internal/errors"
	"github.com/R3E-Network/tokenization_layer/internal/pipeline"
)

// Color codes for terminal output
const (
	ColorReset  = "\033[0m"
	ColorRed    = "\033[31m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorBlue   = "\033[34m"
	ColorCyan   = "\033[36m"
	ColorBold   = "\033[1m"
)

// phaseOrder positions each phase on the progress bar.
var phaseOrder = map[pipeline.Phase]int{
	pipeline.PhasePreparing:       1,
	pipeline.PhaseSubmitting:      2,
	pipeline.PhasePending:         3,
	pipeline.PhaseConfirmed:       4,
	pipeline.PhaseIndexingPending: 5,
	pipeline.PhaseIndexingSuccess: 6,
	pipeline.PhaseIndexingTimeout: 6,
}

// Renderer prints pipeline events as they arrive.
type Renderer struct {
	mu        sync.Mutex
	writer    io.Writer
	width     int
	colorize  bool
	startTime time.Time
	last      pipeline.Event
}

// NewRenderer creates a renderer writing to w.
func NewRenderer(w io.Writer) *Renderer {
	return &Renderer{
		writer:    w,
		width:     24,
		colorize:  w == os.Stdout && isTerminal(),
		startTime: time.Now(),
	}
}

// DisableColor disables colored output
func (r *Renderer) DisableColor() *Renderer {
	r.colorize = false
	return r
}

// Print renders one event line.
func (r *Renderer) Print(ev pipeline.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.last = ev

	line := fmt.Sprintf("%s %-17s %s", r.symbol(ev), ev.Status, ev.Message)
	if ev.TransactionHash != "" && ev.Status == pipeline.PhasePending {
		line += " (" + ev.TransactionHash + ")"
	}
	if ev.Reason != "" {
		line += " [" + string(ev.Reason) + "]"
	}
	if ev.Result != nil {
		if ev.Result.ContractAddress != nil {
			line += " contract=" + ev.Result.ContractAddress.Hex()
		}
		if ev.Result.RevertReason != "" {
			line += " revert=" + ev.Result.RevertReason
		}
	}
	fmt.Fprintf(r.writer, "%s %s\n", r.bar(ev), line)

	if ev.Final && ev.Result != nil && len(ev.Result.Indexed) > 0 {
		var pretty interface{}
		if json.Unmarshal(ev.Result.Indexed, &pretty) == nil {
			out, _ := json.MarshalIndent(pretty, "  ", "  ")
			fmt.Fprintf(r.writer, "  %s\n", out)
		}
	}
}

// Render prints every event until the stream closes and returns the last
// one. The error is non-nil when the run failed or ended without a final event.
func (r *Renderer) Render(events <-chan pipeline.Event) (pipeline.Event, error) {
	var last pipeline.Event
	seen := false
	for ev := range events {
		r.Print(ev)
		last, seen = ev, true
	}

	elapsed := formatDuration(time.Since(r.startTime))
	switch {
	case !seen || !last.Final:
		r.summary(ColorYellow, "⚠", "stream ended before a final event after "+elapsed)
		return last, apperrors.New(apperrors.CodeCancelled, "action did not complete")
	case last.Status == pipeline.PhaseFailed:
		r.summary(ColorRed, "✗", "failed after "+elapsed)
		code := last.Reason
		if code == "" {
			code = apperrors.CodeInternal
		}
		return last, apperrors.New(code, last.Message)
	case last.Severity() == pipeline.SeverityWarning:
		r.summary(ColorYellow, "⚠", "confirmed, not yet indexed, after "+elapsed)
	default:
		r.summary(ColorGreen, "✓", "done in "+elapsed)
	}
	return last, nil
}

func (r *Renderer) summary(color, mark, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.colorize {
		fmt.Fprintf(r.writer, "%s%s%s %s\n", color, mark, ColorReset, message)
		return
	}
	fmt.Fprintf(r.writer, "%s %s\n", mark, message)
}

func (r *Renderer) symbol(ev pipeline.Event) string {
	var mark, color string
	switch ev.Severity() {
	case pipeline.SeverityError:
		mark, color = "✗", ColorRed
	case pipeline.SeverityWarning:
		mark, color = "⚠", ColorYellow
	default:
		if ev.Final {
			mark, color = "✓", ColorGreen
		} else {
			mark, color = "•", ColorBlue
		}
	}
	if r.colorize {
		return color + mark + ColorReset
	}
	return mark
}

// bar draws progress through the phases. Failure keeps the bar where it was.
func (r *Renderer) bar(ev pipeline.Event) string {
	total := phaseOrder[pipeline.PhaseIndexingSuccess]
	pos, ok := phaseOrder[ev.Status]
	if !ok {
		pos = 0
	}
	if ev.Final && ev.Status != pipeline.PhaseFailed {
		pos = total
	}
	filled := r.width * pos / total
	bar := strings.Repeat("█", filled) + strings.Repeat("░", r.width-filled)
	if r.colorize {
		switch {
		case ev.Status == pipeline.PhaseFailed:
			bar = ColorRed + bar + ColorReset
		case filled < r.width:
			bar = ColorCyan + bar + ColorReset
		default:
			bar = ColorGreen + bar + ColorReset
		}
	}
	return "[" + bar + "]"
}

// Colorize returns a colored string
func Colorize(text string, color string) string {
	if !isTerminal() {
		return text
	}
	return color + text + ColorReset
}

// isTerminal checks if stdout is a terminal
func isTerminal() bool {
	fileInfo, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return (fileInfo.Mode() & os.ModeCharDevice) != 0
}

// formatDuration formats a duration for display
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return "< 1s"
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}
