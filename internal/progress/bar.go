// Package progress renders a single-line progress bar for downloads and
// training epochs.
package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"
)

const (
	defaultWidth = 80
	redrawEvery  = 100 * time.Millisecond
)

// Bar tracks progress toward a total. On a terminal it redraws in place;
// on any other writer it prints one summary line when End is called.
type Bar struct {
	mu       sync.Mutex
	w        io.Writer
	message  string
	total    int64
	current  int64
	isTerm   bool
	width    int
	started  time.Time
	lastDraw time.Time
	ended    bool
}

// New returns a bar writing to w.
func New(w io.Writer, message string) *Bar {
	b := &Bar{w: w, message: message, width: defaultWidth}
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b.isTerm = true
		if width, _, err := term.GetSize(int(f.Fd())); err == nil && width > 0 {
			b.width = width
		}
	}
	return b
}

// Start resets the bar for a new run of total units.
func (b *Bar) Start(total int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.total = total
	b.current = 0
	b.started = time.Now()
	b.lastDraw = time.Time{}
	b.ended = false
	b.draw(false)
}

// Update sets the absolute progress.
func (b *Bar) Update(current int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = current
	b.draw(false)
}

// Increment advances the progress by n.
func (b *Bar) Increment(n int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current += n
	b.draw(false)
}

// End finishes the bar. Calling End twice prints once.
func (b *Bar) End() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ended {
		return
	}
	b.ended = true
	if b.isTerm {
		b.draw(true)
		fmt.Fprintln(b.w)
		return
	}
	fmt.Fprintf(b.w, "%s: %d/%d done in %s\n", b.message, b.current, b.total, time.Since(b.started).Round(time.Millisecond))
}

func (b *Bar) draw(force bool) {
	if !b.isTerm {
		return
	}
	now := time.Now()
	if !force && now.Sub(b.lastDraw) < redrawEvery {
		return
	}
	b.lastDraw = now
	fmt.Fprint(b.w, "\r"+b.line())
}

func (b *Bar) line() string {
	pct := 0.0
	if b.total > 0 {
		pct = float64(b.current) / float64(b.total)
	}
	pct = min(max(pct, 0), 1)
	suffix := fmt.Sprintf(" %3.0f%% %d/%d", pct*100, b.current, b.total)
	barWidth := b.width - len(b.message) - len(suffix) - 4
	if barWidth < 10 {
		return b.message + suffix
	}
	filled := int(pct * float64(barWidth))
	bar := strings.Repeat("=", filled)
	if filled < barWidth {
		bar += ">" + strings.Repeat(" ", barWidth-filled-1)
	}
	return fmt.Sprintf("%s [%s]%s", b.message, bar, suffix)
}
