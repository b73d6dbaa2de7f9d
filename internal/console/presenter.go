package console

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"
)

// Color modes
const (
	ColorAuto   = "auto"
	ColorAlways = "always"
	ColorNever  = "never"
)

// Presenter prints server log lines to the operator terminal, coloured by
// category.
type Presenter struct {
	mu     sync.Mutex
	w      io.Writer
	color  bool
	styles map[Category]lipgloss.Style
}

// NewPresenter creates a presenter writing to w
func NewPresenter(w io.Writer, mode string) *Presenter {
	color := colorEnabled(w, mode)

	renderer := lipgloss.NewRenderer(w)
	if color {
		renderer.SetColorProfile(termenv.ANSI256)
	} else {
		renderer.SetColorProfile(termenv.Ascii)
	}

	bold := renderer.NewStyle().Bold(true)
	return &Presenter{
		w:     w,
		color: color,
		styles: map[Category]lipgloss.Style{
			CategoryError:            bold.Foreground(lipgloss.Color("9")),
			CategoryWarning:          bold.Foreground(lipgloss.Color("11")),
			CategoryPlayerConnect:    bold.Foreground(lipgloss.Color("10")),
			CategoryPlayerSpawn:      bold.Foreground(lipgloss.Color("6")),
			CategoryPlayerDisconnect: bold.Foreground(lipgloss.Color("13")),
			CategoryStartup:          bold.Foreground(lipgloss.Color("2")),
			CategoryOther:            bold,
		},
	}
}

// Present writes one timestamped line
func (p *Presenter) Present(line Line) {
	text := line.Text
	if p.color {
		if style, ok := p.styles[line.Category]; ok {
			text = style.Render(text)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, "[%s] %s\n", line.Time.Format("2006-01-02 15:04:05"), text)
}

func colorEnabled(w io.Writer, mode string) bool {
	switch strings.ToLower(mode) {
	case ColorAlways:
		return true
	case ColorNever:
		return false
	}

	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
