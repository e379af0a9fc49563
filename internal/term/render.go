package term

import (
	"fmt"
	"io"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/thiagokokada/gitp/internal/diff"
)

type ColorMode int

const (
	ColorAuto ColorMode = iota
	ColorAlways
	ColorNever
)

func (m ColorMode) String() string {
	switch m {
	case ColorAlways:
		return "always"
	case ColorNever:
		return "never"
	default:
		return "auto"
	}
}

func ParseColorMode(raw string) (ColorMode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "auto":
		return ColorAuto, nil
	case "always":
		return ColorAlways, nil
	case "never":
		return ColorNever, nil
	default:
		return ColorAuto, fmt.Errorf("invalid color mode %q (want auto, always or never)", raw)
	}
}

// Renderer colors diff output for one writer. Without color support it
// returns git's plain unified format unchanged.
type Renderer struct {
	lg      *lipgloss.Renderer
	palette Palette
	style   *chroma.Style
	plain   bool
	lexers  map[string]chroma.Lexer
}

func NewRenderer(w io.Writer, pref ThemePreference, mode ColorMode) *Renderer {
	lg := lipgloss.NewRenderer(w)
	switch mode {
	case ColorAlways:
		if lg.ColorProfile() == termenv.Ascii {
			lg.SetColorProfile(termenv.ANSI256)
		}
	case ColorNever:
		lg.SetColorProfile(termenv.Ascii)
	}
	r := &Renderer{lg: lg, lexers: map[string]chroma.Lexer{}}
	r.plain = lg.ColorProfile() == termenv.Ascii
	if !r.plain {
		r.palette = PaletteFor(pref)
		r.style = r.palette.ChromaStyle()
	}
	return r
}

func (r *Renderer) Plain() bool {
	return r.plain
}

func (r *Renderer) newStyle() lipgloss.Style {
	return r.lg.NewStyle().TabWidth(lipgloss.NoTabConversion)
}

// Patch renders a whole patch in unified format.
func (r *Renderer) Patch(p *diff.Patch) string {
	return r.colorize(p.Path(), p.Unified(), false)
}

// Hunk renders one hunk of the file at path.
func (r *Renderer) Hunk(path string, h *diff.Hunk) string {
	return r.colorize(path, h.String(), true)
}

func (r *Renderer) colorize(path, text string, inBody bool) string {
	if r.plain {
		return text
	}
	lexer := r.lexer(path)
	meta := r.newStyle().Foreground(r.palette.Meta).Bold(true)
	header := r.newStyle().Foreground(r.palette.Header)
	var b strings.Builder
	for _, line := range strings.SplitAfter(text, "\n") {
		if line == "" {
			continue
		}
		body := strings.TrimSuffix(line, "\n")
		switch {
		case strings.HasPrefix(body, "@@"):
			inBody = true
			b.WriteString(header.Render(body))
		case !inBody || body == "" || body[0] == '\\' || strings.HasPrefix(body, "Binary files"):
			b.WriteString(meta.Render(body))
		default:
			b.WriteString(r.codeLine(lexer, body))
		}
		if strings.HasSuffix(line, "\n") {
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// codeLine renders a prefixed body line, highlighting the code after the
// prefix with the chroma style on top of the add/remove background.
func (r *Renderer) codeLine(lexer chroma.Lexer, line string) string {
	prefix, code := line[:1], line[1:]
	base := r.newStyle()
	switch prefix {
	case "+":
		base = base.Background(r.palette.AddedBg)
		prefix = base.Foreground(r.palette.Added).Render(prefix)
	case "-":
		base = base.Background(r.palette.RemovedBg)
		prefix = base.Foreground(r.palette.Removed).Render(prefix)
	}
	if lexer == nil || code == "" {
		return prefix + base.Render(code)
	}
	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		return prefix + base.Render(code)
	}
	var b strings.Builder
	b.WriteString(prefix)
	for _, token := range iterator.Tokens() {
		value := strings.TrimSuffix(token.Value, "\n")
		if value == "" {
			continue
		}
		st := base
		if entry := r.style.Get(token.Type); entry.Colour.IsSet() {
			st = st.Foreground(lipgloss.Color(entry.Colour.String()))
		}
		b.WriteString(st.Render(value))
	}
	return b.String()
}

func (r *Renderer) lexer(path string) chroma.Lexer {
	if path == "" {
		return nil
	}
	if lexer, ok := r.lexers[path]; ok {
		return lexer
	}
	var lexer chroma.Lexer
	if matched := lexers.Match(path); matched != nil {
		lexer = chroma.Coalesce(matched)
	}
	r.lexers[path] = lexer
	return lexer
}

// Style returns an empty style bound to the renderer's color profile.
func (r *Renderer) Style() lipgloss.Style {
	return r.newStyle()
}

// Palette returns the colors in use; it is the zero value in plain mode.
func (r *Renderer) Palette() Palette {
	return r.palette
}
