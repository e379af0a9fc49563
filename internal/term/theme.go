// Package term renders patches, prompts and reports on the terminal.
package term

import (
	"log/slog"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/charmbracelet/lipgloss"
	darkmode "github.com/thiagokokada/dark-mode-go"
)

type ThemePreference int

const (
	ThemeAuto ThemePreference = iota
	ThemeLight
	ThemeDark
)

func (p ThemePreference) String() string {
	switch p {
	case ThemeLight:
		return "light"
	case ThemeDark:
		return "dark"
	default:
		return "auto"
	}
}

func ThemePreferenceFromString(raw string) ThemePreference {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case ThemeDark.String():
		return ThemeDark
	case ThemeLight.String():
		return ThemeLight
	default:
		return ThemeAuto
	}
}

// Palette holds the colors used for diff output.
type Palette struct {
	Dark      bool
	Added     lipgloss.Color
	Removed   lipgloss.Color
	AddedBg   lipgloss.Color
	RemovedBg lipgloss.Color
	Header    lipgloss.Color
	Meta      lipgloss.Color
}

var (
	lightPalette = Palette{
		Added:     "#1a7f37",
		Removed:   "#cf222e",
		AddedBg:   "#dff5de",
		RemovedBg: "#f9d6d5",
		Header:    "#0550ae",
		Meta:      "#57606a",
	}
	darkPalette = Palette{
		Dark:      true,
		Added:     "#3fb950",
		Removed:   "#f85149",
		AddedBg:   "#1f3d2b",
		RemovedBg: "#3d1f29",
		Header:    "#79c0ff",
		Meta:      "#8b949e",
	}
	detectDarkMode = darkmode.IsDarkMode
)

func PaletteFor(pref ThemePreference) Palette {
	switch pref {
	case ThemeDark:
		return darkPalette
	case ThemeLight:
		return lightPalette
	default:
		if detectDarkMode != nil {
			dark, err := detectDarkMode()
			if err != nil {
				slog.Debug("detect dark mode", slog.Any("error", err))
			} else if dark {
				return darkPalette
			}
		}
		return lightPalette
	}
}

// ChromaStyle returns the syntax highlighting style matching the palette.
func (p Palette) ChromaStyle() *chroma.Style {
	name := "github"
	if p.Dark {
		name = "github-dark"
	}
	if st := styles.Get(name); st != nil {
		return st
	}
	return styles.Fallback
}
