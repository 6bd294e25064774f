// Package tui renders a chat history view in the terminal.
package tui

import (
	"fmt"
	"sort"

	"github.com/charmbracelet/lipgloss"
)

// BaseColors defines global UI colors.
type BaseColors struct {
	Foreground string
	Muted      string
	Accent     string
	Border     string
}

// MessageColors defines colors for message kinds.
type MessageColors struct {
	Own      string
	Other    string
	System   string
	Selected string
	Unread   string
}

// ChromeColors defines non-content UI colors.
type ChromeColors struct {
	Header string
	Footer string
	Status string
}

// Theme is a named set of color tokens (ANSI-256 codes).
type Theme struct {
	Name    string
	Base    BaseColors
	Message MessageColors
	Chrome  ChromeColors
}

// DefaultTheme is the baseline palette.
var DefaultTheme = Theme{
	Name: "default",
	Base: BaseColors{
		Foreground: "252",
		Muted:      "245",
		Accent:     "75",
		Border:     "240",
	},
	Message: MessageColors{
		Own:      "81",
		Other:    "147",
		System:   "214",
		Selected: "75",
		Unread:   "203",
	},
	Chrome: ChromeColors{
		Header: "111",
		Footer: "110",
		Status: "41",
	},
}

// DarkTheme trades accents for lower contrast.
var DarkTheme = Theme{
	Name: "dark",
	Base: BaseColors{
		Foreground: "250",
		Muted:      "241",
		Accent:     "67",
		Border:     "237",
	},
	Message: MessageColors{
		Own:      "73",
		Other:    "139",
		System:   "172",
		Selected: "67",
		Unread:   "167",
	},
	Chrome: ChromeColors{
		Header: "103",
		Footer: "102",
		Status: "65",
	},
}

// LightTheme is readable on light terminal backgrounds.
var LightTheme = Theme{
	Name: "light",
	Base: BaseColors{
		Foreground: "235",
		Muted:      "244",
		Accent:     "25",
		Border:     "250",
	},
	Message: MessageColors{
		Own:      "30",
		Other:    "91",
		System:   "130",
		Selected: "25",
		Unread:   "160",
	},
	Chrome: ChromeColors{
		Header: "24",
		Footer: "60",
		Status: "28",
	},
}

// Themes lists available palettes by name.
var Themes = map[string]Theme{
	"default": DefaultTheme,
	"dark":    DarkTheme,
	"light":   LightTheme,
}

// ThemeNames returns the palette names in stable order.
func ThemeNames() []string {
	names := make([]string, 0, len(Themes))
	for name := range Themes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LookupTheme returns the palette called name.
func LookupTheme(name string) (Theme, error) {
	if name == "" {
		return DefaultTheme, nil
	}
	theme, ok := Themes[name]
	if !ok {
		return Theme{}, fmt.Errorf("unknown theme %q", name)
	}
	return theme, nil
}

// Styles are the lipgloss styles derived from a Theme.
type Styles struct {
	Theme Theme

	Author   lipgloss.Style
	OwnName  lipgloss.Style
	Body     lipgloss.Style
	Time     lipgloss.Style
	Media    lipgloss.Style
	System   lipgloss.Style
	Hole     lipgloss.Style
	Unread   lipgloss.Style
	Marker   lipgloss.Style
	Selected lipgloss.Style
	Info     lipgloss.Style
	Header   lipgloss.Style
	Footer   lipgloss.Style
	Status   lipgloss.Style
}

// NewStyles builds the style set for theme.
func NewStyles(theme Theme) Styles {
	color := func(code string) lipgloss.Color { return lipgloss.Color(code) }
	return Styles{
		Theme:    theme,
		Author:   lipgloss.NewStyle().Bold(true).Foreground(color(theme.Message.Other)),
		OwnName:  lipgloss.NewStyle().Bold(true).Foreground(color(theme.Message.Own)),
		Body:     lipgloss.NewStyle().Foreground(color(theme.Base.Foreground)),
		Time:     lipgloss.NewStyle().Foreground(color(theme.Base.Muted)),
		Media:    lipgloss.NewStyle().Foreground(color(theme.Base.Accent)),
		System:   lipgloss.NewStyle().Italic(true).Foreground(color(theme.Message.System)),
		Hole:     lipgloss.NewStyle().Faint(true).Foreground(color(theme.Base.Muted)),
		Unread:   lipgloss.NewStyle().Bold(true).Foreground(color(theme.Message.Unread)),
		Marker:   lipgloss.NewStyle().Bold(true).Foreground(color(theme.Base.Accent)),
		Selected: lipgloss.NewStyle().Foreground(color(theme.Message.Selected)),
		Info:     lipgloss.NewStyle().Foreground(color(theme.Base.Muted)).Border(lipgloss.NormalBorder(), false, false, true, false).BorderForeground(color(theme.Base.Border)),
		Header:   lipgloss.NewStyle().Bold(true).Foreground(color(theme.Chrome.Header)),
		Footer:   lipgloss.NewStyle().Foreground(color(theme.Chrome.Footer)),
		Status:   lipgloss.NewStyle().Foreground(color(theme.Chrome.Status)),
	}
}
