package ui

import (
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// Palette shared by CLI output and the control panel
var (
	PrimaryColor = lipgloss.Color("#F5A524") // Amber - titles, borders, table heads
	SuccessColor = lipgloss.Color("#5FD068") // Green - confirmed commands, power on
	ErrorColor   = lipgloss.Color("#F25F5C") // Red - failed steps
	WarningColor = lipgloss.Color("#E0C341") // Yellow - in flight, missing labels
	MutedColor   = lipgloss.Color("#7A7A85")
	TextColor    = lipgloss.Color("#F4F1EA")
)

const (
	MinTerminalWidth = 60
	MaxContentWidth  = 100
)

var muted = lipgloss.NewStyle().Foreground(MutedColor)

// Header styles
var (
	HeaderTitleStyle      = lipgloss.NewStyle().Foreground(PrimaryColor).Bold(true).PaddingLeft(2)
	HeaderCommandStyle    = muted.PaddingLeft(2)
	HeaderParamKeyStyle   = muted.PaddingLeft(2)
	HeaderParamValueStyle = lipgloss.NewStyle().Foreground(TextColor)
)

// Device table styles
var (
	TableHeaderStyle = lipgloss.NewStyle().Foreground(PrimaryColor).Bold(true).Underline(true)
	TableCellStyle   = lipgloss.NewStyle().Foreground(TextColor)
	// TableMissingStyle marks a light whose label could not be fetched.
	TableMissingStyle = lipgloss.NewStyle().Foreground(WarningColor).Italic(true)
)

// Step and result styles
var (
	StepCompleteStyle = lipgloss.NewStyle().Foreground(SuccessColor)
	StepFailedStyle   = lipgloss.NewStyle().Foreground(ErrorColor)
	StepNoteStyle     = muted.Italic(true)

	SuccessTitleStyle = lipgloss.NewStyle().Foreground(SuccessColor).Bold(true)
	ErrorTitleStyle   = lipgloss.NewStyle().Foreground(ErrorColor).Bold(true)
	ErrorMessageStyle = lipgloss.NewStyle().Foreground(ErrorColor)

	ResultKeyStyle   = muted.Width(12)
	ResultValueStyle = lipgloss.NewStyle().Foreground(TextColor)

	TroubleshootingTitleStyle = muted.Bold(true)
	TroubleshootingItemStyle  = muted
)

const (
	SuccessMarker  = "✓"
	FailureMarker  = "✗"
	PowerOnMarker  = "●"
	PowerOffMarker = "○"
)

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// GetTerminalWidth returns the width of stdout clamped to
// [MinTerminalWidth, MaxContentWidth]. Non-terminals get the minimum.
func GetTerminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	switch {
	case err != nil, width < MinTerminalWidth:
		return MinTerminalWidth
	case width > MaxContentWidth:
		return MaxContentWidth
	}
	return width
}

// box is a bordered block width columns wide, borders included.
func box(border lipgloss.Border, color lipgloss.Color, width int) lipgloss.Style {
	return lipgloss.NewStyle().
		Border(border).
		BorderForeground(color).
		Width(width - 2)
}

func HeaderBorderStyle(width int) lipgloss.Style {
	return box(lipgloss.RoundedBorder(), PrimaryColor, width)
}

func SuccessBoxStyle(width int) lipgloss.Style {
	return box(lipgloss.NormalBorder(), SuccessColor, width).Padding(0, 2)
}

func ErrorBoxStyle(width int) lipgloss.Style {
	return box(lipgloss.ThickBorder(), ErrorColor, width).Padding(0, 2)
}

// TroubleshootingBoxStyle is nested inside ErrorBoxStyle, so it is narrower
// by the outer border and padding.
func TroubleshootingBoxStyle(width int) lipgloss.Style {
	return box(lipgloss.RoundedBorder(), MutedColor, max(width-10, 42)).
		Padding(0, 1).
		MarginLeft(1)
}

// RenderHorizontalDivider repeats char width times in the primary color.
func RenderHorizontalDivider(width int, char string) string {
	return lipgloss.NewStyle().Foreground(PrimaryColor).Render(strings.Repeat(char, width))
}
