package panel

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/muurk/lumen/internal/ui"
)

var (
	TitleStyle = lipgloss.NewStyle().
			Foreground(ui.TextColor).
			Background(ui.PrimaryColor).
			Bold(true).
			Padding(0, 1)

	SpinnerStyle = lipgloss.NewStyle().Foreground(ui.PrimaryColor)

	labelStyle = lipgloss.NewStyle().
			Foreground(ui.MutedColor).
			Width(12)

	focusedLabelStyle = labelStyle.
				Foreground(ui.TextColor).
				Bold(true)

	valueStyle = lipgloss.NewStyle().
			Foreground(ui.TextColor).
			Width(6).
			Align(lipgloss.Right)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ui.MutedColor).
			Padding(0, 1)

	statusOKStyle   = lipgloss.NewStyle().Foreground(ui.SuccessColor)
	statusFailStyle = lipgloss.NewStyle().Foreground(ui.ErrorColor)
	pendingStyle    = lipgloss.NewStyle().Foreground(ui.WarningColor)
)

// View renders the control panel
func (m Model) View() string {
	header := TitleStyle.Render("LUMEN") + "  " + lipgloss.NewStyle().Foreground(ui.MutedColor).Render("LAN light control")

	var body string
	if m.Scanning {
		body = "\n  " + m.Spinner.View() + " Searching for lights on the local network...\n"
	} else {
		body = lipgloss.JoinHorizontal(lipgloss.Top,
			m.Devices.View(),
			"  ",
			panelStyle.Render(m.renderControls()),
		)
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		body,
		m.renderStatus(),
		m.Help.View(m.Keys),
	)
}

func (m Model) renderControls() string {
	lines := make([]string, 0, len(m.Sliders)+3)
	for i, s := range m.Sliders {
		label := labelStyle
		marker := "  "
		if i == m.Focus {
			label = focusedLabelStyle
			marker = "› "
		}
		lines = append(lines, marker+label.Render(s.Name)+m.Bar.ViewAs(s.Fraction())+" "+valueStyle.Render(s.Display()))
	}

	power := statusFailStyle.Render(ui.PowerOffMarker + " off")
	if m.PowerOn {
		power = statusOKStyle.Render(ui.PowerOnMarker + " on")
	}
	lines = append(lines, "", "  "+labelStyle.Render("Power")+power)
	lines = append(lines, "  "+labelStyle.Render("Color")+m.Color().String())
	return strings.Join(lines, "\n")
}

func (m Model) renderStatus() string {
	var parts []string
	if m.Pending > 0 {
		parts = append(parts, pendingStyle.Render(fmt.Sprintf("%d in flight", m.Pending)))
	}
	if m.Status != "" {
		style := statusOKStyle
		if m.Failed {
			style = statusFailStyle
		}
		parts = append(parts, style.Render(m.Status))
	}
	return "\n" + strings.Join(parts, "  ")
}
