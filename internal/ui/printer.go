package ui

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/muurk/lumen/internal/discovery"
)

// Param is one key/value line in a header or result box. Params render in
// the order given.
type Param struct {
	Key   string
	Value string
}

// Printer provides methods for printing UI components to a writer.
// This is the primary way CLI commands output styled content.
type Printer struct {
	out   io.Writer
	width int
}

// NewPrinter creates a new Printer that writes to the given writer.
// If w is nil, os.Stdout is used.
func NewPrinter(w io.Writer) *Printer {
	if w == nil {
		w = os.Stdout
	}
	return &Printer{
		out:   w,
		width: GetTerminalWidth(),
	}
}

// Width returns the width used by this printer
func (p *Printer) Width() int {
	return p.width
}

// SetWidth overrides the detected terminal width
func (p *Printer) SetWidth(width int) *Printer {
	if width < MinTerminalWidth {
		width = MinTerminalWidth
	}
	p.width = width
	return p
}

// Print writes content to the output
func (p *Printer) Print(content string) {
	_, _ = fmt.Fprint(p.out, content)
}

// Println writes content with a newline
func (p *Printer) Println(content string) {
	_, _ = fmt.Fprintln(p.out, content)
}

// Newline prints an empty line
func (p *Printer) Newline() {
	_, _ = fmt.Fprintln(p.out)
}

// PrintHeader prints a command header box
func (p *Printer) PrintHeader(title, command string, params ...Param) {
	p.Println(RenderHeader(title, command, params, p.width))
}

// PrintDevices prints the device table
func (p *Printer) PrintDevices(devices []discovery.Device) {
	p.Println(RenderDeviceTable(devices))
}

// PrintStep prints one completed or failed step line
func (p *Printer) PrintStep(name string, err error, note string) {
	p.Println(RenderStep(name, err, note))
}

// PrintSuccess prints a success result box
func (p *Printer) PrintSuccess(title string, details ...Param) {
	p.Println(RenderSuccessBox(title, details, p.width))
}

// PrintError prints an error result box with troubleshooting tips for err
func (p *Printer) PrintError(title string, err error) {
	p.Println(RenderErrorBox(title, err, Troubleshooting(err), p.width))
}

// RenderHeader renders a command header box
func RenderHeader(title, command string, params []Param, width int) string {
	titleLine := HeaderTitleStyle.Render(strings.ToUpper(title))
	commandLine := HeaderCommandStyle.Render(command)
	content := lipgloss.JoinVertical(lipgloss.Left, titleLine, commandLine)

	if len(params) > 0 {
		dividerWidth := width - 6 // Account for border and padding
		if dividerWidth < 10 {
			dividerWidth = 10
		}
		lines := make([]string, 0, len(params))
		for _, kv := range params {
			lines = append(lines, HeaderParamKeyStyle.Render(kv.Key+":")+" "+HeaderParamValueStyle.Render(kv.Value))
		}
		content = lipgloss.JoinVertical(lipgloss.Left,
			content,
			RenderHorizontalDivider(dividerWidth, "─"),
			strings.Join(lines, "\n"),
		)
	}
	return HeaderBorderStyle(width).Render(content)
}

var tableColumns = []string{"#", "ID", "LABEL", "ADDRESS", "VIA"}

// RenderDeviceTable renders devices as an aligned table in registry order.
func RenderDeviceTable(devices []discovery.Device) string {
	if len(devices) == 0 {
		return TableMissingStyle.Render("  No devices found")
	}

	rows := make([][]string, len(devices))
	missing := make([]bool, len(devices))
	for i, d := range devices {
		label := d.Label
		if label == "" {
			missing[i] = true
			label = "(no label)"
			if d.LabelErr != nil {
				label = "(label unavailable)"
			}
		}
		rows[i] = []string{strconv.Itoa(i), d.ID.String(), label, d.HostPort(), string(d.Origin)}
	}

	widths := make([]int, len(tableColumns))
	for c, name := range tableColumns {
		widths[c] = lipgloss.Width(name)
		for _, row := range rows {
			if w := lipgloss.Width(row[c]); w > widths[c] {
				widths[c] = w
			}
		}
	}

	pad := func(s string, w int) string {
		return s + strings.Repeat(" ", w-lipgloss.Width(s))
	}

	var b strings.Builder
	cells := make([]string, len(tableColumns))
	for c, name := range tableColumns {
		cells[c] = TableHeaderStyle.Render(pad(name, widths[c]))
	}
	b.WriteString("  " + strings.Join(cells, "  "))
	for i, row := range rows {
		b.WriteString("\n")
		for c, v := range row {
			style := TableCellStyle
			if c == 2 && missing[i] {
				style = TableMissingStyle
			}
			cells[c] = style.Render(pad(v, widths[c]))
		}
		b.WriteString("  " + strings.TrimRight(strings.Join(cells, "  "), " "))
	}
	return b.String()
}

// RenderStep renders "✓ name (note)" or "✗ name: error".
func RenderStep(name string, err error, note string) string {
	if err != nil {
		return "  " + StepFailedStyle.Render(FailureMarker+" "+name) + "  " + ErrorMessageStyle.Render(err.Error())
	}
	line := "  " + StepCompleteStyle.Render(SuccessMarker+" "+name)
	if note != "" {
		line += "  " + StepNoteStyle.Render("("+note+")")
	}
	return line
}

// RenderSuccessBox renders a success result box
func RenderSuccessBox(title string, details []Param, width int) string {
	lines := []string{
		"",
		SuccessTitleStyle.Render("   " + SuccessMarker + "  SUCCESS  ─  " + title),
		"",
	}
	for _, kv := range details {
		lines = append(lines, ResultKeyStyle.Render("   "+kv.Key+":")+" "+ResultValueStyle.Render(kv.Value))
	}
	lines = append(lines, "")
	return SuccessBoxStyle(width).Render(strings.Join(lines, "\n"))
}

// RenderErrorBox renders an error result box with troubleshooting
func RenderErrorBox(title string, err error, troubleshooting []string, width int) string {
	lines := []string{
		"",
		ErrorTitleStyle.Render("   " + FailureMarker + "  FAILED  ─  " + title),
		"",
	}
	if err != nil {
		lines = append(lines, ErrorMessageStyle.Render("   Error: "+err.Error()), "")
	}
	if len(troubleshooting) > 0 {
		tips := []string{TroubleshootingTitleStyle.Render("Troubleshooting:"), ""}
		for _, tip := range troubleshooting {
			tips = append(tips, TroubleshootingItemStyle.Render("  • "+tip))
		}
		lines = append(lines, TroubleshootingBoxStyle(width).Render(strings.Join(tips, "\n")), "")
	}
	return ErrorBoxStyle(width).Render(strings.Join(lines, "\n"))
}
