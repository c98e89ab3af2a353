package tui

import "github.com/charmbracelet/lipgloss"

// Catppuccin Mocha palette.
const (
	colorPink     lipgloss.Color = "#f5c2e7"
	colorRed      lipgloss.Color = "#f38ba8"
	colorPeach    lipgloss.Color = "#fab387"
	colorYellow   lipgloss.Color = "#f9e2af"
	colorGreen    lipgloss.Color = "#a6e3a1"
	colorTeal     lipgloss.Color = "#94e2d5"
	colorLavender lipgloss.Color = "#b4befe"

	colorText     lipgloss.Color = "#cdd6f4"
	colorSubtext1 lipgloss.Color = "#bac2de"
	colorSubtext0 lipgloss.Color = "#a6adc8"
	colorOverlay1 lipgloss.Color = "#7f849c"
	colorOverlay0 lipgloss.Color = "#6c7086"
	colorSurface2 lipgloss.Color = "#585b70"
	colorSurface1 lipgloss.Color = "#45475a"
	colorSurface0 lipgloss.Color = "#313244"
	colorMantle   lipgloss.Color = "#181825"
)

const (
	colorAccent  = colorPink
	colorBrand   = colorPink
	colorSuccess = colorGreen
	colorError   = colorRed
	colorWarning = colorYellow
	colorInfo    = colorTeal
)

var (
	titleStyle = lipgloss.NewStyle().Foreground(colorBrand).Bold(true)

	headerBarStyle = lipgloss.NewStyle().
			Foreground(colorText).
			Background(colorMantle).
			Padding(0, 2)

	headerAppStyle = lipgloss.NewStyle().
			Foreground(colorBrand).
			Bold(true)

	activeTabStyle = lipgloss.NewStyle().
			Foreground(colorAccent).
			Background(colorSurface0).
			Bold(true).
			Padding(0, 1)

	inactiveTabStyle = lipgloss.NewStyle().
				Foreground(colorOverlay1).
				Background(colorMantle).
				Padding(0, 1)

	footerStyle = lipgloss.NewStyle().
			Foreground(colorSubtext0).
			Background(colorMantle).
			Padding(0, 2)

	statusBarStyle = lipgloss.NewStyle().
			Foreground(colorSubtext1).
			Background(colorSurface0).
			Padding(0, 2)

	listBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorSurface1).
			Padding(0, 1)

	helpKeyStyle  = lipgloss.NewStyle().Foreground(colorAccent).Bold(true)
	helpDescStyle = lipgloss.NewStyle().Foreground(colorSubtext0)

	tableHeaderStyle = lipgloss.NewStyle().Foreground(colorSubtext0).Bold(true)
	creditStyle      = lipgloss.NewStyle().Foreground(colorSuccess)
	debitStyle       = lipgloss.NewStyle().Foreground(colorError)
	cursorStyle      = lipgloss.NewStyle().Foreground(colorAccent).Bold(true)
	labelStyle       = lipgloss.NewStyle().Foreground(colorSubtext0)
	valueStyle       = lipgloss.NewStyle().Foreground(colorPeach)
	mutedStyle       = lipgloss.NewStyle().Foreground(colorOverlay0)
	separatorStyle   = lipgloss.NewStyle().Foreground(colorSurface2)

	severityStyles = map[string]lipgloss.Style{
		"none":   lipgloss.NewStyle().Foreground(colorSuccess).Bold(true),
		"medium": lipgloss.NewStyle().Foreground(colorWarning).Bold(true),
		"high":   lipgloss.NewStyle().Foreground(colorError).Bold(true),
	}
	unvalidatedStyle = lipgloss.NewStyle().Foreground(colorInfo)
	focusStyle       = lipgloss.NewStyle().Foreground(colorLavender)
)
