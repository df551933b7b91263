package terminal

import "github.com/charmbracelet/lipgloss"

var (
	infoSymbolStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("33")).
			Bold(true).
			SetString("ⓘ")

	errorSymbolStyle = lipgloss.NewStyle().
				SetString("❌")

	warningSymbolStyle = lipgloss.NewStyle().
				SetString("⚠️")

	successSymbolStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("10")).
				Bold(true).
				SetString("✔")

	boldStyle = lipgloss.NewStyle().Bold(true)
)

var (
	// InfoSymbol (ⓘ)
	InfoSymbol = infoSymbolStyle.String()

	// WarningSymbol (⚠️)
	WarningSymbol = warningSymbolStyle.String()

	// ErrorSymbol (❌)
	ErrorSymbol = errorSymbolStyle.String()

	// SuccessSymbol (✔)
	SuccessSymbol = successSymbolStyle.String()
)

func Bold(s string) string {
	return boldStyle.Render(s)
}
