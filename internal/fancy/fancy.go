// Package fancy renders styled CLI output for config inspection.
package fancy

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/tree"
)

var (
	ColorBlue     = lipgloss.Color("39")
	ColorGreen    = lipgloss.Color("82")
	ColorYellow   = lipgloss.Color("228")
	ColorCyan     = lipgloss.Color("45")
	ColorGray     = lipgloss.Color("250")
	ColorWhite    = lipgloss.Color("15")
	ColorDarkGray = lipgloss.Color("240")
	ColorRed      = lipgloss.Color("196")
)

var (
	// Style for the tree root
	RootStyle = lipgloss.NewStyle().
			Foreground(ColorBlue).
			Bold(true)

	// Style for section headers
	HeaderStyle = lipgloss.NewStyle().
			Foreground(ColorWhite).
			Bold(true)

	// Style for descriptive information
	InfoStyle = lipgloss.NewStyle().
			Foreground(ColorGray).
			Italic(true)

	// Style for branch connectors in trees
	BranchStyle = lipgloss.NewStyle().
			Foreground(ColorDarkGray)

	// Style for enabled/connected markers
	EnabledStyle = lipgloss.NewStyle().
			Foreground(ColorGreen)

	// Style for disabled markers
	DisabledStyle = lipgloss.NewStyle().
			Foreground(ColorRed)

	// Style for space and server identifiers
	NameStyle = lipgloss.NewStyle().
			Foreground(ColorCyan)
)

// Tree returns a new tree with common styling applied
func Tree(root string) *tree.Tree {
	t := tree.New()
	t.EnumeratorStyle(BranchStyle)
	t.Enumerator(tree.RoundedEnumerator)
	t.Root(RootStyle.Render(root))
	return t
}

// BranchNode creates a styled section header node
func BranchNode(title string, info string) *tree.Tree {
	return tree.New().Root(
		lipgloss.JoinHorizontal(
			lipgloss.Top,
			HeaderStyle.Render(title),
			" ",
			InfoStyle.Render(info),
		),
	)
}
