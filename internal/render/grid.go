package render

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	xansi "github.com/charmbracelet/x/ansi"
	"github.com/mattn/go-runewidth"

	"sharesheet/internal/chooser"
	"sharesheet/internal/types"
)

const (
	defaultCellWidth = 18
	minCellWidth     = 6
	ellipsis         = "…"
)

var (
	headerStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	sectionStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	cellStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	pinnedCellStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("114")).Bold(true)
	shortcutStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("117"))
	placeholderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("238")).Faint(true)
	previewStyle     = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240")).Padding(0, 1)
	profileStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("110")).Italic(true)
	tabStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Padding(0, 1)
	activeTabStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("230")).Background(lipgloss.Color("239")).Bold(true).Padding(0, 1)
	footerStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("238"))
)

type Options struct {
	Title     string
	CellWidth int
	// Preview is the shared text shown in the content preview row.
	Preview string
}

// Grid draws every row of the chooser grid. Each selectable cell is
// prefixed with its adapter position.
func Grid(grid *chooser.GridAdapter, opts Options) string {
	width := opts.CellWidth
	if width <= 0 {
		width = defaultCellWidth
	}
	width = max(width, minCellWidth)
	adapter := grid.Adapter()
	lines := make([]string, 0, grid.ItemCount()+1)
	if title := strings.TrimSpace(opts.Title); title != "" {
		lines = append(lines, headerStyle.Render(title))
	}
	for row := 0; row < grid.ItemCount(); row++ {
		switch grid.ItemViewType(row) {
		case chooser.ViewContentPreview:
			lines = append(lines, previewStyle.Render(Fit(opts.Preview, width*grid.MaxTargetsPerRow())))
		case chooser.ViewProfile:
			if other := adapter.OtherProfile(); other != nil {
				lines = append(lines, profileStyle.Render(labelFor(types.DisplayTarget(other))))
			}
		case chooser.ViewAZLabel:
			lines = append(lines, sectionStyle.Render("All apps"))
		case chooser.ViewFooter:
			lines = append(lines, footerStyle.Render(strings.Repeat("─", width*grid.MaxTargetsPerRow())))
		case chooser.ViewDirectShare, chooser.ViewCallerAndRank, chooser.ViewNormal:
			lines = append(lines, targetRow(grid, row, width))
		}
	}
	return strings.Join(lines, "\n")
}

func targetRow(grid *chooser.GridAdapter, row, width int) string {
	start, end := grid.PositionsForRow(row)
	cells := make([]string, 0, end-start)
	for position := start; position < end; position++ {
		target, ok := grid.Adapter().TargetInfoForPosition(position, true)
		if !ok {
			continue
		}
		cells = append(cells, Cell(position, target, width))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, cells...)
}

// Cell renders one target padded to width display columns.
func Cell(position int, target types.TargetInfo, width int) string {
	style := cellStyle
	text := fmt.Sprintf("%d %s", position, labelFor(target))
	switch target.Kind {
	case types.KindPlaceholder:
		style, text = placeholderStyle, "···"
	case types.KindEmpty:
		style, text = placeholderStyle, ""
	case types.KindSelectable:
		style = shortcutStyle
		if target.Selectable.Pinned {
			style = pinnedCellStyle
		}
	case types.KindDisplayResolve:
		if target.Display.Pinned {
			style = pinnedCellStyle
		}
	case types.KindMultiDisplayResolve:
		text = fmt.Sprintf("%s (%d)", text, len(target.Multi.Targets))
	}
	return style.Render(Fit(text, width))
}

// Tabs renders the profile tab bar with the active tab highlighted.
func Tabs(names []string, active int) string {
	if len(names) < 2 {
		return ""
	}
	tabs := make([]string, len(names))
	for i, name := range names {
		if i == active {
			tabs[i] = activeTabStyle.Render(name)
			continue
		}
		tabs[i] = tabStyle.Render(name)
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, tabs...)
}

// Fit truncates or pads text to exactly width display columns, leaving one
// trailing column as a gutter.
func Fit(text string, width int) string {
	if width <= 1 {
		return ""
	}
	text = strings.Join(strings.Fields(xansi.Strip(text)), " ")
	inner := width - 1
	if runewidth.StringWidth(text) > inner {
		text = runewidth.Truncate(text, inner, ellipsis)
	}
	return runewidth.FillRight(text, width)
}

// Width is the display width of rendered output, ignoring styling.
func Width(rendered string) int {
	widest := 0
	for _, line := range strings.Split(rendered, "\n") {
		widest = max(widest, xansi.StringWidth(line))
	}
	return widest
}

func labelFor(target types.TargetInfo) string {
	if label := target.DisplayLabel(); label != "" {
		return label
	}
	if info := target.ResolveInfo(); info != nil {
		return info.Label()
	}
	return ""
}
