package main

import (
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// table renders static rows as padded, separated columns
type table struct {
	title   string
	headers []string
	rows    [][]string
}

func newTable(title string, headers ...string) *table {
	return &table{title: title, headers: headers}
}

func (t *table) addRow(cells ...string) {
	t.rows = append(t.rows, cells)
}

// render writes the table to w. The renderer takes its colour profile from
// w, so piped output carries no escape codes.
func (t *table) render(w io.Writer) {
	r := lipgloss.NewRenderer(w)
	titleStyle := r.NewStyle().Bold(true).Underline(true)
	headerStyle := r.NewStyle().Bold(true).Padding(0, 1)
	cellStyle := r.NewStyle().Padding(0, 1)
	sepStyle := r.NewStyle().Faint(true)

	var sb strings.Builder
	if t.title != "" {
		sb.WriteString(titleStyle.Render(t.title))
		sb.WriteString("\n")
	}

	widths := make([]int, len(t.headers))
	for i, h := range t.headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if i < len(widths) {
				widths[i] = max(widths[i], lipgloss.Width(cell))
			}
		}
	}
	total := len(widths) - 1
	for i := range widths {
		// Width includes padding
		widths[i] += 2
		total += widths[i]
	}

	writeRow := func(style lipgloss.Style, cells []string) {
		for i := range widths {
			cell := ""
			if i < len(cells) {
				cell = cells[i]
			}
			sb.WriteString(style.Width(widths[i]).Render(cell))
			if i < len(widths)-1 {
				sb.WriteString(sepStyle.Render("|"))
			}
		}
		sb.WriteString("\n")
	}

	writeRow(headerStyle, t.headers)
	sb.WriteString(sepStyle.Render(strings.Repeat("-", total)))
	sb.WriteString("\n")
	if len(t.rows) == 0 {
		sb.WriteString(cellStyle.Render("(none)"))
		sb.WriteString("\n")
	}
	for _, row := range t.rows {
		writeRow(cellStyle, row)
	}

	_, _ = io.WriteString(w, sb.String())
}
