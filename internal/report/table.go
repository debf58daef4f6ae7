package report

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/mattn/go-isatty"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	activeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Padding(0, 1)
)

// Headers of the batch listing.
var Headers = []string{"Name", "Completion", "Host", "User", "Type", "Started", "Finished", "ETA", "Active"}

// IsTerminal reports whether w is an interactive terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (s Summary) row() []string {
	active := " "
	if s.Active {
		active = "*"
	}
	return []string{s.Name, s.Completion, s.Host, s.User, string(s.Type), s.Started, s.Finished, s.ETA, active}
}

// WriteTable renders the batch listing. Styled output uses borders and
// colors; plain output is tab separated.
func WriteTable(w io.Writer, rows []Summary, styled bool) error {
	if _, err := fmt.Fprintf(w, "Batches matching criteria: %d\n", len(rows)); err != nil {
		return err
	}

	if !styled {
		if err := writeTSV(w, Headers); err != nil {
			return err
		}
		for _, r := range rows {
			if err := writeTSV(w, r.row()); err != nil {
				return err
			}
		}
		return nil
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("241"))).
		Headers(Headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case row >= 0 && row < len(rows) && rows[row].Active:
				return activeStyle
			default:
				return cellStyle
			}
		})
	for _, r := range rows {
		t.Row(r.row()...)
	}
	_, err := fmt.Fprintln(w, t.String())
	return err
}

func writeTSV(w io.Writer, cells []string) error {
	for i, c := range cells {
		sep := "\t"
		if i == len(cells)-1 {
			sep = "\n"
		}
		if _, err := io.WriteString(w, c+sep); err != nil {
			return err
		}
	}
	return nil
}
