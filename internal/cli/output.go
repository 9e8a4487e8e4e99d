package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"nsmgr/internal/jobs"
	"nsmgr/internal/view"
)

// writeRows prints rows as an aligned table. numbered adds the 1-based row
// number the shell accepts; selected rows are marked with '*'.
func writeRows(w io.Writer, rows []view.Row, selected map[string]bool, numbered bool) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	titles := make([]string, 0, len(view.Columns())+1)
	if numbered {
		titles = append(titles, "#")
	}
	for _, c := range view.Columns() {
		titles = append(titles, c.Title())
	}
	fmt.Fprintln(tw, strings.Join(titles, "\t"))

	for i := range rows {
		r := &rows[i]
		cells := r.Cells()
		if numbered {
			mark := " "
			if selected[r.EntryID] {
				mark = "*"
			}
			cells = append([]string{fmt.Sprintf("%s%d", mark, i+1)}, cells...)
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	return tw.Flush()
}

func writeWorkers(w io.Writer, workers []jobs.HandleSnapshot) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tKind\tName\tStarted")
	for _, h := range workers {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", h.ID, h.Kind, h.Name, h.StartedAt.Format(time.TimeOnly))
	}
	return tw.Flush()
}

// formatResult is the line the shell prints when a worker finishes.
func formatResult(r jobs.Result) string {
	row := view.Row{Name: r.Name, Status: r.Status}
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s: %s", r.Kind, r.Name, r.Status.Icon)
	if r.Status.Exists != jobs.ExistsUnknown {
		fmt.Fprintf(&b, ", exists: %s", r.Status.Exists)
	}
	if last := row.Text(view.ColumnLastActivity); last != "" {
		fmt.Fprintf(&b, ", last activity %s", last)
	}
	if r.Status.Message != "" {
		fmt.Fprintf(&b, ", %s", r.Status.Message)
	}
	return b.String()
}
