// Package view keeps the displayed rows separate from the credential store.
// Rows map to entries by id and carry the latest status for each.
package view

import (
	"nsmgr/internal/constants"
	"nsmgr/internal/jobs"
	"nsmgr/internal/puppet"
)

// Row is one displayed line.
type Row struct {
	EntryID string
	Name    string
	Status  jobs.Status
}

// Text returns the display text of col.
func (r *Row) Text(col Column) string {
	switch col {
	case ColumnName:
		return r.Name
	case ColumnState:
		return r.Status.Icon.String()
	case ColumnExists:
		return r.Status.Exists.String()
	case ColumnLastActivity:
		if r.Status.LastActivity.IsZero() {
			return ""
		}
		return r.Status.LastActivity.Local().Format(constants.LastActivityLayout)
	case ColumnMessage:
		return r.Status.Message
	default:
		return ""
	}
}

// Cells returns the texts of all columns in display order.
func (r *Row) Cells() []string {
	out := make([]string, 0, len(columnNames))
	for _, c := range Columns() {
		out = append(out, r.Text(c))
	}
	return out
}

// View is the sorted row list. It is not safe for concurrent use; the
// session mutates it on its loop.
type View struct {
	rows   []*Row
	byID   map[string]*Row
	sorter Sorter
}

// New returns an empty view sorted by s.
func New(s Sorter) *View {
	return &View{byID: make(map[string]*Row), sorter: s}
}

// Reset replaces all rows with one per entry.
func (v *View) Reset(entries []*puppet.Entry) {
	v.rows = v.rows[:0]
	v.byID = make(map[string]*Row, len(entries))
	for _, e := range entries {
		v.Add(e)
	}
}

// Add appends a row for e. The row is placed by the next sort.
func (v *View) Add(e *puppet.Entry) {
	r := &Row{EntryID: e.ID, Name: e.Name}
	v.rows = append(v.rows, r)
	v.byID[e.ID] = r
}

// Rename updates the displayed name after an edit.
func (v *View) Rename(id, name string) {
	if r, ok := v.byID[id]; ok {
		r.Name = name
	}
}

// Remove drops the row for id.
func (v *View) Remove(id string) {
	if _, ok := v.byID[id]; !ok {
		return
	}
	delete(v.byID, id)
	for i, r := range v.rows {
		if r.EntryID == id {
			v.rows = append(v.rows[:i], v.rows[i+1:]...)
			return
		}
	}
}

// Status returns the status of the row for id.
func (v *View) Status(id string) (jobs.Status, bool) {
	r, ok := v.byID[id]
	if !ok {
		return jobs.Status{}, false
	}
	return r.Status, true
}

// SetStatus replaces the status of the row for id.
func (v *View) SetStatus(id string, st jobs.Status) {
	if r, ok := v.byID[id]; ok {
		r.Status = st
	}
}

// Resort applies the current sorter.
func (v *View) Resort() {
	v.sorter.Sort(v.rows)
}

// SelectColumn updates the sorter as a header click would and resorts.
func (v *View) SelectColumn(col Column) {
	v.sorter.Select(col)
	v.Resort()
}

// SetSorter replaces the sorter and resorts.
func (v *View) SetSorter(s Sorter) {
	v.sorter = s
	v.Resort()
}

// Sorter returns the current sort selection.
func (v *View) Sorter() Sorter { return v.sorter }

// Row returns a copy of the row for id.
func (v *View) Row(id string) (Row, bool) {
	r, ok := v.byID[id]
	if !ok {
		return Row{}, false
	}
	return *r, true
}

// Rows returns copies of all rows in display order.
func (v *View) Rows() []Row {
	out := make([]Row, len(v.rows))
	for i, r := range v.rows {
		out[i] = *r
	}
	return out
}

// Len returns the number of rows.
func (v *View) Len() int { return len(v.rows) }
