package view

import (
	"fmt"
	"slices"
	"strings"
)

// Column identifies a displayed column.
type Column int

const (
	ColumnName Column = iota
	ColumnState
	ColumnExists
	ColumnLastActivity
	ColumnMessage
)

var columnNames = []string{"name", "state", "exists", "last_activity", "message"}

func (c Column) String() string {
	if c < 0 || int(c) >= len(columnNames) {
		return "unknown"
	}
	return columnNames[c]
}

// Title is the column header.
func (c Column) Title() string {
	switch c {
	case ColumnName:
		return "Name"
	case ColumnState:
		return "State"
	case ColumnExists:
		return "Exists"
	case ColumnLastActivity:
		return "Last Activity"
	case ColumnMessage:
		return "Message"
	default:
		return ""
	}
}

// Columns lists all columns in display order.
func Columns() []Column {
	return []Column{ColumnName, ColumnState, ColumnExists, ColumnLastActivity, ColumnMessage}
}

// ParseColumn accepts a column name or its index.
func ParseColumn(s string) (Column, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, n := range columnNames {
		if s == n || s == fmt.Sprint(i) {
			return Column(i), nil
		}
	}
	return 0, fmt.Errorf("unknown column %q", s)
}

// Order is a sort direction.
type Order int

const (
	Ascending Order = iota
	Descending
)

func (o Order) String() string {
	if o == Descending {
		return "desc"
	}
	return "asc"
}

// ParseOrder accepts "asc" or "desc".
func ParseOrder(s string) (Order, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "asc", "ascending":
		return Ascending, nil
	case "desc", "descending":
		return Descending, nil
	}
	return 0, fmt.Errorf("unknown sort order %q", s)
}

// Sorter holds the selected column and direction.
type Sorter struct {
	Column Column
	Order  Order
}

// Select switches to col in ascending order, or flips the direction when
// col is already selected.
func (s *Sorter) Select(col Column) {
	if s.Column == col {
		if s.Order == Ascending {
			s.Order = Descending
		} else {
			s.Order = Ascending
		}
		return
	}
	s.Column = col
	s.Order = Ascending
}

// Sort orders rows by the selected column's text. Equal keys fall back to
// ascending name in either direction; rows equal on both keep their order.
func (s Sorter) Sort(rows []*Row) {
	slices.SortStableFunc(rows, func(a, b *Row) int {
		c := strings.Compare(a.Text(s.Column), b.Text(s.Column))
		if s.Order == Descending {
			c = -c
		}
		if c != 0 {
			return c
		}
		return strings.Compare(a.Name, b.Name)
	})
}
