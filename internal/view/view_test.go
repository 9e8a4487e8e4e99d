package view

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nsmgr/internal/jobs"
	"nsmgr/internal/puppet"
)

func names(v *View) []string {
	var out []string
	for _, r := range v.Rows() {
		out = append(out, r.Name)
	}
	return out
}

func newView(t *testing.T, s Sorter, list ...string) (*View, []*puppet.Entry) {
	t.Helper()
	store := puppet.NewStore()
	var entries []*puppet.Entry
	for _, n := range list {
		entries = append(entries, store.Add(puppet.Credential{Name: n}))
	}
	v := New(s)
	v.Reset(entries)
	return v, entries
}

func TestSelectTogglesAndResets(t *testing.T) {
	var s Sorter
	assert.Equal(t, Sorter{ColumnName, Ascending}, s)

	s.Select(ColumnName)
	assert.Equal(t, Sorter{ColumnName, Descending}, s)
	s.Select(ColumnName)
	assert.Equal(t, Sorter{ColumnName, Ascending}, s)

	s.Select(ColumnName)
	s.Select(ColumnExists)
	assert.Equal(t, Sorter{ColumnExists, Ascending}, s)
}

func TestSortByName(t *testing.T) {
	v, _ := newView(t, Sorter{}, "Gamma", "Alpha", "Beta")
	v.Resort()
	assert.Equal(t, []string{"Alpha", "Beta", "Gamma"}, names(v))

	v.SelectColumn(ColumnName)
	assert.Equal(t, []string{"Gamma", "Beta", "Alpha"}, names(v))
}

func TestTieBreakIsAscendingNameInBothDirections(t *testing.T) {
	v, e := newView(t, Sorter{}, "Delta", "Bravo", "Charlie", "Alpha")
	v.SetStatus(e[0].ID, jobs.Status{Icon: jobs.IconSuccess, Exists: jobs.ExistsYes})
	v.SetStatus(e[1].ID, jobs.Status{Icon: jobs.IconSuccess, Exists: jobs.ExistsYes})
	v.SetStatus(e[2].ID, jobs.Status{Icon: jobs.IconFailure, Exists: jobs.ExistsNo})
	v.SetStatus(e[3].ID, jobs.Status{Icon: jobs.IconFailure, Exists: jobs.ExistsNo})

	v.SelectColumn(ColumnExists)
	assert.Equal(t, []string{"Alpha", "Charlie", "Bravo", "Delta"}, names(v))

	v.SelectColumn(ColumnExists)
	assert.Equal(t, []string{"Bravo", "Delta", "Alpha", "Charlie"}, names(v))
}

func TestSortIsStableForIdenticalRows(t *testing.T) {
	v, e := newView(t, Sorter{Column: ColumnState}, "Alpha", "Alpha", "Alpha")
	for _, x := range e {
		v.SetStatus(x.ID, jobs.Status{Icon: jobs.IconWarning})
	}

	for i := 0; i < 4; i++ {
		v.Resort()
		var ids []string
		for _, r := range v.Rows() {
			ids = append(ids, r.EntryID)
		}
		assert.Equal(t, []string{e[0].ID, e[1].ID, e[2].ID}, ids)
	}
}

func TestCellTexts(t *testing.T) {
	when := time.Date(2024, 2, 3, 4, 5, 6, 0, time.Local)
	r := Row{Name: "Alpha", Status: jobs.Status{
		Icon:         jobs.IconSuccess,
		Exists:       jobs.ExistsYes,
		LastActivity: when,
		Message:      "ok",
	}}
	assert.Equal(t, []string{"Alpha", "Success", "Yes", "2024-02-03 04:05", "ok"}, r.Cells())

	empty := Row{Name: "Beta", Status: jobs.Status{Icon: jobs.IconFailure, Exists: jobs.ExistsNo}}
	assert.Equal(t, []string{"Beta", "Failure", "No", "", ""}, empty.Cells())
	assert.Equal(t, "Unknown", (&Row{}).Text(ColumnExists))
}

func TestSortByLastActivity(t *testing.T) {
	v, e := newView(t, Sorter{Column: ColumnLastActivity}, "Old", "New", "Never")
	v.SetStatus(e[0].ID, jobs.Status{LastActivity: time.Date(2020, 1, 1, 0, 0, 0, 0, time.Local)})
	v.SetStatus(e[1].ID, jobs.Status{LastActivity: time.Date(2024, 1, 1, 0, 0, 0, 0, time.Local)})
	v.Resort()

	assert.Equal(t, []string{"Never", "Old", "New"}, names(v))
}

func TestRemoveAndRename(t *testing.T) {
	v, e := newView(t, Sorter{}, "Alpha", "Beta", "Gamma")
	v.Remove(e[1].ID)
	v.Remove("missing")
	assert.Equal(t, 2, v.Len())

	v.Rename(e[2].ID, "Aardvark")
	v.Resort()
	assert.Equal(t, []string{"Aardvark", "Alpha"}, names(v))

	_, ok := v.Row(e[1].ID)
	assert.False(t, ok)
	r, ok := v.Row(e[0].ID)
	require.True(t, ok)
	assert.Equal(t, "Alpha", r.Name)
}

func TestParseColumnAndOrder(t *testing.T) {
	c, err := ParseColumn("Last_Activity")
	require.NoError(t, err)
	assert.Equal(t, ColumnLastActivity, c)
	c, err = ParseColumn("4")
	require.NoError(t, err)
	assert.Equal(t, ColumnMessage, c)
	_, err = ParseColumn("color")
	assert.Error(t, err)

	o, err := ParseOrder("DESC")
	require.NoError(t, err)
	assert.Equal(t, Descending, o)
	_, err = ParseOrder("sideways")
	assert.Error(t, err)
}
