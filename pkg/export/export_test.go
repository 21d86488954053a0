package export

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rosterTable(rows int) Table {
	table := Table{Title: "CS101 Roster", Subtitle: "Intro to CS", Columns: []string{"National ID", "Name", "Email"}}
	for i := 0; i < rows; i++ {
		table.Rows = append(table.Rows, []string{"N-1", "Ana, \"Quoted\"", "ana@example.edu"})
	}
	return table
}

func TestCSVExporterRender(t *testing.T) {
	out, err := NewCSVExporter().Render(rosterTable(1))
	require.NoError(t, err)
	assert.Equal(t, "National ID,Name,Email\nN-1,\"Ana, \"\"Quoted\"\"\",ana@example.edu\n", string(out))
}

func TestPDFExporterRenderPaginates(t *testing.T) {
	out, err := NewPDFExporter().Render(rosterTable(80))
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF-")))
}

func TestRenderRejectsRaggedRows(t *testing.T) {
	table := rosterTable(0)
	table.Rows = [][]string{{"only-one"}}

	_, err := NewCSVExporter().Render(table)
	assert.Error(t, err)
	_, err = NewPDFExporter().Render(Table{})
	assert.Error(t, err)
}

func TestForFormat(t *testing.T) {
	r, err := ForFormat("")
	require.NoError(t, err)
	assert.Equal(t, "csv", r.Extension())

	r, err = ForFormat(FormatPDF)
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", r.ContentType())

	_, err = ForFormat("xlsx")
	assert.Error(t, err)
}
