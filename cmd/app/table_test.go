package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTableAlignsColumns(t *testing.T) {
	var buf bytes.Buffer
	tbl := newTable("Search term usage", "TERM", "USES")
	tbl.addRow("plumber", "7")
	tbl.addRow("emergency electrician", "12")
	tbl.render(&buf)

	out := buf.String()
	assert.NotContains(t, out, "\x1b[", "piped output must not carry escape codes")

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, "Search term usage", lines[0])
	assert.Contains(t, lines[1], "TERM")
	assert.True(t, strings.HasPrefix(lines[2], "---"))

	// Every row splits at the same column
	col := strings.Index(lines[1], "|")
	require.Positive(t, col)
	assert.Equal(t, col, strings.Index(lines[3], "|"))
	assert.Equal(t, col, strings.Index(lines[4], "|"))
	assert.Contains(t, lines[4], " emergency electrician ")
}

func TestTableWithoutRows(t *testing.T) {
	var buf bytes.Buffer
	newTable("", "SESSION", "STATUS").render(&buf)

	assert.Contains(t, buf.String(), "SESSION")
	assert.Contains(t, buf.String(), "(none)")
}
