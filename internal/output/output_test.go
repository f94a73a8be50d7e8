package output

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWriter_StatusLines(t *testing.T) {
	tests := []struct {
		name  string
		write func(w *Writer)
		want  string
	}{
		{name: "success", write: func(w *Writer) { w.Success("Index complete") }, want: "✓ Index complete\n"},
		{name: "warning", write: func(w *Writer) { w.Warningf("%d folders skipped", 2) }, want: "! 2 folders skipped\n"},
		{name: "error", write: func(w *Writer) { w.Error("Embedder unavailable") }, want: "✗ Embedder unavailable\n"},
		{name: "no icon indents", write: func(w *Writer) { w.Status("", "detail") }, want: "   detail\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Given: a writer on a buffer, which is never a terminal
			buf := &bytes.Buffer{}

			// When: writing
			tt.write(New(buf))

			// Then: the line is uncolored
			assert.Equal(t, tt.want, buf.String())
		})
	}
}

func TestWriter_Field(t *testing.T) {
	buf := &bytes.Buffer{}
	New(buf).Field("Topics", 3)
	assert.Equal(t, "  Topics:        3\n", buf.String())
}

func TestWriter_List(t *testing.T) {
	// Given: more items than are listed
	items := make([]string, maxListed+5)
	for i := range items {
		items[i] = fmt.Sprintf("history/book%02d.pdf", i)
	}
	buf := &bytes.Buffer{}
	w := New(buf)

	// When: listing them and an empty list
	w.List("New", items)
	w.List("Deleted", nil)

	// Then: the list is cut with a count of the rest
	out := buf.String()
	assert.True(t, strings.HasPrefix(out, fmt.Sprintf("New (%d)\n", len(items))))
	assert.Contains(t, out, "history/book00.pdf")
	assert.NotContains(t, out, fmt.Sprintf("book%02d", maxListed))
	assert.Contains(t, out, "... and 5 more")
	assert.NotContains(t, out, "Deleted")
}

func TestWriter_Table(t *testing.T) {
	buf := &bytes.Buffer{}
	New(buf).Table([]string{"TOPIC", "BOOKS"}, [][]string{
		{"history", "12"},
		{"philosophy_stoics", "3"},
	})

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	assert.Len(t, lines, 3)
	assert.Equal(t, strings.Index(lines[0], "BOOKS"), strings.Index(lines[1], "12"))
	assert.Equal(t, strings.Index(lines[0], "BOOKS"), strings.Index(lines[2], "3"))
}
