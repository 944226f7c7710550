package cmd

import (
	"fmt"
	"io"
	"strings"

	"habblive-backend/internal/catalog"
	"habblive-backend/internal/reconcile"

	"github.com/jedib0t/go-pretty/v6/table"
)

func newTable(out io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(out)
	return t
}

func renderResult(out io.Writer, user string, c catalog.Catalog, result reconcile.Result) {
	next := "-"
	if result.Next != nil {
		next = string(*result.Next)
		if i, ok := c.Index(*result.Next); ok {
			next = fmt.Sprintf("%s (#%d)", next, i+1)
		}
	}

	found := make([]string, len(result.Found))
	for i, id := range result.Found {
		found[i] = string(id)
	}

	t := newTable(out)
	t.AppendHeader(table.Row{"User", "Next badge", "Found", "Missing", "Complete"})
	t.AppendRow(table.Row{
		user,
		next,
		fmt.Sprintf("%d/%d", len(result.Found), c.Len()),
		result.Missing,
		result.Complete,
	})
	t.Render()

	if len(found) > 0 {
		fmt.Fprintln(out, strings.Join(found, " "))
	}
}
