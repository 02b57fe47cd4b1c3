// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"io"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"
)

// renderTable writes an inner-grid table with no outer frame.
func renderTable(w io.Writer, header []string, rows [][]any) {
	tbl := tablewriter.NewTable(
		w,
		tablewriter.WithRenderer(renderer.NewBlueprint(tw.Rendition{
			Borders:  tw.BorderNone,
			Settings: tw.Settings{Separators: tw.Separators{BetweenColumns: tw.On, BetweenRows: tw.On}},
		})),
	)
	tbl.Header(header)
	_ = tbl.Bulk(rows)
	_ = tbl.Render()
}
