package manytomorph

import (
	"fmt"
	"io"
	"os"

	"github.com/jedib0t/go-pretty/table"
)

// Render returns a table of the registered morph types.
func (r *Registry) Render() string {
	w := table.NewWriter()
	w.AppendHeader(table.Row{"Morph Type", "Go Type", "Table", "Key", "Key Kind"})
	for _, mt := range r.Types() {
		kind := "int"
		if mt.Info.KeyIsString() {
			kind = "string"
		}
		w.AppendRow(table.Row{mt.Name, mt.Type.String(), mt.Info.TableName, mt.Info.PrimaryKey, kind})
	}
	return w.Render()
}

// PrintRegistry writes the DefaultRegistry table to stdout.
func PrintRegistry() {
	FprintRegistry(os.Stdout, DefaultRegistry)
}

// FprintRegistry writes the table for r to w.
func FprintRegistry(w io.Writer, r *Registry) {
	fmt.Fprintln(w, r.Render())
}

// Describe renders the relation's pivot layout, one row per column role.
func (r *ManyToMorph) Describe() string {
	w := table.NewWriter()
	w.AppendHeader(table.Row{"Role", "Column"})
	w.AppendRow(table.Row{"relation", r.name})
	w.AppendRow(table.Row{"table", r.table})
	w.AppendRow(table.Row{"foreign pivot key", r.foreignPivotKey})
	w.AppendRow(table.Row{"parent key", r.parentKey})
	w.AppendRow(table.Row{"morph type", r.morphType})
	w.AppendRow(table.Row{"morph key", r.morphKey})
	if r.timestamps {
		w.AppendRow(table.Row{"created at", r.createdAt})
		w.AppendRow(table.Row{"updated at", r.updatedAt})
	}
	w.AppendRow(table.Row{"accessor", r.accessor})
	return w.Render()
}
