package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
)

// printJSON writes v indented.
func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printTable writes tab-separated rows aligned under header.
func printTable(w io.Writer, header []string, rows [][]string) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(header, "\t"))
	for _, row := range rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return tw.Flush()
}

// render prints v as JSON with --json, otherwise as a table built by rows.
func render(w io.Writer, v interface{}, header []string, rows func() [][]string) error {
	if jsonOutput {
		return printJSON(w, v)
	}
	return printTable(w, header, rows())
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
