package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/Harvey-AU/broken-link-bee/internal/jobs"
	"github.com/Harvey-AU/broken-link-bee/internal/util"
	"github.com/gocarina/gocsv"
	"github.com/rodaine/table"
)

type resultWriter func(w io.Writer, result *jobs.Result) error

func outputWriter(format string) (resultWriter, error) {
	switch format {
	case "table", "":
		return writeTable, nil
	case "json":
		return writeJSON, nil
	case "csv":
		return writeCSV, nil
	default:
		return nil, fmt.Errorf("unknown format %q: use table, json or csv", format)
	}
}

// brokenRow is one broken entry in table and CSV output. The table view
// shortens Page to its path.
type brokenRow struct {
	Type   string `csv:"Type"`
	Page   string `csv:"Page"`
	Link   string `csv:"Link"`
	Status int    `csv:"Status"`
}

func rows(result *jobs.Result) []brokenRow {
	out := make([]brokenRow, 0, len(result.BrokenLinks)+len(result.BrokenMedia))
	for _, l := range result.BrokenLinks {
		out = append(out, brokenRow{Type: "link", Page: l.Page, Link: l.Link, Status: l.Status})
	}
	for _, m := range result.BrokenMedia {
		out = append(out, brokenRow{Type: "media", Page: m.Page, Link: m.Link, Status: m.Status})
	}
	return out
}

func writeTable(w io.Writer, result *jobs.Result) error {
	tbl := table.New("Type", "Page", "Link", "Status").WithWriter(w)
	for _, r := range rows(result) {
		tbl.AddRow(r.Type, util.ExtractPathFromURL(r.Page), r.Link, r.Status)
	}
	tbl.Print()
	return nil
}

func writeJSON(w io.Writer, result *jobs.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func writeCSV(w io.Writer, result *jobs.Result) error {
	out := rows(result)
	return gocsv.Marshal(&out, w)
}
