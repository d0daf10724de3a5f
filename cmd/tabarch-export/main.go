// tabarch-export converts a finished archive file into a Parquet file for
// downstream analytics.
//
// Numeric columns are exported in long form, one Parquet row per table row:
// (field, row, value, label). Cell columns have no flat representation and
// are reported and skipped.
//
// Usage:
//
//	tabarch-export -in /data/bsas/2024-06-01T12:00.h5 -out samples.parquet
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/parquet-go/parquet-go"

	"github.com/xtxerr/tabarch/internal/container"
)

// exportRow is one (field, row) pair in Parquet form.
type exportRow struct {
	Field string  `parquet:"field,zstd"`
	Label string  `parquet:"label,optional,zstd"`
	Row   int64   `parquet:"row"`
	Value float64 `parquet:"value"`
}

func main() {
	in := flag.String("in", "", "archive file to export")
	out := flag.String("out", "", "parquet file to write")
	flag.Parse()

	if *in == "" || *out == "" {
		flag.Usage()
		os.Exit(2)
	}

	if err := export(*in, *out); err != nil {
		fmt.Fprintf(os.Stderr, "tabarch-export: %v\n", err)
		os.Exit(1)
	}
}

func export(in, out string) error {
	view, err := container.Read(in)
	if err != nil {
		return err
	}
	if view.Truncated {
		fmt.Fprintf(os.Stderr, "warning: %s ends in a torn record, exporting what replayed\n", in)
	}

	f, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("create %s: %w", out, err)
	}

	w := parquet.NewGenericWriter[exportRow](f)

	exported := 0
	for _, d := range view.Datasets() {
		if d.IsRef() {
			fmt.Fprintf(os.Stderr, "skipping cell column %s (%d rows)\n", d.Path, d.Rows())
			continue
		}
		if strings.Contains(d.Path, "/#refs#/") {
			continue // cell value blobs and the null placeholder
		}

		values, err := d.Float64s()
		if err != nil {
			return fmt.Errorf("column %s: %w", d.Path, err)
		}
		label, _ := d.AttrString("label")

		rows := make([]exportRow, len(values))
		for i, v := range values {
			rows[i] = exportRow{
				Field: d.Path,
				Label: label,
				Row:   int64(i),
				Value: v,
			}
		}
		if _, err := w.Write(rows); err != nil {
			f.Close()
			return fmt.Errorf("write column %s: %w", d.Path, err)
		}
		exported++
	}

	if err := w.Close(); err != nil {
		f.Close()
		return fmt.Errorf("close parquet writer: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", out, err)
	}

	fmt.Printf("exported %d columns to %s\n", exported, out)
	return nil
}
