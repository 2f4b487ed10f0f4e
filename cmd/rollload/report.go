package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/JonMunkholm/rollload/internal/core"
)

// parseFileTypes splits a comma-separated flag value into upper-cased file types.
func parseFileTypes(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.ToUpper(strings.TrimSpace(part)); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func printRun(w io.Writer, run core.Run) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FILE TYPE\tTABLE\tSTATUS\tINSERTED\tSKIPPED\tDROPPED\tDURATION\tERROR")
	for _, r := range run.Results {
		errText := ""
		if r.Error != "" {
			errText = r.ErrorCode + " " + r.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
			r.FileType, r.Table, r.Status, r.Inserted, r.Skipped, r.LinesDropped,
			r.Duration.Round(time.Millisecond), errText)
	}
	tw.Flush()

	if run.Summary == nil {
		return
	}
	sum := run.Summary
	fmt.Fprintf(w, "\nfiles: %d  successful: %d  failed: %d  records: %d  skipped: %d  time: %s\n",
		sum.TotalFiles, sum.Successful, sum.Failed, sum.TotalRecords, sum.TotalSkipped,
		run.WallTime.Round(time.Millisecond))
	if len(sum.FailedFiles) > 0 {
		fmt.Fprintf(w, "failed: %s\n", strings.Join(sum.FailedFiles, ", "))
	}
}

func printFiles(w io.Writer, files []core.FileStatus) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FILE TYPE\tTABLE\tFILE\tPRESENT\tSIZE")
	for _, f := range files {
		table := f.Table
		if table == "" {
			table = "(no layout)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%d\n", f.FileType, table, f.FileName, f.Present, f.Size)
	}
	tw.Flush()
}

func printCounts(w io.Writer, counts []core.TableCount) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FILE TYPE\tTABLE\tROWS")
	for _, c := range counts {
		rows := fmt.Sprint(c.Rows)
		if c.Rows < 0 {
			rows = "error: " + c.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", c.FileType, c.Table, rows)
	}
	tw.Flush()
}
