package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/KaramelBytes/edaloom/internal/dataset"
	"github.com/KaramelBytes/edaloom/internal/utils"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	inspectEntry string
	inspectJSON  bool
	inspectRows  int
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <file>",
	Short: "Parse a dataset and print its metadata, column profile and sample",
	Long: `Parse a CSV file (or one entry of a ZIP archive) the same way the analysis
does and print what the AI would be shown. No AI provider is contacted.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := requireConfig()
		if err != nil {
			return err
		}
		path := args[0]
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("stat %s: %w", path, err)
		}
		loader := dataset.NewLoader(c.MaxUploadBytes(), dataset.Options{SampleRows: c.SampleRows})
		res, err := loader.LoadFile(path)
		if err != nil {
			return err
		}
		ds := res.Dataset
		if res.Archive != nil {
			defer res.Archive.Close()
			if inspectEntry == "" {
				printEntries(cmd.OutOrStdout(), res.Archive)
				return nil
			}
			if ds, err = loader.LoadEntry(res.Archive, inspectEntry); err != nil {
				return err
			}
		}

		rows := inspectRows
		if rows < 0 {
			rows = 0
		}
		sample := ds.Sample
		if len(sample) > rows {
			sample = sample[:rows]
		}
		profile := dataset.Profile(ds)

		out := cmd.OutOrStdout()
		if inspectJSON {
			if sample == nil {
				sample = []dataset.Row{}
			}
			b, err := utils.PrettyJSON(map[string]any{
				"meta":    ds.Meta,
				"profile": profile,
				"sample":  sample,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(out, string(b))
			return nil
		}

		fmt.Fprintln(out, titleStyle.Render(ds.Meta.Filename))
		fmt.Fprintf(out, "File:    %s (%s)\n", path, humanize.Bytes(uint64(info.Size())))
		fmt.Fprintf(out, "Rows:    %s\n", humanize.Comma(int64(ds.Meta.RowCount)))
		fmt.Fprintf(out, "Columns: %d\n", ds.Meta.ColumnCount)
		if len(ds.Sample) < ds.Meta.RowCount {
			fmt.Fprintln(out, dimStyle.Render(fmt.Sprintf("Profile covers the first %d rows.", len(ds.Sample))))
		}

		fmt.Fprintln(out)
		fmt.Fprintln(out, headerStyle.Render("Columns"))
		printProfile(out, profile)

		if len(sample) > 0 {
			fmt.Fprintln(out)
			fmt.Fprintln(out, headerStyle.Render(fmt.Sprintf("Sample (%d rows)", len(sample))))
			printSample(out, sample)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(inspectCmd)
	inspectCmd.Flags().StringVar(&inspectEntry, "entry", "", "CSV entry to inspect when the file is a ZIP archive")
	inspectCmd.Flags().BoolVar(&inspectJSON, "json", false, "print metadata, profile and sample as JSON")
	inspectCmd.Flags().IntVar(&inspectRows, "rows", 5, "number of sample rows to print")
}

func printEntries(w io.Writer, a *dataset.Archive) {
	entries := a.Entries()
	fmt.Fprintf(w, "%s holds %d CSV files:\n", a.Name, len(entries))
	for _, e := range entries {
		fmt.Fprintf(w, "  - %s\n", e)
	}
	fmt.Fprintln(w, "Use --entry <name> to inspect one of them.")
}

func printProfile(w io.Writer, profile []dataset.ColumnProfile) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tKIND\tNON-NULL\tMISSING\tUNIQUE\tDETAIL")
	for _, p := range profile {
		detail := ""
		switch {
		case p.Kind == "numeric":
			detail = fmt.Sprintf("min %g · max %g · mean %.4g", p.Min, p.Max, p.Mean)
		case len(p.Top) > 0:
			detail = "top: " + strings.Join(p.Top, ", ")
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%s\n", p.Name, p.Kind, p.NonNull, p.Missing, p.Unique, detail)
	}
	_ = tw.Flush()
}

var cellReplacer = strings.NewReplacer("\t", " ", "\n", " ", "\r", " ")

func printSample(w io.Writer, rows []dataset.Row) {
	keys := rows[0].Keys()
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(keys, "\t"))
	for _, r := range rows {
		cells := make([]string, len(keys))
		for i, k := range keys {
			if v, ok := r.Get(k); ok {
				cells[i] = utils.TruncateToTokenLimit(cellReplacer.Replace(v.Text()), 8)
			}
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	_ = tw.Flush()
}
