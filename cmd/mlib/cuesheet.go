package main

import (
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/franz/music-librarian/internal/cuesheet"
	"github.com/franz/music-librarian/internal/report"
)

var cuesheetCmd = &cobra.Command{
	Use:   "cuesheet <file.cue>...",
	Short: "Show the track segments described by cue sheets",
	Long: `Parse cue sheets and print each track's start and end offset. Splitting
the audio itself is left to an external splitter; its per-track output
files can be organized like any other input.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCuesheet,
}

func init() {
	rootCmd.AddCommand(cuesheetCmd)
}

func runCuesheet(cmd *cobra.Command, args []string) error {
	for i, path := range args {
		sheet, err := cuesheet.ParseFile(path)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}

		rows := [][]string{}
		for _, seg := range sheet.Segments() {
			end, length := "-", "-"
			if seg.End > 0 {
				end = cuesheet.FormatTimestamp(seg.End)
				length = seg.Duration().Round(time.Second).String()
			}
			rows = append(rows, []string{
				strconv.Itoa(seg.Number),
				seg.Performer,
				seg.Title,
				filepath.Base(seg.File),
				cuesheet.FormatTimestamp(seg.Start),
				end,
				length,
			})
		}

		if i > 0 {
			fmt.Println()
		}
		title := sheet.Title
		if sheet.Performer != "" {
			title = sheet.Performer + " - " + title
		}
		fmt.Printf("%s (%s)\n", title, path)
		fmt.Println(report.RenderTable(
			[]string{"#", "Performer", "Title", "File", "Start", "End", "Length"},
			rows,
			[]report.Align{report.AlignRight, report.AlignLeft, report.AlignLeft, report.AlignLeft, report.AlignRight, report.AlignRight, report.AlignRight},
		))
	}
	return nil
}
