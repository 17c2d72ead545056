package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"folio/internal/assembly"
	"folio/internal/engine"
)

func newRenumberCommand(ctx *commandContext) *cobra.Command {
	var (
		byMTime    bool
		dryRun     bool
		onConflict string
	)
	cmd := &cobra.Command{
		Use:   "renumber",
		Short: "Rename page files so their numbers follow the reading order",
		Long: "Rename every page file to <title>.<n>.<role> with n counting from 1.\n" +
			"With --by-mtime the book is first reordered by file modification time.",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := assembly.RenumberOptions{Order: assembly.ByPosition, DryRun: dryRun}
			if byMTime {
				opts.Order = assembly.ByMTime
			}
			return ctx.withBook(cmd.Context(), func(e *engine.Engine) error {
				res, err := e.Assembly().Renumber(cmd.Context(), opts)
				if conflict, ok := asConflict(err); ok && onConflict != "" {
					resolutions, rerr := uniformResolutions(conflict.Paths, onConflict)
					if rerr != nil {
						return rerr
					}
					opts.Resolutions = resolutions
					res, err = e.Assembly().Renumber(cmd.Context(), opts)
				}
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, res)
				}
				out := cmd.OutOrStdout()
				verb := "Renamed"
				if res.DryRun {
					verb = "Would rename"
				}
				fmt.Fprintf(out, "%s %d page file(s)\n", verb, len(res.Renamed))
				for _, r := range res.Renamed {
					fmt.Fprintf(out, "  %s -> %s\n", r.From, r.To)
				}
				for _, path := range res.Replaced {
					fmt.Fprintf(out, "  replaced %s\n", path)
				}
				for _, path := range res.Skipped {
					fmt.Fprintf(out, "  kept %s\n", path)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&byMTime, "by-mtime", false, "Order pages by file modification time first")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the renames without touching the folder")
	cmd.Flags().StringVar(&onConflict, "on-conflict", "", "Answer for files outside the book: overwrite or skip")
	return cmd
}

func newCheckCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Report duplicate page numbers, gaps and stray files",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withBook(cmd.Context(), func(e *engine.Engine) error {
				report, err := e.Assembly().Check()
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, report)
				}
				out := cmd.OutOrStdout()
				if report.Clean() {
					fmt.Fprintln(out, "No problems found")
					return nil
				}
				var rows [][]string
				for _, d := range report.Duplicates {
					kind := "duplicate index"
					if d.Printed {
						kind = "duplicate page"
					}
					rows = append(rows, []string{kind, strconv.Itoa(d.Number), strings.Join(d.Files, ", ")})
				}
				for _, n := range report.Gaps {
					rows = append(rows, []string{"missing index", strconv.Itoa(n), ""})
				}
				for _, n := range report.PrintedGaps {
					rows = append(rows, []string{"missing page", strconv.Itoa(n), ""})
				}
				for _, name := range report.Unrecognised {
					rows = append(rows, []string{"unrecognised", "", name})
				}
				for _, id := range report.MissingFiles {
					rows = append(rows, []string{"file missing", strconv.FormatInt(id, 10), ""})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"Problem", "Number", "Files"},
					rows,
					[]columnAlignment{alignLeft, alignRight, alignLeft},
				))
				return nil
			})
		},
	}
}

func newOrientCommand(ctx *commandContext) *cobra.Command {
	var invert bool
	cmd := &cobra.Command{
		Use:   "orient",
		Short: "Guess recto or verso for pages whose file name has no role",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withBook(cmd.Context(), func(e *engine.Engine) error {
				oriented, err := e.Assembly().Orient(cmd.Context(), invert)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					if oriented == nil {
						oriented = []int64{}
					}
					return writeJSON(cmd, map[string][]int64{"oriented": oriented})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Oriented %d page(s)\n", len(oriented))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&invert, "invert", false, "Swap the guess for books bound on the other side")
	return cmd
}
