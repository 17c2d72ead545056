package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"folio/internal/config"
	"folio/internal/library"
)

func newLibraryCommand(ctx *commandContext) *cobra.Command {
	var depth int

	cmd := &cobra.Command{
		Use:   "library [root]",
		Short: "List the books below the library folder",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			root := cfg.Paths.LibraryDir
			if len(args) == 1 {
				if root, err = config.ExpandPath(args[0]); err != nil {
					return err
				}
			}
			logger, err := ctx.logger(false)
			if err != nil {
				return err
			}
			entries, err := library.Discover(root, library.Options{MaxDepth: depth, Logger: logger})
			if err != nil {
				return err
			}
			if ctx.jsonOutput() {
				if entries == nil {
					entries = []library.Entry{}
				}
				return writeJSON(cmd, entries)
			}
			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintf(out, "No books found in %s\n", root)
				return nil
			}
			rows := make([][]string, 0, len(entries))
			for _, e := range entries {
				rows = append(rows, []string{
					e.Title,
					strings.Join(e.Authors, ", "),
					strconv.Itoa(e.Pages),
					e.ISBN,
					yesNo(e.Locked),
					e.Path,
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Title", "Authors", "Pages", "ISBN", "Open", "Path"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft, alignLeft},
			))
			return nil
		},
	}
	cmd.Flags().IntVar(&depth, "depth", library.DefaultMaxDepth, "Folder levels to search below the root")
	return cmd
}
