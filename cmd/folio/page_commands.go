package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"folio/internal/assembly"
	"folio/internal/engine"
	"folio/internal/pagestore"
	"folio/internal/services"
)

func newPageCommands(ctx *commandContext) []*cobra.Command {
	return []*cobra.Command{
		newPagesCommand(ctx),
		newRoleCommand(ctx),
		newFlipCommand(ctx),
		newMoveCommand(ctx),
		newRemoveCommand(ctx),
		newImportCommand(ctx),
		newRenumberCommand(ctx),
		newCheckCommand(ctx),
		newOrientCommand(ctx),
	}
}

func newPagesCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "pages",
		Short: "List the pages of the book in reading order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withBook(cmd.Context(), func(e *engine.Engine) error {
				return printPages(cmd, ctx, e)
			})
		},
	}
}

func printPages(cmd *cobra.Command, ctx *commandContext, e *engine.Engine) error {
	pages := e.Pages()
	if ctx.jsonOutput() {
		return writeJSON(cmd, pages)
	}
	out := cmd.OutOrStdout()
	if len(pages) == 0 {
		fmt.Fprintf(out, "%s has no pages\n", e.Path())
		return nil
	}
	rows := make([][]string, 0, len(pages))
	for _, p := range pages {
		file := p.File
		if p.Missing {
			file += " (missing)"
		}
		rows = append(rows, []string{
			strconv.FormatInt(p.ID, 10),
			strconv.Itoa(p.Position + 1),
			strconv.Itoa(p.Number),
			string(p.Role),
			yesNo(p.HasText),
			file,
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"ID", "Pos", "Page", "Role", "Text", "File"},
		rows,
		[]columnAlignment{alignRight, alignRight, alignRight, alignLeft, alignLeft, alignLeft},
	))
	return nil
}

func newRoleCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "role <page-id> <recto|verso|single>",
		Short: "Set the role of one page",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parsePageID(args[0])
			if err != nil {
				return err
			}
			role, err := parseRole(args[1])
			if err != nil {
				return err
			}
			return ctx.withBook(cmd.Context(), func(e *engine.Engine) error {
				if err := e.Assembly().SetRole(id, role); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Page %d is now %s\n", id, role)
				return nil
			})
		},
	}
}

func newFlipCommand(ctx *commandContext) *cobra.Command {
	var (
		from  int64
		start string
	)
	cmd := &cobra.Command{
		Use:   "flip",
		Short: "Alternate recto and verso roles across the book",
		Long: "Alternate recto and verso roles starting at the first page, or at --from.\n" +
			"Single pages keep their role and do not break the alternation.",
		RunE: func(cmd *cobra.Command, args []string) error {
			role, err := parseRole(start)
			if err != nil {
				return err
			}
			return ctx.withBook(cmd.Context(), func(e *engine.Engine) error {
				var changed int
				switch {
				case cmd.Flags().Changed("from"):
					changed, err = e.Assembly().FlipFromPage(from, role)
				case role == pagestore.Recto:
					changed, err = e.Assembly().FlipBook()
				default:
					first, ok := e.Store().At(0)
					if !ok {
						break
					}
					changed, err = e.Assembly().FlipFromPage(first.ID, role)
				}
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, map[string]int{"changed": changed})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Changed %d page role(s)\n", changed)
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&from, "from", 0, "Page id the alternation starts at")
	cmd.Flags().StringVar(&start, "start", string(pagestore.Recto), "Role of the first page (recto or verso)")
	return cmd
}

func newMoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "move <page-id> <position>",
		Short: "Move a page to a new position (1 is the first page)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parsePageID(args[0])
			if err != nil {
				return err
			}
			position, err := strconv.Atoi(args[1])
			if err != nil || position < 1 {
				return services.Wrap(services.ErrInvalidParameters, "cli", "move", fmt.Sprintf("invalid position %q", args[1]), nil)
			}
			return ctx.withBook(cmd.Context(), func(e *engine.Engine) error {
				if err := e.Store().Reorder(id, position-1); err != nil {
					return err
				}
				return printPages(cmd, ctx, e)
			})
		},
	}
}

func newRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <page-id>...",
		Short: "Remove pages and delete their files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]int64, 0, len(args))
			for _, arg := range args {
				id, err := parsePageID(arg)
				if err != nil {
					return err
				}
				ids = append(ids, id)
			}
			return ctx.withBook(cmd.Context(), func(e *engine.Engine) error {
				for _, id := range ids {
					if err := e.Assembly().Remove(id); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Removed page %d\n", id)
				}
				return nil
			})
		},
	}
}

func newImportCommand(ctx *commandContext) *cobra.Command {
	var (
		start      string
		onConflict string
	)
	cmd := &cobra.Command{
		Use:   "import <image>...",
		Short: "Copy image files into the book as new pages",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			role, err := parseRole(start)
			if err != nil {
				return err
			}
			return ctx.withBook(cmd.Context(), func(e *engine.Engine) error {
				res, err := e.Assembly().Import(cmd.Context(), args, role, nil)
				if conflict, ok := asConflict(err); ok && onConflict != "" {
					resolutions, rerr := uniformResolutions(conflict.Paths, onConflict)
					if rerr != nil {
						return rerr
					}
					res, err = e.Assembly().Import(cmd.Context(), args, role, resolutions)
				}
				if err != nil {
					return err
				}
				return printResult(cmd, ctx, res)
			})
		},
	}
	cmd.Flags().StringVar(&start, "start", string(pagestore.Recto), "Role of the first imported page")
	cmd.Flags().StringVar(&onConflict, "on-conflict", "", "Answer for existing page files: overwrite, skip or rename")
	return cmd
}

func printResult(cmd *cobra.Command, ctx *commandContext, res assembly.Result) error {
	if ctx.jsonOutput() {
		return writeJSON(cmd, res)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Added %d, replaced %d, skipped %d page(s)\n", len(res.Added), len(res.Replaced), len(res.Skipped))
	for _, file := range res.Files {
		fmt.Fprintf(out, "  %s\n", file)
	}
	return nil
}

func parsePageID(value string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return 0, services.Wrap(services.ErrInvalidParameters, "cli", "page id", fmt.Sprintf("invalid page id %q", value), nil)
	}
	return id, nil
}

func parseRole(value string) (pagestore.Role, error) {
	role, err := pagestore.ParseRole(value)
	if err != nil {
		return role, services.Wrap(services.ErrInvalidParameters, "cli", "role", value, err)
	}
	return role, nil
}
