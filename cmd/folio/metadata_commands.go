package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"folio/internal/engine"
	"folio/internal/language"
	"folio/internal/metadata"
	"folio/internal/services"
)

func newMetadataCommand(ctx *commandContext) *cobra.Command {
	metaCmd := &cobra.Command{
		Use:     "metadata",
		Aliases: []string{"meta"},
		Short:   "Show and edit the bibliographic metadata of the book",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withBook(cmd.Context(), func(e *engine.Engine) error {
				return printMetadata(cmd, ctx, e.Metadata())
			})
		},
	}
	metaCmd.AddCommand(newMetadataSetCommand(ctx))
	metaCmd.AddCommand(newMetadataResolveCommand(ctx))
	metaCmd.AddCommand(newMetadataNotesCommand(ctx))
	return metaCmd
}

func printMetadata(cmd *cobra.Command, ctx *commandContext, f *metadata.Facade) error {
	rec := f.Record()
	if ctx.jsonOutput() {
		return writeJSON(cmd, rec)
	}
	rows := make([][]string, 0, len(metadata.Fields))
	for _, field := range metadata.Fields {
		if field == metadata.FieldNotes {
			continue
		}
		value := fieldValue(rec, field)
		if field == metadata.FieldLanguage && value != "" {
			value = fmt.Sprintf("%s (%s)", value, language.DisplayName(value))
		}
		if field == metadata.FieldISBN && value != "" {
			value = metadata.MaskISBN(value)
		}
		edited := ""
		if f.Edited(field) {
			edited = "*"
		}
		rows = append(rows, []string{string(field), value, edited})
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderTable(
		[]string{"Field", "Value", "Edited"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft},
	))
	return nil
}

func fieldValue(rec metadata.Record, field metadata.Field) string {
	switch field {
	case metadata.FieldISBN:
		return rec.ISBN
	case metadata.FieldTitle:
		return rec.Title
	case metadata.FieldAuthors:
		return strings.Join(rec.Authors, ", ")
	case metadata.FieldPublisher:
		return rec.Publisher
	case metadata.FieldLanguage:
		return rec.Language
	case metadata.FieldPageCount:
		return intValue(rec.NumberOfPages)
	case metadata.FieldYear:
		return intValue(rec.Year)
	case metadata.FieldKeywords:
		return strings.Join(rec.Keywords, ", ")
	case metadata.FieldDescription:
		return rec.Description
	case metadata.FieldNotes:
		return rec.Notes
	case metadata.FieldPageOffset:
		return strconv.Itoa(rec.PageOffset)
	}
	return ""
}

func intValue(n int) string {
	if n == 0 {
		return ""
	}
	return strconv.Itoa(n)
}

func newMetadataSetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "set <field>=<value>...",
		Short: "Edit metadata fields and save them",
		Long: "Edit metadata fields. Fields: " + fieldNames() + ".\n" +
			"Authors and keywords are separated by commas.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			type edit struct {
				field metadata.Field
				value string
			}
			edits := make([]edit, 0, len(args))
			for _, arg := range args {
				name, value, ok := strings.Cut(arg, "=")
				if !ok {
					return services.Wrap(services.ErrInvalidParameters, "cli", "metadata set", fmt.Sprintf("%q is not field=value", arg), nil)
				}
				field, err := metadata.ParseField(name)
				if err != nil {
					return err
				}
				edits = append(edits, edit{field: field, value: value})
			}
			return ctx.withBook(cmd.Context(), func(e *engine.Engine) error {
				f := e.Metadata()
				for _, ed := range edits {
					if err := f.Set(ed.field, ed.value); err != nil {
						return err
					}
				}
				if err := f.Save(); err != nil {
					return err
				}
				return printMetadata(cmd, ctx, f)
			})
		},
	}
}

func newMetadataResolveCommand(ctx *commandContext) *cobra.Command {
	var isbn string
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Fill empty metadata fields from the ISBN",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withBook(cmd.Context(), func(e *engine.Engine) error {
				f := e.Metadata()
				if isbn != "" {
					if err := f.SetISBN(isbn); err != nil {
						return err
					}
				}
				changed, err := e.Resolve(cmd.Context())
				if err != nil {
					return err
				}
				if err := f.Save(); err != nil {
					return err
				}
				if !ctx.jsonOutput() {
					names := make([]string, 0, len(changed))
					for _, field := range changed {
						names = append(names, string(field))
					}
					if len(names) == 0 {
						fmt.Fprintln(cmd.ErrOrStderr(), "No fields changed")
					} else {
						fmt.Fprintf(cmd.ErrOrStderr(), "Updated: %s\n", strings.Join(names, ", "))
					}
				}
				return printMetadata(cmd, ctx, f)
			})
		},
	}
	cmd.Flags().StringVar(&isbn, "isbn", "", "Set the ISBN before resolving")
	return cmd
}

func newMetadataNotesCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "notes",
		Short: "Print the book notes rendered as HTML",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withBook(cmd.Context(), func(e *engine.Engine) error {
				html, err := e.Metadata().NotesHTML()
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), html)
				return nil
			})
		},
	}
}

func fieldNames() string {
	names := make([]string, 0, len(metadata.Fields))
	for _, f := range metadata.Fields {
		names = append(names, string(f))
	}
	return strings.Join(names, ", ")
}
