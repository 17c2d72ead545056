package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"folio/internal/engine"
	"folio/internal/imageio"
	"folio/internal/pagestore"
	"folio/internal/services"
)

type pageText struct {
	ID   int64  `json:"id"`
	Text string `json:"text"`
}

func newOCRCommand(ctx *commandContext) *cobra.Command {
	var (
		outDir  string
		refresh bool
	)
	cmd := &cobra.Command{
		Use:   "ocr [page-id]...",
		Short: "Recognise the text of pages",
		Long: "Recognise the text of the given pages, or of every page. Text recognised\n" +
			"earlier is reused until the page file changes.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withBook(cmd.Context(), func(e *engine.Engine) error {
				ids, err := selectPages(e, args)
				if err != nil {
					return err
				}
				if outDir != "" {
					if err := os.MkdirAll(outDir, 0o755); err != nil {
						return services.WrapPath(services.ErrPersistence, "cli", "ocr", outDir, err)
					}
				}
				results := make([]pageText, 0, len(ids))
				for _, id := range ids {
					text, err := pageTextFor(cmd, e, id, refresh)
					if err != nil {
						return err
					}
					if outDir != "" {
						path := filepath.Join(outDir, fmt.Sprintf("%d.txt", id))
						if err := e.Artifacts().SaveText(services.WithPageID(cmd.Context(), id), id, path); err != nil {
							return err
						}
					}
					results = append(results, pageText{ID: id, Text: text})
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, results)
				}
				out := cmd.OutOrStdout()
				for _, r := range results {
					if outDir != "" {
						fmt.Fprintf(out, "Page %d: %d characters\n", r.ID, len(r.Text))
						continue
					}
					fmt.Fprintf(out, "--- page %d ---\n%s\n", r.ID, r.Text)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "Write one <page-id>.txt file per page into this folder")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "Recognise again even when text is known")
	return cmd
}

func pageTextFor(cmd *cobra.Command, e *engine.Engine, id int64, refresh bool) (string, error) {
	ctx := services.WithPageID(cmd.Context(), id)
	if !refresh {
		text, ok, err := e.Artifacts().Text(ctx, id)
		if err != nil || ok {
			return text, err
		}
	}
	return e.Artifacts().OCR(ctx, id)
}

func newThumbnailCommand(ctx *commandContext) *cobra.Command {
	var outDir string
	cmd := &cobra.Command{
		Use:   "thumbnail [page-id]...",
		Short: "Generate page thumbnails",
		Long: "Generate the cached thumbnails of the given pages, or of every page, and\n" +
			"print their paths. With --out, upright copies are written to that folder.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withBook(cmd.Context(), func(e *engine.Engine) error {
				ids, err := selectPages(e, args)
				if err != nil {
					return err
				}
				if outDir != "" {
					if err := os.MkdirAll(outDir, 0o755); err != nil {
						return services.WrapPath(services.ErrPersistence, "cli", "thumbnail", outDir, err)
					}
				}
				e.Artifacts().Prefetch(ids...)
				paths := make(map[int64]string, len(ids))
				for _, id := range ids {
					path, err := e.Artifacts().Thumbnail(services.WithPageID(cmd.Context(), id), id)
					if err != nil {
						return err
					}
					if outDir != "" {
						if path, err = exportThumbnail(e, id, path, outDir); err != nil {
							return err
						}
					}
					paths[id] = path
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, paths)
				}
				out := cmd.OutOrStdout()
				for _, id := range ids {
					fmt.Fprintf(out, "%d\t%s\n", id, paths[id])
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "Write upright thumbnails to this folder")
	return cmd
}

// exportThumbnail copies a cached thumbnail to dir, turning verso pages
// upright.
func exportThumbnail(e *engine.Engine, id int64, path, dir string) (string, error) {
	img, err := imageio.Load(path)
	if err != nil {
		return "", services.WrapPath(services.ErrPersistence, "cli", "thumbnail", path, err)
	}
	if page, ok := e.Store().Get(id); ok && page.Role == pagestore.Verso {
		img = imageio.Rotate180(img)
	}
	target := filepath.Join(dir, fmt.Sprintf("%d.png", id))
	if err := imageio.Save(target, img); err != nil {
		return "", services.WrapPath(services.ErrPersistence, "cli", "thumbnail", target, err)
	}
	return target, nil
}

// selectPages resolves page id arguments, or every page when none are given.
func selectPages(e *engine.Engine, args []string) ([]int64, error) {
	if len(args) == 0 {
		snapshot := e.Store().Snapshot()
		ids := make([]int64, 0, len(snapshot))
		for _, p := range snapshot {
			ids = append(ids, p.ID)
		}
		return ids, nil
	}
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := parsePageID(arg)
		if err != nil {
			return nil, err
		}
		if _, ok := e.Store().Get(id); !ok {
			return nil, services.Wrap(services.ErrNotFound, "cli", "page", fmt.Sprintf("page %d does not exist", id), nil)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
