package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"folio/internal/deps"
	"folio/internal/ocr"
)

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check external tools, OCR models and attached scanners",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)

			var statuses []deps.Status
			statuses = append(statuses, deps.CheckBinaries(deps.Requirements(cfg))...)
			statuses = append(statuses, deps.CheckTessdata(cfg.OCR.TessdataPrefix, ocr.Languages("", cfg.OCR.DefaultLanguage))...)

			if ctx.jsonOutput() {
				return writeJSON(cmd, statuses)
			}

			fmt.Fprintln(out, renderSectionHeader("Dependencies", colorize))
			failed := 0
			for _, status := range statuses {
				kind := statusOK
				message := status.Command
				if !status.Available {
					message = status.Detail
					if status.Optional {
						kind = statusWarn
					} else {
						kind = statusError
						failed++
					}
				}
				fmt.Fprintln(out, renderStatusLine(status.Name, kind, message, colorize))
			}

			fmt.Fprintln(out, renderSectionHeader("Scanners", colorize))
			logger, err := ctx.logger(false)
			if err != nil {
				return err
			}
			manager, err := ctx.newManager(logger, nil)
			if err != nil {
				fmt.Fprintln(out, renderStatusLine("backend", statusError, err.Error(), colorize))
				return fmt.Errorf("%d required check(s) failed", failed+1)
			}
			defer manager.Close()
			devices, err := manager.Catalog().Devices(cmd.Context())
			switch {
			case err != nil:
				fmt.Fprintln(out, renderStatusLine(cfg.Scanner.Backend, statusWarn, err.Error(), colorize))
			case len(devices) == 0:
				fmt.Fprintln(out, renderStatusLine(cfg.Scanner.Backend, statusWarn, "no scanner attached", colorize))
			default:
				for _, d := range devices {
					fmt.Fprintln(out, renderStatusLine(d.ID, statusOK, d.Label(), colorize))
				}
			}

			if failed > 0 {
				return fmt.Errorf("%d required check(s) failed", failed)
			}
			return nil
		},
	}
}
