package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"folio/internal/api"
	"folio/internal/logging"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var (
		bind     string
		openBook bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API for the scanning UI",
		Long: "Serve the HTTP API until interrupted. The book given with --book is opened\n" +
			"at startup; the UI can open another one later.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.logger(true)
			if err != nil {
				return err
			}
			manager, err := ctx.newManager(logger, nil)
			if err != nil {
				return err
			}
			defer func() {
				if err := manager.Close(); err != nil {
					logger.Warn("closing book failed", logging.Error(err))
				}
			}()

			runCtx := cmd.Context()
			if err := manager.Start(runCtx); err != nil {
				logging.WarnWithContext(logger, "scanner hotplug monitoring unavailable", "hotplug_unavailable",
					logging.Error(err),
					logging.String(logging.FieldImpact, "device list refreshes only on request"),
				)
			}
			if openBook {
				if _, err := manager.Open(runCtx, ctx.bookPath()); err != nil {
					return err
				}
			}

			address := strings.TrimSpace(bind)
			if address == "" {
				address = cfg.API.Bind
			}
			server := api.New(manager, logger)
			addr, err := server.Start(runCtx, address)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Listening on http://%s\n", addr)

			<-runCtx.Done()
			server.Stop()
			return nil
		},
	}
	cmd.Flags().StringVar(&bind, "bind", "", "Address to listen on (default from config)")
	cmd.Flags().BoolVar(&openBook, "open", true, "Open the --book folder at startup")
	return cmd
}
