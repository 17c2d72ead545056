package main

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"folio/internal/engine"
)

func newRootCommand() *cobra.Command {
	return newRootCommandWith(nil)
}

// newRootCommandWith builds the command tree; customize adjusts every
// engine the commands create.
func newRootCommandWith(customize func(*engine.Options)) *cobra.Command {
	var (
		configFlag string
		bookFlag   string
		jsonFlag   bool
	)

	ctx := newCommandContext(&configFlag, &bookFlag, &jsonFlag)
	ctx.managerOptions = customize

	rootCmd := &cobra.Command{
		Use:           "folio",
		Short:         "Scan, assemble and annotate book pages",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// a missing .env is normal
			_ = godotenv.Load()
			if shouldSkipConfig(cmd) {
				return nil
			}
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVarP(&bookFlag, "book", "b", ".", "Book folder")
	rootCmd.PersistentFlags().BoolVar(&jsonFlag, "json", false, "Print machine-readable JSON")

	rootCmd.AddCommand(newConfigCommand(ctx))
	rootCmd.AddCommand(newDoctorCommand(ctx))
	rootCmd.AddCommand(newLibraryCommand(ctx))
	for _, cmd := range newPageCommands(ctx) {
		rootCmd.AddCommand(cmd)
	}
	rootCmd.AddCommand(newDevicesCommand(ctx))
	rootCmd.AddCommand(newScanCommand(ctx))
	rootCmd.AddCommand(newOCRCommand(ctx))
	rootCmd.AddCommand(newThumbnailCommand(ctx))
	rootCmd.AddCommand(newMetadataCommand(ctx))
	rootCmd.AddCommand(newServeCommand(ctx))

	return rootCmd
}
