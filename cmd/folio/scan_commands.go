package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"folio/internal/assembly"
	"folio/internal/engine"
	"folio/internal/imageio"
	"folio/internal/scanner"
	"folio/internal/services"
	"folio/internal/session"
)

func newDevicesCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List attached scanners",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := ctx.logger(false)
			if err != nil {
				return err
			}
			manager, err := ctx.newManager(logger, nil)
			if err != nil {
				return err
			}
			defer manager.Close()
			devices, err := manager.Catalog().Devices(cmd.Context())
			if err != nil {
				return err
			}
			if ctx.jsonOutput() {
				if devices == nil {
					devices = []scanner.DeviceDescriptor{}
				}
				return writeJSON(cmd, devices)
			}
			out := cmd.OutOrStdout()
			if len(devices) == 0 {
				fmt.Fprintln(out, "No scanners found")
				return nil
			}
			rows := make([][]string, 0, len(devices))
			for _, d := range devices {
				resolutions := make([]string, 0, len(d.Resolutions))
				for _, r := range d.Resolutions {
					resolutions = append(resolutions, strconv.Itoa(r))
				}
				modes := make([]string, 0, len(d.Modes))
				for _, m := range d.Modes {
					modes = append(modes, string(m))
				}
				rows = append(rows, []string{d.ID, d.Label(), d.Type, strings.Join(resolutions, " "), strings.Join(modes, " ")})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"ID", "Device", "Type", "Resolutions", "Modes"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft},
			))
			return nil
		},
	}
}

type scanOptions struct {
	device     string
	resolution int
	mode       string
	area       string
	count      int
	rescanFrom int
	onConflict string
	preview    string
}

func newScanCommand(ctx *commandContext) *cobra.Command {
	var opts scanOptions
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan leaves into the book",
		Long: "Scan --count leaves and add them to the book, alternating recto and verso.\n" +
			"Without device or parameter flags the last configuration of the book is reused.\n" +
			"--rescan-from replaces the pages starting at that file index.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.count < 1 {
				return services.Wrap(services.ErrInvalidParameters, "cli", "scan", "--count must be at least 1", nil)
			}
			return ctx.withBookOptions(cmd.Context(), func(o *engine.Options) {
				if ctx.jsonOutput() {
					return
				}
				out := cmd.ErrOrStderr()
				o.OnProgress = func(p session.Progress) {
					line := fmt.Sprintf("Captured %d/%d", p.Captured, p.Target)
					if p.ETA != nil {
						line += fmt.Sprintf(" (%d%%, about %s left)", p.ETA.Percent, p.ETA.Remaining.Round(time.Second))
					}
					fmt.Fprintln(out, line)
				}
			}, func(e *engine.Engine) error {
				return runScan(cmd, ctx, e, opts)
			})
		},
	}
	cmd.Flags().StringVarP(&opts.device, "device", "d", "", "Scanner id (see folio devices)")
	cmd.Flags().IntVarP(&opts.resolution, "resolution", "r", 0, "Resolution in dpi")
	cmd.Flags().StringVarP(&opts.mode, "mode", "m", "", "Colour mode: color, grayscale or lineart")
	cmd.Flags().StringVar(&opts.area, "area", "", "Scan area in mm as left,top,right,bottom (default: whole bed)")
	cmd.Flags().IntVarP(&opts.count, "count", "n", 1, "Number of leaves to scan")
	cmd.Flags().IntVar(&opts.rescanFrom, "rescan-from", 0, "File index of the first page to replace")
	cmd.Flags().StringVar(&opts.onConflict, "on-conflict", "", "Answer for existing page files: overwrite, skip or rename")
	cmd.Flags().StringVar(&opts.preview, "preview", "", "Write a preview image to this path before scanning")
	return cmd
}

func runScan(cmd *cobra.Command, ctx *commandContext, e *engine.Engine, opts scanOptions) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	c := e.Session()
	if err := configureSession(cmd, e, cfg.Scanner.Device, cfg.Scanner.DefaultResolution, cfg.Scanner.DefaultMode, opts); err != nil {
		return err
	}

	if opts.preview != "" {
		img, err := c.Preview(cmd.Context())
		if err != nil {
			return err
		}
		if err := imageio.Save(opts.preview, img); err != nil {
			return services.WrapPath(services.ErrPersistence, "cli", "preview", opts.preview, err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Preview written to %s\n", opts.preview)
	}

	if opts.rescanFrom > 0 {
		_, err = c.Rescan(cmd.Context(), opts.rescanFrom, opts.count)
	} else {
		_, err = c.Scan(cmd.Context(), opts.count)
	}
	if err != nil {
		return err
	}

	res, err := c.Commit(cmd.Context())
	if conflict, ok := asConflict(err); ok {
		if opts.onConflict == "" {
			_ = c.Cancel()
			return fmt.Errorf("%w (use --on-conflict overwrite|skip|rename)", err)
		}
		resolution, rerr := assembly.ParseResolution(opts.onConflict)
		if rerr != nil {
			_ = c.Cancel()
			return rerr
		}
		for _, path := range conflict.Paths {
			if rerr := c.Resolve(path, resolution); rerr != nil {
				_ = c.Cancel()
				return rerr
			}
		}
		res, err = c.Commit(cmd.Context())
	}
	if err != nil {
		return err
	}
	return printResult(cmd, ctx, res)
}

// configureSession selects a device and applies the scan parameters. With
// no flags set, the configuration stored with the book is restored.
func configureSession(cmd *cobra.Command, e *engine.Engine, defaultDevice string, defaultResolution int, defaultMode string, opts scanOptions) error {
	c := e.Session()
	explicit := opts.device != "" || opts.resolution != 0 || opts.mode != "" || opts.area != ""
	if !explicit {
		restored, err := e.RestoreScanConfig(cmd.Context())
		if err != nil {
			return err
		}
		if restored {
			return nil
		}
	}

	deviceID, stored, hasStored, err := e.StoredScanConfig(cmd.Context())
	if err != nil {
		return err
	}
	if opts.device != "" {
		deviceID = opts.device
	}
	if deviceID == "" {
		deviceID = defaultDevice
	}
	if deviceID == "" {
		devices, err := e.Catalog().Devices(cmd.Context())
		if err != nil {
			return err
		}
		if len(devices) == 0 {
			return services.Wrap(services.ErrDeviceUnavailable, "cli", "scan", "no scanner attached", nil)
		}
		deviceID = devices[0].ID
	}
	desc, err := c.SelectDevice(cmd.Context(), deviceID)
	if err != nil {
		return err
	}

	req := scanner.ScanRequest{Resolution: defaultResolution, Area: scanner.MaximisedArea()}
	if hasStored {
		req = stored
	}
	if opts.resolution != 0 {
		req.Resolution = opts.resolution
	}
	if req.Resolution == 0 {
		req.Resolution = desc.LowestResolution()
	}
	modeValue := opts.mode
	if modeValue == "" && req.Mode == "" {
		modeValue = defaultMode
	}
	if modeValue != "" {
		mode, err := scanner.ParseMode(modeValue)
		if err != nil {
			return services.Wrap(services.ErrInvalidParameters, "cli", "scan", modeValue, err)
		}
		req.Mode = mode
	}
	if opts.area != "" {
		area, err := parseArea(opts.area)
		if err != nil {
			return err
		}
		req.Area = area
	}
	return c.Configure(req)
}

// parseArea reads "max" or four millimetre values.
func parseArea(value string) (scanner.Area, error) {
	value = strings.TrimSpace(value)
	if strings.EqualFold(value, "max") {
		return scanner.MaximisedArea(), nil
	}
	parts := strings.Split(value, ",")
	if len(parts) != 4 {
		return scanner.Area{}, services.Wrap(services.ErrInvalidParameters, "cli", "area", fmt.Sprintf("%q is not left,top,right,bottom", value), nil)
	}
	var mm [4]float64
	for i, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil || v < 0 {
			return scanner.Area{}, services.Wrap(services.ErrInvalidParameters, "cli", "area", fmt.Sprintf("invalid coordinate %q", part), nil)
		}
		mm[i] = v
	}
	return scanner.CustomArea(scanner.RectMM(mm[0], mm[1], mm[2], mm[3])), nil
}

func asConflict(err error) (*assembly.ConflictError, bool) {
	var conflict *assembly.ConflictError
	if errors.As(err, &conflict) {
		return conflict, true
	}
	return nil, false
}

func uniformResolutions(paths []string, value string) (map[string]assembly.Resolution, error) {
	resolution, err := assembly.ParseResolution(value)
	if err != nil {
		return nil, err
	}
	out := make(map[string]assembly.Resolution, len(paths))
	for _, path := range paths {
		out[path] = resolution
	}
	return out, nil
}
