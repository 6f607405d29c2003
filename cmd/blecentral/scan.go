package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/blecentral/internal/session"
)

type scanFlags struct {
	duration   time.Duration
	format     string
	services   []string
	allow      []string
	block      []string
	duplicates bool
}

func newScanCmd() *cobra.Command {
	f := &scanFlags{}
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan for BLE devices",
		Long: `Scan for and display Bluetooth Low Energy peripherals in the vicinity.

The scan runs for --duration (0 scans until Ctrl+C) and prints each
peripheral's name, address, RSSI and advertised services.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runScan(cmd, f)
		},
	}

	cmd.Flags().DurationVarP(&f.duration, "duration", "d", 10*time.Second, "Scan duration (0 for indefinite)")
	cmd.Flags().StringVarP(&f.format, "format", "f", "table", "Output format (table, json)")
	cmd.Flags().StringSliceVarP(&f.services, "services", "s", nil, "Filter by service UUIDs")
	cmd.Flags().StringSliceVar(&f.allow, "allow", nil, "Only show devices with these addresses")
	cmd.Flags().StringSliceVar(&f.block, "block", nil, "Hide devices with these addresses")
	cmd.Flags().BoolVar(&f.duplicates, "duplicates", false, "Report every advertisement instead of the first per device")
	return cmd
}

func runScan(cmd *cobra.Command, f *scanFlags) error {
	if f.format != "table" && f.format != "json" {
		return fmt.Errorf("invalid format '%s': must be one of [table json]", f.format)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	filter := cfg.ScanFilter()
	if cmd.Flags().Changed("duration") {
		filter.Duration = f.duration
	}
	if len(f.services) > 0 {
		filter.Services = f.services
	}
	filter.AllowList = append(filter.AllowList, f.allow...)
	filter.BlockList = f.block
	filter.AllowDuplicates = f.duplicates

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mgr := session.New(newRadio(logger), nil, cfg.SessionOptions(logger))
	defer mgr.Close()

	disc, err := mgr.StartScan(filter)
	if err != nil {
		return err
	}

	progress := NewProgressPrinter(cmd.ErrOrStderr(), "Scanning for BLE devices", "Scanning", filter.Duration)
	progress.Start()

	select {
	case <-disc.Done():
	case <-ctx.Done():
		logger.Debug("Scan interrupted")
		mgr.StopScan()
	}
	progress.Stop()

	if err := disc.Err(); err != nil {
		return err
	}

	if f.format == "json" {
		return writePeripheralsJSON(cmd.OutOrStdout(), disc.Snapshot())
	}
	return writePeripheralsTable(cmd.OutOrStdout(), disc.Snapshot())
}
