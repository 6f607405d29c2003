package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/srg/blecentral/internal/device"
	"github.com/srg/blecentral/internal/groutine"
	"github.com/srg/blecentral/internal/ringchan"
	"github.com/srg/blecentral/internal/session"
)

type monitorFlags struct {
	address  string
	services []string
	chars    []string
	format   string
}

func newMonitorCmd() *cobra.Command {
	f := &monitorFlags{}
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Connect to a peripheral and print its notifications",
		Long: `Scan for a peripheral, connect to it, subscribe to its notifying
characteristics and print every received payload until Ctrl+C.

Without --address the first connectable peripheral matching --services is used.
Without --char every characteristic supporting notify or indicate is subscribed.`,
		Example: `  blecentral monitor --services 180d
  blecentral monitor --address AA:BB:CC:DD:EE:FF --char 2a37 --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMonitor(cmd, f)
		},
	}

	cmd.Flags().StringVarP(&f.address, "address", "a", "", "Peripheral address to monitor")
	cmd.Flags().StringSliceVarP(&f.services, "services", "s", nil, "Only consider peripherals advertising these service UUIDs")
	cmd.Flags().StringSliceVarP(&f.chars, "char", "c", nil, "Characteristic UUIDs to subscribe to (default: all notifiable)")
	cmd.Flags().StringVarP(&f.format, "format", "f", "text", "Payload output format (text, json)")
	return cmd
}

func runMonitor(cmd *cobra.Command, f *monitorFlags) (err error) {
	if len(f.chars) > 0 {
		if _, err := device.ValidateUUID(f.chars...); err != nil {
			return fmt.Errorf("invalid characteristic UUID: %w", err)
		}
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return err
	}
	if f.address != "" {
		cfg.Device = f.address
	}
	if len(f.services) > 0 {
		if cfg.Services, err = device.ValidateUUID(f.services...); err != nil {
			return fmt.Errorf("invalid service UUID: %w", err)
		}
	}
	if cmd.Flags().Changed("format") {
		cfg.OutputFormat = f.format
	}
	if cfg.OutputFormat != "text" && cfg.OutputFormat != "json" {
		return fmt.Errorf("invalid format '%s': must be one of [text json]", cfg.OutputFormat)
	}

	cmd.SilenceUsage = true

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	printer := newPayloadPrinter(cmd.OutOrStdout(), cmd.ErrOrStderr(), cfg.OutputFormat, colorEnabled(cmd.OutOrStdout()))
	payloads := ringchan.New[session.Payload](cfg.PayloadBuffer)
	lost := make(chan error, 1)

	handler := session.HandlerFuncs{
		StateChanged: func(_, to session.State) { printer.state(to) },
		Connected:    printer.connected,
		Subscribed:   printer.subscribed,
		PayloadReceived: func(p session.Payload) {
			if payloads.Send(p) {
				logger.WithField("char_uuid", p.Characteristic).Debug("Printer lagging, dropped oldest payload")
			}
		},
		Disconnected: func(_ device.DiscoveredPeripheral, err error) {
			if err != nil {
				select {
				case lost <- err:
				default:
				}
			}
		},
		Error: func(err error) {
			logger.WithError(err).Debug("Session error")
		},
	}

	mgr := session.New(newRadio(logger), handler, cfg.SessionOptions(logger))

	printed := make(chan struct{})
	groutine.Go(ctx, "payload-printer", func(context.Context) {
		defer close(printed)
		for p := range payloads.C() {
			if err := printer.payload(p); err != nil {
				logger.WithError(err).Warn("Failed to print payload")
			}
		}
	})

	// The handler stops sending once the manager is closed, so payloads closes after it.
	defer func() {
		mgr.Close()
		payloads.Close()
		<-printed
		if err != nil && !errors.Is(err, context.Canceled) {
			printer.failure(err)
		}
	}()

	target, err := findPeripheral(ctx, mgr, cfg.ScanFilter())
	if err != nil {
		return err
	}

	fut, err := mgr.Connect(ctx, target.ID)
	if err != nil {
		return err
	}
	if err := fut.Wait(ctx); err != nil {
		return err
	}

	sub, err := mgr.Subscribe(f.chars...)
	if err != nil {
		return err
	}
	if err := sub.Wait(ctx); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		logger.Debug("Monitor interrupted")
		return nil
	case cause := <-lost:
		return fmt.Errorf("%w: %w", ErrConnectionLost, cause)
	}
}

// findPeripheral scans until the first connectable peripheral matching filter appears.
func findPeripheral(ctx context.Context, mgr *session.Manager, filter session.ScanFilter) (device.DiscoveredPeripheral, error) {
	disc, err := mgr.StartScan(filter)
	if err != nil {
		return device.DiscoveredPeripheral{}, err
	}

	skipped := 0
	for p := range disc.Peripherals(ctx) {
		if p.Connectable {
			return p, nil
		}
		skipped++
	}

	if ctx.Err() != nil {
		return device.DiscoveredPeripheral{}, ctx.Err()
	}
	if err := disc.Err(); err != nil {
		return device.DiscoveredPeripheral{}, err
	}
	return device.DiscoveredPeripheral{}, fmt.Errorf("%w (%d non-connectable skipped)", ErrNoPeripheral, skipped)
}
