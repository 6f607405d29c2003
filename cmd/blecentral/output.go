package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/srg/blecentral/internal/bledb"
	"github.com/srg/blecentral/internal/device"
	"github.com/srg/blecentral/internal/session"
	"golang.org/x/term"
)

// colorEnabled reports whether w is an interactive terminal that accepts ANSI colors.
func colorEnabled(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok || os.Getenv("NO_COLOR") != "" {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

func paint(c *color.Color, colored bool) *color.Color {
	if colored {
		c.EnableColor()
	} else {
		c.DisableColor()
	}
	return c
}

// payloadPrinter renders session events for the monitor command.
// Payloads go to out; status lines go to status so JSON output stays clean.
type payloadPrinter struct {
	out    io.Writer
	status io.Writer
	json   *json.Encoder

	timeColor  *color.Color
	charColor  *color.Color
	stateColor *color.Color
	errColor   *color.Color
}

func newPayloadPrinter(out, status io.Writer, format string, colored bool) *payloadPrinter {
	p := &payloadPrinter{
		out:        out,
		status:     status,
		timeColor:  paint(color.New(color.Faint), colored),
		charColor:  paint(color.New(color.FgCyan), colored),
		stateColor: paint(color.New(color.FgYellow), colored),
		errColor:   paint(color.New(color.FgRed, color.Bold), colored),
	}
	if format == "json" {
		p.json = json.NewEncoder(out)
	}
	return p
}

type payloadRecord struct {
	Time           time.Time `json:"time"`
	Peripheral     string    `json:"peripheral"`
	Service        string    `json:"service"`
	Characteristic string    `json:"characteristic"`
	Name           string    `json:"name,omitempty"`
	Hex            string    `json:"hex"`
}

func (p *payloadPrinter) payload(pl session.Payload) error {
	name := bledb.LookupCharacteristic(pl.Characteristic)
	hex := fmt.Sprintf("%x", pl.Data)

	if p.json != nil {
		return p.json.Encode(payloadRecord{
			Time:           pl.ReceivedAt,
			Peripheral:     pl.Peripheral,
			Service:        pl.Service,
			Characteristic: pl.Characteristic,
			Name:           name,
			Hex:            hex,
		})
	}

	label := pl.Characteristic
	if name != "" {
		label += " (" + name + ")"
	}
	_, err := fmt.Fprintf(p.out, "%s  %s  % x\n",
		p.timeColor.Sprint(pl.ReceivedAt.Format("15:04:05.000")),
		p.charColor.Sprint(label),
		pl.Data)
	return err
}

func (p *payloadPrinter) state(to session.State) {
	fmt.Fprintf(p.status, "%s %s\n", p.stateColor.Sprint("●"), to)
}

func (p *payloadPrinter) connected(per device.DiscoveredPeripheral) {
	fmt.Fprintf(p.status, "Connected to %s [%s]\n", per.DisplayName(), per.ID)
}

func (p *payloadPrinter) subscribed(sub session.Subscription) {
	label := sub.Characteristic
	if sub.KnownName != "" {
		label += " (" + sub.KnownName + ")"
	}
	fmt.Fprintf(p.status, "Subscribed to %s\n", p.charColor.Sprint(label))
}

func (p *payloadPrinter) failure(err error) {
	fmt.Fprintf(p.status, "%s %s\n", p.errColor.Sprint("error:"), FormatUserError(err))
}

// writePeripheralsTable prints discovered peripherals sorted by name, then address.
func writePeripheralsTable(w io.Writer, peripherals []device.DiscoveredPeripheral) error {
	if len(peripherals) == 0 {
		_, err := fmt.Fprintln(w, "No devices discovered")
		return err
	}

	sorted := append([]device.DiscoveredPeripheral(nil), peripherals...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Name != sorted[j].Name {
			return sorted[i].Name < sorted[j].Name
		}
		return sorted[i].ID < sorted[j].ID
	})

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tADDRESS\tRSSI\tSERVICES")
	for _, p := range sorted {
		name := p.Name
		if len(name) > 20 {
			name = name[:17] + "..."
		}
		short := make([]string, len(p.Services))
		for i, svc := range p.Services {
			short[i] = device.ShortenUUID(svc)
		}
		services := strings.Join(short, ",")
		if len(services) > 30 {
			services = services[:27] + "..."
		}
		fmt.Fprintf(tw, "%s\t%s\t%d dBm\t%s\n", name, p.ID, p.RSSI, services)
	}
	return tw.Flush()
}

func writePeripheralsJSON(w io.Writer, peripherals []device.DiscoveredPeripheral) error {
	if peripherals == nil {
		peripherals = []device.DiscoveredPeripheral{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(peripherals)
}
