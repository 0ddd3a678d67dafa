// Package display renders cycle and filter session results for the console.
package display

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"

	"rfidphase/internal/config"
	"rfidphase/internal/record"
	"rfidphase/internal/session"
	"rfidphase/internal/tag"
)

// Printer writes colourised summaries to an output stream.
type Printer struct {
	out   io.Writer
	info  *color.Color
	good  *color.Color
	warn  *color.Color
	errc  *color.Color
	plain *color.Color
}

// NewPrinter targets w, or stdout when w is nil.
func NewPrinter(w io.Writer) *Printer {
	if w == nil {
		w = os.Stdout
	}
	return &Printer{
		out:   w,
		info:  color.New(color.FgBlue, color.Bold),
		good:  color.New(color.FgGreen),
		warn:  color.New(color.FgYellow),
		errc:  color.New(color.FgRed, color.Bold),
		plain: color.New(color.Reset),
	}
}

// Header announces the tag being tracked.
func (p *Printer) Header(target string) {
	p.info.Fprintf(p.out, "Phase difference for tag %s\n", target)
}

// Cycle prints one sampled cycle. Empty cycles are shown in yellow with the
// per-antenna counts so a missing antenna is obvious.
func (p *Printer) Cycle(rec record.CycleRecord) {
	paired := len(rec.Deltas)
	if paired == 0 {
		p.warn.Fprintf(p.out, "#%d no pairs: ant %d=%d ant %d=%d\n", rec.Seq, rec.AntennaA, rec.CountA, rec.AntennaB, rec.CountB)
		return
	}
	deltas := make([]string, paired)
	for i, d := range rec.Deltas {
		deltas[i] = fmt.Sprintf("%d", d)
	}
	line := fmt.Sprintf("#%d ant %d=%d ant %d=%d paired=%d delta_phase=[%s]",
		rec.Seq, rec.AntennaA, rec.CountA, rec.AntennaB, rec.CountB, paired, strings.Join(deltas, " "))
	if rec.Mean != nil {
		line += fmt.Sprintf(" mean=%.1f", *rec.Mean)
	}
	p.good.Fprintln(p.out, line)
}

// Match echoes a matched background read.
func (p *Printer) Match(rd tag.Read) {
	p.plain.Fprintf(p.out, "Background read: %s ant:%d\n", rd.EPC.Hex(), rd.Antenna)
}

// Exception prints an already formatted exception message.
func (p *Printer) Exception(msg string) {
	p.errc.Fprintln(p.out, msg)
}

// FilterSummary prints the final counts of a filter session.
func (p *Printer) FilterSummary(report session.FilterReport) {
	p.info.Fprintf(p.out, "Session %s (%s, %s)\n", report.SessionID, report.Mode, report.Elapsed.Round(time.Millisecond))
	p.good.Fprintf(p.out, "Matching tags: %d\n", report.Counts.Matched)
	p.plain.Fprintf(p.out, "Non-matching tags: %d\n", report.Counts.NonMatched)
	if report.Counts.Exceptions > 0 {
		p.errc.Fprintf(p.out, "Exceptions: %d\n", report.Counts.Exceptions)
		if shown := len(report.Exceptions); int64(shown) < report.Counts.Exceptions {
			fmt.Fprintf(p.out, "Last %d:\n", shown)
		}
		for _, msg := range report.Exceptions {
			p.errc.Fprintf(p.out, "  %s\n", msg)
		}
	}
}

// ConfigSummary lists the settings a run will use.
func (p *Printer) ConfigSummary(cfg *config.Config) {
	p.info.Fprintln(p.out, "--- Configuration Summary ---")
	fmt.Fprintf(p.out, "Reader provider: %s\n", cfg.Reader.Provider)
	switch cfg.Reader.Provider {
	case "http":
		fmt.Fprintf(p.out, "Gateway: %s\n", cfg.Reader.GatewayURL)
	case "websocket":
		fmt.Fprintf(p.out, "Stream: %s\n", cfg.Reader.StreamURL)
	}
	fmt.Fprintf(p.out, "Cycle timeout: %dms\n", cfg.Reader.CycleTimeoutMs)
	fmt.Fprintf(p.out, "Phase target: %s (ant %d vs ant %d)\n", cfg.Phase.TargetEPC, cfg.Phase.AntennaA, cfg.Phase.AntennaB)
	if cfg.Phase.Cycles > 0 {
		fmt.Fprintf(p.out, "Phase cycles: %d\n", cfg.Phase.Cycles)
	} else {
		fmt.Fprintln(p.out, "Phase cycles: until interrupted")
	}
	fmt.Fprintf(p.out, "Filter target: %s (%s, window %dms)\n", cfg.Filter.TargetEPC, modeLabel(cfg.Filter.CountMode), cfg.Filter.WindowMs)
	if cfg.Reader.PerAntennaRecords != nil && !*cfg.Reader.PerAntennaRecords {
		p.warn.Fprintln(p.out, "Reader merges antennas into one record; phase mode will refuse to run")
	}
}

func modeLabel(s string) string {
	if s == "" {
		return "matches_only"
	}
	return strings.ToLower(s)
}
