package main

import (
	"context"
	"fmt"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"rfidphase/internal/config"
	"rfidphase/internal/display"
	"rfidphase/internal/metrics"
	"rfidphase/internal/phase"
	"rfidphase/internal/reader"
	"rfidphase/internal/record"
	"rfidphase/internal/router"
	"rfidphase/internal/session"
	"rfidphase/internal/tag"
	"rfidphase/internal/util"
)

const defaultConfigPath = "internal/config/config.yaml"

var (
	configPath string
	cycles     int
	echoReads  bool
)

var rootCmd = &cobra.Command{
	Use:   "rfidphase",
	Short: "Phase difference sensing and background read filtering for RFID tags",
	Long: `rfidphase consumes decoded tag reads from a reader gateway.

Modes:
  phase    sample one batch per cycle and print the corrected phase deltas
           between two antennas for the target tag
  filter   subscribe to background reads for a fixed window and count
           reads matching the target tag`,
	SilenceUsage: true,
}

var phaseCmd = &cobra.Command{
	Use:   "phase",
	Short: "Estimate per-cycle phase differences for the target tag",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("cycles") {
			cfg.Phase.Cycles = cycles
		}
		return runPhase(cfg, log)
	},
}

var filterCmd = &cobra.Command{
	Use:   "filter",
	Short: "Count background reads matching the target tag",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}
		return runFilter(cfg, log)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to the YAML config")
	phaseCmd.Flags().IntVarP(&cycles, "cycles", "n", 0, "number of cycles to run (0 runs until interrupted)")
	filterCmd.Flags().BoolVar(&echoReads, "echo", true, "print each matched read")
	rootCmd.AddCommand(phaseCmd, filterCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setup() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("load config: %w", err)
	}
	log := util.NewFileLogger(cfg.App.LogLevel, cfg.App.LogFile)
	if cfg.App.MetricsAddr != "" {
		_ = metrics.Serve(cfg.App.MetricsAddr)
		log.Info().Str("addr", cfg.App.MetricsAddr).Msg("metrics up")
	}
	return cfg, log, nil
}

func runPhase(cfg *config.Config, log zerolog.Logger) error {
	ctx, cancel := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rd, err := newReader(cfg, log)
	if err != nil {
		return err
	}

	out := display.NewPrinter(os.Stdout)
	sampler := phase.NewSampler(cfg.Phase.TargetEPC, cfg.Phase.AntennaA, cfg.Phase.AntennaB)
	opts := session.PhaseOptions{
		Timeout: time.Duration(cfg.Reader.CycleTimeoutMs) * time.Millisecond,
		Cycles:  cfg.Phase.Cycles,
		OnCycle: out.Cycle,
	}
	if cfg.Phase.RecordPath != "" {
		rec, err := record.NewJSONLRecorder(cfg.Phase.RecordPath)
		if err != nil {
			return fmt.Errorf("open cycle recorder: %w", err)
		}
		defer rec.Close()
		opts.Sink = rec
	}

	out.Header(sampler.Target())
	n, err := session.RunPhase(ctx, rd, sampler, opts, log)
	log.Info().Int("cycles", n).Msg("phase sampling stopped")
	return err
}

func runFilter(cfg *config.Config, log zerolog.Logger) error {
	ctx, cancel := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rd, err := newReader(cfg, log)
	if err != nil {
		return err
	}
	mode, err := router.ParseMode(cfg.Filter.CountMode)
	if err != nil {
		return err
	}

	out := display.NewPrinter(os.Stdout)
	opts := []router.Option{
		router.WithMode(mode),
		router.WithQueueSize(cfg.Filter.QueueSize),
		router.WithExceptionSink(out.Exception),
	}
	if echoReads {
		opts = append(opts, router.WithMatchSink(out.Match))
	}
	rt := router.New(router.MatchHex(cfg.Filter.TargetEPC), log, opts...)

	window := time.Duration(cfg.Filter.WindowMs) * time.Millisecond
	report, err := session.RunFilter(ctx, rd, rt, window, log)
	if err != nil {
		return err
	}
	out.FilterSummary(report)
	log.Info().
		Str("session", report.SessionID).
		Int64("matched", report.Counts.Matched).
		Int64("non_matched", report.Counts.NonMatched).
		Int64("exceptions", report.Counts.Exceptions).
		Msg("filter session finished")
	return nil
}

func newReader(cfg *config.Config, log zerolog.Logger) (*reader.Reader, error) {
	opts := []reader.Option{
		reader.WithGatewayURL(cfg.Reader.GatewayURL),
		reader.WithStreamURL(cfg.Reader.StreamURL),
	}
	if cfg.Reader.PerAntennaRecords != nil {
		opts = append(opts, reader.WithPerAntennaRecords(*cfg.Reader.PerAntennaRecords))
	}

	stub := cfg.Reader.Stub
	if len(stub.Tags) > 0 {
		epcs := make([]tag.EPC, 0, len(stub.Tags))
		for _, s := range stub.Tags {
			epc, err := tag.ParseEPC(s)
			if err != nil {
				return nil, fmt.Errorf("stub tag %q: %w", s, err)
			}
			epcs = append(epcs, epc)
		}
		opts = append(opts, reader.WithStubTags(epcs...))
	}
	if len(stub.Antennas) > 0 {
		opts = append(opts, reader.WithStubAntennas(stub.Antennas...))
	}
	if stub.ReadsPerCycle > 0 {
		opts = append(opts, reader.WithReadsPerCycle(stub.ReadsPerCycle))
	}
	if stub.IntervalMs > 0 {
		opts = append(opts, reader.WithStreamInterval(time.Duration(stub.IntervalMs)*time.Millisecond))
	}
	if stub.Seed != 0 {
		opts = append(opts, reader.WithSeed(stub.Seed))
	}

	rd, err := reader.New(cfg.Reader.Provider, log, opts...)
	if err != nil {
		return nil, fmt.Errorf("reader: %w", err)
	}
	log.Info().Str("provider", rd.Capabilities().Provider).Msg("reader ready")
	return rd, nil
}
