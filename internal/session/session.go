// Package session drives the two read modes: repeated phase sampling cycles and a bounded background filter session.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"rfidphase/internal/phase"
	"rfidphase/internal/reader"
	"rfidphase/internal/record"
	"rfidphase/internal/router"
	"rfidphase/internal/tag"
)

// ErrMergedAntennaRecords is returned when the reader shares one record across antennas.
var ErrMergedAntennaRecords = errors.New("reader merges antennas into one record; per-antenna records required")

// CycleSink persists finished cycles.
type CycleSink interface {
	Record(record.CycleRecord) error
}

// PhaseOptions bounds and observes a phase run.
type PhaseOptions struct {
	Timeout time.Duration
	Cycles  int // 0 runs until ctx is done
	Sink    CycleSink
	OnCycle func(record.CycleRecord)
}

// RunPhase polls one batch per cycle and samples it. It returns the number of
// completed cycles; a failed batch or sink write aborts the run. Context
// cancellation is a clean stop.
func RunPhase(ctx context.Context, src reader.BatchSource, sampler *phase.Sampler, opts PhaseOptions, log zerolog.Logger) (int, error) {
	if !src.Capabilities().PerAntennaRecords {
		return 0, ErrMergedAntennaRecords
	}
	if opts.Timeout <= 0 {
		return 0, fmt.Errorf("cycle timeout must be positive")
	}
	antA, antB := sampler.Antennas()
	log.Info().Str("target", sampler.Target()).Int("ant_a", antA).Int("ant_b", antB).Msg("phase difference sampling started")

	completed := 0
	for opts.Cycles == 0 || completed < opts.Cycles {
		if ctx.Err() != nil {
			return completed, nil
		}
		batch, err := src.ReadBatch(ctx, opts.Timeout)
		if err != nil {
			if ctx.Err() != nil {
				return completed, nil
			}
			return completed, fmt.Errorf("reading tags: %w", err)
		}

		cycle := sampler.Sample(batch)
		completed++
		rec := record.CycleRecord{
			CycleID:   uuid.NewString(),
			Seq:       completed,
			Target:    sampler.Target(),
			AntennaA:  antA,
			AntennaB:  antB,
			CountA:    cycle.CountA,
			CountB:    cycle.CountB,
			Deltas:    cycle.Deltas,
			Timestamp: time.Now().UTC(),
		}
		if mean, ok := cycle.Mean(); ok {
			rec.Mean = &mean
		}

		log.Debug().
			Int("seq", rec.Seq).
			Int("tags", len(batch)).
			Int("count_a", rec.CountA).
			Int("count_b", rec.CountB).
			Ints("deltas", rec.Deltas).
			Msg("cycle sampled")

		if opts.Sink != nil {
			if err := opts.Sink.Record(rec); err != nil {
				return completed, fmt.Errorf("record cycle: %w", err)
			}
		}
		if opts.OnCycle != nil {
			opts.OnCycle(rec)
		}
	}
	return completed, nil
}

// FilterReport summarizes one background filter session.
type FilterReport struct {
	SessionID  string
	Mode       router.Mode
	Counts     router.Counts
	// Exceptions holds the most recent formatted exception messages, oldest first.
	Exceptions []string
	Elapsed    time.Duration
}

// RunFilter subscribes the router to the stream for the given window, then
// unsubscribes and stops the router so the returned counts are final.
func RunFilter(ctx context.Context, src reader.StreamSource, rt *router.Router, window time.Duration, log zerolog.Logger) (FilterReport, error) {
	if window <= 0 {
		return FilterReport{}, fmt.Errorf("filter window must be positive")
	}
	if err := rt.Start(); err != nil {
		return FilterReport{}, fmt.Errorf("starting router: %w", err)
	}

	started := time.Now()
	sub, err := src.Subscribe(func(rd tag.Read) { rt.HandleRead(rd) }, func(err error) { rt.HandleException(err) })
	if err != nil {
		rt.Stop()
		return FilterReport{}, fmt.Errorf("starting reading: %w", err)
	}
	log.Info().Str("session", rt.ID()).Dur("window", window).Msg("background reading")

	timer := time.NewTimer(window)
	select {
	case <-timer.C:
	case <-ctx.Done():
		timer.Stop()
	}

	unsubErr := sub.Unsubscribe()
	rt.Stop()
	report := FilterReport{
		SessionID:  rt.ID(),
		Mode:       rt.Mode(),
		Counts:     rt.Counts(),
		Exceptions: rt.RecentExceptions(),
		Elapsed:    time.Since(started),
	}
	if unsubErr != nil {
		return report, fmt.Errorf("stopping reading: %w", unsubErr)
	}
	return report, nil
}
