package reader

import (
	"context"
	"time"

	"rfidphase/internal/tag"
)

const stubFrequencyKHz = 866300

func (r *Reader) readStubBatch(ctx context.Context) ([]tag.Read, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	reads := make([]tag.Read, 0, len(r.stubTags)*len(r.stubAntennas)*r.readsPerCycle)
	for i := 0; i < r.readsPerCycle; i++ {
		for _, epc := range r.stubTags {
			for _, ant := range r.stubAntennas {
				reads = append(reads, r.synthesize(epc, ant, now))
			}
		}
	}
	countReads(reads)
	return reads, nil
}

func (r *Reader) streamStub(ctx context.Context, onRead func(tag.Read), _ func(error)) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case ts := <-ticker.C:
			for _, epc := range r.stubTags {
				for _, ant := range r.stubAntennas {
					if ctx.Err() != nil {
						return
					}
					onRead(r.synthesize(epc, ant, ts.UTC()))
				}
			}
		}
	}
}

// synthesize places each antenna on its own phase offset with a few degrees of jitter.
func (r *Reader) synthesize(epc tag.EPC, antenna int, ts time.Time) tag.Read {
	r.mu.Lock()
	jitter := r.rng.Intn(11) - 5
	rssi := -55 - r.rng.Intn(10)
	r.mu.Unlock()

	base := (antenna * 70) % 360
	return tag.Read{
		EPC:       epc,
		Antenna:   antenna,
		Phase:     (base + jitter + 360) % 360,
		RSSI:      rssi,
		Frequency: stubFrequencyKHz,
		Ts:        ts,
	}
}
