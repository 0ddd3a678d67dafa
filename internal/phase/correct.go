// Package phase turns per-cycle tag reads into wraparound-corrected phase deltas across an antenna pair.
package phase

// Correct folds a raw phase difference into (-90, 90].
//
// Reader phase is only meaningful modulo 180 degrees for a two-antenna pair,
// so the difference is mapped onto the principal branch with a single
// shift. The comparisons are strict: -90 and 90 pass through unchanged.
func Correct(raw int) int {
	if raw < -90 {
		return raw + 180
	}
	if raw > 90 {
		return raw - 180
	}
	return raw
}
