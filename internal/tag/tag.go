// Package tag standardizes the decoded read payload shared between reader adapters and the phase/filter pipelines.
package tag

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// EPC is the raw identifier bytes reported for a physical tag.
type EPC []byte

// Hex renders the identifier the way reader SDKs print it: uppercase, no separators.
func (e EPC) Hex() string {
	return strings.ToUpper(hex.EncodeToString(e))
}

// String implements fmt.Stringer.
func (e EPC) String() string { return e.Hex() }

// Empty reports whether the identifier carries no bytes.
func (e EPC) Empty() bool { return len(e) == 0 }

// ParseEPC decodes a hex identifier, accepting either case.
func ParseEPC(s string) (EPC, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty epc")
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode epc %q: %w", s, err)
	}
	return EPC(b), nil
}

// Read models one observation of a tag by one antenna.
type Read struct {
	EPC       EPC
	Antenna   int
	Phase     int // degrees, raw signed value from the reader
	RSSI      int // dBm
	Frequency int // kHz
	Ts        time.Time
}
