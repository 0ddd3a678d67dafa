package reader

import (
	"errors"
	"fmt"
	"time"

	"rfidphase/internal/tag"
)

// readMessage is the JSON shape a reader gateway uses for one decoded read,
// or for an asynchronous reader exception when Error is set.
type readMessage struct {
	EPC         string `json:"epc"`
	Antenna     int    `json:"antenna"`
	Phase       int    `json:"phase"`
	RSSI        int    `json:"rssi"`
	Frequency   int    `json:"frequency"`
	TimestampMs int64  `json:"timestamp_ms"`
	Error       string `json:"error,omitempty"`
}

type batchResponse struct {
	Reads []readMessage `json:"reads"`
	Error string        `json:"error,omitempty"`
}

// decodeRead converts a wire read. An empty epc is kept as an empty identifier.
func decodeRead(msg readMessage) (tag.Read, error) {
	if msg.Error != "" {
		return tag.Read{}, errors.New(msg.Error)
	}
	var epc tag.EPC
	if msg.EPC != "" {
		parsed, err := tag.ParseEPC(msg.EPC)
		if err != nil {
			return tag.Read{}, err
		}
		epc = parsed
	}
	if msg.Antenna < 0 {
		return tag.Read{}, fmt.Errorf("invalid antenna %d", msg.Antenna)
	}
	ts := time.Now().UTC()
	if msg.TimestampMs > 0 {
		ts = time.UnixMilli(msg.TimestampMs).UTC()
	}
	return tag.Read{
		EPC:       epc,
		Antenna:   msg.Antenna,
		Phase:     msg.Phase,
		RSSI:      msg.RSSI,
		Frequency: msg.Frequency,
		Ts:        ts,
	}, nil
}
