package reader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"rfidphase/internal/tag"
)

// httpSlack is added on top of the cycle timeout so the gateway can answer before the client gives up.
const httpSlack = 2 * time.Second

func (r *Reader) readHTTPBatch(ctx context.Context, timeout time.Duration) ([]tag.Read, error) {
	reads, err := r.fetchHTTPBatch(ctx, timeout)
	if err != nil {
		return nil, err
	}
	countReads(reads)
	return reads, nil
}

func (r *Reader) fetchHTTPBatch(ctx context.Context, timeout time.Duration) ([]tag.Read, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout+httpSlack)
	defer cancel()

	url := fmt.Sprintf("%s/reads?timeout_ms=%s", r.gatewayURL, strconv.FormatInt(timeout.Milliseconds(), 10))
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "rfidphase/1.0")
	resp, err := r.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("%w: %v", ErrReadTimeout, err)
		}
		return nil, fmt.Errorf("http do: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return nil, ErrReadTimeout
	default:
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var payload batchResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if payload.Error != "" {
		return nil, fmt.Errorf("reader error: %s", payload.Error)
	}

	reads := make([]tag.Read, 0, len(payload.Reads))
	for _, msg := range payload.Reads {
		rd, err := decodeRead(msg)
		if err != nil {
			r.log.Warn().Err(err).Msg("skipping malformed read")
			continue
		}
		reads = append(reads, rd)
	}
	return reads, nil
}

// streamHTTP long-polls the gateway back to back; failed polls are reported
// as exceptions and polling continues.
func (r *Reader) streamHTTP(ctx context.Context, onRead func(tag.Read), onException func(error)) {
	window := r.interval
	if window < 500*time.Millisecond {
		window = 500 * time.Millisecond
	}
	for {
		if ctx.Err() != nil {
			return
		}
		reads, err := r.fetchHTTPBatch(ctx, window)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if !errors.Is(err, ErrReadTimeout) {
				onException(err)
			}
			select {
			case <-time.After(r.interval):
			case <-ctx.Done():
				return
			}
			continue
		}
		for _, rd := range reads {
			if ctx.Err() != nil {
				return
			}
			onRead(rd)
		}
	}
}
