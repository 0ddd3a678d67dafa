package reader

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/gorilla/websocket"

	"rfidphase/internal/tag"
)

const (
	initialBackoff = 250 * time.Millisecond
	maxBackoff     = 30 * time.Second
)

// streamWebsocket keeps a gateway stream open, reconnecting with backoff.
// Transport faults and gateway error frames go to onException; neither ends
// the subscription.
func (r *Reader) streamWebsocket(ctx context.Context, onRead func(tag.Read), onException func(error)) {
	backoff := initialBackoff
	for {
		if ctx.Err() != nil {
			return
		}
		delivered, err := r.consumeWebsocket(ctx, onRead, onException)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			r.log.Warn().Err(err).Msg("reader stream disconnected, retrying")
			onException(err)
		}
		if delivered {
			backoff = initialBackoff
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
		backoff = time.Duration(math.Min(float64(maxBackoff), float64(backoff)*1.8))
	}
}

func (r *Reader) consumeWebsocket(ctx context.Context, onRead func(tag.Read), onException func(error)) (bool, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, r.streamURL, nil)
	if err != nil {
		return false, fmt.Errorf("dial reader stream: %w", err)
	}
	defer conn.Close()

	r.log.Info().Str("provider", ProviderWebsocket).Str("url", r.streamURL).Msg("connected reader stream")

	conn.SetReadLimit(1 << 20)
	conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		return nil
	})

	// Closing the connection is what unblocks ReadMessage on cancel.
	connCtx, connCancel := context.WithCancel(ctx)
	defer connCancel()
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					r.log.Warn().Err(err).Msg("reader stream ping failed")
					return
				}
			case <-connCtx.Done():
				conn.Close()
				return
			}
		}
	}()

	delivered := false
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return delivered, ctx.Err()
			}
			return delivered, err
		}
		conn.SetReadDeadline(time.Now().Add(30 * time.Second))

		var msg readMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			r.log.Warn().Err(err).Msg("failed to decode reader message")
			continue
		}
		if msg.Error != "" {
			onException(fmt.Errorf("%s", msg.Error))
			continue
		}
		rd, err := decodeRead(msg)
		if err != nil {
			r.log.Warn().Err(err).Msg("skipping malformed read")
			continue
		}
		if ctx.Err() != nil {
			return delivered, ctx.Err()
		}
		onRead(rd)
		delivered = true
	}
}
