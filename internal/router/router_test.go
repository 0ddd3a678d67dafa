package router

import (
	"bytes"
	"errors"
	"runtime"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"rfidphase/internal/tag"
)

const targetHex = "300833B2DDD9014000000000"

var (
	target = tag.EPC{0x30, 0x08, 0x33, 0xB2, 0xDD, 0xD9, 0x01, 0x40, 0x00, 0x00, 0x00, 0x00}
	other  = tag.EPC{0xE2, 0x00, 0x63, 0x16}
)

func newRouter(t *testing.T, opts ...Option) *Router {
	t.Helper()
	r := New(MatchHex(targetHex), zerolog.Nop(), opts...)
	if err := r.Start(); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	return r
}

func TestRouterCountsMatchesOnly(t *testing.T) {
	r := newRouter(t)
	r.HandleRead(tag.Read{EPC: target, Antenna: 1})
	r.HandleRead(tag.Read{EPC: other, Antenna: 2})
	r.HandleRead(tag.Read{EPC: target, Antenna: 2})
	r.Stop()

	counts := r.Counts()
	if counts.Matched != 2 {
		t.Fatalf("expected 2 matched, got %d", counts.Matched)
	}
	if counts.NonMatched != 0 {
		t.Fatalf("expected nonMatched to stay 0 in matches-only mode, got %d", counts.NonMatched)
	}
}

func TestRouterCountBothMode(t *testing.T) {
	r := newRouter(t, WithMode(ModeCountBoth))
	r.HandleRead(tag.Read{EPC: target, Antenna: 1})
	r.HandleRead(tag.Read{EPC: other, Antenna: 2})
	r.HandleRead(tag.Read{EPC: target, Antenna: 2})
	r.Stop()

	counts := r.Counts()
	if counts.Matched != 2 || counts.NonMatched != 1 {
		t.Fatalf("unexpected counts %+v", counts)
	}
}

func TestRouterIgnoresEmptyIdentifier(t *testing.T) {
	r := newRouter(t, WithMode(ModeCountBoth))
	r.HandleRead(tag.Read{Antenna: 1})
	r.HandleRead(tag.Read{EPC: tag.EPC{}, Antenna: 1})
	r.Stop()

	counts := r.Counts()
	if counts.Matched != 0 || counts.NonMatched != 0 {
		t.Fatalf("empty identifiers must not be counted: %+v", counts)
	}
	if counts.Ignored != 2 {
		t.Fatalf("expected 2 ignored, got %d", counts.Ignored)
	}
}

func TestRouterMatchSinkSeesIdentifierAndAntenna(t *testing.T) {
	var seen []tag.Read
	r := newRouter(t, WithMatchSink(func(rd tag.Read) { seen = append(seen, rd) }))
	r.HandleRead(tag.Read{EPC: other, Antenna: 1})
	r.HandleRead(tag.Read{EPC: target, Antenna: 2})
	r.Stop()

	if len(seen) != 1 {
		t.Fatalf("expected one match surfaced, got %d", len(seen))
	}
	if seen[0].EPC.Hex() != targetHex || seen[0].Antenna != 2 {
		t.Fatalf("unexpected surfaced read %+v", seen[0])
	}
}

func TestRouterExceptionDoesNotTouchCounters(t *testing.T) {
	var messages []string
	r := newRouter(t, WithExceptionSink(func(msg string) { messages = append(messages, msg) }))
	r.HandleRead(tag.Read{EPC: target, Antenna: 1})
	r.HandleException(errors.New("timeout"))
	r.HandleRead(tag.Read{EPC: target, Antenna: 1})
	r.Stop()

	counts := r.Counts()
	if counts.Matched != 2 || counts.NonMatched != 0 {
		t.Fatalf("exception altered counters: %+v", counts)
	}
	if counts.Exceptions != 1 {
		t.Fatalf("expected 1 exception, got %d", counts.Exceptions)
	}
	if len(messages) != 1 || messages[0] != "Error:timeout" {
		t.Fatalf("unexpected exception messages %v", messages)
	}
}

func TestRouterKeepsRecentExceptions(t *testing.T) {
	r := newRouter(t, WithExceptionHistory(2))
	r.HandleException(errors.New("timeout"))
	r.HandleException(errors.New("antenna fault"))
	r.HandleRead(tag.Read{EPC: target, Antenna: 1})
	r.HandleException(errors.New("buffer overflow"))
	r.Stop()

	recent := r.RecentExceptions()
	if len(recent) != 2 || recent[0] != "Error:antenna fault" || recent[1] != "Error:buffer overflow" {
		t.Fatalf("unexpected recent exceptions %v", recent)
	}
	if r.Counts().Exceptions != 3 {
		t.Fatalf("expected 3 exceptions counted, got %d", r.Counts().Exceptions)
	}
}

func TestRouterNilExceptionIgnored(t *testing.T) {
	r := newRouter(t)
	if r.HandleException(nil) {
		t.Fatalf("nil exception must not be accepted")
	}
	r.Stop()
	if r.Counts().Exceptions != 0 {
		t.Fatalf("unexpected exception count")
	}
}

func TestRouterDefaultSinksLog(t *testing.T) {
	var buf bytes.Buffer
	r := New(MatchHex(targetHex), zerolog.New(&buf))
	if err := r.Start(); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	r.HandleRead(tag.Read{EPC: target, Antenna: 2})
	r.HandleException(errors.New("antenna fault"))
	r.Stop()

	out := buf.String()
	if !strings.Contains(out, targetHex) {
		t.Fatalf("log does not contain epc: %s", out)
	}
	if !strings.Contains(out, "Error:antenna fault") {
		t.Fatalf("log does not contain exception: %s", out)
	}
	if !strings.Contains(out, r.ID()) {
		t.Fatalf("log does not carry router id: %s", out)
	}
}

func TestRouterStopIsIdempotent(t *testing.T) {
	r := newRouter(t)
	r.HandleRead(tag.Read{EPC: target, Antenna: 1})
	r.Stop()
	first := r.Counts()
	r.Stop()
	if r.Counts() != first {
		t.Fatalf("second Stop changed counters: %+v -> %+v", first, r.Counts())
	}
	if first.Matched != 1 {
		t.Fatalf("expected 1 matched, got %d", first.Matched)
	}
}

func TestRouterDropsWhenInactive(t *testing.T) {
	r := New(MatchHex(targetHex), zerolog.Nop())
	if r.HandleRead(tag.Read{EPC: target, Antenna: 1}) {
		t.Fatalf("idle router must drop reads")
	}
	if err := r.Start(); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if err := r.Start(); err != nil {
		t.Fatalf("second Start should be a no-op, got %v", err)
	}
	r.Stop()
	if r.HandleRead(tag.Read{EPC: target, Antenna: 1}) {
		t.Fatalf("stopped router must drop reads")
	}
	if r.Counts().Matched != 0 {
		t.Fatalf("dropped reads must not be counted")
	}
	if err := r.Start(); !errors.Is(err, ErrRouterStopped) {
		t.Fatalf("expected ErrRouterStopped, got %v", err)
	}
}

func TestRouterStopWithoutStart(t *testing.T) {
	r := New(MatchHex(targetHex), zerolog.Nop())
	r.Stop()
	r.Stop()
	if err := r.Start(); !errors.Is(err, ErrRouterStopped) {
		t.Fatalf("expected ErrRouterStopped, got %v", err)
	}
}

func TestRouterConcurrentProducers(t *testing.T) {
	const producers = 16
	const perProducer = 2000

	r := newRouter(t, WithMode(ModeCountBoth), WithQueueSize(64))
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				epc := other
				if i%3 == 0 {
					epc = target
				}
				r.HandleRead(tag.Read{EPC: epc, Antenna: 1 + (i+p)%2})
				if i%500 == 0 {
					r.HandleException(errors.New("transient"))
				}
			}
		}(p)
	}
	wg.Wait()
	r.Stop()

	matchesPerProducer := (perProducer + 2) / 3
	counts := r.Counts()
	if counts.Matched != int64(producers*matchesPerProducer) {
		t.Fatalf("lost updates: expected %d matched, got %d", producers*matchesPerProducer, counts.Matched)
	}
	if counts.NonMatched != int64(producers*(perProducer-matchesPerProducer)) {
		t.Fatalf("lost updates: expected %d nonMatched, got %d", producers*(perProducer-matchesPerProducer), counts.NonMatched)
	}
	if counts.Exceptions != int64(producers*4) {
		t.Fatalf("expected %d exceptions, got %d", producers*4, counts.Exceptions)
	}
}

func TestRouterStopRacingProducers(t *testing.T) {
	r := newRouter(t, WithQueueSize(8))

	var wg sync.WaitGroup
	accepted := make([]int64, 8)
	for p := range accepted {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for {
				if !r.HandleRead(tag.Read{EPC: target, Antenna: 1}) {
					return
				}
				accepted[p]++
			}
		}(p)
	}

	for r.Counts().Matched < 1000 {
		runtime.Gosched()
	}
	r.Stop()
	wg.Wait()

	var total int64
	for _, n := range accepted {
		total += n
	}
	if got := r.Counts().Matched; got != total {
		t.Fatalf("expected every accepted read counted: accepted=%d matched=%d", total, got)
	}
}

func TestParseMode(t *testing.T) {
	cases := map[string]Mode{
		"":             ModeMatchesOnly,
		"matches_only": ModeMatchesOnly,
		"BOTH":         ModeCountBoth,
		"count_both":   ModeCountBoth,
	}
	for in, expected := range cases {
		got, err := ParseMode(in)
		if err != nil {
			t.Fatalf("ParseMode(%q) returned error: %v", in, err)
		}
		if got != expected {
			t.Fatalf("ParseMode(%q): expected %v got %v", in, expected, got)
		}
	}
	if _, err := ParseMode("sometimes"); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
}
