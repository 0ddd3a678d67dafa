// Package router filters an asynchronous stream of tag reads and keeps match counters for one background session.
package router

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"rfidphase/internal/metrics"
	"rfidphase/internal/record"
	"rfidphase/internal/tag"
)

// Mode selects how non-matching reads are counted.
type Mode int

const (
	// ModeMatchesOnly counts matches only; NonMatched stays zero.
	ModeMatchesOnly Mode = iota
	// ModeCountBoth also increments NonMatched for every non-matching read.
	ModeCountBoth
)

// ErrRouterStopped is returned when restarting a router that has been stopped.
var ErrRouterStopped = errors.New("router stopped")

const (
	defaultQueueSize        = 1024
	defaultExceptionHistory = 16
)

// ParseMode maps a config value onto a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "matches_only", "matches":
		return ModeMatchesOnly, nil
	case "both", "count_both":
		return ModeCountBoth, nil
	default:
		return ModeMatchesOnly, fmt.Errorf("unknown count mode %q", s)
	}
}

func (m Mode) String() string {
	if m == ModeCountBoth {
		return "both"
	}
	return "matches_only"
}

// Filter decides whether a tag identifier is of interest.
type Filter func(tag.EPC) bool

// MatchHex returns a filter comparing the uppercase hex identifier exactly.
func MatchHex(target string) Filter {
	return func(epc tag.EPC) bool { return epc.Hex() == target }
}

// Counts is a snapshot of the router counters.
type Counts struct {
	Matched    int64
	NonMatched int64
	Ignored    int64
	Exceptions int64
}

// FormatException renders a delivery error the way the reader console reports it.
func FormatException(err error) string {
	return fmt.Sprintf("Error:%v", err)
}

type state int

const (
	stateIdle state = iota
	stateRunning
	stateStopped
)

type envelope struct {
	read tag.Read
	err  error
}

// Router drains reads pushed by a background reader through a single consumer goroutine.
type Router struct {
	id          string
	filter      Filter
	mode        Mode
	queueSize   int
	log         zerolog.Logger
	onMatch     func(tag.Read)
	onException func(string)
	history     *record.ExceptionLog
	historySize int

	mu     sync.RWMutex
	state  state
	events chan envelope
	done   chan struct{}

	matched    atomic.Int64
	nonMatched atomic.Int64
	ignored    atomic.Int64
	exceptions atomic.Int64
}

// Option configures Router construction parameters.
type Option func(*Router)

// WithMode overrides the counting mode.
func WithMode(m Mode) Option {
	return func(r *Router) { r.mode = m }
}

// WithQueueSize sets the capacity of the delivery channel.
func WithQueueSize(n int) Option {
	return func(r *Router) {
		if n > 0 {
			r.queueSize = n
		}
	}
}

// WithExceptionHistory sets how many recent exception messages are retained.
func WithExceptionHistory(n int) Option {
	return func(r *Router) {
		if n > 0 {
			r.historySize = n
		}
	}
}

// WithMatchSink receives every matching read, from the consumer goroutine.
// Sinks must not call back into the router: enqueue holds the read lock while
// blocked on a full queue, so HandleRead or Stop from a sink deadlocks.
func WithMatchSink(fn func(tag.Read)) Option {
	return func(r *Router) {
		if fn != nil {
			r.onMatch = fn
		}
	}
}

// WithExceptionSink receives every formatted exception message, from the
// consumer goroutine. The same no-reentry rule as WithMatchSink applies.
func WithExceptionSink(fn func(string)) Option {
	return func(r *Router) {
		if fn != nil {
			r.onException = fn
		}
	}
}

// New constructs an idle router. A nil filter matches nothing.
func New(filter Filter, log zerolog.Logger, opts ...Option) *Router {
	if filter == nil {
		filter = func(tag.EPC) bool { return false }
	}
	r := &Router{
		id:          uuid.NewString(),
		filter:      filter,
		mode:        ModeMatchesOnly,
		queueSize:   defaultQueueSize,
		historySize: defaultExceptionHistory,
	}
	r.log = log.With().Str("router", r.id).Logger()
	r.onMatch = func(rd tag.Read) {
		r.log.Info().Str("epc", rd.EPC.Hex()).Int("ant", rd.Antenna).Msg("background read")
	}
	r.onException = func(msg string) {
		r.log.Warn().Msg(msg)
	}
	for _, opt := range opts {
		opt(r)
	}
	r.history = record.NewExceptionLog(r.historySize)
	return r
}

// ID identifies the router in logs and reports.
func (r *Router) ID() string { return r.id }

// Mode returns the configured counting mode.
func (r *Router) Mode() Mode { return r.mode }

// Start activates delivery. Starting a running router is a no-op.
func (r *Router) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.state {
	case stateRunning:
		return nil
	case stateStopped:
		return ErrRouterStopped
	}
	r.events = make(chan envelope, r.queueSize)
	r.done = make(chan struct{})
	r.state = stateRunning
	go r.consume(r.events, r.done)
	r.log.Debug().Str("mode", r.mode.String()).Int("queue", r.queueSize).Msg("router started")
	return nil
}

// Stop deactivates delivery and returns once every accepted read has been
// processed. Later calls are no-ops that also wait for the drain.
func (r *Router) Stop() {
	r.mu.Lock()
	if r.state == stateRunning {
		close(r.events)
	}
	r.state = stateStopped
	done := r.done
	r.mu.Unlock()

	if done != nil {
		<-done
	}
}

// HandleRead is the read callback handed to the background reader. It
// reports false when the router is not running and the read was dropped.
func (r *Router) HandleRead(rd tag.Read) bool {
	return r.enqueue(envelope{read: rd}, "dropped")
}

// HandleException is the exception callback handed to the background reader.
func (r *Router) HandleException(err error) bool {
	if err == nil {
		return false
	}
	return r.enqueue(envelope{err: err}, "exception_dropped")
}

func (r *Router) enqueue(env envelope, dropLabel string) bool {
	// Held across the send so Stop cannot close the channel under it.
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.state != stateRunning {
		metrics.RouterReadsTotal.WithLabelValues(dropLabel).Inc()
		return false
	}
	r.events <- env
	return true
}

// RecentExceptions returns the latest formatted exception messages, oldest
// first. Like Counts it is final once Stop has returned.
func (r *Router) RecentExceptions() []string {
	return r.history.Recent()
}

// Counts returns the current counters; they are final once Stop has returned.
func (r *Router) Counts() Counts {
	return Counts{
		Matched:    r.matched.Load(),
		NonMatched: r.nonMatched.Load(),
		Ignored:    r.ignored.Load(),
		Exceptions: r.exceptions.Load(),
	}
}

func (r *Router) consume(events <-chan envelope, done chan<- struct{}) {
	defer close(done)
	for env := range events {
		if env.err != nil {
			r.dispatchException(env.err)
			continue
		}
		r.dispatchRead(env.read)
	}
}

func (r *Router) dispatchRead(rd tag.Read) {
	if rd.EPC.Empty() {
		r.ignored.Add(1)
		metrics.RouterReadsTotal.WithLabelValues("ignored").Inc()
		return
	}
	if r.filter(rd.EPC) {
		r.matched.Add(1)
		metrics.RouterReadsTotal.WithLabelValues("matched").Inc()
		r.onMatch(rd)
		return
	}
	metrics.RouterReadsTotal.WithLabelValues("unmatched").Inc()
	if r.mode == ModeCountBoth {
		r.nonMatched.Add(1)
	}
}

func (r *Router) dispatchException(err error) {
	r.exceptions.Add(1)
	metrics.RouterExceptionsTotal.Inc()
	msg := FormatException(err)
	r.history.Record(msg)
	r.onException(msg)
}
