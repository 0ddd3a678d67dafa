// Package reader hosts adapters that deliver already-decoded tag reads, either one cycle at a time or as a background stream.
package reader

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"rfidphase/internal/metrics"
	"rfidphase/internal/tag"
)

const (
	// ProviderStub emits deterministic synthetic reads (useful for tests/offline work).
	ProviderStub = "stub"
	// ProviderHTTP polls a reader gateway for one cycle's decoded reads.
	ProviderHTTP = "http"
	// ProviderWebsocket streams decoded reads pushed by a reader gateway.
	ProviderWebsocket = "websocket"
)

var (
	// ErrReadTimeout reports that the reader produced no batch within the cycle timeout.
	ErrReadTimeout = errors.New("read timeout")
	// ErrUnknownProvider reports an unsupported provider name.
	ErrUnknownProvider = errors.New("unknown reader provider")
)

// Capabilities describes how the device shapes its records.
type Capabilities struct {
	Provider string
	// PerAntennaRecords is true when every read carries exactly one antenna.
	PerAntennaRecords bool
}

// BatchSource yields one finite batch of reads per polling cycle.
type BatchSource interface {
	ReadBatch(ctx context.Context, timeout time.Duration) ([]tag.Read, error)
	Capabilities() Capabilities
}

// StreamSource pushes reads to callbacks from its own goroutine until unsubscribed.
type StreamSource interface {
	Subscribe(onRead func(tag.Read), onException func(error)) (Subscription, error)
}

// Subscription is a live background read. Once Unsubscribe returns no
// further callbacks are invoked.
type Subscription interface {
	Unsubscribe() error
}

// Reader is a pluggable source of decoded tag reads.
type Reader struct {
	provider      string
	log           zerolog.Logger
	gatewayURL    string
	streamURL     string
	perAntenna    bool
	client        *http.Client
	stubTags      []tag.EPC
	stubAntennas  []int
	readsPerCycle int
	interval      time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

// Option configures Reader construction parameters.
type Option func(*Reader)

const (
	defaultReadsPerCycle  = 4
	defaultStreamInterval = 100 * time.Millisecond
	defaultGatewayURL     = "http://127.0.0.1:8088"
)

// WithGatewayURL points the http provider at a reader gateway.
func WithGatewayURL(u string) Option {
	return func(r *Reader) {
		if u != "" {
			r.gatewayURL = strings.TrimSuffix(u, "/")
		}
	}
}

// WithStreamURL points the websocket provider at a reader gateway stream.
func WithStreamURL(u string) Option {
	return func(r *Reader) {
		if u != "" {
			r.streamURL = u
		}
	}
}

// WithPerAntennaRecords declares whether the device emits one record per antenna.
func WithPerAntennaRecords(enabled bool) Option {
	return func(r *Reader) { r.perAntenna = enabled }
}

// WithHTTPClient overrides the client used by the http provider.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Reader) {
		if c != nil {
			r.client = c
		}
	}
}

// WithStubTags sets the identifiers the stub provider reports.
func WithStubTags(epcs ...tag.EPC) Option {
	return func(r *Reader) {
		if len(epcs) > 0 {
			r.stubTags = append([]tag.EPC(nil), epcs...)
		}
	}
}

// WithStubAntennas sets the antenna ports the stub provider cycles through.
func WithStubAntennas(ports ...int) Option {
	return func(r *Reader) {
		if len(ports) > 0 {
			r.stubAntennas = append([]int(nil), ports...)
		}
	}
}

// WithReadsPerCycle sets how many reads per tag and antenna the stub emits each cycle.
func WithReadsPerCycle(n int) Option {
	return func(r *Reader) {
		if n > 0 {
			r.readsPerCycle = n
		}
	}
}

// WithSeed makes the stub provider deterministic.
func WithSeed(seed int64) Option {
	return func(r *Reader) { r.rng = rand.New(rand.NewSource(seed)) }
}

// WithStreamInterval sets the cadence of stub background reads.
func WithStreamInterval(d time.Duration) Option {
	return func(r *Reader) {
		if d > 0 {
			r.interval = d
		}
	}
}

// New constructs a reader backed by the requested provider.
func New(provider string, log zerolog.Logger, opts ...Option) (*Reader, error) {
	if provider == "" {
		provider = ProviderStub
	}
	r := &Reader{
		provider:      strings.ToLower(provider),
		log:           log,
		gatewayURL:    defaultGatewayURL,
		perAntenna:    true,
		client:        &http.Client{Timeout: 10 * time.Second},
		stubTags:      []tag.EPC{{0x30, 0x08, 0x33, 0xB2, 0xDD, 0xD9, 0x01, 0x40, 0x00, 0x00, 0x00, 0x00}},
		stubAntennas:  []int{1, 2},
		readsPerCycle: defaultReadsPerCycle,
		interval:      defaultStreamInterval,
		rng:           rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(r)
	}
	switch r.provider {
	case ProviderStub, ProviderHTTP:
	case ProviderWebsocket:
		if r.streamURL == "" {
			return nil, fmt.Errorf("websocket provider requires a stream url")
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}
	return r, nil
}

// Capabilities reports the record shape of the configured device.
func (r *Reader) Capabilities() Capabilities {
	return Capabilities{Provider: r.provider, PerAntennaRecords: r.perAntenna}
}

// ReadBatch returns the reads collected during one cycle.
func (r *Reader) ReadBatch(ctx context.Context, timeout time.Duration) ([]tag.Read, error) {
	if timeout <= 0 {
		return nil, fmt.Errorf("cycle timeout must be positive")
	}
	switch r.provider {
	case ProviderHTTP:
		return r.readHTTPBatch(ctx, timeout)
	case ProviderWebsocket:
		return r.collect(ctx, timeout)
	default:
		return r.readStubBatch(ctx)
	}
}

// Subscribe starts a background read delivering to the callbacks.
func (r *Reader) Subscribe(onRead func(tag.Read), onException func(error)) (Subscription, error) {
	if onRead == nil {
		return nil, fmt.Errorf("read callback required")
	}
	if onException == nil {
		onException = func(error) {}
	}
	ctx, cancel := context.WithCancel(context.Background())
	sub := &subscription{cancel: cancel, done: make(chan struct{})}

	var run func(context.Context, func(tag.Read), func(error))
	switch r.provider {
	case ProviderHTTP:
		run = r.streamHTTP
	case ProviderWebsocket:
		run = r.streamWebsocket
	default:
		run = r.streamStub
	}

	deliver := func(rd tag.Read) {
		metrics.TagReadsTotal.WithLabelValues(strconv.Itoa(rd.Antenna)).Inc()
		onRead(rd)
	}
	go func() {
		defer close(sub.done)
		run(ctx, deliver, onException)
	}()
	r.log.Info().Str("provider", r.provider).Msg("background reading started")
	return sub, nil
}

type subscription struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (s *subscription) Unsubscribe() error {
	s.once.Do(s.cancel)
	<-s.done
	return nil
}

// collect subscribes for one cycle window and returns what arrived.
func (r *Reader) collect(ctx context.Context, window time.Duration) ([]tag.Read, error) {
	var (
		mu       sync.Mutex
		reads    []tag.Read
		firstErr error
	)
	sub, err := r.Subscribe(func(rd tag.Read) {
		mu.Lock()
		reads = append(reads, rd)
		mu.Unlock()
	}, func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
	})
	if err != nil {
		return nil, err
	}

	timer := time.NewTimer(window)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		_ = sub.Unsubscribe()
		return nil, ctx.Err()
	case <-timer.C:
	}
	_ = sub.Unsubscribe()

	mu.Lock()
	defer mu.Unlock()
	if len(reads) == 0 && firstErr != nil {
		return nil, firstErr
	}
	return reads, nil
}

func countReads(reads []tag.Read) {
	for _, rd := range reads {
		metrics.TagReadsTotal.WithLabelValues(strconv.Itoa(rd.Antenna)).Inc()
	}
}
