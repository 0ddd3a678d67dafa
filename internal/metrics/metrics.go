package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TagReadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "tag_reads_total", Help: "Decoded tag reads delivered by the reader"},
		[]string{"antenna"},
	)
	PhaseCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "phase_cycles_total", Help: "Phase sampling cycles completed"},
	)
	PhaseDeltasTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "phase_deltas_total", Help: "Corrected phase deltas emitted"},
	)
	RouterReadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "router_reads_total", Help: "Background reads seen by the filter router"},
		[]string{"result"},
	)
	RouterExceptionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "router_exceptions_total", Help: "Read exceptions reported during background reading"},
	)
)

func init() {
	prometheus.MustRegister(TagReadsTotal, PhaseCyclesTotal, PhaseDeltasTotal, RouterReadsTotal, RouterExceptionsTotal)
}

func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
