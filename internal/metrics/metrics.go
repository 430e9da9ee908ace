package metrics

import (
	"errors"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pro4cap/pkg/pro4"
)

// Frame outcomes used as the "result" label.
const (
	ResultValid          = "valid"
	ResultHeaderChecksum = "header_checksum"
	ResultTotalChecksum  = "total_checksum"
	ResultTruncated      = "truncated"
	ResultUnknownSync    = "unknown_sync"
	ResultExtended       = "extended_length"
	ResultOther          = "error"
)

var (
	registerOnce sync.Once

	framesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pro4cap",
			Subsystem: "frames",
			Name:      "total",
			Help:      "Captured PRO4 frames by direction and decode result.",
		},
		[]string{"direction", "result"},
	)
	unframedBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pro4cap",
			Subsystem: "stream",
			Name:      "unframed_bytes_total",
			Help:      "Captured bytes that did not belong to any PRO4 frame.",
		},
	)
	records = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pro4cap",
			Subsystem: "payload",
			Name:      "records_total",
			Help:      "Payload records decoded by schema.",
		},
		[]string{"schema"},
	)
	transactions = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pro4cap",
			Subsystem: "link",
			Name:      "transaction_duration_seconds",
			Help:      "Request/response round trip over the serial link.",
			Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"success"},
	)
)

func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(framesTotal, unframedBytes, records, transactions)
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	Register()
	return promhttp.Handler()
}

// Result maps a pro4.Decode outcome to a result label.
func Result(f pro4.DecodedFrame, err error) string {
	switch {
	case err == nil && !f.HeaderChecksumValid:
		return ResultHeaderChecksum
	case err == nil && !f.TotalChecksumValid:
		return ResultTotalChecksum
	case err == nil:
		return ResultValid
	case errors.Is(err, pro4.ErrTruncatedFrame):
		return ResultTruncated
	case errors.Is(err, pro4.ErrUnknownSyncWord):
		return ResultUnknownSync
	case errors.Is(err, pro4.ErrUnsupportedExtendedLength):
		return ResultExtended
	}
	return ResultOther
}

func RecordFrame(direction, result string) {
	Register()
	framesTotal.WithLabelValues(direction, result).Inc()
}

func RecordUnframed(n int) {
	Register()
	unframedBytes.Add(float64(n))
}

func RecordPayload(schema string) {
	Register()
	records.WithLabelValues(schema).Inc()
}

func RecordTransaction(seconds float64, success bool) {
	Register()
	label := "false"
	if success {
		label = "true"
	}
	transactions.WithLabelValues(label).Observe(seconds)
}
