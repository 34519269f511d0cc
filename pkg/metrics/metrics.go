package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	OauthTokensMetric = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_oauth_tokens_total",
			Help: "A summary of the tokens acquired, refreshed or failed exchanges",
		},
		[]string{"action"},
	)
	OauthLatencyMetric = prometheus.NewSummaryVec(
		prometheus.SummaryOpts{
			Name: "relay_oauth_request_latency",
			Help: "A summary of the request latency for requests against the token endpoint, in seconds",
		},
		[]string{"action"},
	)
	DeliveryAttemptsMetric = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_delivery_attempts_total",
			Help: "The delivery attempts partitioned by attempt kind and response code",
		},
		[]string{"kind", "code"},
	)
	DeliveryLatencyMetric = prometheus.NewSummaryVec(
		prometheus.SummaryOpts{
			Name: "relay_delivery_latency",
			Help: "A summary of the latency of delivery attempts against the target endpoint, in seconds",
		},
		[]string{"kind"},
	)
	LatencyMetric = prometheus.NewSummary(
		prometheus.SummaryOpts{
			Name: "relay_request_duration",
			Help: "A summary of the http request latency for inbound requests, in seconds",
		},
	)
	StatusMetric = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_request_status_total",
			Help: "The HTTP requests partitioned by status code",
		},
		[]string{"code", "method"},
	)
)

// Collectors returns every collector of the service, for registration.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		OauthTokensMetric,
		OauthLatencyMetric,
		DeliveryAttemptsMetric,
		DeliveryLatencyMetric,
		LatencyMetric,
		StatusMetric,
	}
}
