// Package metrics exposes Prometheus counters for decode and index
// observability. Data quality (skipped packets, unknown kinds, failed
// archives) stays visible without aborting large batch jobs.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// PacketsDecoded counts events successfully decoded, per archive.
	PacketsDecoded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "replaygym",
		Name:      "packets_decoded_total",
		Help:      "Events decoded from replay archives",
	}, []string{"archive"})

	// PacketsMalformed counts packets skipped in lenient mode.
	PacketsMalformed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "replaygym",
		Name:      "packets_malformed_total",
		Help:      "Malformed packets skipped during decode",
	}, []string{"archive"})

	// PacketsUnknown counts packets with tags outside the closed union,
	// per tag, for schema-drift auditing.
	PacketsUnknown = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "replaygym",
		Name:      "packets_unknown_total",
		Help:      "Packets with unrecognized kind tags",
	}, []string{"tag"})

	// MatchesLoaded counts matches loaded into a dataset.
	MatchesLoaded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "replaygym",
		Name:      "matches_loaded_total",
		Help:      "Matches loaded across all archives",
	})

	// ArchivesFailed counts archives skipped as unreadable.
	ArchivesFailed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "replaygym",
		Name:      "archives_failed_total",
		Help:      "Archives skipped due to read failures",
	})

	// CheckpointsWritten counts trajectory-index checkpoints recorded.
	CheckpointsWritten = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "replaygym",
		Name:      "index_checkpoints_total",
		Help:      "Checkpoints recorded during index builds",
	})
)

// Handler returns the Prometheus exposition handler, mounted by tools
// that serve a /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
