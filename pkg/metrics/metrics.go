package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gastitch_build_info",
			Help: "Build information of the analytics downloader",
		},
		[]string{"version", "commit", "date"},
	)

	ReportRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gastitch_report_requests_total",
			Help: "Total number of report requests sent to the reporting API",
		},
		[]string{"batch", "status"},
	)

	ReportPagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gastitch_report_pages_total",
			Help: "Total number of report pages downloaded",
		},
		[]string{"batch"},
	)

	RowsFetchedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gastitch_rows_fetched_total",
			Help: "Total number of rows downloaded per batch",
		},
		[]string{"batch"},
	)

	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gastitch_fetch_duration_seconds",
			Help:    "Duration of full batch downloads including pagination",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 0.1s to ~410s (~6.8 minutes)
		},
		[]string{"batch"},
	)

	StitchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gastitch_stitch_duration_seconds",
			Help:    "Duration of the join phase",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 0.001s to ~4.1s
		},
	)

	JoinWarningsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gastitch_join_warnings_total",
			Help: "Total number of rows dropped or overwritten during the join",
		},
	)

	RowsEmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gastitch_rows_emitted_total",
			Help: "Total number of combined rows written to the output sink",
		},
		[]string{"sink"},
	)
)
