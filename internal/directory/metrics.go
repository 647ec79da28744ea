package directory

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	searchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "adsync",
		Subsystem: "directory",
		Name:      "searches_total",
		Help:      "Directory searches issued, by search mode.",
	}, []string{"mode"})

	pagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "adsync",
		Subsystem: "directory",
		Name:      "pages_total",
		Help:      "Pages fetched through the paged-results control.",
	})

	modifyTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "adsync",
		Subsystem: "directory",
		Name:      "modifications_total",
		Help:      "Directory mutation operations issued, by operation.",
	}, []string{"op"})

	bindFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "adsync",
		Subsystem: "directory",
		Name:      "bind_failures_total",
		Help:      "Failed service-account bind attempts.",
	})

	authAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "adsync",
		Subsystem: "directory",
		Name:      "auth_attempts_total",
		Help:      "End-user authentication attempts, by outcome.",
	}, []string{"status"})
)
