package registry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	uploadsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ipadepot_artifact_uploads_total",
		Help: "Artifact binaries accepted, counting both new uploads and replacements.",
	})
	downloadsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ipadepot_artifact_downloads_total",
		Help: "Binary downloads redirected to the blob store.",
	})
)
