package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	buildInfoOnce sync.Once

	// buildInfo is a constant 1 gauge labelled with version and commit.
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "secscan_build_info",
			Help: "SecScan API build information.",
		},
		[]string{"version", "commit"},
	)

	ready = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "secscan_ready",
		Help: "1 when the store answered the last readiness probe.",
	})
)

// InitBuildInfo registers build_info once and sets it.
func InitBuildInfo(version, commit string) {
	buildInfoOnce.Do(func() {
		prometheus.MustRegister(buildInfo, ready)
	})
	buildInfo.WithLabelValues(version, commit).Set(1)
}

// SetReady records the outcome of the latest readiness probe.
func SetReady(ok bool) {
	if ok {
		ready.Set(1)
		return
	}
	ready.Set(0)
}
