package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(buildInfo) }

var buildInfo = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "license_server_build_info",
		Help: "Constant gauge carrying the server version and commit hash as labels.",
	},
	[]string{"version", "commit"},
)

// SetBuildInfo is called once at startup with the ldflags-injected values.
func SetBuildInfo(version, commit string) {
	buildInfo.WithLabelValues(version, commit).Set(1)
}
