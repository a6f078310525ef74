package obs

import (
	"runtime"
	"runtime/debug"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	buildInfoOnce sync.Once

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lexflow_build_info",
			Help: "Lexflow API build information.",
		},
		[]string{"version", "commit", "go_version"},
	)
)

// InitBuildInfo publishes lexflow_build_info for the running binary. An empty
// or "dev" commit is replaced by the VCS revision stamped by the toolchain.
func InitBuildInfo(version, commit string) {
	buildInfoOnce.Do(func() {
		prometheus.MustRegister(buildInfo)
	})
	buildInfo.WithLabelValues(version, resolveCommit(commit), runtime.Version()).Set(1)
}

func resolveCommit(commit string) string {
	if commit != "" && commit != "dev" {
		return commit
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" && s.Value != "" {
				if len(s.Value) > 12 {
					return s.Value[:12]
				}
				return s.Value
			}
		}
	}
	return "unknown"
}
